// Package resolver maps addresses and ports to names from static tables.
package resolver

import (
	"strings"

	"Go2NetLog/internal/config"
)

// Static resolves from the host and service tables of the configuration.
type Static struct {
	hosts    map[string]string
	services map[int]string
}

// NewStatic copies the tables of cfg. Host keys are matched case-insensitively.
func NewStatic(cfg config.ResolverConfig) *Static {
	s := &Static{
		hosts:    make(map[string]string, len(cfg.Hosts)),
		services: make(map[int]string, len(cfg.Services)),
	}
	for addr, name := range cfg.Hosts {
		s.hosts[strings.ToLower(addr)] = name
	}
	for port, name := range cfg.Services {
		s.services[port] = name
	}
	return s
}

// ResolveAddress implements model.Resolver.
func (s *Static) ResolveAddress(addr string) string {
	return s.hosts[strings.ToLower(addr)]
}

// ResolveService implements model.Resolver.
func (s *Static) ResolveService(port int) string {
	return s.services[port]
}
