package model

// Resolver turns raw addresses and ports into display names.
// An empty result means the value could not be resolved.
type Resolver interface {
	ResolveAddress(addr string) string
	ResolveService(port int) string
}
