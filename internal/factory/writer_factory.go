package factory

import (
	"fmt"
	"sort"
	"time"

	"Go2NetLog/internal/config"
	"Go2NetLog/internal/model"

	"k8s.io/klog/v2"
)

// WriterFactory creates a writer from its configuration block.
type WriterFactory func(def config.WriterDef, interval time.Duration) (model.Writer, error)

// registry holds the mapping of writer types to their factory functions.
var registry = make(map[string]WriterFactory)

// RegisterWriter registers a new writer type with its factory function.
func RegisterWriter(name string, factory WriterFactory) {
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("writer type '%s' already registered", name))
	}
	registry[name] = factory
}

// Registered returns the known writer types in alphabetical order.
func Registered() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Create builds every enabled writer of the config. On error the writers created so far are closed.
func Create(cfg *config.Config) ([]model.Writer, error) {
	var writers []model.Writer

	for i, def := range cfg.Export.Writers {
		if !def.Enabled {
			continue
		}
		klog.Infof("Creating writer %d of type '%s'", i, def.Type)

		factory, ok := registry[def.Type]
		if !ok {
			closeAll(writers)
			return nil, fmt.Errorf("unknown writer type: '%s'", def.Type)
		}

		interval, err := def.GetInterval()
		if err != nil {
			closeAll(writers)
			return nil, fmt.Errorf("error creating writer type '%s': %w", def.Type, err)
		}

		w, err := factory(def, interval)
		if err != nil {
			closeAll(writers)
			return nil, fmt.Errorf("error creating writer type '%s': %w", def.Type, err)
		}
		writers = append(writers, w)
	}

	return writers, nil
}

func closeAll(writers []model.Writer) {
	for _, w := range writers {
		if err := w.Close(); err != nil {
			klog.Warningf("Failed to close writer %s: %v", w.Name(), err)
		}
	}
}
