package model

import "sync"

// IconLoader fetches the icon for an application package.
type IconLoader interface {
	LoadIcon(pkg string) ([]byte, error)
}

// IconHandle is a lazily loaded icon shared by every copy of an owner.
type IconHandle struct {
	Package string

	once sync.Once
	data []byte
	err  error
}

// NewIconHandle returns an unloaded handle for pkg.
func NewIconHandle(pkg string) *IconHandle {
	return &IconHandle{Package: pkg}
}

// Load fetches the icon on first use and returns the cached result afterwards.
func (h *IconHandle) Load(loader IconLoader) ([]byte, error) {
	if h == nil || loader == nil {
		return nil, nil
	}
	h.once.Do(func() {
		h.data, h.err = loader.LoadIcon(h.Package)
	})
	return h.data, h.err
}
