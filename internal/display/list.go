package display

import (
	"Go2NetLog/internal/engine/ownerstore"
	"Go2NetLog/internal/filter"
)

// OwnerKey identifies an owner across refreshes. Grouped owners share an ID but not a package.
type OwnerKey struct {
	ID      int    `json:"id"`
	Package string `json:"package"`
}

// KeyOf returns the key of o.
func KeyOf(o *ownerstore.OwnerSnapshot) OwnerKey {
	return OwnerKey{ID: o.ID, Package: o.Package}
}

// List is the display list: the current filtered and sorted owners plus the passive
// UI state (scroll offset, expanded owners) that survives refreshes.
// It is only touched from the Executor goroutine.
type List struct {
	views      []filter.OwnerView
	generation uint64
	expanded   map[OwnerKey]bool
	scroll     int
}

// NewList creates an empty display list.
func NewList() *List {
	return &List{expanded: make(map[OwnerKey]bool)}
}

// Replace installs views taken from snap. Expand state is kept for every owner still
// registered in snap; the scroll offset is kept and clamped to the new length.
func (l *List) Replace(views []filter.OwnerView, snap *ownerstore.Snapshot) {
	l.views = views
	if snap != nil && snap.Generation != l.generation {
		l.generation = snap.Generation
		registered := make(map[OwnerKey]struct{}, len(snap.Owners))
		for _, o := range snap.Owners {
			registered[KeyOf(o)] = struct{}{}
		}
		for k := range l.expanded {
			if _, ok := registered[k]; !ok {
				delete(l.expanded, k)
			}
		}
	}
	l.scroll = l.clamp(l.scroll)
}

// Views returns the current entries in display order.
func (l *List) Views() []filter.OwnerView {
	return l.views
}

// Len returns the number of entries.
func (l *List) Len() int {
	return len(l.views)
}

// SetExpanded records whether the owner's peers are shown.
func (l *List) SetExpanded(key OwnerKey, expanded bool) {
	if expanded {
		l.expanded[key] = true
	} else {
		delete(l.expanded, key)
	}
}

// Expanded reports whether the owner's peers are shown.
func (l *List) Expanded(key OwnerKey) bool {
	return l.expanded[key]
}

// SetScroll moves the first visible entry to offset, clamped to the list.
func (l *List) SetScroll(offset int) {
	l.scroll = l.clamp(offset)
}

// Scroll returns the index of the first visible entry.
func (l *List) Scroll() int {
	return l.scroll
}

func (l *List) clamp(offset int) int {
	if offset >= len(l.views) {
		offset = len(l.views) - 1
	}
	if offset < 0 {
		offset = 0
	}
	return offset
}
