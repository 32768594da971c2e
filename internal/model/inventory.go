package model

import "context"

// Inventory supplies the complete list of owners to track.
// Every call returns the full list; it replaces whatever was tracked before.
type Inventory interface {
	Owners(ctx context.Context) ([]OwnerDescriptor, error)
}
