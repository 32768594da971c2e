package ownerstore

import (
	"cmp"
	"slices"
)

// Buffer is the canonical owner list, always sorted ascending by owner id.
// Owners sharing an id sit next to each other in inventory order.
//
// Every membership change bumps the generation, which invalidates the lookup cache.
type Buffer struct {
	owners     []*Owner
	generation uint64

	cacheIndex      int
	cacheGeneration uint64
}

// reset replaces the buffer content. owners must already be sorted by id.
func (b *Buffer) reset(owners []*Owner) {
	b.owners = owners
	b.generation++
	b.cacheIndex = -1
}

// Len returns the number of owner entries.
func (b *Buffer) Len() int {
	return len(b.owners)
}

// At returns the owner entry at index i.
func (b *Buffer) At(i int) *Owner {
	return b.owners[i]
}

// Generation returns the current membership generation.
func (b *Buffer) Generation() uint64 {
	return b.generation
}

// Lookup returns the index of the first entry with the given id, or -1 if there is none.
func (b *Buffer) Lookup(id int) int {
	index := -1
	if b.cacheGeneration == b.generation && b.cacheIndex >= 0 &&
		b.cacheIndex < len(b.owners) && b.owners[b.cacheIndex].ID == id {
		index = b.cacheIndex
	} else {
		i, found := slices.BinarySearchFunc(b.owners, id, func(o *Owner, target int) int {
			return cmp.Compare(o.ID, target)
		})
		if !found {
			b.cacheIndex = -1
			return -1
		}
		index = i
	}

	// Land on the first entry of a run of grouped owners.
	for index > 0 && b.owners[index-1].ID == id {
		index--
	}

	b.cacheIndex = index
	b.cacheGeneration = b.generation
	return index
}
