package filter

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
)

// SortKey selects the field owners are ordered by.
type SortKey int

const (
	SortByID SortKey = iota
	SortByName
	SortByPackets
	SortByBytes
	SortByTimestamp
)

type sortSpec struct {
	name    string
	compare func(a, b OwnerView) int
}

// Numeric counters sort descending, name and id ascending.
var sortTable = [...]sortSpec{
	SortByID: {"id", func(a, b OwnerView) int {
		return cmp.Compare(a.Owner.ID, b.Owner.ID)
	}},
	SortByName: {"name", func(a, b OwnerView) int {
		return strings.Compare(a.Owner.NameLower, b.Owner.NameLower)
	}},
	SortByPackets: {"packets", func(a, b OwnerView) int {
		return cmp.Compare(b.Owner.Packets, a.Owner.Packets)
	}},
	SortByBytes: {"bytes", func(a, b OwnerView) int {
		return cmp.Compare(b.Owner.Bytes, a.Owner.Bytes)
	}},
	SortByTimestamp: {"timestamp", func(a, b OwnerView) int {
		return cmp.Compare(b.Owner.LastTimestamp, a.Owner.LastTimestamp)
	}},
}

func (k SortKey) valid() bool {
	return k >= 0 && int(k) < len(sortTable)
}

func (k SortKey) String() string {
	if !k.valid() {
		return fmt.Sprintf("SortKey(%d)", int(k))
	}
	return sortTable[k].name
}

// ParseSortKey maps a configuration name such as "bytes" to its SortKey.
func ParseSortKey(s string) (SortKey, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, spec := range sortTable {
		if spec.name == s {
			return SortKey(k), nil
		}
	}
	return 0, fmt.Errorf("unknown sort key %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (k SortKey) MarshalText() ([]byte, error) {
	if !k.valid() {
		return nil, fmt.Errorf("invalid sort key %d", int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *SortKey) UnmarshalText(b []byte) error {
	parsed, err := ParseSortKey(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Sort orders views in place. The pre key is applied first and both passes are stable,
// so pre breaks ties left by primary.
func Sort(views []OwnerView, pre, primary SortKey) {
	if pre.valid() {
		slices.SortStableFunc(views, sortTable[pre].compare)
	}
	if primary.valid() {
		slices.SortStableFunc(views, sortTable[primary].compare)
	}
}
