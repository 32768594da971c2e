package display

import (
	"fmt"
	"strings"

	"Go2NetLog/internal/engine/ownerstore"
	"Go2NetLog/internal/filter"

	"k8s.io/klog/v2"
)

// PeerRow is one visible peer of an owner.
type PeerRow struct {
	Host     string              `json:"host"`
	Key      string              `json:"key"`
	Sent     ownerstore.Endpoint `json:"sent"`
	Received ownerstore.Endpoint `json:"received"`
}

// Row is one owner of a frame.
type Row struct {
	Key      OwnerKey                  `json:"key"`
	Owner    *ownerstore.OwnerSnapshot `json:"owner"`
	Expanded bool                      `json:"expanded"`
	Peers    []PeerRow                 `json:"peers"`
}

// Frame is everything a presentation layer needs to draw the display list once.
type Frame struct {
	Version         uint64         `json:"version"`
	SnapshotVersion uint64         `json:"snapshot_version"`
	Generation      uint64         `json:"generation"`
	Query           filter.Query   `json:"query"`
	PreSortBy       filter.SortKey `json:"pre_sort_by"`
	SortBy          filter.SortKey `json:"sort_by"`
	Scroll          int            `json:"scroll"`
	Rows            []Row          `json:"rows"`
}

// Renderer draws frames. Render is always called from the Executor goroutine.
type Renderer interface {
	Render(f Frame) error
}

// LogRenderer writes a text table of each frame to the log at verbosity 2.
type LogRenderer struct{}

// Render implements Renderer.
func (LogRenderer) Render(f Frame) error {
	if !klog.V(2).Enabled() {
		return nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "frame %d: %d owners, sorted by %s then %s, scroll %d\n", f.Version, len(f.Rows), f.SortBy, f.PreSortBy, f.Scroll)
	for _, r := range f.Rows {
		fmt.Fprintf(&b, "  %6d %-32s %10d pkts %12d bytes\n", r.Owner.ID, r.Owner.Name, r.Owner.Packets, r.Owner.Bytes)
		if !r.Expanded {
			continue
		}
		for _, p := range r.Peers {
			fmt.Fprintf(&b, "         %-40s sent %d/%d recv %d/%d\n", p.Host, p.Sent.Packets, p.Sent.Bytes, p.Received.Packets, p.Received.Bytes)
		}
	}
	klog.V(2).Info(b.String())
	return nil
}
