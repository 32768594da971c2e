package display

import (
	"context"
	"fmt"
	"time"

	"Go2NetLog/internal/engine/ownerstore"
	"Go2NetLog/internal/filter"
	"Go2NetLog/internal/metrics"
	"Go2NetLog/internal/model"

	"k8s.io/klog/v2"
)

// SnapshotSource provides the engine snapshots the display is built from.
type SnapshotSource interface {
	Snapshot(ctx context.Context) (*ownerstore.Snapshot, error)
}

// Options configures a Presenter.
type Options struct {
	Query     filter.Query
	PreSortBy filter.SortKey
	SortBy    filter.SortKey
	// SnapshotTimeout bounds how long a refresh waits for the engine.
	SnapshotTimeout time.Duration
}

// Presenter turns snapshots into frames. All of its state lives on the Executor:
// Refresh must run there, every other method hops onto it.
type Presenter struct {
	executor  *Executor
	source    SnapshotSource
	evaluator *filter.Evaluator
	resolver  model.Resolver
	renderer  Renderer
	metrics   *metrics.Collector
	timeout   time.Duration

	list    *List
	query   filter.Query
	pre     filter.SortKey
	primary filter.SortKey
	snap    *ownerstore.Snapshot
	frame   Frame
}

// NewPresenter creates a presenter. resolver and renderer may be nil.
func NewPresenter(executor *Executor, source SnapshotSource, resolver model.Resolver, renderer Renderer, collector *metrics.Collector, opts Options) *Presenter {
	if opts.SnapshotTimeout <= 0 {
		opts.SnapshotTimeout = 5 * time.Second
	}
	return &Presenter{
		executor:  executor,
		source:    source,
		evaluator: filter.NewEvaluator(resolver),
		resolver:  resolver,
		renderer:  renderer,
		metrics:   collector,
		timeout:   opts.SnapshotTimeout,
		list:      NewList(),
		query:     opts.Query,
		pre:       opts.PreSortBy,
		primary:   opts.SortBy,
	}
}

// Refresh takes a snapshot, evaluates the active query, sorts, replaces the display
// list and renders. It is the job posted by the refresh scheduler.
func (p *Presenter) Refresh() {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	snap, err := p.source.Snapshot(ctx)
	if err != nil {
		klog.Warningf("Refresh skipped, no snapshot: %v", err)
		return
	}
	p.snap = snap
	p.apply()
}

// apply re-evaluates the current snapshot without taking a new one.
func (p *Presenter) apply() {
	views := p.evaluator.Evaluate(p.snap, p.query)
	filter.Sort(views, p.pre, p.primary)
	p.list.Replace(views, p.snap)
	p.render()
}

func (p *Presenter) render() {
	f := Frame{
		Version:   p.frame.Version + 1,
		Query:     p.query,
		PreSortBy: p.pre,
		SortBy:    p.primary,
		Scroll:    p.list.Scroll(),
		Rows:      make([]Row, 0, p.list.Len()),
	}
	if p.snap != nil {
		f.SnapshotVersion = p.snap.Version
		f.Generation = p.snap.Generation
	}

	for _, v := range p.list.Views() {
		key := KeyOf(v.Owner)
		row := Row{
			Key:      key,
			Owner:    v.Owner,
			Expanded: p.list.Expanded(key),
			Peers:    make([]PeerRow, len(v.Peers)),
		}
		for i, peer := range v.Peers {
			row.Peers[i] = PeerRow{
				Host:     filter.HostString(peer, p.resolver, p.query),
				Key:      peer.Key,
				Sent:     peer.Sent,
				Received: peer.Received,
			}
		}
		f.Rows = append(f.Rows, row)
	}
	p.frame = f

	if p.renderer != nil {
		if err := p.renderer.Render(f); err != nil {
			klog.Errorf("Failed to render frame %d: %v", f.Version, err)
			return
		}
	}
	p.metrics.RefreshRendered()
}

// SetQuery replaces the active query and refreshes.
func (p *Presenter) SetQuery(ctx context.Context, q filter.Query) error {
	return p.executor.Call(ctx, func() {
		p.query = q
		p.Refresh()
	})
}

// SetSort changes the pre-sort and primary sort keys and re-sorts the current snapshot.
func (p *Presenter) SetSort(ctx context.Context, pre, primary filter.SortKey) error {
	return p.executor.Call(ctx, func() {
		p.pre, p.primary = pre, primary
		p.apply()
	})
}

// SetExpanded shows or hides the peers of one owner.
func (p *Presenter) SetExpanded(ctx context.Context, key OwnerKey, expanded bool) error {
	return p.executor.Call(ctx, func() {
		p.list.SetExpanded(key, expanded)
		p.render()
	})
}

// SetScroll moves the display list scroll offset.
func (p *Presenter) SetScroll(ctx context.Context, offset int) error {
	if offset < 0 {
		return fmt.Errorf("invalid scroll offset %d", offset)
	}
	return p.executor.Call(ctx, func() {
		p.list.SetScroll(offset)
		p.render()
	})
}

// Frame returns the most recently rendered frame.
func (p *Presenter) Frame(ctx context.Context) (Frame, error) {
	var f Frame
	if err := p.executor.Call(ctx, func() { f = p.frame }); err != nil {
		return Frame{}, err
	}
	return f, nil
}

// Query returns the active query.
func (p *Presenter) Query(ctx context.Context) (filter.Query, error) {
	var q filter.Query
	if err := p.executor.Call(ctx, func() { q = p.query }); err != nil {
		return filter.Query{}, err
	}
	return q, nil
}
