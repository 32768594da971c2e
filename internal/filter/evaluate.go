package filter

import (
	"strconv"
	"strings"

	"Go2NetLog/internal/engine/ownerstore"
	"Go2NetLog/internal/model"
)

// OwnerView is one entry of a filter result: an owner and its visible peers, sorted by key.
type OwnerView struct {
	Owner *ownerstore.OwnerSnapshot
	Peers []*ownerstore.PeerSnapshot
}

// Evaluator runs queries against snapshots. It never mutates the snapshot.
type Evaluator struct {
	resolver model.Resolver
}

// NewEvaluator creates an evaluator. resolver may be nil, in which case only raw values match.
func NewEvaluator(resolver model.Resolver) *Evaluator {
	return &Evaluator{resolver: resolver}
}

// Evaluate returns the owners of snap selected by q, in canonical buffer order.
func (e *Evaluator) Evaluate(snap *ownerstore.Snapshot, q Query) []OwnerView {
	if snap == nil {
		return nil
	}
	q = q.normalized()

	var views []OwnerView
	switch {
	case len(q.Include) == 0:
		// Also covers the empty query: every owner with every peer.
		views = make([]OwnerView, len(snap.Owners))
		for i, o := range snap.Owners {
			views[i] = OwnerView{Owner: o, Peers: o.Peers}
		}
	case !q.IncludeFields.Any():
		return []OwnerView{}
	default:
		views = e.include(snap, q)
	}

	if len(q.Exclude) > 0 {
		views = e.exclude(views, q)
	}
	return views
}

func (e *Evaluator) include(snap *ownerstore.Snapshot, q Query) []OwnerView {
	views := make([]OwnerView, 0)
	for _, o := range snap.Owners {
		if ownerMatches(o, q.Include, q.IncludeFields) {
			views = append(views, OwnerView{Owner: o, Peers: o.Peers})
			continue
		}
		if !q.IncludeFields.peerLevel() {
			continue
		}

		var peers []*ownerstore.PeerSnapshot
		for _, p := range o.Peers {
			if e.peerMatches(p, q.Include, q.IncludeFields, q) {
				peers = append(peers, p)
			}
		}
		if len(peers) > 0 {
			views = append(views, OwnerView{Owner: o, Peers: peers})
		}
	}
	return views
}

func (e *Evaluator) exclude(views []OwnerView, q Query) []OwnerView {
	out := make([]OwnerView, 0, len(views))
	for _, v := range views {
		if ownerMatches(v.Owner, q.Exclude, q.ExcludeFields) {
			continue
		}
		if !q.ExcludeFields.peerLevel() {
			out = append(out, v)
			continue
		}

		removed := false
		peers := make([]*ownerstore.PeerSnapshot, 0, len(v.Peers))
		for _, p := range v.Peers {
			if e.peerMatches(p, q.Exclude, q.ExcludeFields, q) {
				removed = true
				continue
			}
			peers = append(peers, p)
		}
		if removed && len(peers) == 0 {
			continue
		}
		if removed {
			v.Peers = peers
		}
		out = append(out, v)
	}
	return out
}

func ownerMatches(o *ownerstore.OwnerSnapshot, terms []string, fields FieldSet) bool {
	for _, t := range terms {
		if fields.Name && strings.Contains(o.NameLower, t) {
			return true
		}
		if fields.ID && o.IDString == t {
			return true
		}
	}
	return false
}

// peerMatches tests the sent and received sides of p. A side only takes part if it saw packets.
func (e *Evaluator) peerMatches(p *ownerstore.PeerSnapshot, terms []string, fields FieldSet, q Query) bool {
	sides := [2]*ownerstore.Endpoint{&p.Sent, &p.Received}
	for _, side := range sides {
		if side.Packets <= 0 {
			continue
		}

		addr := strings.ToLower(side.Address)
		port := strconv.Itoa(side.Port)
		var addrResolved, portResolved string
		if e.resolver != nil {
			if q.ResolveHosts && fields.Address {
				addrResolved = strings.ToLower(e.resolver.ResolveAddress(side.Address))
			}
			if q.ResolvePorts && fields.Port {
				portResolved = strings.ToLower(e.resolver.ResolveService(side.Port))
			}
		}

		for _, t := range terms {
			if fields.Address && (strings.Contains(addr, t) || (addrResolved != "" && strings.Contains(addrResolved, t))) {
				return true
			}
			if fields.Port && (port == t || (portResolved != "" && portResolved == t)) {
				return true
			}
		}
	}
	return false
}

// HostString renders the address:port a peer is displayed under. The sent side is used
// when it saw packets, the received side otherwise; names are resolved when q asks for it.
func HostString(p *ownerstore.PeerSnapshot, resolver model.Resolver, q Query) string {
	side := &p.Received
	if p.Sent.Packets > 0 {
		side = &p.Sent
	}

	addr := side.Address
	port := strconv.Itoa(side.Port)
	if resolver != nil {
		if q.ResolveHosts {
			if name := resolver.ResolveAddress(side.Address); name != "" {
				addr = name
			}
		}
		if q.ResolvePorts {
			if name := resolver.ResolveService(side.Port); name != "" {
				port = name
			}
		}
	}
	return addr + ":" + port
}
