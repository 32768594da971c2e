package ownerstore

import (
	"slices"
	"strconv"
	"strings"

	"Go2NetLog/internal/model"

	"github.com/DataDog/sketches-go/ddsketch"
	"k8s.io/klog/v2"
)

// Endpoint holds the counters of one traffic direction of a peer.
type Endpoint struct {
	Packets   int64  `json:"packets"`
	Bytes     int64  `json:"bytes"`
	Timestamp int64  `json:"timestamp"`
	Port      int    `json:"port"`
	Address   string `json:"address"`
	Interface string `json:"interface"`
}

func (e *Endpoint) add(addr string, port int, iface string, sample model.Sample) {
	e.Packets++
	e.Bytes += int64(sample.Length)
	e.Timestamp = sample.Timestamp
	e.Address = addr
	e.Port = port
	e.Interface = iface
}

// Peer is a remote endpoint observed in traffic to or from an owner.
type Peer struct {
	Key      string
	Sent     Endpoint
	Received Endpoint

	samples []model.Sample
}

// Owner is the aggregate record of one tracked application inside the canonical buffer.
// It is only ever touched by the goroutine that owns the Store.
type Owner struct {
	ID        int
	IDString  string
	Name      string
	NameLower string
	Package   string
	Icon      *model.IconHandle

	Packets       int64
	Bytes         int64
	LastTimestamp int64

	peers       map[string]*Peer
	peerKeys    []string
	needsResort bool
	dirty       bool

	samples []model.Sample
	sizes   *ddsketch.DDSketch

	cached *OwnerSnapshot
}

func newOwner(desc model.OwnerDescriptor, icon *model.IconHandle, accuracy float64) *Owner {
	o := &Owner{
		ID:        desc.ID,
		IDString:  strconv.Itoa(desc.ID),
		Name:      desc.Name,
		NameLower: strings.ToLower(desc.Name),
		Package:   desc.Package,
		Icon:      icon,
		peers:     make(map[string]*Peer),
		dirty:     true,
	}
	o.sizes = newSizeSketch(accuracy)
	return o
}

func newSizeSketch(accuracy float64) *ddsketch.DDSketch {
	sketch, err := ddsketch.NewDefaultDDSketch(accuracy)
	if err != nil {
		klog.Warningf("Invalid packet size sketch accuracy %v, quantiles disabled: %v", accuracy, err)
		return nil
	}
	return sketch
}

// record applies one flow sample to the owner totals.
func (o *Owner) record(sample model.Sample) {
	o.Packets++
	o.Bytes += int64(sample.Length)
	o.LastTimestamp = sample.Timestamp
	o.samples = append(o.samples, sample)
	if o.sizes != nil {
		// Zero-length records carry no size information; the sketch rejects them anyway.
		if sample.Length > 0 {
			_ = o.sizes.Add(float64(sample.Length))
		}
	}
	o.dirty = true
}

// peer returns the peer stored under key, creating it on first reference.
func (o *Owner) peer(key string) *Peer {
	p, ok := o.peers[key]
	if !ok {
		p = &Peer{Key: key}
		o.peers[key] = p
		o.needsResort = true
	}
	o.dirty = true
	return p
}

// reset drops every aggregate of the owner but keeps its identity.
// Fresh slices are allocated so snapshots taken earlier keep their data.
func (o *Owner) reset(accuracy float64) {
	o.Packets = 0
	o.Bytes = 0
	o.LastTimestamp = 0
	o.peers = make(map[string]*Peer)
	o.peerKeys = nil
	o.needsResort = false
	o.samples = nil
	o.sizes = newSizeSketch(accuracy)
	o.cached = nil
	o.dirty = true
}

// sortedPeerKeys returns the peer keys in lexicographic order, resorting only when needed.
func (o *Owner) sortedPeerKeys() []string {
	if o.needsResort || len(o.peerKeys) != len(o.peers) {
		keys := make([]string, 0, len(o.peers))
		for k := range o.peers {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		o.peerKeys = keys
		o.needsResort = false
	}
	return o.peerKeys
}
