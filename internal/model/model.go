package model

import "strconv"

// OwnerDescriptor identifies one tracked application as reported by the inventory feed.
// Several descriptors may share an ID when applications are grouped under one uid.
type OwnerDescriptor struct {
	ID      int    `yaml:"id" json:"id"`
	Name    string `yaml:"name" json:"name"`
	Package string `yaml:"package" json:"package"`
}

// FlowRecord is one observed traffic event attributed to an owner.
// An empty interface name means there is no data for that direction.
type FlowRecord struct {
	OwnerID      int
	InInterface  string
	OutInterface string
	SrcAddr      string
	SrcPort      int
	DstAddr      string
	DstPort      int
	Length       int
	Timestamp    int64
}

// Sample is a single (timestamp, length) point of a traffic time series.
type Sample struct {
	Timestamp int64 `json:"timestamp"`
	Length    int   `json:"length"`
}

// PeerKey composes the "address:port" key under which a peer is stored.
func PeerKey(addr string, port int) string {
	return addr + ":" + strconv.Itoa(port)
}
