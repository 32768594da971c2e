package protocol

import (
	"errors"
	"fmt"
	"net"

	"Go2NetLog/internal/model"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// ErrUnsupported is returned for packets that carry no IP transport flow.
var ErrUnsupported = errors.New("unsupported packet")

// Parser turns captured packets into flow records attributed to owners.
//
// A packet whose source address is local is outbound and tagged with Interface as
// its out interface; every other packet is inbound. The owner is looked up by the
// local port in Owners, falling back to DefaultOwner.
type Parser struct {
	Interface    string
	Local        []*net.IPNet
	Owners       map[int]int
	DefaultOwner int
}

// ParseLocalNets parses CIDR strings such as "10.0.0.0/8".
func ParseLocalNets(cidrs []string) ([]*net.IPNet, error) {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			return nil, fmt.Errorf("invalid local network %q: %w", c, err)
		}
		nets = append(nets, n)
	}
	return nets, nil
}

// ParsePacket uses gopacket to decode a raw ethernet frame.
func (p *Parser) ParsePacket(data []byte) (*model.FlowRecord, error) {
	return p.Parse(gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.Default))
}

// Parse extracts the flow record of a decoded packet.
func (p *Parser) Parse(packet gopacket.Packet) (*model.FlowRecord, error) {
	var srcIP, dstIP net.IP
	if l := packet.Layer(layers.LayerTypeIPv4); l != nil {
		ip := l.(*layers.IPv4)
		srcIP, dstIP = ip.SrcIP, ip.DstIP
	} else if l := packet.Layer(layers.LayerTypeIPv6); l != nil {
		ip := l.(*layers.IPv6)
		srcIP, dstIP = ip.SrcIP, ip.DstIP
	} else {
		return nil, fmt.Errorf("%w: no IP layer", ErrUnsupported)
	}

	var srcPort, dstPort int
	if l := packet.Layer(layers.LayerTypeTCP); l != nil {
		tcp := l.(*layers.TCP)
		srcPort, dstPort = int(tcp.SrcPort), int(tcp.DstPort)
	} else if l := packet.Layer(layers.LayerTypeUDP); l != nil {
		udp := l.(*layers.UDP)
		srcPort, dstPort = int(udp.SrcPort), int(udp.DstPort)
	} else {
		return nil, fmt.Errorf("%w: not a TCP or UDP packet", ErrUnsupported)
	}

	rec := &model.FlowRecord{
		SrcAddr: srcIP.String(),
		SrcPort: srcPort,
		DstAddr: dstIP.String(),
		DstPort: dstPort,
		Length:  len(packet.Data()),
	}
	if meta := packet.Metadata(); meta != nil {
		if !meta.Timestamp.IsZero() {
			rec.Timestamp = meta.Timestamp.UnixMilli()
		}
		if meta.Length > 0 {
			rec.Length = meta.Length
		}
	}

	localPort := dstPort
	if p.isLocal(srcIP) {
		rec.OutInterface = p.Interface
		localPort = srcPort
	} else {
		rec.InInterface = p.Interface
	}

	rec.OwnerID = p.DefaultOwner
	if id, ok := p.Owners[localPort]; ok {
		rec.OwnerID = id
	}
	return rec, nil
}

func (p *Parser) isLocal(ip net.IP) bool {
	for _, n := range p.Local {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
