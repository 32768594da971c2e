package pcap

import (
	"context"
	"fmt"
	"io"
	"os"

	"Go2NetLog/internal/engine/protocol"
	"Go2NetLog/internal/model"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcapgo"
	"k8s.io/klog/v2"
)

// Reader reads packets from a pcap file.
type Reader struct {
	file   *os.File
	source *gopacket.PacketSource
}

// NewReader creates a new pcap reader for the given file path.
func NewReader(filePath string) (*Reader, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open pcap file: %w", err)
	}
	r, err := pcapgo.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read pcap header: %w", err)
	}
	return &Reader{file: f, source: gopacket.NewPacketSource(r, r.LinkType())}, nil
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	return r.file.Close()
}

// ReadRecords parses every packet with parser and sends the records to out.
// Packets the parser rejects are skipped. It returns the number of records sent.
func (r *Reader) ReadRecords(ctx context.Context, parser *protocol.Parser, out chan<- model.FlowRecord) (int, error) {
	sent := 0
	for {
		packet, err := r.source.NextPacket()
		if err == io.EOF {
			return sent, nil
		}
		if err != nil {
			return sent, fmt.Errorf("failed to read packet: %w", err)
		}

		rec, err := parser.Parse(packet)
		if err != nil {
			klog.V(4).Infof("Skipping packet: %v", err)
			continue
		}

		select {
		case out <- *rec:
			sent++
		case <-ctx.Done():
			return sent, ctx.Err()
		}
	}
}
