package main

import (
	"flag"
	"log"
	"math/rand"
	"net"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// Local ports used by the generated applications. Map them to owners with
// flowlog-probe replay --port-owner 40001=10050,...
var localPorts = []layers.TCPPort{40001, 40002, 40003, 40004}

var remotes = []net.IP{
	{93, 184, 216, 34},
	{1, 1, 1, 1},
	{8, 8, 8, 8},
	{140, 82, 112, 3},
	{151, 101, 1, 69},
}

var remotePorts = []layers.TCPPort{443, 80, 853, 5228}

func main() {
	outputFile := flag.String("o", "apps.pcap", "Output pcap file path")
	packetCount := flag.Int("c", 1000, "Number of packets to generate")
	localIP := flag.String("local", "10.0.0.5", "Address of the capturing device")
	flag.Parse()

	local := net.ParseIP(*localIP).To4()
	if local == nil {
		log.Fatalf("Invalid IPv4 address %q", *localIP)
	}

	f, err := os.Create(*outputFile)
	if err != nil {
		log.Fatalf("Failed to create output file: %v", err)
	}
	defer f.Close()

	pcapWriter := pcapgo.NewWriter(f)
	if err := pcapWriter.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		log.Fatalf("Failed to write pcap header: %v", err)
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	start := time.Now()

	log.Printf("Generating %d packets into %s...", *packetCount, *outputFile)

	for i := 0; i < *packetCount; i++ {
		// Each application talks to a fixed subset of remotes.
		app := rng.Intn(len(localPorts))
		remote := remotes[(app+rng.Intn(2))%len(remotes)]
		remotePort := remotePorts[app%len(remotePorts)]
		outbound := rng.Intn(3) > 0

		srcIP, dstIP := local, remote
		srcPort, dstPort := localPorts[app], remotePort
		payloadSize := rng.Intn(200) + 40
		if !outbound {
			srcIP, dstIP = dstIP, srcIP
			srcPort, dstPort = dstPort, srcPort
			payloadSize = rng.Intn(1400) + 50
		}

		ethLayer := &layers.Ethernet{
			SrcMAC:       net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
			DstMAC:       net.HardwareAddr{0x00, 0x66, 0x77, 0x88, 0x99, 0xAA},
			EthernetType: layers.EthernetTypeIPv4,
		}
		ipLayer := &layers.IPv4{
			SrcIP:    srcIP,
			DstIP:    dstIP,
			Version:  4,
			TTL:      64,
			Protocol: layers.IPProtocolTCP,
		}
		tcpLayer := &layers.TCP{
			SrcPort: srcPort,
			DstPort: dstPort,
			Seq:     rng.Uint32(),
			Ack:     rng.Uint32(),
			ACK:     true,
			Window:  14600,
		}
		tcpLayer.SetNetworkLayerForChecksum(ipLayer)

		payload := make([]byte, payloadSize)
		rng.Read(payload)

		buf := gopacket.NewSerializeBuffer()
		opts := gopacket.SerializeOptions{
			ComputeChecksums: true,
			FixLengths:       true,
		}
		if err := gopacket.SerializeLayers(buf, opts, ethLayer, ipLayer, tcpLayer, gopacket.Payload(payload)); err != nil {
			log.Fatalf("Failed to serialize layers: %v", err)
		}

		ci := gopacket.CaptureInfo{
			Timestamp:     start.Add(time.Duration(i) * 10 * time.Millisecond),
			CaptureLength: len(buf.Bytes()),
			Length:        len(buf.Bytes()),
		}
		if err := pcapWriter.WritePacket(ci, buf.Bytes()); err != nil {
			log.Fatalf("Failed to write packet: %v", err)
		}
	}

	log.Printf("Successfully generated %d packets into %s.", *packetCount, *outputFile)
}
