package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"Go2NetLog/internal/export"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run ./scripts/gobana/main.go <snapshot_dir | samples.parquet>")
		os.Exit(1)
	}
	path := os.Args[1]

	if filepath.Ext(path) == ".parquet" {
		rows, err := export.ReadSamples(path)
		if err != nil {
			log.Fatalf("Failed to read samples: %v", err)
		}
		fmt.Printf("%d samples:\n", len(rows))
		for _, r := range rows {
			fmt.Printf("%6d %-28s %-24s %14d %6d\n", r.OwnerID, r.Package, r.Peer, r.TimestampMs, r.Length)
		}
		return
	}

	owners, err := export.ReadOwners(path)
	if err != nil {
		log.Fatalf("Failed to decode owners: %v", err)
	}

	fmt.Println("Decoded owners:")
	for _, o := range owners {
		fmt.Printf("%6d %-28s %10d pkts %12d bytes  p50=%.0f p95=%.0f\n", o.ID, o.Name, o.Packets, o.Bytes, o.SizeP50, o.SizeP95)
		for _, p := range o.Peers {
			fmt.Printf("         %-40s sent %d/%d recv %d/%d\n", p.Key, p.Sent.Packets, p.Sent.Bytes, p.Received.Packets, p.Received.Bytes)
		}
	}
}
