package main

import (
	"context"
	"fmt"
	"strconv"

	"Go2NetLog/internal/engine/protocol"
	"Go2NetLog/internal/model"
	"Go2NetLog/internal/probe"
	"Go2NetLog/pkg/pcap"

	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

type replayOptions struct {
	file         string
	iface        string
	localNets    []string
	portOwners   map[string]int
	defaultOwner int
	batchSize    int
}

func addReplayFlags(fs *flag.FlagSet, o *replayOptions) {
	fs.StringVar(&o.file, "pcap", "", "pcap file to replay")
	fs.StringVar(&o.iface, "iface", "wlan0", "interface name recorded on every flow")
	fs.StringSliceVar(&o.localNets, "local", []string{"10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16", "fc00::/7"}, "local networks; packets from them are outbound")
	fs.StringToIntVar(&o.portOwners, "port-owner", nil, "local port to owner id, e.g. 40000=10050")
	fs.IntVar(&o.defaultOwner, "default-owner", 0, "owner id of packets whose local port is not mapped")
	fs.IntVar(&o.batchSize, "batch", 100, "records per published message")
}

// parser builds the packet parser described by the options.
func (o *replayOptions) parser() (*protocol.Parser, error) {
	local, err := protocol.ParseLocalNets(o.localNets)
	if err != nil {
		return nil, err
	}
	owners := make(map[int]int, len(o.portOwners))
	for port, owner := range o.portOwners {
		p, err := strconv.Atoi(port)
		if err != nil || p <= 0 || p > 65535 {
			return nil, fmt.Errorf("invalid port %q in --port-owner", port)
		}
		owners[p] = owner
	}
	return &protocol.Parser{Interface: o.iface, Local: local, Owners: owners, DefaultOwner: o.defaultOwner}, nil
}

func runReplay(ctx context.Context) error {
	if replayOpts.file == "" {
		return fmt.Errorf("--pcap is required")
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	parser, err := replayOpts.parser()
	if err != nil {
		return err
	}

	reader, err := pcap.NewReader(replayOpts.file)
	if err != nil {
		return err
	}
	defer reader.Close()

	pub, err := probe.NewPublisher(cfg.Probe)
	if err != nil {
		return err
	}
	defer pub.Close()

	klog.Infof("Replaying %s to subject '%s'", replayOpts.file, cfg.Probe.Subject)
	records := make(chan model.FlowRecord, replayOpts.batchSize)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(records)
		_, err := reader.ReadRecords(ctx, parser, records)
		return err
	})

	var published int
	g.Go(func() error {
		var err error
		published, err = publishBatches(records, replayOpts.batchSize, func(batch []model.FlowRecord) error {
			return pub.Publish(batch...)
		})
		return err
	})

	if err := g.Wait(); err != nil {
		return err
	}
	klog.Infof("Replay finished, %d records published.", published)
	return nil
}

// publishBatches groups the records of in into batches of at most size and hands each
// to publish. It returns the number of records published.
func publishBatches(in <-chan model.FlowRecord, size int, publish func([]model.FlowRecord) error) (int, error) {
	if size <= 0 {
		size = 1
	}
	batch := make([]model.FlowRecord, 0, size)
	total := 0
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := publish(batch); err != nil {
			return fmt.Errorf("failed to publish %d records: %w", len(batch), err)
		}
		total += len(batch)
		if total%1000 < len(batch) {
			klog.V(2).Infof("%d records published...", total)
		}
		batch = batch[:0]
		return nil
	}

	for rec := range in {
		batch = append(batch, rec)
		if len(batch) == size {
			if err := flush(); err != nil {
				return total, err
			}
		}
	}
	return total, flush()
}
