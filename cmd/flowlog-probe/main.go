package main

import (
	"bytes"
	"context"
	goflag "flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"Go2NetLog/internal/config"
	"Go2NetLog/internal/inventory"
	"Go2NetLog/internal/model"
	"Go2NetLog/internal/probe"
	"Go2NetLog/internal/probe/recordlog"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
)

var (
	configPath string

	rootCmd = &cobra.Command{
		Use:          "flowlog-probe",
		Short:        "Feed and inspect the flowlog record stream",
		SilenceUsage: true,
	}

	replayOpts    replayOptions
	inventoryFile string
	recordDir     string
	recordFormat  string
	reingestLog   string
	apiURL        string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "configuration file providing the NATS settings (defaults are used when empty)")
	klog.InitFlags(nil)
	rootCmd.PersistentFlags().AddGoFlagSet(goflag.CommandLine)

	replayCmd := &cobra.Command{
		Use:   "replay",
		Short: "Parse a pcap file into flow records and publish them",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd.Context())
		},
	}
	addReplayFlags(replayCmd.Flags(), &replayOpts)

	inventoryCmd := &cobra.Command{
		Use:   "inventory",
		Short: "Serve an owner list file on the inventory subject",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInventory(cmd.Context())
		},
	}
	inventoryCmd.Flags().StringVar(&inventoryFile, "file", "configs/owners.yaml", "yaml owner list to serve")

	subCmd := &cobra.Command{
		Use:   "sub",
		Short: "Print the published flow records, optionally logging them to disk",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubscriber(cmd.Context())
		},
	}
	subCmd.Flags().StringVar(&recordDir, "record-dir", "", "directory to write a record log to")
	subCmd.Flags().StringVar(&recordFormat, "record-format", "gob", "record log encoding: gob or text")

	reingestCmd := &cobra.Command{
		Use:   "reingest",
		Short: "Replace the daemon's aggregates with the records of a gob record log",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReingest(cmd.Context())
		},
	}
	reingestCmd.Flags().StringVar(&reingestLog, "log", "", "gob record log written by 'sub --record-dir'")
	reingestCmd.Flags().StringVar(&apiURL, "api", "http://127.0.0.1:8080", "base URL of the flowlog API")
	_ = reingestCmd.MarkFlagRequired("log")

	rootCmd.AddCommand(replayCmd, inventoryCmd, subCmd, reingestCmd)
}

func main() {
	defer klog.Flush()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		klog.Errorf("flowlog-probe: %v", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	if configPath == "" {
		return config.Default(), nil
	}
	return config.LoadConfig(configPath)
}

func runInventory(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// Fail early on an unreadable file; every request re-reads it.
	owners, err := inventory.LoadFile(inventoryFile)
	if err != nil {
		return err
	}

	responder, err := inventory.NewResponder(cfg.Probe.NATSURL, cfg.Inventory.Subject, inventory.NewFileInventory(inventoryFile))
	if err != nil {
		return err
	}
	defer responder.Close()
	klog.Infof("Serving %d owners from %s. Press Ctrl+C to stop.", len(owners), inventoryFile)

	<-ctx.Done()
	klog.Info("Shutdown signal received, cleaning up...")
	return nil
}

func runSubscriber(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var worker *recordlog.Worker
	if recordDir != "" {
		worker, err = recordlog.NewWorker(recordlog.Config{Path: recordDir, Encoding: recordFormat})
		if err != nil {
			return err
		}
	}

	sub, err := probe.NewSubscriber(cfg.Probe)
	if err != nil {
		return err
	}

	handler := func(rec model.FlowRecord) {
		klog.Infof("Received record: owner=%d in=%q out=%q %s:%d -> %s:%d len=%d",
			rec.OwnerID, rec.InInterface, rec.OutInterface, rec.SrcAddr, rec.SrcPort, rec.DstAddr, rec.DstPort, rec.Length)
		if worker != nil {
			worker.Enqueue(rec)
		}
	}
	if err := sub.Start(handler); err != nil {
		sub.Close()
		return err
	}

	<-ctx.Done()
	klog.Info("Shutdown signal received, cleaning up...")
	sub.Close()
	if worker != nil {
		if n := worker.Dropped(); n > 0 {
			klog.Warningf("Record log dropped %d records.", n)
		}
		return worker.Stop()
	}
	return nil
}

func runReingest(ctx context.Context) error {
	records, err := recordlog.ReadLog(reingestLog)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	url := strings.TrimRight(apiURL, "/") + "/api/v1/reingest"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(probe.MarshalBatch(records)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-protobuf")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("reingest request failed: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("reingest rejected with %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	klog.Infof("Reingested %d records from %s.", len(records), reingestLog)
	return nil
}
