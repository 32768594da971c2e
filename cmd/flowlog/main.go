package main

import (
	"context"
	"errors"
	goflag "flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"Go2NetLog/internal/api"
	"Go2NetLog/internal/config"
	"Go2NetLog/internal/display"
	"Go2NetLog/internal/engine/manager"
	"Go2NetLog/internal/engine/refresh"
	_ "Go2NetLog/internal/export"
	"Go2NetLog/internal/inventory"
	"Go2NetLog/internal/metrics"
	"Go2NetLog/internal/model"
	"Go2NetLog/internal/probe"
	"Go2NetLog/internal/query"
	"Go2NetLog/internal/resolver"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"k8s.io/klog/v2"
)

const shutdownTimeout = 5 * time.Second

var (
	configPath string
	subscribe  bool

	rootCmd = &cobra.Command{
		Use:          "flowlog",
		Short:        "Per-application network traffic log",
		Long:         "flowlog aggregates flow records per owning application and serves the filtered, sorted display list over HTTP.",
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return run()
	}
	addFlags(rootCmd.Flags())
	klog.InitFlags(nil)
	rootCmd.PersistentFlags().AddGoFlagSet(goflag.CommandLine)
}

func addFlags(fs *flag.FlagSet) {
	fs.StringVar(&configPath, "config", "configs/config.yaml", "path to the configuration file")
	fs.BoolVar(&subscribe, "subscribe", true, "ingest flow records published on the probe subject")
}

func main() {
	defer klog.Flush()
	if err := rootCmd.Execute(); err != nil {
		klog.Errorf("flowlog: %v", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file, or uses the defaults when the default path does not exist.
func loadConfig() (*config.Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) && !rootCmd.Flags().Changed("config") {
		klog.Warningf("No configuration at %s, using defaults.", configPath)
		return config.Default(), nil
	}
	return config.LoadConfig(configPath)
}

func run() error {
	klog.Info("Starting flowlog...")

	// 1. Load configuration
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	opts, err := presenterOptions(cfg)
	if err != nil {
		return err
	}
	refreshInterval, err := cfg.RefreshInterval()
	if err != nil {
		return err
	}
	klog.Info("Configuration loaded successfully.")

	// 2. Engine
	collector := metrics.NewCollector()
	inv, err := inventory.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create inventory: %w", err)
	}
	mgr, err := manager.NewManager(cfg, inv, collector)
	if err != nil {
		return fmt.Errorf("failed to create manager: %w", err)
	}
	mgr.Start()
	defer mgr.Stop()

	rebuildCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := mgr.Rebuild(rebuildCtx); err != nil {
		klog.Warningf("Initial owner registry rebuild failed, will retry: %v", err)
	}
	cancel()

	// 3. Display
	executor := display.NewExecutor()
	executor.Start()
	defer executor.Stop()

	presenter := display.NewPresenter(executor, mgr, resolver.NewStatic(cfg.Resolver), display.LogRenderer{}, collector, opts)
	scheduler := refresh.NewScheduler(refreshInterval, mgr, executor, presenter.Refresh, collector)
	scheduler.Start()
	defer scheduler.Stop()
	mgr.MarkDirty()

	// 4. Flow record input
	if subscribe {
		sub, err := probe.NewSubscriber(cfg.Probe)
		if err != nil {
			return err
		}
		defer sub.Close()
		if err := sub.Start(func(rec model.FlowRecord) { mgr.Ingest(rec) }); err != nil {
			return err
		}
	}

	// 5. Servers
	var querier query.Querier
	if chCfg := clickHouseConfig(cfg); chCfg != nil {
		querier, err = query.NewClickHouseQuerier(*chCfg)
		if err != nil {
			klog.Warningf("History queries disabled: %v", err)
			querier = nil
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	apiServer := &http.Server{Addr: cfg.API.ListenAddr, Handler: api.NewServer(mgr, presenter, querier)}
	serveHTTP(ctx, g, "API", apiServer)

	if cfg.Metrics.Enabled {
		r := mux.NewRouter()
		r.Handle(cfg.Metrics.Path, collector.Handler())
		serveHTTP(ctx, g, "metrics", &http.Server{Addr: cfg.Metrics.ListenAddr, Handler: r})
	}

	if cfg.API.HealthListenAddr != "" {
		health := api.NewHealthServer(mgr.State())
		health.Watch(time.Second)
		g.Go(func() error {
			if err := health.Serve(cfg.API.HealthListenAddr); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			health.Stop()
			return nil
		})
	}

	err = g.Wait()
	klog.Info("Stopping flowlog...")
	return err
}

// serveHTTP runs server in g and shuts it down once ctx is done.
func serveHTTP(ctx context.Context, g *errgroup.Group, name string, server *http.Server) {
	g.Go(func() error {
		klog.Infof("%s server starting on %s", name, server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("%s server: %w", name, err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			klog.Errorf("%s server forced to shutdown: %v", name, err)
		}
		return nil
	})
}
