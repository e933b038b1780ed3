package main

import (
	"context"
	_ "embed"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/Albermonte/validator-election-bot/internal/bot"
	"github.com/Albermonte/validator-election-bot/internal/chain"
	"github.com/Albermonte/validator-election-bot/internal/config"
	"github.com/Albermonte/validator-election-bot/internal/dashboard"
	"github.com/Albermonte/validator-election-bot/internal/logger"
	"github.com/Albermonte/validator-election-bot/internal/metrics"
	"github.com/Albermonte/validator-election-bot/internal/notify"
	"github.com/Albermonte/validator-election-bot/internal/price"
	"github.com/Albermonte/validator-election-bot/internal/processor"
	"github.com/Albermonte/validator-election-bot/internal/rewards"
	"github.com/Albermonte/validator-election-bot/internal/rpc"
	"github.com/Albermonte/validator-election-bot/internal/subscribers"
	"github.com/Albermonte/validator-election-bot/internal/telegram"
	"github.com/Albermonte/validator-election-bot/internal/ws"
)

//go:embed config.example.yml
var configExample []byte

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:          "election-bot",
		Short:        "Reports Nimiq validator slot assignments and rewards to Telegram chats",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), v)
		},
	}
	addFlags(cmd.Flags(), v)
	return cmd
}

func run(parent context.Context, v *viper.Viper) error {
	logger.Init(v.GetString("advanced.log_level"))

	configPath, dataDir, err := resolvePaths(v.GetString("config"), v.GetString("data_dir"))
	if err != nil {
		logger.Error("INIT", "Failed to resolve config path: %v", err)
		return err
	}
	if err := ensureDefaultConfig(configPath, configExample); err != nil {
		logger.Error("INIT", "Failed to ensure default config: %v", err)
		return err
	}

	logger.Info("INIT", "Loading config from %s...", configPath)
	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("INIT", "Failed to load config: %v", err)
		return err
	}
	cfg.ApplyOverrides(v)
	applyDataDirDefaults(cfg, dataDir)
	if err := cfg.Validate(); err != nil {
		logger.Error("INIT", "Invalid config %s: %v", configPath, err)
		return err
	}
	logger.Init(cfg.Advanced.LogLevel)
	logger.Info("INIT", "Config loaded. Nodes: %d, Storage: %s", len(cfg.Chain.Nodes), cfg.Storage.Driver)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry, err := openRegistry(ctx, cfg.Storage)
	if err != nil {
		logger.Error("INIT", "Failed to open subscriber store: %v", err)
		return err
	}
	defer registry.Close()

	logger.Info("INIT", "Initializing RPC Node Manager...")
	nodeMgr := rpc.NewManager(cfg.Chain.Nodes, config.ParseDuration(cfg.Advanced.RPCTimeout))
	nodeMgr.Start(ctx)

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	exporter := metrics.NewExporter(cfg.Advanced.Prometheus.MetricsPrefix, promReg, nodeMgr)

	pollTimeout := config.ParseDuration(cfg.Telegram.PollTimeout)
	tg := telegram.NewClient(cfg.Telegram.APIURL, cfg.Telegram.Token, pollTimeout+telegram.RequestTimeout)
	dispatcher := notify.NewDispatcher(tg, exporter)

	prices := price.NewCoinGecko(cfg.Price.APIURL, config.ParseDuration(cfg.Price.Timeout), map[string]string{
		rewards.Crypto: cfg.Price.CoinID,
	})
	calc := rewards.NewCalculator(nodeMgr, prices)

	events := make(chan chain.Event, 16)
	var dash *dashboard.Server
	proc := processor.NewProcessor(nodeMgr, calc, registry, dispatcher, events, broadcasterFunc(func() {
		dash.BroadcastUpdate()
	}), exporter)
	dash = dashboard.NewServer(dashboard.Options{
		DashboardPort: cfg.Advanced.DashboardPort,
		MetricsPort:   cfg.Advanced.Prometheus.Port,
		Gatherer:      promReg,
	}, nodeMgr, proc, registry)

	listener := ws.NewListener(nodeMgr, events, config.ParseDuration(cfg.Advanced.WSTimeout))
	commands := bot.New(tg, dispatcher, registry, proc, pollTimeout)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return listener.Run(gctx) })
	g.Go(func() error {
		proc.Start(gctx)
		return nil
	})
	g.Go(func() error { return commands.Run(gctx) })
	g.Go(func() error { return dash.Run(gctx) })
	g.Go(func() error {
		exporter.Start(gctx)
		return nil
	})

	logger.Info("SYS", "Validator election bot started")
	err = g.Wait()

	logger.Info("SYS", "Shutdown complete")
	return err
}

func openRegistry(ctx context.Context, cfg config.StorageConfig) (subscribers.Registry, error) {
	switch cfg.Driver {
	case config.StoragePostgres:
		return subscribers.OpenPostgresStore(ctx, cfg.DSN)
	case config.StorageFile:
		return subscribers.OpenFileStore(cfg.Path)
	default:
		return nil, errors.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

type broadcasterFunc func()

func (f broadcasterFunc) BroadcastUpdate() { f() }
