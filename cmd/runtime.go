package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"grimm.is/warden/internal/blocklist"
	"grimm.is/warden/internal/brand"
	"grimm.is/warden/internal/config"
	"grimm.is/warden/internal/controller"
	"grimm.is/warden/internal/events"
	"grimm.is/warden/internal/firewall"
	"grimm.is/warden/internal/i18n"
	"grimm.is/warden/internal/logging"
	"grimm.is/warden/internal/metrics"
	"grimm.is/warden/internal/policy"
	"grimm.is/warden/internal/rulesource"
	"grimm.is/warden/internal/state"
)

// Printer is the global message printer for the CLI
var Printer = i18n.NewCLIPrinter()

// stdout is where command output goes; tests swap it.
var stdout io.Writer = os.Stdout

// globalOptions are the flags every subcommand accepts.
type globalOptions struct {
	configFile string
	dryRun     bool
}

func addGlobalFlags(fs *flag.FlagSet) *globalOptions {
	o := &globalOptions{}
	fs.StringVar(&o.configFile, "config", brand.GetConfigPath(), "Configuration file")
	fs.StringVar(&o.configFile, "c", brand.GetConfigPath(), "Configuration file (short)")
	fs.BoolVar(&o.dryRun, "dry-run", false, "Use an in-memory backend instead of the installed policy")
	fs.BoolVar(&o.dryRun, "n", false, "Dry run (short)")
	return o
}

// runtime is everything a subcommand needs, wired from the configuration.
type runtime struct {
	cfg     *config.Config
	logger  *logging.Logger
	store   *state.SQLiteStore
	source  *rulesource.Source
	applier firewall.Applier
	hub     *events.Hub
	metrics *metrics.Registry
	ctrl    *controller.Controller
}

func openRuntime(opts *globalOptions) (*runtime, error) {
	cfg, err := config.LoadFile(opts.configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := newLogger(cfg)
	logging.SetDefault(logger)

	if err := os.MkdirAll(filepath.Dir(cfg.StorePath), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create state dir: %w", err)
	}
	store, err := state.NewSQLiteStore(state.DefaultOptions(cfg.StorePath))
	if err != nil {
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}

	rt := &runtime{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		hub:     events.NewHub(),
		metrics: metrics.NewRegistry(),
	}

	rt.source, err = rulesource.New(store)
	if err != nil {
		store.Close()
		return nil, err
	}

	var backend firewall.Applier
	if opts.dryRun {
		backend = firewall.NewMemoryBackend()
	} else {
		sb, err := firewall.NewStoreBackend(store)
		if err != nil {
			store.Close()
			return nil, err
		}
		backend = sb
	}
	rt.applier = firewall.NewRetryingApplier(backend, retryConfig(cfg))

	rt.ctrl = controller.New(controller.Options{
		Applier:          rt.applier,
		Source:           rt.source,
		Providers:        buildProviders(cfg, logger),
		Compiler:         policy.NewCompiler(cfg.ChunkSize, policy.Capabilities{PerAppDNS: cfg.PerAppDNS}),
		Logger:           logger.WithComponent("controller"),
		Notifier:         rt.hub,
		Metrics:          rt.metrics,
		SubmitTimeout:    cfg.SubmitTimeoutDuration(),
		FetchConcurrency: cfg.FetchConcurrency,
	})
	return rt, nil
}

func (rt *runtime) Close() error {
	return rt.store.Close()
}

func newLogger(cfg *config.Config) *logging.Logger {
	lc := logging.DefaultConfig()
	if lvl, err := logging.ParseLevel(cfg.LogLevel); err == nil {
		lc.Level = lvl
	}
	lc.JSON = cfg.LogJSON
	return logging.New(lc)
}

func retryConfig(cfg *config.Config) firewall.RetryConfig {
	rc := firewall.DefaultRetryConfig()
	rc.MaxAttempts = cfg.Retry.Attempts
	rc.InitialDelay = cfg.Retry.InitialDelayDuration()
	rc.MaxDelay = cfg.Retry.MaxDelayDuration()
	return rc
}

// buildProviders turns the blocklist blocks into providers. Remote lists
// cache their last good copy under the cache directory.
func buildProviders(cfg *config.Config, logger *logging.Logger) []blocklist.Provider {
	providers := make([]blocklist.Provider, 0, len(cfg.Blocklists))
	for _, bl := range cfg.Blocklists {
		switch {
		case bl.URL != "":
			providers = append(providers, blocklist.NewURLProvider(bl.Name, bl.URL, bl.IsEnabled(),
				blocklist.WithCacheDir(cfg.CacheDir),
				blocklist.WithLogger(logger.WithComponent("blocklist")),
			))
		case bl.File != "":
			providers = append(providers, blocklist.NewFileProvider(bl.Name, bl.File, bl.IsEnabled()))
		}
	}
	return providers
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
