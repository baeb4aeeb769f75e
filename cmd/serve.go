package cmd

import (
	"flag"
	"time"

	"grimm.is/warden/internal/api"
	"grimm.is/warden/internal/brand"
	"grimm.is/warden/internal/health"
	"grimm.is/warden/internal/ratelimit"
)

// passesPerMinute caps enable/disable requests per API client.
const passesPerMinute = 10

// RunServe runs the HTTP control API until interrupted.
func RunServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	opts := addGlobalFlags(fs)
	listen := fs.String("listen", "", "Listen address (overrides api.listen)")
	fs.Parse(args)

	rt, err := openRuntime(opts)
	if err != nil {
		return err
	}
	defer rt.Close()

	addr := rt.cfg.API.Listen
	if *listen != "" {
		addr = *listen
	}

	ctx, cancel := signalContext()
	defer cancel()

	checker := health.NewChecker(nil)
	checker.Register("backend", health.BackendCheck(rt.applier))
	checker.Register("store", health.StoreCheck(rt.store))
	checker.Register("cache_dir", health.CacheDirCheck(rt.cfg.CacheDir))

	srv := api.NewServer(api.ServerOptions{
		Controller:  rt.ctrl,
		Hub:         rt.hub,
		Metrics:     rt.metrics,
		Logger:      rt.logger.WithComponent("api"),
		Health:      checker,
		PassLimiter: ratelimit.New(passesPerMinute, time.Minute, nil),
	})
	rt.logger.Info("starting "+brand.LowerName, "version", brand.Version, "dry_run", opts.dryRun)
	return srv.ListenAndServe(ctx, addr)
}
