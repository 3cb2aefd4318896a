package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"hpvcal/internal/agenda"
	"hpvcal/internal/config"
	"hpvcal/internal/feeds"
	"hpvcal/internal/ics"
	appLog "hpvcal/internal/log"
	"hpvcal/internal/model"
	"hpvcal/internal/web"
)

const version = "0.3.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newApp().Run(ctx, os.Args); err != nil {
		appLog.Error("hpvcal failed", err)
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:    "hpvcal",
		Usage:   "club calendar aggregator",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "/etc/hpvcal/config.yaml",
				Usage:   "path to config file (created with defaults if missing)",
				Sources: cli.EnvVars("HPVCAL_CONFIG"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "debug, info, warn or error (overrides config)",
				Sources: cli.EnvVars("HPVCAL_LOG_LEVEL"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "serve the HTTP API and refresh feeds on schedule",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "listen", Usage: "HTTP listen address (overrides config)"},
				},
				Action: runServe,
			},
			{
				Name:  "list",
				Usage: "fetch feeds once and print occurrences",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "kind", Aliases: []string{"k"}, Usage: `feed kind, alias or "all"`},
					&cli.StringFlag{Name: "type", Aliases: []string{"t"}, Value: "all", Usage: "all, match or other"},
					&cli.StringFlag{Name: "mode", Aliases: []string{"m"}, Value: "windowed", Usage: "windowed or next"},
					&cli.BoolFlag{Name: "json", Usage: "print JSON as served by /api/events"},
				},
				Action: runList,
			},
		},
	}
}

// loadConfig loads the config file and applies logging settings.
func loadConfig(cmd *cli.Command) (*config.Config, *time.Location, error) {
	path := cmd.String("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("load config %s: %w", path, err)
	}
	applyLogLevel(cmd, cfg)

	loc, err := cfg.Location()
	if err != nil {
		return nil, nil, err
	}
	// Floating ICS times are wall-clock times in the configured zone.
	time.Local = loc
	return cfg, loc, nil
}

func applyLogLevel(cmd *cli.Command, cfg *config.Config) {
	level := cfg.LogLevel
	if l := cmd.String("log-level"); l != "" {
		level = l
	}
	appLog.SetLevel(appLog.ParseLevel(level))
}

func newStore(cfg *config.Config) (*feeds.Store, error) {
	ttl, err := cfg.CacheTTL()
	if err != nil {
		return nil, err
	}
	return feeds.NewStore(ics.NewFetcher(cfg.CacheDir), cfg.Feeds, feeds.Options{
		DefaultKind: cfg.DefaultKind,
		TTL:         ttl,
	}), nil
}

func webOptions(cfg *config.Config) (web.Options, error) {
	window, err := cfg.WindowDuration()
	if err != nil {
		return web.Options{}, err
	}
	return web.Options{
		Rules:          cfg.ClubRules(),
		Window:         window,
		MaxSkips:       cfg.NextMaxSkips,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
	}, nil
}

func runServe(ctx context.Context, cmd *cli.Command) error {
	appLog.Info("hpvcal starting", "version", version)

	path := cmd.String("config")
	cfg, loc, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	listen := cfg.Listen
	if l := cmd.String("listen"); l != "" {
		listen = l
	}

	appLog.Info("effective config",
		"listen", listen,
		"timezone", cfg.Timezone,
		"refresh", cfg.RefreshCron,
		"window", cfg.Window,
		"feeds", len(cfg.Feeds),
		"default_kind", cfg.DefaultKind,
	)

	store, err := newStore(cfg)
	if err != nil {
		return err
	}
	opts, err := webOptions(cfg)
	if err != nil {
		return err
	}
	srv := web.NewServer(store, opts)

	if _, err := store.Refresh(ctx); err != nil {
		return err
	}
	if err := store.StartSchedule(ctx, cfg.RefreshCron, loc); err != nil {
		return err
	}
	defer store.StopSchedule()

	refreshSpec := cfg.RefreshCron
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(gctx, listen)
	})
	g.Go(func() error {
		// Watch calls back serially, so refreshSpec needs no lock.
		return config.Watch(gctx, path, func(next *config.Config) {
			applyLogLevel(cmd, next)
			opts, err := webOptions(next)
			if err != nil {
				appLog.Error("config reload: invalid window", err)
				return
			}
			srv.Reconfigure(opts)
			store.SetKinds(next.Feeds, next.DefaultKind)

			if next.RefreshCron != refreshSpec {
				if err := store.StartSchedule(gctx, next.RefreshCron, loc); err != nil {
					appLog.Error("config reload: schedule rejected", err, "refresh", next.RefreshCron)
				} else {
					refreshSpec = next.RefreshCron
				}
			}
			if next.Listen != cfg.Listen || next.Timezone != cfg.Timezone {
				appLog.Warn("listen and timezone changes apply after restart")
			}
			go func() {
				if _, err := store.Refresh(gctx); err != nil {
					appLog.Error("refresh after config reload failed", err)
				}
			}()
		})
	})

	err = g.Wait()
	appLog.Info("hpvcal exiting")
	return err
}

func runList(ctx context.Context, cmd *cli.Command) error {
	cfg, loc, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	mode, err := agenda.ParseMode(cmd.String("mode"))
	if err != nil {
		return err
	}
	window, err := cfg.WindowDuration()
	if err != nil {
		return err
	}

	store, err := newStore(cfg)
	if err != nil {
		return err
	}
	kinds, err := store.ResolveKind(cmd.String("kind"))
	if err != nil {
		return err
	}
	snap, err := store.Refresh(ctx)
	if err != nil {
		return err
	}
	feedSet, feedErrs, allFailed := snap.Select(kinds)
	for _, fe := range feedErrs {
		appLog.Warn("feed unavailable", "kind", fe.Kind, "url", fe.URL, "err", fe.Err.Error())
	}
	if allFailed {
		return fmt.Errorf("every feed of %s failed", strings.Join(kinds, ", "))
	}

	occ := agenda.NewAggregator(cfg.ClubRules(), cfg.NextMaxSkips).Aggregate(agenda.Request{
		Feeds:  feedSet,
		Now:    time.Now(),
		Window: window,
		Mode:   mode,
		Filter: agenda.ParseTypeFilter(cmd.String("type")),
	})

	if cmd.Bool("json") {
		return web.EncodeOccurrences(cmd.Root().Writer, occ)
	}
	return printTable(cmd.Root().Writer, occ, loc)
}

func printTable(w io.Writer, occ []model.Occurrence, loc *time.Location) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "START\tKIND\tTYPE\tTITLE\tLOCATION")
	for _, o := range occ {
		typ := string(o.SubType)
		if o.Match != nil {
			if o.Match.HomeIsOwnClub {
				typ += " (home)"
			} else {
				typ += " (away)"
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			o.Start.In(loc).Format("Mon 2006-01-02 15:04"),
			o.Feed, typ, o.VisibleTitle, o.Location)
	}
	return tw.Flush()
}
