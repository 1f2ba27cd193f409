package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"bobo-rpc/client"
	"bobo-rpc/config"
	"bobo-rpc/middleware"
	"bobo-rpc/page"
	"bobo-rpc/transport"
)

// app holds the global flags and the state set during PersistentPreRunE.
type app struct {
	cfgFile       string
	logLevel      string
	serviceURL    string
	transportName string

	cfg     *config.Config
	logger  *slog.Logger
	metrics *prometheus.Registry // Call metrics of this invocation
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "bobo",
		Short: "bobo-rpc: JSON-RPC and padded-JSON calls to a bobo service",
		Long: `bobo issues calls through the same dispatcher applications embed: over HTTP
POST (JSON-RPC 2.0), through an injected script with a 1 second budget, or as a
direct padded-JSON fetch. It can also run the demo data service.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}

	root.PersistentFlags().StringVar(&a.cfgFile, "config", "bobo.yaml", "config file")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&a.serviceURL, "service-url", "", "service base address, e.g. http://localhost:8080")
	root.PersistentFlags().StringVar(&a.transportName, "transport", "", "transport: http, script or fetch")

	root.AddCommand(newCallCmd(a), newFetchCmd(a), newServeCmd(a))
	return root
}

// setup loads the config file and lets flags override it.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	if a.serviceURL != "" {
		cfg.ServiceURL = a.serviceURL
	}
	if a.transportName != "" {
		cfg.Transport = a.transportName
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	level, _ := config.ParseLevel(cfg.LogLevel)
	a.cfg = cfg
	a.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	a.metrics = prometheus.NewRegistry()
	return nil
}

// addressSources lists where the base address may come from: host-page globals
// first when given, then the config or flag, then etcd.
func (a *app) addressSources(pg *page.Page) ([]config.AddressSource, func(), error) {
	var sources []config.AddressSource
	if pg != nil {
		sources = append(sources, config.PageAddress{Page: pg})
	}
	sources = append(sources, config.StaticAddress(a.cfg.ServiceURL))

	closer := func() {}
	if a.cfg.Etcd.Enabled() {
		etcd, err := config.NewEtcdAddress(a.cfg.Etcd.Endpoints, a.cfg.Etcd.Key, a.cfg.Etcd.DialTimeout)
		if err != nil {
			return nil, nil, err
		}
		sources = append(sources, etcd)
		closer = func() { etcd.Close() }
	}
	return sources, closer, nil
}

// dispatcher resolves the service address once and builds a dispatcher over the
// configured transport. The returned func logs the call metrics and releases the page.
func (a *app) dispatcher(ctx context.Context) (*client.Dispatcher, func(), error) {
	var pg *page.Page
	if a.cfg.Transport == config.TransportScript {
		opts := []page.Option{
			page.WithLogger(a.logger),
			page.WithHTTPClient(&http.Client{Timeout: a.cfg.RequestTimeout}),
		}
		if a.cfg.ServiceURL != "" {
			opts = append(opts, page.WithGlobal(config.ServiceURLGlobal, a.cfg.ServiceURL))
		}
		pg = page.New(opts...)
	}
	closePage := func() {
		if pg != nil {
			pg.Close()
		}
	}

	sources, closeSources, err := a.addressSources(pg)
	if err != nil {
		closePage()
		return nil, nil, err
	}
	base, err := config.ResolveAddress(ctx, sources...)
	closeSources()
	if err != nil {
		closePage()
		return nil, nil, fmt.Errorf("resolving service address: %w", err)
	}

	metrics, err := middleware.NewMetrics(a.metrics)
	if err != nil {
		closePage()
		return nil, nil, err
	}

	var (
		t       transport.Transport
		address string
	)
	switch a.cfg.Transport {
	case config.TransportHTTP:
		address = a.cfg.RPCAddress(base)
		t = transport.NewHTTPTransport(
			transport.WithHTTPClient(&http.Client{Timeout: a.cfg.RequestTimeout}),
			transport.WithHTTPLogger(a.logger),
		)
	case config.TransportFetch:
		address = a.cfg.DataAddress(base)
		t = transport.NewFetchTransport(&http.Client{Timeout: a.cfg.RequestTimeout})
	case config.TransportScript:
		address = a.cfg.DataAddress(base)
		t = transport.NewScriptTransport(pg,
			transport.WithScriptTimeout(a.cfg.ScriptTimeout),
			transport.WithScriptLogger(a.logger),
		)
	}

	mws := []middleware.Middleware{middleware.LoggingMiddleware(a.logger), metrics.Middleware()}
	if a.cfg.RateLimit.RPS > 0 {
		mws = append(mws, middleware.RateLimitMiddleware(a.cfg.RateLimit.RPS, max(a.cfg.RateLimit.Burst, 1)))
	}
	if a.cfg.Transport != config.TransportScript {
		// The script transport keeps its own budget
		mws = append(mws, middleware.TimeOutMiddleware(a.cfg.RequestTimeout))
	}

	a.logger.Debug("dispatcher ready", "transport", a.cfg.Transport, "address", address)
	d := client.New(address, t, client.WithMiddleware(mws...), client.WithLogger(a.logger))
	release := func() {
		closePage()
		a.logMetrics()
	}
	return d, release, nil
}

// logMetrics writes the collected call samples at debug level.
func (a *app) logMetrics() {
	families, err := a.metrics.Gather()
	if err != nil {
		a.logger.Warn("gathering call metrics failed", "err", err)
		return
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			attrs := []any{"name", mf.GetName()}
			for _, lp := range m.GetLabel() {
				attrs = append(attrs, lp.GetName(), lp.GetValue())
			}
			if c := m.GetCounter(); c != nil {
				attrs = append(attrs, "value", c.GetValue())
			}
			if h := m.GetHistogram(); h != nil {
				attrs = append(attrs, "count", h.GetSampleCount(), "sum", h.GetSampleSum())
			}
			a.logger.Debug("call metric", attrs...)
		}
	}
}
