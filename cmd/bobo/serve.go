package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"bobo-rpc/config"
	"bobo-rpc/server"
	"bobo-rpc/store"
)

func newServeCmd(a *app) *cobra.Command {
	var (
		listen    string
		advertise string
		ttl       int64
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the demo data service",
		Long: `Serve exposes data(key_name) over JSON-RPC at rpc_path, the padded record
endpoint at data_path and Prometheus metrics at /metrics. The store starts with
the foobar record. When etcd is configured, --advertise is published under the
etcd key for as long as the server runs.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if listen == "" {
				listen = a.cfg.Listen
			}

			reg := prometheus.NewRegistry()
			opts := []server.Option{
				server.WithLogger(a.logger),
				server.WithRPCPath(a.cfg.RPCPath),
				server.WithRegisterer(reg),
			}

			if a.cfg.Etcd.Enabled() {
				if advertise == "" {
					return errors.New("--advertise is required when etcd is configured")
				}
				etcd, err := config.NewEtcdAddress(a.cfg.Etcd.Endpoints, a.cfg.Etcd.Key, a.cfg.Etcd.DialTimeout)
				if err != nil {
					return err
				}
				defer etcd.Close()
				opts = append(opts, server.WithPublisher(etcd, advertise, ttl))
			}

			records := store.Seeded()
			svr := server.NewServer(opts...)
			if err := svr.Register(&store.DataService{Store: records}); err != nil {
				return err
			}
			svr.Handle(a.cfg.DataPath, server.PaddedHandler(records, a.logger))
			svr.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

			served := make(chan error, 1)
			go func() { served <- svr.ListenAndServe(listen) }()

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(stop)

			select {
			case err := <-served:
				return err
			case sig := <-stop:
				a.logger.Info("shutting down", "signal", sig.String())
			}
			if err := svr.Shutdown(10 * time.Second); err != nil {
				return fmt.Errorf("shutdown: %w", err)
			}
			return <-served
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (default from config, :8080)")
	cmd.Flags().StringVar(&advertise, "advertise", "", "base address published to etcd, e.g. http://10.0.0.5:8080")
	cmd.Flags().Int64Var(&ttl, "ttl", 10, "etcd lease TTL in seconds")
	return cmd
}
