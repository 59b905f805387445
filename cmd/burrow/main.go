package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/matst80/burrow/internal/obs"
	"github.com/matst80/burrow/internal/tunnel"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var log = obs.Component("client")

func main() {
	flag.Parse()
	if cfg.Debug {
		obs.EnableDebug(true)
	}
	if cfg.Port <= 0 {
		log.Error("config.port", obs.Fields{"port": cfg.Port})
		flag.Usage()
		os.Exit(2)
	}
	log.Info("client.start", obs.Fields{"relay": cfg.Relay, "port": cfg.Port, "local_host": cfg.LocalHost})

	if cfg.MetricsAddr != "" {
		go startMetricsServer(cfg.MetricsAddr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session, err := tunnel.Open(ctx, tunnel.Config{
		Relay:          cfg.Relay,
		Port:           cfg.Port,
		LocalHost:      cfg.LocalHost,
		LocalTLS:       cfg.LocalTLS,
		ForwardTimeout: cfg.ForwardTimeout,
	})
	if err != nil {
		log.Error("tunnel.open", obs.Fields{"err": err.Error()})
		os.Exit(1)
	}
	log.Info("tunnel.ready", obs.Fields{"url": session.URL()})

	events, unsubscribe := session.Subscribe()
	defer unsubscribe()

	replayCh := make(chan os.Signal, 1)
	signal.Notify(replayCh, syscall.SIGUSR1)

	for {
		select {
		case <-ctx.Done():
			log.Info("client.shutdown", obs.Fields{})
			session.Close()
			return
		case <-replayCh:
			go func() {
				if err := session.ReplayLast(); err != nil {
					log.Error("replay.failed", obs.Fields{"err": err.Error()})
				}
			}()
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch e := ev.(type) {
			case tunnel.RequestCompleted:
				log.Info("request.completed", obs.Fields{"method": e.Method, "path": e.Path, "status": e.Status, "duration_ms": e.DurationMs, "replayed": e.Replayed})
			case tunnel.Disconnected:
				log.Info("channel.reconnecting", obs.Fields{"reason": e.Reason})
			case tunnel.Closed:
				if e.Err != nil {
					log.Error("tunnel.closed", obs.Fields{"err": e.Err.Error()})
					os.Exit(1)
				}
				log.Info("tunnel.closed", obs.Fields{})
				return
			}
		}
	}
}

// startMetricsServer serves Prometheus metrics and a simple health endpoint.
func startMetricsServer(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("metrics.server", obs.Fields{"err": err.Error(), "addr": addr})
	}
}
