package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/stv0g/robot-teleop/discovery"
)

const connectPath = "/connect"

var (
	addr      string
	advertise bool
	instance  string
	logLevel  string
)

func newMux(relay *Relay) *http.ServeMux {
	mux := http.NewServeMux()

	handlerChain := promhttp.InstrumentHandlerDuration(metricHttpRequestDuration,
		promhttp.InstrumentHandlerCounter(metricHttpRequestsTotal, relay),
	)

	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/favicon.ico", func(rw http.ResponseWriter, r *http.Request) {
		http.Error(rw, "Not found", http.StatusNotFound)
	})
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.Write([]byte("OK"))
	})
	mux.HandleFunc("/api/v1/peers", apiHandler(relay))
	mux.Handle(connectPath, handlerChain)

	return mux
}

func handleSignals(signals chan os.Signal, relay *Relay, server *http.Server) {
	for range signals {
		if err := relay.Close(); err != nil {
			logrus.Errorf("Failed to close connections: %s", err)
		}

		if err := server.Shutdown(context.Background()); err != nil {
			logrus.Panicf("Failed to shutdown HTTP server: %s", err)
		}
	}
}

func run(cmd *cobra.Command, args []string) error {
	lvl, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return err
	}
	logrus.SetLevel(lvl)

	relay := NewRelay()
	server := &http.Server{
		Addr:    addr,
		Handler: newMux(relay),
	}

	signals := make(chan os.Signal, 10)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	go handleSignals(signals, relay, server)

	if advertise {
		_, p, err := net.SplitHostPort(addr)
		if err != nil {
			return fmt.Errorf("invalid address %q: %w", addr, err)
		}

		port, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("invalid port %q: %w", p, err)
		}

		stop, err := discovery.Advertise(instance, port, connectPath)
		if err != nil {
			return err
		}
		defer stop()
	}

	logrus.Infof("Listening on: %s", addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to listen and serve: %w", err)
	}

	return nil
}

func main() {
	hostname, _ := os.Hostname()

	cmd := &cobra.Command{
		Use:          "relay",
		Short:        "Signaling relay between operator clients and robots",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE:         run,
	}

	fs := cmd.Flags()
	fs.StringVar(&addr, "addr", ":8080", "http service address")
	fs.BoolVar(&advertise, "mdns", false, "Advertise the relay via mDNS")
	fs.StringVar(&instance, "mdns-name", hostname, "mDNS instance name")
	fs.StringVar(&logLevel, "log-level", "info", "Log level")

	if err := cmd.Execute(); err != nil {
		logrus.Fatal(err)
	}
}
