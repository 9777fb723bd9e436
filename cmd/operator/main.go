package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/stv0g/robot-teleop/client"
	"github.com/stv0g/robot-teleop/config"
	"github.com/stv0g/robot-teleop/control"
	"github.com/stv0g/robot-teleop/discovery"
	"github.com/stv0g/robot-teleop/input"
	"github.com/stv0g/robot-teleop/telemetry"
)

func openInput(cfg *config.Config) control.InputSource {
	if cfg.Joystick == "" {
		logrus.Info("No joystick configured, sending neutral frames")
		return control.NoInput{}
	}

	js, err := input.OpenJoystick(cfg.Joystick, control.DefaultMapping())
	if err != nil {
		logrus.WithError(err).Warn("Joystick unavailable, sending neutral frames")
		return control.NoInput{}
	}

	go func() {
		<-js.Done()
		logrus.Warnf("Joystick %s disconnected", cfg.Joystick)
	}()

	return js
}

func signalingEndpoint(ctx context.Context, cfg *config.Config) (string, error) {
	if !cfg.Discover {
		return cfg.SignalingURL, nil
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.DiscoveryTimeout)
	defer cancel()

	u, err := discovery.Browse(ctx)
	if err != nil {
		return "", err
	}

	logrus.Infof("Discovered signaling relay: %s", u)

	return u.String(), nil
}

func run(ctx context.Context, cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := cfg.SetupLogging(); err != nil {
		return err
	}

	endpoint, err := signalingEndpoint(ctx, cfg)
	if err != nil {
		return err
	}

	u, err := client.SignalingURL(endpoint, cfg.ClientID)
	if err != nil {
		return err
	}

	logrus.Infof("Client ID: %s", cfg.ClientID)

	api, err := client.NewAPI(client.NewLoggerFactory(logrus.StandardLogger()))
	if err != nil {
		return err
	}

	opts := client.Options{
		Dial: func(ctx context.Context) (client.Signaler, error) {
			c, err := client.DialSignaling(ctx, u)
			if err != nil {
				return nil, err
			}
			return c, nil
		},
		NewPeer:            client.NewPeerFactory(api, cfg.ICEServers),
		Input:              openInput(cfg),
		Control:            cfg.Control(),
		Robot:              cfg.Robot,
		ReconnectDelay:     cfg.ReconnectDelay,
		MaxRenegotiations:  cfg.MaxRenegotiations,
		NegotiationTimeout: cfg.NegotiationTimeout,
	}

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()

		pub := telemetry.NewPublisher(rdb, cfg.RedisPrefix, 0)
		go pub.Run(ctx)

		opts.Observers = append(opts.Observers, pub)

		logrus.Infof("Publishing telemetry to Redis at %s", cfg.RedisAddr)
	}

	sup, err := client.NewSupervisor(opts)
	if err != nil {
		return err
	}

	if cfg.HTTPAddr != "" {
		server := &http.Server{
			Addr:    cfg.HTTPAddr,
			Handler: newMux(sup),
		}

		go func() {
			logrus.Infof("Listening on: %s", cfg.HTTPAddr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logrus.Errorf("Failed to listen and serve: %s", err)
			}
		}()

		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			if err := server.Shutdown(ctx); err != nil {
				logrus.Errorf("Failed to shutdown HTTP server: %s", err)
			}
		}()
	}

	return sup.Run(ctx)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signals := make(chan os.Signal, 10)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-signals
		logrus.Info("Shutting down")
		cancel()
	}()

	cmd := &cobra.Command{
		Use:          "operator",
		Short:        "Drive a robot over WebRTC with a game controller",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	cfg.BindFlags(cmd.Flags())

	if err := cmd.ExecuteContext(ctx); err != nil {
		logrus.Fatal(err)
	}
}
