package serve

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/tphakala/audiopolicy/internal/api"
	"github.com/tphakala/audiopolicy/internal/conf"
	"github.com/tphakala/audiopolicy/internal/datastore"
	"github.com/tphakala/audiopolicy/internal/errors"
	"github.com/tphakala/audiopolicy/internal/events"
	"github.com/tphakala/audiopolicy/internal/hal/simhal"
	"github.com/tphakala/audiopolicy/internal/logging"
	"github.com/tphakala/audiopolicy/internal/mqtt"
	"github.com/tphakala/audiopolicy/internal/observability"
	"github.com/tphakala/audiopolicy/internal/observability/metrics"
	"github.com/tphakala/audiopolicy/internal/policy"
)

// Options are serve flags that are not part of the settings file.
type Options struct {
	MSD bool
}

// Command creates the command running the policy service.
func Command(settings *conf.Settings) *cobra.Command {
	var opts Options

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the routing policy service",
		Long:  "Run the routing policy on the simulated platform and serve the inspection API, metrics and routing notifications.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return Run(ctx, settings, opts)
		},
	}

	if err := setupFlags(cmd, settings, &opts); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

// setupFlags configures flags specific to the serve command.
func setupFlags(cmd *cobra.Command, settings *conf.Settings, opts *Options) error {
	cmd.Flags().StringVar(&settings.Server.Listen, "listen", settings.Server.Listen, "Listen address and port of the inspection API")
	cmd.Flags().BoolVar(&settings.Metrics.Enabled, "metrics", settings.Metrics.Enabled, "Enable the Prometheus metrics endpoint")
	cmd.Flags().BoolVar(&settings.History.Enabled, "history", settings.History.Enabled, "Store routing notifications")
	cmd.Flags().StringVar(&settings.History.Path, "history-path", settings.History.Path, "Path of the routing history database")
	cmd.Flags().BoolVar(&settings.MQTT.Enabled, "mqtt", settings.MQTT.Enabled, "Publish routing notifications over MQTT")
	cmd.Flags().StringVar(&settings.MQTT.Broker, "mqtt-broker", settings.MQTT.Broker, "MQTT broker URL")
	cmd.Flags().BoolVar(&opts.MSD, "msd", false, "Add the multi-stream decoder module to the simulated platform")

	// Bind flags to the viper settings
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}

	return nil
}

// Run wires the policy manager to its notification consumers and serves
// until ctx is cancelled.
func Run(ctx context.Context, settings *conf.Settings, opts Options) error {
	logger := logging.ForService("serve")

	var m *observability.Metrics
	if settings.Metrics.Enabled {
		var err error
		if m, err = observability.NewMetrics(); err != nil {
			return errors.New(err).
				Component("serve").
				Category(errors.CategoryNotInitialized).
				Context("operation", "init_metrics").
				Build()
		}
	}

	var busOpts []events.Option
	if m != nil {
		busOpts = append(busOpts, events.WithObserver(m.Events))
	}
	bus := events.New(events.Config{
		BufferSize: settings.Events.BufferSize,
		Workers:    settings.Events.Workers,
		DedupTTL:   settings.Events.DedupTTL,
	}, busOpts...)
	// The bus drains into its consumers, so it stops before the store closes.
	shutdownBus := sync.OnceFunc(func() {
		if err := bus.Shutdown(metrics.ShutdownTimeout); err != nil {
			logger.Warn("event bus shutdown", "error", err)
		}
	})
	defer shutdownBus()

	store, err := openHistory(settings, bus)
	if err != nil {
		return err
	}
	if store != nil {
		defer func() {
			shutdownBus()
			if err := store.Close(); err != nil {
				logger.Warn("closing routing history", "error", err)
			}
		}()
	}

	var mqttClient mqtt.Client
	if settings.MQTT.Enabled {
		if mqttClient, err = setupMQTT(settings, m, bus); err != nil {
			return err
		}
	}

	manager, err := newManager(settings, opts, m, bus)
	if err != nil {
		return err
	}

	serverOpts := []api.ServerOption{api.WithLogger(logging.ForService("api"))}
	if m != nil {
		serverOpts = append(serverOpts, api.WithMetrics(m))
	}
	if store != nil {
		serverOpts = append(serverOpts, api.WithDataStore(store))
	}
	server := api.New(manager, serverOpts...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Serve(gctx, settings.Server.Listen)
	})
	if mqttClient != nil {
		g.Go(func() error {
			connectMQTT(gctx, mqttClient, mqtt.ConfigFromSettings(&settings.MQTT).ReconnectCooldown)
			<-gctx.Done()
			mqttClient.Disconnect()
			return nil
		})
	}

	logger.Info("audio policy service running", "listen", settings.Server.Listen)
	err = g.Wait()
	logger.Info("audio policy service stopped")
	return err
}

func newManager(settings *conf.Settings, opts Options, m *observability.Metrics, bus *events.EventBus) (*policy.Manager, error) {
	var platformOpts []simhal.PlatformOption
	if opts.MSD {
		platformOpts = append(platformOpts, simhal.WithMSD())
	}
	cfg := simhal.DefaultPlatform(platformOpts...)
	sim := simhal.New(simhal.ModuleNames(cfg)...)

	policyOpts := []policy.Option{
		policy.WithSettings(settings.Policy),
		policy.WithNotifier(events.NewPolicyNotifier(bus, nil)),
	}
	if m != nil {
		policyOpts = append(policyOpts, policy.WithRecorder(m.Policy))
	}

	manager := policy.New(cfg, sim, policyOpts...)
	if err := manager.Initialize(); err != nil {
		return nil, err
	}
	return manager, nil
}

func openHistory(settings *conf.Settings, bus *events.EventBus) (datastore.Interface, error) {
	store := datastore.New(settings)
	if store == nil {
		return nil, nil
	}
	if err := store.Open(); err != nil {
		return nil, err
	}
	if err := bus.RegisterConsumer(datastore.NewHistoryConsumer(store)); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

func setupMQTT(settings *conf.Settings, m *observability.Metrics, bus *events.EventBus) (mqtt.Client, error) {
	var mqttMetrics *metrics.MQTTMetrics
	if m != nil {
		mqttMetrics = m.MQTT
	} else {
		var err error
		if mqttMetrics, err = metrics.NewMQTTMetrics(prometheus.NewRegistry()); err != nil {
			return nil, err
		}
	}

	config := mqtt.ConfigFromSettings(&settings.MQTT)
	client := mqtt.NewClient(config, mqttMetrics)
	if err := bus.RegisterConsumer(mqtt.NewPublisher(client, config)); err != nil {
		return nil, err
	}
	return client, nil
}

// connectMQTT retries until the broker accepts the connection or ctx ends.
// Publishing fails with a state error until then.
func connectMQTT(ctx context.Context, client mqtt.Client, cooldown time.Duration) {
	logger := logging.ForService("serve")
	if cooldown <= 0 {
		cooldown = mqtt.DefaultConfig().ReconnectCooldown
	}
	ticker := time.NewTicker(cooldown)
	defer ticker.Stop()

	for {
		err := client.Connect(ctx)
		if err == nil {
			logger.Info("connected to MQTT broker")
			return
		}
		logger.Warn("MQTT connection failed", "error", err)
		if errors.IsCategory(err, errors.CategoryConfiguration) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
