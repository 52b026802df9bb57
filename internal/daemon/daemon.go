// Package daemon implements the daemon lifecycle manager.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"strconv"
	"sync"
	"syscall"

	"k8s.io/utils/clock"

	"firestige.xyz/l2sw/internal/capture"
	"firestige.xyz/l2sw/internal/command"
	"firestige.xyz/l2sw/internal/config"
	"firestige.xyz/l2sw/internal/eventbus"
	"firestige.xyz/l2sw/internal/frame"
	logpkg "firestige.xyz/l2sw/internal/log"
	"firestige.xyz/l2sw/internal/lswitch"
	"firestige.xyz/l2sw/internal/metrics"
	"firestige.xyz/l2sw/internal/netdev"
)

// Option customizes a Daemon before Start.
type Option func(*Daemon)

// WithRegistry replaces the netlink-backed interface registry, which needs
// CAP_NET_ADMIN and real links.
func WithRegistry(r netdev.Registry) Option {
	return func(d *Daemon) { d.registry = r }
}

// WithClock sets the clock driving FDB aging.
func WithClock(c clock.Clock) Option {
	return func(d *Daemon) { d.clock = c }
}

// Daemon manages the l2sw daemon process lifecycle.
type Daemon struct {
	// Configuration
	mu         sync.Mutex // guards config across Reload callers
	config     *config.GlobalConfig
	configPath string
	socketPath string
	pidFile    string

	// Core components
	registry      netdev.Registry
	netctx        *netdev.NetContext // nil when the registry was injected
	clock         clock.Clock
	pool          *frame.Pool
	bus           *eventbus.InMemoryEventBus // nil if events disabled
	kafkaSink     *eventbus.KafkaSink        // nil if kafka export disabled
	sw            *lswitch.Switch
	cmdHandler    *command.CommandHandler
	udsServer     *command.UDSServer
	kafkaConsumer *command.KafkaCommandConsumer // nil if command channel disabled
	consumerDone  chan struct{}
	metricsServer *metrics.Server // nil if metrics disabled

	// Lifecycle management
	ctx          context.Context
	cancel       context.CancelFunc
	shutdownChan chan struct{}
	shutdownOnce sync.Once
	stopOnce     sync.Once
	sigChan      chan os.Signal
}

// New loads the configuration and prepares a daemon. Empty socketPath or
// pidFile fall back to the control section of the config.
func New(configPath, socketPath, pidFile string, opts ...Option) (*Daemon, error) {
	globalConfig, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if socketPath == "" {
		socketPath = globalConfig.Control.Socket
	}
	if pidFile == "" {
		pidFile = globalConfig.Control.PIDFile
	}

	d := &Daemon{
		config:       globalConfig,
		configPath:   configPath,
		socketPath:   socketPath,
		pidFile:      pidFile,
		clock:        clock.RealClock{},
		shutdownChan: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}

	d.ctx, d.cancel = context.WithCancel(context.Background())

	return d, nil
}

// Start initializes and starts all daemon components. On failure everything
// started so far is stopped again.
func (d *Daemon) Start() error {
	if err := d.start(); err != nil {
		d.Stop()
		return err
	}
	return nil
}

func (d *Daemon) start() error {
	cfg := d.config

	// 1. Initialize logging system
	if err := logpkg.Init(cfg.Log); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	slog.Info("starting l2sw daemon",
		"version", command.Version,
		"hostname", cfg.Node.Hostname,
		"config", d.configPath,
		"socket", d.socketPath,
	)

	// 2. Write PID file
	if err := d.writePIDFile(); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	// 3. Start metrics server
	if err := d.startMetrics(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	// 4. FDB event stream
	publisher, err := d.startEvents()
	if err != nil {
		return fmt.Errorf("failed to start event bus: %w", err)
	}

	// 5. Interfaces, capture hook and the switch itself
	if err := d.startSwitch(publisher); err != nil {
		return fmt.Errorf("failed to start switch: %w", err)
	}

	// 6. Command handler and UDS server for CLI control
	d.cmdHandler = command.NewCommandHandler(d.sw, d)
	d.cmdHandler.SetHostname(cfg.Node.Hostname)
	d.cmdHandler.SetShutdownFunc(func() {
		slog.Info("shutdown triggered via daemon_shutdown command")
		d.TriggerShutdown()
	})

	d.udsServer = command.NewUDSServer(d.socketPath, d.cmdHandler)
	if err := d.udsServer.Listen(); err != nil {
		d.udsServer = nil
		return fmt.Errorf("failed to start uds server: %w", err)
	}
	go d.udsServer.Serve(d.ctx)

	// 7. Kafka command consumer (if enabled)
	if cfg.Control.Kafka.Enabled {
		if err := d.startKafkaConsumer(); err != nil {
			// Non-fatal: the switch still runs with UDS-only control
			slog.Error("failed to start kafka consumer", "error", err)
		}
	}

	slog.Info("daemon started successfully", "interfaces", cfg.Switch.Interfaces)
	return nil
}

// startEvents builds the bus and its sinks. It returns a nil publisher when
// events are disabled, which the switch treats as "do not build events".
func (d *Daemon) startEvents() (*eventbus.FDBPublisher, error) {
	ec := d.config.Events
	if !ec.Enabled {
		return nil, nil
	}

	d.bus = eventbus.NewInMemoryEventBus(ec.Partitions, ec.QueueSize)

	if ec.Log {
		if err := eventbus.SubscribeFDB(d.bus, eventbus.LogSink); err != nil {
			return nil, err
		}
	}

	if ec.Kafka.Enabled {
		sink, err := eventbus.NewKafkaSink(eventbus.KafkaConfig{
			Brokers:      ec.Kafka.Brokers,
			Topic:        ec.Kafka.Topic,
			Compression:  ec.Kafka.Compression,
			BatchSize:    ec.Kafka.BatchSize,
			BatchTimeout: ec.Kafka.BatchTimeout,
		}, d.config.Node.Hostname)
		if err != nil {
			return nil, err
		}
		d.kafkaSink = sink
		if err := eventbus.SubscribeFDB(d.bus, sink.Handle); err != nil {
			return nil, err
		}
	}

	slog.Info("fdb event stream enabled",
		"partitions", ec.Partitions,
		"log", ec.Log,
		"kafka", ec.Kafka.Enabled,
	)
	return eventbus.NewFDBPublisher(d.bus), nil
}

// startSwitch opens the network context unless a registry was injected, then
// hands the member list to lswitch.Init.
func (d *Daemon) startSwitch(publisher *eventbus.FDBPublisher) error {
	cfg := d.config

	if d.registry == nil {
		open, err := capture.NewPortOpener(capture.Options{
			Type:        cfg.Capture.Type,
			SnapLen:     cfg.Capture.SnapLen,
			BlockSize:   cfg.Capture.BlockSize,
			NumBlocks:   cfg.Capture.NumBlocks,
			PollTimeout: cfg.Capture.PollTimeout,
			BPFFilter:   cfg.Capture.BPFFilter,
		})
		if err != nil {
			return err
		}

		nc, err := netdev.OpenContext(cfg.Switch.Netns)
		if err != nil {
			return err
		}
		d.netctx = nc

		var regOpts []netdev.RegistryOption
		if cfg.Capture.DisableOffloads {
			regOpts = append(regOpts, netdev.WithOffloadsDisabled())
		}
		d.registry = netdev.NewLinkRegistry(nc, open, regOpts...)
	}

	d.pool = frame.NewPool(cfg.Capture.SnapLen, cfg.Capture.BufferPoolSize)

	sw, err := lswitch.Init(switchConfig(cfg.Switch), lswitch.Deps{
		Registry: d.registry,
		Hook:     capture.NewHook(d.pool),
		Clock:    d.clock,
		Events:   publisher,
	})
	if err != nil {
		return err
	}
	d.sw = sw
	return nil
}

func switchConfig(sc config.SwitchConfig) lswitch.Config {
	return lswitch.Config{
		Interfaces:      sc.Interfaces,
		HubMode:         sc.HubMode,
		MaxAge:          sc.MaxAge,
		FDBCapacity:     sc.FDBCapacity,
		SweepInterval:   sc.SweepInterval,
		FlushOnShutdown: sc.FlushOnShutdown,
	}
}

// Stop performs graceful shutdown of all daemon components. Only the first
// call has any effect.
func (d *Daemon) Stop() {
	d.stopOnce.Do(d.stop)
}

func (d *Daemon) stop() {
	slog.Info("initiating graceful shutdown")

	// 1. Cancel context so background loops stop taking new work
	d.cancel()

	// 2. Stop Kafka command consumer (no new commands)
	if d.kafkaConsumer != nil {
		<-d.consumerDone
		if err := d.kafkaConsumer.Stop(); err != nil {
			slog.Error("error stopping kafka consumer", "error", err)
		}
	}

	// 3. Stop UDS server (no new CLI commands)
	if d.udsServer != nil {
		d.udsServer.Stop()
	}

	// 4. Switch shutdown handshake: aging stops before members are released
	if d.sw != nil {
		d.sw.Shutdown()
	}
	if d.netctx != nil {
		if err := d.netctx.Release(); err != nil {
			slog.Error("error releasing network context", "error", err)
		}
	}

	// 5. Drain events published during shutdown, then close sinks
	if d.bus != nil {
		if err := d.bus.Close(); err != nil {
			slog.Error("error closing event bus", "error", err)
		}
	}
	if d.kafkaSink != nil {
		if err := d.kafkaSink.Close(); err != nil {
			slog.Error("error closing kafka sink", "error", err)
		}
	}

	// 6. Stop metrics server
	if d.metricsServer != nil {
		if err := d.metricsServer.Stop(context.Background()); err != nil {
			slog.Error("error stopping metrics server", "error", err)
		}
	}

	// 7. Unregister signal handler to prevent goroutine leak
	if d.sigChan != nil {
		signal.Stop(d.sigChan)
	}

	// 8. Remove PID file
	if err := d.removePIDFile(); err != nil {
		slog.Error("error removing PID file", "error", err)
	}

	slog.Info("daemon stopped gracefully")

	// 9. Flush logs
	logpkg.Close()
}

// Run runs the daemon main loop, blocking until shutdown is triggered.
// Shutdown can be triggered by:
//  1. OS signals (SIGTERM, SIGINT)
//  2. daemon_shutdown command via UDS/Kafka
//
// SIGHUP triggers a config reload.
func (d *Daemon) Run() error {
	d.sigChan = make(chan os.Signal, 1)
	signal.Notify(d.sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	slog.Info("daemon running, waiting for signals or commands")

	for {
		select {
		case sig := <-d.sigChan:
			switch sig {
			case syscall.SIGTERM, syscall.SIGINT:
				slog.Info("received shutdown signal", "signal", sig)
				d.Stop()
				return nil

			case syscall.SIGHUP:
				slog.Info("received reload signal")
				if _, err := d.Reload(); err != nil {
					slog.Error("failed to reload config", "error", err)
				}
			}

		case <-d.shutdownChan:
			slog.Info("shutdown triggered by command")
			d.Stop()
			return nil

		case <-d.ctx.Done():
			slog.Info("context cancelled", "error", d.ctx.Err())
			d.Stop()
			return d.ctx.Err()
		}
	}
}

// Reload reloads the global configuration.
// Hot-reloadable: log level, format and outputs.
// Cold (requires restart): switch membership and timers, capture, control,
// events, metrics and node identity. Implements command.ConfigReloader.
func (d *Daemon) Reload() (command.ReloadResult, error) {
	slog.Info("reloading configuration", "path", d.configPath)

	newConfig, err := config.Load(d.configPath)
	if err != nil {
		return command.ReloadResult{}, fmt.Errorf("failed to load new config: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	res := command.ReloadResult{
		Applied:         []string{},
		RequiresRestart: coldChanges(d.config, newConfig),
	}

	if !reflect.DeepEqual(newConfig.Log, d.config.Log) {
		if err := logpkg.Init(newConfig.Log); err != nil {
			return res, fmt.Errorf("failed to reinitialize logging: %w", err)
		}
		d.config.Log = newConfig.Log
		res.Applied = append(res.Applied, "log")
	}

	slog.Info("configuration reloaded",
		"hot_reloaded", res.Applied,
		"requires_restart", res.RequiresRestart,
	)
	return res, nil
}

// coldChanges names the sections that differ but only take effect on restart.
func coldChanges(old, cur *config.GlobalConfig) []string {
	changed := []string{}
	sections := []struct {
		name     string
		old, cur any
	}{
		{"node", old.Node, cur.Node},
		{"switch", old.Switch, cur.Switch},
		{"capture", old.Capture, cur.Capture},
		{"control", old.Control, cur.Control},
		{"events", old.Events, cur.Events},
		{"metrics", old.Metrics, cur.Metrics},
	}
	for _, s := range sections {
		if !reflect.DeepEqual(s.old, s.cur) {
			changed = append(changed, s.name)
		}
	}
	return changed
}

// TriggerShutdown makes Run return after a graceful stop. Safe to call more than once.
func (d *Daemon) TriggerShutdown() {
	d.shutdownOnce.Do(func() { close(d.shutdownChan) })
}

// Switch returns the running switch, nil before Start.
func (d *Daemon) Switch() *lswitch.Switch {
	return d.sw
}

// startKafkaConsumer starts the Kafka command consumer in background.
func (d *Daemon) startKafkaConsumer() error {
	consumer, err := command.NewKafkaCommandConsumer(
		d.config.Control.Kafka,
		d.config.Node.Hostname,
		d.cmdHandler,
	)
	if err != nil {
		return fmt.Errorf("failed to create kafka consumer: %w", err)
	}

	d.kafkaConsumer = consumer
	d.consumerDone = make(chan struct{})

	go func() {
		defer close(d.consumerDone)
		if err := consumer.Start(d.ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("kafka consumer stopped with error", "error", err)
		}
	}()

	return nil
}

// startMetrics starts the metrics HTTP server if enabled.
func (d *Daemon) startMetrics() error {
	if !d.config.Metrics.Enabled {
		slog.Info("metrics server disabled")
		return nil
	}

	srv := metrics.NewServer(d.config.Metrics.Listen, d.config.Metrics.Path)
	if err := srv.Start(d.ctx); err != nil {
		return err
	}
	d.metricsServer = srv
	return nil
}

// MetricsAddr returns the bound metrics address, empty when disabled.
func (d *Daemon) MetricsAddr() string {
	if d.metricsServer == nil {
		return ""
	}
	return d.metricsServer.Addr()
}

// writePIDFile writes the current process ID to the PID file.
func (d *Daemon) writePIDFile() error {
	if d.pidFile == "" {
		return nil
	}

	pid := os.Getpid()
	data := []byte(strconv.Itoa(pid) + "\n")

	if err := os.WriteFile(d.pidFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write PID file %s: %w", d.pidFile, err)
	}

	slog.Debug("PID file written", "path", d.pidFile, "pid", pid)
	return nil
}

// removePIDFile removes the PID file.
func (d *Daemon) removePIDFile() error {
	if d.pidFile == "" {
		return nil
	}

	if err := os.Remove(d.pidFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file %s: %w", d.pidFile, err)
	}

	slog.Debug("PID file removed", "path", d.pidFile)
	return nil
}
