package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"

	"kissgate/beacon"
	"kissgate/config"
	"kissgate/device/aprsis"
	"kissgate/device/kiss"
	"kissgate/device/mqtt"
	"kissgate/device/tnc"
	"kissgate/packet"
	"kissgate/router"
	"kissgate/task"
	"kissgate/ui"
	"kissgate/ui/footer"
	mapview "kissgate/ui/map"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

// observerBacklog is how many routed packets the display may fall behind.
const observerBacklog = 64

func main() {
	configPath := pflag.StringP("config", "c", config.DefaultPath, "Configuration file.")
	tui := pflag.Bool("tui", false, "Show the terminal monitor (overrides display.active).")
	logLevel := pflag.String("log-level", "", "Log level: debug, info, warn, error (overrides log.level).")
	version := pflag.Bool("version", false, "Print the version and exit.")
	help := pflag.BoolP("help", "h", false, "Display help text.")

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: kissgate [options]\n\n")
		fmt.Fprintf(os.Stderr, "Bridges a KISS TNC to KISS-over-TCP clients and APRS-IS.\n\n")
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if *help {
		pflag.Usage()
		os.Exit(0)
	}
	if *version {
		fmt.Println("kissgate", Version)
		os.Exit(0)
	}

	logger := log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true})

	conf, unknown, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("Failed to load configuration", "err", err)
	}
	for _, key := range unknown {
		logger.Warn("Unknown configuration key", "key", key)
	}
	if *tui {
		conf.Display.Active = true
	}
	if *logLevel != "" {
		conf.Log.Level = *logLevel
	}

	logger, closeLog, err := newLogger(conf.Log, conf.Display.Active)
	if err != nil {
		log.Fatal("Failed to set up logging", "err", err)
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, conf, logger); err != nil {
		logger.Error("Exiting", "err", err)
		closeLog()
		os.Exit(1)
	}
}

// newLogger writes to the configured file, or to stderr unless the
// terminal belongs to the monitor.
func newLogger(conf config.LogConfig, tui bool) (*log.Logger, func(), error) {
	level, err := log.ParseLevel(conf.Level)
	if err != nil {
		return nil, nil, err
	}

	var (
		w       io.Writer = os.Stderr
		closeFn           = func() {}
	)
	switch {
	case conf.File != "":
		f, err := os.OpenFile(conf.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, err
		}
		w = f
		closeFn = func() { f.Close() }
	case tui:
		w = io.Discard
	}

	logger := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		Level:           level,
	})
	return logger, closeFn, nil
}

func run(ctx context.Context, conf config.Config, logger *log.Logger) error {
	// Queues between the tasks; the bridge pair is the one KISS clients see.
	var (
		fromModem      = packet.NewQueue[*packet.Packet]()
		toModem        = packet.NewQueue[*packet.Packet]()
		bridgeOutbound = packet.NewQueue[*packet.Packet]()
		bridgeInbound  = packet.NewQueue[*packet.Packet]()
	)

	manager := task.NewManager(conf.Scheduler.Tick, logger.WithPrefix("task"))

	open, err := tnc.FromConfig(conf.Modem)
	if err != nil {
		return err
	}
	modem := tnc.New(open, fromModem, toModem, logger.WithPrefix("modem"))
	defer modem.Close()
	manager.Add(modem)

	var bridge *kiss.Bridge
	if conf.KISS.Active {
		listener, err := kiss.ListenTCP(net.JoinHostPort("", strconv.Itoa(conf.KISS.Port)), logger.WithPrefix("kiss"))
		if err != nil {
			return fmt.Errorf("kiss: %w", err)
		}
		bridge = kiss.NewBridge(listener, bridgeOutbound, bridgeInbound, logger.WithPrefix("kiss"))
		defer bridge.Close()
		manager.Add(bridge)

		if conf.KISS.Announce {
			name := conf.KISS.Name
			if name == "" {
				name = kiss.DefaultServiceName()
			}
			if err := kiss.Announce(ctx, name, listener.Port(), logger.WithPrefix("dnssd")); err != nil {
				logger.Warn("DNS-SD announcement failed", "err", err)
			}
		}
	}

	var uplink *aprsis.Uplink
	var uplinkQueue *packet.Queue[*packet.Packet]
	if conf.APRSIS.Active {
		filter := conf.APRSIS.Filter
		if filter == "" {
			if filter, err = aprsis.DefaultFilter(conf.Station.GridSquare); err != nil {
				logger.Warn("Cannot derive APRS-IS filter from gridsquare", "gridsquare", conf.Station.GridSquare, "err", err)
			}
		}
		uplinkQueue = packet.NewQueue[*packet.Packet]()
		uplink = aprsis.New(aprsis.Config{
			Server:   conf.APRSIS.Server,
			Callsign: conf.Station.Callsign,
			Passcode: conf.Station.Passcode,
			Filter:   filter,
			Version:  Version,
		}, uplinkQueue, logger.WithPrefix("aprsis"))
		defer uplink.Close()
		manager.Add(uplink)
	}

	var publisher *mqtt.Publisher
	var mqttQueue *packet.Queue[*packet.Packet]
	if conf.MQTT.Active {
		mqttQueue = packet.NewQueue[*packet.Packet]()
		publisher = mqtt.Dial(mqtt.Config{
			Server:   conf.MQTT.Server,
			Username: conf.MQTT.Username,
			Password: conf.MQTT.Password,
			Topic:    conf.MQTT.Topic,
			Callsign: conf.Station.Callsign,
		}, mqttQueue, logger.WithPrefix("mqtt"))
		defer publisher.Close()
		manager.Add(publisher)
	}

	if conf.Beacon.Active {
		var originator beacon.Originator
		if uplink != nil {
			originator = uplink
		}
		manager.Add(beacon.New(beacon.Config{
			Callsign:   conf.Station.Callsign,
			GridSquare: conf.Station.GridSquare,
			Path:       conf.Beacon.Path,
			Message:    conf.Beacon.Message,
			Interval:   conf.Beacon.Interval,
		}, toModem, originator, logger.WithPrefix("beacon")))
	}

	var events chan router.Event
	if conf.Display.Active {
		events = make(chan router.Event, observerBacklog)
	}

	queues := router.Queues{
		FromModem: fromModem,
		ToModem:   toModem,
		Uplink:    uplinkQueue,
		MQTT:      mqttQueue,
	}
	if bridge != nil {
		queues.BridgeOutbound = bridgeOutbound
		queues.BridgeInbound = bridgeInbound
	}
	var digi *router.Digipeater
	if conf.Digi.Active {
		digi = router.NewDigipeater(conf.Station.Callsign, conf.Digi.DupeWindow)
	}
	manager.Add(router.New(queues, digi, events, logger.WithPrefix("router")))

	if err := manager.Setup(ctx); err != nil {
		return err
	}

	logger.Info("kissgate running", "version", Version, "callsign", conf.Station.Callsign,
		"kiss", conf.KISS.Active, "modem", conf.Modem.Type, "aprsis", conf.APRSIS.Active,
		"digi", conf.Digi.Active, "beacon", conf.Beacon.Active, "mqtt", conf.MQTT.Active)

	if !conf.Display.Active {
		return manager.Run(ctx)
	}

	statusFn := func() footer.Status {
		var status footer.Status
		if bridge != nil {
			s := bridge.Stats()
			status.Bridge = &s
		}
		if conf.Modem.Type != config.ModemNone {
			s := modem.Stats()
			status.Modem = &s
		}
		if uplink != nil {
			s := uplink.Stats()
			status.Uplink = &s
		}
		if publisher != nil {
			s := publisher.Stats()
			status.MQTT = &s
		}
		return status
	}

	var pane *mapview.Model
	if conf.Display.Shapefile != "" {
		m, err := mapview.New(conf.Display.Shapefile, conf.Station.GridSquare)
		if err != nil {
			return fmt.Errorf("display: %w", err)
		}
		pane = &m
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- manager.Run(ctx) }()

	err = ui.Run(ctx, ui.New(conf.Station.Callsign, pane, events, statusFn))
	cancel()
	return errors.Join(err, <-done)
}
