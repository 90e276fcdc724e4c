// Command ferm-relay switches fermentation chamber relays with compressor
// protection and publishes their state to MQTT.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sweeney/ferm-relay/internal/clock"
	"github.com/sweeney/ferm-relay/internal/config"
	"github.com/sweeney/ferm-relay/internal/console"
	"github.com/sweeney/ferm-relay/internal/control"
	"github.com/sweeney/ferm-relay/internal/gpio"
	"github.com/sweeney/ferm-relay/internal/mqtt"
	"github.com/sweeney/ferm-relay/internal/relay"
	"github.com/sweeney/ferm-relay/internal/report"
	"github.com/sweeney/ferm-relay/internal/status"
	"github.com/sweeney/ferm-relay/internal/web"
)

// cmdQueue is the depth of the command channel shared by MQTT, HTTP and the console.
const cmdQueue = 16

// overrides holds flag values that take precedence over the config file.
// Empty strings leave the file value alone.
type overrides struct {
	HTTP     string
	Broker   string
	LogLevel string
}

func main() {
	cfgPath := flag.String("cfg", config.DefaultPath, "YAML configuration file")
	httpAddr := flag.String("http", "", `HTTP status address (overrides config, "off" disables)`)
	broker := flag.String("broker", "", "MQTT broker address (overrides config)")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn, error (overrides config)")
	interactive := flag.Bool("interactive", false, "Run an interactive console")
	printState := flag.Bool("print-state", false, "Print configured relays and exit")
	wsBroker := flag.String("ws-broker", "off", `MQTT websocket URL for live UI ("=broker" derives from the broker, "off" disables)`)

	flag.Parse()

	logger := newLogger()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		logger.Fatalf("fatal: %v", err)
	}
	applyOverrides(&cfg, overrides{HTTP: *httpAddr, Broker: *broker, LogLevel: *logLevel})

	if *printState {
		printConfig(os.Stdout, cfg)
		return
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.Fatalf("fatal: %v", err)
	}
	logger.SetLevel(level)

	ws := resolveWSBroker(*wsBroker, cfg.MQTT.Broker, logger)
	if err := run(cfg, logger, *interactive, ws); err != nil {
		logger.Fatalf("fatal: %v", err)
	}
}

func newLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	mqtt.RouteLogs(logger)
	return logger
}

func applyOverrides(cfg *config.Config, o overrides) {
	switch o.HTTP {
	case "":
	case "off":
		cfg.HTTP = ""
	default:
		cfg.HTTP = o.HTTP
	}
	if o.Broker != "" {
		cfg.MQTT.Broker = o.Broker
	}
	if o.LogLevel != "" {
		cfg.LogLevel = o.LogLevel
	}
}

// printConfig writes one line per configured relay.
func printConfig(w io.Writer, cfg config.Config) {
	for _, r := range cfg.Relays {
		display := "-"
		if d := r.Display(); d != config.NoDisplayPin {
			display = fmt.Sprint(d)
		}
		fmt.Fprintf(w, "%s: pin=%d display=%s", r.Name, r.Pin, display)
		if r.ActiveLow {
			fmt.Fprint(w, " active_low")
		}
		if r.Timed() {
			fmt.Fprintf(w, " min_run=%v reactivation=%v\n", r.MinRunTime, r.ReactivationDelay)
		} else {
			fmt.Fprintln(w, " unconstrained")
		}
	}
}

// client is everything runLoop and run need from MQTT.
type client interface {
	mqtt.Publisher
	mqtt.ConnectionStatus
	mqtt.Subscriber
}

func run(cfg config.Config, logger *logrus.Logger, interactive bool, wsBroker string) error {
	start := time.Now()

	// Initialize GPIO
	driver, err := gpio.Open(cfg.GPIO)
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer driver.Close()

	var pins gpio.Driver = driver
	if al := cfg.ActiveLowPins(); len(al) > 0 {
		pins = gpio.NewActiveLow(driver, al...)
	}
	flasher := gpio.NewFlasher(pins, cfg.GPIO.FlashInterval, logger.WithField("component", "flash"))
	// Runs before driver.Close.
	defer flasher.Wait()

	// Initialize MQTT
	var publisher client = mqtt.Disabled{}
	if cfg.MQTT.Broker != "" {
		c, err := mqtt.NewRealClient(cfg.MQTT, logger.WithField("component", "mqtt"))
		if err != nil {
			return fmt.Errorf("init mqtt: %w", err)
		}
		publisher = c
	} else {
		logger.Warn("no mqtt broker configured, publishing disabled")
	}
	defer publisher.Close()

	// Status reporters: MQTT always, serial when configured.
	reporters := []report.Reporter{mqttReporter(publisher, time.Now, logger)}
	if cfg.Serial.Port != "" {
		port, err := report.OpenSerial(cfg.Serial)
		if err != nil {
			return fmt.Errorf("init serial: %w", err)
		}
		defer port.Close()
		reporters = append(reporters, report.NewLine(port, logger.WithField("component", "serial")))
	}

	bank, err := control.Build(cfg.Relays, relay.Env{
		Pins:     pins,
		Clock:    clock.NewMillis(),
		Flasher:  flasher,
		Reporter: report.NewMulti(reporters...),
	}, logger, start)
	if err != nil {
		return fmt.Errorf("init relays: %w", err)
	}

	// Initialize status tracker (before STARTUP so snapshot is available)
	tracker := status.NewTracker(start, status.Config{
		PollMs:        cfg.Poll.Milliseconds(),
		HeartbeatMs:   cfg.Heartbeat.Milliseconds(),
		ReportEveryMs: cfg.ReportEvery.Milliseconds(),
		Broker:        cfg.MQTT.Broker,
		TopicPrefix:   cfg.MQTT.TopicPrefix,
		HTTPPort:      cfg.HTTP,
		Driver:        cfg.GPIO.Driver,
		WSBroker:      wsBroker,
		HTTPControl:   cfg.HTTPControl,
	})
	tracker.Update(bank.States())
	tracker.SetMQTTConnected(publisher.IsConnected())
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	// Publish startup event with full status snapshot
	snap := tracker.Snapshot()
	startupEvent := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := publisher.PublishSystem(startupEvent); err != nil {
		logger.WithError(err).Warn("failed to publish startup event")
	} else {
		logger.Info("published startup event")
	}

	cmds := make(chan control.Command, cmdQueue)
	if err := publisher.SubscribeCommands(commandHandler(cmds, logger.WithField("component", "mqtt"))); err != nil {
		logger.WithError(err).Warn("subscribe to relay commands failed")
	}

	// Start HTTP status server
	if cfg.HTTP != "" {
		var httpCmds chan<- control.Command
		if cfg.HTTPControl {
			httpCmds = cmds
		}
		srv := web.New(cfg.HTTP, tracker, httpCmds)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.WithError(err).Error("http server error")
			}
		}()
		defer srv.Shutdown(context.Background())
		logger.Infof("http status server listening on %s (relay control %v)", cfg.HTTP, cfg.HTTPControl)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	if interactive {
		con, err := console.New(cmds, tracker, bank.Names())
		if err != nil {
			return fmt.Errorf("init console: %w", err)
		}
		logger.SetOutput(con.Stdout())

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go con.Run(ctx, cancel)
		go func() {
			<-ctx.Done()
			select {
			case sigCh <- consoleQuit{}:
			default:
			}
		}()
	}

	logger.Infof("started: relays=%v poll=%v report=%v heartbeat=%v broker=%s",
		bank.Names(), cfg.Poll, cfg.ReportEvery, cfg.Heartbeat, cfg.MQTT.Broker)

	ticker := time.NewTicker(cfg.Poll)
	defer ticker.Stop()

	var reportTick <-chan time.Time
	if cfg.ReportEvery > 0 {
		rt := time.NewTicker(cfg.ReportEvery)
		defer rt.Stop()
		reportTick = rt.C
	}

	return runLoop(bank, publisher, publisher, tracker, logger, cfg.Heartbeat, time.Now, loopChans{
		cmds:   cmds,
		tick:   ticker.C,
		report: reportTick,
		sig:    sigCh,
	})
}

// consoleQuit is delivered on the signal channel when the console exits.
type consoleQuit struct{}

func (consoleQuit) String() string { return "console" }
func (consoleQuit) Signal()        {}

// loopChans are the event sources runLoop selects over. A nil channel is
// never ready, which disables that source.
type loopChans struct {
	cmds   <-chan control.Command
	tick   <-chan time.Time
	report <-chan time.Time
	sig    <-chan os.Signal
}

func runLoop(bank *control.Bank, publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker, log logrus.FieldLogger, heartbeat time.Duration, now func() time.Time, ch loopChans) error {
	refresh := func() {
		if tracker == nil {
			return
		}
		tracker.Update(bank.States())
		if mqttStatus != nil {
			tracker.SetMQTTConnected(mqttStatus.IsConnected())
		}
	}

	for {
		select {
		case s := <-ch.sig:
			log.Infof("received %v, shutting down", s)
			signalName := s.String()
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}

			// Guards still apply: a relay inside its minimum run time stays on.
			for _, res := range bank.AllOff("shutdown") {
				publishResult(publisher, log, now(), res)
				if res.Outcome == control.OutcomeBlocked {
					log.Warnf("%s left on at shutdown, guard still active", res.Relay)
				}
			}

			event := mqtt.SystemEvent{
				Timestamp: now(),
				Event:     "SHUTDOWN",
				Reason:    signalName,
				Retained:  true,
			}
			if tracker != nil {
				refresh()
				snap := tracker.Snapshot()
				event.RawPayload = status.FormatStatusEvent(snap, "SHUTDOWN", signalName)
			}
			if err := publisher.PublishSystem(event); err != nil {
				log.WithError(err).Warn("failed to publish shutdown event")
			} else {
				log.Info("published shutdown event")
			}
			return nil

		case cmd := <-ch.cmds:
			res := bank.Apply(cmd)
			if res.Err != nil {
				log.WithError(res.Err).Warnf("command from %s failed", cmd.Source)
			} else {
				log.Infof("command %s %s from %s: %s", cmd.Relay, status.StateName(cmd.On), cmd.Source, res.Outcome)
			}
			publishResult(publisher, log, now(), res)
			refresh()

			if cmd.Reply != nil {
				select {
				case cmd.Reply <- res:
				default:
				}
			}

		case <-ch.report:
			bank.ReportAll()

		case t := <-ch.tick:

			// Check for heartbeat
			if hbData := bank.CheckHeartbeat(t, heartbeat); hbData != nil {
				log.Infof("heartbeat: uptime=%v relays=%d", hbData.Uptime, len(hbData.Relays))

				hbEvent := mqtt.SystemEvent{
					Timestamp: hbData.Timestamp,
					Event:     "HEARTBEAT",
				}
				if tracker != nil {
					// Refresh network info for heartbeat
					if net := readNetworkInfo(); net != nil {
						tracker.SetNetwork(net)
					}
					refresh()
					snap := tracker.Snapshot()
					hbEvent.RawPayload = status.FormatStatusEvent(snap, "HEARTBEAT", "")
				}
				if err := publisher.PublishSystem(hbEvent); err != nil {
					log.WithError(err).Warn("heartbeat publish error")
				}
			}

			// Update status tracker for HTTP consumers
			refresh()
		}
	}
}

// publishResult sends a state event for commands that switched or were
// blocked. Unchanged and failed commands publish nothing.
func publishResult(publisher mqtt.Publisher, log logrus.FieldLogger, t time.Time, res control.Result) {
	var kind string
	switch res.Outcome {
	case control.OutcomeSwitched:
		kind = mqtt.EventSwitched
	case control.OutcomeBlocked:
		kind = mqtt.EventBlocked
	default:
		return
	}
	err := publisher.Publish(mqtt.StateEvent{
		Timestamp: t,
		Relay:     res.Relay,
		On:        res.On,
		Event:     kind,
		Source:    res.Source,
	})
	if err != nil {
		// Don't crash on publish failure
		log.WithError(err).Warn("publish error")
	}
}

// commandHandler queues MQTT commands for the control loop. It runs on the
// MQTT client's goroutine and never blocks it: when the queue is full the
// command is dropped.
func commandHandler(cmds chan<- control.Command, log logrus.FieldLogger) mqtt.CommandHandler {
	return func(name, payload string) {
		on, err := mqtt.ParseCommand(payload)
		if err != nil {
			log.WithError(err).Warnf("ignoring command for %s", name)
			return
		}
		select {
		case cmds <- control.Command{Relay: name, On: on, Source: "mqtt"}:
		default:
			log.Warnf("command queue full, dropping %s %s", name, payload)
		}
	}
}

// mqttReporter publishes periodic relay reports as REPORT state events.
func mqttReporter(publisher mqtt.Publisher, now func() time.Time, log logrus.FieldLogger) report.Reporter {
	return report.Func(func(name, state string) {
		err := publisher.Publish(mqtt.StateEvent{
			Timestamp: now(),
			Relay:     name,
			On:        state == relay.StateOn,
			Event:     mqtt.EventReport,
		})
		if err != nil {
			log.WithError(err).Debug("report publish error")
		}
	})
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}

// resolveWSBroker converts the --ws-broker flag value into a concrete URL.
// "=broker" derives ws://host:9001 from the TCP broker address; "off" disables.
func resolveWSBroker(ws, broker string, log logrus.FieldLogger) string {
	if ws == "off" || ws == "" {
		return ""
	}
	if ws != "=broker" {
		return ws
	}
	if broker == "" {
		return ""
	}
	u, err := url.Parse(broker)
	if err != nil {
		log.WithError(err).Warnf("ws-broker: cannot parse broker %q", broker)
		return ""
	}
	u.Scheme = "ws"
	u.Host = u.Hostname() + ":9001"
	return u.String()
}
