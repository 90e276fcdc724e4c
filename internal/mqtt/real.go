package mqtt

import (
	"errors"
	"fmt"
	stdlog "log"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// bufferCapacity is how many messages are held while the broker is away.
const bufferCapacity = 256

// RealClient publishes to and subscribes on an actual MQTT broker.
// Messages published while disconnected are buffered and replayed on
// reconnect.
type RealClient struct {
	client paho.Client
	topics Topics
	log    logrus.FieldLogger

	mu      sync.Mutex
	buf     *outbox
	handler CommandHandler
}

// DefaultClientID returns a client id unique to this process.
func DefaultClientID() string {
	return "ferm-relay-" + uuid.NewString()[:8]
}

// RouteLogs sends paho's internal logging through logger.
func RouteLogs(logger *logrus.Logger) {
	paho.ERROR = stdlog.New(logger.WriterLevel(logrus.ErrorLevel), "[mqtt] ", 0)
	paho.CRITICAL = stdlog.New(logger.WriterLevel(logrus.ErrorLevel), "[mqtt] ", 0)
	paho.WARN = stdlog.New(logger.WriterLevel(logrus.WarnLevel), "[mqtt] ", 0)
}

// NewRealClient creates a client for the configured broker and starts
// connecting. If the broker is not reachable within the connect timeout the
// client keeps retrying in the background and NewRealClient still succeeds.
func NewRealClient(cfg Config, log logrus.FieldLogger) (*RealClient, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqtt: no broker configured")
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = DefaultClientID()
	}

	c := &RealClient{
		topics: NewTopics(cfg.TopicPrefix),
		log:    log,
		buf:    newOutbox(bufferCapacity, log),
	}

	will, err := FormatSystemPayload(SystemEvent{
		Timestamp: time.Now(),
		Event:     "OFFLINE",
		Reason:    "LWT",
	})
	if err != nil {
		return nil, fmt.Errorf("format will payload: %w", err)
	}

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetKeepAlive(60 * time.Second).
		SetBinaryWill(c.topics.System(), will, 1, true).
		SetOnConnectHandler(c.handleConnect).
		SetConnectionLostHandler(c.handleConnectionLost)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	c.client = paho.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		log.Warnf("mqtt: broker %s not reachable yet, retrying in background", cfg.Broker)
		return c, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return c, nil
}

func (c *RealClient) handleConnect(client paho.Client) {
	c.mu.Lock()
	pending := c.buf.drainAll()
	handler := c.handler
	c.mu.Unlock()

	c.log.Infof("mqtt: connected, replaying %d buffered messages", len(pending))
	for _, m := range pending {
		token := client.Publish(m.topic, m.qos, m.retained, m.payload)
		if !token.WaitTimeout(5*time.Second) || token.Error() != nil {
			c.log.Warnf("mqtt: replay to %s failed", m.topic)
		}
	}

	// A clean session forgets subscriptions, so restore them on every connect.
	if handler != nil {
		if err := c.subscribe(handler); err != nil {
			c.log.WithError(err).Warn("mqtt: resubscribe failed")
		}
	}
}

func (c *RealClient) handleConnectionLost(_ paho.Client, err error) {
	c.log.WithError(err).Warn("mqtt: connection lost")
}

// IsConnected reports whether the broker connection is up.
func (c *RealClient) IsConnected() bool {
	return c.client.IsConnectionOpen()
}

// Publish sends a relay state event. State topics are retained so new
// subscribers see the latest state.
func (c *RealClient) Publish(event StateEvent) error {
	payload, err := FormatPayload(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	return c.send(bufferedMsg{
		topic:    c.topics.State(event.Relay),
		payload:  payload,
		qos:      1,
		retained: true,
	})
}

// PublishSystem sends a system lifecycle event.
func (c *RealClient) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return c.send(bufferedMsg{
		topic:    c.topics.System(),
		payload:  payload,
		qos:      1,
		retained: event.Retained,
	})
}

func (c *RealClient) send(m bufferedMsg) error {
	if !c.client.IsConnectionOpen() {
		c.mu.Lock()
		c.buf.push(m)
		c.mu.Unlock()
		return nil
	}

	token := c.client.Publish(m.topic, m.qos, m.retained, m.payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish %s: timeout", m.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", m.topic, err)
	}
	return nil
}

// SubscribeCommands registers h for every relay command topic.
func (c *RealClient) SubscribeCommands(h CommandHandler) error {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()

	if !c.client.IsConnectionOpen() {
		// handleConnect subscribes once the broker is reachable.
		return nil
	}
	return c.subscribe(h)
}

func (c *RealClient) subscribe(h CommandHandler) error {
	token := c.client.Subscribe(c.topics.SetAll(), 1, func(_ paho.Client, msg paho.Message) {
		name, ok := c.topics.RelayFromSetTopic(msg.Topic())
		if !ok {
			c.log.Warnf("mqtt: ignoring command on %s", msg.Topic())
			return
		}
		h(name, string(msg.Payload()))
	})
	if !token.WaitTimeout(5 * time.Second) {
		return errors.New("subscribe timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	return nil
}

// Close disconnects from the broker.
func (c *RealClient) Close() error {
	c.client.Disconnect(1000) // 1 second timeout
	return nil
}
