package mqtt

import (
	"context"
	"fmt"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/nerrad567/railhub/internal/infrastructure/config"
)

// Client wraps paho.mqtt.golang with railhub-specific functionality.
//
// It provides connection management, message publishing, subscription handling,
// and automatic reconnection with exponential backoff.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Subscriptions are automatically restored on reconnection.
type Client struct {
	client   pahomqtt.Client
	options  *pahomqtt.ClientOptions
	cfg      config.MQTTConfig
	clientID string

	// status is the optional availability topic (LWT + online announcement).
	status *statusConfig

	// subscriptions tracks active subscriptions for re-subscription on reconnect.
	subscriptions map[string]subscription
	subMu         sync.RWMutex

	// connected tracks current connection state.
	connected bool
	connMu    sync.RWMutex

	onConnect    func()
	onDisconnect func(err error)
	callbackMu   sync.RWMutex

	logger Logger
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// subscription holds subscription details for re-subscription on reconnect.
type subscription struct {
	topic   string
	qos     byte
	handler MessageHandler
}

// statusConfig describes a retained availability topic.
type statusConfig struct {
	topic   string
	online  string
	offline string
}

// MessageHandler is the callback signature for received messages.
//
// Handlers are invoked in separate goroutines by the paho library.
// They should not block for extended periods. A returned error is logged.
type MessageHandler func(topic string, payload []byte) error

// Option configures a Client before it connects.
type Option func(*Client)

// WithLogger sets the logger used for handler errors and panics.
func WithLogger(logger Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithClientID overrides the configured client id.
func WithClientID(id string) Option {
	return func(c *Client) { c.clientID = id }
}

// WithStatus registers a retained availability topic. The broker publishes
// offline as the Last Will, and online is published after every connect
// once subscriptions are restored.
func WithStatus(topic, online, offline string) Option {
	return func(c *Client) {
		c.status = &statusConfig{topic: topic, online: online, offline: offline}
	}
}

// WithOnConnect sets a callback invoked on the initial connect and on every
// reconnect, before subscriptions are restored.
func WithOnConnect(callback func()) Option {
	return func(c *Client) { c.onConnect = callback }
}

// WithOnDisconnect sets a callback invoked when the connection is lost.
func WithOnDisconnect(callback func(err error)) Option {
	return func(c *Client) { c.onDisconnect = callback }
}

// Seams for tests.
var (
	newPahoClient  = pahomqtt.NewClient
	connectTimeout = defaultConnectTimeout
)

// Connect establishes a connection to the MQTT broker.
//
// It performs the following setup:
//  1. Builds connection options from config (broker URL, auth, TLS)
//  2. Configures Last Will and Testament when a status topic is set
//  3. Sets up auto-reconnect with exponential backoff
//  4. Attempts initial connection with timeout
//
// An empty client id in both cfg and options is replaced with
// "railhub-<random>".
func Connect(cfg config.MQTTConfig, opts ...Option) (*Client, error) {
	c := &Client{
		cfg:           cfg,
		clientID:      cfg.Broker.ClientID,
		subscriptions: make(map[string]subscription),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.clientID == "" {
		c.clientID = "railhub-" + uuid.NewString()[:8]
	}

	c.options = buildClientOptions(cfg, c.clientID, c.status)

	c.options.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.handleConnect()
	})
	c.options.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleDisconnect(err)
	})

	c.client = newPahoClient(c.options)
	if err := waitTokenFor(c.client.Connect(), connectTimeout, ErrConnectionFailed); err != nil {
		// With ConnectRetry paho keeps dialling after the token times out.
		c.client.Disconnect(0)
		return nil, err
	}

	// The OnConnect handler runs asynchronously and may not have run yet.
	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	return c, nil
}

// ClientID returns the id the client connected with.
func (c *Client) ClientID() string {
	return c.clientID
}

// handleConnect is called when the connection is established.
func (c *Client) handleConnect() {
	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	c.callbackMu.RLock()
	callback := c.onConnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback()
	}

	c.restoreSubscriptions()
	c.publishStatus(true)
}

// handleDisconnect is called when the connection is lost.
func (c *Client) handleDisconnect(err error) {
	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	if c.logger != nil {
		c.logger.Warn("MQTT connection lost", "client_id", c.clientID, "error", err)
	}

	c.callbackMu.RLock()
	callback := c.onDisconnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback(err)
	}
}

// restoreSubscriptions re-subscribes to all tracked topics after reconnect.
func (c *Client) restoreSubscriptions() {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	for _, sub := range c.subscriptions {
		c.client.Subscribe(sub.topic, sub.qos, c.wrapHandler(sub.handler))
	}
}

// publishStatus publishes the retained availability message, if configured.
func (c *Client) publishStatus(online bool) {
	if c.status == nil {
		return
	}
	payload := c.status.offline
	if online {
		payload = c.status.online
	}
	token := c.client.Publish(c.status.topic, byte(c.cfg.QoS), true, payload)
	token.WaitTimeout(defaultPublishTimeout)
}

// Close gracefully disconnects from the MQTT broker.
//
// It publishes the offline status (if configured), waits for pending
// operations and disconnects.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	if c.IsConnected() {
		c.publishStatus(false)
	}

	c.client.Disconnect(defaultDisconnectQuiesce)

	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	return nil
}

// HealthCheck verifies the MQTT connection is alive.
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	return nil
}

// IsConnected returns the current connection state.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected && c.client != nil && c.client.IsConnected()
}

// SetOnConnect replaces the connect callback. Use it when the callback's
// receiver is built after the client.
func (c *Client) SetOnConnect(callback func()) {
	c.callbackMu.Lock()
	c.onConnect = callback
	c.callbackMu.Unlock()
}

// wrapHandler wraps a MessageHandler with panic recovery and optional logging.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		c.dispatch(handler, msg.Topic(), msg.Payload())
	}
}

func (c *Client) dispatch(handler MessageHandler, topic string, payload []byte) {
	defer func() {
		if r := recover(); r != nil && c.logger != nil {
			c.logger.Error("MQTT handler panic recovered",
				"topic", topic,
				"panic", r,
			)
		}
	}()

	if err := handler(topic, payload); err != nil && c.logger != nil {
		c.logger.Warn("MQTT handler returned error",
			"topic", topic,
			"error", err,
		)
	}
}
