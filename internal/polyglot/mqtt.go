package polyglot

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTOptions configures the connection to the Polyglot broker.
type MQTTOptions struct {
	Host     string
	Port     int
	ClientID string
	Username string
	Password string

	// TLS is used when CAFile is set; CertFile/KeyFile add a client certificate.
	CAFile   string
	CertFile string
	KeyFile  string
}

// MQTTTransport is a Transport backed by paho.
type MQTTTransport struct {
	client    mqtt.Client
	opts      MQTTOptions
	logger    *slog.Logger
	mu        sync.RWMutex
	connected bool
	subs      map[string]func(payload []byte)

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewMQTTTransport builds the paho client. It does not connect.
func NewMQTTTransport(o MQTTOptions, logger *slog.Logger) (*MQTTTransport, error) {
	t := &MQTTTransport{
		opts:   o,
		logger: logger.With("component", "mqtt"),
		subs:   make(map[string]func(payload []byte)),
		stopCh: make(chan struct{}),
	}

	scheme := "tcp"
	opts := mqtt.NewClientOptions()
	if o.CAFile != "" {
		tlsCfg, err := loadTLSConfig(o)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, o.Host, o.Port))
	opts.SetClientID(o.ClientID)
	if o.Username != "" {
		opts.SetUsername(o.Username)
		opts.SetPassword(o.Password)
	}

	// Session settings
	opts.SetCleanSession(true)
	opts.SetOrderMatters(false)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)

	// Keepalive / timeouts
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	// Clean sessions drop subscriptions, so they are renewed on every connect.
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		t.setConnected(true)
		t.logger.Info("mqtt connected", "host", o.Host, "port", o.Port)
		t.resubscribe(c)
	})

	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		t.setConnected(false)
		t.logger.Warn("mqtt connection lost", "error", err)
	})

	t.client = mqtt.NewClient(opts)
	return t, nil
}

func loadTLSConfig(o MQTTOptions) (*tls.Config, error) {
	caPEM, err := os.ReadFile(o.CAFile)
	if err != nil {
		return nil, fmt.Errorf("read mqtt ca: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("mqtt ca %s holds no certificates", o.CAFile)
	}
	cfg := &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
	if o.CertFile != "" && o.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(o.CertFile, o.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load mqtt client cert: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}

// Connect establishes connection to the broker.
// This function waits for the initial connection, and respects ctx and Disconnect().
func (t *MQTTTransport) Connect(ctx context.Context) error {
	select {
	case <-t.stopCh:
		return fmt.Errorf("transport stopped")
	default:
	}

	if t.IsConnected() {
		return nil
	}

	token := t.client.Connect()

	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			if err := token.Error(); err != nil {
				return fmt.Errorf("mqtt connect: %w", err)
			}
			return nil
		}

		select {
		case <-ctx.Done():
			t.client.Disconnect(0)
			return ctx.Err()
		case <-t.stopCh:
			t.client.Disconnect(0)
			return fmt.Errorf("transport stopped")
		default:
		}
	}
}

// Subscribe registers handler for topic. Subscriptions made before Connect are
// applied once the connection is up.
func (t *MQTTTransport) Subscribe(topic string, handler func(payload []byte)) error {
	t.mu.Lock()
	t.subs[topic] = handler
	t.mu.Unlock()

	if !t.IsConnected() {
		return nil
	}
	return t.subscribe(t.client, topic, handler)
}

func (t *MQTTTransport) subscribe(c mqtt.Client, topic string, handler func(payload []byte)) error {
	qos := byte(1)
	token := c.Subscribe(topic, qos, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Payload())
	})
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("subscribe timeout for topic %s", topic)
	}
	if token.Error() != nil {
		return fmt.Errorf("subscribe to %s: %w", topic, token.Error())
	}
	t.logger.Info("subscribed to mqtt topic", "topic", topic, "qos", qos)
	return nil
}

func (t *MQTTTransport) resubscribe(c mqtt.Client) {
	t.mu.RLock()
	subs := make(map[string]func(payload []byte), len(t.subs))
	for k, v := range t.subs {
		subs[k] = v
	}
	t.mu.RUnlock()

	// Waiting for SUBACK inside the connect callback would stall paho's router.
	go func() {
		for topic, h := range subs {
			if err := t.subscribe(c, topic, h); err != nil {
				t.logger.Error("resubscribe failed", "topic", topic, "error", err)
			}
		}
	}()
}

// Publish sends payload to topic with QoS 1, not retained.
func (t *MQTTTransport) Publish(topic string, payload []byte) error {
	if !t.IsConnected() {
		return fmt.Errorf("mqtt client not connected")
	}

	token := t.client.Publish(topic, 1, false, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish timeout for topic %s", topic)
	}
	if token.Error() != nil {
		t.logger.Error("failed to publish", "topic", topic, "error", token.Error())
		return fmt.Errorf("publish: %w", token.Error())
	}

	t.logger.Debug("published", "topic", topic, "size", len(payload))
	return nil
}

// IsConnected returns whether the client is connected.
func (t *MQTTTransport) IsConnected() bool {
	t.mu.RLock()
	connected := t.connected
	t.mu.RUnlock()
	return connected && t.client.IsConnected()
}

// Disconnect stops the transport and closes the MQTT connection.
// Idempotent and safe to call multiple times.
func (t *MQTTTransport) Disconnect() {
	t.stopOnce.Do(func() { close(t.stopCh) })

	if t.client != nil {
		t.client.Disconnect(250)
	}

	t.setConnected(false)
	t.logger.Info("mqtt disconnected")
}

func (t *MQTTTransport) setConnected(v bool) {
	t.mu.Lock()
	t.connected = v
	t.mu.Unlock()
}
