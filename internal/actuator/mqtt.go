package actuator

import (
	"context"
	"errors"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/oshokin/carbon-gate/internal/domain/gate"
	"github.com/oshokin/carbon-gate/internal/logger"
)

// MQTT publishes "on"/"off" payloads to a topic, retained so that a
// late-joining appliance picks up the latest command.
type MQTT struct {
	client  paho.Client
	topic   string
	timeout time.Duration
}

// MQTTOptions configures the MQTT sender.
type MQTTOptions struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string
	// Timeout bounds the first connection wait and each publish.
	Timeout time.Duration
	// RetryInterval is the pause between connection attempts while the broker is unreachable.
	RetryInterval time.Duration
}

var (
	// errPublishTimeout is returned when the broker does not acknowledge in time.
	errPublishTimeout = errors.New("publish timeout")
	// errNotConnected is returned while no broker connection is open.
	errNotConnected = errors.New("not connected to broker")
)

const (
	// defaultRetryInterval is used when MQTTOptions.RetryInterval is not set.
	defaultRetryInterval = 5 * time.Second
	// maxReconnectInterval caps the backoff between reconnects after a lost connection.
	maxReconnectInterval = time.Minute
	// disconnectQuiesce is the grace period in milliseconds for in-flight messages.
	disconnectQuiesce = 1000
)

// DialMQTT creates a sender and starts connecting to the broker. It waits up to
// opts.Timeout for the first connection; an unreachable broker is not an error,
// the client keeps retrying in the background and Send fails until it connects.
func DialMQTT(ctx context.Context, opts MQTTOptions) *MQTT {
	retryInterval := opts.RetryInterval
	if retryInterval <= 0 {
		retryInterval = defaultRetryInterval
	}

	clientOptions := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetUsername(opts.Username).
		SetPassword(opts.Password).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(maxReconnectInterval).
		SetConnectRetry(true).
		SetConnectRetryInterval(retryInterval).
		SetConnectTimeout(opts.Timeout).
		SetOnConnectHandler(func(paho.Client) {
			logger.InfoKV(ctx, "Connected to MQTT broker", "broker", opts.Broker, "topic", opts.Topic)
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			logger.WarnKV(ctx, "Lost connection to MQTT broker", "broker", opts.Broker, "error", err)
		})

	client := paho.NewClient(clientOptions)

	token := client.Connect()

	switch {
	case !token.WaitTimeout(opts.Timeout):
		logger.WarnKV(ctx, "MQTT broker unreachable, commands fail until it connects",
			"broker", opts.Broker, "retry_interval", retryInterval)
	case token.Error() != nil:
		logger.WarnKV(ctx, "Failed to connect to MQTT broker", "broker", opts.Broker, "error", token.Error())
	}

	return NewMQTT(client, opts.Topic, opts.Timeout)
}

// NewMQTT wraps a client; it does not connect it.
func NewMQTT(client paho.Client, topic string, timeout time.Duration) *MQTT {
	return &MQTT{
		client:  client,
		topic:   topic,
		timeout: timeout,
	}
}

// Send publishes the command with QoS 1.
// Nothing is queued while disconnected.
func (m *MQTT) Send(_ context.Context, command gate.Command) error {
	if !m.client.IsConnectionOpen() {
		return errNotConnected
	}

	token := m.client.Publish(m.topic, 1, true, command.String())
	if !token.WaitTimeout(m.timeout) {
		return errPublishTimeout
	}

	if err := token.Error(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}

	return nil
}

// Close disconnects from the broker.
func (m *MQTT) Close() error {
	m.client.Disconnect(disconnectQuiesce)

	return nil
}
