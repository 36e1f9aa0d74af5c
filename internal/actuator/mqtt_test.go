package actuator

import (
	"context"
	"errors"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/require"

	"github.com/oshokin/carbon-gate/internal/domain/gate"
)

var errTestBroker = errors.New("test broker error")

// fakeToken is a paho.Token that is already complete.
type fakeToken struct {
	// err is returned from Error.
	err error
	// complete controls the result of Wait and WaitTimeout.
	complete bool
}

// Wait reports whether the token completed.
func (f *fakeToken) Wait() bool { return f.complete }

// WaitTimeout reports whether the token completed.
func (f *fakeToken) WaitTimeout(time.Duration) bool { return f.complete }

// Done returns a closed channel.
func (f *fakeToken) Done() <-chan struct{} {
	done := make(chan struct{})
	close(done)

	return done
}

// Error returns the configured error.
func (f *fakeToken) Error() error { return f.err }

// published is one recorded Publish call.
type published struct {
	topic    string
	qos      byte
	retained bool
	payload  any
}

// fakeClient records publishes. Methods not overridden panic through the nil embedded interface.
type fakeClient struct {
	paho.Client

	// token is returned from Publish.
	token *fakeToken
	// messages records every Publish call.
	messages []published
	// disconnected tracks whether Disconnect was called.
	disconnected bool
	// offline makes IsConnectionOpen report a closed connection.
	offline bool
}

// IsConnectionOpen reports the configured connection state.
func (f *fakeClient) IsConnectionOpen() bool {
	return !f.offline
}

// Publish records the message and returns the configured token.
func (f *fakeClient) Publish(topic string, qos byte, retained bool, payload any) paho.Token {
	f.messages = append(f.messages, published{topic: topic, qos: qos, retained: retained, payload: payload})

	return f.token
}

// Disconnect records the call.
func (f *fakeClient) Disconnect(uint) {
	f.disconnected = true
}

// TestMQTT_Send publishes retained on/off payloads.
func TestMQTT_Send(t *testing.T) {
	t.Parallel()

	client := &fakeClient{token: &fakeToken{complete: true}}
	m := NewMQTT(client, "home/dehumidifier/set", time.Second)

	require.NoError(t, m.Send(context.Background(), gate.CommandTurnOn))
	require.NoError(t, m.Send(context.Background(), gate.CommandTurnOff))

	require.Equal(t, []published{
		{topic: "home/dehumidifier/set", qos: 1, retained: true, payload: "on"},
		{topic: "home/dehumidifier/set", qos: 1, retained: true, payload: "off"},
	}, client.messages)

	require.NoError(t, m.Close())
	require.True(t, client.disconnected)
}

// TestMQTT_SendFailures surfaces timeouts and broker errors.
func TestMQTT_SendFailures(t *testing.T) {
	t.Parallel()

	m := NewMQTT(&fakeClient{token: &fakeToken{complete: false}}, "t", time.Millisecond)
	require.ErrorIs(t, m.Send(context.Background(), gate.CommandTurnOn), errPublishTimeout)

	m = NewMQTT(&fakeClient{token: &fakeToken{complete: true, err: errTestBroker}}, "t", time.Millisecond)
	require.ErrorIs(t, m.Send(context.Background(), gate.CommandTurnOn), errTestBroker)
}

// TestMQTT_SendOffline fails fast without queueing the command.
func TestMQTT_SendOffline(t *testing.T) {
	t.Parallel()

	client := &fakeClient{token: &fakeToken{complete: true}, offline: true}
	m := NewMQTT(client, "t", time.Second)

	require.ErrorIs(t, m.Send(context.Background(), gate.CommandTurnOn), errNotConnected)
	require.Empty(t, client.messages)
}

// TestDialMQTT_UnreachableBroker returns a sender whose commands fail until the broker is up.
func TestDialMQTT_UnreachableBroker(t *testing.T) {
	t.Parallel()

	m := DialMQTT(t.Context(), MQTTOptions{
		Broker:        "tcp://127.0.0.1:1",
		ClientID:      "carbon-gate-test",
		Topic:         "t",
		Timeout:       100 * time.Millisecond,
		RetryInterval: 50 * time.Millisecond,
	})
	require.NotNil(t, m)

	defer func() {
		require.NoError(t, m.Close())
	}()

	require.ErrorIs(t, m.Send(t.Context(), gate.CommandTurnOff), errNotConnected)
}
