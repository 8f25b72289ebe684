package mqtt

import (
	"context"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/topicbridge/internal/infrastructure/config"
)

// Token is the completion handle of a transport operation.
// pahomqtt.Token satisfies it.
type Token interface {
	Done() <-chan struct{}
	Error() error
}

// TransportHandlers are the callbacks a Transport reports session activity to.
// They may be invoked from any goroutine.
type TransportHandlers struct {
	OnConnect        func()
	OnConnectionLost func(err error)
	OnReconnecting   func()
	OnMessage        func(topic string, payload []byte)
}

// Transport is the broker client the Manager drives.
// Messages for every subscription are delivered to TransportHandlers.OnMessage.
type Transport interface {
	Connect() Token
	Subscribe(topic string, qos byte) Token
	Publish(topic string, qos byte, retain bool, payload []byte) Token
	Disconnect(quiesce uint)
	IsConnected() bool
}

// TransportFactory builds a Transport for one session.
type TransportFactory func(cfg config.MQTTConfig, h TransportHandlers) (Transport, error)

// pahoTransport adapts paho.mqtt.golang to Transport.
type pahoTransport struct {
	client pahomqtt.Client
}

// NewPahoTransport is the default TransportFactory.
func NewPahoTransport(cfg config.MQTTConfig, h TransportHandlers) (Transport, error) {
	opts, err := buildClientOptions(cfg)
	if err != nil {
		return nil, err
	}

	opts.SetDefaultPublishHandler(func(_ pahomqtt.Client, msg pahomqtt.Message) {
		h.OnMessage(msg.Topic(), msg.Payload())
	})
	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		h.OnConnect()
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		h.OnConnectionLost(err)
	})
	opts.SetReconnectingHandler(func(_ pahomqtt.Client, _ *pahomqtt.ClientOptions) {
		h.OnReconnecting()
	})

	return &pahoTransport{client: pahomqtt.NewClient(opts)}, nil
}

func (p *pahoTransport) Connect() Token {
	return p.client.Connect()
}

func (p *pahoTransport) Subscribe(topic string, qos byte) Token {
	tok := p.client.Subscribe(topic, qos, nil)
	if st, ok := tok.(*pahomqtt.SubscribeToken); ok {
		return &subackToken{SubscribeToken: st, topic: topic}
	}
	return tok
}

func (p *pahoTransport) Publish(topic string, qos byte, retain bool, payload []byte) Token {
	return p.client.Publish(topic, qos, retain, payload)
}

func (p *pahoTransport) Disconnect(quiesce uint) {
	p.client.Disconnect(quiesce)
}

func (p *pahoTransport) IsConnected() bool {
	return p.client.IsConnected()
}

// subackFailure is the SUBACK return code for a rejected subscription.
const subackFailure = 0x80

// subackToken reports a broker-rejected subscription as an error.
type subackToken struct {
	*pahomqtt.SubscribeToken
	topic string
}

func (t *subackToken) Error() error {
	if err := t.SubscribeToken.Error(); err != nil {
		return err
	}
	if code, ok := t.Result()[t.topic]; ok && code == subackFailure {
		return fmt.Errorf("broker rejected subscription to %s", t.topic)
	}
	return nil
}

// waitToken blocks until tok completes, timeout elapses or ctx is done.
func waitToken(ctx context.Context, tok Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-tok.Done():
		return tok.Error()
	case <-timer.C:
		return fmt.Errorf("%w after %v", ErrTimeout, timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}
