// Package publish streams per-frame overlay and score results to a remote display.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/andresmejia3/facegate/internal/pipeline"
	"github.com/andresmejia3/facegate/internal/types"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// DefaultTopic is used when no topic is configured.
const DefaultTopic = "facegate/frames"

// Event is the JSON payload published once per analyzed frame.
type Event struct {
	SessionID  string                `json:"session_id,omitempty"`
	FrameIndex int                   `json:"frame_index"`
	Timestamp  time.Time             `json:"timestamp"`
	Surface    types.Size            `json:"surface"`
	Faces      []pipeline.FaceResult `json:"faces"`
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close()
}

// Nop discards every event. It is used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close()                               {}

// client is the part of mqtt.Client the publisher uses.
type client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

type MQTTPublisher struct {
	client client
	topic  string
}

// NewMQTTPublisher connects to broker with a random client id.
func NewMQTTPublisher(broker, topic string) (*MQTTPublisher, error) {
	if topic == "" {
		topic = DefaultTopic
	}
	opts := mqtt.NewClientOptions().AddBroker(broker).SetClientID("facegate-" + uuid.New().String())
	opts.SetKeepAlive(2 * time.Second)
	opts.SetPingTimeout(1 * time.Second)
	opts.SetConnectTimeout(30 * time.Second)
	opts.SetAutoReconnect(true)

	c := mqtt.NewClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", broker, token.Error())
	}
	return &MQTTPublisher{client: c, topic: topic}, nil
}

// Publish sends ev at QoS 0 and waits for the client to hand it off or ctx to end.
func (p *MQTTPublisher) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	token := p.client.Publish(p.topic, 0, false, payload)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *MQTTPublisher) Close() {
	p.client.Disconnect(250)
}
