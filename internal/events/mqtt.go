package events

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTOptions configures the broker connection.
type MQTTOptions struct {
	Broker   string // e.g. tcp://localhost:1883
	ClientID string
	Topic    string // base topic; events go to <Topic>/<kind>[/<class>]
	QoS      byte
}

// MQTTPublisher publishes each event as JSON to a per-indicator topic.
type MQTTPublisher struct {
	opts   MQTTOptions
	client mqtt.Client

	mu        sync.RWMutex
	connected bool

	published atomic.Uint64
	errors    atomic.Uint64
}

// NewMQTTPublisher wraps an existing client. Use ConnectMQTT to dial.
func NewMQTTPublisher(client mqtt.Client, opts MQTTOptions) *MQTTPublisher {
	return &MQTTPublisher{opts: opts, client: client, connected: client.IsConnected()}
}

// ConnectMQTT dials the broker with automatic reconnection.
func ConnectMQTT(ctx context.Context, opts MQTTOptions) (*MQTTPublisher, error) {
	p := &MQTTPublisher{opts: opts}

	co := mqtt.NewClientOptions()
	co.AddBroker(opts.Broker)
	co.SetClientID(opts.ClientID)
	co.SetAutoReconnect(true)
	co.SetConnectRetry(true)
	co.SetConnectRetryInterval(2 * time.Second)
	co.SetMaxReconnectInterval(30 * time.Second)

	co.OnConnect = func(c mqtt.Client) {
		p.setConnected(true)
		log.Info("MQTT connected to %s as %s", opts.Broker, opts.ClientID)
	}
	co.OnConnectionLost = func(c mqtt.Client, err error) {
		p.setConnected(false)
		log.Warn("MQTT connection lost, will auto-reconnect: %v", err)
	}

	p.client = mqtt.NewClient(co)

	log.Info("Connecting to MQTT broker %s", opts.Broker)
	token := p.client.Connect()
	if !waitToken(ctx, token, 5*time.Second) {
		return nil, fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connection failed: %w", err)
	}
	p.setConnected(true)
	return p, nil
}

func waitToken(ctx context.Context, token mqtt.Token, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

func (p *MQTTPublisher) setConnected(v bool) {
	p.mu.Lock()
	p.connected = v
	p.mu.Unlock()
}

func (p *MQTTPublisher) isConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connected
}

// TopicFor returns the topic an event is published to.
func (p *MQTTPublisher) TopicFor(ev Event) string {
	base := strings.TrimSuffix(p.opts.Topic, "/")
	if ev.Class != "" {
		return fmt.Sprintf("%s/%s/%s", base, ev.Kind, ev.Class)
	}
	return fmt.Sprintf("%s/%s", base, ev.Kind)
}

// Publish sends ev and waits up to two seconds for the broker.
func (p *MQTTPublisher) Publish(ctx context.Context, ev Event) error {
	if !p.isConnected() {
		p.errors.Add(1)
		return fmt.Errorf("mqtt not connected")
	}

	payload, err := ev.JSON()
	if err != nil {
		p.errors.Add(1)
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	topic := p.TopicFor(ev)
	token := p.client.Publish(topic, p.opts.QoS, false, payload)
	if !waitToken(ctx, token, 2*time.Second) {
		p.errors.Add(1)
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		p.errors.Add(1)
		return fmt.Errorf("publish failed: %w", err)
	}

	p.published.Add(1)
	log.Debug("Published %s=%v to %s", ev.Indicator, ev.On, topic)
	return nil
}

// Stats returns how many events were published and how many failed.
func (p *MQTTPublisher) Stats() (published, failed uint64) {
	return p.published.Load(), p.errors.Load()
}

// Close disconnects with a short grace period.
func (p *MQTTPublisher) Close() error {
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
		log.Info("MQTT disconnected")
	}
	p.setConnected(false)
	return nil
}
