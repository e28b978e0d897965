// Package mqtt mirrors light status onto an MQTT broker for other home
// automation consumers. Each light gets a retained JSON document under
// <prefix>/<light>/state; <prefix>/availability carries online/offline
// with a last-will fallback for crashes.
package mqtt

import (
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"colorlogic/internal/clock"
	"colorlogic/internal/config"
	"colorlogic/internal/control"
	"colorlogic/internal/tracker"
)

const (
	defaultPrefix   = "colorlogic"
	defaultClientID = "colorlogic"
	defaultInterval = 30 * time.Second

	connectTimeout    = 10 * time.Second
	publishTimeout    = 5 * time.Second
	disconnectQuiesce = 500 // milliseconds
)

// lightStatus is the wire document for one light. Mode and power are
// omitted while unknown rather than carrying sentinel values.
type lightStatus struct {
	Light         string `json:"light"`
	Mode          string `json:"mode,omitempty"`
	ModeIndex     int    `json:"mode_index"`
	State         string `json:"state"`
	Power         *bool  `json:"power,omitempty"`
	PendingPulses int    `json:"pending_pulses"`
	Desyncs       uint64 `json:"desyncs"`
	Updated       string `json:"updated"`
}

// Publisher republishes tracker snapshots to the broker on an interval.
// Retained topics mean subscribers always see the latest state on connect.
type Publisher struct {
	client   pahomqtt.Client
	controls *control.Registry
	clk      clock.Clock
	logger   *zap.Logger
	prefix   string
	interval time.Duration

	running bool
	stop    chan struct{}
	done    chan struct{}
}

// NewPublisher wraps an already connected client. Most callers want Connect.
// An empty prefix or non-positive interval selects the defaults.
func NewPublisher(client pahomqtt.Client, controls *control.Registry, clk clock.Clock, logger *zap.Logger, prefix string, interval time.Duration) *Publisher {
	if prefix == "" {
		prefix = defaultPrefix
	}
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Publisher{
		client:   client,
		controls: controls,
		clk:      clk,
		logger:   logger.Named("mqtt"),
		prefix:   prefix,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Connect dials the broker from config and returns a ready publisher.
func Connect(cfg config.MQTTConfig, controls *control.Registry, clk clock.Clock, logger *zap.Logger) (*Publisher, error) {
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = defaultClientID
	}

	p := NewPublisher(nil, controls, clk, logger, cfg.TopicPrefix, 0)

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(clientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetWill(p.availabilityTopic(), "offline", 1, true)
	opts.SetOnConnectHandler(func(pahomqtt.Client) {
		// Re-assert availability and state after every (re)connect.
		p.publishAvailability("online")
		p.publishAll()
	})

	p.client = pahomqtt.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("mqtt connect timeout after %s", connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return p, nil
}

// Start publishes the current state and keeps republishing on the interval.
func (p *Publisher) Start() {
	p.logger.Info("Starting MQTT status publisher",
		zap.String("prefix", p.prefix),
		zap.Duration("interval", p.interval))

	p.publishAvailability("online")
	p.publishAll()

	p.running = true
	go p.loop()
}

// Stop halts the republish loop, marks the service offline, and disconnects.
func (p *Publisher) Stop() {
	if p.running {
		close(p.stop)
		<-p.done
		p.running = false
	}

	p.publishAvailability("offline")
	p.client.Disconnect(disconnectQuiesce)
	p.logger.Info("MQTT status publisher stopped")
}

func (p *Publisher) loop() {
	defer close(p.done)
	for {
		select {
		case <-p.stop:
			return
		case <-p.clk.After(p.interval):
			p.publishAll()
		}
	}
}

func (p *Publisher) publishAll() {
	for _, name := range p.controls.Names() {
		ctrl, err := p.controls.Get(name)
		if err != nil {
			continue
		}
		p.publishStatus(name, ctrl.Status())
	}
}

func (p *Publisher) publishStatus(name string, status tracker.Status) {
	doc := lightStatus{
		Light:         name,
		State:         string(status.State),
		PendingPulses: status.PendingPulses,
		Desyncs:       status.Counters.Desyncs,
		Updated:       p.clk.Now().UTC().Format(time.RFC3339),
	}
	if status.Believed != nil {
		doc.Mode = status.Believed.Key
		doc.ModeIndex = status.Believed.Index
	}
	if status.PowerKnown {
		power := status.Power
		doc.Power = &power
	}

	payload, err := json.Marshal(doc)
	if err != nil {
		p.logger.Error("Failed to encode light status",
			zap.String("light", name),
			zap.Error(err))
		return
	}
	p.publish(p.stateTopic(name), payload)
}

func (p *Publisher) publishAvailability(value string) {
	p.publish(p.availabilityTopic(), []byte(value))
}

func (p *Publisher) publish(topic string, payload []byte) {
	token := p.client.Publish(topic, 1, true, payload)
	if !token.WaitTimeout(publishTimeout) {
		p.logger.Warn("MQTT publish timed out", zap.String("topic", topic))
		return
	}
	if err := token.Error(); err != nil {
		p.logger.Error("MQTT publish failed",
			zap.String("topic", topic),
			zap.Error(err))
	}
}

func (p *Publisher) stateTopic(name string) string {
	return p.prefix + "/" + name + "/state"
}

func (p *Publisher) availabilityTopic() string {
	return p.prefix + "/availability"
}
