package events

import (
	"encoding/json"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// MQTTPublisher mirrors bus events onto an MQTT broker so external
// systems can follow job lifecycles without holding an SSE connection.
// Events are batched to keep broker chatter low.
type MQTTPublisher struct {
	conn      mqtt.Client
	topic     string
	connected atomic.Bool
	batcher   *Batcher[Event]
	cancel    func()
	log       zerolog.Logger
}

// MQTTOptions configure the publisher.
type MQTTOptions struct {
	BrokerURL string
	ClientID  string
	Topic     string
	Username  string
	Password  string
	// BatchSize and BatchInterval bound how long an event waits before
	// publication. Zero values select 16 events / 1s.
	BatchSize     int
	BatchInterval time.Duration
	Log           zerolog.Logger
}

// NewMQTTPublisher connects to the broker and starts mirroring every
// event published on the bus.
func NewMQTTPublisher(bus *Bus, opts MQTTOptions) (*MQTTPublisher, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 16
	}
	if opts.BatchInterval <= 0 {
		opts.BatchInterval = time.Second
	}

	p := &MQTTPublisher{
		topic: opts.Topic,
		log:   opts.Log.With().Str("component", "mqtt").Logger(),
	}

	clientOpts := mqtt.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOrderMatters(false).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(p.onConnectionLost)

	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		clientOpts.SetPassword(opts.Password)
	}

	p.conn = mqtt.NewClient(clientOpts)
	token := p.conn.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, err
	}

	p.batcher = NewBatcher(opts.BatchSize, opts.BatchInterval, p.flush)

	ch, cancel := bus.Subscribe(Filter{})
	p.cancel = cancel
	go func() {
		for e := range ch {
			p.batcher.Add(e)
		}
	}()

	return p, nil
}

// flush publishes one batch as a JSON array on the configured topic.
func (p *MQTTPublisher) flush(batch []Event) {
	if !p.connected.Load() {
		p.log.Debug().Int("dropped", len(batch)).Msg("mqtt disconnected, dropping batch")
		return
	}
	payload, err := json.Marshal(batch)
	if err != nil {
		return
	}
	token := p.conn.Publish(p.topic, 0, false, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		p.log.Warn().Err(err).Int("events", len(batch)).Msg("mqtt publish failed")
	}
}

func (p *MQTTPublisher) onConnect(mqtt.Client) {
	p.connected.Store(true)
	p.log.Info().Str("topic", p.topic).Msg("mqtt connected")
}

func (p *MQTTPublisher) onConnectionLost(_ mqtt.Client, err error) {
	p.connected.Store(false)
	p.log.Warn().Err(err).Msg("mqtt connection lost, will auto-reconnect")
}

// IsConnected reports broker connectivity.
func (p *MQTTPublisher) IsConnected() bool {
	return p.connected.Load()
}

// Close stops mirroring, flushes pending events and disconnects.
func (p *MQTTPublisher) Close() {
	p.log.Info().Msg("disconnecting mqtt publisher")
	if p.cancel != nil {
		p.cancel()
	}
	p.batcher.Stop()
	p.conn.Disconnect(1000)
}
