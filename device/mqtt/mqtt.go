// Package mqtt publishes packets heard on RF to an MQTT broker as JSON.
package mqtt

import (
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	paho "github.com/eclipse/paho.mqtt.golang"

	"kissgate/aprs"
	"kissgate/packet"
)

const (
	connectTimeout = 10 * time.Second
	retryInterval  = 30 * time.Second
	quiesceMillis  = 250
)

// Config holds the broker settings.
type Config struct {
	Server   string // e.g. "tcp://localhost:1883"
	Username string
	Password string
	Topic    string // Prefix, the station callsign is appended
	Callsign string
}

// Client is the part of the paho client the publisher uses.
type Client interface {
	Connect() paho.Token
	IsConnectionOpen() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Disconnect(quiesce uint)
}

// Message is the JSON document published for each packet.
type Message struct {
	Source      string    `json:"source"`
	Destination string    `json:"destination"`
	Path        string    `json:"path"`
	Type        string    `json:"type"`
	Data        string    `json:"data"`
	Received    time.Time `json:"received,omitzero"`
}

// NewMessage converts a packet for publishing.
func NewMessage(p *packet.Packet) Message {
	return Message{
		Source:      p.Source,
		Destination: p.Destination,
		Path:        strings.Join(p.Path, ","),
		Type:        aprs.Classify(p.Source, p.Body).Type.String(),
		Data:        p.Body,
		Received:    p.Received,
	}
}

// Topic joins the configured prefix and the station callsign.
func Topic(prefix, callsign string) string {
	return strings.TrimSuffix(prefix, "/") + "/" + callsign
}

// Stats is a snapshot of the publisher counters.
type Stats struct {
	Connected bool
	Published uint64
	Dropped   uint64
	Failed    uint64
}

// Publisher is a task publishing one queued packet per step. paho keeps
// the connection up in its own goroutines.
type Publisher struct {
	client Client
	topic  string
	queue  *packet.Queue[*packet.Packet]
	log    *log.Logger

	inflight []paho.Token

	published, dropped, failed atomic.Uint64
}

// Dial creates a publisher with a paho client for conf. Nothing connects
// before Setup.
func Dial(conf Config, queue *packet.Queue[*packet.Packet], logger *log.Logger) *Publisher {
	opts := paho.NewClientOptions().
		AddBroker(conf.Server).
		SetClientID("kissgate-" + conf.Callsign).
		SetUsername(conf.Username).
		SetPassword(conf.Password).
		SetConnectTimeout(connectTimeout).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(retryInterval).
		SetOnConnectHandler(func(paho.Client) {
			logger.Info("Connected to MQTT broker", "server", conf.Server)
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			logger.Warn("MQTT connection lost", "err", err)
		})

	return New(paho.NewClient(opts), Topic(conf.Topic, conf.Callsign), queue, logger)
}

// New creates a publisher on an existing client.
func New(client Client, topic string, queue *packet.Queue[*packet.Packet], logger *log.Logger) *Publisher {
	return &Publisher{client: client, topic: topic, queue: queue, log: logger}
}

func (p *Publisher) Name() string { return "mqtt" }

// Setup starts connecting. The client retries in the background, so a
// broker that is down does not stop the gateway.
func (p *Publisher) Setup(context.Context) error {
	p.client.Connect()
	p.log.Info("Publishing heard packets", "topic", p.topic)
	return nil
}

func (p *Publisher) Step(context.Context) error {
	p.reap()

	pkt, ok := p.queue.Pop()
	if !ok {
		return nil
	}
	if !p.client.IsConnectionOpen() {
		p.dropped.Add(1)
		return nil
	}

	payload, err := json.Marshal(NewMessage(pkt))
	if err != nil {
		p.dropped.Add(1)
		p.log.Warn("Cannot encode packet", "packet", pkt, "err", err)
		return nil
	}

	p.inflight = append(p.inflight, p.client.Publish(p.topic, 0, false, payload))
	return nil
}

// reap collects finished publishes without waiting for the others.
func (p *Publisher) reap() {
	pending := p.inflight[:0]
	for _, tok := range p.inflight {
		select {
		case <-tok.Done():
			if err := tok.Error(); err != nil {
				p.failed.Add(1)
				p.log.Warn("Publish failed", "err", err)
			} else {
				p.published.Add(1)
			}
		default:
			pending = append(pending, tok)
		}
	}
	clear(p.inflight[len(pending):])
	p.inflight = pending
}

// Close disconnects from the broker.
func (p *Publisher) Close() error {
	p.client.Disconnect(quiesceMillis)
	return nil
}

func (p *Publisher) Stats() Stats {
	return Stats{
		Connected: p.client.IsConnectionOpen(),
		Published: p.published.Load(),
		Dropped:   p.dropped.Load(),
		Failed:    p.failed.Load(),
	}
}
