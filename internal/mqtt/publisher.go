package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/lox/solarcast/internal/forecast"
	"github.com/lox/solarcast/internal/models"
)

// Client is the part of the paho client the publisher uses.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

// Controller receives snow button presses.
type Controller interface {
	SetSnowOverride(name string, o models.SnowOverride) error
}

type Config struct {
	Broker          string // tcp://host:1883
	Username        string
	Password        string
	ClientID        string
	DiscoveryPrefix string
	BaseTopic       string
	ConnectTimeout  time.Duration // total time spent retrying the first connect
}

// Message is an outgoing MQTT message.
type Message struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

type Publisher struct {
	cfg     Config
	arrays  []models.ArrayConfig
	control Controller
	logger  *zap.Logger

	mu     sync.RWMutex
	client Client

	outgoing chan Message
}

func NewPublisher(cfg Config, arrays []models.ArrayConfig, control Controller, logger *zap.Logger) *Publisher {
	if cfg.DiscoveryPrefix == "" {
		cfg.DiscoveryPrefix = DefaultDiscoveryPrefix
	}
	if cfg.BaseTopic == "" {
		cfg.BaseTopic = DefaultBaseTopic
	}
	if cfg.ClientID == "" {
		cfg.ClientID = cfg.BaseTopic
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 2 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		cfg:      cfg,
		arrays:   arrays,
		control:  control,
		logger:   logger.Named("mqtt"),
		outgoing: make(chan Message, 64),
	}
}

func (p *Publisher) availabilityTopic() string {
	return p.cfg.BaseTopic + "/status"
}

// Connect dials the broker, retrying with exponential backoff until
// ConnectTimeout. Discovery and subscriptions are (re)sent on every
// connect.
func (p *Publisher) Connect(ctx context.Context) error {
	opts := paho.NewClientOptions()
	opts.AddBroker(p.cfg.Broker)
	opts.SetClientID(p.cfg.ClientID)
	opts.SetUsername(p.cfg.Username)
	opts.SetPassword(p.cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetWill(p.availabilityTopic(), payloadOffline, 1, true)

	opts.SetConnectionLostHandler(func(client paho.Client, err error) {
		p.logger.Warn("connection lost", zap.Error(err))
	})
	opts.SetOnConnectHandler(func(client paho.Client) {
		p.logger.Info("connected", zap.String("broker", p.cfg.Broker))
		p.announce(client)
	})

	client := paho.NewClient(opts)

	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = time.Second
	retry.MaxInterval = 30 * time.Second
	retry.MaxElapsedTime = p.cfg.ConnectTimeout

	attempt := 0
	op := func() error {
		attempt++
		token := client.Connect()
		token.Wait()
		if err := token.Error(); err != nil {
			p.logger.Warn("connect failed", zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(retry, ctx)); err != nil {
		return fmt.Errorf("connect to %s: %w", p.cfg.Broker, err)
	}

	p.mu.Lock()
	p.client = client
	p.mu.Unlock()
	return nil
}

// announce publishes discovery configs and availability and subscribes to
// the button command topics.
func (p *Publisher) announce(c Client) {
	for _, e := range Entities(p.cfg.BaseTopic, p.arrays) {
		payload, err := json.Marshal(e)
		if err != nil {
			p.logger.Error("encode discovery config", zap.String("entity", e.UniqueID), zap.Error(err))
			continue
		}
		if token := c.Publish(e.DiscoveryTopic(p.cfg.DiscoveryPrefix), 1, true, payload); token.Wait() && token.Error() != nil {
			p.logger.Warn("publish discovery config", zap.String("entity", e.UniqueID), zap.Error(token.Error()))
		}
	}
	c.Publish(p.availabilityTopic(), 1, true, payloadOnline).Wait()

	for _, arr := range p.arrays {
		topic := SnowCommandTopic(p.cfg.BaseTopic, arr)
		token := c.Subscribe(topic, 1, func(_ paho.Client, msg paho.Message) {
			p.handleCommand(msg.Topic(), msg.Payload())
		})
		if token.Wait() && token.Error() != nil {
			p.logger.Warn("subscribe", zap.String("topic", topic), zap.Error(token.Error()))
		}
	}
}

var errUnknownTopic = errors.New("unknown command topic")

func (p *Publisher) handleCommand(topic string, payload []byte) error {
	for _, arr := range p.arrays {
		if topic != SnowCommandTopic(p.cfg.BaseTopic, arr) {
			continue
		}
		o, err := models.ParseSnowOverride(strings.TrimSpace(string(payload)))
		if err != nil {
			p.logger.Warn("bad snow command", zap.String("array", arr.Name), zap.ByteString("payload", payload))
			return err
		}
		if err := p.control.SetSnowOverride(arr.Name, o); err != nil {
			p.logger.Error("set snow override", zap.String("array", arr.Name), zap.Error(err))
			return err
		}
		p.logger.Info("snow button pressed", zap.String("array", arr.Name), zap.Stringer("state", o))
		return nil
	}
	return errUnknownTopic
}

// Publish queues the state payloads. It is registered as a scheduler
// subscriber and never blocks.
func (p *Publisher) Publish(state *forecast.State) {
	msgs, err := StateMessages(p.cfg.BaseTopic, p.arrays, state)
	if err != nil {
		p.logger.Error("encode state", zap.Error(err))
		return
	}
	for _, m := range msgs {
		select {
		case p.outgoing <- Message{Topic: m.Topic, Payload: m.Payload, QoS: 0, Retain: true}:
		default:
			p.logger.Warn("outgoing queue full, dropping message", zap.String("topic", m.Topic))
		}
	}
}

// Run sends queued messages until ctx is done, then marks the device
// offline and disconnects.
func (p *Publisher) Run(ctx context.Context) {
	p.logger.Info("sender started")
	for {
		select {
		case msg := <-p.outgoing:
			p.send(msg)
		case <-ctx.Done():
			p.shutdown()
			p.logger.Info("sender stopped")
			return
		}
	}
}

func (p *Publisher) send(msg Message) {
	p.mu.RLock()
	c := p.client
	p.mu.RUnlock()
	if c == nil {
		return
	}
	token := c.Publish(msg.Topic, msg.QoS, msg.Retain, msg.Payload)
	if token.Wait() && token.Error() != nil {
		p.logger.Warn("publish failed", zap.String("topic", msg.Topic), zap.Error(token.Error()))
	}
}

func (p *Publisher) shutdown() {
	p.mu.RLock()
	c := p.client
	p.mu.RUnlock()
	if c == nil {
		return
	}
	c.Publish(p.availabilityTopic(), 1, true, payloadOffline).WaitTimeout(time.Second)
	if pc, ok := c.(paho.Client); ok && pc.IsConnected() {
		pc.Disconnect(250)
	}
}
