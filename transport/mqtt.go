package transport

import (
	"context"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// MQTTConfig configures an MQTTBus.
type MQTTConfig struct {
	Broker         string
	ClientID       string
	QoS            byte
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
}

// MQTTBus is a Transport backed by an MQTT broker. It does not reconnect: a lost connection
// ends Spin with a TransportError.
type MQTTBus struct {
	cfg    MQTTConfig
	client mqtt.Client
	d      *dispatcher
	logger *zap.SugaredLogger

	mu         sync.Mutex
	publishers map[string]*mqttPublisher
	wg         sync.WaitGroup
	closeOnce  sync.Once
}

// NewMQTTBus connects to cfg.Broker.
func NewMQTTBus(cfg MQTTConfig, logger *zap.SugaredLogger) (*MQTTBus, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqtt broker address is required")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "detector-node-" + uuid.NewString()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}

	b := &MQTTBus{
		cfg:        cfg,
		d:          newDispatcher(),
		logger:     logger,
		publishers: make(map[string]*mqttPublisher),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(false)
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		b.logger.Errorw("mqtt connection lost", "broker", cfg.Broker, "error", err)
		b.d.fail(&TransportError{Err: errors.Wrap(err, "connection lost")})
	})

	b.client = mqtt.NewClient(opts)
	token := b.client.Connect()
	if !token.WaitTimeout(cfg.ConnectTimeout) {
		return nil, errors.Errorf("timed out connecting to %s", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, errors.Wrapf(err, "connecting to %s", cfg.Broker)
	}
	logger.Infow("connected to mqtt broker", "broker", cfg.Broker, "client_id", cfg.ClientID)
	return b, nil
}

func (b *MQTTBus) Subscribe(topic string, depth int, h Handler) error {
	if h == nil {
		return errors.New("nil handler")
	}
	sub := b.d.add(topic, depth, h)
	token := b.client.Subscribe(topic, b.cfg.QoS, func(_ mqtt.Client, m mqtt.Message) {
		b.d.deliver(sub, append([]byte(nil), m.Payload()...))
	})
	if !token.WaitTimeout(b.cfg.ConnectTimeout) {
		return errors.Errorf("timed out subscribing to %s", topic)
	}
	return errors.Wrapf(token.Error(), "subscribing to %s", topic)
}

func (b *MQTTBus) Advertise(topic string, depth int) (Publisher, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.publishers[topic]; ok {
		return p, nil
	}
	p := &mqttPublisher{bus: b, topic: topic, queue: NewQueue(depth)}
	b.publishers[topic] = p
	b.wg.Add(1)
	go p.run()
	return p, nil
}

func (b *MQTTBus) Spin(ctx context.Context) error {
	return b.d.spin(ctx)
}

func (b *MQTTBus) Stats() map[string]QueueStats {
	stats := make(map[string]QueueStats)
	b.d.stats(stats)
	b.mu.Lock()
	defer b.mu.Unlock()
	for topic, p := range b.publishers {
		stats[topic] = p.Stats()
	}
	return stats
}

// Close stops delivery, stops the publishers and disconnects.
func (b *MQTTBus) Close() error {
	b.closeOnce.Do(func() {
		b.d.close()
		b.mu.Lock()
		for _, p := range b.publishers {
			p.queue.Close()
		}
		b.mu.Unlock()
		b.wg.Wait()
		b.client.Disconnect(250)
		b.logger.Infow("disconnected from mqtt broker", "broker", b.cfg.Broker)
	})
	return nil
}

// mqttPublisher drains its queue on its own goroutine so Publish never waits for the broker.
type mqttPublisher struct {
	bus   *MQTTBus
	topic string
	queue *Queue
}

func (p *mqttPublisher) Publish(payload []byte) error {
	if !p.queue.Push(payload) {
		return ErrClosed
	}
	return nil
}

func (p *mqttPublisher) Stats() QueueStats {
	return p.queue.Stats()
}

func (p *mqttPublisher) run() {
	defer p.bus.wg.Done()
	for {
		select {
		case <-p.bus.d.done:
			return
		case <-p.queue.Ready():
		}
		for {
			payload, ok := p.queue.Pop()
			if !ok {
				break
			}
			token := p.bus.client.Publish(p.topic, p.bus.cfg.QoS, false, payload)
			if !token.WaitTimeout(p.bus.cfg.PublishTimeout) {
				p.bus.logger.Warnw("publish timed out", "topic", p.topic)
				continue
			}
			if err := token.Error(); err != nil {
				p.bus.logger.Warnw("publish failed", "topic", p.topic, "error", err)
			}
		}
	}
}
