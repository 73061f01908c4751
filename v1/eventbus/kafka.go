package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	sarama "github.com/IBM/sarama"
	"github.com/google/uuid"
)

// kafkaTopic carries every lease event; resources are partitioned by key.
const kafkaTopic = "reslock-events"

// KafkaBus implements Bus using a Kafka backend.
type KafkaBus struct {
	producer  sarama.SyncProducer
	consumer  sarama.Consumer
	mu        sync.Mutex
	subs      map[string][]chan Event
	started   bool
	published atomic.Uint64
	delivered atomic.Uint64
}

// NewKafkaBus creates a new KafkaBus connecting to the given brokers.
func NewKafkaBus(brokers []string, cfg *sarama.Config) (*KafkaBus, error) {
	if cfg == nil {
		cfg = sarama.NewConfig()
	}
	cfg.Producer.Return.Successes = true
	client, err := sarama.NewClient(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("eventbus: kafka client: %w", err)
	}
	producer, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("eventbus: kafka producer: %w", err)
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = producer.Close()
		_ = client.Close()
		return nil, fmt.Errorf("eventbus: kafka consumer: %w", err)
	}
	return &KafkaBus{
		producer: producer,
		consumer: consumer,
		subs:     make(map[string][]chan Event),
	}, nil
}

// Publish implements Bus.Publish.
func (b *KafkaBus) Publish(ctx context.Context, ev Event) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("eventbus: encode event: %w", err)
	}
	msg := &sarama.ProducerMessage{
		Topic: kafkaTopic,
		Key:   sarama.StringEncoder(ev.Resource),
		Value: sarama.ByteEncoder(payload),
	}
	if _, _, err := b.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("eventbus: publish: %w", err)
	}
	b.published.Add(1)
	return nil
}

// Subscribe implements Bus.Subscribe. The first subscription starts a single
// consumer over the shared topic; events are fanned out by resource name.
func (b *KafkaBus) Subscribe(ctx context.Context, resource string) (chan Event, error) {
	ch := make(chan Event, 16)
	b.mu.Lock()
	if !b.started {
		pc, err := b.consumer.ConsumePartition(kafkaTopic, 0, sarama.OffsetNewest)
		if err != nil {
			b.mu.Unlock()
			return nil, fmt.Errorf("eventbus: consume: %w", err)
		}
		b.started = true
		go b.dispatch(pc)
	}
	b.subs[resource] = append(b.subs[resource], ch)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = b.Unsubscribe(context.Background(), resource, ch)
	}()
	return ch, nil
}

func (b *KafkaBus) dispatch(pc sarama.PartitionConsumer) {
	for msg := range pc.Messages() {
		var ev Event
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			continue
		}
		b.mu.Lock()
		chans := append([]chan Event(nil), b.subs[ev.Resource]...)
		b.mu.Unlock()
		for _, c := range chans {
			select {
			case c <- ev:
				b.delivered.Add(1)
			default:
			}
		}
	}
}

// Unsubscribe implements Bus.Unsubscribe.
func (b *KafkaBus) Unsubscribe(ctx context.Context, resource string, ch chan Event) error {
	b.mu.Lock()
	subs := b.subs[resource]
	for i, c := range subs {
		if c == ch {
			subs[i] = subs[len(subs)-1]
			subs = subs[:len(subs)-1]
			b.subs[resource] = subs
			close(c)
			break
		}
	}
	if len(subs) == 0 {
		delete(b.subs, resource)
	}
	b.mu.Unlock()
	return nil
}

// Close releases the producer and consumer.
func (b *KafkaBus) Close() error {
	if err := b.producer.Close(); err != nil {
		return err
	}
	return b.consumer.Close()
}

// Metrics returns activity counters.
func (b *KafkaBus) Metrics() Metrics {
	return Metrics{
		Published: b.published.Load(),
		Delivered: b.delivered.Load(),
	}
}
