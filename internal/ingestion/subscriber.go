package ingestion

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// RawEvent is a feed message pulled off JetStream, not yet parsed.
type RawEvent struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
	AckFunc   func() error
	NakFunc   func() error
}

// SubjectConfig binds a NATS subject to its durable consumer.
type SubjectConfig struct {
	Subject      string
	ConsumerName string
	StreamName   string
}

// DefaultSubjects covers the two inbound feeds: per-currency price
// rounds and the global debt ratio.
func DefaultSubjects(prefix string) []SubjectConfig {
	return []SubjectConfig{
		{
			Subject:      prefix + ".prices.>",
			ConsumerName: "synthpool-prices",
			StreamName:   "SYNTH_PRICES",
		},
		{
			Subject:      prefix + ".debtratio",
			ConsumerName: "synthpool-debtratio",
			StreamName:   "SYNTH_DEBTRATIO",
		},
	}
}

// NATSSubscriber consumes feed subjects and forwards raw messages to
// the feed runner's channel.
type NATSSubscriber struct {
	js        jetstream.JetStream
	eventChan chan<- RawEvent
	consumers []jetstream.ConsumeContext
}

func NewNATSSubscriber(js jetstream.JetStream, eventChan chan<- RawEvent) *NATSSubscriber {
	return &NATSSubscriber{js: js, eventChan: eventChan}
}

// Subscribe creates durable consumers for each subject and starts
// consuming. Messages are acked by the feed runner after processing.
func (s *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, sc := range subjects {
		cons, err := s.js.CreateOrUpdateConsumer(ctx, sc.StreamName, jetstream.ConsumerConfig{
			Durable:       sc.ConsumerName,
			FilterSubject: sc.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s on stream %s: %w", sc.ConsumerName, sc.StreamName, err)
		}

		cc, err := cons.Consume(func(msg jetstream.Msg) {
			raw := RawEvent{
				Subject:   msg.Subject(),
				Data:      msg.Data(),
				Timestamp: time.Now(),
				AckFunc:   msg.Ack,
				NakFunc:   msg.Nak,
			}
			select {
			case s.eventChan <- raw:
			case <-ctx.Done():
				if err := msg.Nak(); err != nil {
					log.Printf("ingestion: nak during shutdown failed: %v", err)
				}
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", sc.Subject, err)
		}
		s.consumers = append(s.consumers, cc)
	}
	return nil
}

// Stop drains all active consumers.
func (s *NATSSubscriber) Stop() {
	for _, cc := range s.consumers {
		cc.Stop()
	}
	s.consumers = nil
}

// EnsureStreams creates the inbound feed streams if they do not exist.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, prefix string) error {
	streams := []jetstream.StreamConfig{
		{
			Name:      "SYNTH_PRICES",
			Subjects:  []string{prefix + ".prices.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "SYNTH_DEBTRATIO",
			Subjects:  []string{prefix + ".debtratio"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
	}
	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("ensure stream %s: %w", cfg.Name, err)
		}
	}
	return nil
}

// ConnectNATS dials the server with indefinite reconnects.
func ConnectNATS(url string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Printf("ingestion: nats disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("ingestion: nats reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("create jetstream context: %w", err)
	}
	return nc, js, nil
}
