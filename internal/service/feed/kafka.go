package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"TrapFlow/internal/domain/models"
	"TrapFlow/pkg/logger"
)

// KafkaSource consumes ticks from a topic, for replaying recorded sessions
// or bridging an upstream collector. Messages share the trade wire format
// of the WebSocket feed.
type KafkaSource struct {
	brokers []string
	topic   string
	groupID string
	buffer  int
	log     *logger.Logger

	reader    *kafka.Reader
	connected atomic.Bool
}

func NewKafkaSource(brokers []string, topic, groupID string, buffer int, log *logger.Logger) *KafkaSource {
	if buffer <= 0 {
		buffer = 1024
	}
	return &KafkaSource{
		brokers: brokers,
		topic:   topic,
		groupID: groupID,
		buffer:  buffer,
		log:     log,
	}
}

func (s *KafkaSource) Connect(context.Context) error {
	if len(s.brokers) == 0 || s.topic == "" {
		return fmt.Errorf("kafka feed: brokers and topic required")
	}
	s.reader = kafka.NewReader(kafka.ReaderConfig{
		Brokers:     s.brokers,
		Topic:       s.topic,
		GroupID:     s.groupID,
		MinBytes:    1,
		MaxBytes:    10 * 1024 * 1024,
		StartOffset: kafka.LastOffset,
	})
	s.connected.Store(true)
	s.log.Info("kafka feed ready",
		logger.String("topic", s.topic),
		logger.Strings("brokers", s.brokers))
	return nil
}

// Subscribe is a no-op; group membership happens on first fetch.
func (s *KafkaSource) Subscribe(context.Context) error { return nil }

func (s *KafkaSource) Read(ctx context.Context) (<-chan *models.Tick, <-chan error) {
	ticks := make(chan *models.Tick, s.buffer)
	errs := make(chan error, 1)

	go func() {
		defer close(ticks)
		defer close(errs)
		for {
			msg, err := s.reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				s.connected.Store(false)
				errs <- fmt.Errorf("kafka read: %w", err)
				return
			}
			var d wsTrade
			if err := json.Unmarshal(msg.Value, &d); err != nil {
				// skip malformed records rather than stalling the partition
				continue
			}
			t := &models.Tick{
				Timestamp:  d.T,
				Price:      decimal.NewFromFloat(d.P),
				Volume:     decimal.NewFromFloat(d.V),
				Source:     "kafka",
				ReceivedAt: time.Now().UTC(),
			}
			select {
			case ticks <- t:
			default:
			}
		}
	}()

	return ticks, errs
}

func (s *KafkaSource) Reconnect(ctx context.Context) error {
	_ = s.Close()
	return s.Connect(ctx)
}

func (s *KafkaSource) Close() error {
	s.connected.Store(false)
	if s.reader != nil {
		err := s.reader.Close()
		s.reader = nil
		return err
	}
	return nil
}

func (s *KafkaSource) IsConnected() bool { return s.connected.Load() }
