// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package diagnostics

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/ManuGH/streamkeeper/internal/failure"
	xglog "github.com/ManuGH/streamkeeper/internal/log"
	"github.com/ManuGH/streamkeeper/internal/metrics"
)

const (
	defaultQueueSize    = 256
	defaultBatchSize    = 32
	defaultWriteTimeout = 10 * time.Second
)

// KafkaConfig configures the failure record publisher.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	QueueSize    int
	BatchSize    int
	WriteTimeout time.Duration
}

func (c KafkaConfig) withDefaults() KafkaConfig {
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	return c
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink implements failure.Sink. Records are queued and written by a
// single worker; when the queue is full new records are dropped.
type KafkaSink struct {
	cfg    KafkaConfig
	writer messageWriter
	logger zerolog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan failure.Record
	done   chan struct{}
}

var _ failure.Sink = (*KafkaSink)(nil)

// NewKafkaSink connects a publisher to cfg.Brokers.
func NewKafkaSink(cfg KafkaConfig, logger zerolog.Logger) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("diagnostics: no kafka brokers configured")
	}
	if cfg.Topic == "" {
		return nil, errors.New("diagnostics: kafka topic is required")
	}
	cfg = cfg.withDefaults()
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchSize:              cfg.BatchSize,
		BatchTimeout:           50 * time.Millisecond,
		WriteTimeout:           cfg.WriteTimeout,
		AllowAutoTopicCreation: true,
	}
	return newKafkaSink(w, cfg, logger), nil
}

func newKafkaSink(w messageWriter, cfg KafkaConfig, logger zerolog.Logger) *KafkaSink {
	cfg = cfg.withDefaults()
	s := &KafkaSink{
		cfg:    cfg,
		writer: w,
		logger: logger.With().Str(xglog.FieldComponent, "diagnostics").Logger(),
		queue:  make(chan failure.Record, cfg.QueueSize),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

// Publish queues rec without blocking.
func (s *KafkaSink) Publish(rec failure.Record) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		metrics.IncDiagnosticsSink("dropped")
		return
	}
	select {
	case s.queue <- rec:
	default:
		metrics.IncDiagnosticsSink("dropped")
	}
}

// Close drains the queue and closes the writer.
func (s *KafkaSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	<-s.done
	return s.writer.Close()
}

func (s *KafkaSink) run() {
	defer close(s.done)

	batch := make([]failure.Record, 0, s.cfg.BatchSize)
	for rec := range s.queue {
		batch = append(batch[:0], rec)
	fill:
		for len(batch) < s.cfg.BatchSize {
			select {
			case next, ok := <-s.queue:
				if !ok {
					break fill
				}
				batch = append(batch, next)
			default:
				break fill
			}
		}
		s.write(batch)
	}
}

func (s *KafkaSink) write(batch []failure.Record) {
	msgs := make([]kafka.Message, 0, len(batch))
	for _, rec := range batch {
		value, err := json.Marshal(rec)
		if err != nil {
			metrics.IncDiagnosticsSink("failed")
			continue
		}
		key := rec.VideoID
		if key == "" {
			key = rec.ID
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(key),
			Value: value,
			Time:  rec.Timestamp,
			Headers: []kafka.Header{
				{Key: "kind", Value: []byte(rec.Kind)},
				{Key: "source", Value: []byte("streamkeeper")},
			},
		})
	}
	if len(msgs) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.WriteTimeout)
	defer cancel()
	if err := s.writer.WriteMessages(ctx, msgs...); err != nil {
		for range msgs {
			metrics.IncDiagnosticsSink("failed")
		}
		s.logger.Warn().Err(err).
			Str(xglog.FieldEvent, "diagnostics.publish_failed").
			Int("records", len(msgs)).
			Msg("failed to publish failure records")
		return
	}
	for range msgs {
		metrics.IncDiagnosticsSink("published")
	}
}
