// Package kafkasource implements the optional streaming row source
// described in SPEC_FULL.md §2 Component H: rows sourced from a Kafka
// topic instead of (or in addition to) a CSV file, feeding the same
// AddRow path. Adapted from the teacher's internal/kafka/client.go
// reader/writer constructors; each message's value is treated as one
// CSV-encoded row record, decoded the same way csvsource decodes a CSV
// file line.
package kafkasource

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"time"

	kafka "github.com/segmentio/kafka-go"
)

// Event mirrors csvsource.Event: either a successfully decoded Row, or a
// ParseErr describing why a message's value could not be tokenized.
type Event struct {
	Row      []string
	ParseErr error
}

// NewReader returns a Kafka reader configured for a single consumer
// pulling a topic from the beginning, matching the teacher's ReaderConfig
// in internal/kafka/client.go.
func NewReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1 * 1024 * 1024,
		MaxBytes:       32 * 1024 * 1024,
		CommitInterval: time.Second,
		StartOffset:    kafka.FirstOffset,
		GroupBalancers: []kafka.GroupBalancer{kafka.RangeGroupBalancer{}},
	})
}

// NewWriter returns a Kafka writer suitable for seeding a topic with row
// records (used by cmd/genrows), matching the teacher's WriterConfig.
func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		RequiredAcks: kafka.RequireOne,
		Balancer:     &kafka.LeastBytes{},
		Async:        true,
		BatchTimeout: 150 * time.Millisecond,
		BatchSize:    10000,
		BatchBytes:   16 * 1024 * 1024,
		Compression:  kafka.Snappy,
	}
}

// ForEachMessage reads r until ctx is done, a read fails, or fn returns
// an error, invoking fn once per message (successful decode or not).
// Reaching the end of the topic does not end the loop: ReadMessage
// blocks waiting for further messages. The per-message contract exactly
// mirrors csvsource.ForEachRow's row-level event contract so the
// engine's AddFromKafka can share AddFile's per-event position
// accounting.
func ForEachMessage(ctx context.Context, r *kafka.Reader, fn func(Event) error) error {
	for {
		msg, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}

		row, perr := decodeRow(msg.Value)
		if perr != nil {
			if cbErr := fn(Event{ParseErr: perr}); cbErr != nil {
				return cbErr
			}
			continue
		}
		if cbErr := fn(Event{Row: row}); cbErr != nil {
			return cbErr
		}
	}
}

func decodeRow(value []byte) ([]string, error) {
	r := csv.NewReader(bytes.NewReader(value))
	r.FieldsPerRecord = -1
	return r.Read()
}
