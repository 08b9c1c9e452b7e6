// Package dispatch provides the durable hand-off queue between a
// completed reasoning session and the downstream system that consumes
// its final route. The queue is a JetStream work-queue stream with
// at-least-once delivery; messages carry the dispatch record ID as the
// deduplication ID, so re-enqueueing the same record (a recovery scan,
// a crashed publisher retry) never produces a duplicate delivery
// inside the dedupe window.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/stagehand-dev/stagehand/session"
)

const (
	// SubjectPrefix roots every dispatch subject.
	SubjectPrefix = "stagehand.dispatch"

	// ConsumerName is the durable consumer the downstream worker binds.
	ConsumerName = "stagehand-dispatcher"

	dedupeWindow = 10 * time.Minute
)

// Queue publishes and fetches dispatch records on a work-queue stream.
type Queue struct {
	js     jetstream.JetStream
	stream string
	logger *slog.Logger
}

// New ensures the work-queue stream exists and returns a Queue bound
// to it.
func New(ctx context.Context, js jetstream.JetStream, streamName string, logger *slog.Logger) (*Queue, error) {
	if logger == nil {
		logger = slog.Default()
	}

	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        streamName,
		Description: "Stagehand reasoning dispatch hand-offs",
		Subjects:    []string{SubjectPrefix + ".>"},
		Retention:   jetstream.WorkQueuePolicy,
		Storage:     jetstream.FileStorage,
		Duplicates:  dedupeWindow,
	})
	if err != nil {
		return nil, fmt.Errorf("ensure dispatch stream %s: %w", streamName, err)
	}

	return &Queue{js: js, stream: streamName, logger: logger}, nil
}

// Enqueue publishes a dispatch record, deduplicated on its ID.
func (q *Queue) Enqueue(ctx context.Context, rec *session.DispatchRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal dispatch record: %w", err)
	}

	subject := SubjectFor(rec.Route)
	if _, err := q.js.Publish(ctx, subject, data, jetstream.WithMsgID(rec.ID)); err != nil {
		return fmt.Errorf("publish dispatch %s: %w", rec.ID, err)
	}

	q.logger.Info("Enqueued dispatch",
		"dispatch_id", rec.ID,
		"session_id", rec.SessionID,
		"route", rec.Route,
		"subject", subject)
	return nil
}

// Delivery is one fetched dispatch record plus its ack handle.
type Delivery struct {
	Record session.DispatchRecord
	msg    jetstream.Msg
}

// Ack confirms the delivery; the work-queue stream then drops it.
func (d Delivery) Ack() error { return d.msg.Ack() }

// Nak asks for redelivery.
func (d Delivery) Nak() error { return d.msg.Nak() }

// Fetch pulls up to batch pending dispatch records, waiting at most
// maxWait for the first one. Undecodable messages are terminated so
// they do not wedge the queue.
func (q *Queue) Fetch(ctx context.Context, batch int, maxWait time.Duration) ([]Delivery, error) {
	consumer, err := q.js.CreateOrUpdateConsumer(ctx, q.stream, jetstream.ConsumerConfig{
		Durable:       ConsumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		FilterSubject: SubjectPrefix + ".>",
	})
	if err != nil {
		return nil, fmt.Errorf("ensure dispatch consumer: %w", err)
	}

	msgs, err := consumer.Fetch(batch, jetstream.FetchMaxWait(maxWait))
	if err != nil {
		return nil, fmt.Errorf("fetch dispatches: %w", err)
	}

	var deliveries []Delivery
	for msg := range msgs.Messages() {
		rec, err := decodeRecord(msg.Data())
		if err != nil {
			q.logger.Warn("Dropping undecodable dispatch message", "error", err)
			_ = msg.Term()
			continue
		}
		deliveries = append(deliveries, Delivery{Record: rec, msg: msg})
	}
	if err := msgs.Error(); err != nil {
		return deliveries, fmt.Errorf("fetch dispatches: %w", err)
	}
	return deliveries, nil
}

// SubjectFor maps a route name to its dispatch subject. Route names
// are free-form, so token separators that would break NATS subjects
// are normalized.
func SubjectFor(route string) string {
	token := strings.Map(func(r rune) rune {
		switch r {
		case '.', ' ', '*', '>':
			return '-'
		default:
			return r
		}
	}, route)
	if token == "" {
		token = "default"
	}
	return SubjectPrefix + "." + token
}

func decodeRecord(data []byte) (session.DispatchRecord, error) {
	var rec session.DispatchRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, fmt.Errorf("decode dispatch record: %w", err)
	}
	if rec.ID == "" {
		return rec, fmt.Errorf("dispatch record has no id")
	}
	return rec, nil
}
