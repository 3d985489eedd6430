// Package nats implements the message queue port using NATS JetStream, the
// remote execution provider over core NATS request/reply, and the event
// publisher that mirrors broadcaster traffic onto the stream.
package nats

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/ccivlcid/agentoffice-sub001/internal/logger"
	"github.com/ccivlcid/agentoffice-sub001/internal/port/messagequeue"
)

const (
	streamName       = "AGENTOFFICE"
	headerRequestID  = "X-Request-ID"
	headerRetryCount = "Retry-Count"
	maxRetries       = 3
	dlqSuffix        = ".dlq"
)

// Queue implements messagequeue.Queue using NATS JetStream.
type Queue struct {
	nc *nats.Conn
	js jetstream.JetStream
}

// Connect establishes a connection to NATS and ensures the JetStream stream exists.
func Connect(ctx context.Context, url string) (*Queue, error) {
	nc, err := nats.Connect(url,
		nats.Name("agentoffice"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	// Ensure the stream exists with subjects matching our topic patterns.
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     streamName,
		Subjects: []string{messagequeue.SubjectEventPrefix + ".>", "commands.>"},
		MaxAge:   72 * time.Hour,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream stream create: %w", err)
	}

	slog.Info("nats connected", "url", url, "stream", streamName)
	return &Queue{nc: nc, js: js}, nil
}

// Conn exposes the core connection for request/reply users.
func (q *Queue) Conn() *nats.Conn { return q.nc }

// Publish sends a message to the given subject, carrying the request ID
// from ctx as a header.
func (q *Queue) Publish(ctx context.Context, subject string, data []byte) error {
	msg := &nats.Msg{Subject: subject, Data: data, Header: nats.Header{}}
	if reqID := logger.RequestID(ctx); reqID != "" {
		msg.Header.Set(headerRequestID, reqID)
	}
	if _, err := q.js.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}

// PublishAsync sends a message without waiting for the stream ack.
func (q *Queue) PublishAsync(subject string, data []byte) error {
	if _, err := q.js.PublishAsync(subject, data); err != nil {
		return fmt.Errorf("nats publish async %s: %w", subject, err)
	}
	return nil
}

// Subscribe registers a handler for messages on the given subject.
// Payloads failing schema validation go straight to "<subject>.dlq".
// Handler failures are republished with an incremented retry count until
// maxRetries, then dead-lettered.
func (q *Queue) Subscribe(ctx context.Context, subject string, handler messagequeue.Handler) (func(), error) {
	consumer, err := q.js.CreateOrUpdateConsumer(ctx, streamName, jetstream.ConsumerConfig{
		Durable:       consumerName(subject),
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("nats consumer create: %w", err)
	}

	cons, err := consumer.Consume(func(msg jetstream.Msg) {
		q.handle(msg, handler)
	})
	if err != nil {
		return nil, fmt.Errorf("nats consume: %w", err)
	}

	return cons.Stop, nil
}

func (q *Queue) handle(msg jetstream.Msg, handler messagequeue.Handler) {
	ctx := context.Background()
	hdrs := msg.Headers()
	if reqID := hdrs.Get(headerRequestID); reqID != "" {
		ctx = logger.WithRequestID(ctx, reqID)
	}
	log := logger.From(ctx).With("subject", msg.Subject())

	if err := messagequeue.Validate(msg.Subject(), msg.Data()); err != nil {
		log.Warn("message failed validation", "error", err)
		q.moveToDLQ(ctx, msg)
		return
	}

	if err := handler(ctx, msg.Subject(), msg.Data()); err != nil {
		n := retryCount(hdrs)
		log.Error("message handler failed", "error", err, "retry", n)
		if n >= maxRetries {
			q.moveToDLQ(ctx, msg)
			return
		}
		retry := &nats.Msg{Subject: msg.Subject(), Data: msg.Data(), Header: nats.Header{}}
		if reqID := hdrs.Get(headerRequestID); reqID != "" {
			retry.Header.Set(headerRequestID, reqID)
		}
		retry.Header.Set(headerRetryCount, strconv.Itoa(n+1))
		if _, pubErr := q.js.PublishMsg(ctx, retry); pubErr != nil {
			log.Error("nats retry publish failed", "error", pubErr)
			if nakErr := msg.Nak(); nakErr != nil {
				log.Error("nats nak failed", "error", nakErr)
			}
			return
		}
	}
	if ackErr := msg.Ack(); ackErr != nil {
		log.Error("nats ack failed", "error", ackErr)
	}
}

func (q *Queue) moveToDLQ(ctx context.Context, msg jetstream.Msg) {
	dlq := &nats.Msg{Subject: msg.Subject() + dlqSuffix, Data: msg.Data(), Header: msg.Headers()}
	if dlq.Header == nil {
		dlq.Header = nats.Header{}
	}
	if _, err := q.js.PublishMsg(ctx, dlq); err != nil {
		slog.Error("nats dlq publish failed", "subject", dlq.Subject, "error", err)
		_ = msg.Nak()
		return
	}
	if err := msg.Term(); err != nil {
		slog.Error("nats term failed", "error", err)
	}
}

func retryCount(h nats.Header) int {
	if h == nil {
		return 0
	}
	n, err := strconv.Atoi(h.Get(headerRetryCount))
	if err != nil {
		return 0
	}
	return n
}

var consumerNameReplacer = strings.NewReplacer(".", "_", "*", "any", ">", "all")

func consumerName(subject string) string {
	return "agentoffice_" + consumerNameReplacer.Replace(subject)
}

// Drain gracefully drains all subscriptions before closing.
func (q *Queue) Drain() error {
	return q.nc.Drain()
}

// Close shuts down the NATS connection.
func (q *Queue) Close() error {
	q.nc.Close()
	return nil
}

// IsConnected reports whether the underlying connection is up.
func (q *Queue) IsConnected() bool {
	return q.nc != nil && q.nc.IsConnected()
}
