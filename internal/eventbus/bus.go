// Package eventbus fans applied session events out to live subscribers
// using watermill.
package eventbus

import (
	"context"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog"

	"github.com/ent0n29/converse/internal/logging"
	"github.com/ent0n29/converse/internal/session"
)

const (
	topicPrefix = "session."
	metaSession = "session_id"
	metaType    = "event_type"
)

// Topic is the watermill topic carrying one session's events.
func Topic(sessionID string) string { return topicPrefix + sessionID }

// Bus publishes session events. Publishing with no subscribers drops the
// events; the session store stays the source of truth.
type Bus struct {
	pubsub *gochannel.GoChannel

	mu     sync.RWMutex
	closed bool
}

func New() *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{OutputChannelBuffer: 100, Persistent: false},
			NewLogger(logging.With().Str("component", "eventbus").Logger()),
		),
	}
}

// Publish sends events in order on the session's topic.
func (b *Bus) Publish(sessionID string, events ...session.Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed || len(events) == 0 {
		return nil
	}

	msgs := make([]*message.Message, 0, len(events))
	for _, e := range events {
		payload, err := session.MarshalEvent(e)
		if err != nil {
			return err
		}
		msg := message.NewMessage(watermill.NewUUID(), payload)
		msg.Metadata.Set(metaSession, sessionID)
		msg.Metadata.Set(metaType, string(e.Type()))
		msgs = append(msgs, msg)
	}
	return b.pubsub.Publish(Topic(sessionID), msgs...)
}

// Subscribe streams the session's events until ctx ends or the bus closes.
func (b *Bus) Subscribe(ctx context.Context, sessionID string) (<-chan session.Event, error) {
	msgs, err := b.pubsub.Subscribe(ctx, Topic(sessionID))
	if err != nil {
		return nil, err
	}

	out := make(chan session.Event, 16)
	go func() {
		defer close(out)
		for msg := range msgs {
			e, err := session.UnmarshalEvent(msg.Payload)
			msg.Ack()
			if err != nil {
				logging.Warn().Err(err).Str("session_id", sessionID).Msg("dropping undecodable bus event")
				continue
			}
			select {
			case out <- e:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.pubsub.Close()
}

// Logger adapts zerolog to watermill.
type Logger struct {
	log zerolog.Logger
}

func NewLogger(log zerolog.Logger) watermill.LoggerAdapter {
	return Logger{log: log}
}

func (l Logger) Error(msg string, err error, fields watermill.LogFields) {
	l.log.Error().Err(err).Fields(map[string]any(fields)).Msg(msg)
}

func (l Logger) Info(msg string, fields watermill.LogFields) {
	l.log.Info().Fields(map[string]any(fields)).Msg(msg)
}

func (l Logger) Debug(msg string, fields watermill.LogFields) {
	l.log.Debug().Fields(map[string]any(fields)).Msg(msg)
}

func (l Logger) Trace(msg string, fields watermill.LogFields) {
	l.log.Trace().Fields(map[string]any(fields)).Msg(msg)
}

func (l Logger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return Logger{log: l.log.With().Fields(map[string]any(fields)).Logger()}
}
