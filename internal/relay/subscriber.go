package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	reconnectBase = 2 * time.Second
	reconnectMax  = time.Minute
)

// Handler receives each workout record event as it arrives. EOSE for the
// subscription is signaled once through the stored flag: events delivered
// before it are stored history, events after it are live.
type Handler func(event Event, stored bool)

// Subscriber maintains a subscription to one relay, reconnecting with
// exponential backoff when the connection drops.
type Subscriber struct {
	url    string
	filter Filter
	logger *log.Logger
}

func NewSubscriber(url string, filter Filter, logger *log.Logger) *Subscriber {
	if logger == nil {
		logger = log.Default()
	}
	if len(filter.Kinds) == 0 {
		filter.Kinds = []int{KindWorkoutRecord}
	}
	return &Subscriber{url: url, filter: filter, logger: logger}
}

// Run connects and re-subscribes until ctx is canceled. Each successful
// connection resets the backoff.
func (s *Subscriber) Run(ctx context.Context, handler Handler) error {
	attempt := 0
	for {
		err := s.subscribeOnce(ctx, handler)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		attempt++

		delay := reconnectBase << min(attempt-1, 5)
		if delay > reconnectMax {
			delay = reconnectMax
		}
		s.logger.Printf("[relay] connection to %s lost (%v), reconnecting in %s", s.url, err, delay)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Subscriber) subscribeOnce(ctx context.Context, handler Handler) error {
	conn, _, err := websocket.Dial(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dialing relay: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")
	conn.SetReadLimit(1 << 20)

	subID := uuid.NewString()
	if err := wsjson.Write(ctx, conn, []any{"REQ", subID, s.filter}); err != nil {
		return fmt.Errorf("sending subscription: %w", err)
	}

	stored := true
	for {
		var frame []json.RawMessage
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			return fmt.Errorf("reading frame: %w", err)
		}
		if len(frame) == 0 {
			continue
		}

		var kind string
		if err := json.Unmarshal(frame[0], &kind); err != nil {
			continue
		}

		switch kind {
		case "EVENT":
			if len(frame) < 3 {
				continue
			}
			var event Event
			if err := json.Unmarshal(frame[2], &event); err != nil {
				s.logger.Printf("[relay] dropping malformed event: %v", err)
				continue
			}
			handler(event, stored)
		case "EOSE":
			stored = false
		case "CLOSED":
			return errors.New("relay closed subscription")
		case "NOTICE":
			if len(frame) >= 2 {
				var msg string
				json.Unmarshal(frame[1], &msg)
				s.logger.Printf("[relay] notice from %s: %s", s.url, msg)
			}
		}
	}
}
