package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/nats-io/nats.go"
	"github.com/terminal-bench/timemarket/pkg/messaging"
)

// Subjects the feed relays to websocket clients.
var relaySubjects = []string{
	"market.>",
	"ledger.>",
	"session.>",
	"governor.>",
}

// Feed fans marketplace events out to websocket subscribers. Events
// arrive from NATS; each subscriber gets its own buffered channel and a
// write pump, and slow subscribers drop updates instead of stalling the
// broadcast.
type Feed struct {
	subscribers map[uuid.UUID]*Subscriber
	mu          sync.RWMutex
	msgClient   *messaging.Client
	updates     chan messaging.Event
	shutdown    chan struct{}
	wg          sync.WaitGroup
}

// Subscriber is one connected websocket client.
type Subscriber struct {
	ID      uuid.UUID
	Conn    *websocket.Conn
	Updates chan messaging.Event
	Done    chan struct{}

	closeOnce sync.Once
}

// NewFeed creates an event feed.
func NewFeed(msgClient *messaging.Client) *Feed {
	return &Feed{
		subscribers: make(map[uuid.UUID]*Subscriber),
		msgClient:   msgClient,
		updates:     make(chan messaging.Event, 256),
		shutdown:    make(chan struct{}),
	}
}

// Start subscribes to the exchange subjects and runs the broadcast loop.
func (f *Feed) Start(ctx context.Context) error {
	for _, subject := range relaySubjects {
		if err := f.msgClient.Subscribe(subject, f.handleMessage); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
		}
	}

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		for {
			select {
			case evt := <-f.updates:
				f.broadcast(evt)
			case <-f.shutdown:
				return
			}
		}
	}()

	return nil
}

// Stop shuts the broadcast loop down and disconnects all subscribers.
func (f *Feed) Stop() {
	close(f.shutdown)

	f.mu.Lock()
	for id, sub := range f.subscribers {
		sub.close()
		delete(f.subscribers, id)
	}
	f.mu.Unlock()

	f.wg.Wait()
}

// Attach registers a websocket connection and starts its write pump.
func (f *Feed) Attach(conn *websocket.Conn) *Subscriber {
	sub := &Subscriber{
		ID:      uuid.New(),
		Conn:    conn,
		Updates: make(chan messaging.Event, 64),
		Done:    make(chan struct{}),
	}

	f.mu.Lock()
	f.subscribers[sub.ID] = sub
	f.mu.Unlock()

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		sub.writePump()
		f.Detach(sub.ID)
	}()

	return sub
}

// Detach removes a subscriber and closes its connection.
func (f *Feed) Detach(id uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if sub, exists := f.subscribers[id]; exists {
		sub.close()
		delete(f.subscribers, id)
	}
}

// Subscribers returns the number of connected clients.
func (f *Feed) Subscribers() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subscribers)
}

func (f *Feed) handleMessage(msg *nats.Msg) {
	var evt messaging.Event
	if err := json.Unmarshal(msg.Data, &evt); err != nil {
		return
	}

	select {
	case f.updates <- evt:
	default:
		// Broadcast queue full; drop rather than block the NATS callback.
	}
}

func (f *Feed) broadcast(evt messaging.Event) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	for _, sub := range f.subscribers {
		select {
		case sub.Updates <- evt:
		case <-sub.Done:
		default:
			// Slow subscriber; drop this update for it.
		}
	}
}

func (s *Subscriber) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case evt, ok := <-s.Updates:
			if !ok {
				return
			}
			s.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := s.Conn.WriteJSON(evt); err != nil {
				return
			}
		case <-ticker.C:
			s.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := s.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.Done:
			return
		}
	}
}

func (s *Subscriber) close() {
	s.closeOnce.Do(func() {
		close(s.Done)
		s.Conn.Close()
	})
}
