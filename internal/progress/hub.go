package progress

import (
	"context"
	"sync"

	"timesheet_sync/internal/domain"
)

// Hub is an in-process broadcaster. Every snapshot is offered to all
// subscribers and kept only by those whose user id matches.
type Hub struct {
	mu          sync.Mutex
	subscribers map[*subscriber]struct{}
}

func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[*subscriber]struct{}),
	}
}

func (h *Hub) Publish(ctx context.Context, state domain.ProgressState) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.subscribers {
		if sub.userID != state.UserID {
			continue
		}
		sub.offer(state.Clone())
	}
	return nil
}

// Subscribe streams the snapshots of userID until ctx is done.
func (h *Hub) Subscribe(ctx context.Context, userID int64) (<-chan domain.ProgressState, error) {
	sub := newSubscriber(userID)

	h.mu.Lock()
	h.subscribers[sub] = struct{}{}
	h.mu.Unlock()

	out := make(chan domain.ProgressState)
	go func() {
		defer close(out)
		defer h.remove(sub)
		sub.pump(ctx, out)
	}()

	return out, nil
}

// Subscribers returns the number of active subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	delete(h.subscribers, sub)
	h.mu.Unlock()
}

// subscriber keeps a single pending snapshot: a newer one replaces it.
type subscriber struct {
	userID  int64
	mailbox chan domain.ProgressState
}

func newSubscriber(userID int64) *subscriber {
	return &subscriber{
		userID:  userID,
		mailbox: make(chan domain.ProgressState, 1),
	}
}

func (s *subscriber) offer(state domain.ProgressState) {
	for {
		select {
		case s.mailbox <- state:
			return
		default:
		}
		select {
		case <-s.mailbox:
		default:
		}
	}
}

func (s *subscriber) pump(ctx context.Context, out chan<- domain.ProgressState) {
	for {
		select {
		case <-ctx.Done():
			return
		case state := <-s.mailbox:
			select {
			case out <- state:
			case <-ctx.Done():
				return
			}
		}
	}
}
