package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"timesheet_sync/internal/domain"
)

const subjectPrefix = "timesheet.progress"

// NATSChannel broadcasts snapshots across processes. The user id is part of
// the subject, so a subscription only ever sees its own user's runs.
type NATSChannel struct {
	conn   *nats.Conn
	logger *slog.Logger
}

func NewNATSChannel(conn *nats.Conn, logger *slog.Logger) *NATSChannel {
	return &NATSChannel{
		conn:   conn,
		logger: logger,
	}
}

func Subject(userID int64) string {
	return fmt.Sprintf("%s.%d", subjectPrefix, userID)
}

func (c *NATSChannel) Publish(ctx context.Context, state domain.ProgressState) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}

	if err := c.conn.Publish(Subject(state.UserID), data); err != nil {
		return fmt.Errorf("publish progress: %w", err)
	}
	return nil
}

func (c *NATSChannel) Subscribe(ctx context.Context, userID int64) (<-chan domain.ProgressState, error) {
	sub := newSubscriber(userID)

	natsSub, err := c.conn.Subscribe(Subject(userID), func(msg *nats.Msg) {
		var state domain.ProgressState
		if err := json.Unmarshal(msg.Data, &state); err != nil {
			c.logger.Warn("invalid progress message", "subject", msg.Subject, "error", err)
			return
		}
		if state.UserID != userID {
			return
		}
		sub.offer(state)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe progress: %w", err)
	}
	if err := c.conn.Flush(); err != nil {
		_ = natsSub.Unsubscribe()
		return nil, fmt.Errorf("flush subscription: %w", err)
	}

	out := make(chan domain.ProgressState)
	go func() {
		defer close(out)
		defer func() {
			_ = natsSub.Unsubscribe()
		}()
		sub.pump(ctx, out)
	}()

	return out, nil
}
