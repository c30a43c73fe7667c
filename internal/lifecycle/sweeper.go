package lifecycle

import (
	"context"
	"errors"
	"time"

	"mapmo/backend/internal/models"
	"mapmo/backend/internal/storage"
)

// SweepExpired ends every active room started more than maxAge ago with reason expired.
// It returns how many rooms it ended.
func (c *Coordinator) SweepExpired(ctx context.Context, maxAge time.Duration) (int, error) {
	ids, err := c.store.ExpiredRoomIDs(ctx, c.now().Add(-maxAge))
	if err != nil {
		return 0, err
	}

	swept := 0
	for _, roomID := range ids {
		_, err := c.EndRoom(ctx, roomID, models.ReasonExpired)
		switch {
		case err == nil:
			swept++
		case errors.Is(err, storage.ErrRoomEnded), errors.Is(err, storage.ErrNotFound):
			// Ended concurrently.
		case ctx.Err() != nil:
			return swept, ctx.Err()
		default:
			c.logger.Warn("sweep room", "room_id", roomID, "err", err)
		}
	}
	if swept > 0 {
		c.logger.Info("expired rooms swept", "count", swept)
	}
	return swept, nil
}

// RunSweeper calls SweepExpired every interval until ctx is done.
func (c *Coordinator) RunSweeper(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.SweepExpired(ctx, maxAge); err != nil && ctx.Err() == nil {
				c.logger.Error("sweep expired rooms", "err", err)
			}
		}
	}
}
