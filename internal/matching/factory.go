package matching

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"mapmo/backend/internal/models"
	"mapmo/backend/internal/storage"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Factory validates a candidate pair and creates their room.
type Factory struct {
	store  storage.Storage
	logger *slog.Logger
	now    func() time.Time

	tracer  trace.Tracer
	created metric.Int64Counter
}

// NewFactory creates a Factory.
func NewFactory(store storage.Storage, logger *slog.Logger) *Factory {
	meter := otel.Meter("mapmo/matching")
	created, err := meter.Int64Counter("matching_rooms_created_total",
		metric.WithDescription("Rooms created from matched pairs"))
	if err != nil {
		logger.Debug("create rooms counter", "err", err)
	}

	return &Factory{
		store:   store,
		logger:  logger,
		now:     time.Now,
		tracer:  otel.Tracer("mapmo/matching"),
		created: created,
	}
}

// CreateForPair checks that a and b can be paired and atomically creates the room, moving both
// users to Connected. A validation failure mutates nothing.
func (f *Factory) CreateForPair(ctx context.Context, a, b *models.User, searchType string) (*models.Room, error) {
	ctx, span := f.tracer.Start(ctx, "matching.create_for_pair", trace.WithAttributes(
		attribute.String("user.a", a.ID),
		attribute.String("user.b", b.ID),
		attribute.String("search_type", searchType),
	))
	defer span.End()

	if err := f.validate(ctx, a, b); err != nil {
		span.AddEvent("rejected_pair", trace.WithAttributes(attribute.String("reason", err.Error())))
		return nil, err
	}

	room := models.NewRoom(a.ID, b.ID, searchType, f.now())
	if err := f.store.CreateRoomForPair(ctx, room); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create room")
		return nil, fmt.Errorf("create room for %s and %s: %w", room.User1ID, room.User2ID, err)
	}

	f.created.Add(ctx, 1, metric.WithAttributes(attribute.String("search_type", searchType)))
	span.SetAttributes(attribute.String("room.id", room.ID))
	f.logger.Info("room created", "room_id", room.ID, "user1_id", room.User1ID, "user2_id", room.User2ID)
	return room, nil
}

func (f *Factory) validate(ctx context.Context, a, b *models.User) error {
	if a.ID == b.ID {
		return ErrSelfMatch
	}
	now := f.now()
	for _, u := range []*models.User{a, b} {
		if u.InRoom() {
			return fmt.Errorf("%w: %s", ErrAlreadyInRoom, u.ID)
		}
		if _, err := f.store.ActiveRoomForUser(ctx, u.ID); err == nil {
			return fmt.Errorf("%w: %s", ErrAlreadyInRoom, u.ID)
		} else if !errors.Is(err, storage.ErrNotFound) {
			return err
		}

		banned := u.IsBanned(now)
		if !banned {
			var err error
			if banned, err = f.store.IsUserBanned(ctx, u.ID); err != nil {
				return err
			}
		}
		if banned {
			return fmt.Errorf("%w: %s", ErrUserBanned, u.ID)
		}

		if u.Status != models.StatusSearching {
			return fmt.Errorf("%w: %s is %s", ErrNotSearching, u.ID, u.Status)
		}
	}
	return nil
}
