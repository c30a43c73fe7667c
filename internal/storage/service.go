package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"mapmo/backend/internal/config"
	"mapmo/backend/internal/models"

	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Service implements Storage on PostgreSQL (gorm) with Redis for bans and the queue mirror.
// Redis may be nil, in which case bans are read from the users table and the mirror is disabled.
type Service struct {
	DB     *gorm.DB
	Redis  *redis.Client
	logger *slog.Logger
}

// NewStorageService Constructor
func NewStorageService(db *gorm.DB, rdb *redis.Client, logger *slog.Logger) *Service {
	return &Service{
		DB:     db,
		Redis:  rdb,
		logger: logger,
	}
}

// Open connects to Postgres and Redis, checks Redis is reachable and runs the migrations.
func Open(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (*Service, error) {
	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	s := NewStorageService(db, rdb, logger)
	if err := s.Migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close releases the database pool and the Redis client.
func (s *Service) Close() error {
	var errs []error
	if s.Redis != nil {
		errs = append(errs, s.Redis.Close())
	}
	if sqlDB, err := s.DB.DB(); err == nil {
		errs = append(errs, sqlDB.Close())
	}
	return errors.Join(errs...)
}

// Migrate creates or updates the tables used by the service.
func (s *Service) Migrate() error {
	return s.DB.AutoMigrate(
		&models.User{},
		&models.Room{},
		&models.ChatHistory{},
		&models.Icebreaker{},
	)
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func (s *Service) GetUser(ctx context.Context, userID string) (*models.User, error) {
	var user models.User
	if err := s.DB.WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

func (s *Service) GetUserByTelegramID(ctx context.Context, telegramID int64) (*models.User, error) {
	var user models.User
	if err := s.DB.WithContext(ctx).First(&user, "telegram_id = ?", telegramID).Error; err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

func (s *Service) ResetUser(ctx context.Context, userID string) error {
	res := s.DB.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).
		Updates(map[string]any{"status": models.StatusIdle, "current_room_id": nil})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveUser upserts the user row.
func (s *Service) SaveUser(ctx context.Context, user *models.User) error {
	return s.DB.WithContext(ctx).Save(user).Error
}

func (s *Service) SetUserStatus(ctx context.Context, userID string, status models.UserStatus) error {
	res := s.DB.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// BanUser stores the expiry on the user and mirrors it into Redis with a matching TTL.
func (s *Service) BanUser(ctx context.Context, userID string, until time.Time) error {
	res := s.DB.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Update("banned_until", until)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	if s.Redis == nil {
		return nil
	}
	return s.Redis.Set(ctx, banKey(userID), until.Format(time.RFC3339), time.Until(until)).Err()
}

func (s *Service) UnbanUser(ctx context.Context, userID string) error {
	res := s.DB.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Update("banned_until", nil)
	if res.Error != nil {
		return res.Error
	}
	if s.Redis == nil {
		return nil
	}
	return s.Redis.Del(ctx, banKey(userID)).Err()
}

// IsUserBanned checks the Redis ban cache, falling back to the users table.
func (s *Service) IsUserBanned(ctx context.Context, userID string) (bool, error) {
	if s.Redis != nil {
		status, err := s.Redis.Get(ctx, banKey(userID)).Result()
		switch {
		case err == nil:
			return status != "", nil
		case !errors.Is(err, redis.Nil):
			s.logger.Warn("ban cache unavailable, using database", "user_id", userID, "err", err)
		default:
			return false, nil
		}
	}
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return false, err
	}
	return user.IsBanned(time.Now()), nil
}

func (s *Service) GetRoom(ctx context.Context, roomID string) (*models.Room, error) {
	var room models.Room
	if err := s.DB.WithContext(ctx).First(&room, "id = ?", roomID).Error; err != nil {
		return nil, notFound(err)
	}
	return &room, nil
}

// ActiveRoomForUser returns the active room the user is a member of, or ErrNotFound.
func (s *Service) ActiveRoomForUser(ctx context.Context, userID string) (*models.Room, error) {
	var room models.Room
	err := s.DB.WithContext(ctx).
		Where("end_time IS NULL").
		Where("user1_id = ? OR user2_id = ?", userID, userID).
		First(&room).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &room, nil
}

func (s *Service) ActiveRoomIDs(ctx context.Context) ([]string, error) {
	var roomIDs []string
	if err := s.DB.WithContext(ctx).Model(&models.Room{}).
		Where("end_time IS NULL").
		Pluck("id", &roomIDs).Error; err != nil {
		return nil, err
	}
	return roomIDs, nil
}

func (s *Service) ExpiredRoomIDs(ctx context.Context, startedBefore time.Time) ([]string, error) {
	var roomIDs []string
	if err := s.DB.WithContext(ctx).Model(&models.Room{}).
		Where("end_time IS NULL AND start_time < ?", startedBefore).
		Pluck("id", &roomIDs).Error; err != nil {
		return nil, err
	}
	return roomIDs, nil
}

func (s *Service) CreateRoomForPair(ctx context.Context, room *models.Room) error {
	ids := room.UserIDs()
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var users []models.User
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id IN ?", ids).Find(&users).Error; err != nil {
			return err
		}
		if len(users) != 2 {
			return ErrNotFound
		}

		if err := tx.Create(room).Error; err != nil {
			return err
		}

		res := tx.Model(&models.User{}).
			Where("id IN ? AND status = ? AND current_room_id IS NULL", ids, models.StatusSearching).
			Updates(map[string]any{
				"status":          models.StatusConnected,
				"current_room_id": room.ID,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 2 {
			return ErrStatusConflict
		}
		return nil
	})
}

// lockActiveRoom loads the room FOR UPDATE and fails with ErrRoomEnded if it is closed.
func lockActiveRoom(tx *gorm.DB, roomID string) (*models.Room, error) {
	var room models.Room
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&room, "id = ?", roomID).Error; err != nil {
		return nil, notFound(err)
	}
	if !room.IsActive() {
		return nil, ErrRoomEnded
	}
	return &room, nil
}

func (s *Service) EndRoom(ctx context.Context, roomID string, at time.Time) (*models.Room, error) {
	var ended *models.Room
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		room, err := lockActiveRoom(tx, roomID)
		if err != nil {
			return err
		}
		if err := tx.Model(room).Update("end_time", at).Error; err != nil {
			return err
		}
		// A participant already pointed at another room keeps that pointer.
		if err := tx.Model(&models.User{}).
			Where("id IN ?", room.UserIDs()).
			Where("current_room_id = ? OR current_room_id IS NULL", roomID).
			Updates(map[string]any{
				"status":          models.StatusIdle,
				"current_room_id": nil,
			}).Error; err != nil {
			return err
		}
		room.EndTime = &at
		ended = room
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ended, nil
}

func (s *Service) SetKeepActiveResponse(ctx context.Context, roomID string, slot models.Slot, vote models.Vote) (*models.Room, error) {
	var updated *models.Room
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		room, err := lockActiveRoom(tx, roomID)
		if err != nil {
			return err
		}
		applyKeep(room, slot, vote)
		if err := tx.Model(room).Select("keep_active_responses").Updates(room).Error; err != nil {
			return err
		}
		updated = room
		return nil
	})
	return updated, err
}

func (s *Service) SetLikeResponse(ctx context.Context, roomID string, slot models.Slot, vote models.Vote) (*models.Room, error) {
	var updated *models.Room
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		room, err := lockActiveRoom(tx, roomID)
		if err != nil {
			return err
		}
		applyLike(room, slot, vote)
		if err := tx.Model(room).Select("like_responses", "reveal_level").Updates(room).Error; err != nil {
			return err
		}
		updated = room
		return nil
	})
	return updated, err
}

func (s *Service) MarkRoomKept(ctx context.Context, roomID string) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		room, err := lockActiveRoom(tx, roomID)
		if err != nil {
			return err
		}
		return tx.Model(room).Update("keep_active", true).Error
	})
}

// SaveMessage stores the message and touches the room's lastMessageTime.
func (s *Service) SaveMessage(ctx context.Context, msg *models.ChatHistory) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		room, err := lockActiveRoom(tx, msg.RoomID)
		if err != nil {
			return err
		}
		if msg.Type == "" {
			msg.Type = "text"
		}
		if err := tx.Create(msg).Error; err != nil {
			return fmt.Errorf("save message for room %s: %w", msg.RoomID, err)
		}
		return tx.Model(room).Update("last_message_time", msg.CreatedAt).Error
	})
}

func (s *Service) Icebreaker(ctx context.Context, interest string) (*models.Icebreaker, error) {
	var ib models.Icebreaker
	err := s.DB.WithContext(ctx).
		Where("interest = ?", interest).
		Order("RANDOM()").
		First(&ib).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &ib, nil
}

// AddToSearchQueue mirrors the entry into a sorted set scored by enqueue time.
func (s *Service) AddToSearchQueue(ctx context.Context, entry models.QueueEntry) error {
	if s.Redis == nil {
		return nil
	}
	return s.Redis.ZAdd(ctx, queueKey(entry.SearchType), redis.Z{
		Score:  float64(entry.EnqueuedAt.UnixMilli()),
		Member: entry.UserID,
	}).Err()
}

func (s *Service) RemoveFromSearchQueue(ctx context.Context, userID string) error {
	if s.Redis == nil {
		return nil
	}
	pipe := s.Redis.TxPipeline()
	for _, t := range models.SearchTypes {
		pipe.ZRem(ctx, queueKey(t), userID)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Service) SearchQueue(ctx context.Context) ([]models.QueueEntry, error) {
	if s.Redis == nil {
		return nil, nil
	}
	var entries []models.QueueEntry
	for _, t := range models.SearchTypes {
		members, err := s.Redis.ZRangeWithScores(ctx, queueKey(t), 0, -1).Result()
		if err != nil {
			return nil, err
		}
		for _, z := range members {
			userID, ok := z.Member.(string)
			if !ok {
				continue
			}
			entries = append(entries, models.QueueEntry{
				UserID:     userID,
				SearchType: t,
				EnqueuedAt: time.UnixMilli(int64(z.Score)),
			})
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].EnqueuedAt.Before(entries[j].EnqueuedAt)
	})
	return entries, nil
}
