package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"mapmo/backend/internal/config"
	"mapmo/backend/internal/storage"
)

const usage = `Usage: admin <command> [args]

Commands:
  ban <user_id> [hours]      ban a user; without hours the ban does not expire
  unban <user_id>            lift a ban
  cleanup-rooms [hours]      end active rooms older than hours (default ROOM_MAX_AGE)
  reset-user <user_id>       end the user's room, drop them from the queue and set them idle`

// permanentBan is how far ahead a ban without a duration expires.
const permanentBan = 100 * 365 * 24 * time.Hour

func main() {
	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(1)
	}

	cfg, err := config.LoadStore()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	svc, err := storage.Open(ctx, cfg, logger)
	if err != nil {
		slog.Error("open storage", "err", err)
		os.Exit(1)
	}
	defer svc.Close()

	if err := run(ctx, svc, os.Args[1:], time.Now()); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func run(ctx context.Context, s storage.Storage, args []string, now time.Time) error {
	switch args[0] {
	case "ban":
		if len(args) < 2 || len(args) > 3 {
			return errors.New("usage: admin ban <user_id> [hours]")
		}
		until := now.Add(permanentBan)
		if len(args) == 3 {
			hours, err := strconv.Atoi(args[2])
			if err != nil || hours <= 0 {
				return errors.New("invalid duration, provide a positive number of hours")
			}
			until = now.Add(time.Duration(hours) * time.Hour)
		}
		if err := s.BanUser(ctx, args[1], until); err != nil {
			return fmt.Errorf("ban user: %w", err)
		}
		fmt.Printf("User %s has been banned until %s.\n", args[1], until.Format(time.RFC3339))

	case "unban":
		if len(args) != 2 {
			return errors.New("usage: admin unban <user_id>")
		}
		if err := s.UnbanUser(ctx, args[1]); err != nil {
			return fmt.Errorf("unban user: %w", err)
		}
		fmt.Printf("User %s has been unbanned.\n", args[1])

	case "cleanup-rooms":
		maxAge := config.DefaultRoomMaxAge
		if len(args) == 2 {
			hours, err := strconv.Atoi(args[1])
			if err != nil || hours <= 0 {
				return errors.New("invalid age, provide a positive number of hours")
			}
			maxAge = time.Duration(hours) * time.Hour
		}
		ended, err := cleanupRooms(ctx, s, now.Add(-maxAge), now)
		if err != nil {
			return fmt.Errorf("cleanup rooms: %w", err)
		}
		fmt.Printf("%d rooms ended.\n", ended)

	case "reset-user":
		if len(args) != 2 {
			return errors.New("usage: admin reset-user <user_id>")
		}
		if err := resetUser(ctx, s, args[1], now); err != nil {
			return fmt.Errorf("reset user: %w", err)
		}
		fmt.Printf("User %s has been reset.\n", args[1])

	default:
		return errors.New(usage)
	}
	return nil
}

// cleanupRooms ends stale rooms directly in storage. Connected clients of a running server
// learn about it from that server's own sweeper.
func cleanupRooms(ctx context.Context, s storage.Storage, startedBefore, now time.Time) (int, error) {
	ids, err := s.ExpiredRoomIDs(ctx, startedBefore)
	if err != nil {
		return 0, err
	}
	ended := 0
	for _, id := range ids {
		if _, err := s.EndRoom(ctx, id, now); err != nil {
			if errors.Is(err, storage.ErrRoomEnded) {
				continue
			}
			return ended, err
		}
		ended++
	}
	return ended, nil
}

func resetUser(ctx context.Context, s storage.Storage, userID string, now time.Time) error {
	if _, err := s.GetUser(ctx, userID); err != nil {
		return err
	}
	room, err := s.ActiveRoomForUser(ctx, userID)
	switch {
	case err == nil:
		if _, err := s.EndRoom(ctx, room.ID, now); err != nil && !errors.Is(err, storage.ErrRoomEnded) {
			return err
		}
	case !errors.Is(err, storage.ErrNotFound):
		return err
	}
	if err := s.RemoveFromSearchQueue(ctx, userID); err != nil {
		return err
	}
	return s.ResetUser(ctx, userID)
}
