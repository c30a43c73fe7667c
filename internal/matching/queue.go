package matching

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"mapmo/backend/internal/localization"
	"mapmo/backend/internal/models"
	"mapmo/backend/internal/storage"

	"github.com/samber/lo"
)

// Notifier delivers personal, out-of-room events. chathub.Registry implements it.
type Notifier interface {
	SendToUser(userID string, msg any) bool
}

// Queue holds waiting users and pairs them as soon as a compatible partner is present.
type Queue struct {
	mu      sync.Mutex
	entries []models.QueueEntry // queue order

	store    storage.Storage
	factory  *Factory
	notifier Notifier
	locales  *localization.Localizer
	logger   *slog.Logger
	now      func() time.Time
}

// NewQueue creates an empty queue.
func NewQueue(store storage.Storage, factory *Factory, notifier Notifier, locales *localization.Localizer, logger *slog.Logger) *Queue {
	return &Queue{
		store:    store,
		factory:  factory,
		notifier: notifier,
		locales:  locales,
		logger:   logger,
		now:      time.Now,
	}
}

type match struct {
	room       *models.Room
	a, b       *models.User
	icebreaker string
}

func (q *Queue) indexLocked(userID string) int {
	_, idx, ok := lo.FindIndexOf(q.entries, func(e models.QueueEntry) bool { return e.UserID == userID })
	if !ok {
		return -1
	}
	return idx
}

func (q *Queue) removeLocked(userIDs ...string) {
	q.entries = lo.Reject(q.entries, func(e models.QueueEntry, _ int) bool {
		return lo.Contains(userIDs, e.UserID)
	})
}

// Enqueue adds the user and runs a drain pass over every waiting user of the same search type.
// It returns the room the user was placed in, or nil when they are still waiting.
func (q *Queue) Enqueue(ctx context.Context, userID, searchType string) (*models.Room, error) {
	if !lo.Contains(models.SearchTypes, searchType) {
		return nil, ErrInvalidSearchType
	}
	user, err := q.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.IsProfileComplete() {
		return nil, ErrProfileIncomplete
	}
	if user.InRoom() {
		return nil, ErrAlreadyInRoom
	}
	banned := user.IsBanned(q.now())
	if !banned {
		if banned, err = q.store.IsUserBanned(ctx, userID); err != nil {
			return nil, err
		}
	}
	if banned {
		return nil, ErrUserBanned
	}

	q.mu.Lock()
	if q.indexLocked(userID) >= 0 {
		q.mu.Unlock()
		return nil, ErrAlreadyQueued
	}
	if user.Status != models.StatusSearching {
		if err := q.store.SetUserStatus(ctx, userID, models.StatusSearching); err != nil {
			q.mu.Unlock()
			return nil, err
		}
	}
	entry := models.QueueEntry{UserID: userID, SearchType: searchType, EnqueuedAt: q.now()}
	q.entries = append(q.entries, entry)
	if err := q.store.AddToSearchQueue(ctx, entry); err != nil {
		q.logger.Warn("queue mirror write failed", "user_id", userID, "err", err)
	}
	q.logger.Info("user queued", "user_id", userID, "search_type", searchType)

	matches := q.drainLocked(ctx, searchType)
	q.mu.Unlock()

	var placed *models.Room
	for _, m := range matches {
		q.notify(m)
		if m.room.HasParticipant(userID) {
			placed = m.room
		}
	}
	return placed, nil
}

// Dequeue removes the user from the queue. Absent users are ignored.
func (q *Queue) Dequeue(ctx context.Context, userID string) error {
	q.mu.Lock()
	idx := q.indexLocked(userID)
	if idx >= 0 {
		q.removeLocked(userID)
	}
	q.mu.Unlock()

	if err := q.store.RemoveFromSearchQueue(ctx, userID); err != nil {
		q.logger.Warn("queue mirror delete failed", "user_id", userID, "err", err)
	}
	if idx < 0 {
		return nil
	}

	user, err := q.store.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if user.Status == models.StatusSearching {
		return q.store.SetUserStatus(ctx, userID, models.StatusIdle)
	}
	return nil
}

// Contains reports whether the user is waiting.
func (q *Queue) Contains(userID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.indexLocked(userID) >= 0
}

// Entries returns a snapshot of the queue in order.
func (q *Queue) Entries() []models.QueueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]models.QueueEntry(nil), q.entries...)
}

// Stats counts waiting users per search type.
func (q *Queue) Stats() models.QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	stats := models.QueueStats{Total: len(q.entries), ByType: make(map[string]int, len(models.SearchTypes))}
	for _, t := range models.SearchTypes {
		stats.ByType[t] = 0
	}
	for _, e := range q.entries {
		stats.ByType[e.SearchType]++
	}
	return stats
}

// Restore reloads waiting users from the persisted mirror, then drains each search type once.
func (q *Queue) Restore(ctx context.Context) (int, error) {
	saved, err := q.store.SearchQueue(ctx)
	if err != nil {
		return 0, err
	}

	q.mu.Lock()
	for _, e := range saved {
		if q.indexLocked(e.UserID) >= 0 {
			continue
		}
		user, err := q.store.GetUser(ctx, e.UserID)
		if err != nil || user.InRoom() || user.Status != models.StatusSearching {
			_ = q.store.RemoveFromSearchQueue(ctx, e.UserID)
			continue
		}
		q.entries = append(q.entries, e)
	}
	sort.SliceStable(q.entries, func(i, j int) bool {
		return q.entries[i].EnqueuedAt.Before(q.entries[j].EnqueuedAt)
	})
	restored := len(q.entries)

	var matches []match
	for _, t := range models.SearchTypes {
		matches = append(matches, q.drainLocked(ctx, t)...)
	}
	q.mu.Unlock()

	for _, m := range matches {
		q.notify(m)
	}
	q.logger.Info("queue restored", "entries", restored, "matched_pairs", len(matches))
	return restored, nil
}

// drainLocked pairs waiting users of searchType in queue order. Each user takes the candidate with
// the highest valid score; on equal scores the earlier candidate wins. Caller holds q.mu.
func (q *Queue) drainLocked(ctx context.Context, searchType string) []match {
	waiting := lo.Filter(q.entries, func(e models.QueueEntry, _ int) bool { return e.SearchType == searchType })
	if len(waiting) < 2 {
		return nil
	}

	users := make([]*models.User, 0, len(waiting))
	for _, e := range waiting {
		u, err := q.store.GetUser(ctx, e.UserID)
		if err != nil {
			q.logger.Warn("skipping queued user", "user_id", e.UserID, "err", err)
			continue
		}
		if u.Status == models.StatusIdle && !u.InRoom() {
			if err := q.store.SetUserStatus(ctx, u.ID, models.StatusSearching); err != nil {
				q.logger.Warn("reset to searching failed", "user_id", u.ID, "err", err)
				continue
			}
			u.Status = models.StatusSearching
		}
		users = append(users, u)
	}

	processed := make(map[string]bool)
	var matches []match
	for i, a := range users {
		if processed[a.ID] || a.InRoom() {
			continue
		}
		for _, b := range q.rankCandidates(a, users[i+1:], processed) {
			room, err := q.factory.CreateForPair(ctx, a, b, searchType)
			if err != nil {
				q.logger.Info("pair rejected", "user_id", a.ID, "candidate_id", b.ID, "err", err)
				if errors.Is(err, ErrUserBanned) || errors.Is(err, ErrNotSearching) || errors.Is(err, ErrAlreadyInRoom) {
					continue
				}
				break
			}
			processed[a.ID] = true
			processed[b.ID] = true
			q.removeLocked(a.ID, b.ID)
			_ = q.store.RemoveFromSearchQueue(ctx, a.ID)
			_ = q.store.RemoveFromSearchQueue(ctx, b.ID)

			icebreaker, err := PickIcebreaker(ctx, q.store, a, b)
			if err != nil {
				q.logger.Warn("icebreaker lookup failed", "room_id", room.ID, "err", err)
			}
			matches = append(matches, match{room: room, a: a, b: b, icebreaker: icebreaker})
			break
		}
	}
	return matches
}

// rankCandidates orders the valid candidates for a by score, best first, keeping queue order
// between equal scores.
func (q *Queue) rankCandidates(a *models.User, rest []*models.User, processed map[string]bool) []*models.User {
	type scored struct {
		user  *models.User
		score float64
	}
	var candidates []scored
	for _, b := range rest {
		if processed[b.ID] || b.InRoom() || b.ID == a.ID {
			continue
		}
		if s := Score(a, b); IsValidMatch(s) {
			candidates = append(candidates, scored{user: b, score: s})
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	return lo.Map(candidates, func(c scored, _ int) *models.User { return c.user })
}

func (q *Queue) notify(m match) {
	for _, pair := range [][2]*models.User{{m.a, m.b}, {m.b, m.a}} {
		self, partner := pair[0], pair[1]
		event := models.Event{
			Type:       models.EventMatchFound,
			RoomID:     m.room.ID,
			Message:    q.locales.GetString(self.Language, "match_found"),
			Icebreaker: m.icebreaker,
			MatchedUser: &models.MatchedUser{
				ID:       partner.ID,
				Nickname: partner.Nickname,
				Gender:   partner.Gender,
			},
		}
		if !q.notifier.SendToUser(self.ID, event) {
			q.logger.Debug("match_found not delivered", "user_id", self.ID, "room_id", m.room.ID)
		}
	}
}
