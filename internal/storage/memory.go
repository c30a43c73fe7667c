package storage

import (
	"context"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"mapmo/backend/internal/models"

	"github.com/samber/lo"
)

// MemoryStore implements Storage in process memory. It is used when MEMORY_STORE is set and by tests.
// Every read returns a copy, so callers never share state with the store.
type MemoryStore struct {
	mutex       sync.RWMutex
	users       map[string]*models.User
	rooms       map[string]*models.Room
	messages    []models.ChatHistory
	icebreakers map[string][]string
	bans        map[string]time.Time
	queue       map[string]models.QueueEntry
	nextMsgID   uint
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:       make(map[string]*models.User),
		rooms:       make(map[string]*models.Room),
		icebreakers: make(map[string][]string),
		bans:        make(map[string]time.Time),
		queue:       make(map[string]models.QueueEntry),
	}
}

func cloneUser(u *models.User) *models.User {
	c := *u
	c.PreferredGenders = append(c.PreferredGenders[:0:0], u.PreferredGenders...)
	c.Needs = append(c.Needs[:0:0], u.Needs...)
	c.Interests = append(c.Interests[:0:0], u.Interests...)
	if u.CurrentRoomID != nil {
		c.CurrentRoomID = lo.ToPtr(*u.CurrentRoomID)
	}
	if u.BannedUntil != nil {
		c.BannedUntil = lo.ToPtr(*u.BannedUntil)
	}
	if u.TelegramID != nil {
		c.TelegramID = lo.ToPtr(*u.TelegramID)
	}
	return &c
}

func cloneRoom(r *models.Room) *models.Room {
	c := *r
	c.LikeResponses = lo.Assign(models.Responses{}, r.LikeResponses)
	c.KeepActiveResponses = lo.Assign(models.Responses{}, r.KeepActiveResponses)
	if r.EndTime != nil {
		c.EndTime = lo.ToPtr(*r.EndTime)
	}
	return &c
}

func (m *MemoryStore) GetUser(_ context.Context, userID string) (*models.User, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	u, ok := m.users[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneUser(u), nil
}

func (m *MemoryStore) GetUserByTelegramID(_ context.Context, telegramID int64) (*models.User, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	for _, u := range m.users {
		if u.TelegramID != nil && *u.TelegramID == telegramID {
			return cloneUser(u), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) SaveUser(_ context.Context, user *models.User) error {
	if err := user.BeforeCreate(nil); err != nil {
		return err
	}
	if user.Status == "" {
		user.Status = models.StatusIdle
	}
	now := time.Now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.users[user.ID] = cloneUser(user)
	return nil
}

func (m *MemoryStore) SetUserStatus(_ context.Context, userID string, status models.UserStatus) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.Status = status
	return nil
}

func (m *MemoryStore) ResetUser(_ context.Context, userID string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.Status = models.StatusIdle
	u.CurrentRoomID = nil
	return nil
}

func (m *MemoryStore) BanUser(_ context.Context, userID string, until time.Time) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.BannedUntil = lo.ToPtr(until)
	m.bans[userID] = until
	return nil
}

func (m *MemoryStore) UnbanUser(_ context.Context, userID string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if u, ok := m.users[userID]; ok {
		u.BannedUntil = nil
	}
	delete(m.bans, userID)
	return nil
}

func (m *MemoryStore) IsUserBanned(_ context.Context, userID string) (bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	until, ok := m.bans[userID]
	return ok && until.After(time.Now()), nil
}

func (m *MemoryStore) GetRoom(_ context.Context, roomID string) (*models.Room, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRoom(r), nil
}

func (m *MemoryStore) ActiveRoomForUser(_ context.Context, userID string) (*models.Room, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	for _, r := range m.rooms {
		if r.IsActive() && r.HasParticipant(userID) {
			return cloneRoom(r), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) ActiveRoomIDs(_ context.Context) ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	ids := lo.FilterMap(lo.Values(m.rooms), func(r *models.Room, _ int) (string, bool) {
		return r.ID, r.IsActive()
	})
	sort.Strings(ids)
	return ids, nil
}

func (m *MemoryStore) ExpiredRoomIDs(_ context.Context, startedBefore time.Time) ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	ids := lo.FilterMap(lo.Values(m.rooms), func(r *models.Room, _ int) (string, bool) {
		return r.ID, r.IsActive() && r.StartTime.Before(startedBefore)
	})
	sort.Strings(ids)
	return ids, nil
}

func (m *MemoryStore) CreateRoomForPair(_ context.Context, room *models.Room) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	users := make([]*models.User, 0, 2)
	for _, id := range room.UserIDs() {
		u, ok := m.users[id]
		if !ok {
			return ErrNotFound
		}
		if u.Status != models.StatusSearching || u.InRoom() {
			return ErrStatusConflict
		}
		users = append(users, u)
	}
	if _, exists := m.rooms[room.ID]; exists {
		return ErrStatusConflict
	}

	// Validation happened above, so the writes below cannot fail half-way.
	m.rooms[room.ID] = cloneRoom(room)
	for _, u := range users {
		u.Status = models.StatusConnected
		u.CurrentRoomID = lo.ToPtr(room.ID)
	}
	return nil
}

func (m *MemoryStore) activeRoom(roomID string) (*models.Room, error) {
	r, ok := m.rooms[roomID]
	if !ok {
		return nil, ErrNotFound
	}
	if !r.IsActive() {
		return nil, ErrRoomEnded
	}
	return r, nil
}

func (m *MemoryStore) EndRoom(_ context.Context, roomID string, at time.Time) (*models.Room, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	r, err := m.activeRoom(roomID)
	if err != nil {
		return nil, err
	}
	r.EndTime = lo.ToPtr(at)
	for _, id := range r.UserIDs() {
		u, ok := m.users[id]
		if !ok {
			continue
		}
		if u.CurrentRoomID == nil || *u.CurrentRoomID == roomID {
			u.Status = models.StatusIdle
			u.CurrentRoomID = nil
		}
	}
	return cloneRoom(r), nil
}

func (m *MemoryStore) SetKeepActiveResponse(_ context.Context, roomID string, slot models.Slot, vote models.Vote) (*models.Room, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	r, err := m.activeRoom(roomID)
	if err != nil {
		return nil, err
	}
	applyKeep(r, slot, vote)
	return cloneRoom(r), nil
}

func (m *MemoryStore) SetLikeResponse(_ context.Context, roomID string, slot models.Slot, vote models.Vote) (*models.Room, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	r, err := m.activeRoom(roomID)
	if err != nil {
		return nil, err
	}
	applyLike(r, slot, vote)
	return cloneRoom(r), nil
}

func (m *MemoryStore) MarkRoomKept(_ context.Context, roomID string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	r, err := m.activeRoom(roomID)
	if err != nil {
		return err
	}
	r.KeepActive = true
	return nil
}

func (m *MemoryStore) SaveMessage(_ context.Context, msg *models.ChatHistory) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	r, err := m.activeRoom(msg.RoomID)
	if err != nil {
		return err
	}
	m.nextMsgID++
	msg.ID = m.nextMsgID
	msg.CreatedAt = time.Now()
	msg.UpdatedAt = msg.CreatedAt
	if msg.Type == "" {
		msg.Type = "text"
	}
	m.messages = append(m.messages, *msg)
	r.LastMessageTime = msg.CreatedAt
	return nil
}

// Messages returns the stored history of a room in insertion order.
func (m *MemoryStore) Messages(roomID string) []models.ChatHistory {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return lo.Filter(m.messages, func(h models.ChatHistory, _ int) bool {
		return h.RoomID == roomID
	})
}

// AddIcebreaker registers a prompt for an interest.
func (m *MemoryStore) AddIcebreaker(interest, prompt string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.icebreakers[interest] = append(m.icebreakers[interest], prompt)
}

func (m *MemoryStore) Icebreaker(_ context.Context, interest string) (*models.Icebreaker, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	prompts := m.icebreakers[interest]
	if len(prompts) == 0 {
		return nil, ErrNotFound
	}
	return &models.Icebreaker{Interest: interest, Prompt: prompts[rand.IntN(len(prompts))]}, nil
}

func (m *MemoryStore) AddToSearchQueue(_ context.Context, entry models.QueueEntry) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.queue[entry.UserID] = entry
	return nil
}

func (m *MemoryStore) RemoveFromSearchQueue(_ context.Context, userID string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.queue, userID)
	return nil
}

func (m *MemoryStore) SearchQueue(_ context.Context) ([]models.QueueEntry, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	entries := lo.Values(m.queue)
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].EnqueuedAt.Before(entries[j].EnqueuedAt)
	})
	return entries, nil
}
