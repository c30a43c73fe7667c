package chathub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"mapmo/backend/internal/models"

	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// IsCancelled reports whether err means the operation was abandoned because its context ended.
// Cancellation is the normal shutdown path and is never a transport or storage failure.
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// roomEntry is the transport bookkeeping of one room. lock is a one-slot semaphore; members and
// closed are only touched while it is held.
type roomEntry struct {
	lock    chan struct{}
	members map[string]Client
	closed  bool
}

func newRoomEntry() *roomEntry {
	return &roomEntry{
		lock:    make(chan struct{}, 1),
		members: make(map[string]Client),
	}
}

func (e *roomEntry) release() { <-e.lock }

// Registry is the only place that mutates who is connected where. Operations on one room are
// serialized by that room's lock; different rooms never block each other.
type Registry struct {
	mu        sync.Mutex // guards general, rooms and userRooms; never held while waiting on a room lock
	general   map[string]Client
	rooms     map[string]*roomEntry
	userRooms map[string]string

	logger *slog.Logger
	pruned metric.Int64Counter
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	meter := otel.Meter("mapmo/chathub")
	pruned, err := meter.Int64Counter("chathub_pruned_connections_total",
		metric.WithDescription("Room connections removed after their transport closed"))
	if err != nil {
		logger.Debug("create pruned counter", "err", err)
	}

	return &Registry{
		general:   make(map[string]Client),
		rooms:     make(map[string]*roomEntry),
		userRooms: make(map[string]string),
		logger:    logger,
		pruned:    pruned,
	}
}

// acquire enters the room's section. With create set, a missing entry is made. It returns a nil
// entry when the room has no bookkeeping. If ctx ends while waiting, the section is not entered.
func (r *Registry) acquire(ctx context.Context, roomID string, create bool) (*roomEntry, error) {
	for {
		r.mu.Lock()
		e, ok := r.rooms[roomID]
		if !ok && create {
			e = newRoomEntry()
			r.rooms[roomID] = e
		}
		r.mu.Unlock()
		if e == nil {
			return nil, nil
		}

		select {
		case e.lock <- struct{}{}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		if !e.closed {
			return e, nil
		}
		// Torn down while we waited; a later entry may exist.
		e.release()
		if !create {
			r.mu.Lock()
			_, again := r.rooms[roomID]
			r.mu.Unlock()
			if !again {
				return nil, nil
			}
		}
	}
}

// teardownLocked drops the room bookkeeping. Caller holds e.lock.
func (r *Registry) teardownLocked(roomID string, e *roomEntry) {
	e.closed = true
	r.mu.Lock()
	if r.rooms[roomID] == e {
		delete(r.rooms, roomID)
	}
	for userID := range e.members {
		if r.userRooms[userID] == roomID {
			delete(r.userRooms, userID)
		}
	}
	r.mu.Unlock()
	e.members = make(map[string]Client)
}

// Connect registers the user's general channel, replacing (and closing) an older one.
func (r *Registry) Connect(userID string, c Client) {
	r.mu.Lock()
	old := r.general[userID]
	r.general[userID] = c
	r.mu.Unlock()

	if old != nil && old != c {
		old.Close()
	}
	r.logger.Debug("general channel connected", "user_id", userID)
}

// Disconnect removes the user's general channel if it is still c. A nil c removes any channel.
func (r *Registry) Disconnect(userID string, c Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.general[userID]; ok && (c == nil || cur == c) {
		delete(r.general, userID)
	}
}

// IsConnected reports whether the user has a general channel.
func (r *Registry) IsConnected(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.general[userID]
	return ok
}

// JoinRoom adds the handle to the room. It returns false without mutation when the user is
// already registered in this room or in any other room; the old membership must be left first.
// A registered handle whose transport has closed counts as gone and is replaced.
func (r *Registry) JoinRoom(ctx context.Context, roomID, userID string, c Client) (bool, error) {
	e, err := r.acquire(ctx, roomID, true)
	if err != nil {
		return false, err
	}
	defer e.release()

	r.mu.Lock()
	current, inRoom := r.userRooms[userID]
	if !inRoom {
		r.userRooms[userID] = roomID
	}
	r.mu.Unlock()

	if inRoom && current == roomID {
		if old, ok := e.members[userID]; ok && !old.IsOpen() {
			e.members[userID] = c
			r.pruned.Add(ctx, 1, metric.WithAttributes(attribute.String("scope", "room")))
			r.logger.Debug("replaced closed room handle", "room_id", roomID, "user_id", userID)
			return true, nil
		}
	}
	if inRoom {
		if len(e.members) == 0 {
			r.teardownLocked(roomID, e)
		}
		r.logger.Info("join rejected", "room_id", roomID, "user_id", userID, "current_room_id", current)
		return false, nil
	}

	e.members[userID] = c
	r.logger.Debug("joined room", "room_id", roomID, "user_id", userID, "members", len(e.members))
	return true, nil
}

// LeaveRoom removes the user from the room. An empty room loses its transport bookkeeping; the
// persisted room is not touched.
func (r *Registry) LeaveRoom(ctx context.Context, roomID, userID string) error {
	return r.leave(ctx, roomID, userID, nil)
}

// LeaveRoomHandle is LeaveRoom guarded by identity: it only removes the membership if c is still
// the registered handle, so a stale socket closing cannot evict a newer one.
func (r *Registry) LeaveRoomHandle(ctx context.Context, roomID string, c Client) error {
	return r.leave(ctx, roomID, c.GetUserID(), c)
}

func (r *Registry) leave(ctx context.Context, roomID, userID string, c Client) error {
	e, err := r.acquire(ctx, roomID, false)
	if err != nil || e == nil {
		return err
	}
	defer e.release()

	cur, ok := e.members[userID]
	if !ok || (c != nil && cur != c) {
		return nil
	}
	delete(e.members, userID)
	r.mu.Lock()
	if r.userRooms[userID] == roomID {
		delete(r.userRooms, userID)
	}
	r.mu.Unlock()

	if len(e.members) == 0 {
		r.teardownLocked(roomID, e)
		r.logger.Debug("room bookkeeping torn down", "room_id", roomID)
	}
	return nil
}

// Members returns the user ids currently connected to the room.
func (r *Registry) Members(ctx context.Context, roomID string) ([]string, error) {
	e, err := r.acquire(ctx, roomID, false)
	if err != nil || e == nil {
		return nil, err
	}
	defer e.release()
	return lo.Keys(e.members), nil
}

// RoomOf returns the room the user is registered in.
func (r *Registry) RoomOf(userID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	roomID, ok := r.userRooms[userID]
	return roomID, ok
}

// RoomCount returns the number of rooms with live bookkeeping.
func (r *Registry) RoomCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// BroadcastToRoom sends msg to every live handle in the room except those belonging to
// excludeUserID. Dead handles are pruned after the loop, so one failure never stops delivery.
func (r *Registry) BroadcastToRoom(ctx context.Context, roomID string, msg any, excludeUserID string) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode broadcast for room %s: %w", roomID, err)
	}

	e, err := r.acquire(ctx, roomID, false)
	if err != nil || e == nil {
		return err
	}
	defer e.release()

	r.deliverLocked(ctx, roomID, e, payload, excludeUserID)
	return nil
}

// deliverLocked writes payload to the members and prunes the dead ones. Caller holds e.lock.
func (r *Registry) deliverLocked(ctx context.Context, roomID string, e *roomEntry, payload []byte, excludeUserID string) {
	var dead []string
	for key, c := range e.members {
		if excludeUserID != "" && c.GetUserID() == excludeUserID {
			continue
		}
		if !c.IsOpen() {
			dead = append(dead, key)
			continue
		}
		if err := c.Send(payload); err != nil {
			dead = append(dead, key)
		}
	}
	if len(dead) == 0 {
		return
	}

	r.mu.Lock()
	for _, key := range dead {
		delete(e.members, key)
		if r.userRooms[key] == roomID {
			delete(r.userRooms, key)
		}
	}
	r.mu.Unlock()
	for _, key := range dead {
		r.logger.Warn("pruned dead connection", "room_id", roomID, "user_id", key)
	}
	r.pruned.Add(ctx, int64(len(dead)), metric.WithAttributes(attribute.String("scope", "room")))

	if len(e.members) == 0 {
		r.teardownLocked(roomID, e)
	}
}

// SendToUser delivers msg on the user's general channel. It returns false when the user has no
// live channel; callers treat it as fire-and-forget.
func (r *Registry) SendToUser(userID string, msg any) bool {
	r.mu.Lock()
	c, ok := r.general[userID]
	r.mu.Unlock()
	if !ok {
		return false
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		r.logger.Error("encode personal message", "user_id", userID, "err", err)
		return false
	}
	if !c.IsOpen() || c.Send(payload) != nil {
		r.Disconnect(userID, c)
		r.pruned.Add(context.Background(), 1, metric.WithAttributes(attribute.String("scope", "general")))
		r.logger.Warn("pruned dead general channel", "user_id", userID)
		return false
	}
	return true
}

// ForceCloseRoom tells the remaining members the room is closing, detaches them, then closes
// their transports after delay so the notice can be flushed first.
func (r *Registry) ForceCloseRoom(ctx context.Context, roomID string, delay time.Duration) error {
	e, err := r.acquire(ctx, roomID, false)
	if err != nil || e == nil {
		return err
	}

	notice, err := json.Marshal(models.Event{Type: models.EventRoomClosed, RoomID: roomID})
	if err != nil {
		r.logger.Warn("encode room_closed", "room_id", roomID, "err", err)
	} else {
		r.deliverLocked(ctx, roomID, e, notice, "")
	}
	handles := lo.Values(e.members)
	if !e.closed {
		r.teardownLocked(roomID, e)
	}
	e.release()

	if delay > 0 && len(handles) > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
		}
	}
	for _, c := range handles {
		c.Close()
	}
	r.logger.Info("room force-closed", "room_id", roomID, "closed_handles", len(handles))
	return nil
}

// CloseAll closes every room and general channel. Used on shutdown.
func (r *Registry) CloseAll(ctx context.Context) error {
	r.mu.Lock()
	roomIDs := lo.Keys(r.rooms)
	r.mu.Unlock()

	for _, roomID := range roomIDs {
		if err := r.ForceCloseRoom(ctx, roomID, 0); err != nil {
			return err
		}
	}

	r.mu.Lock()
	general := lo.Values(r.general)
	r.general = make(map[string]Client)
	r.mu.Unlock()
	for _, c := range general {
		c.Close()
	}
	return nil
}
