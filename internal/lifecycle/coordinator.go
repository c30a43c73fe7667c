// Package lifecycle drives a matched room through its timed phases: a short countdown, then a
// notification window in which both participants decide whether to keep the room. Silence counts
// as a no.
//
// The persisted keep-active responses on the Room are the source of truth. The in-memory state
// kept here is only a cursor over the timers; after a restart a room simply starts a new
// countdown when both participants reconnect.
package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"mapmo/backend/internal/chathub"
	"mapmo/backend/internal/config"
	"mapmo/backend/internal/localization"
	"mapmo/backend/internal/models"
	"mapmo/backend/internal/storage"

	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Phase is the position of a room in its lifecycle.
type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhaseCountdown    Phase = "countdown"
	PhaseNotification Phase = "notification"
)

// Hub is the subset of chathub.Registry the coordinator talks through.
type Hub interface {
	BroadcastToRoom(ctx context.Context, roomID string, msg any, excludeUserID string) error
	SendToUser(userID string, msg any) bool
	ForceCloseRoom(ctx context.Context, roomID string, delay time.Duration) error
}

// Options holds the timings. Zero values fall back to the package defaults.
type Options struct {
	CountdownSeconds    int
	NotificationSeconds int
	Tick                time.Duration
	CloseDelay          time.Duration
	// Language selects the catalogue used for broadcast messages.
	Language string
}

func (o Options) withDefaults() Options {
	if o.CountdownSeconds <= 0 {
		o.CountdownSeconds = config.DefaultCountdownSeconds
	}
	if o.NotificationSeconds <= 0 {
		o.NotificationSeconds = config.DefaultNotificationSeconds
	}
	if o.Tick <= 0 {
		o.Tick = config.DefaultTickInterval
	}
	if o.CloseDelay < 0 {
		o.CloseDelay = config.DefaultCloseDelay
	}
	return o
}

// Outcome reports what a keep-active response led to. Exactly one field is set.
type Outcome struct {
	RoomEnded       bool `json:"room_ended"`
	RoomKept        bool `json:"room_kept"`
	WaitingForOther bool `json:"waiting_for_other"`
}

// Status is a snapshot of a room's lifecycle.
type Status struct {
	RoomID                string `json:"room_id"`
	Phase                 Phase  `json:"phase"`
	Active                bool   `json:"active"`
	CountdownRemaining    int    `json:"countdown_remaining"`
	NotificationRemaining int    `json:"notification_remaining"`
}

type roomState struct {
	roomID string
	cancel context.CancelFunc

	mu                    sync.Mutex
	phase                 Phase
	countdownRemaining    int
	notificationRemaining int
	finished              bool
}

// Coordinator owns one timer goroutine per room in countdown or notification.
type Coordinator struct {
	store   storage.Storage
	hub     Hub
	locales *localization.Localizer
	logger  *slog.Logger
	opts    Options
	now     func() time.Time

	base     context.Context
	stopBase context.CancelFunc
	wg       sync.WaitGroup

	mu    sync.Mutex
	rooms map[string]*roomState
	// startMu makes StartWhenJoined's check-then-start atomic.
	startMu sync.Mutex

	tracer trace.Tracer
	kept   metric.Int64Counter
	ended  metric.Int64Counter
}

// NewCoordinator creates a Coordinator. Call Stop on shutdown.
func NewCoordinator(store storage.Storage, hub Hub, locales *localization.Localizer, opts Options, logger *slog.Logger) *Coordinator {
	meter := otel.Meter("mapmo/lifecycle")
	kept, err := meter.Int64Counter("lifecycle_rooms_kept_total",
		metric.WithDescription("Rooms both participants chose to keep"))
	if err != nil {
		logger.Debug("create kept counter", "err", err)
	}
	ended, err := meter.Int64Counter("lifecycle_rooms_ended_total",
		metric.WithDescription("Rooms ended, by reason"))
	if err != nil {
		logger.Debug("create ended counter", "err", err)
	}

	base, stop := context.WithCancel(context.Background())
	return &Coordinator{
		store:    store,
		hub:      hub,
		locales:  locales,
		logger:   logger,
		opts:     opts.withDefaults(),
		now:      time.Now,
		base:     base,
		stopBase: stop,
		rooms:    make(map[string]*roomState),
		tracer:   otel.Tracer("mapmo/lifecycle"),
		kept:     kept,
		ended:    ended,
	}
}

func (c *Coordinator) message(key string, args ...any) string {
	if c.locales == nil {
		return ""
	}
	if len(args) > 0 {
		return c.locales.Format(c.opts.Language, key, args...)
	}
	return c.locales.GetString(c.opts.Language, key)
}

// StartCountdown begins the countdown for an active, not yet kept room. A lifecycle already
// running for the room is replaced.
func (c *Coordinator) StartCountdown(ctx context.Context, roomID string) error {
	room, err := c.store.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if !room.IsActive() {
		return storage.ErrRoomEnded
	}
	if room.KeepActive {
		return ErrWrongPhase
	}

	c.Cancel(roomID)

	runCtx, cancel := context.WithCancel(c.base)
	st := &roomState{
		roomID:             roomID,
		cancel:             cancel,
		phase:              PhaseCountdown,
		countdownRemaining: c.opts.CountdownSeconds,
	}
	c.mu.Lock()
	c.rooms[roomID] = st
	c.mu.Unlock()

	c.broadcast(ctx, roomID, models.Event{
		Type:            models.EventCountdownStart,
		RoomID:          roomID,
		DurationSeconds: c.opts.CountdownSeconds,
		Message:         c.message("countdown_start", c.opts.CountdownSeconds),
	})
	c.logger.Info("countdown started", "room_id", roomID, "seconds", c.opts.CountdownSeconds)

	if !c.spawn(func() { c.run(runCtx, st) }) {
		c.Cancel(roomID)
		return context.Canceled
	}
	return nil
}

// spawn runs fn on a goroutine tracked by Stop. It refuses once Stop has begun, so no Add can
// race with Stop's Wait.
func (c *Coordinator) spawn(fn func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.base.Err() != nil {
		return false
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn()
	}()
	return true
}

// StartWhenJoined starts the countdown once every participant of room is among members, unless
// the room was kept or a lifecycle is already running. It reports whether a countdown started.
// Transports call it after each successful join.
func (c *Coordinator) StartWhenJoined(ctx context.Context, room *models.Room, members []string) (bool, error) {
	if room.KeepActive || !room.IsActive() {
		return false, nil
	}
	for _, id := range room.UserIDs() {
		if !lo.Contains(members, id) {
			return false, nil
		}
	}

	c.startMu.Lock()
	defer c.startMu.Unlock()
	if c.Has(room.ID) {
		return false, nil
	}
	if err := c.StartCountdown(ctx, room.ID); err != nil {
		return false, err
	}
	return true, nil
}

// HandleUserResponse records a keep-active vote. A "no" ends the room at once in any phase; a
// "yes" is only accepted during the notification window.
func (c *Coordinator) HandleUserResponse(ctx context.Context, roomID, userID, response string) (Outcome, error) {
	vote := models.Vote(response)
	if !vote.Valid() {
		return Outcome{}, ErrInvalidResponse
	}

	st := c.state(roomID)
	if st == nil {
		return Outcome{}, ErrRoomNotFound
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.finished {
		return Outcome{}, ErrRoomNotFound
	}
	if st.phase != PhaseNotification && vote == models.VoteYes {
		return Outcome{}, ErrWrongPhase
	}

	room, err := c.store.GetRoom(ctx, roomID)
	if err != nil {
		return Outcome{}, err
	}
	slot, ok := room.SlotOf(userID)
	if !ok {
		return Outcome{}, ErrNotParticipant
	}
	room, err = c.store.SetKeepActiveResponse(ctx, roomID, slot, vote)
	if err != nil {
		return Outcome{}, err
	}
	c.logger.Info("keep-active response", "room_id", roomID, "user_id", userID, "response", response, "phase", st.phase)

	if vote == models.VoteNo {
		if err := c.endLocked(ctx, st, models.ReasonUserDislike); err != nil {
			return Outcome{}, err
		}
		return Outcome{RoomEnded: true}, nil
	}
	if room.KeepActiveResponses.Both(models.VoteYes) {
		if err := c.keepLocked(ctx, st); err != nil {
			return Outcome{}, err
		}
		return Outcome{RoomKept: true}, nil
	}

	c.broadcast(ctx, roomID, models.Event{
		Type:     models.EventWaitingForOther,
		RoomID:   roomID,
		SenderID: userID,
		Message:  c.message("waiting_for_other"),
	})
	return Outcome{WaitingForOther: true}, nil
}

// GetStatus returns the lifecycle snapshot. Rooms without a lifecycle report PhaseIdle.
func (c *Coordinator) GetStatus(roomID string) Status {
	st := c.state(roomID)
	if st == nil {
		return Status{RoomID: roomID, Phase: PhaseIdle}
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.finished {
		return Status{RoomID: roomID, Phase: PhaseIdle}
	}
	return Status{
		RoomID:                roomID,
		Phase:                 st.phase,
		Active:                true,
		CountdownRemaining:    st.countdownRemaining,
		NotificationRemaining: st.notificationRemaining,
	}
}

// Has reports whether the room has a running lifecycle.
func (c *Coordinator) Has(roomID string) bool {
	return c.state(roomID) != nil
}

// Cancel stops the room's timer and drops its state without emitting anything. It reports
// whether a lifecycle was running.
func (c *Coordinator) Cancel(roomID string) bool {
	c.mu.Lock()
	st, ok := c.rooms[roomID]
	delete(c.rooms, roomID)
	c.mu.Unlock()
	if !ok {
		return false
	}
	st.cancel()
	st.mu.Lock()
	st.finished = true
	st.mu.Unlock()
	c.logger.Debug("lifecycle cancelled", "room_id", roomID)
	return true
}

// EndRoom terminates the room outside the timed flow (explicit end, expiry): the room is closed
// in storage, the lifecycle is dropped silently, then room_ended is broadcast and the connections
// are closed after the configured delay. If storage fails the lifecycle keeps running.
func (c *Coordinator) EndRoom(ctx context.Context, roomID, reason string) (*models.Room, error) {
	st := c.state(roomID)
	if st != nil {
		st.mu.Lock()
	}
	room, err := c.store.EndRoom(ctx, roomID, c.now())
	if st != nil {
		if err == nil || errors.Is(err, storage.ErrRoomEnded) || errors.Is(err, storage.ErrNotFound) {
			c.finishLocked(st)
			c.logger.Debug("lifecycle cancelled", "room_id", roomID)
		}
		st.mu.Unlock()
	}
	if err != nil {
		return nil, err
	}
	c.announceEnd(ctx, roomID, reason)
	return room, nil
}

// Stop cancels every timer and waits for the goroutines to exit. Nothing is broadcast.
func (c *Coordinator) Stop() {
	c.stopBase()
	c.mu.Lock()
	for id, st := range c.rooms {
		st.cancel()
		delete(c.rooms, id)
	}
	c.mu.Unlock()
	c.wg.Wait()
}

func (c *Coordinator) state(roomID string) *roomState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rooms[roomID]
}

func (c *Coordinator) run(ctx context.Context, st *roomState) {
	ticker := time.NewTicker(c.opts.Tick)
	defer ticker.Stop()

	for {
		if !c.step(ctx, st) {
			return
		}
		select {
		case <-ctx.Done():
			st.mu.Lock()
			st.finished = true
			st.mu.Unlock()
			c.logger.Debug("lifecycle timer stopped", "room_id", st.roomID)
			return
		case <-ticker.C:
		}
	}
}

// step performs one tick. It returns false once the lifecycle is over.
func (c *Coordinator) step(ctx context.Context, st *roomState) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.finished || ctx.Err() != nil {
		return false
	}

	switch st.phase {
	case PhaseCountdown:
		if st.countdownRemaining > 0 {
			c.broadcast(ctx, st.roomID, models.Event{
				Type:      models.EventCountdownUpdate,
				RoomID:    st.roomID,
				Remaining: models.IntPtr(st.countdownRemaining),
			})
			st.countdownRemaining--
			return true
		}
		return c.enterNotificationLocked(ctx, st)

	case PhaseNotification:
		if st.notificationRemaining > 0 {
			c.broadcast(ctx, st.roomID, models.Event{
				Type:      models.EventNotificationUpdate,
				RoomID:    st.roomID,
				Remaining: models.IntPtr(st.notificationRemaining),
			})
			st.notificationRemaining--
			return true
		}
		return c.timeoutLocked(ctx, st)
	}
	return false
}

// loadRoom reads the room for a timer transition. ok is false when the lifecycle should stop
// because the room is gone or already closed by another path.
func (c *Coordinator) loadRoom(ctx context.Context, st *roomState) (room *models.Room, ok bool, err error) {
	room, err = c.store.GetRoom(context.WithoutCancel(ctx), st.roomID)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && !room.IsActive()) {
		c.finishLocked(st)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return room, true, nil
}

func (c *Coordinator) enterNotificationLocked(ctx context.Context, st *roomState) bool {
	room, ok, err := c.loadRoom(ctx, st)
	if err != nil {
		c.logger.Error("load room for notification", "room_id", st.roomID, "err", err)
		return true
	}
	if !ok {
		return false
	}
	if room.KeepActiveResponses.Both(models.VoteYes) {
		return c.keepLocked(ctx, st) != nil
	}

	st.phase = PhaseNotification
	st.notificationRemaining = c.opts.NotificationSeconds

	var pending []string
	for _, slot := range []models.Slot{models.SlotUser1, models.SlotUser2} {
		if room.KeepActiveResponses[slot] != models.VoteYes {
			pending = append(pending, room.UserInSlot(slot))
		}
	}
	show := models.Event{
		Type:           models.EventNotificationShow,
		RoomID:         st.roomID,
		TimeoutSeconds: c.opts.NotificationSeconds,
		Message:        c.message("notification_show"),
		UsersToNotify:  pending,
	}
	c.broadcast(ctx, st.roomID, show)
	for _, userID := range pending {
		if !c.hub.SendToUser(userID, show) {
			c.logger.Debug("personal prompt not delivered", "room_id", st.roomID, "user_id", userID)
		}
	}
	c.logger.Info("notification phase", "room_id", st.roomID, "pending", len(pending))
	return true
}

func (c *Coordinator) timeoutLocked(ctx context.Context, st *roomState) bool {
	room, ok, err := c.loadRoom(ctx, st)
	if err != nil {
		c.logger.Error("load room for timeout", "room_id", st.roomID, "err", err)
		return true
	}
	if !ok {
		return false
	}

	if room.KeepActiveResponses.Both(models.VoteYes) {
		return c.keepLocked(ctx, st) != nil
	}
	reason := models.ReasonTimeout
	if room.KeepActiveResponses.Any(models.VoteNo) {
		reason = models.ReasonUserDislike
	}
	if err := c.endLocked(ctx, st, reason); err != nil {
		c.logger.Error("end room on timeout", "room_id", st.roomID, "err", err)
		return true
	}
	return false
}

// keepLocked persists keepActive and broadcasts room_kept. On a storage error the state is left
// as it was.
func (c *Coordinator) keepLocked(ctx context.Context, st *roomState) error {
	ctx = context.WithoutCancel(ctx)
	err := c.store.MarkRoomKept(ctx, st.roomID)
	if errors.Is(err, storage.ErrRoomEnded) || errors.Is(err, storage.ErrNotFound) {
		c.finishLocked(st)
		return nil
	}
	if err != nil {
		c.logger.Error("mark room kept", "room_id", st.roomID, "err", err)
		return err
	}

	c.finishLocked(st)
	c.kept.Add(ctx, 1)
	c.broadcast(ctx, st.roomID, models.Event{
		Type:    models.EventRoomKept,
		RoomID:  st.roomID,
		Message: c.message("room_kept"),
	})
	c.logger.Info("room kept", "room_id", st.roomID)
	return nil
}

// endLocked closes the room in storage, then announces it. On a storage error the state is left
// as it was.
func (c *Coordinator) endLocked(ctx context.Context, st *roomState, reason string) error {
	ctx = context.WithoutCancel(ctx)
	_, err := c.store.EndRoom(ctx, st.roomID, c.now())
	if errors.Is(err, storage.ErrRoomEnded) || errors.Is(err, storage.ErrNotFound) {
		c.finishLocked(st)
		return nil
	}
	if err != nil {
		return err
	}
	c.finishLocked(st)
	c.announceEnd(ctx, st.roomID, reason)
	return nil
}

func (c *Coordinator) announceEnd(ctx context.Context, roomID, reason string) {
	ctx = context.WithoutCancel(ctx)
	_, span := c.tracer.Start(ctx, "lifecycle.room_ended", trace.WithAttributes(
		attribute.String("room.id", roomID),
		attribute.String("reason", reason),
	))
	defer span.End()

	c.ended.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	c.broadcast(ctx, roomID, models.Event{
		Type:    models.EventRoomEnded,
		RoomID:  roomID,
		Reason:  reason,
		Message: c.message("room_ended." + reason),
	})
	c.logger.Info("room ended", "room_id", roomID, "reason", reason)

	closing := c.spawn(func() {
		if err := c.hub.ForceCloseRoom(ctx, roomID, c.opts.CloseDelay); err != nil {
			c.logger.Warn("force close room", "room_id", roomID, "err", err)
		}
	})
	if !closing {
		c.logger.Debug("shutting down, room left to CloseAll", "room_id", roomID)
	}
}

// finishLocked marks st terminal and removes it from the map if it is still the current state
// for its room. Caller holds st.mu.
func (c *Coordinator) finishLocked(st *roomState) {
	st.finished = true
	st.cancel()
	c.mu.Lock()
	if c.rooms[st.roomID] == st {
		delete(c.rooms, st.roomID)
	}
	c.mu.Unlock()
}

func (c *Coordinator) broadcast(ctx context.Context, roomID string, e models.Event) {
	err := c.hub.BroadcastToRoom(ctx, roomID, e, "")
	switch {
	case err == nil:
	case chathub.IsCancelled(err):
		c.logger.Debug("broadcast cancelled", "room_id", roomID, "type", e.Type)
	default:
		c.logger.Warn("broadcast failed", "room_id", roomID, "type", e.Type, "err", err)
	}
}
