package matching_test

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"mapmo/backend/internal/errs"
	"mapmo/backend/internal/localization"
	"mapmo/backend/internal/matching"
	"mapmo/backend/internal/models"
	"mapmo/backend/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent map[string][]models.Event
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{sent: make(map[string][]models.Event)}
}

func (n *recordingNotifier) SendToUser(userID string, msg any) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent[userID] = append(n.sent[userID], msg.(models.Event))
	return true
}

func (n *recordingNotifier) events(userID string) []models.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sent[userID]
}

type queueFixture struct {
	store    *storage.MemoryStore
	notifier *recordingNotifier
	queue    *matching.Queue
}

func newQueueFixture(t *testing.T) *queueFixture {
	t.Helper()
	locales, err := localization.Default()
	require.NoError(t, err)
	logger := slog.New(slog.DiscardHandler)

	store := storage.NewMemoryStore()
	notifier := newRecordingNotifier()
	return &queueFixture{
		store:    store,
		notifier: notifier,
		queue:    matching.NewQueue(store, matching.NewFactory(store, logger), notifier, locales, logger),
	}
}

func (f *queueFixture) add(t *testing.T, u *models.User) {
	t.Helper()
	require.NoError(t, f.store.SaveUser(context.Background(), u))
}

func (f *queueFixture) user(t *testing.T, id string) *models.User {
	t.Helper()
	u, err := f.store.GetUser(context.Background(), id)
	require.NoError(t, err)
	return u
}

func everyoneUser(id string, needs, interests []string) *models.User {
	return person(id, "female", []string{models.GenderAll}, needs, interests)
}

func TestEnqueue_PairsCompatibleUsersImmediately(t *testing.T) {
	ctx := context.Background()
	f := newQueueFixture(t)
	f.add(t, everyoneUser("alice", []string{"chat"}, []string{"music"}))
	f.add(t, everyoneUser("bob", []string{"chat"}, []string{"music"}))
	f.store.AddIcebreaker("music", "What song is stuck in your head?")

	room, err := f.queue.Enqueue(ctx, "alice", models.SearchChat)
	require.NoError(t, err)
	assert.Nil(t, room, "alone in the queue")
	assert.Equal(t, models.StatusSearching, f.user(t, "alice").Status)

	room, err = f.queue.Enqueue(ctx, "bob", models.SearchChat)
	require.NoError(t, err)
	require.NotNil(t, room)
	assert.Equal(t, "alice", room.User1ID)
	assert.Equal(t, "bob", room.User2ID)

	for _, id := range []string{"alice", "bob"} {
		u := f.user(t, id)
		assert.Equal(t, models.StatusConnected, u.Status)
		require.NotNil(t, u.CurrentRoomID)
		assert.Equal(t, room.ID, *u.CurrentRoomID)
		assert.False(t, f.queue.Contains(id))

		events := f.notifier.events(id)
		require.Len(t, events, 1)
		assert.Equal(t, models.EventMatchFound, events[0].Type)
		assert.Equal(t, room.ID, events[0].RoomID)
		assert.Equal(t, "What song is stuck in your head?", events[0].Icebreaker)
		require.NotNil(t, events[0].MatchedUser)
		assert.NotEqual(t, id, events[0].MatchedUser.ID)
	}

	entries, err := f.store.SearchQueue(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries, "mirror cleared for matched users")
}

func TestEnqueue_Validation(t *testing.T) {
	ctx := context.Background()
	f := newQueueFixture(t)
	f.add(t, everyoneUser("alice", []string{"chat"}, []string{"music"}))
	incomplete := everyoneUser("carol", nil, []string{"music"})
	f.add(t, incomplete)

	_, err := f.queue.Enqueue(ctx, "alice", models.SearchChat)
	require.NoError(t, err)

	_, err = f.queue.Enqueue(ctx, "alice", models.SearchChat)
	assert.ErrorIs(t, err, matching.ErrAlreadyQueued)
	assert.ErrorIs(t, err, errs.ErrValidation)

	_, err = f.queue.Enqueue(ctx, "carol", models.SearchChat)
	assert.ErrorIs(t, err, matching.ErrProfileIncomplete)
	assert.False(t, f.queue.Contains("carol"))

	_, err = f.queue.Enqueue(ctx, "alice", "video")
	assert.ErrorIs(t, err, matching.ErrInvalidSearchType)

	_, err = f.queue.Enqueue(ctx, "ghost", models.SearchChat)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	f.add(t, everyoneUser("dave", []string{"chat"}, []string{"music"}))
	require.NoError(t, f.store.BanUser(ctx, "dave", time.Now().Add(time.Hour)))
	_, err = f.queue.Enqueue(ctx, "dave", models.SearchChat)
	assert.ErrorIs(t, err, matching.ErrUserBanned)
	assert.Equal(t, models.StatusIdle, f.user(t, "dave").Status)

	assert.Equal(t, 1, f.queue.Stats().Total)
}

func TestEnqueue_IncompatibleUsersStayQueued(t *testing.T) {
	ctx := context.Background()
	f := newQueueFixture(t)
	f.add(t, person("m", "male", []string{"male"}, []string{"chat"}, []string{"music"}))
	f.add(t, person("w", "female", []string{"female"}, []string{"chat"}, []string{"music"}))

	_, err := f.queue.Enqueue(ctx, "m", models.SearchChat)
	require.NoError(t, err)
	room, err := f.queue.Enqueue(ctx, "w", models.SearchChat)
	require.NoError(t, err)

	assert.Nil(t, room)
	assert.True(t, f.queue.Contains("m"))
	assert.True(t, f.queue.Contains("w"))
	assert.Equal(t, models.StatusSearching, f.user(t, "w").Status)
}

func TestEnqueue_SearchTypesDoNotMix(t *testing.T) {
	ctx := context.Background()
	f := newQueueFixture(t)
	f.add(t, everyoneUser("a", []string{"chat"}, []string{"music"}))
	f.add(t, everyoneUser("b", []string{"chat"}, []string{"music"}))

	_, err := f.queue.Enqueue(ctx, "a", models.SearchChat)
	require.NoError(t, err)
	room, err := f.queue.Enqueue(ctx, "b", models.SearchVoice)
	require.NoError(t, err)
	assert.Nil(t, room)

	stats := f.queue.Stats()
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.ByType[models.SearchChat])
	assert.Equal(t, 1, stats.ByType[models.SearchVoice])
	assert.Equal(t, 0, stats.ByType[models.SearchRandom])
}

func (f *queueFixture) setPrefs(t *testing.T, id string, prefs ...string) {
	t.Helper()
	u := f.user(t, id)
	u.PreferredGenders = prefs
	require.NoError(t, f.store.SaveUser(context.Background(), u))
}

// queueScanner enqueues "man" first while he accepts nobody, then the candidates, then opens his
// preferences and triggers a drain with a user nobody can pair with. "man" scans first.
func queueScanner(t *testing.T, f *queueFixture, candidates ...string) *models.Room {
	t.Helper()
	ctx := context.Background()
	f.setPrefs(t, "man", "nobody")
	_, err := f.queue.Enqueue(ctx, "man", models.SearchChat)
	require.NoError(t, err)
	for _, id := range candidates {
		_, err := f.queue.Enqueue(ctx, id, models.SearchChat)
		require.NoError(t, err)
	}
	f.setPrefs(t, "man", "female")

	f.add(t, person("filler", "other", []string{"other"}, []string{"n"}, []string{"misc"}))
	_, err = f.queue.Enqueue(ctx, "filler", models.SearchChat)
	require.NoError(t, err)

	u := f.user(t, "man")
	require.NotNil(t, u.CurrentRoomID, "man should be paired by the drain")
	room, err := f.store.GetRoom(ctx, *u.CurrentRoomID)
	require.NoError(t, err)
	return room
}

func TestDrain_HigherScoreWins(t *testing.T) {
	f := newQueueFixture(t)
	f.add(t, person("man", "male", []string{"female"}, []string{"n1", "n2"}, []string{"i1", "i2", "i3"}))
	f.add(t, person("interests", "female", []string{"male"}, []string{"z"}, []string{"i1", "i2", "i3"}))
	f.add(t, person("needs", "female", []string{"male"}, []string{"n1", "n2"}, []string{"misc"}))

	room := queueScanner(t, f, "interests", "needs")

	assert.True(t, room.HasParticipant("needs"), "10 per shared need beats 2 per shared interest")
	assert.True(t, f.queue.Contains("interests"))
	assert.Equal(t, models.StatusSearching, f.user(t, "interests").Status)
}

func TestDrain_TieGoesToEarliestCandidate(t *testing.T) {
	f := newQueueFixture(t)
	f.add(t, person("man", "male", []string{"female"}, []string{"n"}, []string{"misc"}))
	f.add(t, person("early", "female", []string{"male"}, []string{"n"}, []string{"misc"}))
	f.add(t, person("late", "female", []string{"male"}, []string{"n"}, []string{"misc"}))

	room := queueScanner(t, f, "early", "late")

	assert.True(t, room.HasParticipant("early"))
	assert.True(t, f.queue.Contains("late"))
}

func TestDrain_SkipsBannedCandidate(t *testing.T) {
	ctx := context.Background()
	f := newQueueFixture(t)
	f.add(t, person("banned", "female", []string{"male"}, []string{"n"}, []string{"misc"}))
	f.add(t, person("ok", "female", []string{"male"}, []string{"n"}, []string{"misc"}))
	f.add(t, person("man", "male", []string{"female"}, []string{"n"}, []string{"misc"}))

	_, err := f.queue.Enqueue(ctx, "banned", models.SearchChat)
	require.NoError(t, err)
	_, err = f.queue.Enqueue(ctx, "ok", models.SearchChat)
	require.NoError(t, err)
	require.NoError(t, f.store.BanUser(ctx, "banned", time.Now().Add(time.Hour)))

	room, err := f.queue.Enqueue(ctx, "man", models.SearchChat)
	require.NoError(t, err)
	require.NotNil(t, room)
	assert.True(t, room.HasParticipant("ok"))
	assert.True(t, f.queue.Contains("banned"), "rejected user keeps waiting")
}

func TestDequeue(t *testing.T) {
	ctx := context.Background()
	f := newQueueFixture(t)
	f.add(t, everyoneUser("alice", []string{"chat"}, []string{"music"}))

	_, err := f.queue.Enqueue(ctx, "alice", models.SearchChat)
	require.NoError(t, err)

	require.NoError(t, f.queue.Dequeue(ctx, "alice"))
	assert.False(t, f.queue.Contains("alice"))
	assert.Equal(t, models.StatusIdle, f.user(t, "alice").Status)

	assert.NoError(t, f.queue.Dequeue(ctx, "alice"), "dequeue is idempotent")
	assert.NoError(t, f.queue.Dequeue(ctx, "nobody"))
}

func TestRestore(t *testing.T) {
	ctx := context.Background()
	f := newQueueFixture(t)
	a := everyoneUser("a", []string{"chat"}, []string{"misc"})
	a.Status = models.StatusSearching
	b := everyoneUser("b", []string{"chat"}, []string{"misc"})
	b.Status = models.StatusSearching
	stale := everyoneUser("stale", []string{"chat"}, []string{"misc"})
	f.add(t, a)
	f.add(t, b)
	f.add(t, stale)

	now := time.Now()
	require.NoError(t, f.store.AddToSearchQueue(ctx, models.QueueEntry{UserID: "a", SearchType: models.SearchChat, EnqueuedAt: now.Add(-2 * time.Second)}))
	require.NoError(t, f.store.AddToSearchQueue(ctx, models.QueueEntry{UserID: "b", SearchType: models.SearchChat, EnqueuedAt: now.Add(-time.Second)}))
	require.NoError(t, f.store.AddToSearchQueue(ctx, models.QueueEntry{UserID: "stale", SearchType: models.SearchChat, EnqueuedAt: now}))

	restored, err := f.queue.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, restored, "idle users in the mirror are dropped")

	assert.Equal(t, models.StatusConnected, f.user(t, "a").Status)
	assert.Equal(t, models.StatusConnected, f.user(t, "b").Status)
	assert.Equal(t, 0, f.queue.Stats().Total)
	assert.Len(t, f.notifier.events("a"), 1)
}
