// Package telegram handles the integration with the Telegram Bot API.
// It is responsible for receiving updates from Telegram, turning commands into
// matching and lifecycle calls, and relaying room traffic to and from the chat registry.
package telegram

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"mapmo/backend/internal/chathub"
	"mapmo/backend/internal/lifecycle"
	"mapmo/backend/internal/localization"
	"mapmo/backend/internal/matching"
	"mapmo/backend/internal/models"
	"mapmo/backend/internal/storage"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/samber/lo"
)

const opTimeout = 5 * time.Second

// BotService receives Telegram updates and routes them to the queue, the lifecycle coordinator
// and the chat registry.
type BotService struct {
	Sender      Sender
	Store       storage.Storage
	Registry    *chathub.Registry
	Queue       *matching.Queue
	Coordinator *lifecycle.Coordinator
	Locales     *localization.Localizer
	Language    string

	logger *slog.Logger
}

// NewBotService creates a new BotService instance. language is used for users whose Telegram
// language has no catalogue.
func NewBotService(sender Sender, store storage.Storage, registry *chathub.Registry, queue *matching.Queue,
	coord *lifecycle.Coordinator, locales *localization.Localizer, language string, logger *slog.Logger) *BotService {
	return &BotService{
		Sender:      sender,
		Store:       store,
		Registry:    registry,
		Queue:       queue,
		Coordinator: coord,
		Locales:     locales,
		Language:    language,
		logger:      logger,
	}
}

// Run handles updates until ctx is done or the channel is closed.
func (s *BotService) Run(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			s.HandleUpdate(ctx, update)
		}
	}
}

// RestoreSessions reattaches Telegram participants of every active room after a restart.
func (s *BotService) RestoreSessions(ctx context.Context) (int, error) {
	ids, err := s.Store.ActiveRoomIDs(ctx)
	if err != nil {
		return 0, err
	}
	restored := 0
	for _, roomID := range ids {
		room, err := s.Store.GetRoom(ctx, roomID)
		if err != nil {
			s.logger.Warn("restore room", "room_id", roomID, "err", err)
			continue
		}
		for _, userID := range room.UserIDs() {
			user, err := s.Store.GetUser(ctx, userID)
			if err != nil || user.TelegramID == nil {
				continue
			}
			s.connect(user, *user.TelegramID)
			s.joinRoom(ctx, user, *user.TelegramID, roomID)
			restored++
		}
	}
	return restored, nil
}

// HandleUpdate processes a single update. Only messages are handled.
func (s *BotService) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	user, err := s.ensureUser(ctx, msg)
	if err != nil {
		s.logger.Error("resolve telegram user", "telegram_id", msg.From.ID, "err", err)
		s.reply(msg.Chat.ID, s.Language, "tg.error")
		return
	}
	chatID := msg.Chat.ID
	if !s.Registry.IsConnected(user.ID) {
		s.connect(user, chatID)
	}

	if !msg.IsCommand() {
		s.relay(ctx, user, chatID, msg.Text)
		return
	}

	switch msg.Command() {
	case "start":
		if room, err := s.Store.ActiveRoomForUser(ctx, user.ID); err == nil {
			s.joinRoom(ctx, user, chatID, room.ID)
		}
		s.reply(chatID, user.Language, "tg.welcome")
	case "profile":
		s.handleProfile(ctx, user, chatID, msg.CommandArguments())
	case "search":
		s.handleSearch(ctx, user, chatID, strings.TrimSpace(msg.CommandArguments()))
	case "stop":
		s.handleStop(ctx, user, chatID)
	case "yes", "no":
		s.handleVote(ctx, user, chatID, msg.Command())
	default:
		s.reply(chatID, user.Language, "tg.unknown_command")
	}
}

func (s *BotService) ensureUser(ctx context.Context, msg *tgbotapi.Message) (*models.User, error) {
	user, err := s.Store.GetUserByTelegramID(ctx, msg.From.ID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	lang := s.Language
	if lo.Contains(s.Locales.Languages(), msg.From.LanguageCode) {
		lang = msg.From.LanguageCode
	}
	user = &models.User{
		TelegramID: lo.ToPtr(msg.From.ID),
		Nickname:   msg.From.FirstName,
		Language:   lang,
		Status:     models.StatusIdle,
	}
	if err := s.Store.SaveUser(ctx, user); err != nil {
		return nil, err
	}
	s.logger.Info("telegram user registered", "user_id", user.ID, "telegram_id", msg.From.ID)
	return user, nil
}

// connect registers the general handle. A match_found on it joins the room.
func (s *BotService) connect(user *models.User, chatID int64) {
	c := NewClient(user.ID, chatID, user.Language, true, s.Sender, s.Locales, func(c *Client, e models.Event) {
		if e.Type != models.EventMatchFound || e.RoomID == "" {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		s.joinRoom(ctx, user, chatID, e.RoomID)
	}, s.logger)
	s.Registry.Connect(user.ID, c)
	c.Run()
}

// joinRoom attaches a room handle and starts the countdown once both participants are present.
func (s *BotService) joinRoom(ctx context.Context, user *models.User, chatID int64, roomID string) {
	if current, ok := s.Registry.RoomOf(user.ID); ok && current == roomID {
		return
	}
	room, err := s.Store.GetRoom(ctx, roomID)
	if err != nil || !room.IsActive() {
		return
	}

	c := NewClient(user.ID, chatID, user.Language, false, s.Sender, s.Locales, nil, s.logger)
	ok, err := s.Registry.JoinRoom(ctx, roomID, user.ID, c)
	if err != nil || !ok {
		s.logger.Warn("telegram join room", "room_id", roomID, "user_id", user.ID, "err", err)
		return
	}
	c.Run()

	members, err := s.Registry.Members(ctx, roomID)
	if err != nil {
		return
	}
	if _, err := s.Coordinator.StartWhenJoined(ctx, room, members); err != nil {
		s.logger.Warn("start countdown", "room_id", roomID, "err", err)
	}
}

// handleProfile parses "<gender> <preferred,genders> <needs> <interests>".
func (s *BotService) handleProfile(ctx context.Context, user *models.User, chatID int64, args string) {
	fields := strings.Fields(args)
	if len(fields) != 4 {
		s.reply(chatID, user.Language, "tg.profile_usage")
		return
	}
	split := func(v string) []string {
		return lo.Compact(lo.Map(strings.Split(v, ","), func(p string, _ int) string {
			return strings.ToLower(strings.TrimSpace(p))
		}))
	}

	user.Gender = strings.ToLower(fields[0])
	user.PreferredGenders = split(fields[1])
	user.Needs = split(fields[2])
	user.Interests = split(fields[3])
	if err := s.Store.SaveUser(ctx, user); err != nil {
		s.logger.Error("save telegram profile", "user_id", user.ID, "err", err)
		s.reply(chatID, user.Language, "tg.error")
		return
	}
	s.reply(chatID, user.Language, "tg.profile_saved")
}

func (s *BotService) handleSearch(ctx context.Context, user *models.User, chatID int64, searchType string) {
	if searchType == "" {
		searchType = models.SearchTypes[0]
	}
	room, err := s.Queue.Enqueue(ctx, user.ID, searchType)
	switch {
	case err == nil && room == nil:
		s.reply(chatID, user.Language, "tg.searching")
	case err == nil:
		// match_found on the general handle does the rest.
	case errors.Is(err, matching.ErrAlreadyQueued):
		s.reply(chatID, user.Language, "tg.already_searching")
	case errors.Is(err, matching.ErrProfileIncomplete):
		s.reply(chatID, user.Language, "tg.profile_incomplete")
		s.reply(chatID, user.Language, "tg.profile_usage")
	case errors.Is(err, matching.ErrAlreadyInRoom):
		s.reply(chatID, user.Language, "tg.in_room")
	case errors.Is(err, matching.ErrUserBanned):
		s.reply(chatID, user.Language, "tg.banned")
	case errors.Is(err, matching.ErrInvalidSearchType):
		s.reply(chatID, user.Language, "tg.unknown_command")
	default:
		s.logger.Error("telegram search", "user_id", user.ID, "err", err)
		s.reply(chatID, user.Language, "tg.error")
	}
}

// handleStop leaves the queue, or ends the current room.
func (s *BotService) handleStop(ctx context.Context, user *models.User, chatID int64) {
	if s.Queue.Contains(user.ID) {
		if err := s.Queue.Dequeue(ctx, user.ID); err != nil {
			s.logger.Error("telegram dequeue", "user_id", user.ID, "err", err)
			s.reply(chatID, user.Language, "tg.error")
			return
		}
		s.reply(chatID, user.Language, "tg.search_stopped")
		return
	}

	room, err := s.Store.ActiveRoomForUser(ctx, user.ID)
	if err != nil {
		s.reply(chatID, user.Language, "tg.not_in_room")
		return
	}
	if _, err := s.Coordinator.EndRoom(ctx, room.ID, models.ReasonUserEnded); err != nil && !errors.Is(err, storage.ErrRoomEnded) {
		s.logger.Error("telegram end room", "room_id", room.ID, "err", err)
		s.reply(chatID, user.Language, "tg.error")
	}
}

func (s *BotService) handleVote(ctx context.Context, user *models.User, chatID int64, response string) {
	room, err := s.Store.ActiveRoomForUser(ctx, user.ID)
	if err != nil {
		s.reply(chatID, user.Language, "tg.not_in_room")
		return
	}
	_, err = s.Coordinator.HandleUserResponse(ctx, room.ID, user.ID, response)
	switch {
	case err == nil:
	case errors.Is(err, lifecycle.ErrRoomNotFound), errors.Is(err, lifecycle.ErrWrongPhase):
		s.reply(chatID, user.Language, "tg.answer_later")
	default:
		s.logger.Error("telegram vote", "room_id", room.ID, "user_id", user.ID, "err", err)
		s.reply(chatID, user.Language, "tg.error")
	}
}

// relay stores a plain text message and broadcasts it to the user's room.
func (s *BotService) relay(ctx context.Context, user *models.User, chatID int64, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	room, err := s.Store.ActiveRoomForUser(ctx, user.ID)
	if err != nil {
		s.reply(chatID, user.Language, "tg.not_in_room")
		return
	}
	s.joinRoom(ctx, user, chatID, room.ID)

	msg := &models.ChatHistory{RoomID: room.ID, SenderID: user.ID, Content: text, Type: "text"}
	if err := s.Store.SaveMessage(ctx, msg); err != nil {
		s.logger.Error("save telegram message", "room_id", room.ID, "err", err)
		s.reply(chatID, user.Language, "tg.error")
		return
	}
	err = s.Registry.BroadcastToRoom(ctx, room.ID, models.Event{
		Type:      models.EventMessage,
		RoomID:    room.ID,
		SenderID:  user.ID,
		Content:   text,
		Timestamp: lo.ToPtr(msg.CreatedAt),
	}, user.ID)
	if err != nil && !chathub.IsCancelled(err) {
		s.logger.Warn("telegram relay", "room_id", room.ID, "err", err)
	}
}

func (s *BotService) reply(chatID int64, lang, key string) {
	if err := s.Sender.SendText(chatID, s.Locales.GetString(lang, key)); err != nil {
		s.logger.Warn("telegram reply failed", "chat_id", chatID, "key", key, "err", err)
	}
}
