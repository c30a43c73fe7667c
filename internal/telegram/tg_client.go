package telegram

import (
	"encoding/json"
	"log/slog"
	"sync"

	"mapmo/backend/internal/chathub"
	"mapmo/backend/internal/localization"
	"mapmo/backend/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const sendBuffer = 64

// Sender delivers a plain text message to a Telegram chat.
type Sender interface {
	SendText(chatID int64, text string) error
}

// BotSender adapts *tgbotapi.BotAPI to Sender.
type BotSender struct {
	API *tgbotapi.BotAPI
}

func (b BotSender) SendText(chatID int64, text string) error {
	_, err := b.API.Send(tgbotapi.NewMessage(chatID, text))
	return err
}

// Client implements chathub.Client for one Telegram chat. A user holds two of them while in a
// room: the general handle, which only renders match_found, and the room handle.
type Client struct {
	UserID   string
	ChatID   int64
	Language string
	General  bool

	sender  Sender
	locales *localization.Localizer
	onEvent func(c *Client, e models.Event)
	logger  *slog.Logger

	mu     sync.Mutex
	send   chan models.Event
	closed bool
}

// NewClient builds a handle for chatID. onEvent, if set, sees every event before it is rendered.
func NewClient(userID string, chatID int64, language string, general bool, sender Sender,
	locales *localization.Localizer, onEvent func(*Client, models.Event), logger *slog.Logger) *Client {
	return &Client{
		UserID:   userID,
		ChatID:   chatID,
		Language: language,
		General:  general,
		sender:   sender,
		locales:  locales,
		onEvent:  onEvent,
		logger:   logger,
		send:     make(chan models.Event, sendBuffer),
	}
}

func (c *Client) GetUserID() string { return c.UserID }

func (c *Client) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// Send decodes payload and queues it for the write pump.
func (c *Client) Send(payload []byte) error {
	var e models.Event
	if err := json.Unmarshal(payload, &e); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return chathub.ErrClientClosed
	}
	select {
	case c.send <- e:
		return nil
	default:
		return chathub.ErrClientClosed
	}
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// Run starts the write pump. Incoming updates are read centrally by BotService.
func (c *Client) Run() {
	go c.writePump()
}

func (c *Client) writePump() {
	for e := range c.send {
		if c.onEvent != nil {
			c.onEvent(c, e)
		}
		text := c.render(e)
		if text == "" {
			continue
		}
		if err := c.sender.SendText(c.ChatID, text); err != nil {
			c.logger.Warn("telegram send failed", "user_id", c.UserID, "type", e.Type, "err", err)
		}
	}
	c.logger.Debug("telegram write pump stopped", "user_id", c.UserID, "general", c.General)
}

func (c *Client) render(e models.Event) string {
	if c.General {
		if e.Type != models.EventMatchFound {
			return ""
		}
		text := e.Message
		if e.Icebreaker != "" {
			text += "\n" + c.locales.Format(c.Language, "tg.icebreaker", e.Icebreaker)
		}
		return text
	}

	switch e.Type {
	case models.EventMessage:
		if e.SenderID == c.UserID {
			return ""
		}
		return e.Content
	case models.EventNotificationShow:
		return e.Message + "\n" + c.locales.GetString(c.Language, "tg.vote_hint")
	case models.EventWaitingForOther:
		// Only the user who already answered is waiting.
		if e.SenderID != c.UserID {
			return ""
		}
		return e.Message
	case models.EventCountdownStart, models.EventRoomKept, models.EventRoomEnded,
		models.EventLikeResponse, models.EventError:
		return e.Message
	default:
		return ""
	}
}
