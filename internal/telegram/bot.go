// Package telegram exposes the chat service as a Telegram bot. Each chat is
// bound to one session; every text message is one exchange.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/sync/errgroup"

	"edulearn/internal/chat"
	"edulearn/internal/llm"
	"edulearn/internal/prompt"
	"edulearn/internal/session"
)

const (
	newSessionCmd = "new_session"
	summaryCmd    = "show_summary"

	maxMessageLen = 4096

	// maxConcurrentUpdates bounds the updates handled at once across chats.
	maxConcurrentUpdates = 16
)

type Bot struct {
	api      *tgbotapi.BotAPI
	s        sender
	chat     *chat.Service
	bindings Bindings
	logger   *slog.Logger

	workers errgroup.Group
	mu      sync.Mutex
	// tails holds, per chat, the done channel of its latest dispatched update.
	tails map[int64]chan struct{}
}

func New(botToken string, svc *chat.Service, bindings Bindings, logger *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, err
	}
	return newBot(api, botAPISender{api: api}, svc, bindings, logger), nil
}

func newBot(api *tgbotapi.BotAPI, s sender, svc *chat.Service, bindings Bindings, logger *slog.Logger) *Bot {
	if bindings == nil {
		bindings = NewMemoryBindings()
	}
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bot{
		api:      api,
		s:        s,
		chat:     svc,
		bindings: bindings,
		logger:   logger.With("component", "telegram"),
		tails:    make(map[int64]chan struct{}),
	}
	b.workers.SetLimit(maxConcurrentUpdates)
	return b
}

// Start polls for updates until ctx is done and then waits for the updates
// still being handled.
func (b *Bot) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.api.GetUpdatesChan(u)
	b.logger.Info("telegram bot started", "username", b.api.Self.UserName)
	defer b.workers.Wait()

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			b.dispatch(ctx, update)
		}
	}
}

// dispatch handles update on a worker goroutine. Updates of one chat run in
// arrival order so its exchanges never race on the session; other chats are
// not held up by a slow answer. Blocks while all workers are busy.
func (b *Bot) dispatch(ctx context.Context, update tgbotapi.Update) {
	chatID, ok := chatOf(update)
	if !ok {
		return
	}
	done := make(chan struct{})
	b.mu.Lock()
	prev := b.tails[chatID]
	b.tails[chatID] = done
	b.mu.Unlock()

	b.workers.Go(func() error {
		defer func() {
			b.mu.Lock()
			if b.tails[chatID] == done {
				delete(b.tails, chatID)
			}
			b.mu.Unlock()
			close(done)
		}()
		if prev != nil {
			select {
			case <-prev:
			case <-ctx.Done():
				return nil
			}
		}
		b.handleUpdate(ctx, update)
		return nil
	})
}

func chatOf(update tgbotapi.Update) (int64, bool) {
	switch {
	case update.Message != nil && update.Message.Chat != nil:
		return update.Message.Chat.ID, true
	case update.CallbackQuery != nil && update.CallbackQuery.Message != nil && update.CallbackQuery.Message.Chat != nil:
		return update.CallbackQuery.Message.Chat.ID, true
	default:
		return 0, false
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.Message != nil && update.Message.IsCommand():
		b.handleCommand(ctx, update.Message)
	case update.Message != nil:
		b.handleIncomingMessage(ctx, update.Message)
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start", "new":
		kind := strings.TrimSpace(msg.CommandArguments())
		if _, err := b.startSession(ctx, msg.Chat.ID, kind); err != nil {
			if errors.Is(err, chat.ErrBadInput) {
				b.sendMessage(msg.Chat.ID, "Unknown mode. Available modes: "+strings.Join(prompt.Names(), ", "))
				return
			}
			b.logger.Error("failed to start session", "chat_id", msg.Chat.ID, "error", err)
			b.sendMessage(msg.Chat.ID, "Sorry, something went wrong.")
			return
		}
		text := "New session started. Ask me anything about your studies."
		if kind != "" {
			text = fmt.Sprintf("New %s session started.", kind)
		}
		b.sendWithMenu(msg.Chat.ID, text)
	case "help":
		b.sendMessage(msg.Chat.ID, "Send a question to get an answer.\n"+
			"/new [mode] starts a fresh session, modes: "+strings.Join(prompt.Names(), ", "))
	default:
		b.sendMessage(msg.Chat.ID, "Unknown command. Try /help.")
	}
}

func (b *Bot) handleIncomingMessage(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	id, err := b.sessionFor(ctx, chatID)
	if err != nil {
		b.logger.Error("failed to resolve session", "chat_id", chatID, "error", err)
		b.sendMessage(chatID, "Sorry, something went wrong.")
		return
	}

	ans, err := b.chat.Ask(ctx, id, msg.Text)
	if errors.Is(err, session.ErrNotFound) {
		// The bound session expired; continue in a fresh one.
		if id, err = b.startSession(ctx, chatID, ""); err == nil {
			ans, err = b.chat.Ask(ctx, id, msg.Text)
		}
	}
	if err != nil {
		b.sendMessage(chatID, userMessage(err))
		return
	}
	b.sendWithMenu(chatID, ans.Text)
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if cb.Message == nil {
		return
	}
	chatID := cb.Message.Chat.ID
	if _, err := b.s.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
		b.logger.Debug("failed to answer callback", "error", err)
	}
	switch cb.Data {
	case newSessionCmd:
		if _, err := b.startSession(ctx, chatID, ""); err != nil {
			b.logger.Error("failed to start session", "chat_id", chatID, "error", err)
			b.sendMessage(chatID, "Sorry, something went wrong.")
			return
		}
		b.sendMessage(chatID, "Context cleared, new session started.")
	case summaryCmd:
		b.handleSummary(ctx, chatID)
	}
}

func (b *Bot) handleSummary(ctx context.Context, chatID int64) {
	id, ok, err := b.bindings.Lookup(chatID)
	if err != nil || !ok {
		b.sendMessage(chatID, "No conversation yet.")
		return
	}
	s, err := b.chat.History(ctx, id)
	if err != nil {
		b.sendMessage(chatID, "No conversation yet.")
		return
	}
	text := "No summary yet."
	if s.Summary != "" {
		text = "Summary: " + s.Summary
	}
	b.sendMessage(chatID, fmt.Sprintf("%s\nMessages since summary: %d", text, len(s.History)))
}

func (b *Bot) sessionFor(ctx context.Context, chatID int64) (string, error) {
	id, ok, err := b.bindings.Lookup(chatID)
	if err != nil {
		return "", err
	}
	if ok {
		return id, nil
	}
	return b.startSession(ctx, chatID, "")
}

func (b *Bot) startSession(ctx context.Context, chatID int64, kind string) (string, error) {
	id, err := b.chat.CreateSession(ctx, kind)
	if err != nil {
		return "", err
	}
	if err := b.bindings.Bind(chatID, id); err != nil {
		return "", fmt.Errorf("bind chat %d: %w", chatID, err)
	}
	b.logger.Info("chat bound to session", "chat_id", chatID, "session_id", id)
	return id, nil
}

func userMessage(err error) string {
	switch {
	case errors.Is(err, chat.ErrBadInput):
		return "Please send a non-empty question."
	case errors.Is(err, session.ErrConflict):
		return "Your session was updated elsewhere at the same time, please send the question again."
	case errors.Is(err, llm.ErrTimeout):
		return "The assistant took too long to answer, please try again."
	case errors.Is(err, llm.ErrServiceUnavailable):
		return "The assistant is unavailable right now, please try again later."
	default:
		return "Sorry, something went wrong."
	}
}

func menuKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("New session", newSessionCmd),
			tgbotapi.NewInlineKeyboardButtonData("Summary", summaryCmd),
		),
	)
}

// sendWithMenu sends text and attaches the menu to the last part.
func (b *Bot) sendWithMenu(chatID int64, text string) {
	parts := splitMessage(text, maxMessageLen)
	for i, p := range parts {
		msg := tgbotapi.NewMessage(chatID, p)
		if i == len(parts)-1 {
			msg.ReplyMarkup = menuKeyboard()
		}
		if _, err := b.s.Send(msg); err != nil {
			b.logger.Warn("failed to send message", "chat_id", chatID, "error", err)
			return
		}
	}
}

func (b *Bot) sendMessage(chatID int64, text string) {
	for _, p := range splitMessage(text, maxMessageLen) {
		if _, err := b.s.Send(tgbotapi.NewMessage(chatID, p)); err != nil {
			b.logger.Warn("failed to send message", "chat_id", chatID, "error", err)
			return
		}
	}
}

// splitMessage cuts text into parts of at most limit runes, preferring line
// breaks.
func splitMessage(text string, limit int) []string {
	if text == "" {
		return []string{"(empty answer)"}
	}
	var parts []string
	for utf8.RuneCountInString(text) > limit {
		cut := byteOffset(text, limit)
		if nl := strings.LastIndexByte(text[:cut], '\n'); nl > 0 {
			cut = nl + 1
		}
		parts = append(parts, text[:cut])
		text = text[cut:]
	}
	return append(parts, text)
}

func byteOffset(s string, runes int) int {
	n := 0
	for i := range s {
		if n == runes {
			return i
		}
		n++
	}
	return len(s)
}

// Notify sends a plain message to chatID, e.g. the daily report to an admin.
func (b *Bot) Notify(_ context.Context, chatID int64, text string) error {
	for _, p := range splitMessage(text, maxMessageLen) {
		if _, err := b.s.Send(tgbotapi.NewMessage(chatID, p)); err != nil {
			return err
		}
	}
	return nil
}
