// Package bot implements the Telegram chat commands used to manage and query
// a chat's validator subscription.
package bot

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Albermonte/validator-election-bot/internal/logger"
	"github.com/Albermonte/validator-election-bot/internal/nimiq"
	"github.com/Albermonte/validator-election-bot/internal/notify"
	"github.com/Albermonte/validator-election-bot/internal/rewards"
	"github.com/Albermonte/validator-election-bot/internal/subscribers"
	"github.com/Albermonte/validator-election-bot/internal/telegram"
)

const (
	replyAskAddress   = "What validator address you want to listen to?"
	replyInvalid      = "Invalid address, please try again."
	replyNotAdmin     = "You need to be an admin to use this bot."
	replyNoAddress    = "No address set. Use /start to set one."
	replyRemoved      = "Address removed."
	replyUnavailable  = "Unable to get the info right now, please try again later."
	replyListeningFmt = "Listening to %s"

	retryDelay = 3 * time.Second
)

// API is the subset of the Bot API used for polling and conversations.
type API interface {
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]telegram.Update, error)
	GetChatMember(ctx context.Context, chatID, userID int64) (telegram.ChatMember, error)
	AskForReply(ctx context.Context, chatID int64, text string) error
}

type Sender interface {
	Send(ctx context.Context, chatID int64, msg notify.Message) error
}

// Reporter answers the on-demand queries.
type Reporter interface {
	Status(ctx context.Context, chatID int64, address string) error
	Rewards(ctx context.Context, address string) (rewards.Result, error)
}

type Bot struct {
	api         API
	sender      Sender
	registry    subscribers.Registry
	reporter    Reporter
	pollTimeout time.Duration

	mu      sync.Mutex
	pending map[int64]bool
	offset  int64
}

func New(api API, sender Sender, registry subscribers.Registry, reporter Reporter, pollTimeout time.Duration) *Bot {
	return &Bot{
		api:         api,
		sender:      sender,
		registry:    registry,
		reporter:    reporter,
		pollTimeout: pollTimeout,
		pending:     make(map[int64]bool),
	}
}

// Run long-polls for updates until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	logger.Info("BOT", "Polling for commands")
	for {
		if ctx.Err() != nil {
			return nil
		}

		updates, err := b.api.GetUpdates(ctx, b.offset, b.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Warn("BOT", "getUpdates failed: %v. Retrying in %v", err, retryDelay)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(retryDelay):
			}
			continue
		}

		for _, u := range updates {
			if u.UpdateID >= b.offset {
				b.offset = u.UpdateID + 1
			}
			b.HandleUpdate(ctx, u)
		}
	}
}

// HandleUpdate dispatches a single update.
func (b *Bot) HandleUpdate(ctx context.Context, u telegram.Update) {
	msg := u.Message
	if msg == nil || msg.Text == "" {
		return
	}

	cmd, ok := command(msg.Text)
	if !ok {
		b.handleReply(ctx, msg)
		return
	}

	logger.Debug("BOT", "Command /%s in chat %d", cmd, msg.Chat.ID)
	switch cmd {
	case "start":
		b.handleStart(ctx, msg)
	case "validator":
		b.handleValidator(ctx, msg)
	case "status":
		b.handleStatus(ctx, msg)
	case "money":
		b.handleMoney(ctx, msg)
	case "remove":
		b.handleRemove(ctx, msg)
	}
}

// command extracts "start" from "/start@SomeBot arg".
func command(text string) (string, bool) {
	if !strings.HasPrefix(text, "/") {
		return "", false
	}
	name := strings.Fields(text)[0][1:]
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	return strings.ToLower(name), name != ""
}

func (b *Bot) handleStart(ctx context.Context, msg *telegram.Message) {
	if !b.authorized(ctx, msg) {
		return
	}

	b.mu.Lock()
	b.pending[msg.Chat.ID] = true
	b.mu.Unlock()

	if err := b.api.AskForReply(ctx, msg.Chat.ID, replyAskAddress); err != nil {
		logger.Warn("BOT", "Address prompt to chat %d failed: %v", msg.Chat.ID, err)
	}
}

// handleReply completes a pending /start conversation.
func (b *Bot) handleReply(ctx context.Context, msg *telegram.Message) {
	b.mu.Lock()
	waiting := b.pending[msg.Chat.ID]
	delete(b.pending, msg.Chat.ID)
	b.mu.Unlock()
	if !waiting {
		return
	}

	if !nimiq.ValidAddress(msg.Text) {
		b.reply(ctx, msg.Chat.ID, replyInvalid)
		return
	}

	address := nimiq.FormatAddress(msg.Text)
	if err := b.registry.Set(ctx, msg.Chat.ID, address); err != nil {
		logger.Error("BOT", "Failed to store address for chat %d: %v", msg.Chat.ID, err)
		b.reply(ctx, msg.Chat.ID, replyUnavailable)
		return
	}
	logger.Info("BOT", "Chat %d now listens to %s", msg.Chat.ID, address)
	b.reply(ctx, msg.Chat.ID, fmt.Sprintf(replyListeningFmt, address))
}

func (b *Bot) handleValidator(ctx context.Context, msg *telegram.Message) {
	if !b.authorized(ctx, msg) {
		return
	}
	address, ok := b.address(ctx, msg.Chat.ID)
	if !ok {
		return
	}
	b.reply(ctx, msg.Chat.ID, fmt.Sprintf(replyListeningFmt, address))
}

func (b *Bot) handleStatus(ctx context.Context, msg *telegram.Message) {
	address, ok := b.address(ctx, msg.Chat.ID)
	if !ok {
		return
	}
	if err := b.reporter.Status(ctx, msg.Chat.ID, address); err != nil {
		logger.Warn("BOT", "/status for chat %d failed: %v", msg.Chat.ID, err)
		b.reply(ctx, msg.Chat.ID, replyUnavailable)
	}
}

func (b *Bot) handleMoney(ctx context.Context, msg *telegram.Message) {
	address, ok := b.address(ctx, msg.Chat.ID)
	if !ok {
		return
	}
	result, err := b.reporter.Rewards(ctx, address)
	if err != nil {
		logger.Warn("BOT", "/money for chat %d failed: %v", msg.Chat.ID, err)
		b.reply(ctx, msg.Chat.ID, replyUnavailable)
		return
	}
	_ = b.sender.Send(ctx, msg.Chat.ID, notify.FormatRewards(result))
}

func (b *Bot) handleRemove(ctx context.Context, msg *telegram.Message) {
	if !b.authorized(ctx, msg) {
		return
	}
	if err := b.registry.Delete(ctx, msg.Chat.ID); err != nil {
		logger.Error("BOT", "Failed to remove address for chat %d: %v", msg.Chat.ID, err)
		b.reply(ctx, msg.Chat.ID, replyUnavailable)
		return
	}
	b.reply(ctx, msg.Chat.ID, replyRemoved)
}

// authorized allows everyone in private chats and only admins in groups.
// It replies to the chat when the sender is rejected.
func (b *Bot) authorized(ctx context.Context, msg *telegram.Message) bool {
	if msg.Chat.Private() {
		return true
	}
	if msg.From == nil {
		b.reply(ctx, msg.Chat.ID, replyNotAdmin)
		return false
	}

	member, err := b.api.GetChatMember(ctx, msg.Chat.ID, msg.From.ID)
	if err != nil {
		logger.Warn("BOT", "getChatMember %d/%d failed: %v", msg.Chat.ID, msg.From.ID, err)
		b.reply(ctx, msg.Chat.ID, replyUnavailable)
		return false
	}
	if !member.Admin() {
		b.reply(ctx, msg.Chat.ID, replyNotAdmin)
		return false
	}
	return true
}

// address returns the chat's registered address or tells the chat it has none.
func (b *Bot) address(ctx context.Context, chatID int64) (string, bool) {
	sub, ok, err := b.registry.Get(ctx, chatID)
	if err != nil {
		logger.Error("BOT", "Failed to read address for chat %d: %v", chatID, err)
		b.reply(ctx, chatID, replyUnavailable)
		return "", false
	}
	if !ok || sub.Address == "" {
		b.reply(ctx, chatID, replyNoAddress)
		return "", false
	}
	return sub.Address, true
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	_ = b.sender.Send(ctx, chatID, notify.Message{Text: text, Mode: notify.ParseModeNone})
}
