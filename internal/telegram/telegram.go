// Package telegram hosts the Telegram client, command routing, and handlers.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"llm_relay_bot/internal/assistant"
	"llm_relay_bot/internal/config"
	"llm_relay_bot/internal/domain"
	"llm_relay_bot/internal/logging"
)

// Platform names Telegram in invocations and logs.
const Platform = "telegram"

// MessageLimit is the maximum message length Telegram accepts, in characters.
const MessageLimit = 4096

type botAPI interface {
	Start(ctx context.Context)
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	GetChatMember(ctx context.Context, params *bot.GetChatMemberParams) (*models.ChatMember, error)
	SetMyCommands(ctx context.Context, params *bot.SetMyCommandsParams) (bool, error)
}

type commands interface {
	Chat(ctx context.Context, inv assistant.Invocation, prompt string) assistant.Response
	SetInstruction(ctx context.Context, inv assistant.Invocation, target assistant.Target, instruction string) assistant.Response
	SetServerPrompt(ctx context.Context, inv assistant.Invocation, text string) assistant.Response
	AddAuthorized(ctx context.Context, inv assistant.Invocation, target assistant.Target) assistant.Response
	RemoveAuthorized(ctx context.Context, inv assistant.Invocation, target assistant.Target) assistant.Response
	Forget(ctx context.Context, inv assistant.Invocation, target *assistant.Target) assistant.Response
}

var (
	defaultAllowedUpdates = bot.AllowedUpdates{
		"message",
		"edited_message",
		"my_chat_member",
		"chat_member",
	}

	createBot = func(token string, options ...bot.Option) (botAPI, error) {
		return bot.New(token, options...)
	}
)

// Client wraps the Telegram bot instance and routes commands to the
// assistant.
type Client struct {
	bot      botAPI
	commands commands
	logger   *logrus.Entry
}

// NewClient initializes the Telegram bot with long polling and the command
// router as default handler.
func NewClient(cfg config.Config, svc commands, logger *logrus.Entry) (*Client, error) {
	if strings.TrimSpace(cfg.TelegramToken) == "" {
		return nil, errors.New("telegram token is required")
	}
	if svc == nil {
		return nil, errors.New("command service is required")
	}
	if logger == nil {
		logger = logging.Logger()
	}

	c := &Client{
		commands: svc,
		logger:   logger,
	}

	tgBot, err := createBot(cfg.TelegramToken,
		bot.WithAllowedUpdates(defaultAllowedUpdates),
		bot.WithDefaultHandler(c.handleUpdate),
		bot.WithErrorsHandler(errorHandler(logger)),
	)
	if err != nil {
		return nil, fmt.Errorf("init telegram bot client: %w", err)
	}
	c.bot = tgBot

	return c, nil
}

// Start registers the command menu and receives updates via long polling
// until the context is canceled.
func (c *Client) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	if _, err := c.bot.SetMyCommands(ctx, &bot.SetMyCommandsParams{Commands: menuCommands}); err != nil {
		c.logger.WithField("event", "telegram_commands_failed").WithError(err).Warn("failed to register command menu")
	}

	c.logger.WithFields(logging.Fields{
		"event":           "telegram_listen",
		"allowed_updates": defaultAllowedUpdates,
	}).Info("starting telegram long polling")

	c.bot.Start(ctx)

	c.logger.WithField("event", "telegram_stopped").Info("telegram polling stopped")
}

func (c *Client) handleUpdate(ctx context.Context, _ *bot.Bot, update *models.Update) {
	if update == nil {
		return
	}

	logUpdate(c.logger, update)

	msg := update.Message
	if msg == nil || msg.From == nil {
		return
	}

	name, args, ok := parseCommand(msg.Text)
	if !ok {
		return
	}

	run, known := handlers[name]
	if !known {
		return
	}

	resp := run(ctx, c, msg, args)
	c.reply(ctx, msg, resp)
}

// adminScope selects how a command resolves the sender's administrator bit.
type adminScope int

const (
	// adminUnused skips the lookup for commands that never consult it.
	adminUnused adminScope = iota
	// adminChat covers commands that only touch the current chat; the sender
	// of a private chat administers it.
	adminChat
	// adminGlobal covers commands that change state shared by every chat;
	// only group creators and administrators qualify.
	adminGlobal
)

func (c *Client) invocation(ctx context.Context, msg *models.Message, scope adminScope) assistant.Invocation {
	return assistant.Invocation{
		Platform: Platform,
		ServerID: domain.FormatID(msg.Chat.ID),
		Actor: assistant.Actor{
			ID:          domain.FormatID(msg.From.ID),
			DisplayName: displayName(msg.From),
			IsAdmin:     c.isChatAdmin(ctx, &msg.Chat, msg.From.ID, scope),
		},
	}
}

func (c *Client) isChatAdmin(ctx context.Context, chat *models.Chat, userID int64, scope adminScope) bool {
	if scope == adminUnused {
		return false
	}
	if chat.Type == models.ChatTypePrivate {
		return scope == adminChat
	}

	member, err := c.bot.GetChatMember(ctx, &bot.GetChatMemberParams{
		ChatID: chat.ID,
		UserID: userID,
	})
	if err != nil {
		c.logger.WithFields(logging.Fields{
			"event":   "telegram_member_lookup_failed",
			"chat_id": chat.ID,
			"user_id": userID,
		}).WithError(err).Warn("failed to resolve chat member")
		return false
	}
	if member == nil {
		return false
	}

	return member.Type == models.ChatMemberTypeOwner || member.Type == models.ChatMemberTypeAdministrator
}

func (c *Client) reply(ctx context.Context, msg *models.Message, resp assistant.Response) {
	for _, chunk := range assistant.SplitText(resp.Text, MessageLimit) {
		_, err := c.bot.SendMessage(ctx, &bot.SendMessageParams{
			ChatID: msg.Chat.ID,
			Text:   chunk,
			ReplyParameters: &models.ReplyParameters{
				MessageID:                msg.ID,
				AllowSendingWithoutReply: true,
			},
		})
		if err != nil {
			c.logger.WithFields(logging.Fields{
				"event":   "telegram_send_failed",
				"chat_id": msg.Chat.ID,
			}).WithError(err).Error("failed to send reply")
			return
		}
	}
}

func logUpdate(logger *logrus.Entry, update *models.Update) {
	meta := extractUpdateMeta(update)

	fields := logging.Fields{
		"event":       "telegram_update",
		"update_type": meta.updateType,
	}

	if meta.text != "" {
		fields["text"] = meta.text
	}
	if meta.userID != 0 {
		fields["user_id"] = meta.userID
	}
	if meta.chatID != 0 {
		fields["chat_id"] = meta.chatID
	}

	logger.WithFields(fields).Info("telegram update received")
}

type updateMeta struct {
	userID     int64
	chatID     int64
	text       string
	updateType string
}

func extractUpdateMeta(update *models.Update) updateMeta {
	switch {
	case update.Message != nil:
		return updateMeta{
			userID:     userID(update.Message.From),
			chatID:     chatID(&update.Message.Chat),
			text:       strings.TrimSpace(update.Message.Text),
			updateType: "message",
		}
	case update.EditedMessage != nil:
		return updateMeta{
			userID:     userID(update.EditedMessage.From),
			chatID:     chatID(&update.EditedMessage.Chat),
			text:       strings.TrimSpace(update.EditedMessage.Text),
			updateType: "edited_message",
		}
	case update.MyChatMember != nil:
		return updateMeta{
			userID:     userID(&update.MyChatMember.From),
			chatID:     chatID(&update.MyChatMember.Chat),
			updateType: "my_chat_member",
		}
	case update.ChatMember != nil:
		return updateMeta{
			userID:     userID(&update.ChatMember.From),
			chatID:     chatID(&update.ChatMember.Chat),
			updateType: "chat_member",
		}
	default:
		return updateMeta{updateType: "unknown"}
	}
}

func errorHandler(logger *logrus.Entry) bot.ErrorsHandler {
	if logger == nil {
		logger = logging.Logger()
	}

	return func(err error) {
		if err == nil {
			return
		}

		logger.WithField("event", "telegram_error").WithError(err).Error("telegram polling error")
	}
}

func userID(user *models.User) int64 {
	if user == nil {
		return 0
	}

	return user.ID
}

func chatID(chat *models.Chat) int64 {
	if chat == nil {
		return 0
	}

	return chat.ID
}

func displayName(user *models.User) string {
	if user == nil {
		return ""
	}
	name := strings.TrimSpace(user.FirstName + " " + user.LastName)
	if name == "" {
		name = user.Username
	}
	return name
}
