// Package discord hosts the Discord gateway session, slash commands and
// message handlers.
package discord

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/sirupsen/logrus"

	"llm_relay_bot/internal/assistant"
	"llm_relay_bot/internal/config"
	"llm_relay_bot/internal/domain"
	"llm_relay_bot/internal/logging"
)

// Platform names Discord in invocations and logs.
const Platform = "discord"

// MessageLimit is the maximum message length Discord accepts, in characters.
const MessageLimit = 2000

const intents = discordgo.IntentGuildMessages | discordgo.IntentMessageContent

type session interface {
	AddHandler(handler interface{}) func()
	Open() error
	Close() error
	ApplicationCommandBulkOverwrite(appID string, guildID string, commands []*discordgo.ApplicationCommand, options ...discordgo.RequestOption) ([]*discordgo.ApplicationCommand, error)
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	ChannelMessageSendReply(channelID string, content string, reference *discordgo.MessageReference, options ...discordgo.RequestOption) (*discordgo.Message, error)
	FollowupMessageCreate(interaction *discordgo.Interaction, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

type commands interface {
	Chat(ctx context.Context, inv assistant.Invocation, prompt string) assistant.Response
	SetInstruction(ctx context.Context, inv assistant.Invocation, target assistant.Target, instruction string) assistant.Response
	SetServerPrompt(ctx context.Context, inv assistant.Invocation, text string) assistant.Response
	AddAuthorized(ctx context.Context, inv assistant.Invocation, target assistant.Target) assistant.Response
	RemoveAuthorized(ctx context.Context, inv assistant.Invocation, target assistant.Target) assistant.Response
	Forget(ctx context.Context, inv assistant.Invocation, target *assistant.Target) assistant.Response
}

// newSession is overridable for tests.
var newSession = func(token string) (session, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	s.Identify.Intents = intents
	return s, nil
}

// Client wraps the Discord session and routes commands to the assistant.
type Client struct {
	session  session
	commands commands
	appID    string
	guildID  string
	logger   *logrus.Entry
	ctx      context.Context
}

// NewClient creates the gateway session; it connects in Start.
func NewClient(cfg config.Config, svc commands, logger *logrus.Entry) (*Client, error) {
	if strings.TrimSpace(cfg.DiscordToken) == "" {
		return nil, errors.New("discord token is required")
	}
	if strings.TrimSpace(cfg.DiscordAppID) == "" {
		return nil, errors.New("discord application id is required")
	}
	if svc == nil {
		return nil, errors.New("command service is required")
	}
	if logger == nil {
		logger = logging.Logger()
	}

	s, err := newSession(cfg.DiscordToken)
	if err != nil {
		return nil, fmt.Errorf("init discord session: %w", err)
	}

	return &Client{
		session:  s,
		commands: svc,
		appID:    cfg.DiscordAppID,
		guildID:  cfg.DiscordGuildID,
		logger:   logger,
		ctx:      context.Background(),
	}, nil
}

// Start opens the gateway, registers slash commands and blocks until ctx is
// canceled.
func (c *Client) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	c.ctx = ctx

	c.session.AddHandler(c.onMessageCreate)
	c.session.AddHandler(c.onInteractionCreate)

	if err := c.session.Open(); err != nil {
		return fmt.Errorf("open discord gateway: %w", err)
	}

	registered, err := c.session.ApplicationCommandBulkOverwrite(c.appID, c.guildID, slashCommands())
	if err != nil {
		_ = c.session.Close()
		return fmt.Errorf("register discord commands: %w", err)
	}

	c.logger.WithFields(logging.Fields{
		"event":    "discord_listen",
		"commands": len(registered),
		"guild_id": c.guildID,
	}).Info("discord gateway connected")

	<-ctx.Done()

	if err := c.session.Close(); err != nil {
		c.logger.WithField("event", "discord_close_failed").WithError(err).Warn("failed to close discord session")
	}
	c.logger.WithField("event", "discord_stopped").Info("discord gateway stopped")

	return nil
}

func (c *Client) onMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m == nil || m.Message == nil || m.Author == nil || m.Author.Bot {
		return
	}
	if m.GuildID == "" {
		return
	}

	prompt, ok := parsePrefix(m.Content)
	if !ok {
		return
	}

	c.logger.WithFields(logging.Fields{
		"event":      "discord_message_command",
		"server_id":  m.GuildID,
		"channel_id": m.ChannelID,
		"user_id":    m.Author.ID,
	}).Info("discord chat command received")

	resp := assistant.Response{Text: usageChat}
	if prompt != "" {
		inv := assistant.Invocation{
			Platform: Platform,
			ServerID: domain.NormalizeID(m.GuildID),
			Actor: assistant.Actor{
				ID:          domain.NormalizeID(m.Author.ID),
				DisplayName: memberName(m.Member, m.Author),
			},
		}
		resp = c.commands.Chat(c.ctx, inv, prompt)
	}

	for _, chunk := range assistant.SplitText(resp.Text, MessageLimit) {
		if _, err := c.session.ChannelMessageSendReply(m.ChannelID, chunk, m.Reference()); err != nil {
			c.logger.WithFields(logging.Fields{
				"event":      "discord_send_failed",
				"channel_id": m.ChannelID,
			}).WithError(err).Error("failed to send reply")
			return
		}
	}
}

func (c *Client) onInteractionCreate(_ *discordgo.Session, i *discordgo.InteractionCreate) {
	if i == nil || i.Interaction == nil || i.Type != discordgo.InteractionApplicationCommand {
		return
	}

	data := i.ApplicationCommandData()
	c.logger.WithFields(logging.Fields{
		"event":     "discord_interaction",
		"command":   data.Name,
		"server_id": i.GuildID,
	}).Info("discord slash command received")

	resp := c.dispatch(i.Interaction, data)
	c.respond(i.Interaction, resp)
}

func (c *Client) dispatch(i *discordgo.Interaction, data discordgo.ApplicationCommandInteractionData) assistant.Response {
	if i.GuildID == "" || i.Member == nil || i.Member.User == nil {
		return assistant.Response{Text: msgGuildOnly, Private: true}
	}

	inv := assistant.Invocation{
		Platform: Platform,
		ServerID: domain.NormalizeID(i.GuildID),
		Actor: assistant.Actor{
			ID:          domain.NormalizeID(i.Member.User.ID),
			DisplayName: memberName(i.Member, i.Member.User),
			IsAdmin:     i.Member.Permissions&discordgo.PermissionAdministrator != 0,
		},
	}
	opts := optionsOf(data)
	target, hasTarget := opts.target(data.Resolved)

	switch data.Name {
	case cmdSetInstruction:
		if !hasTarget {
			return assistant.Response{Text: msgMissingUser, Private: true}
		}
		return c.commands.SetInstruction(c.ctx, inv, target, opts.text(optInstruction))
	case cmdSetServerPrompt:
		return c.commands.SetServerPrompt(c.ctx, inv, opts.text(optPrompt))
	case cmdAddAuthorized:
		if !hasTarget {
			return assistant.Response{Text: msgMissingUser, Private: true}
		}
		return c.commands.AddAuthorized(c.ctx, inv, target)
	case cmdRemoveAuthorized:
		if !hasTarget {
			return assistant.Response{Text: msgMissingUser, Private: true}
		}
		return c.commands.RemoveAuthorized(c.ctx, inv, target)
	case cmdForget:
		if !hasTarget {
			return c.commands.Forget(c.ctx, inv, nil)
		}
		return c.commands.Forget(c.ctx, inv, &target)
	default:
		return assistant.Response{Text: msgUnknownCommand, Private: true}
	}
}

// respond answers the interaction with the first chunk and sends the rest as
// follow-up messages with the same visibility.
func (c *Client) respond(i *discordgo.Interaction, resp assistant.Response) {
	chunks := assistant.SplitText(resp.Text, MessageLimit)
	if len(chunks) == 0 {
		chunks = []string{resp.Text}
	}

	var flags discordgo.MessageFlags
	if resp.Private {
		flags = discordgo.MessageFlagsEphemeral
	}

	err := c.session.InteractionRespond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: chunks[0], Flags: flags},
	})
	if err != nil {
		c.logger.WithFields(logging.Fields{
			"event":     "discord_respond_failed",
			"server_id": i.GuildID,
		}).WithError(err).Error("failed to respond to interaction")
		return
	}

	for n, chunk := range chunks[1:] {
		if _, err := c.session.FollowupMessageCreate(i, true, &discordgo.WebhookParams{Content: chunk, Flags: flags}); err != nil {
			c.logger.WithFields(logging.Fields{
				"event":     "discord_followup_failed",
				"server_id": i.GuildID,
				"sent":      n + 1,
				"chunks":    len(chunks),
			}).WithError(err).Error("failed to send follow-up message")
			return
		}
	}
}

func memberName(member *discordgo.Member, user *discordgo.User) string {
	if member != nil && member.Nick != "" {
		return member.Nick
	}
	if user == nil {
		return ""
	}
	if user.GlobalName != "" {
		return user.GlobalName
	}
	return user.Username
}
