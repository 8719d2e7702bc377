package telegram

import (
	"context"
	"strings"

	"github.com/go-telegram/bot/models"

	"llm_relay_bot/internal/assistant"
	"llm_relay_bot/internal/domain"
)

const (
	usageChat        = "Usage: /chat <message>"
	usageReplyTarget = "Reply to a message from the user this command is about."
	usageInstruction = "Reply to the user's message with /set_instruction <text>."
	usagePrompt      = "Usage: /set_server_prompt <text>"
)

type handler func(ctx context.Context, c *Client, msg *models.Message, args string) assistant.Response

// menuCommands are registered with setMyCommands and listed by /help.
var menuCommands = []models.BotCommand{
	{Command: "chat", Description: "Talk to the assistant"},
	{Command: "set_instruction", Description: "Set an instruction for the replied-to user (admins)"},
	{Command: "set_server_prompt", Description: "Set the system prompt for this chat"},
	{Command: "add_authorized_user", Description: "Allow the replied-to user to change prompts (admins)"},
	{Command: "remove_authorized_user", Description: "Revoke prompt rights of the replied-to user (admins)"},
	{Command: "forget", Description: "Clear memory of the replied-to user, or of the whole chat"},
	{Command: "help", Description: "List commands"},
}

var handlers = map[string]handler{
	"chat":                   runChat,
	"c":                      runChat,
	"set_instruction":        runSetInstruction,
	"set_server_prompt":      runSetServerPrompt,
	"add_authorized_user":    runAddAuthorized,
	"remove_authorized_user": runRemoveAuthorized,
	"forget":                 runForget,
	"help":                   runHelp,
	"start":                  runHelp,
}

func runChat(ctx context.Context, c *Client, msg *models.Message, args string) assistant.Response {
	if args == "" {
		return assistant.Response{Text: usageChat}
	}
	return c.commands.Chat(ctx, c.invocation(ctx, msg, adminUnused), args)
}

func runSetInstruction(ctx context.Context, c *Client, msg *models.Message, args string) assistant.Response {
	target, ok := replyTarget(msg)
	if !ok || args == "" {
		return assistant.Response{Text: usageInstruction}
	}
	return c.commands.SetInstruction(ctx, c.invocation(ctx, msg, adminGlobal), target, args)
}

func runSetServerPrompt(ctx context.Context, c *Client, msg *models.Message, args string) assistant.Response {
	if args == "" {
		return assistant.Response{Text: usagePrompt}
	}
	return c.commands.SetServerPrompt(ctx, c.invocation(ctx, msg, adminChat), args)
}

func runAddAuthorized(ctx context.Context, c *Client, msg *models.Message, _ string) assistant.Response {
	target, ok := replyTarget(msg)
	if !ok {
		return assistant.Response{Text: usageReplyTarget}
	}
	return c.commands.AddAuthorized(ctx, c.invocation(ctx, msg, adminGlobal), target)
}

func runRemoveAuthorized(ctx context.Context, c *Client, msg *models.Message, _ string) assistant.Response {
	target, ok := replyTarget(msg)
	if !ok {
		return assistant.Response{Text: usageReplyTarget}
	}
	return c.commands.RemoveAuthorized(ctx, c.invocation(ctx, msg, adminGlobal), target)
}

// runForget targets the replied-to user, or the whole chat without a reply.
func runForget(ctx context.Context, c *Client, msg *models.Message, _ string) assistant.Response {
	var target *assistant.Target
	if t, ok := replyTarget(msg); ok {
		target = &t
	}
	return c.commands.Forget(ctx, c.invocation(ctx, msg, adminChat), target)
}

func runHelp(context.Context, *Client, *models.Message, string) assistant.Response {
	return assistant.Response{Text: helpText()}
}

func helpText() string {
	var b strings.Builder
	b.WriteString("Commands:\n")
	for _, cmd := range menuCommands {
		b.WriteString("/" + cmd.Command + " - " + cmd.Description + "\n")
	}
	b.WriteString("/c is a short form of /chat.")
	return b.String()
}

// parseCommand splits "/name@bot args" into its name and trimmed arguments.
func parseCommand(text string) (string, string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}

	head, args, _ := strings.Cut(text[1:], " ")
	if i := strings.IndexAny(head, "\n\t"); i >= 0 {
		args = head[i:] + " " + args
		head = head[:i]
	}
	if at := strings.Index(head, "@"); at >= 0 {
		head = head[:at]
	}
	if head == "" {
		return "", "", false
	}

	return strings.ToLower(head), strings.TrimSpace(args), true
}

func replyTarget(msg *models.Message) (assistant.Target, bool) {
	if msg.ReplyToMessage == nil || msg.ReplyToMessage.From == nil {
		return assistant.Target{}, false
	}
	from := msg.ReplyToMessage.From
	return assistant.Target{
		ID:          domain.FormatID(from.ID),
		DisplayName: displayName(from),
	}, true
}
