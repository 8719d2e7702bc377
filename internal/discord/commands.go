package discord

import (
	"strings"

	"github.com/bwmarrin/discordgo"

	"llm_relay_bot/internal/assistant"
	"llm_relay_bot/internal/domain"
)

// Slash command names.
const (
	cmdSetInstruction   = "set_instruction"
	cmdSetServerPrompt  = "set_server_prompt"
	cmdAddAuthorized    = "add_authorized_user"
	cmdRemoveAuthorized = "remove_authorized_user"
	cmdForget           = "forget"
)

// Slash command option names.
const (
	optUser        = "user"
	optInstruction = "instruction"
	optPrompt      = "prompt"
)

const (
	msgGuildOnly      = "This command only works inside a server."
	msgMissingUser    = "Pick a user for this command."
	msgUnknownCommand = "Unknown command."
	usageChat         = "Usage: !chat <message>"
)

var chatPrefixes = []string{"!chat", "!c"}

// parsePrefix recognizes "!chat <prompt>" and "!c <prompt>" and returns the
// trimmed prompt.
func parsePrefix(content string) (string, bool) {
	content = strings.TrimSpace(content)
	for _, prefix := range chatPrefixes {
		if !strings.HasPrefix(content, prefix) {
			continue
		}
		rest := content[len(prefix):]
		if rest == "" {
			return "", true
		}
		if r := rest[0]; r == ' ' || r == '\n' || r == '\t' {
			return strings.TrimSpace(rest), true
		}
	}
	return "", false
}

func slashCommands() []*discordgo.ApplicationCommand {
	noDM := false
	userOption := func(required bool, description string) *discordgo.ApplicationCommandOption {
		return &discordgo.ApplicationCommandOption{
			Type:        discordgo.ApplicationCommandOptionUser,
			Name:        optUser,
			Description: description,
			Required:    required,
		}
	}

	return []*discordgo.ApplicationCommand{
		{
			Name:         cmdSetInstruction,
			Description:  "Set an instruction for a user (administrators)",
			DMPermission: &noDM,
			Options: []*discordgo.ApplicationCommandOption{
				userOption(true, "User the instruction applies to"),
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        optInstruction,
					Description: "Instruction text",
					Required:    true,
				},
			},
		},
		{
			Name:         cmdSetServerPrompt,
			Description:  "Set the system prompt for this server",
			DMPermission: &noDM,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        optPrompt,
					Description: "System prompt text",
					Required:    true,
				},
			},
		},
		{
			Name:         cmdAddAuthorized,
			Description:  "Allow a user to change prompts (administrators)",
			DMPermission: &noDM,
			Options:      []*discordgo.ApplicationCommandOption{userOption(true, "User to authorize")},
		},
		{
			Name:         cmdRemoveAuthorized,
			Description:  "Revoke a user's prompt rights (administrators)",
			DMPermission: &noDM,
			Options:      []*discordgo.ApplicationCommandOption{userOption(true, "User to revoke")},
		},
		{
			Name:         cmdForget,
			Description:  "Clear a user's memory, or the whole server's memory",
			DMPermission: &noDM,
			Options:      []*discordgo.ApplicationCommandOption{userOption(false, "User whose memory to clear")},
		},
	}
}

type commandOptions map[string]*discordgo.ApplicationCommandInteractionDataOption

func optionsOf(data discordgo.ApplicationCommandInteractionData) commandOptions {
	opts := make(commandOptions, len(data.Options))
	for _, o := range data.Options {
		if o != nil {
			opts[o.Name] = o
		}
	}
	return opts
}

func (o commandOptions) text(name string) string {
	opt, ok := o[name]
	if !ok || opt.Type != discordgo.ApplicationCommandOptionString {
		return ""
	}
	return strings.TrimSpace(opt.StringValue())
}

// target resolves the user option, taking the display name from the resolved
// member or user data when present.
func (o commandOptions) target(resolved *discordgo.ApplicationCommandInteractionDataResolved) (assistant.Target, bool) {
	opt, ok := o[optUser]
	if !ok || opt.Type != discordgo.ApplicationCommandOptionUser {
		return assistant.Target{}, false
	}
	id, _ := opt.Value.(string)
	id = domain.NormalizeID(id)
	if id == "" {
		return assistant.Target{}, false
	}

	target := assistant.Target{ID: id, DisplayName: id}
	if resolved != nil {
		if user := resolved.Users[id]; user != nil {
			target.DisplayName = memberName(resolved.Members[id], user)
		}
	}
	return target, true
}
