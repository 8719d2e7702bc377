package llm

import (
	"bytes"
	"encoding/json"
	"strings"

	"llm_relay_bot/internal/domain"
)

// Message roles sent to the completion API.
const (
	RoleSystem = "system"
	RoleUser   = "user"
)

const (
	instructionLabel = "Administrator instruction: "
	userInfoLabel    = "User info: "
	currentLabel     = "Current request: "
)

// Message is one chat message in a completion request.
type Message struct {
	Role    string
	Content string
}

// FormatTranscript renders turns oldest first as "user: ...\nbot: ..." blocks
// joined by newlines.
func FormatTranscript(turns []domain.Turn) string {
	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		lines = append(lines, "user: "+t.User+"\nbot: "+t.Bot)
	}
	return strings.Join(lines, "\n")
}

// Compose builds the two-message exchange for one request: a system message
// carrying the server prompt, the administrator instruction and the user info,
// and a user message carrying the transcript followed by the current prompt.
func Compose(transcript, prompt, systemPrompt, instruction, userInfoJSON string) []Message {
	system := systemPrompt + "\n" + instructionLabel + instruction + "\n" + userInfoLabel + userInfoJSON

	return []Message{
		{Role: RoleSystem, Content: system},
		{Role: RoleUser, Content: transcript + "\n\n" + currentLabel + prompt},
	}
}

// EncodeInfo serializes user info for the system message. A nil map encodes
// as {}.
func EncodeInfo(info map[string]any) (string, error) {
	if info == nil {
		info = map[string]any{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(info); err != nil {
		return "", err
	}

	return strings.TrimRight(buf.String(), "\n"), nil
}
