package llm

import (
	"encoding/json"
	"strings"
)

const (
	infoOpen  = "<info>"
	infoClose = "</info>"
)

// ExtractInfo splits a model reply into the text shown to the user and the
// facts carried in a trailing <info>{json}</info> block. The visible text is
// everything before the first opening tag. info is empty when either tag is
// missing or the enclosed text is not a JSON object.
func ExtractInfo(reply string) (string, map[string]any) {
	visible := reply
	if idx := strings.Index(reply, infoOpen); idx >= 0 {
		visible = reply[:idx]
	}
	visible = strings.TrimSpace(visible)

	start := strings.Index(reply, infoOpen)
	end := strings.Index(reply, infoClose)
	if start < 0 || end < 0 {
		return visible, map[string]any{}
	}
	start += len(infoOpen)
	if end < start {
		return visible, map[string]any{}
	}

	var info map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(reply[start:end])), &info); err != nil || info == nil {
		return visible, map[string]any{}
	}

	return visible, info
}
