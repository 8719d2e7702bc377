package domain

import "time"

// ServerPrompt is the system prompt configured for one server.
type ServerPrompt struct {
	ServerID     string    `bson:"server_id" json:"-"`
	SystemPrompt string    `bson:"system_prompt" json:"system_prompt"`
	UpdatedBy    string    `bson:"updated_by" json:"updated_by"`
	UpdatedAt    time.Time `bson:"updated_at" json:"updated_at"`
}
