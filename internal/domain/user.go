package domain

import "time"

// User is the persisted record of a chat participant the bot has talked to or
// an administrator has configured.
type User struct {
	UserID      string         `bson:"user_id" json:"-"`
	Name        string         `bson:"name" json:"name"`
	JoinedAt    time.Time      `bson:"joined_at" json:"joined_at"`
	Instruction string         `bson:"instruction" json:"instruction"`
	Info        map[string]any `bson:"info" json:"info"`
}

// Clone returns a copy whose Info map can be mutated independently.
func (u User) Clone() User {
	out := u
	out.Info = make(map[string]any, len(u.Info))
	for k, v := range u.Info {
		out.Info[k] = v
	}
	return out
}
