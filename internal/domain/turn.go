package domain

// Turn is one exchange between a user and the bot.
type Turn struct {
	User string `bson:"user" json:"user"`
	Bot  string `bson:"bot" json:"bot"`
}
