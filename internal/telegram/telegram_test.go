package telegram

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"llm_relay_bot/internal/assistant"
	"llm_relay_bot/internal/config"
	"llm_relay_bot/internal/feature/auth"
	"llm_relay_bot/internal/feature/memory"
	"llm_relay_bot/internal/feature/prompt"
	"llm_relay_bot/internal/feature/user"
	"llm_relay_bot/internal/llm"
	"llm_relay_bot/internal/store"
)

type fakeBot struct {
	startedWith context.Context
	sent        []*bot.SendMessageParams
	sendErr     error
	memberType  models.ChatMemberType
	memberErr   error
	memberCalls int
	commands    []models.BotCommand
	commandsErr error
}

func (f *fakeBot) Start(ctx context.Context) {
	f.startedWith = ctx
}

func (f *fakeBot) SendMessage(_ context.Context, params *bot.SendMessageParams) (*models.Message, error) {
	f.sent = append(f.sent, params)
	return &models.Message{}, f.sendErr
}

func (f *fakeBot) GetChatMember(_ context.Context, _ *bot.GetChatMemberParams) (*models.ChatMember, error) {
	f.memberCalls++
	if f.memberErr != nil {
		return nil, f.memberErr
	}
	return &models.ChatMember{Type: f.memberType}, nil
}

func (f *fakeBot) SetMyCommands(_ context.Context, params *bot.SetMyCommandsParams) (bool, error) {
	f.commands = params.Commands
	return f.commandsErr == nil, f.commandsErr
}

type call struct {
	name   string
	inv    assistant.Invocation
	target *assistant.Target
	text   string
}

type fakeCommands struct {
	calls []call
	reply string
}

func (f *fakeCommands) record(c call) assistant.Response {
	f.calls = append(f.calls, c)
	text := f.reply
	if text == "" {
		text = c.name + " ok"
	}
	return assistant.Response{Text: text}
}

func (f *fakeCommands) Chat(_ context.Context, inv assistant.Invocation, prompt string) assistant.Response {
	return f.record(call{name: "chat", inv: inv, text: prompt})
}

func (f *fakeCommands) SetInstruction(_ context.Context, inv assistant.Invocation, target assistant.Target, text string) assistant.Response {
	return f.record(call{name: "set_instruction", inv: inv, target: &target, text: text})
}

func (f *fakeCommands) SetServerPrompt(_ context.Context, inv assistant.Invocation, text string) assistant.Response {
	return f.record(call{name: "set_server_prompt", inv: inv, text: text})
}

func (f *fakeCommands) AddAuthorized(_ context.Context, inv assistant.Invocation, target assistant.Target) assistant.Response {
	return f.record(call{name: "add_authorized_user", inv: inv, target: &target})
}

func (f *fakeCommands) RemoveAuthorized(_ context.Context, inv assistant.Invocation, target assistant.Target) assistant.Response {
	return f.record(call{name: "remove_authorized_user", inv: inv, target: &target})
}

func (f *fakeCommands) Forget(_ context.Context, inv assistant.Invocation, target *assistant.Target) assistant.Response {
	return f.record(call{name: "forget", inv: inv, target: target})
}

func newTestClient(t *testing.T) (*Client, *fakeBot, *fakeCommands, *logtest.Hook) {
	t.Helper()
	hookLogger, hook := logtest.NewNullLogger()
	fb := &fakeBot{memberType: models.ChatMemberTypeMember}
	fc := &fakeCommands{}
	return &Client{bot: fb, commands: fc, logger: logrus.NewEntry(hookLogger)}, fb, fc, hook
}

func groupMessage(text string) *models.Message {
	return &models.Message{
		ID:   7,
		From: &models.User{ID: 10, FirstName: "Ann", LastName: "Lee"},
		Chat: models.Chat{ID: -100, Type: models.ChatTypeSupergroup},
		Text: text,
	}
}

func TestNewClientCreatesBot(t *testing.T) {
	origCreateBot := createBot
	defer func() { createBot = origCreateBot }()

	var gotToken string
	var gotOptions []bot.Option
	b := &fakeBot{}

	createBot = func(token string, options ...bot.Option) (botAPI, error) {
		gotToken = token
		gotOptions = options
		return b, nil
	}

	cfg := config.Config{TelegramToken: "token-123"}
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	client, err := NewClient(cfg, &fakeCommands{}, logrus.NewEntry(logger))
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}

	if client == nil || client.bot == nil {
		t.Fatalf("expected client and bot to be initialized")
	}

	if gotToken != cfg.TelegramToken {
		t.Fatalf("expected token %q, got %q", cfg.TelegramToken, gotToken)
	}

	if len(gotOptions) != 3 {
		t.Fatalf("expected 3 bot options (allowed updates, default handler, error handler), got %d", len(gotOptions))
	}
}

func TestNewClientValidates(t *testing.T) {
	if _, err := NewClient(config.Config{}, &fakeCommands{}, nil); err == nil {
		t.Fatalf("expected error for missing token")
	}
	if _, err := NewClient(config.Config{TelegramToken: "t"}, nil, nil); err == nil {
		t.Fatalf("expected error for missing command service")
	}
}

func TestNewClientPropagatesBotError(t *testing.T) {
	origCreateBot := createBot
	defer func() { createBot = origCreateBot }()

	expected := errors.New("boom")
	createBot = func(string, ...bot.Option) (botAPI, error) {
		return nil, expected
	}

	_, err := NewClient(config.Config{TelegramToken: "token"}, &fakeCommands{}, nil)
	if !errors.Is(err, expected) {
		t.Fatalf("expected error %v, got %v", expected, err)
	}
}

func TestClientStartRegistersMenuAndUsesContext(t *testing.T) {
	client, fb, _, hook := newTestClient(t)

	ctx := context.Background()
	client.Start(ctx)

	if fb.startedWith != ctx {
		t.Fatalf("expected bot to start with provided context")
	}
	if len(fb.commands) != len(menuCommands) || fb.commands[0].Command != "chat" {
		t.Fatalf("expected command menu registered, got %v", fb.commands)
	}

	entries := hook.AllEntries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 log entries (start/stop), got %d", len(entries))
	}
	if entries[0].Data["event"] != "telegram_listen" {
		t.Fatalf("expected start log event, got %v", entries[0].Data["event"])
	}
	if entries[1].Data["event"] != "telegram_stopped" {
		t.Fatalf("expected stop log event, got %v", entries[1].Data["event"])
	}
}

func TestClientStartContinuesWhenMenuFails(t *testing.T) {
	client, fb, _, hook := newTestClient(t)
	fb.commandsErr = errors.New("forbidden")

	client.Start(context.Background())

	if fb.startedWith == nil {
		t.Fatalf("expected polling to start")
	}
	if hook.AllEntries()[0].Data["event"] != "telegram_commands_failed" {
		t.Fatalf("expected menu failure logged first, got %v", hook.AllEntries()[0].Data)
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		text     string
		wantName string
		wantArgs string
		wantOK   bool
	}{
		{text: "/chat hello there", wantName: "chat", wantArgs: "hello there", wantOK: true},
		{text: "/c@relay_bot  hi ", wantName: "c", wantArgs: "hi", wantOK: true},
		{text: "/Forget", wantName: "forget", wantOK: true},
		{text: "/chat\nline one\nline two", wantName: "chat", wantArgs: "line one\nline two", wantOK: true},
		{text: "hello", wantOK: false},
		{text: "/", wantOK: false},
		{text: "/@bot", wantOK: false},
	}

	for _, tt := range tests {
		name, args, ok := parseCommand(tt.text)
		if ok != tt.wantOK || name != tt.wantName || args != tt.wantArgs {
			t.Fatalf("parseCommand(%q) = (%q, %q, %v), want (%q, %q, %v)", tt.text, name, args, ok, tt.wantName, tt.wantArgs, tt.wantOK)
		}
	}
}

func TestHandleUpdateRoutesChat(t *testing.T) {
	client, fb, fc, _ := newTestClient(t)
	fb.memberType = models.ChatMemberTypeAdministrator

	client.handleUpdate(context.Background(), nil, &models.Update{Message: groupMessage("/chat how are you")})

	if len(fc.calls) != 1 {
		t.Fatalf("expected one command call, got %d", len(fc.calls))
	}
	got := fc.calls[0]
	if got.name != "chat" || got.text != "how are you" {
		t.Fatalf("unexpected call %+v", got)
	}
	if got.inv.Platform != Platform || got.inv.ServerID != "-100" {
		t.Fatalf("unexpected invocation %+v", got.inv)
	}
	if got.inv.Actor.ID != "10" || got.inv.Actor.DisplayName != "Ann Lee" || got.inv.Actor.IsAdmin {
		t.Fatalf("unexpected actor %+v", got.inv.Actor)
	}
	if fb.memberCalls != 0 {
		t.Fatalf("expected chat to skip the member lookup, got %d calls", fb.memberCalls)
	}

	if len(fb.sent) != 1 {
		t.Fatalf("expected one reply, got %d", len(fb.sent))
	}
	sent := fb.sent[0]
	if sent.ChatID != int64(-100) || sent.Text != "chat ok" {
		t.Fatalf("unexpected reply %+v", sent)
	}
	if sent.ReplyParameters == nil || sent.ReplyParameters.MessageID != 7 {
		t.Fatalf("expected reply to original message, got %+v", sent.ReplyParameters)
	}
}

func TestHandleUpdateAdminResolution(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		chatType   models.ChatType
		memberType models.ChatMemberType
		memberErr  error
		wantAdmin  bool
		wantLookup bool
	}{
		{name: "private chat prompt", text: "/set_server_prompt be nice", chatType: models.ChatTypePrivate, wantAdmin: true},
		{name: "private chat forget", text: "/forget", chatType: models.ChatTypePrivate, wantAdmin: true},
		{name: "private chat grant", text: "/add_authorized_user", chatType: models.ChatTypePrivate},
		{name: "private chat revoke", text: "/remove_authorized_user", chatType: models.ChatTypePrivate},
		{name: "private chat instruction", text: "/set_instruction be brief", chatType: models.ChatTypePrivate},
		{name: "creator", text: "/set_server_prompt be nice", chatType: models.ChatTypeGroup, memberType: models.ChatMemberTypeOwner, wantAdmin: true, wantLookup: true},
		{name: "administrator grant", text: "/add_authorized_user", chatType: models.ChatTypeSupergroup, memberType: models.ChatMemberTypeAdministrator, wantAdmin: true, wantLookup: true},
		{name: "member", text: "/set_server_prompt be nice", chatType: models.ChatTypeGroup, memberType: models.ChatMemberTypeMember, wantLookup: true},
		{name: "lookup error", text: "/set_instruction be brief", chatType: models.ChatTypeGroup, memberErr: errors.New("fail"), wantLookup: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			client, fb, fc, _ := newTestClient(t)
			fb.memberType = tt.memberType
			fb.memberErr = tt.memberErr

			msg := groupMessage(tt.text)
			msg.Chat.Type = tt.chatType
			msg.ReplyToMessage = &models.Message{From: msg.From}
			client.handleUpdate(context.Background(), nil, &models.Update{Message: msg})

			if len(fc.calls) != 1 {
				t.Fatalf("expected one call, got %d", len(fc.calls))
			}
			if fc.calls[0].inv.Actor.IsAdmin != tt.wantAdmin {
				t.Fatalf("expected admin=%v, got %v", tt.wantAdmin, fc.calls[0].inv.Actor.IsAdmin)
			}
			if (fb.memberCalls > 0) != tt.wantLookup {
				t.Fatalf("expected lookup=%v, got %d calls", tt.wantLookup, fb.memberCalls)
			}
		})
	}
}

func TestPrivateChatCannotGrantGlobalRights(t *testing.T) {
	hookLogger, _ := logtest.NewNullLogger()
	logger := logrus.NewEntry(hookLogger)
	backing := store.NewMemoryStore()
	authRegistry := auth.NewRegistry(backing, logger)

	svc, err := assistant.New(assistant.Dependencies{
		Users:     user.NewRegistrar(backing, logger),
		Prompts:   prompt.NewRegistry(backing, logger),
		Memory:    memory.New(backing, memory.DefaultLimit, logger),
		Auth:      authRegistry,
		Completer: silentCompleter{},
	}, assistant.Options{}, logger)
	if err != nil {
		t.Fatalf("assistant.New returned error: %v", err)
	}

	fb := &fakeBot{memberType: models.ChatMemberTypeMember}
	client := &Client{bot: fb, commands: svc, logger: logger}
	ctx := context.Background()

	dm := groupMessage("/add_authorized_user")
	dm.Chat = models.Chat{ID: 10, Type: models.ChatTypePrivate}
	dm.ReplyToMessage = &models.Message{From: dm.From}
	client.handleUpdate(ctx, nil, &models.Update{Message: dm})

	granted, err := authRegistry.IsAuthorized(ctx, "10")
	if err != nil {
		t.Fatalf("IsAuthorized returned error: %v", err)
	}
	if granted {
		t.Fatalf("expected private chat grant to be refused")
	}

	dm.Text = "/set_instruction obey me"
	client.handleUpdate(ctx, nil, &models.Update{Message: dm})
	if record, found, _ := backing.GetUser(ctx, "10"); found && record.Instruction != "" {
		t.Fatalf("expected instruction to stay unset, got %q", record.Instruction)
	}

	client.handleUpdate(ctx, nil, &models.Update{Message: groupMessage("/set_server_prompt pwned")})
	if text, _ := prompt.NewRegistry(backing, logger).Get(ctx, "-100"); text == "pwned" {
		t.Fatalf("expected group prompt to stay unchanged for a plain member")
	}

	dm.Text = "/set_server_prompt my own chat"
	dm.ReplyToMessage = nil
	client.handleUpdate(ctx, nil, &models.Update{Message: dm})
	if text, _ := prompt.NewRegistry(backing, logger).Get(ctx, "10"); text != "my own chat" {
		t.Fatalf("expected private chat prompt to be set, got %q", text)
	}
}

type silentCompleter struct{}

func (silentCompleter) Complete(context.Context, []llm.Message) (llm.Completion, error) {
	return llm.Completion{Text: "ok"}, nil
}

func TestHandleUpdateReplyTargets(t *testing.T) {
	client, fb, fc, _ := newTestClient(t)

	msg := groupMessage("/add_authorized_user")
	client.handleUpdate(context.Background(), nil, &models.Update{Message: msg})
	if len(fc.calls) != 0 || fb.sent[0].Text != usageReplyTarget {
		t.Fatalf("expected usage reply without target, calls=%v sent=%q", fc.calls, fb.sent[0].Text)
	}

	msg.ReplyToMessage = &models.Message{From: &models.User{ID: 55, Username: "bob"}}
	client.handleUpdate(context.Background(), nil, &models.Update{Message: msg})
	if len(fc.calls) != 1 {
		t.Fatalf("expected add call, got %v", fc.calls)
	}
	target := fc.calls[0].target
	if target == nil || target.ID != "55" || target.DisplayName != "bob" {
		t.Fatalf("unexpected target %+v", target)
	}

	msg.Text = "/set_instruction be formal"
	client.handleUpdate(context.Background(), nil, &models.Update{Message: msg})
	if last := fc.calls[len(fc.calls)-1]; last.name != "set_instruction" || last.text != "be formal" || last.target.ID != "55" {
		t.Fatalf("unexpected set_instruction call %+v", last)
	}
}

func TestHandleUpdateForgetScopes(t *testing.T) {
	client, _, fc, _ := newTestClient(t)

	client.handleUpdate(context.Background(), nil, &models.Update{Message: groupMessage("/forget")})
	if fc.calls[0].target != nil {
		t.Fatalf("expected server-wide forget without reply, got %+v", fc.calls[0].target)
	}

	msg := groupMessage("/forget")
	msg.ReplyToMessage = &models.Message{From: &models.User{ID: 3, FirstName: "Tom"}}
	client.handleUpdate(context.Background(), nil, &models.Update{Message: msg})
	if fc.calls[1].target == nil || fc.calls[1].target.ID != "3" {
		t.Fatalf("expected targeted forget, got %+v", fc.calls[1].target)
	}
}

func TestHandleUpdateIgnoresNonCommands(t *testing.T) {
	client, fb, fc, hook := newTestClient(t)

	client.handleUpdate(context.Background(), nil, &models.Update{Message: groupMessage("just chatting")})
	client.handleUpdate(context.Background(), nil, &models.Update{Message: groupMessage("/unknown")})
	client.handleUpdate(context.Background(), nil, nil)

	if len(fc.calls) != 0 || len(fb.sent) != 0 {
		t.Fatalf("expected no routing, calls=%d sent=%d", len(fc.calls), len(fb.sent))
	}
	if len(hook.AllEntries()) != 2 {
		t.Fatalf("expected both updates logged, got %d entries", len(hook.AllEntries()))
	}
}

func TestHandleUpdateSplitsLongReplies(t *testing.T) {
	client, fb, fc, _ := newTestClient(t)
	fc.reply = strings.Repeat("я", MessageLimit+10)

	client.handleUpdate(context.Background(), nil, &models.Update{Message: groupMessage("/c hi")})

	if len(fb.sent) != 2 {
		t.Fatalf("expected reply split in two, got %d messages", len(fb.sent))
	}
	if len([]rune(fb.sent[0].Text)) != MessageLimit || len([]rune(fb.sent[1].Text)) != 10 {
		t.Fatalf("unexpected chunk sizes %d and %d", len([]rune(fb.sent[0].Text)), len([]rune(fb.sent[1].Text)))
	}
}

func TestHelpListsCommands(t *testing.T) {
	client, fb, _, _ := newTestClient(t)

	client.handleUpdate(context.Background(), nil, &models.Update{Message: groupMessage("/start")})

	if len(fb.sent) != 1 || !strings.Contains(fb.sent[0].Text, "/set_server_prompt") {
		t.Fatalf("expected help text, got %+v", fb.sent)
	}
}

func TestExtractUpdateMeta(t *testing.T) {
	tests := []struct {
		name   string
		update *models.Update
		want   updateMeta
	}{
		{
			name: "message",
			update: &models.Update{
				Message: &models.Message{
					From: &models.User{ID: 10},
					Chat: models.Chat{ID: 20},
					Text: " hello ",
				},
			},
			want: updateMeta{userID: 10, chatID: 20, text: "hello", updateType: "message"},
		},
		{
			name: "edited message",
			update: &models.Update{
				EditedMessage: &models.Message{
					From: &models.User{ID: 11},
					Chat: models.Chat{ID: 21},
					Text: "updated",
				},
			},
			want: updateMeta{userID: 11, chatID: 21, text: "updated", updateType: "edited_message"},
		},
		{
			name: "my chat member",
			update: &models.Update{
				MyChatMember: &models.ChatMemberUpdated{
					From: models.User{ID: 13},
					Chat: models.Chat{ID: 23},
				},
			},
			want: updateMeta{userID: 13, chatID: 23, updateType: "my_chat_member"},
		},
		{
			name:   "unknown",
			update: &models.Update{},
			want:   updateMeta{updateType: "unknown"},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got := extractUpdateMeta(tt.update)
			if got != tt.want {
				t.Fatalf("extractUpdateMeta() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestHandleUpdateLogsUpdate(t *testing.T) {
	client, _, _, hook := newTestClient(t)

	client.handleUpdate(context.Background(), nil, &models.Update{
		Message: &models.Message{
			From: &models.User{ID: 99},
			Chat: models.Chat{ID: 199},
			Text: "ping",
		},
	})

	entry := hook.LastEntry()
	if entry == nil {
		t.Fatalf("expected log entry from handler")
	}
	if entry.Data["event"] != "telegram_update" {
		t.Fatalf("expected event=telegram_update, got %v", entry.Data["event"])
	}
	if entry.Data["user_id"] != int64(99) || entry.Data["chat_id"] != int64(199) {
		t.Fatalf("expected user_id=99 and chat_id=199, got user_id=%v chat_id=%v", entry.Data["user_id"], entry.Data["chat_id"])
	}
	if entry.Data["text"] != "ping" {
		t.Fatalf("expected text=ping, got %v", entry.Data["text"])
	}
}
