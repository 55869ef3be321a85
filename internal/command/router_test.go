package command

import (
	"context"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/zulandar/warden/internal/client"
	"github.com/zulandar/warden/internal/lockstore"
	"github.com/zulandar/warden/internal/session"
	"github.com/zulandar/warden/internal/state"
)

const (
	botID   = "bot"
	adminID = "admin"
	userID  = "u1"
	convID  = "c1"
)

type testEnv struct {
	router   *Router
	cli      *client.MockClient
	locks    *lockstore.MemoryStore
	sessions *session.Manager
	persona  *state.Persona
	store    *state.FileStore
	dir      string
}

func setupRouter(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	cli := client.NewMockClient(botID)
	cli.AddUser(adminID, "Boss")
	cli.AddUser(userID, "Alice")
	cli.AddThread(client.ThreadInfo{
		ID:             convID,
		Name:           "Family",
		ImageSrc:       "icon-1",
		ParticipantIDs: []string{botID, adminID, userID, "u2"},
	})
	cli.SetCredentials(client.Credentials{{Key: "token", Value: "secret"}})

	mgr, err := session.NewManager(session.ManagerOpts{
		Sender:       cli,
		Interval:     time.Hour,
		CatalogueDir: dir,
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(mgr.StopAll)

	locks := lockstore.NewMemoryStore()
	persona := state.NewPersona("warden")
	store := state.NewFileStore(filepath.Join(dir, "config.json"))
	r, err := NewRouter(RouterOpts{
		Settings:  state.NewSettings("/", adminID),
		Persona:   persona,
		StateFile: store,
		Locks:     locks,
		Sessions:  mgr,
		Rand:      rand.New(rand.NewSource(1)),
	})
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	return &testEnv{router: r, cli: cli, locks: locks, sessions: mgr, persona: persona, store: store, dir: dir}
}

func (e *testEnv) send(sender, body string, mentions ...string) {
	e.router.HandleMessage(context.Background(), e.cli, client.Event{
		Type:           client.EventMessage,
		ConversationID: convID,
		SenderID:       sender,
		Body:           body,
		Mentions:       mentions,
	})
}

func (e *testEnv) lastBody(t *testing.T) string {
	t.Helper()
	last, ok := e.cli.LastSent()
	if !ok {
		t.Fatal("no message sent")
	}
	return last.Message.Body
}

func (e *testEnv) lock(t *testing.T, kind lockstore.Kind) (string, bool) {
	t.Helper()
	v, ok, err := e.locks.GetLock(convID, kind)
	if err != nil {
		t.Fatalf("GetLock: %v", err)
	}
	return v, ok
}

func writeTargetFile(t *testing.T, dir, n, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "np"+n+".txt"), []byte(content), 0o644); err != nil {
		t.Fatalf("write catalogue: %v", err)
	}
}

// --- Constructor ---

func TestNewRouter_RequiresDependencies(t *testing.T) {
	if _, err := NewRouter(RouterOpts{}); err == nil {
		t.Fatal("expected error for missing settings")
	}
	_, err := NewRouter(RouterOpts{
		Settings: state.NewSettings("/", ""),
		Persona:  state.NewPersona("w"),
	})
	if err == nil || !strings.Contains(err.Error(), "lock store") {
		t.Errorf("err = %v, want lock store error", err)
	}
}

func TestNewRouter_RejectsInvalidCatalogue(t *testing.T) {
	cat := DefaultCatalogue()
	cat.Header = "no name here"
	mgr, _ := session.NewManager(session.ManagerOpts{Sender: client.NewMockClient(botID)})
	_, err := NewRouter(RouterOpts{
		Settings:  state.NewSettings("/", adminID),
		Persona:   state.NewPersona("w"),
		Locks:     lockstore.NewMemoryStore(),
		Sessions:  mgr,
		Catalogue: cat,
	})
	if err == nil {
		t.Fatal("expected catalogue validation error")
	}
}

// --- Routing order ---

func TestHandleMessage_AdminMentionShortCircuits(t *testing.T) {
	e := setupRouter(t)
	e.send(adminID, "/gclock Takeover good morning", adminID)

	if e.cli.SentCount() != 1 {
		t.Fatalf("sent = %d, want 1", e.cli.SentCount())
	}
	body := e.lastBody(t)
	found := false
	for _, r := range DefaultCatalogue().AdminMention {
		if strings.Contains(body, r) {
			found = true
		}
	}
	if !found {
		t.Errorf("body %q does not contain an admin-mention reply", body)
	}
	if len(e.cli.TitleChanges()) != 0 {
		t.Error("command ran despite admin mention")
	}
	if _, ok := e.lock(t, lockstore.KindTitle); ok {
		t.Error("title lock set despite admin mention")
	}
}

func TestHandleMessage_TriggerBeforeCommand(t *testing.T) {
	e := setupRouter(t)
	e.send(adminID, "/gclock thanks")

	if !strings.Contains(e.lastBody(t), "welcome") && !strings.Contains(e.lastBody(t), "Any time") {
		t.Errorf("body = %q, want thank-you trigger reply", e.lastBody(t))
	}
	if len(e.cli.TitleChanges()) != 0 {
		t.Error("command parsed in the same pass as a trigger")
	}
}

func TestHandleMessage_TriggerFirstMatchWins(t *testing.T) {
	e := setupRouter(t)
	e.send(userID, "Good Morning, thanks for last night")

	if !strings.Contains(e.lastBody(t), "Good morning to you too!") {
		t.Errorf("body = %q, want good morning reply", e.lastBody(t))
	}
}

func TestHandleMessage_ExactTrigger(t *testing.T) {
	e := setupRouter(t)
	e.send(userID, "  BoT ")
	if e.cli.SentCount() != 1 {
		t.Fatalf("sent = %d, want 1", e.cli.SentCount())
	}
	e.send(userID, "robot uprising")
	if e.cli.SentCount() != 1 {
		t.Errorf("exact trigger matched a substring")
	}
}

func TestHandleMessage_IgnoresPlainChatter(t *testing.T) {
	e := setupRouter(t)
	e.send(userID, "just talking")
	e.send(userID, "")
	if e.cli.SentCount() != 0 {
		t.Errorf("sent = %d, want 0", e.cli.SentCount())
	}
}

func TestHandleMessage_IgnoresSelf(t *testing.T) {
	e := setupRouter(t)
	e.send(botID, "/help")
	if e.cli.SentCount() != 0 {
		t.Errorf("bot replied to itself")
	}
}

// --- Formatting ---

func TestReply_FormatsWithHeaderAndMention(t *testing.T) {
	e := setupRouter(t)
	e.send(userID, "/tid")

	last, _ := e.cli.LastSent()
	want := "[ Alice ]\nGroup ID: c1\n\n- warden\n" + strings.Repeat("-", 30)
	if last.Message.Body != want {
		t.Errorf("body = %q, want %q", last.Message.Body, want)
	}
	if len(last.Message.Mentions) != 1 {
		t.Fatalf("mentions = %d, want 1", len(last.Message.Mentions))
	}
	m := last.Message.Mentions[0]
	if m.ID != userID || m.Tag != "Alice" || m.FromIndex != 2 {
		t.Errorf("mention = %+v, want Alice@2", m)
	}
}

func TestReply_FallbackName(t *testing.T) {
	e := setupRouter(t)
	e.cli.SetUserError(errors.New("lookup failed"))
	e.send(userID, "/tid")
	if !strings.HasPrefix(e.lastBody(t), "[ User ]") {
		t.Errorf("body = %q, want fallback name", e.lastBody(t))
	}
}

// --- Admin gating ---

func TestHandleMessage_NonAdminRefused(t *testing.T) {
	for _, cmd := range []string{
		"/group on X", "/nickname on X", "/botnick X", "/fyt on", "/stop",
		"/target on 1 x", "/photolock on", "/gclock X", "/gcremove",
		"/nicklock X", "/nickremoveall", "/nickremoveoff", "/status",
	} {
		t.Run(cmd, func(t *testing.T) {
			e := setupRouter(t)
			e.send(userID, cmd)

			if !strings.Contains(e.lastBody(t), DefaultCatalogue().Replies.Refusal) {
				t.Errorf("body = %q, want refusal", e.lastBody(t))
			}
			if n := len(e.cli.TitleChanges()) + len(e.cli.NicknameChanges()) + len(e.cli.PhotoChanges()); n != 0 {
				t.Errorf("%d mutations, want 0", n)
			}
			if e.sessions.Count() != 0 {
				t.Error("session started for non-admin")
			}
			if e.persona.Nickname() != "warden" {
				t.Error("persona changed for non-admin")
			}
		})
	}
}

func TestHandleMessage_UnknownCommand(t *testing.T) {
	e := setupRouter(t)
	e.send(adminID, "/dance")
	if !strings.Contains(e.lastBody(t), "Use /help") {
		t.Errorf("admin body = %q, want prefix hint", e.lastBody(t))
	}
	e.send(userID, "/dance")
	if !strings.Contains(e.lastBody(t), DefaultCatalogue().Replies.Refusal) {
		t.Errorf("non-admin body = %q, want refusal", e.lastBody(t))
	}
}

func TestHandleMessage_CommandNameCaseInsensitive(t *testing.T) {
	e := setupRouter(t)
	e.send(userID, "/TID")
	if !strings.Contains(e.lastBody(t), "Group ID: c1") {
		t.Errorf("body = %q", e.lastBody(t))
	}
}

func TestHandleMessage_CustomPrefix(t *testing.T) {
	e := setupRouter(t)
	e.router.settings.Set("!", adminID)
	e.send(userID, "/tid")
	if e.cli.SentCount() != 0 {
		t.Fatal("old prefix still accepted")
	}
	e.send(userID, "!tid")
	if !strings.Contains(e.lastBody(t), "Group ID") {
		t.Errorf("body = %q", e.lastBody(t))
	}
}

func TestHandleMessage_NoAdminConfigured(t *testing.T) {
	e := setupRouter(t)
	e.router.settings.Set("/", "")
	e.send(adminID, "/gclock X")
	if !strings.Contains(e.lastBody(t), DefaultCatalogue().Replies.Refusal) {
		t.Errorf("body = %q, want refusal when no admin is set", e.lastBody(t))
	}
}

// --- Errors ---

func TestHandleMessage_CommandErrorApologises(t *testing.T) {
	e := setupRouter(t)
	e.cli.SetTitleError(errors.New("forbidden"))
	e.send(adminID, "/gclock Family")
	if !strings.Contains(e.lastBody(t), DefaultCatalogue().Replies.CommandFailed) {
		t.Errorf("body = %q, want apology", e.lastBody(t))
	}
}

func TestRun_RecoversPanic(t *testing.T) {
	e := setupRouter(t)
	e.router.commands["boom"] = command{run: func(context.Context, *call) error { panic("boom") }}
	e.send(userID, "/boom")
	if !strings.Contains(e.lastBody(t), DefaultCatalogue().Replies.CommandFailed) {
		t.Errorf("body = %q, want apology after panic", e.lastBody(t))
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		body, prefix string
		name         string
		args         []string
	}{
		{"/help", "/", "help", nil},
		{"/Target  on 1   @rival x", "/", "target", []string{"on", "1", "@rival", "x"}},
		{"/", "/", "", nil},
		{"!! status", "!!", "status", nil},
	}
	for _, tt := range tests {
		name, args := parseCommand(tt.body, tt.prefix)
		if name != tt.name {
			t.Errorf("parseCommand(%q) name = %q, want %q", tt.body, name, tt.name)
		}
		if strings.Join(args, "|") != strings.Join(tt.args, "|") {
			t.Errorf("parseCommand(%q) args = %v, want %v", tt.body, args, tt.args)
		}
	}
}
