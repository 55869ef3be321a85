package command

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/zulandar/warden/internal/client"
	"github.com/zulandar/warden/internal/lockstore"
	"github.com/zulandar/warden/internal/session"
)

// --- group / gclock / gcremove ---

func TestGroup_OnAndOff(t *testing.T) {
	e := setupRouter(t)
	e.send(adminID, "/group on The Family")

	if v, ok := e.lock(t, lockstore.KindTitle); !ok || v != "The Family" {
		t.Fatalf("title lock = %q/%v, want The Family", v, ok)
	}
	titles := e.cli.TitleChanges()
	if len(titles) != 1 || titles[0].Title != "The Family" {
		t.Errorf("title changes = %+v", titles)
	}
	if !strings.Contains(e.lastBody(t), `"The Family"`) {
		t.Errorf("body = %q", e.lastBody(t))
	}

	e.send(adminID, "/group off")
	if _, ok := e.lock(t, lockstore.KindTitle); ok {
		t.Error("title lock still set after group off")
	}
}

func TestGroup_Usage(t *testing.T) {
	e := setupRouter(t)
	e.send(adminID, "/group on")
	if !strings.Contains(e.lastBody(t), "Usage: /group") {
		t.Errorf("body = %q, want usage", e.lastBody(t))
	}
	e.send(adminID, "/group maybe")
	if !strings.Contains(e.lastBody(t), "Usage: /group") {
		t.Errorf("body = %q, want usage", e.lastBody(t))
	}
	if len(e.cli.TitleChanges()) != 0 {
		t.Error("usage error changed the title")
	}
}

func TestGCLock_ClearsAutoRemove(t *testing.T) {
	e := setupRouter(t)
	e.send(adminID, "/gcremove")
	if on, _ := e.locks.Flag(convID, lockstore.FlagTitleAutoRemove); !on {
		t.Fatal("gcremove did not enable auto-remove")
	}
	titles := e.cli.TitleChanges()
	if len(titles) != 1 || titles[0].Title != "" {
		t.Errorf("title changes = %+v, want one clear", titles)
	}

	e.send(adminID, "/gclock New Name")
	if on, _ := e.locks.Flag(convID, lockstore.FlagTitleAutoRemove); on {
		t.Error("gclock left auto-remove on")
	}
	if v, _ := e.lock(t, lockstore.KindTitle); v != "New Name" {
		t.Errorf("title lock = %q, want New Name", v)
	}
}

func TestGCRemove_ClearsTitleLock(t *testing.T) {
	e := setupRouter(t)
	e.send(adminID, "/gclock Locked")
	e.send(adminID, "/gcremove")
	if _, ok := e.lock(t, lockstore.KindTitle); ok {
		t.Error("gcremove kept the title lock")
	}
}

// --- nickname / nicklock / nickremove ---

func TestNickname_OnSkipsAdminAndBot(t *testing.T) {
	e := setupRouter(t)
	e.send(adminID, "/nickname on Minion")

	if v, _ := e.lock(t, lockstore.KindNickname); v != "Minion" {
		t.Errorf("nickname lock = %q, want Minion", v)
	}
	changed := map[string]string{}
	for _, c := range e.cli.NicknameChanges() {
		changed[c.UserID] = c.Nickname
	}
	if len(changed) != 2 || changed[userID] != "Minion" || changed["u2"] != "Minion" {
		t.Errorf("changes = %v, want u1 and u2 only", changed)
	}
}

func TestNickname_FailureContinues(t *testing.T) {
	e := setupRouter(t)
	e.cli.SetNicknameError(errors.New("missing permission"))
	e.send(adminID, "/nickname on Minion")

	if !strings.Contains(e.lastBody(t), "Minion") {
		t.Errorf("body = %q, want locked confirmation", e.lastBody(t))
	}
}

func TestNickname_UnsupportedFails(t *testing.T) {
	e := setupRouter(t)
	e.cli.SetNicknameError(client.ErrUnsupported)
	e.send(adminID, "/nickname on Minion")

	if !strings.Contains(e.lastBody(t), DefaultCatalogue().Replies.CommandFailed) {
		t.Errorf("body = %q, want apology", e.lastBody(t))
	}
}

func TestNickLock_IncludesAdmin(t *testing.T) {
	e := setupRouter(t)
	e.send(adminID, "/nicklock Same")

	changes := e.cli.NicknameChanges()
	if len(changes) != 3 {
		t.Fatalf("changes = %d, want 3 (all but bot)", len(changes))
	}
	for _, c := range changes {
		if c.UserID == botID {
			t.Error("nicklock renamed the bot")
		}
	}
}

func TestNickRemoveAll(t *testing.T) {
	e := setupRouter(t)
	e.send(adminID, "/nicklock Same")
	e.send(adminID, "/nickremoveall")

	if _, ok := e.lock(t, lockstore.KindNickname); ok {
		t.Error("nickname lock survived nickremoveall")
	}
	if on, _ := e.locks.Flag(convID, lockstore.FlagNicknameAutoRemove); !on {
		t.Error("nick auto-remove not enabled")
	}
	changes := e.cli.NicknameChanges()
	for _, c := range changes[3:] {
		if c.Nickname != "" {
			t.Errorf("nickname = %q, want cleared", c.Nickname)
		}
	}

	e.send(adminID, "/nickremoveoff")
	if on, _ := e.locks.Flag(convID, lockstore.FlagNicknameAutoRemove); on {
		t.Error("nick auto-remove still on")
	}
}

// --- botnick ---

func TestBotnick_SavesSnapshot(t *testing.T) {
	e := setupRouter(t)
	e.send(adminID, "/botnick Night Watch")

	if got := e.persona.Nickname(); got != "Night Watch" {
		t.Errorf("persona = %q, want Night Watch", got)
	}
	changes := e.cli.NicknameChanges()
	if len(changes) != 1 || changes[0].UserID != botID || changes[0].Nickname != "Night Watch" {
		t.Errorf("changes = %+v", changes)
	}
	snap, ok, err := e.store.Load()
	if err != nil || !ok {
		t.Fatalf("Load: ok=%v err=%v", ok, err)
	}
	if snap.BotNickname != "Night Watch" {
		t.Errorf("saved nickname = %q", snap.BotNickname)
	}
	if v, _ := snap.Cookies.Get("token"); v != "secret" {
		t.Errorf("saved token = %q, want cookies kept", v)
	}
	if !strings.Contains(e.lastBody(t), "- Night Watch") {
		t.Errorf("signature not updated: %q", e.lastBody(t))
	}
}

func TestBotnick_Usage(t *testing.T) {
	e := setupRouter(t)
	e.send(adminID, "/botnick")
	if !strings.Contains(e.lastBody(t), "Usage: /botnick") {
		t.Errorf("body = %q", e.lastBody(t))
	}
	if e.persona.Nickname() != "warden" {
		t.Error("persona changed on usage error")
	}
}

// --- tid / uid / help ---

func TestUID(t *testing.T) {
	e := setupRouter(t)
	e.send(userID, "/uid")
	if !strings.Contains(e.lastBody(t), "Your ID: u1") {
		t.Errorf("body = %q", e.lastBody(t))
	}
	e.send(userID, "/uid @Bob", "u2")
	if !strings.Contains(e.lastBody(t), "User ID: u2") {
		t.Errorf("body = %q", e.lastBody(t))
	}
}

func TestHelp_ShowsPrefix(t *testing.T) {
	e := setupRouter(t)
	e.send(userID, "/help")
	body := e.lastBody(t)
	if !strings.Contains(body, "/target on <number> <name>") || strings.Contains(body, "{prefix}") {
		t.Errorf("help = %q", body)
	}
}

// --- photolock ---

func TestPhotoLock(t *testing.T) {
	e := setupRouter(t)
	e.send(adminID, "/photolock on")
	if v, ok := e.lock(t, lockstore.KindPhoto); !ok || v != "icon-1" {
		t.Errorf("photo lock = %q/%v, want icon-1", v, ok)
	}
	e.send(adminID, "/photolock off")
	if _, ok := e.lock(t, lockstore.KindPhoto); ok {
		t.Error("photo lock still set")
	}
}

func TestPhotoLock_NoPhoto(t *testing.T) {
	e := setupRouter(t)
	e.cli.AddThread(client.ThreadInfo{ID: convID, ParticipantIDs: []string{botID}})
	e.send(adminID, "/photolock on")
	if !strings.Contains(e.lastBody(t), DefaultCatalogue().Replies.PhotoMissing) {
		t.Errorf("body = %q", e.lastBody(t))
	}
	if _, ok := e.lock(t, lockstore.KindPhoto); ok {
		t.Error("photo locked without a photo")
	}
}

// --- status ---

func TestStatus(t *testing.T) {
	e := setupRouter(t)
	e.send(adminID, "/status")
	want := "GC Lock: OFF\nGC AutoRemove: OFF\nNick Lock: OFF\nNick AutoRemove: OFF"
	if !strings.Contains(e.lastBody(t), want) {
		t.Errorf("body = %q, want %q", e.lastBody(t), want)
	}

	e.send(adminID, "/gclock Fam")
	e.send(adminID, "/nickname on Kid")
	e.send(adminID, "/status")
	want = "GC Lock: Fam\nGC AutoRemove: OFF\nNick Lock: ON (Kid)\nNick AutoRemove: OFF"
	if !strings.Contains(e.lastBody(t), want) {
		t.Errorf("body = %q, want %q", e.lastBody(t), want)
	}
}

// --- fyt / stop / target ---

func TestFight_OnOff(t *testing.T) {
	e := setupRouter(t)
	e.send(adminID, "/fyt off")
	if !strings.Contains(e.lastBody(t), DefaultCatalogue().Replies.FightInactive) {
		t.Errorf("body = %q", e.lastBody(t))
	}
	e.send(adminID, "/fyt on")
	if !e.sessions.Active(convID, session.KindFight) {
		t.Fatal("fight not active")
	}
	e.send(adminID, "/fyt off")
	if e.sessions.Active(convID, session.KindFight) {
		t.Error("fight still active")
	}
}

func TestStop_PrefersFight(t *testing.T) {
	e := setupRouter(t)
	writeTargetFile(t, e.dir, "1", "hi\n")
	e.send(adminID, "/target on 1 @rival")
	e.send(adminID, "/fyt on")

	e.send(adminID, "/stop")
	if !strings.Contains(e.lastBody(t), "Fight mode stopped.") {
		t.Errorf("body = %q, want fight stopped", e.lastBody(t))
	}
	if !e.sessions.Active(convID, session.KindTarget) {
		t.Fatal("stop cancelled the target before the fight")
	}
	e.send(adminID, "/stop")
	if !strings.Contains(e.lastBody(t), DefaultCatalogue().Replies.TargetStopped) {
		t.Errorf("body = %q, want target stopped", e.lastBody(t))
	}
	e.send(adminID, "/stop")
	if !strings.Contains(e.lastBody(t), DefaultCatalogue().Replies.StopNothing) {
		t.Errorf("body = %q, want nothing running", e.lastBody(t))
	}
}

func TestTarget_StartAnnouncesAndRuns(t *testing.T) {
	e := setupRouter(t)
	writeTargetFile(t, e.dir, "1", "hi\n\nbye\n")
	e.send(adminID, "/target on 1 @rival the great")

	sent := e.cli.AllSent()
	if len(sent) != 2 {
		t.Fatalf("sent = %d, want announce + started", len(sent))
	}
	if sent[0].Message.Body != "Target locked: @rival the great" {
		t.Errorf("announce = %q", sent[0].Message.Body)
	}
	if !strings.Contains(sent[1].Message.Body, "catalogue 1") {
		t.Errorf("started = %q", sent[1].Message.Body)
	}
	s := e.sessions.Get(convID, session.KindTarget)
	if s == nil || s.Label != "@rival the great" || s.Len() != 2 {
		t.Fatalf("session = %+v", s)
	}

	e.send(adminID, "/target on 1 @other")
	if !strings.Contains(e.cli.AllSent()[3].Message.Body, DefaultCatalogue().Replies.TargetReplaced) {
		t.Errorf("replacement not reported: %+v", e.cli.AllSent()[3])
	}
	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Error("replaced session not cancelled")
	}

	e.send(adminID, "/target off")
	if e.sessions.Active(convID, session.KindTarget) {
		t.Error("target still active")
	}
	e.send(adminID, "/target off")
	if !strings.Contains(e.lastBody(t), DefaultCatalogue().Replies.TargetInactive) {
		t.Errorf("body = %q", e.lastBody(t))
	}
}

func TestTarget_CatalogueErrors(t *testing.T) {
	e := setupRouter(t)
	e.send(adminID, "/target on 7 @rival")
	if !strings.Contains(e.lastBody(t), "np7.txt was not found") {
		t.Errorf("body = %q", e.lastBody(t))
	}
	writeTargetFile(t, e.dir, "2", "\n  \n")
	e.send(adminID, "/target on 2 @rival")
	if !strings.Contains(e.lastBody(t), "np2.txt has no messages") {
		t.Errorf("body = %q", e.lastBody(t))
	}
	e.send(adminID, "/target on 2")
	if !strings.Contains(e.lastBody(t), "Usage: /target") {
		t.Errorf("body = %q", e.lastBody(t))
	}
	if e.sessions.Count() != 0 {
		t.Error("session started despite errors")
	}
}

func TestTarget_SendFailureReported(t *testing.T) {
	e := setupRouter(t)
	mgr, err := session.NewManager(session.ManagerOpts{
		Sender:       e.cli,
		Interval:     10 * time.Millisecond,
		CatalogueDir: e.dir,
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(mgr.StopAll)
	e.router.sessions = mgr
	writeTargetFile(t, e.dir, "1", "hi\n")

	e.cli.SetSendError(errors.New("blocked"), 2)
	e.send(adminID, "/target on 1 @rival")

	deadline := time.Now().Add(2 * time.Second)
	for mgr.Active(convID, session.KindTarget) {
		if time.Now().After(deadline) {
			t.Fatal("target not stopped after send failure")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
