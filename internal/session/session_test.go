package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/zulandar/warden/internal/client"
)

// --- Recording sender ---

type recordingSender struct {
	mu      sync.Mutex
	sent    []client.SentMessage
	failAt  int // fail the Nth send (1-based); 0 = never
	calls   int
	failErr error
}

func newRecordingSender() *recordingSender {
	return &recordingSender{failErr: errors.New("send failed")}
}

func (r *recordingSender) SendMessage(ctx context.Context, msg client.Message, conversationID string) error {
	r.mu.Lock()
	r.calls++
	fail := r.failAt > 0 && r.calls == r.failAt
	if !fail {
		r.sent = append(r.sent, client.SentMessage{ConversationID: conversationID, Message: msg})
	}
	r.mu.Unlock()
	if fail {
		return r.failErr
	}
	return nil
}

func (r *recordingSender) bodies() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, s := range r.sent {
		out = append(out, s.Message.Body)
	}
	return out
}

// wait blocks until at least n messages were delivered.
func (r *recordingSender) wait(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for len(r.bodies()) < n {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d sends, got %d", n, len(r.bodies()))
		}
		time.Sleep(time.Millisecond)
	}
}

// --- Helpers ---

func writeCatalogue(t *testing.T, dir, number, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "np"+number+".txt"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func setupManager(t *testing.T) (*Manager, *recordingSender, string) {
	t.Helper()
	dir := t.TempDir()
	sender := newRecordingSender()
	m, err := NewManager(ManagerOpts{Sender: sender, Interval: 5 * time.Millisecond, CatalogueDir: dir})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(m.StopAll)
	return m, sender, dir
}

// --- Catalogue ---

func TestLoadCatalogue_FiltersBlankLines(t *testing.T) {
	dir := t.TempDir()
	writeCatalogue(t, dir, "1", "hi\n\n   \r\nbye\r\n")
	lines, err := LoadCatalogue(dir, "1")
	if err != nil {
		t.Fatalf("LoadCatalogue: %v", err)
	}
	if len(lines) != 2 || lines[0] != "hi" || lines[1] != "bye" {
		t.Errorf("lines = %q, want [hi bye]", lines)
	}
}

func TestLoadCatalogue_Errors(t *testing.T) {
	dir := t.TempDir()
	writeCatalogue(t, dir, "2", "\n \n")
	tests := []struct {
		name   string
		number string
		want   error
	}{
		{"missing", "9", ErrCatalogueNotFound},
		{"blank only", "2", ErrCatalogueEmpty},
		{"not a number", "../etc", ErrCatalogueNotFound},
		{"negative", "-1", ErrCatalogueNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadCatalogue(dir, tt.number)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

// --- Manager ---

func TestNewManager_RequiresSender(t *testing.T) {
	if _, err := NewManager(ManagerOpts{}); err == nil {
		t.Fatal("expected error without sender")
	}
}

func TestStartTarget_CyclesCatalogue(t *testing.T) {
	m, sender, dir := setupManager(t)
	writeCatalogue(t, dir, "1", "hi\nbye\n")

	sess, replaced, err := m.StartTarget(TargetSpec{ConversationID: "c1", FileNumber: "1", Label: "@rival"})
	if err != nil {
		t.Fatalf("StartTarget: %v", err)
	}
	if replaced {
		t.Error("first start should not replace")
	}
	sender.wait(t, 3)
	m.StopTarget("c1")
	<-sess.Done()

	got := sender.bodies()[:3]
	want := []string{"@rival hi", "@rival bye", "@rival hi"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("message %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestStartTarget_CursorWraps(t *testing.T) {
	m, sender, dir := setupManager(t)
	writeCatalogue(t, dir, "3", "a\nb\nc\n")
	sess, _, err := m.StartTarget(TargetSpec{ConversationID: "c1", FileNumber: "3", Label: "x"})
	if err != nil {
		t.Fatalf("StartTarget: %v", err)
	}
	sender.wait(t, 3)
	m.StopTarget("c1")
	<-sess.Done()
	// Three successful sends over three lines return the cursor to 0
	// unless a fourth tick slipped in before the stop.
	n := len(sender.bodies())
	if got, want := sess.Cursor(), n%3; got != want {
		t.Errorf("Cursor = %d after %d sends, want %d", got, n, want)
	}
}

func TestStartTarget_LoadErrorLeavesExisting(t *testing.T) {
	m, _, dir := setupManager(t)
	writeCatalogue(t, dir, "1", "hi\n")
	first, _, err := m.StartTarget(TargetSpec{ConversationID: "c1", FileNumber: "1", Label: "x"})
	if err != nil {
		t.Fatalf("StartTarget: %v", err)
	}
	if _, _, err := m.StartTarget(TargetSpec{ConversationID: "c1", FileNumber: "7", Label: "y"}); !errors.Is(err, ErrCatalogueNotFound) {
		t.Fatalf("err = %v, want ErrCatalogueNotFound", err)
	}
	if m.Get("c1", KindTarget) != first {
		t.Error("failed start must not replace the running session")
	}
}

func TestStartTarget_ReplacesPrior(t *testing.T) {
	m, sender, dir := setupManager(t)
	writeCatalogue(t, dir, "1", "one\n")
	writeCatalogue(t, dir, "2", "two\n")

	first, _, _ := m.StartTarget(TargetSpec{ConversationID: "c1", FileNumber: "1", Label: "A"})
	second, replaced, err := m.StartTarget(TargetSpec{ConversationID: "c1", FileNumber: "2", Label: "B"})
	if err != nil {
		t.Fatalf("StartTarget: %v", err)
	}
	if !replaced {
		t.Error("second start should report replacement")
	}
	select {
	case <-first.Done():
	case <-time.After(time.Second):
		t.Fatal("prior session was not cancelled")
	}
	before := len(sender.bodies())
	sender.wait(t, before+2)
	for _, b := range sender.bodies()[before:] {
		if b != "B two" {
			t.Errorf("unexpected message after replacement: %q", b)
		}
	}
	if m.Get("c1", KindTarget) != second {
		t.Error("second session should be registered")
	}
	if m.Count() != 1 {
		t.Errorf("Count = %d, want 1", m.Count())
	}
}

func TestStartTarget_SendFailureEndsSession(t *testing.T) {
	m, sender, dir := setupManager(t)
	sender.failAt = 2
	writeCatalogue(t, dir, "1", "hi\nbye\n")

	failed := make(chan error, 1)
	sess, _, err := m.StartTarget(TargetSpec{
		ConversationID: "c1",
		FileNumber:     "1",
		Label:          "x",
		OnFailure:      func(err error) { failed <- err },
	})
	if err != nil {
		t.Fatalf("StartTarget: %v", err)
	}
	select {
	case err := <-failed:
		if err == nil {
			t.Error("OnFailure got nil error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnFailure not called")
	}
	<-sess.Done()
	if m.Active("c1", KindTarget) {
		t.Error("session should be removed after send failure")
	}
	time.Sleep(20 * time.Millisecond)
	sender.mu.Lock()
	calls := sender.calls
	sender.mu.Unlock()
	if calls != 2 {
		t.Errorf("send calls = %d, want 2 (no retry)", calls)
	}
}

func TestStopTarget_NoneActive(t *testing.T) {
	m, _, _ := setupManager(t)
	if m.StopTarget("c1") {
		t.Error("StopTarget should report nothing stopped")
	}
}

func TestFight_OnOff(t *testing.T) {
	m, _, _ := setupManager(t)
	if m.StartFight("c1") {
		t.Error("first StartFight should not replace")
	}
	if !m.StartFight("c1") {
		t.Error("second StartFight should replace")
	}
	if !m.Active("c1", KindFight) {
		t.Error("fight should be active")
	}
	if !m.StopFight("c1") {
		t.Error("StopFight should report stop")
	}
	if m.Active("c1", KindFight) {
		t.Error("fight should be inactive")
	}
}

func TestStop_PrefersFight(t *testing.T) {
	m, _, dir := setupManager(t)
	writeCatalogue(t, dir, "1", "hi\n")
	m.StartTarget(TargetSpec{ConversationID: "c1", FileNumber: "1", Label: "x"})
	m.StartFight("c1")

	kind, ok := m.Stop("c1")
	if !ok || kind != KindFight {
		t.Errorf("Stop = %q, %v; want fight, true", kind, ok)
	}
	kind, ok = m.Stop("c1")
	if !ok || kind != KindTarget {
		t.Errorf("Stop = %q, %v; want target, true", kind, ok)
	}
	if _, ok := m.Stop("c1"); ok {
		t.Error("third Stop should find nothing")
	}
}

func TestCancelThenRemove(t *testing.T) {
	m, _, dir := setupManager(t)
	writeCatalogue(t, dir, "1", "hi\n")
	sess, _, _ := m.StartTarget(TargetSpec{ConversationID: "c1", FileNumber: "1", Label: "x"})

	sess.Cancel()
	sess.Cancel()
	<-sess.Done()
	if !m.Active("c1", KindTarget) {
		t.Error("Cancel alone must not discard state")
	}
	m.Remove("c1", KindTarget)
	if m.Active("c1", KindTarget) {
		t.Error("Remove should discard state")
	}
}

func TestSessionsIsolatedPerConversation(t *testing.T) {
	m, _, dir := setupManager(t)
	writeCatalogue(t, dir, "1", "hi\n")
	m.StartTarget(TargetSpec{ConversationID: "c1", FileNumber: "1", Label: "x"})
	m.StartTarget(TargetSpec{ConversationID: "c2", FileNumber: "1", Label: "y"})
	m.StopTarget("c1")
	if !m.Active("c2", KindTarget) {
		t.Error("stopping c1 must not affect c2")
	}
}
