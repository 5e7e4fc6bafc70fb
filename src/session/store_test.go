package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/opslane/shellsup/src/shellerr"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	root := t.TempDir()
	s, err := New(root)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestDefaultSessionExistsAfterInit(t *testing.T) {
	s := newTestStore(t)
	sess, err := s.Get(DefaultSessionName)
	if err != nil {
		t.Fatalf("expected default session, got error: %v", err)
	}
	if sess.Name != DefaultSessionName {
		t.Fatalf("unexpected default session name: %s", sess.Name)
	}
}

func TestCreateRejectsDuplicateName(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Create("dev", "/tmp", nil); err != nil {
		t.Fatalf("unexpected error creating session: %v", err)
	}
	_, err := s.Create("dev", "/tmp", nil)
	se, ok := shellerr.As(err)
	if !ok || se.Code != shellerr.Conflict {
		t.Fatalf("expected Conflict error, got %v", err)
	}
}

func TestDeleteRefusesDefault(t *testing.T) {
	s := newTestStore(t)
	err := s.Delete(DefaultSessionName)
	se, ok := shellerr.As(err)
	if !ok || se.Code != shellerr.Conflict {
		t.Fatalf("expected Conflict error deleting default session, got %v", err)
	}
}

func TestDeleteRemovesPersistedFileAndSurvivesDefault(t *testing.T) {
	root := t.TempDir()
	s, err := New(root)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sess, err := s.Create("dev", "/tmp", map[string]string{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	s.FlushAll()

	path := filepath.Join(root, "sessions", sess.ID+".json")
	if _, statErr := os.Stat(path); statErr != nil {
		t.Fatalf("expected session file to exist before delete: %v", statErr)
	}

	if err := s.Delete("dev"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if _, statErr := os.Stat(path); statErr == nil {
		t.Fatal("expected session file to be removed after delete")
	}

	if _, err := s.Get(DefaultSessionName); err != nil {
		t.Fatalf("expected default session to survive deletion of another session: %v", err)
	}
}

func TestAppendHistoryCapsInMemory(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < InMemoryHistoryLimit+10; i++ {
		exit := 0
		err := s.AppendHistory(DefaultSessionName, CommandHistoryEntry{
			Command:   "echo",
			Args:      []string{"x"},
			ExitCode:  &exit,
			StartTime: time.Now(),
		})
		if err != nil {
			t.Fatalf("append history: %v", err)
		}
	}

	sess, err := s.Get(DefaultSessionName)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(sess.History) != InMemoryHistoryLimit {
		t.Fatalf("expected history capped at %d, got %d", InMemoryHistoryLimit, len(sess.History))
	}
}

func TestPersistRestartLoadRoundTrip(t *testing.T) {
	root := t.TempDir()
	s, err := New(root)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sess, err := s.Create("dev", "/tmp", map[string]string{"FOO": "bar"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	exit := 0
	if err := s.AppendHistory("dev", CommandHistoryEntry{
		Command:   "echo",
		Args:      []string{"hi"},
		ExitCode:  &exit,
		Stdout:    "hi\n",
		StartTime: time.Now(),
		Duration:  12 * time.Millisecond,
	}); err != nil {
		t.Fatalf("append history: %v", err)
	}
	s.FlushAll()

	s2, err := New(root)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	reloaded, err := s2.Get("dev")
	if err != nil {
		t.Fatalf("expected session to survive restart: %v", err)
	}
	if reloaded.ID != sess.ID || reloaded.Cwd != "/tmp" || reloaded.Env["FOO"] != "bar" {
		t.Fatalf("reloaded session fields mismatch: %+v", reloaded)
	}
	if len(reloaded.History) != 1 || reloaded.History[0].Stdout != "hi\n" {
		t.Fatalf("reloaded history mismatch: %+v", reloaded.History)
	}
}

func TestCloseSessionTwiceSecondIsNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Create("dev", "/tmp", map[string]string{}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Delete("dev"); err != nil {
		t.Fatalf("first delete: %v", err)
	}
	err := s.Delete("dev")
	se, ok := shellerr.As(err)
	if !ok || se.Code != shellerr.NotFound {
		t.Fatalf("expected NotFound on second delete, got %v", err)
	}
}
