package process

import (
	"context"
	"testing"
	"time"

	"github.com/opslane/shellsup/src/shellerr"
)

func newTestSupervisor(t *testing.T) *Supervisor {
	t.Helper()
	sup, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return sup
}

func TestStartAndListRunningProcess(t *testing.T) {
	sup := newTestSupervisor(t)
	p, err := sup.Start(context.Background(), "sess-1", "echo", []string{"hello"}, StartOptions{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if p.PID == 0 {
		t.Fatal("expected a non-zero PID")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := sup.Get(p.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if snap.Status.IsTerminal() {
			if snap.ExitCode == nil || *snap.ExitCode != 0 {
				t.Fatalf("expected exit code 0, got %+v", snap.ExitCode)
			}
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("process never reached a terminal state")
}

func TestNoNewOutputAfterTerminal(t *testing.T) {
	sup := newTestSupervisor(t)
	p, err := sup.Start(context.Background(), "sess-1", "echo", []string{"hi"}, StartOptions{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := sup.Get(p.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if snap.Status.IsTerminal() {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	total := p.Buffer.TotalLines()
	time.Sleep(100 * time.Millisecond)
	if got := p.Buffer.TotalLines(); got != total {
		t.Fatalf("expected totalLines to stay at %d after terminal state, got %d", total, got)
	}
}

func TestKillTerminalProcessFails(t *testing.T) {
	sup := newTestSupervisor(t)
	p, err := sup.Start(context.Background(), "sess-1", "true", nil, StartOptions{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap, _ := sup.Get(p.ID)
		if snap.Status.IsTerminal() {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	err = sup.Kill(p.ID, KillGraceful)
	se, ok := shellerr.As(err)
	if !ok || se.Code != shellerr.Conflict {
		t.Fatalf("expected Conflict killing a terminal process, got %v", err)
	}
}

func TestKillRunningProcess(t *testing.T) {
	sup := newTestSupervisor(t)
	p, err := sup.Start(context.Background(), "sess-1", "sleep", []string{"30"}, StartOptions{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := sup.Kill(p.ID, KillForce); err != nil {
		t.Fatalf("kill: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := sup.Get(p.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if snap.Status == StatusKilled {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("process was never marked KILLED")
}

func TestListIncludeOrphanedFilter(t *testing.T) {
	sup := newTestSupervisor(t)
	sup.mu.Lock()
	sup.processes["orphan-1"] = &BackgroundProcess{ID: "orphan-1", Status: StatusOrphaned, Buffer: nil}
	sup.mu.Unlock()

	withOrphans := sup.List("", true)
	withoutOrphans := sup.List("", false)

	if len(withOrphans) != len(withoutOrphans)+1 {
		t.Fatalf("expected includeOrphaned=true to add exactly one entry, got %d vs %d", len(withOrphans), len(withoutOrphans))
	}
}
