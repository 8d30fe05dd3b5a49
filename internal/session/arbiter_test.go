package session

import (
	"context"
	"testing"
	"time"
)

func TestCheckAdmitsFirstSession(t *testing.T) {
	a := New()
	s, err := a.Check(context.Background(), "debrid-1", "1.1.1.1", "user-a", "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.IPAddress != "1.1.1.1" {
		t.Fatalf("ip = %q", s.IPAddress)
	}
}

func TestCheckDeniesConcurrentDifferentIP(t *testing.T) {
	a := New()
	if _, err := a.Check(context.Background(), "debrid-1", "1.1.1.1", "user-a", "alice"); err != nil {
		t.Fatalf("unexpected error on first admit: %v", err)
	}
	_, err := a.Check(context.Background(), "debrid-1", "2.2.2.2", "user-b", "bob")
	if err == nil {
		t.Fatalf("expected deny for a second concurrent IP")
	}
}

func TestCheckAllowsSameIPToReCheck(t *testing.T) {
	a := New()
	if _, err := a.Check(context.Background(), "debrid-1", "1.1.1.1", "user-a", "alice"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := a.Check(context.Background(), "debrid-1", "1.1.1.1", "user-a", "alice"); err != nil {
		t.Fatalf("same ip re-check should be admitted, got %v", err)
	}
}

func TestCheckAdmitsAfterExpiry(t *testing.T) {
	a := New()
	if _, err := a.Check(context.Background(), "debrid-1", "1.1.1.1", "user-a", "alice"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	a.mu.Lock()
	s := a.sessions["debrid-1"]
	s.LastHeartbeatAt = time.Now().Add(-time.Hour)
	a.sessions["debrid-1"] = s
	a.mu.Unlock()

	s2, err := a.Check(context.Background(), "debrid-1", "2.2.2.2", "user-b", "bob")
	if err != nil {
		t.Fatalf("expected admit after expiry, got %v", err)
	}
	if s2.IPAddress != "2.2.2.2" {
		t.Fatalf("ip = %q", s2.IPAddress)
	}
}

func TestHeartbeatExtendsSession(t *testing.T) {
	a := New()
	a.Check(context.Background(), "debrid-1", "1.1.1.1", "user-a", "alice")
	a.mu.Lock()
	s := a.sessions["debrid-1"]
	s.LastHeartbeatAt = time.Now().Add(-20 * time.Second)
	a.sessions["debrid-1"] = s
	a.mu.Unlock()

	a.Heartbeat("debrid-1", "1.1.1.1")

	a.mu.Lock()
	refreshed := a.sessions["debrid-1"]
	a.mu.Unlock()
	if time.Since(refreshed.LastHeartbeatAt) > time.Second {
		t.Fatalf("expected heartbeat to refresh lastHeartbeatAt")
	}
}

func TestEndSchedulesGracePeriodRemoval(t *testing.T) {
	a := New()
	a.Check(context.Background(), "debrid-1", "1.1.1.1", "user-a", "alice")
	a.End("debrid-1", "1.1.1.1")

	// Within the grace period the session is still present (and thus still
	// blocks a different IP) so rapid reconnects from the same IP succeed.
	if _, err := a.Check(context.Background(), "debrid-1", "2.2.2.2", "user-b", "bob"); err == nil {
		t.Fatalf("expected a different ip to be denied during grace period")
	}
	if _, err := a.Check(context.Background(), "debrid-1", "1.1.1.1", "user-a", "alice"); err != nil {
		t.Fatalf("expected same-ip reconnect to succeed during grace period, got %v", err)
	}
}

func TestSweepRemovesExpiredSessions(t *testing.T) {
	a := New()
	a.Check(context.Background(), "debrid-1", "1.1.1.1", "user-a", "alice")
	a.mu.Lock()
	s := a.sessions["debrid-1"]
	s.LastHeartbeatAt = time.Now().Add(-time.Hour)
	a.sessions["debrid-1"] = s
	a.mu.Unlock()

	removed := a.Sweep(time.Now())
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
}

func TestCheckFailsFastOnExpiredContext(t *testing.T) {
	a := New()
	ctx, cancel := context.WithTimeout(context.Background(), 0)
	defer cancel()
	time.Sleep(time.Millisecond)

	_, err := a.Check(ctx, "debrid-1", "1.1.1.1", "user-a", "alice")
	if err == nil {
		t.Fatalf("expected error for an already-expired context")
	}
}
