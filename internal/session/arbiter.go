// Package session implements SessionArbiter: the one-active-row-per-debrid-
// key concurrency gate that prevents two IPs from streaming through the
// same debrid account simultaneously.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/discoduckasaurus/duckflix-lite-sub001/internal/domain"
)

// CheckBudget is the normal-case latency target for Check; it is not
// enforced here (the caller measures it against actual request latency) but
// documents the contract the in-memory map implementation is built to meet.
const CheckBudget = 10 * time.Millisecond

// ServerDeadline is the hard ceiling past which Check must fail fast with a
// retryable error rather than let a caller hang indefinitely.
const ServerDeadline = 8 * time.Second

// Arbiter holds at most one DebridSession per debrid key, guarded by a
// single mutex — the Check path is a handful of map operations, never I/O,
// so a single lock comfortably stays under CheckBudget.
type Arbiter struct {
	mu         sync.Mutex
	sessions   map[string]domain.DebridSession
	idleWindow time.Duration
	grace      time.Duration
}

func New() *Arbiter {
	return &Arbiter{
		sessions:   make(map[string]domain.DebridSession),
		idleWindow: domain.DefaultHeartbeatIdleWindow,
		grace:      domain.DefaultEndGracePeriod,
	}
}

// Check admits a new session for debridKey/ip, replacing any expired row,
// or denies with the currently active session if a different, live IP holds
// the key. It returns ErrSessionTimeout if ctx is already past deadline —
// the caller is expected to have bounded ctx at ServerDeadline.
func (a *Arbiter) Check(ctx context.Context, debridKey, ip, userID, username string) (domain.DebridSession, error) {
	if err := ctx.Err(); err != nil {
		return domain.DebridSession{}, domain.ErrSessionTimeout
	}

	now := time.Now()
	a.mu.Lock()
	defer a.mu.Unlock()

	existing, ok := a.sessions[debridKey]
	if ok && !existing.Expired(now, a.idleWindow) && existing.IPAddress != ip {
		return existing, domain.ErrSessionInUse
	}

	admitted := domain.DebridSession{
		DebridKey:       debridKey,
		IPAddress:       ip,
		UserID:          userID,
		Username:        username,
		StartedAt:       now,
		LastHeartbeatAt: now,
	}
	a.sessions[debridKey] = admitted
	return admitted, nil
}

// Heartbeat refreshes lastHeartbeatAt for the session matching debridKey and
// ip. A mismatched ip (a session was taken over in between) or missing
// session is a silent no-op: the next Check call will reflect reality.
func (a *Arbiter) Heartbeat(debridKey, ip string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	s, ok := a.sessions[debridKey]
	if !ok || s.IPAddress != ip {
		return
	}
	s.LastHeartbeatAt = time.Now()
	a.sessions[debridKey] = s
}

// End schedules removal of the session matching debridKey/ip after the
// grace period, tolerating rapid reconnects from the same client.
func (a *Arbiter) End(debridKey, ip string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	s, ok := a.sessions[debridKey]
	if !ok || s.IPAddress != ip {
		return
	}
	a.sessions[debridKey] = s.MarkEnding(time.Now(), a.grace)
}

// Sweep deletes sessions that are expired as of now, bounding map growth.
// Callers with a periodic maintenance loop (the same loop that sweeps
// JobRegistry) invoke this; Check also self-heals lazily on next access.
func (a *Arbiter) Sweep(now time.Time) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	removed := 0
	for key, s := range a.sessions {
		if s.Expired(now, a.idleWindow) {
			delete(a.sessions, key)
			removed++
		}
	}
	return removed
}
