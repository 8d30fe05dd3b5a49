package domain

import "time"

// DebridSession is the one-active-row-per-debridKey record owned by the
// concurrency arbiter.
type DebridSession struct {
	DebridKey       string    `json:"debridKey"`
	IPAddress       string    `json:"ipAddress"`
	UserID          string    `json:"userId"`
	Username        string    `json:"username"`
	StartedAt       time.Time `json:"startedAt"`
	LastHeartbeatAt time.Time `json:"lastHeartbeatAt"`
	endingAt        *time.Time
}

// DefaultHeartbeatIdleWindow bounds how long a session survives without a
// heartbeat before it is considered expired.
const DefaultHeartbeatIdleWindow = 30 * time.Second

// DefaultEndGracePeriod is how long an explicitly-ended session is kept
// around so rapid reconnects from the same IP are tolerated.
const DefaultEndGracePeriod = 5 * time.Second

// Expired reports whether the session should no longer arbitrate: either it
// was explicitly ended and the grace period elapsed, or no heartbeat
// arrived within the idle window.
func (s DebridSession) Expired(now time.Time, idleWindow time.Duration) bool {
	if s.endingAt != nil {
		return now.After(*s.endingAt)
	}
	if idleWindow <= 0 {
		idleWindow = DefaultHeartbeatIdleWindow
	}
	return now.Sub(s.LastHeartbeatAt) > idleWindow
}

// MarkEnding schedules the session for removal after the grace period.
func (s DebridSession) MarkEnding(now time.Time, grace time.Duration) DebridSession {
	if grace <= 0 {
		grace = DefaultEndGracePeriod
	}
	end := now.Add(grace)
	s.endingAt = &end
	return s
}
