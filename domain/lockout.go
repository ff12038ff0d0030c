package domain

import "time"

// LockState is the lockout counter state after a recorded failure.
type LockState struct {
	Attempts  int
	LockUntil *time.Time
	// JustLocked is true when this failure is the one that tripped the lock.
	JustLocked bool
}

// Locked reports whether the state denies login at the given instant.
func (s *LockState) Locked(now time.Time) bool {
	return s.LockUntil != nil && s.LockUntil.After(now)
}

// AdvanceLockout is the canonical counter transition applied on a failed
// attempt. A failure after a stale lock starts a fresh count of 1 and clears
// the deadline; otherwise the counter increments, and crossing the threshold
// while no lock is active sets LockUntil = now + lockFor.
//
// Store adapters must apply this transition in a single atomic update so
// concurrent failures cannot lose increments. See mongodb.UserRepository.
func AdvanceLockout(attempts int, lockUntil *time.Time, now time.Time, threshold int, lockFor time.Duration) LockState {
	if lockUntil != nil && !lockUntil.After(now) {
		return LockState{Attempts: 1}
	}

	// Past the first branch the lock is either absent or still active.
	next := LockState{Attempts: attempts + 1, LockUntil: lockUntil}
	if next.Attempts >= threshold && lockUntil == nil {
		until := now.Add(lockFor)
		next.LockUntil = &until
		next.JustLocked = true
	}
	return next
}
