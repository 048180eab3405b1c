package service

import (
	"sync"

	id "github.com/ebellera/SSO/pkg/domain"
)

const lockStripes = 256

// sessionLocks serializes grant mutation and session teardown per session id.
// Distinct sessions may share a stripe; that only costs contention.
type sessionLocks struct {
	stripes [lockStripes]sync.Mutex
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{}
}

// lock acquires the stripe for sessionID and returns its release func.
func (l *sessionLocks) lock(sessionID id.SessionID) func() {
	m := &l.stripes[stripeFor(sessionID)]
	m.Lock()
	return m.Unlock
}

func stripeFor(sessionID id.SessionID) int {
	var h uint32 = 2166136261
	for _, b := range sessionID {
		h ^= uint32(b)
		h *= 16777619
	}
	return int(h % lockStripes)
}
