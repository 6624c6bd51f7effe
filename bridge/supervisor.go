package bridge

import (
	"log/slog"
	"time"
)

const (
	// DefaultReadyTimeout bounds the wait for the remote ready-signal
	DefaultReadyTimeout = 10 * time.Second
	// DefaultRequestTimeout bounds the wait for each response
	DefaultRequestTimeout = 30 * time.Second
)

// Timer is an armed deadline
type Timer interface {
	// Stop prevents the deadline from firing. Callers must not rely on it:
	// a deadline may already be running when Stop is called.
	Stop() bool
}

// Clock schedules deadline callbacks
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type systemClock struct{}

func (systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// SystemClock runs deadlines on the runtime timer
var SystemClock Clock = systemClock{}

// timeoutSupervisor owns every deadline the bridge arms
type timeoutSupervisor struct {
	clock          Clock
	table          *pendingTable
	requestTimeout time.Duration
	readyTimeout   time.Duration
	logger         *slog.Logger
}

// watchRequest arms the deadline for a registered request. Expiry goes
// through the table, so a deadline that fires after the response is a no-op.
func (s *timeoutSupervisor) watchRequest(id, method string) {
	timer := s.clock.AfterFunc(s.requestTimeout, func() {
		if s.table.expire(id, s.requestTimeout) {
			s.logger.Warn("request timed out",
				"id", id,
				"method", method,
				"timeout", s.requestTimeout)
		}
	})
	s.table.arm(id, timer)
}

// watchHandshake arms the readiness deadline
func (s *timeoutSupervisor) watchHandshake(onExpire func()) Timer {
	return s.clock.AfterFunc(s.readyTimeout, onExpire)
}
