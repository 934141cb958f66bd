package monitor

import (
	"errors"
	"time"
)

var (
	ErrAlreadyRunning = errors.New("monitor already running")
	ErrNotRunning     = errors.New("monitor not running")
	ErrNoProjects     = errors.New("no projects registered")
)

// Config controls the polling loop. Zero fields fall back to the
// defaults below.
type Config struct {
	// Interval between poll cycles.
	Interval time.Duration
	// ErrorRetry is the shortened delay after a failed cycle.
	ErrorRetry time.Duration
	// FetchTimeout bounds one project's HTTP fetch.
	FetchTimeout time.Duration
	// SendTimeout bounds one notification send.
	SendTimeout time.Duration
	// DispatchRatePerSec throttles sends within a single project.
	DispatchRatePerSec int
}

const (
	defaultInterval     = time.Hour
	defaultErrorRetry   = 60 * time.Second
	defaultFetchTimeout = 30 * time.Second
	defaultSendTimeout  = 10 * time.Second
	defaultDispatchRate = 1
)

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = defaultInterval
	}
	if c.ErrorRetry <= 0 {
		c.ErrorRetry = defaultErrorRetry
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = defaultFetchTimeout
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = defaultSendTimeout
	}
	if c.DispatchRatePerSec <= 0 {
		c.DispatchRatePerSec = defaultDispatchRate
	}
	return c
}

// Status is a point-in-time snapshot for /status.
type Status struct {
	Running   bool
	Projects  int
	Cycles    int64
	LastCycle time.Time
}
