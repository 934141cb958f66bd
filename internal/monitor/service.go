package monitor

import (
	"context"
	"sync"
	"time"

	"loggram/internal/eventbus"
	"loggram/internal/registry"
	"loggram/internal/runtime/supervisor"
	kit "loggram/internal/transport"
	logx "loggram/pkg/logx"
)

// Sink is the notification destination. transport.Adapter satisfies it;
// tests plug in a fake.
type Sink interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
}

// Deps are the monitor's collaborators.
type Deps struct {
	Registry *registry.Registry
	History  *registry.History
	Fetcher  Fetcher
	Sink     Sink
	Bus      eventbus.Bus
	Log      logx.Logger
}

// Service polls every registered project's log API and forwards new
// entries to the project's chat. It is either Stopped or Running;
// transitions are explicit and rejected when they don't apply.
type Service struct {
	cfg  Config
	reg  *registry.Registry
	hist *registry.History

	fetch Fetcher
	sink  Sink
	bus   eventbus.Bus
	log   logx.Logger

	mu        sync.Mutex
	running   bool
	sup       *supervisor.Supervisor
	cycles    int64
	lastCycle time.Time
}

func New(cfg Config, deps Deps) *Service {
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:   cfg.withDefaults(),
		reg:   deps.Registry,
		hist:  deps.History,
		fetch: deps.Fetcher,
		sink:  deps.Sink,
		bus:   deps.Bus,
		log:   log.With(logx.String("component", "monitor")),
	}
}

// Start launches the polling loop. The first cycle runs immediately.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyRunning
	}
	if s.reg.Count() == 0 {
		return ErrNoProjects
	}

	sup := supervisor.New(context.Background(), supervisor.WithLogger(s.log))
	sup.GoRestart("monitor.loop", s.loop,
		supervisor.WithRestartBackoff(s.cfg.ErrorRetry, 5*time.Minute))
	s.sup = sup
	s.running = true
	s.log.Info("monitor started",
		logx.Duration("interval", s.cfg.Interval),
		logx.Int("projects", s.reg.Count()))
	return nil
}

// Stop cancels the loop and waits for the in-flight cycle to yield at
// its next cancellation point.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrNotRunning
	}
	sup := s.sup
	s.running = false
	s.sup = nil
	s.mu.Unlock()

	if err := sup.Stop(ctx); err != nil && ctx.Err() != nil {
		return err
	}
	s.log.Info("monitor stopped")
	return nil
}

func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Running:   s.running,
		Projects:  s.reg.Count(),
		Cycles:    s.cycles,
		LastCycle: s.lastCycle,
	}
}

func (s *Service) loop(ctx context.Context) error {
	for {
		err := s.runCycle(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay := s.cfg.Interval
		if err != nil {
			s.log.Error("poll cycle failed", logx.Err(err), logx.Duration("retry_in", s.cfg.ErrorRetry))
			delay = s.cfg.ErrorRetry
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}
