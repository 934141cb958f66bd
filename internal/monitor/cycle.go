package monitor

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"loggram/internal/eventbus"
	"loggram/internal/registry"
	kit "loggram/internal/transport"
	logx "loggram/pkg/logx"
)

// runCycle polls every active project once. Projects are processed
// sequentially and independently: one project's failure never blocks
// the others.
func (s *Service) runCycle(ctx context.Context) error {
	start := time.Now()
	projects := s.reg.List()

	var delivered, failed int
	for _, p := range projects {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		d, f := s.pollProject(ctx, p)
		delivered += d
		failed += f
	}

	s.mu.Lock()
	s.cycles++
	s.lastCycle = time.Now()
	s.mu.Unlock()

	if s.bus != nil {
		s.bus.Publish(eventbus.Event{
			Type: eventbus.TypeCycleDone,
			Data: eventbus.CycleEvent{
				Projects:  len(projects),
				Delivered: delivered,
				Failed:    failed,
				Took:      time.Since(start),
			},
		})
	}
	s.log.Debug("poll cycle done",
		logx.Int("projects", len(projects)),
		logx.Int("delivered", delivered),
		logx.Int("failed", failed),
		logx.Duration("took", time.Since(start)))
	return nil
}

// pollProject fetches entries newer than the project's cursor and
// forwards them in chronological order. The cursor advances to the
// cycle's start only after a successful fetch, so a fetch failure means
// the same window is retried next cycle. Per-entry dispatch failures do
// not hold the cursor back; the delivery history keeps redelivery
// at-most-once.
func (s *Service) pollProject(ctx context.Context, p registry.Project) (delivered, failed int) {
	log := s.log.With(logx.String("project", p.Name))

	fctx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	entries, err := s.fetch.Fetch(fctx, p.APIURL, p.LastCheck)
	cancel()
	if err != nil {
		log.Warn("project fetch failed", logx.Err(err))
		return 0, 0
	}

	lim := rate.NewLimiter(rate.Limit(s.cfg.DispatchRatePerSec), 1)
	for _, e := range entries {
		if ctx.Err() != nil {
			return delivered, failed
		}

		sent, err := s.hist.Delivered(ctx, p.Name, e.ID)
		if err != nil {
			failed++
			log.Error("delivery history lookup failed", logx.String("log_id", e.ID), logx.Err(err))
			continue
		}
		if sent {
			s.publishDelivery(eventbus.TypeDeliverySkipped, p.Name, e.ID, nil)
			continue
		}

		if err := lim.Wait(ctx); err != nil {
			return delivered, failed
		}

		sctx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
		_, err = s.sink.SendText(sctx, kit.ChatTarget{ChatID: p.ChannelID}, renderEntry(p.Name, e),
			&kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
		cancel()
		if err != nil {
			failed++
			s.publishDelivery(eventbus.TypeDeliveryFailed, p.Name, e.ID, err)
			log.Error("notification send failed", logx.String("log_id", e.ID), logx.Err(err))
			continue
		}

		if err := s.hist.MarkDelivered(ctx, p.Name, e.ID); err != nil {
			// The message went out; a missing mark only risks one
			// duplicate next cycle.
			log.Warn("delivery mark failed", logx.String("log_id", e.ID), logx.Err(err))
		}
		delivered++
		s.publishDelivery(eventbus.TypeDeliverySent, p.Name, e.ID, nil)
	}

	if err := s.reg.UpdateCursor(ctx, p.Name, time.Now()); err != nil {
		log.Warn("cursor update failed", logx.Err(err))
	}
	if delivered > 0 {
		log.Info("logs forwarded", logx.Int("delivered", delivered), logx.Int("failed", failed))
	}
	return delivered, failed
}

func (s *Service) publishDelivery(typ, project, logID string, err error) {
	if s.bus == nil {
		return
	}
	ev := eventbus.DeliveryEvent{Project: project, LogID: logID}
	if err != nil {
		ev.Error = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: ev})
}
