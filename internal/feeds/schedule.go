package feeds

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	appLog "hpvcal/internal/log"
)

type scheduler struct {
	c      *cron.Cron
	spec   string
	cancel context.CancelFunc
}

// cronParser accepts standard five-field specs plus descriptors like "@hourly".
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// StartSchedule refreshes the store on the given cron spec, evaluated in loc,
// until ctx ends or StopSchedule is called. Calling it again replaces the
// previous schedule.
func (s *Store) StartSchedule(ctx context.Context, spec string, loc *time.Location) error {
	if loc == nil {
		loc = time.Local
	}

	c := cron.New(cron.WithParser(cronParser), cron.WithLocation(loc))
	runCtx, cancel := context.WithCancel(ctx)
	_, err := c.AddFunc(spec, func() {
		if _, err := s.Refresh(runCtx); err != nil {
			appLog.Error("scheduled refresh failed", err, "schedule", spec)
		}
	})
	if err != nil {
		cancel()
		return fmt.Errorf("refresh schedule %q: %w", spec, err)
	}

	s.StopSchedule()

	s.schedMu.Lock()
	s.sched = &scheduler{c: c, spec: spec, cancel: cancel}
	s.schedMu.Unlock()

	c.Start()
	appLog.Info("refresh schedule started", "schedule", spec, "location", loc.String())

	go func() {
		<-runCtx.Done()
		<-c.Stop().Done()
	}()
	return nil
}

// StopSchedule stops scheduled refreshes and waits for a running one to
// finish. It is a no-op without a schedule.
func (s *Store) StopSchedule() {
	s.schedMu.Lock()
	sched := s.sched
	s.sched = nil
	s.schedMu.Unlock()

	if sched == nil {
		return
	}
	sched.cancel()
	<-sched.c.Stop().Done()
	appLog.Debug("refresh schedule stopped", "schedule", sched.spec)
}

// NextRefresh returns when the next scheduled refresh will run, or the zero
// time without a schedule.
func (s *Store) NextRefresh() time.Time {
	s.schedMu.Lock()
	defer s.schedMu.Unlock()
	if s.sched == nil {
		return time.Time{}
	}
	entries := s.sched.c.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}
