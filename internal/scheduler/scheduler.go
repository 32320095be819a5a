// Package scheduler provides cron-based background jobs for funnelbot.
//
// Its main job is the periodic sweep that deletes idle contact state rows, so
// contacts who never write again do not accumulate in the store.
package scheduler

import (
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/whatsadvisor/funnelbot/internal/models"
	"github.com/whatsadvisor/funnelbot/internal/store"
)

// DefaultSweepExpr runs the idle-state sweep every ten minutes.
const DefaultSweepExpr = "*/10 * * * *"

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates and starts a cron scheduler.
func NewScheduler() *Scheduler {
	// Standard 5-field cron parser (min, hour, dom, month, dow) with panic recovery
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	c.Start()
	return &Scheduler{cron: c}
}

// AddJob schedules a task using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(expr string, task func()) error {
	_, err := s.cron.AddFunc(expr, task)
	return err
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}

// IdleStateSweep returns a job that deletes idle contact rows older than
// threshold. Only rows already back in the idle state are touched; active
// selection states are left to expire on the contact's next message.
func IdleStateSweep(st store.Store, threshold time.Duration, now func() time.Time) func() {
	return func() {
		cutoff := now().Add(-threshold)
		n, err := st.DeleteIdleContactStates(models.StateNone, cutoff)
		if err != nil {
			slog.Error("scheduler: idle state sweep failed", "error", err)
			return
		}
		if n > 0 {
			slog.Info("scheduler: idle contact states removed", "count", n)
		}
	}
}
