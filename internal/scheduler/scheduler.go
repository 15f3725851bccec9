// Package scheduler runs the gateway's periodic background sweeps: flow
// controller idle-timeout cleanup and switching controller cooldown-expiry
// reconciliation (spec.md §4.7, §4.8), on the teacher's robfig/cron wiring.
package scheduler

import (
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/cortexhub/anthropic-gateway/internal/flow"
	"github.com/cortexhub/anthropic-gateway/internal/switching"
)

// Scheduler owns the cron runtime driving both sweeps.
type Scheduler struct {
	cron       *cron.Cron
	flowCtl    *flow.Controller
	switchCtl  *switching.Controller
	logger     *slog.Logger
}

func New(flowCtl *flow.Controller, switchCtl *switching.Controller, logger *slog.Logger) *Scheduler {
	s := &Scheduler{
		cron:      cron.New(),
		flowCtl:   flowCtl,
		switchCtl: switchCtl,
		logger:    logger,
	}
	s.scheduleFlowSweep()
	s.scheduleCooldownReconcile()
	return s
}

func (s *Scheduler) Start() { s.cron.Start() }

func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// scheduleFlowSweep removes idle sessions/conversations every minute.
func (s *Scheduler) scheduleFlowSweep() {
	_, err := s.cron.AddFunc("@every 1m", func() {
		s.flowCtl.Sweep(time.Now())
	})
	if err != nil && s.logger != nil {
		s.logger.Error("scheduler: failed to register flow sweep", "error", err)
	}
}

// scheduleCooldownReconcile heals temporarily-blocked pipelines whose
// cooldown has expired, every 15 seconds — frequent enough that a pipeline
// isn't left unnecessarily unselectable long after its backoff elapses.
func (s *Scheduler) scheduleCooldownReconcile() {
	_, err := s.cron.AddFunc("@every 15s", func() {
		s.switchCtl.Reconcile(time.Now())
	})
	if err != nil && s.logger != nil {
		s.logger.Error("scheduler: failed to register cooldown reconcile", "error", err)
	}
}
