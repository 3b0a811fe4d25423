// Package sched fires scheduleTrigger nodes on their cron expressions. The
// loop is best-effort and minute-granular: the ticker runs faster than a
// minute so no minute is skipped, but each wall minute is processed once
// and at most one trigger fires per minute across the whole scheduler.
package sched

import (
	"context"
	"sync"
	"time"

	"github.com/iosans/loom/internal/flow/cron"
	"github.com/iosans/loom/internal/flow/model"
)

const defaultTick = 2 * time.Second

// Scheduler scans a workflow snapshot for due schedule triggers. Workflow
// and Fire are required; Tick and Now default to 2s and the wall clock.
type Scheduler struct {
	Workflow func() *model.Workflow
	Fire     func(wf *model.Workflow, trigger *model.Node)
	Tick     time.Duration
	Now      func() time.Time

	mu         sync.Mutex
	lastMinute int64
}

// Run ticks until ctx is cancelled and returns the cancellation cause.
func (s *Scheduler) Run(ctx context.Context) error {
	tick := s.Tick
	if tick <= 0 {
		tick = defaultTick
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Check()
		}
	}
}

// Check processes the current minute unless it was already handled and
// reports whether a trigger fired. The minute is consumed either way, so a
// trigger that matched can not fire twice and a minute with no match is
// never revisited.
func (s *Scheduler) Check() bool {
	now := time.Now()
	if s.Now != nil {
		now = s.Now()
	}
	minute := now.Unix() / 60

	// Claim the minute before scanning so a concurrent Check can not fire
	// for the same minute, and so Fire runs outside the lock.
	s.mu.Lock()
	if minute <= s.lastMinute {
		s.mu.Unlock()
		return false
	}
	s.lastMinute = minute
	s.mu.Unlock()

	wf := s.Workflow()
	if wf == nil {
		return false
	}
	for _, n := range wf.Nodes {
		if n.Type != model.TypeScheduleTrigger || !n.DataBool("enabled") {
			continue
		}
		if !cron.Matches(n.DataString("cronExpression"), now) {
			continue
		}
		s.Fire(wf, n)
		return true
	}
	return false
}
