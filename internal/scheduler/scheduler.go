package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"

	"PointsLedger/internal/milestone"
	"PointsLedger/internal/model"
	"PointsLedger/internal/notifier"
	"PointsLedger/internal/program"
)

const defaultAlertAfter = 3

// ErrUnknownProgram is returned when a trigger names no configured program.
var ErrUnknownProgram = errors.New("unknown program")

// Scheduler manages all cron tasks.
type Scheduler struct {
	Cron       *cron.Cron
	Registry   *program.Registry
	Milestones *milestone.Service
	Notifier   notifier.Notifier
	Ctx        context.Context
	AlertAfter int

	log   *slog.Logger
	clock clockwork.Clock

	mu     sync.Mutex
	health map[string]*health
}

type health struct {
	failures  int
	lastError string
}

// NewScheduler creates a new Scheduler. Jobs are wrapped so that a panic is
// logged instead of killing the process, and a job still running when its
// next tick fires is skipped.
func NewScheduler(ctx context.Context, log *slog.Logger, clock clockwork.Clock, reg *program.Registry, ms *milestone.Service, n notifier.Notifier, alertAfter int) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if alertAfter <= 0 {
		alertAfter = defaultAlertAfter
	}
	cl := cronLogger{log: log}
	return &Scheduler{
		Cron: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		Registry:   reg,
		Milestones: ms,
		Notifier:   n,
		Ctx:        ctx,
		AlertAfter: alertAfter,
		log:        log,
		clock:      clock,
		health:     make(map[string]*health),
	}
}

// RegisterAll registers one refresh job per program and one allocation job
// per season. intervals maps program names to their refresh interval.
func (s *Scheduler) RegisterAll(intervals map[string]time.Duration) error {
	for _, p := range s.Registry.Programs() {
		p := p
		interval, ok := intervals[p.Name()]
		if !ok || interval <= 0 {
			return fmt.Errorf("program %s: refresh interval must be positive", p.Name())
		}
		if _, err := s.Cron.AddFunc("@every "+interval.String(), func() { s.refreshTask(p) }); err != nil {
			return fmt.Errorf("register refresh task %s: %w", p.Name(), err)
		}
	}
	if s.Milestones == nil {
		return nil
	}
	for _, season := range s.Milestones.Seasons() {
		season := season
		if season.Schedule == "" {
			continue
		}
		if _, err := s.Cron.AddFunc(season.Schedule, func() { s.milestoneTask(season.Name) }); err != nil {
			return fmt.Errorf("register milestone task %s: %w", season.Name, err)
		}
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	s.log.Info("scheduler: started", "jobs", len(s.Cron.Entries()))
}

// Stop stops the cron scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	s.log.Info("scheduler: stopped")
}

// RefreshAllNow runs one cycle of every program concurrently and waits for
// them (startup warm-up).
func (s *Scheduler) RefreshAllNow() {
	var wg sync.WaitGroup
	for _, p := range s.Registry.Programs() {
		p := p
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.refreshTask(p)
		}()
	}
	wg.Wait()
}

// TriggerRefresh runs one cycle of the named program immediately.
func (s *Scheduler) TriggerRefresh(name string) (*model.Snapshot, error) {
	p, ok := s.Registry.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProgram, name)
	}
	return s.refresh(p)
}

func (s *Scheduler) refreshTask(p *program.Program) {
	_, _ = s.refresh(p)
}

func (s *Scheduler) refresh(p *program.Program) (*model.Snapshot, error) {
	snap, err := p.Refresh(s.Ctx)
	s.observe(p.Name(), snap, err)
	return snap, err
}

// observe tracks consecutive failures per program. One alert is sent when the
// count reaches AlertAfter and one when the program recovers after that.
func (s *Scheduler) observe(name string, snap *model.Snapshot, err error) {
	s.mu.Lock()
	h, ok := s.health[name]
	if !ok {
		h = &health{}
		s.health[name] = h
	}
	var msg string
	if err != nil {
		h.failures++
		h.lastError = err.Error()
		if h.failures == s.AlertAfter {
			msg = notifier.FormatRefreshFailure(name, h.failures, err)
		}
	} else {
		if h.failures >= s.AlertAfter {
			msg = notifier.FormatRecovery(name, h.failures, snap)
		}
		h.failures = 0
		h.lastError = ""
	}
	s.mu.Unlock()

	if msg != "" {
		s.trySend(msg)
	}
}

func (s *Scheduler) milestoneTask(season string) {
	s.log.Info("scheduler: running milestone allocation", "season", season)
	rewards, err := s.Milestones.Allocate(season)
	if err != nil {
		s.log.Error("scheduler: milestone allocation failed", "season", season, "error", err)
		return
	}
	s.trySend(notifier.FormatMilestone(season, rewards))
}

// Status returns the operator view of every program in registry order.
func (s *Scheduler) Status() []notifier.ProgramStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	programs := s.Registry.Programs()
	out := make([]notifier.ProgramStatus, 0, len(programs))
	for _, p := range programs {
		st := notifier.ProgramStatus{Name: p.Name(), Snapshot: p.Snapshot()}
		if h, ok := s.health[p.Name()]; ok {
			st.ConsecutiveFailures = h.failures
			st.LastError = h.lastError
		}
		out = append(out, st)
	}
	return out
}

// HandleCommand processes a user command and returns a reply.
func (s *Scheduler) HandleCommand(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return helpText
	}
	switch fields[0] {
	case "/status":
		return notifier.FormatStatus(s.Status(), s.clock.Now())
	case "/points":
		if len(fields) < 2 {
			return "usage: /points <address>"
		}
		var snaps []*model.Snapshot
		for _, p := range s.Registry.Programs() {
			if snap := p.Snapshot(); snap != nil {
				snaps = append(snaps, snap)
			}
		}
		return notifier.FormatPoints(fields[1], snaps)
	case "/refresh":
		if len(fields) < 2 {
			return "usage: /refresh <program>"
		}
		snap, err := s.TriggerRefresh(fields[1])
		if err != nil {
			return fmt.Sprintf("❌ refresh %s failed: %v", fields[1], err)
		}
		return fmt.Sprintf("✅ %s refreshed: %d entries, real total %s", fields[1], len(snap.Entries), snap.RealTotal.String())
	case "/milestone":
		if len(fields) < 2 || s.Milestones == nil {
			return "usage: /milestone <season>"
		}
		rewards, err := s.Milestones.Allocate(fields[1])
		if err != nil {
			return fmt.Sprintf("❌ %v", err)
		}
		return notifier.FormatMilestone(fields[1], rewards)
	default:
		return helpText
	}
}

const helpText = "Available commands:\n• /status\n• /points <address>\n• /refresh <program>\n• /milestone <season>"

func (s *Scheduler) trySend(text string) {
	if err := s.Notifier.SendWithRetry(s.Ctx, text, 3); err != nil {
		s.log.Error("scheduler: send notification", "error", err)
	}
}

// cronLogger routes cron's own logging through slog.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("scheduler: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("scheduler: "+msg, append(keysAndValues, "error", err)...)
}
