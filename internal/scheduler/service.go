package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/instapulse/instapulse/internal/config"
	"github.com/instapulse/instapulse/internal/monitoring"
	"github.com/instapulse/instapulse/internal/notifications"
)

// State is the scheduler's observable lifecycle state.
type State string

const (
	StateIdle            State = "idle"
	StateRunning         State = "running"
	StateSleeping        State = "sleeping"
	StateSkippedForHours State = "skipped_for_hours"
	StateStopped         State = "stopped"
)

// Service drives the monitoring pass at a fixed interval. Cycles waking
// before the configured start-of-day hour are skipped without any fetch
// work; a failing cycle is logged and never terminates the loop.
type Service struct {
	config  *config.Config
	monitor *monitoring.Service
	sender  notifications.Sender
	digest  *notifications.EmailDigest

	cron     *cron.Cron
	location *time.Location
	now      func() time.Time

	mu    sync.RWMutex
	state State
}

// NewService creates a new scheduler service. The digest may be nil.
func NewService(cfg *config.Config, monitor *monitoring.Service, sender notifications.Sender, digest *notifications.EmailDigest) *Service {
	return &Service{
		config:  cfg,
		monitor: monitor,
		sender:  sender,
		digest:  digest,
		now:     time.Now,
		state:   StateIdle,
	}
}

// Start begins the scheduled monitoring
func (s *Service) Start() error {
	location, err := time.LoadLocation(s.config.TimeZone)
	if err != nil {
		return fmt.Errorf("invalid timezone %q: %w", s.config.TimeZone, err)
	}
	s.location = location

	s.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))

	spec := fmt.Sprintf("@every %s", s.config.MonitorInterval)
	if _, err := s.cron.AddFunc(spec, s.runCycle); err != nil {
		return err
	}

	s.cron.Start()
	logrus.Infof("Scheduler started with %s interval (start hour gate: %d)", s.config.MonitorInterval, s.config.StartHour)
	return nil
}

// Stop halts the loop. The stop is cooperative: an in-flight cycle runs to
// completion before the scheduler is considered stopped.
func (s *Service) Stop() {
	if s.cron != nil {
		ctx := s.cron.Stop()
		<-ctx.Done()
	}
	s.setState(StateStopped)
	logrus.Info("Scheduler stopped")
}

// State returns the current lifecycle state.
func (s *Service) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Service) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Service) runCycle() {
	if s.skipForHours() {
		s.setState(StateSkippedForHours)
		logrus.Infof("Skipping cycle: before start hour %d (%s)", s.config.StartHour, s.config.TimeZone)
		return
	}

	s.setState(StateRunning)
	logrus.Info("Starting scheduled monitoring cycle")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	if err := s.monitor.RunMonitoring(ctx); err != nil {
		logrus.Errorf("Monitoring cycle failed: %v", err)
	} else {
		if err := s.sender.SendPendingAlerts(ctx); err != nil {
			logrus.Errorf("Alert delivery failed: %v", err)
		}
		if s.digest != nil && s.digest.Enabled() {
			if err := s.digest.SendCycleDigest(s.monitor.Snapshot()); err != nil {
				logrus.Errorf("Digest delivery failed: %v", err)
			}
		}
	}

	s.setState(StateSleeping)
}

// skipForHours reports whether the current local time falls before the
// configured start-of-day boundary.
func (s *Service) skipForHours() bool {
	if s.config.StartHour < 0 {
		return false
	}
	return s.now().In(s.location).Hour() < s.config.StartHour
}
