// Package scheduler drives periodic health checks through a small
// normal/crucial state machine.
package scheduler

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Mode is the probing state of a scheduler.
type Mode string

const (
	ModeIdle    Mode = "idle"
	ModeNormal  Mode = "probing-normal"
	ModeCrucial Mode = "probing-crucial"
	ModeStopped Mode = "stopped"
)

// ErrInvalidTransition is returned when a mode change is not allowed.
var ErrInvalidTransition = errors.New("invalid mode transition")

// ValidTransitions defines allowed mode changes. Stopped is terminal.
var ValidTransitions = map[Mode][]Mode{
	ModeIdle:    {ModeNormal, ModeCrucial, ModeStopped},
	ModeNormal:  {ModeCrucial, ModeStopped},
	ModeCrucial: {ModeNormal, ModeStopped},
	ModeStopped: {},
}

// CanTransition checks if a mode change is valid.
func CanTransition(from, to Mode) bool {
	for _, target := range ValidTransitions[from] {
		if target == to {
			return true
		}
	}
	return false
}

// Intervals maps the probing modes to tick intervals.
type Intervals struct {
	Normal  time.Duration
	Crucial time.Duration
}

func (i Intervals) of(m Mode) time.Duration {
	switch m {
	case ModeNormal:
		return i.Normal
	case ModeCrucial:
		return i.Crucial
	default:
		return 0
	}
}

// Scheduler calls tick repeatedly at the interval of its current mode.
type Scheduler struct {
	clock     clock.Clock
	intervals Intervals
	tick      func()

	mu       sync.Mutex
	mode     Mode
	interval time.Duration
	ticker   *clock.Ticker
	stop     chan struct{}
}

// New creates an idle scheduler. Nothing ticks until a mode is entered.
func New(clk clock.Clock, intervals Intervals, tick func()) *Scheduler {
	if clk == nil {
		clk = clock.New()
	}
	return &Scheduler{
		clock:     clk,
		intervals: intervals,
		tick:      tick,
		mode:      ModeIdle,
	}
}

// Enter switches to mode and arms the matching interval. Entering the
// current mode is a no-op and keeps the phase.
func (s *Scheduler) Enter(mode Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if mode == s.mode {
		return nil
	}
	if !CanTransition(s.mode, mode) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.mode, mode)
	}

	s.mode = mode
	if mode == ModeStopped {
		s.disarmLocked()
		return nil
	}
	s.armLocked(s.intervals.of(mode))
	return nil
}

// Reset restarts the timer of the current mode, so the next tick is a full
// interval away. No-op while idle or stopped.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mode == ModeIdle || s.mode == ModeStopped {
		return
	}
	s.armLocked(s.intervals.of(s.mode))
}

// Arm starts ticking at d, replacing any running timer. The phase always resets.
func (s *Scheduler) Arm(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mode == ModeStopped {
		return
	}
	s.armLocked(d)
}

// Rearm is Arm that does nothing when already armed with d.
func (s *Scheduler) Rearm(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mode == ModeStopped || (s.ticker != nil && s.interval == d) {
		return
	}
	s.armLocked(d)
}

// Disarm stops the timer without changing the mode.
func (s *Scheduler) Disarm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disarmLocked()
}

// Stop disarms the timer for good.
func (s *Scheduler) Stop() {
	_ = s.Enter(ModeStopped)
}

// Mode returns the current mode.
func (s *Scheduler) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// CurrentInterval returns the armed interval, or 0 when disarmed.
func (s *Scheduler) CurrentInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ticker == nil {
		return 0
	}
	return s.interval
}

func (s *Scheduler) armLocked(d time.Duration) {
	s.disarmLocked()
	if d <= 0 {
		return
	}

	ticker := s.clock.Ticker(d)
	stop := make(chan struct{})
	s.ticker, s.stop, s.interval = ticker, stop, d

	go func() {
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				select {
				case <-stop:
					return
				default:
				}
				s.tick()
			}
		}
	}()
}

func (s *Scheduler) disarmLocked() {
	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	close(s.stop)
	s.ticker, s.stop, s.interval = nil, nil, 0
}
