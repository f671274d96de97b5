package period

import (
	"fmt"
	"time"

	"github.com/charleschow/matchsync/internal/core/match"
)

type ClockMode string

const (
	ClockWall      ClockMode = "WALL"
	ClockEffective ClockMode = "EFFECTIVE"
)

// Limits configures the minimum-time gates and period start offsets.
// Keys are the live status a gate applies to.
type Limits struct {
	MinWallSeconds      map[Status]float64
	MinEffectiveSeconds map[Status]float64
	PeriodStartSeconds  map[Status]float64
}

func DefaultLimits() Limits {
	return Limits{
		MinWallSeconds: map[Status]float64{
			StatusLiveFirstHalf:   2700,
			StatusLiveSecondHalf:  2700,
			StatusLiveExtraFirst:  900,
			StatusLiveExtraSecond: 900,
		},
		MinEffectiveSeconds: map[Status]float64{},
		PeriodStartSeconds: map[Status]float64{
			StatusLiveFirstHalf:   0,
			StatusLiveSecondHalf:  2700,
			StatusLiveExtraFirst:  5400,
			StatusLiveExtraSecond: 6300,
		},
	}
}

// Gate is the UI-facing answer to "may this transition run now?".
type Gate struct {
	Target  Status `json:"target"`
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// ClockPatch is the payload for the store's patchClockMode call.
type ClockPatch struct {
	MatchTimeSeconds          float64   `json:"match_time_seconds"`
	ClockSecondsAtPeriodStart float64   `json:"clock_seconds_at_period_start"`
	ClockMode                 ClockMode `json:"clock_mode"`
	PeriodStartTimestamp      time.Time `json:"period_start_timestamp"`
}

// Snapshot is a read-only view of the machine.
type Snapshot struct {
	Status                    Status    `json:"status"`
	Period                    int       `json:"period"`
	MatchTimeSeconds          float64   `json:"match_time_seconds"`
	ClockSecondsAtPeriodStart float64   `json:"clock_seconds_at_period_start"`
	ClockMode                 ClockMode `json:"clock_mode"`
	EffectiveRunning          bool      `json:"effective_running"`
	EffectiveSeconds          float64   `json:"effective_seconds"`
	VARSeconds                float64   `json:"var_seconds"`
	VARRunning                bool      `json:"var_running"`
	Gates                     []Gate    `json:"gates"`
}

// timer accumulates seconds while running.
type timer struct {
	base    float64
	anchor  time.Time
	running bool
}

func (t *timer) value(now time.Time) float64 {
	if !t.running {
		return t.base
	}
	return t.base + now.Sub(t.anchor).Seconds()
}

func (t *timer) start(now time.Time) {
	if t.running {
		return
	}
	t.anchor = now
	t.running = true
}

func (t *timer) stop(now time.Time) {
	if !t.running {
		return
	}
	t.base = t.value(now)
	t.running = false
}

func (t *timer) set(v float64, now time.Time) {
	t.base = v
	t.anchor = now
}

// Machine tracks the lifecycle phase and the wall, effective and VAR clocks
// of one match. It is not safe for concurrent use; the owning session
// serializes access.
type Machine struct {
	status Status
	limits Limits
	now    func() time.Time

	wall      timer
	effective timer
	varTimer  timer

	mode             ClockMode
	effectiveWanted  bool
	periodStartClock float64
	periodStartAt    time.Time
	effectiveAtStart float64
}

func NewMachine(limits Limits, now func() time.Time) *Machine {
	if now == nil {
		now = time.Now
	}
	return &Machine{
		status: StatusPending,
		limits: limits,
		now:    now,
		mode:   ClockWall,
	}
}

func (m *Machine) Status() Status { return m.status }

func (m *Machine) Mode() ClockMode { return m.mode }

func (m *Machine) MatchTimeSeconds() float64 { return m.wall.value(m.now()) }

// PeriodElapsedSeconds is the wall time accrued since the current period began.
func (m *Machine) PeriodElapsedSeconds() float64 {
	return m.MatchTimeSeconds() - m.periodStartClock
}

func (m *Machine) EffectiveSeconds() float64 { return m.effective.value(m.now()) }

func (m *Machine) PeriodEffectiveSeconds() float64 {
	return m.EffectiveSeconds() - m.effectiveAtStart
}

func (m *Machine) VARSeconds() float64 { return m.varTimer.value(m.now()) }

// Restore sets the status without running transition side effects. Used
// when loading a match whose status the store already holds.
func (m *Machine) Restore(status Status, matchTimeSeconds float64) {
	m.status = status
	now := m.now()
	m.wall.stop(now)
	m.wall.set(matchTimeSeconds, now)
	if start, ok := m.limits.PeriodStartSeconds[status]; ok {
		m.periodStartClock = start
	}
	if status.Live() {
		m.wall.start(now)
		m.syncEffective(now)
	}
}

// SyncMatchTime applies a server-authoritative wall clock reading.
func (m *Machine) SyncMatchTime(seconds float64) {
	m.wall.set(seconds, m.now())
}

// Gate evaluates whether a transition to target may run now, without
// mutating state.
func (m *Machine) Gate(target Status) Gate {
	g := Gate{Target: target}
	if !m.status.CanTransitionTo(target) {
		g.Reason = fmt.Sprintf("%s cannot move to %s", m.status, target)
		return g
	}
	if !m.status.Live() {
		g.Allowed = true
		return g
	}
	if minSec := m.limits.MinWallSeconds[m.status]; minSec > 0 {
		if elapsed := m.PeriodElapsedSeconds(); elapsed < minSec {
			g.Reason = fmt.Sprintf("Requires at least %s of match time in this period (currently %s)",
				match.FormatMinutes(minSec), match.FormatMinutes(elapsed))
			return g
		}
	}
	if minSec := m.limits.MinEffectiveSeconds[m.status]; minSec > 0 {
		if eff := m.PeriodEffectiveSeconds(); eff < minSec {
			g.Reason = fmt.Sprintf("Requires at least %s of effective time in this period (currently %s)",
				match.FormatMinutes(minSec), match.FormatMinutes(eff))
			return g
		}
	}
	g.Allowed = true
	return g
}

// Gates evaluates every legal forward transition from the current status.
func (m *Machine) Gates() []Gate {
	next := m.status.Next()
	out := make([]Gate, 0, len(next))
	for _, n := range next {
		out = append(out, m.Gate(n))
	}
	return out
}

// Check reports the error Transition would return, without mutating state.
func (m *Machine) Check(target Status, override bool) error {
	if !m.status.CanTransitionTo(target) {
		return &match.TransitionError{From: string(m.status), To: string(target), Reason: "not a legal forward transition"}
	}
	if g := m.Gate(target); !g.Allowed && !override {
		return &match.TransitionError{From: string(m.status), To: string(target), Reason: g.Reason}
	}
	return nil
}

// Transition moves to target. On error state is untouched.
func (m *Machine) Transition(target Status, override bool) (ClockPatch, error) {
	if err := m.Check(target, override); err != nil {
		return ClockPatch{}, err
	}

	now := m.now()
	m.status = target
	if target.Live() {
		start := m.limits.PeriodStartSeconds[target]
		m.wall.set(start, now)
		m.wall.start(now)
		m.periodStartClock = start
		m.periodStartAt = now
	} else {
		m.wall.stop(now)
		m.varTimer.stop(now)
	}
	m.syncEffective(now)
	m.effectiveAtStart = m.effective.value(now)
	return m.Patch(), nil
}

// SetMode switches between wall and effective display modes.
func (m *Machine) SetMode(mode ClockMode) ClockPatch {
	m.mode = mode
	if mode == ClockWall {
		m.effectiveWanted = false
	}
	m.syncEffective(m.now())
	return m.Patch()
}

// ToggleEffective starts or stops the effective sub-timer. While the wall
// clock is stopped the toggle is recorded but no time accrues.
func (m *Machine) ToggleEffective() bool {
	if m.mode != ClockEffective {
		return false
	}
	m.effectiveWanted = !m.effectiveWanted
	m.syncEffective(m.now())
	return m.effectiveWanted
}

func (m *Machine) EffectiveRunning() bool { return m.effective.running }

func (m *Machine) syncEffective(now time.Time) {
	if m.effectiveWanted && m.mode == ClockEffective && m.wall.running {
		m.effective.start(now)
	} else {
		m.effective.stop(now)
	}
}

// SyncVAR resets the VAR clock to seconds already reviewed, running on
// from now while a review is open. Outside live play it stays stopped.
func (m *Machine) SyncVAR(seconds float64, open bool) {
	now := m.now()
	m.varTimer.set(seconds, now)
	m.varTimer.running = open && m.status.Live()
}

func (m *Machine) Patch() ClockPatch {
	return ClockPatch{
		MatchTimeSeconds:          m.MatchTimeSeconds(),
		ClockSecondsAtPeriodStart: m.periodStartClock,
		ClockMode:                 m.mode,
		PeriodStartTimestamp:      m.periodStartAt,
	}
}

func (m *Machine) Snapshot() Snapshot {
	now := m.now()
	return Snapshot{
		Status:                    m.status,
		Period:                    m.status.Period(),
		MatchTimeSeconds:          m.wall.value(now),
		ClockSecondsAtPeriodStart: m.periodStartClock,
		ClockMode:                 m.mode,
		EffectiveRunning:          m.effective.running,
		EffectiveSeconds:          m.effective.value(now),
		VARSeconds:                m.varTimer.value(now),
		VARRunning:                m.varTimer.running,
		Gates:                     m.Gates(),
	}
}
