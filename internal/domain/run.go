package domain

import "time"

// RunMode selects which ExchangeAdapter and Clock implementation a run uses.
type RunMode string

const (
	RunModeLive     RunMode = "live"
	RunModePaper    RunMode = "paper"
	RunModeBacktest RunMode = "backtest"
)

// RunStatus tracks the lifecycle of a Run per the run state machine:
// pending -> running -> {stopped, completed, error}. No other transitions
// are legal; RunManager enforces this.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusStopped   RunStatus = "stopped"
	RunStatusCompleted RunStatus = "completed"
	RunStatusError     RunStatus = "error"
)

// Run is the persisted record of one strategy execution, live or backtest.
type Run struct {
	ID         string
	StrategyID string
	AdapterID  string
	Mode       RunMode
	Status     RunStatus
	Symbol     string
	Timeframe  string
	Params     map[string]any

	// Backtest-only bounds; zero for live runs.
	BacktestFrom time.Time
	BacktestTo   time.Time

	ErrorMessage string
	CreatedAt    time.Time
	StartedAt    *time.Time
	EndedAt      *time.Time
}

// CanTransition reports whether moving from r.Status to next is legal.
func (r Run) CanTransition(next RunStatus) bool {
	switch r.Status {
	case RunStatusPending:
		return next == RunStatusRunning
	case RunStatusRunning:
		return next == RunStatusStopped || next == RunStatusCompleted || next == RunStatusError
	default:
		return false
	}
}
