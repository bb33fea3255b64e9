// Package plugin defines the contract a strategy plugin implements and the
// closed set of actions it may request of its StrategyRunner. Actions are
// modeled as an interface with two concrete structs rather than a
// stringly-typed field so that every switch over them is exhaustive and a
// typo is a compile error, not a silently-ignored runtime no-op.
package plugin

import (
	"context"
	"time"

	"github.com/weaver-engine/weaver/internal/domain"
)

// Metadata is the static description a loader discovers for a plugin
// without compiling or running its code -- parsed out of a package-level
// `var PluginMetadata = plugin.Metadata{...}` composite literal.
type Metadata struct {
	ID        string
	Name      string
	Version   string
	DependsOn []string
}

// Action is implemented by FetchWindowAction and PlaceOrderAction, the only
// two things a strategy may ask its runner to do on its behalf.
type Action interface {
	isAction()
}

// FetchWindowAction requests a window of historical/recent bars for symbol,
// ending at the run's current tick, ` Lookback` bars deep.
type FetchWindowAction struct {
	Symbol    string
	Timeframe string
	Lookback  int
}

func (FetchWindowAction) isAction() {}

// PlaceOrderAction requests that the run's OrderManager submit Intent.
type PlaceOrderAction struct {
	Intent domain.OrderIntent
}

func (PlaceOrderAction) isAction() {}

// Strategy is the contract every plugin implements. OnTick fires once per
// clock boundary; OnData fires once per FetchWindowAction reply. Both
// return the next batch of actions to perform, which may be empty.
type Strategy interface {
	ID() string
	Init(ctx context.Context, params map[string]any) error
	OnTick(ctx context.Context, runID string, t time.Time) ([]Action, error)
	OnData(ctx context.Context, payload map[string]any) ([]Action, error)
	Close() error
}
