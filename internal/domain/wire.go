package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Envelope payloads cross process boundaries (PostgresLog marshals them to
// JSON) so every producer/consumer pair agrees on a plain map[string]any
// shape rather than passing typed Go values through payload directly. The
// helpers here are that shared wire format for the types multiple
// components need to encode: OrderIntent, Fill, and Bar.

// OrderIntentToPayload encodes intent as envelope payload fields.
func OrderIntentToPayload(intent OrderIntent) map[string]any {
	return map[string]any{
		"client_order_id": intent.ClientOrderID,
		"run_id":          intent.RunID,
		"symbol":          intent.Symbol,
		"side":            string(intent.Side),
		"kind":            string(intent.Kind),
		"time_in_force":   string(intent.TimeInForce),
		"quantity":        intent.Quantity.String(),
		"limit_price":     intent.LimitPrice.String(),
		"stop_price":      intent.StopPrice.String(),
	}
}

// OrderIntentFromPayload decodes a payload produced by OrderIntentToPayload.
func OrderIntentFromPayload(p map[string]any) (OrderIntent, error) {
	var intent OrderIntent
	var err error
	intent.ClientOrderID, _ = p["client_order_id"].(string)
	intent.RunID, _ = p["run_id"].(string)
	intent.Symbol, _ = p["symbol"].(string)
	intent.Side = OrderSide(stringField(p, "side"))
	intent.Kind = OrderKind(stringField(p, "kind"))
	intent.TimeInForce = OrderTimeInForce(stringField(p, "time_in_force"))
	if intent.Quantity, err = decimalField(p, "quantity"); err != nil {
		return OrderIntent{}, err
	}
	if intent.LimitPrice, err = decimalField(p, "limit_price"); err != nil {
		return OrderIntent{}, err
	}
	if intent.StopPrice, err = decimalField(p, "stop_price"); err != nil {
		return OrderIntent{}, err
	}
	return intent, nil
}

// FillToPayload encodes fill as envelope payload fields.
func FillToPayload(fill Fill) map[string]any {
	return map[string]any{
		"fill_id":     fill.ID,
		"order_id":    fill.OrderID,
		"run_id":      fill.RunID,
		"symbol":      fill.Symbol,
		"side":        string(fill.Side),
		"quantity":    fill.Quantity.String(),
		"price":       fill.Price.String(),
		"commission":  fill.Commission.String(),
		"executed_at": fill.ExecutedAt.UTC().Format(time.RFC3339Nano),
	}
}

// FillFromPayload decodes a payload produced by FillToPayload.
func FillFromPayload(p map[string]any) (Fill, error) {
	var fill Fill
	var err error
	fill.ID, _ = p["fill_id"].(string)
	fill.OrderID, _ = p["order_id"].(string)
	fill.RunID, _ = p["run_id"].(string)
	fill.Symbol, _ = p["symbol"].(string)
	fill.Side = OrderSide(stringField(p, "side"))
	if fill.Quantity, err = decimalField(p, "quantity"); err != nil {
		return Fill{}, err
	}
	if fill.Price, err = decimalField(p, "price"); err != nil {
		return Fill{}, err
	}
	if fill.Commission, err = decimalField(p, "commission"); err != nil {
		return Fill{}, err
	}
	fill.ExecutedAt, err = timeField(p, "executed_at")
	if err != nil {
		return Fill{}, err
	}
	return fill, nil
}

// BarToPayload encodes bar as a plain map, used both directly as envelope
// payload and as an element of a WindowReady bar list.
func BarToPayload(bar Bar) map[string]any {
	return map[string]any{
		"symbol":    bar.Symbol,
		"timeframe": bar.Timeframe,
		"ts":        bar.Ts.UTC().Format(time.RFC3339Nano),
		"open":      bar.Open.String(),
		"high":      bar.High.String(),
		"low":       bar.Low.String(),
		"close":     bar.Close.String(),
		"volume":    bar.Volume.String(),
	}
}

// BarFromPayload decodes a payload produced by BarToPayload.
func BarFromPayload(p map[string]any) (Bar, error) {
	var bar Bar
	var err error
	bar.Symbol, _ = p["symbol"].(string)
	bar.Timeframe, _ = p["timeframe"].(string)
	if bar.Ts, err = timeField(p, "ts"); err != nil {
		return Bar{}, err
	}
	if bar.Open, err = decimalField(p, "open"); err != nil {
		return Bar{}, err
	}
	if bar.High, err = decimalField(p, "high"); err != nil {
		return Bar{}, err
	}
	if bar.Low, err = decimalField(p, "low"); err != nil {
		return Bar{}, err
	}
	if bar.Close, err = decimalField(p, "close"); err != nil {
		return Bar{}, err
	}
	if bar.Volume, err = decimalField(p, "volume"); err != nil {
		return Bar{}, err
	}
	return bar, nil
}

func stringField(p map[string]any, key string) string {
	s, _ := p[key].(string)
	return s
}

func decimalField(p map[string]any, key string) (decimal.Decimal, error) {
	s, ok := p[key].(string)
	if !ok || s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("domain: decode %q: %w", key, err)
	}
	return d, nil
}

func timeField(p map[string]any, key string) (time.Time, error) {
	s, ok := p[key].(string)
	if !ok || s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("domain: decode %q: %w", key, err)
	}
	return t, nil
}
