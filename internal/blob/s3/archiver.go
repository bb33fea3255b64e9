package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/weaver-engine/weaver/internal/backtest"
	"github.com/weaver-engine/weaver/internal/domain"
)

// RunArchiver uploads a completed backtest run's bar window and summary
// statistics to S3 for later analysis, independent of the outbox/Postgres
// path. Grounded on the teacher's ArchiveImpl (query → JSONL marshal →
// upload → audit log), narrowed from trades/orders/arb-history archival to
// the one artifact shape a completed BacktestEngine run produces.
type RunArchiver struct {
	writer *Writer
	audit  domain.AuditStore
}

// NewRunArchiver builds a RunArchiver.
func NewRunArchiver(writer *Writer, audit domain.AuditStore) *RunArchiver {
	return &RunArchiver{writer: writer, audit: audit}
}

// runSummary is the JSON shape uploaded alongside the bar window. It embeds
// backtest.Stats, so a field added to Stats also appears in summary.json.
type runSummary struct {
	RunID      string         `json:"run_id"`
	Symbol     string         `json:"symbol"`
	Timeframe  string         `json:"timeframe"`
	ArchivedAt time.Time      `json:"archived_at"`
	Stats      backtest.Stats `json:"stats"`
	BarCount   int            `json:"bar_count"`
}

// Archive uploads runID's equity stats (as JSON) and bar window (as JSONL)
// to archive/backtests/<runID>/{summary.json,bars.jsonl}, then records the
// archival in the audit log. The bar upload is skipped when bars is empty;
// the summary upload and the audit record still happen.
func (a *RunArchiver) Archive(ctx context.Context, runID, symbol, timeframe string, stats backtest.Stats, bars []domain.Bar) error {
	summary := runSummary{
		RunID:      runID,
		Symbol:     symbol,
		Timeframe:  timeframe,
		ArchivedAt: time.Now().UTC(),
		Stats:      stats,
		BarCount:   len(bars),
	}
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("s3blob: marshal run summary: %w", err)
	}
	summaryPath := fmt.Sprintf("archive/backtests/%s/summary.json", runID)
	if err := a.writer.Put(ctx, summaryPath, bytes.NewReader(summaryJSON), "application/json"); err != nil {
		return fmt.Errorf("s3blob: upload run summary: %w", err)
	}

	if len(bars) > 0 {
		barsJSONL, err := marshalJSONL(barPayloads(bars))
		if err != nil {
			return fmt.Errorf("s3blob: marshal bar window: %w", err)
		}
		barsPath := fmt.Sprintf("archive/backtests/%s/bars.jsonl", runID)
		if err := a.writer.Put(ctx, barsPath, bytes.NewReader(barsJSONL), "application/x-ndjson"); err != nil {
			return fmt.Errorf("s3blob: upload bar window: %w", err)
		}
	}

	if a.audit != nil {
		if err := a.audit.Log(ctx, runID, "run.archived", map[string]any{
			"summary_path": summaryPath,
			"bar_count":    len(bars),
		}); err != nil {
			return fmt.Errorf("s3blob: audit log archive: %w", err)
		}
	}
	return nil
}

func barPayloads(bars []domain.Bar) []map[string]any {
	out := make([]map[string]any, len(bars))
	for i, b := range bars {
		out[i] = domain.BarToPayload(b)
	}
	return out
}

// marshalJSONL serializes records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
