// Package artifact implements the scoped-resource writers for one run:
// run_manifest.json (written once), events.jsonl (append-only), the
// trades and equity tables, and result.json. A Writer is acquired at
// engine start and finalized on every exit path, including aborts, with
// a trailing log_finished event.
package artifact

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/chidi150c/perpbacktest/errs"
	"github.com/chidi150c/perpbacktest/fill"
	"github.com/chidi150c/perpbacktest/sizing"
	"github.com/google/uuid"
)

// ArtifactVersion follows semver; readers must refuse to load a manifest
// with a major version ahead of their own.
const ArtifactVersion = "1.0.0"

// FundingAuthority names which column is authoritative when a trade's
// funding_pnl and an independently-derived total disagree (spec.md §9's
// open question; decided in DESIGN.md in favor of the trade row).
type FundingAuthority string

const FundingAuthorityTradeRow FundingAuthority = "trade_row"

// Manifest is the immutable run metadata written once at engine start.
type Manifest struct {
	RunID               string            `json:"run_id"`
	ArtifactVersion     string            `json:"artifact_version"`
	ConfigHash          string            `json:"config_hash"`
	GitCommit           string            `json:"git_commit,omitempty"`
	Symbol              string            `json:"symbol"`
	DataWindowStart     time.Time         `json:"data_window_start"`
	DataWindowEnd       time.Time         `json:"data_window_end"`
	TFMapping           map[string]string `json:"tf_mapping"`
	HealthReportJSON    json.RawMessage   `json:"health_report,omitempty"`
	FundingPnLAuthority FundingAuthority  `json:"funding_pnl_authority"`
}

// NewRunID generates a fresh stable run identifier.
func NewRunID() string { return uuid.New().String() }

// Writer owns every file handle for one run's artifact directory and
// the monotonic event_id counter for events.jsonl.
type Writer struct {
	dir         string
	eventsFile  *os.File
	nextEventID int
	finished    bool
}

// Open creates <root>/<timestamp>/<run_id>/ and opens events.jsonl for
// appending. The manifest is written separately via WriteManifest once
// its fields (including the health report) are known.
func Open(root, runID string, startedAt time.Time) (*Writer, error) {
	dir := filepath.Join(root, startedAt.UTC().Format("20060102T150405Z"), runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errs.WithCause(errs.KindWriteFailed, "failed to create run directory", err)
	}
	f, err := os.Create(filepath.Join(dir, "events.jsonl"))
	if err != nil {
		return nil, errs.WithCause(errs.KindWriteFailed, "failed to create events.jsonl", err)
	}
	return &Writer{dir: dir, eventsFile: f}, nil
}

// Dir returns the run's artifact directory.
func (w *Writer) Dir() string { return w.dir }

// WriteManifest writes run_manifest.json once.
func (w *Writer) WriteManifest(m Manifest) error {
	m.ArtifactVersion = ArtifactVersion
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return errs.WithCause(errs.KindWriteFailed, "failed to marshal manifest", err)
	}
	if err := os.WriteFile(filepath.Join(w.dir, "run_manifest.json"), b, 0o644); err != nil {
		return errs.WithCause(errs.KindWriteFailed, "failed to write run_manifest.json", err)
	}
	return nil
}

// Event is one line of events.jsonl: event_type/event_id/timestamp plus
// event-specific fields carried in Fields.
type Event struct {
	EventType string         `json:"event_type"`
	EventID   int            `json:"event_id"`
	Timestamp time.Time      `json:"timestamp"`
	Fields    map[string]any `json:"-"`
}

func (e Event) MarshalJSON() ([]byte, error) {
	m := map[string]any{
		"event_type": e.EventType,
		"event_id":   e.EventID,
		"timestamp":  e.Timestamp,
	}
	for k, v := range e.Fields {
		m[k] = v
	}
	return json.Marshal(m)
}

// LogEvent appends one event with the next monotonic event_id, starting
// at 0.
func (w *Writer) LogEvent(eventType string, ts time.Time, fields map[string]any) error {
	ev := Event{EventType: eventType, EventID: w.nextEventID, Timestamp: ts, Fields: fields}
	w.nextEventID++
	b, err := json.Marshal(ev)
	if err != nil {
		return errs.WithCause(errs.KindWriteFailed, "failed to marshal event", err)
	}
	if _, err := w.eventsFile.Write(append(b, '\n')); err != nil {
		return errs.WithCause(errs.KindWriteFailed, "failed to append event", err)
	}
	return nil
}

// WriteTrades writes the trades table as CSV with the required fixed
// column schema.
func (w *Writer) WriteTrades(trades []*fill.Trade) error {
	f, err := os.Create(filepath.Join(w.dir, "trades.csv"))
	if err != nil {
		return errs.WithCause(errs.KindWriteFailed, "failed to create trades.csv", err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	header := []string{
		"id", "symbol", "side", "entry_ts", "entry_bar_index", "entry_price",
		"entry_size_usdt", "entry_size", "exit_ts", "exit_bar_index",
		"exit_price", "exit_reason", "realized_pnl", "funding_pnl",
		"fees_paid", "net_pnl", "stop_loss", "take_profit",
	}
	if err := cw.Write(header); err != nil {
		return errs.WithCause(errs.KindWriteFailed, "failed to write trades header", err)
	}
	for _, t := range trades {
		side := "long"
		if t.Direction == sizing.DirShort {
			side = "short"
		}
		row := []string{
			t.ID, t.Symbol, side,
			t.EntryTs.UTC().Format(time.RFC3339), strconv.Itoa(t.EntryBarIdx), ftoa(t.EntryPrice),
			ftoa(t.EntrySizeUSDT), ftoa(t.EntrySizeBase),
			t.ExitTs.UTC().Format(time.RFC3339), strconv.Itoa(t.ExitBarIdx),
			ftoa(t.ExitPrice), string(t.ExitReason), ftoa(t.RealizedPnL), ftoa(t.FundingPnL),
			ftoa(t.FeesPaid), ftoa(t.NetPnL), ftoa(t.StopLoss), ftoa(t.TakeProfit),
		}
		if err := cw.Write(row); err != nil {
			return errs.WithCause(errs.KindWriteFailed, "failed to write trade row", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// EquityRow is one row of the equity table.
type EquityRow struct {
	Ts           time.Time
	Equity       float64
	DrawdownAbs  float64
	DrawdownPct  float64
}

// WriteEquity writes the equity table as CSV.
func (w *Writer) WriteEquity(rows []EquityRow) error {
	f, err := os.Create(filepath.Join(w.dir, "equity.csv"))
	if err != nil {
		return errs.WithCause(errs.KindWriteFailed, "failed to create equity.csv", err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if err := cw.Write([]string{"ts", "equity", "drawdown_abs", "drawdown_pct"}); err != nil {
		return errs.WithCause(errs.KindWriteFailed, "failed to write equity header", err)
	}
	for _, r := range rows {
		row := []string{r.Ts.UTC().Format(time.RFC3339), ftoa(r.Equity), ftoa(r.DrawdownAbs), ftoa(r.DrawdownPct)}
		if err := cw.Write(row); err != nil {
			return errs.WithCause(errs.KindWriteFailed, "failed to write equity row", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteResult writes result.json.
func (w *Writer) WriteResult(result any) error {
	b, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return errs.WithCause(errs.KindWriteFailed, "failed to marshal result", err)
	}
	if err := os.WriteFile(filepath.Join(w.dir, "result.json"), b, 0o644); err != nil {
		return errs.WithCause(errs.KindWriteFailed, "failed to write result.json", err)
	}
	return nil
}

// Close logs log_finished with the total event count and releases the
// events file handle. Safe to call more than once; only the first call
// has any effect, so a deferred Close alongside an explicit one on the
// happy path never double-writes.
func (w *Writer) Close() error {
	if w.finished {
		return nil
	}
	w.finished = true
	if err := w.LogEvent("log_finished", time.Now().UTC(), map[string]any{"total_events": w.nextEventID}); err != nil {
		w.eventsFile.Close()
		return err
	}
	return w.eventsFile.Close()
}

func ftoa(f float64) string { return fmt.Sprintf("%g", f) }
