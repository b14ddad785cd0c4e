// Package recorder persists L2, L4 and trade events to disk for offline
// analysis. Files rotate daily, one per symbol per data type.
package recorder

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"perpmm/internal/config"
	"perpmm/pkg/types"
)

// writer is the pluggable sink one rotation-key's records go to.
type writer interface {
	write(record map[string]interface{}) error
	flush() error
	close() error
}

type jsonLinesWriter struct {
	file *os.File
	enc  *json.Encoder
}

func newJSONLinesWriter(path string) (*jsonLinesWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &jsonLinesWriter{file: f, enc: json.NewEncoder(f)}, nil
}

func (w *jsonLinesWriter) write(record map[string]interface{}) error { return w.enc.Encode(record) }
func (w *jsonLinesWriter) flush() error                              { return w.file.Sync() }
func (w *jsonLinesWriter) close() error                              { return w.file.Close() }

type csvWriter struct {
	file       *os.File
	w          *csv.Writer
	columns    []string
	needHeader bool
}

func newCSVWriter(path string) (*csvWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	existing, statErr := os.Stat(path)
	fileExists := statErr == nil && existing.Size() > 0
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &csvWriter{file: f, w: csv.NewWriter(f), needHeader: !fileExists}, nil
}

func (w *csvWriter) write(record map[string]interface{}) error {
	if w.columns == nil {
		w.columns = make([]string, 0, len(record))
		for k := range record {
			w.columns = append(w.columns, k)
		}
		sort.Strings(w.columns)
		if w.needHeader {
			if err := w.w.Write(w.columns); err != nil {
				return err
			}
		}
	}
	row := make([]string, len(w.columns))
	for i, c := range w.columns {
		row[i] = fmt.Sprintf("%v", record[c])
	}
	return w.w.Write(row)
}

func (w *csvWriter) flush() error {
	w.w.Flush()
	return w.w.Error()
}

func (w *csvWriter) close() error {
	w.w.Flush()
	return w.file.Close()
}

const flushEvery = 100

// Recorder writes L2, L4 and trade events to per-symbol, per-type,
// daily-rotating files under its configured output directory.
type Recorder struct {
	mu       sync.Mutex
	cfg      config.RecordingConfig
	writers  map[string]writer
	flushCnt int
	logger   zerolog.Logger
}

// New builds a Recorder. Callers should check cfg.Enabled before routing
// events to it; every record method is also a no-op when the matching
// record-kind flag is off.
func New(cfg config.RecordingConfig, logger zerolog.Logger) *Recorder {
	return &Recorder{
		cfg:     cfg,
		writers: make(map[string]writer),
		logger:  logger.With().Str("component", "recorder").Logger(),
	}
}

func dateStr() string { return time.Now().UTC().Format("2006-01-02") }

func (r *Recorder) getWriter(symbol types.Symbol, dataType string) (writer, error) {
	today := dateStr()
	key := fmt.Sprintf("%s:%s:%s", symbol, dataType, today)

	if w, ok := r.writers[key]; ok {
		return w, nil
	}

	prefix := fmt.Sprintf("%s:%s:", symbol, dataType)
	for oldKey, w := range r.writers {
		if oldKey != key && len(oldKey) >= len(prefix) && oldKey[:len(prefix)] == prefix {
			_ = w.close()
			delete(r.writers, oldKey)
		}
	}

	ext := "jsonl"
	if r.cfg.Format == "csv" {
		ext = "csv"
	}
	path := filepath.Join(r.cfg.OutputDir, string(symbol), fmt.Sprintf("%s_%s.%s", dataType, today, ext))

	var w writer
	var err error
	if r.cfg.Format == "csv" {
		w, err = newCSVWriter(path)
	} else {
		w, err = newJSONLinesWriter(path)
	}
	if err != nil {
		return nil, fmt.Errorf("open recorder writer for %s: %w", key, err)
	}
	r.writers[key] = w
	return w, nil
}

// RecordL2 appends an L2 book snapshot for symbol, if L2 recording is on.
func (r *Recorder) RecordL2(symbol types.Symbol, snap types.L2BookSnapshot) {
	if !r.cfg.RecordL2 {
		return
	}
	record := map[string]interface{}{
		"recv_ts_ms": time.Now().UnixMilli(),
		"exch_ts_ms": snap.ExchangeTsMs,
		"symbol":     string(symbol),
		"bid_levels": len(snap.Bids),
		"ask_levels": len(snap.Asks),
	}
	if bid, ok := snap.BestBid(); ok {
		record["best_bid"] = bid.Price.String()
		record["best_bid_sz"] = bid.Size.String()
	}
	if ask, ok := snap.BestAsk(); ok {
		record["best_ask"] = ask.Price.String()
		record["best_ask_sz"] = ask.Size.String()
	}
	if mid, ok := snap.Mid(); ok {
		record["mid"] = mid.String()
	}
	if spreadBps, ok := snap.SpreadBps(); ok {
		record["spread_bps"] = spreadBps.String()
	}
	r.write(symbol, "l2", record)
}

// RecordL4 appends a raw L4 message for symbol, if L4 recording is on.
func (r *Recorder) RecordL4(symbol types.Symbol, raw []byte) {
	if !r.cfg.RecordL4 {
		return
	}
	r.write(symbol, "l4", map[string]interface{}{
		"recv_ts_ms": time.Now().UnixMilli(),
		"symbol":     string(symbol),
		"data":       string(raw),
	})
}

// RecordTrade appends a public trade event for symbol, if trade recording is on.
func (r *Recorder) RecordTrade(symbol types.Symbol, fill types.Fill) {
	if !r.cfg.RecordTrades {
		return
	}
	r.write(symbol, "trades", map[string]interface{}{
		"recv_ts_ms": time.Now().UnixMilli(),
		"symbol":     string(symbol),
		"side":       string(fill.Side),
		"px":         fill.Price.String(),
		"sz":         fill.Size.String(),
		"time":       fill.TimestampMs,
	})
}

func (r *Recorder) write(symbol types.Symbol, dataType string, record map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, err := r.getWriter(symbol, dataType)
	if err != nil {
		r.logger.Error().Err(err).Str("symbol", string(symbol)).Str("type", dataType).Msg("recorder write failed")
		return
	}
	if err := w.write(record); err != nil {
		r.logger.Error().Err(err).Str("symbol", string(symbol)).Str("type", dataType).Msg("recorder write failed")
		return
	}

	r.flushCnt++
	if r.flushCnt >= flushEvery {
		r.flushLocked()
		r.flushCnt = 0
	}
}

func (r *Recorder) flushLocked() {
	for key, w := range r.writers {
		if err := w.flush(); err != nil {
			r.logger.Error().Err(err).Str("key", key).Msg("recorder flush failed")
		}
	}
}

// Flush forces every open writer to flush.
func (r *Recorder) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushLocked()
}

// Close flushes and closes every open writer.
func (r *Recorder) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, w := range r.writers {
		if err := w.close(); err != nil {
			r.logger.Error().Err(err).Str("key", key).Msg("recorder close failed")
		}
	}
	r.writers = make(map[string]writer)
}
