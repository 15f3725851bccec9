// Package debugtrace writes the on-disk per-layer-transition trace spec.md
// §6 describes: one JSON file per (request, layer, direction) under
// {logDir}/{port}/{date}/. It implements pipeline.Tracer directly, replacing
// the class-graph cyclic references the source's debug serialisation had
// (pipelines referencing assemblers referencing pipelines) with primitive
// fields plus a small id lookup table (spec.md §9's design note), derived
// from the teacher's memory store's file-per-entry write idiom.
package debugtrace

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cortexhub/anthropic-gateway/internal/canonical"
	"github.com/cortexhub/anthropic-gateway/internal/pipeline"
)

// Record is what each trace file holds.
type Record struct {
	RequestID string          `json:"requestId"`
	Layer     string          `json:"layer"`
	Direction string          `json:"direction"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
	RefID     int             `json:"refId,omitempty"`
}

// Writer is a pipeline.Tracer that persists one file per layer transition.
// It is safe for concurrent use by many in-flight requests.
type Writer struct {
	mu      sync.Mutex
	rootDir string
	port    int
	enabled bool
	refIDs  map[uintptr]int
	nextRef int
}

// NewWriter builds a Writer rooted at {logDir}/{port}. enabled=false yields
// a Writer whose Trace calls are no-ops, so callers don't need a separate
// NoopTracer branch in the composition root.
func NewWriter(logDir string, port int, enabled bool) *Writer {
	return &Writer{
		rootDir: logDir,
		port:    port,
		enabled: enabled,
		refIDs:  make(map[uintptr]int),
	}
}

var _ pipeline.Tracer = (*Writer)(nil)

// Trace implements pipeline.Tracer. Write failures are logged-by-omission:
// tracing must never fail the request it is observing.
func (w *Writer) Trace(requestID, layer string, direction pipeline.Direction, payload interface{}) {
	if !w.enabled {
		return
	}
	dirName := "outbound"
	if direction == pipeline.DirectionInbound {
		dirName = "inbound"
	}

	record := Record{
		RequestID: requestID,
		Layer:     layer,
		Direction: dirName,
		Timestamp: time.Now(),
		Payload:   w.flatten(payload),
		RefID:     w.refFor(payload),
	}

	encoded, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return
	}

	dir := filepath.Join(w.rootDir, strconv.Itoa(w.port), record.Timestamp.Format("2006-01-02"))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return
	}
	fileName := fmt.Sprintf("%s_%s_%s.json", sanitize(requestID), sanitize(layer), dirName)
	_ = os.WriteFile(filepath.Join(dir, fileName), encoded, 0644)
}

// refFor assigns a small stable id to a pointer-typed payload so repeated
// traces of the same underlying object can be correlated without
// re-embedding (or cyclically re-walking) the full object graph.
func (w *Writer) refFor(payload interface{}) int {
	v := reflect.ValueOf(payload)
	if v.Kind() != reflect.Ptr || v.IsNil() {
		return 0
	}
	ptr := v.Pointer()
	w.mu.Lock()
	defer w.mu.Unlock()
	if id, ok := w.refIDs[ptr]; ok {
		return id
	}
	w.nextRef++
	w.refIDs[ptr] = w.nextRef
	return w.nextRef
}

// flatten reduces a layer envelope to primitive fields. It never walks a
// full struct graph with json.Marshal on unknown types, since that is
// exactly the cyclic-reference hazard spec.md §9 calls out.
func (w *Writer) flatten(payload interface{}) json.RawMessage {
	var summary interface{}
	switch v := payload.(type) {
	case *canonical.Request:
		summary = map[string]interface{}{
			"model":         v.Model,
			"maxTokens":     v.MaxTokens,
			"messageCount":  len(v.Messages),
			"stream":        v.Stream,
			"toolCount":     len(v.Tools),
			"hasToolChoice": v.ToolChoice != nil,
		}
	case *canonical.Response:
		summary = map[string]interface{}{
			"id":            v.ID,
			"model":         v.Model,
			"stopReason":    v.StopReason,
			"contentBlocks": len(v.Content),
			"inputTokens":   v.Usage.InputTokens,
			"outputTokens":  v.Usage.OutputTokens,
		}
	case *http.Request:
		summary = map[string]interface{}{
			"method":        v.Method,
			"url":           v.URL.String(),
			"contentLength": v.ContentLength,
		}
	case []byte:
		summary = map[string]interface{}{
			"bytes":   len(v),
			"excerpt": excerpt(v, 512),
		}
	case nil:
		summary = map[string]interface{}{"type": "nil"}
	default:
		summary = map[string]interface{}{"type": fmt.Sprintf("%T", v)}
	}
	encoded, err := json.Marshal(summary)
	if err != nil {
		return json.RawMessage(`{"error":"unserializable payload"}`)
	}
	return encoded
}

func excerpt(b []byte, max int) string {
	if len(b) <= max {
		return string(b)
	}
	return string(b[:max]) + "…"
}

func sanitize(s string) string {
	if s == "" {
		return "unknown"
	}
	replacer := strings.NewReplacer("/", "_", "\\", "_", " ", "_")
	return replacer.Replace(s)
}

// ListRequestTraces returns the trace file names written for a request on a
// given date, sorted lexically by file name (not by write time).
func (w *Writer) ListRequestTraces(date, requestID string) ([]string, error) {
	dir := filepath.Join(w.rootDir, strconv.Itoa(w.port), date)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	prefix := sanitize(requestID) + "_"
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), prefix) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// ReadTrace loads one trace file's decoded Record.
func (w *Writer) ReadTrace(date, fileName string) (*Record, error) {
	path := filepath.Join(w.rootDir, strconv.Itoa(w.port), date, fileName)
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode trace %s: %w", fileName, err)
	}
	return &rec, nil
}
