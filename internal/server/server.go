// Package server implements the Front HTTP Server (spec.md §4.9): it
// decodes Anthropic-shaped requests, owns the Flow Controller enqueue/
// dispatch handshake, drives the Router + Pipeline Switching Controller
// retry loop across alternate pipelines, and writes the response back as
// JSON or SSE. Generalized from the teacher's internal/server package,
// which wired CortexBrain's memory/inference/onboarding surface onto the
// same net/http.ServeMux idiom this keeps.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cortexhub/anthropic-gateway/internal/bus"
	"github.com/cortexhub/anthropic-gateway/internal/canonical"
	"github.com/cortexhub/anthropic-gateway/internal/debugtrace"
	"github.com/cortexhub/anthropic-gateway/internal/flow"
	"github.com/cortexhub/anthropic-gateway/internal/gatewayerr"
	"github.com/cortexhub/anthropic-gateway/internal/metrics"
	"github.com/cortexhub/anthropic-gateway/internal/pipeline"
	"github.com/cortexhub/anthropic-gateway/internal/router"
	"github.com/cortexhub/anthropic-gateway/internal/switching"
	"github.com/cortexhub/anthropic-gateway/internal/toolschema"
)

// Headers carrying correlation ids and the category-classification flags
// that spec.md §6's wire body does not: canonical.Metadata.Background/
// Thinking/Search are json:"-", deliberately excluded from the wire shape,
// so they can only arrive out-of-band, via these.
const (
	headerClientID       = "X-Client-Id"
	headerSessionID      = "X-Session-Id"
	headerConversationID = "X-Conversation-Id"
	headerRequestID      = "X-Request-Id"
	headerPriority       = "X-Priority"
	headerBackground     = "X-Background"
	headerThinking       = "X-Thinking"
	headerSearch         = "X-Search"
)

const (
	defaultRequestTimeout = 60 * time.Second
	dispatchPollInterval  = 20 * time.Millisecond
	maxBodyBytes          = 10 << 20
)

// Server is the Front HTTP Server.
type Server struct {
	host      string
	port      int
	version   string
	startTime time.Time
	logger    *slog.Logger

	flowCtl   *flow.Controller
	router    *router.Router
	switchCtl *switching.Controller
	pipelines map[string]*pipeline.Pipeline

	trace *debugtrace.Writer
	debug *debugtrace.Handler
	hub   *bus.Hub

	requestTimeout time.Duration
	httpServer     *http.Server
	draining       int32
}

// New builds the Server and registers its mux; call Start to begin serving.
func New(host string, port int, version string, flowCtl *flow.Controller, rt *router.Router, switchCtl *switching.Controller, pipelines map[string]*pipeline.Pipeline, trace *debugtrace.Writer, hub *bus.Hub, logger *slog.Logger) *Server {
	s := &Server{
		host: host, port: port, version: version, startTime: time.Now(), logger: logger,
		flowCtl: flowCtl, router: rt, switchCtl: switchCtl, pipelines: pipelines,
		trace: trace, debug: debugtrace.NewHandler(trace, logger), hub: hub,
		requestTimeout: defaultRequestTimeout,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/messages", s.messagesHandler)
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/status", s.statusHandler)
	mux.Handle("/stats", promhttp.Handler())
	mux.HandleFunc("/shutdown", s.shutdownHandler)
	mux.HandleFunc("/debug/stream", hub.ServeWS)
	mux.HandleFunc("/debug/traces", s.debug.ListHandler)
	mux.HandleFunc("/debug/traces/", s.debug.ReadHandler)

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", host, port),
		Handler: mux,
	}
	return s
}

// Start blocks serving HTTP until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("server: listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown begins a graceful stop, bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	atomic.StoreInt32(&s.draining, 1)
	return s.httpServer.Shutdown(ctx)
}

// --- /v1/messages -----------------------------------------------------

func (s *Server) messagesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req canonical.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, gatewayerr.New(gatewayerr.KindValidation, "server", "", "malformed request body: "+err.Error()))
		return
	}

	if gerr := validateRequest(&req); gerr != nil {
		s.writeError(w, gerr)
		return
	}

	clientID := firstNonEmpty(r.Header.Get(headerClientID), "anonymous")
	sessionID := firstNonEmpty(r.Header.Get(headerSessionID), uuid.NewString())
	conversationID := firstNonEmpty(req.Metadata.ConversationID, r.Header.Get(headerConversationID), uuid.NewString())
	requestID := firstNonEmpty(req.Metadata.RequestID, r.Header.Get(headerRequestID), uuid.NewString())
	req.Metadata.ConversationID = conversationID
	req.Metadata.RequestID = requestID
	req.Metadata.Background = parseBool(r.Header.Get(headerBackground))
	req.Metadata.Thinking = parseBool(r.Header.Get(headerThinking))
	req.Metadata.Search = parseBool(r.Header.Get(headerSearch))

	priority := flow.PriorityMedium
	switch strings.ToLower(r.Header.Get(headerPriority)) {
	case "high":
		priority = flow.PriorityHigh
	case "low":
		priority = flow.PriorityLow
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout)
	defer cancel()

	respondErr := s.writeError
	if req.Stream {
		respondErr = s.writeStreamError
	}

	proc := flow.NewProcessor(ctx, sessionID, conversationID, requestID, priority, &req)
	if err := s.flowCtl.Enqueue(clientID, proc); err != nil {
		respondErr(w, gatewayerr.Wrap(gatewayerr.KindRouting, "server", requestID, 0, err))
		return
	}

	if err := s.awaitDispatch(ctx, proc); err != nil {
		s.flowCtl.Cancel(proc)
		respondErr(w, classifyWaitError(err, requestID))
		return
	}

	resp, gerr := s.runWithRetries(ctx, proc)
	if gerr != nil {
		s.flowCtl.Retry(proc, false, 0)
		metrics.RequestsTotal.WithLabelValues(proc.Request.Model, "error").Inc()
		respondErr(w, gerr)
		return
	}

	s.flowCtl.Complete(proc, flow.StatusCompleted)
	metrics.RequestsTotal.WithLabelValues(proc.Request.Model, "ok").Inc()

	if req.Stream {
		writeSSE(w, resp)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// awaitDispatch polls until proc becomes its conversation's active entry, the
// per-request timeout elapses, or the client disconnects (spec.md §5's
// cancellation semantics: ctx.Done() covers both).
func (s *Server) awaitDispatch(ctx context.Context, proc *flow.Processor) error {
	ticker := time.NewTicker(dispatchPollInterval)
	defer ticker.Stop()
	for {
		ok, err := s.flowCtl.DispatchIfHead(proc)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// runWithRetries drives the Router + Switching Controller retry loop:
// select a pipeline, run it, and on a Recoverable failure select again
// (excluding the pipeline that just failed) until the blueprint's retry
// budget is spent (spec.md §4.7).
func (s *Server) runWithRetries(ctx context.Context, proc *flow.Processor) (*canonical.Response, *gatewayerr.Error) {
	excluded := make(map[string]bool)
	attempts := 0
	budget := 1

	for {
		pipelineID, err := s.router.SelectExcluding(proc.Request, excluded)
		if err != nil {
			return nil, gatewayerr.Wrap(gatewayerr.KindRouting, "router", proc.RequestID, 0, err)
		}
		p, ok := s.pipelines[pipelineID]
		if !ok {
			return nil, gatewayerr.New(gatewayerr.KindRouting, "router", proc.RequestID, "selected pipeline not assembled: "+pipelineID)
		}
		if attempts == 0 {
			budget = p.Blueprint.RetryBudget
			if budget < 1 {
				budget = 1
			}
		}

		pctx := &pipeline.Context{Context: proc.Context(), Blueprint: p.Blueprint, RequestID: proc.RequestID, Trace: s.tracer()}
		start := time.Now()
		resp, runErr := pipeline.Run(pctx, p, proc.Request)
		metrics.RequestDuration.WithLabelValues(p.RouteName).Observe(time.Since(start).Seconds())
		attempts++

		if runErr == nil {
			s.switchCtl.RecordSuccess(pipelineID)
			return resp, nil
		}

		gerr := toGatewayError(runErr, proc.RequestID)
		class := s.switchCtl.RecordFailure(pipelineID, gerr)
		metrics.PipelineFailuresTotal.WithLabelValues(pipelineID, string(class)).Inc()

		if class != switching.Recoverable || attempts >= budget {
			return nil, gerr
		}
		excluded[pipelineID] = true
	}
}

func (s *Server) tracer() pipeline.Tracer {
	if s.trace == nil {
		return pipeline.NoopTracer{}
	}
	return tracingHub{writer: s.trace, hub: s.hub}
}

// tracingHub fans every trace call out to both the on-disk writer and any
// connected /debug/stream operators.
type tracingHub struct {
	writer *debugtrace.Writer
	hub    *bus.Hub
}

func (t tracingHub) Trace(requestID, layer string, direction pipeline.Direction, payload interface{}) {
	t.writer.Trace(requestID, layer, direction, payload)
	if t.hub == nil {
		return
	}
	dirName := "outbound"
	if direction == pipeline.DirectionInbound {
		dirName = "inbound"
	}
	t.hub.Publish(bus.Event{
		EventType: fmt.Sprintf("%s.%s", layer, dirName),
		Payload:   map[string]interface{}{"requestId": requestID},
		Timestamp: time.Now(),
		Source:    "pipeline",
	})
}

func toGatewayError(err error, requestID string) *gatewayerr.Error {
	if gerr, ok := err.(*gatewayerr.Error); ok {
		return gerr
	}
	return gatewayerr.Wrap(gatewayerr.KindInternal, "server", requestID, 0, err)
}

func classifyWaitError(err error, requestID string) *gatewayerr.Error {
	if err == context.DeadlineExceeded {
		return gatewayerr.New(gatewayerr.KindUpstreamTimeout, "server", requestID, "request timed out waiting to be scheduled")
	}
	return gatewayerr.Wrap(gatewayerr.KindInternal, "server", requestID, 0, err)
}

// --- validation ---------------------------------------------------------

// validateRequest applies spec.md §6's inbound bounds before a request ever
// reaches the flow controller.
func validateRequest(req *canonical.Request) *gatewayerr.Error {
	switch {
	case req.Model == "":
		return gatewayerr.New(gatewayerr.KindValidation, "server", "", "model is required")
	case req.MaxTokens < 1 || req.MaxTokens > 200000:
		return gatewayerr.New(gatewayerr.KindValidation, "server", "", "max_tokens must be between 1 and 200000")
	case len(req.Messages) == 0 || len(req.Messages) > 100:
		return gatewayerr.New(gatewayerr.KindValidation, "server", "", "messages must contain between 1 and 100 entries")
	case len(req.StopSequences) > 4:
		return gatewayerr.New(gatewayerr.KindValidation, "server", "", "stop_sequences accepts at most 4 entries")
	case len(req.Tools) > 20:
		return gatewayerr.New(gatewayerr.KindValidation, "server", "", "tools accepts at most 20 entries")
	}
	first := req.Messages[0].Role
	if first != canonical.RoleUser && first != canonical.RoleSystem {
		return gatewayerr.New(gatewayerr.KindValidation, "server", "", "the first message's role must be user or system")
	}
	seen := make(map[string]bool)
	for _, m := range req.Messages {
		for _, b := range m.Blocks {
			if b.Type == canonical.BlockToolUse {
				seen[b.ID] = true
			}
		}
	}
	for _, m := range req.Messages {
		for _, b := range m.Blocks {
			if b.Type == canonical.BlockToolResult && !seen[b.ToolUseID] {
				return gatewayerr.New(gatewayerr.KindValidation, "server", "", "tool_result references an id never emitted in a tool_use block")
			}
		}
	}
	if err := toolschema.ValidateToolUses(req); err != nil {
		return gatewayerr.New(gatewayerr.KindValidation, "server", "", "tool_use input failed schema validation: "+err.Error())
	}
	return nil
}

// --- health / status / shutdown -----------------------------------------

// HealthResponse matches spec.md §6's GET /health shape.
type HealthResponse struct {
	Overall   string          `json:"overall"`
	Healthy   int             `json:"healthy"`
	Total     int             `json:"total"`
	Providers map[string]bool `json:"providers"`
	Timestamp time.Time       `json:"timestamp"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	snapshot := s.switchCtl.Snapshot()
	healthy, total := 0, len(snapshot)
	providers := make(map[string]bool, len(s.pipelines))
	for id, rec := range snapshot {
		p, ok := s.pipelines[id]
		if !ok {
			continue
		}
		up := rec.Status == pipeline.StatusHealthy
		providers[p.Blueprint.Provider.Name] = providers[p.Blueprint.Provider.Name] || up
		if up {
			healthy++
		}
	}
	overall := "healthy"
	switch {
	case total > 0 && healthy == 0:
		overall = "unhealthy"
	case healthy < total:
		overall = "degraded"
	}
	writeJSON(w, HealthResponse{Overall: overall, Healthy: healthy, Total: total, Providers: providers, Timestamp: time.Now()})
}

// StatusResponse matches spec.md §6's GET /status shape.
type StatusResponse struct {
	Server       string   `json:"server"`
	Version      string   `json:"version"`
	Architecture string   `json:"architecture"`
	Uptime       string   `json:"uptime"`
	Providers    []string `json:"providers"`
	Debug        bool     `json:"debug"`
	Sessions     int      `json:"sessions"`
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	providerSet := make(map[string]struct{})
	for _, p := range s.pipelines {
		if p.Blueprint != nil && p.Blueprint.Provider != nil {
			providerSet[p.Blueprint.Provider.Name] = struct{}{}
		}
	}
	providers := make([]string, 0, len(providerSet))
	for name := range providerSet {
		providers = append(providers, name)
	}
	writeJSON(w, StatusResponse{
		Server:       "anthropic-gateway",
		Version:      s.version,
		Architecture: "six-layer-pipeline",
		Uptime:       time.Since(s.startTime).String(),
		Providers:    providers,
		Debug:        s.trace != nil,
		Sessions:     s.flowCtl.SessionCount(),
	})
}

func (s *Server) shutdownHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusAccepted)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		s.Shutdown(ctx)
	}()
}

// --- response writing -----------------------------------------------------

// writeStreamError emits the terminal error event for a request that asked
// for SSE (spec.md §7: "a final event error is emitted and the stream closes
// cleanly"), instead of a bare JSON body.
func (s *Server) writeStreamError(w http.ResponseWriter, gerr *gatewayerr.Error) {
	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	writeCanonicalEvent(w, canonical.ErrorEvent(string(gerr.Kind), gerr.Message))
	if flusher != nil {
		flusher.Flush()
	}
}

func (s *Server) writeError(w http.ResponseWriter, gerr *gatewayerr.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(gerr.HTTPStatus())
	json.NewEncoder(w).Encode(map[string]interface{}{
		"type": "error",
		"error": map[string]string{
			"type":    string(gerr.Kind),
			"message": gerr.Message,
		},
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// writeSSE simulates streaming from a single completed response (spec.md
// §4.4: "if the upstream produces non-streaming output but the client asked
// for streaming, the transformer simulates streaming by chunking the
// complete response... with no artificial delay"), emitting the fixed
// message_start..message_stop sequence via canonical's event constructors
// rather than reimplementing the wire shape inline.
func writeSSE(w http.ResponseWriter, resp *canonical.Response) {
	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	writeCanonicalEvent(w, canonical.MessageStart(resp))
	for i, block := range resp.Content {
		writeCanonicalEvent(w, canonical.ContentBlockStart(i, block))
		writeCanonicalEvent(w, deltaForBlock(i, block))
		writeCanonicalEvent(w, canonical.ContentBlockStop(i))
	}
	writeCanonicalEvent(w, canonical.MessageDelta(resp.StopReason, resp.Usage))
	writeCanonicalEvent(w, canonical.MessageStop())
	if flusher != nil {
		flusher.Flush()
	}
}

// deltaForBlock picks the delta shape a block's type carries on the wire:
// tool_use input streams as input_json_delta, everything else as text_delta.
func deltaForBlock(index int, block canonical.ContentBlock) canonical.StreamEvent {
	if block.Type == canonical.BlockToolUse {
		return canonical.InputJSONDelta(index, string(block.Input))
	}
	return canonical.TextDelta(index, block.Text)
}

func writeCanonicalEvent(w http.ResponseWriter, evt canonical.StreamEvent) {
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, evt.Data)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func parseBool(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}
