// Package mcp exposes the brief engine as MCP tools over a stdio JSON-RPC
// stream.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/xiy/brief-engine/internal/brief"
	"github.com/xiy/brief-engine/internal/config"
	"github.com/xiy/brief-engine/internal/consolidate"
	"github.com/xiy/brief-engine/internal/memory"
	"github.com/xiy/brief-engine/internal/novelty"
	"github.com/xiy/brief-engine/internal/store"
)

const (
	jsonRPCVersion  = "2.0"
	protocolVersion = "2024-11-05"
	serverVersion   = "0.2.0"
)

// JSON-RPC error codes.
const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
)

// RequestLogSink receives one summary row per handled request.
type RequestLogSink interface {
	InsertMCPRequestLog(ctx context.Context, rec store.MCPRequestLog) error
}

// Deps are the services the tools call into.
type Deps struct {
	Memory        *memory.Service
	Classifier    novelty.Classifier
	Pipeline      *brief.Pipeline
	Feedback      store.FeedbackStore
	Preferences   brief.PreferenceReader
	Consolidator  *consolidate.Consolidator
	Consolidation config.ConsolidationConfig
	RequestLog    RequestLogSink
}

// Server handles MCP JSON-RPC messages.
type Server struct {
	name   string
	deps   Deps
	tools  map[string]tool
	order  []string
	logger *log.Logger
	now    func() time.Time

	requests atomic.Uint64
	failures atomic.Uint64
}

// NewServer registers the tools backed by deps.
func NewServer(name string, deps Deps, logger *log.Logger) *Server {
	s := &Server{
		name:   name,
		deps:   deps,
		tools:  map[string]tool{},
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
	s.registerTools()
	return s
}

type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type response struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      any       `json:"id,omitempty"`
	Result  any       `json:"result,omitempty"`
	Error   *rpcError `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// toolResult is the MCP tools/call result envelope.
type toolResult struct {
	Content           []toolContent `json:"content"`
	StructuredContent any           `json:"structuredContent,omitempty"`
	IsError           bool          `json:"isError"`
}

type toolContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Serve reads requests until EOF or context cancellation.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	c := newCodec(in, out)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		payload, err := c.read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		var req request
		if err := json.Unmarshal(payload, &req); err != nil {
			s.logger.Warn("invalid JSON-RPC request", "err", err)
			resp := errorResponse(nil, codeParseError, "parse error", err.Error())
			s.logRequest(ctx, request{Method: "parse_error"}, resp, 0)
			if err := c.write(resp); err != nil {
				return err
			}
			continue
		}

		started := time.Now()
		resp, reply := s.handle(ctx, req)
		s.logRequest(ctx, req, resp, time.Since(started))
		if !reply {
			continue
		}
		if err := c.write(resp); err != nil {
			return err
		}
	}
}

func (s *Server) handle(ctx context.Context, req request) (response, bool) {
	s.requests.Add(1)
	hasID := len(req.ID) > 0
	id := decodeID(req.ID)
	ok := func(result any) (response, bool) {
		return response{JSONRPC: jsonRPCVersion, ID: id, Result: result}, hasID
	}

	switch req.Method {
	case "notifications/initialized":
		return response{}, false
	case "initialize":
		var p struct {
			ProtocolVersion string `json:"protocolVersion"`
		}
		_ = json.Unmarshal(req.Params, &p)
		pv := strings.TrimSpace(p.ProtocolVersion)
		if pv == "" {
			pv = protocolVersion
		}
		return ok(map[string]any{
			"protocolVersion": pv,
			"capabilities":    map[string]any{"tools": map[string]any{"listChanged": false}},
			"serverInfo":      map[string]any{"name": s.name, "version": serverVersion},
		})
	case "ping":
		return ok(map[string]any{})
	case "tools/list":
		return ok(map[string]any{"tools": s.definitions()})
	case "tools/call":
		return ok(s.callTool(ctx, req.Params))
	}
	if !hasID {
		return response{}, false
	}
	return errorResponse(id, codeMethodNotFound, "method not found", req.Method), true
}

func (s *Server) callTool(ctx context.Context, params json.RawMessage) toolResult {
	var p struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return s.toolError(fmt.Errorf("invalid tools/call params: %w", err))
	}
	t, found := s.tools[p.Name]
	if !found {
		return s.toolError(fmt.Errorf("unknown tool %q", p.Name))
	}
	if len(p.Arguments) == 0 {
		p.Arguments = json.RawMessage(`{}`)
	}
	v, err := t.call(ctx, p.Arguments)
	if err != nil {
		return s.toolError(err)
	}
	text, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return s.toolError(err)
	}
	return toolResult{
		Content:           []toolContent{{Type: "text", Text: string(text)}},
		StructuredContent: v,
	}
}

func (s *Server) toolError(err error) toolResult {
	s.failures.Add(1)
	return toolResult{Content: []toolContent{{Type: "text", Text: err.Error()}}, IsError: true}
}

func (s *Server) logRequest(ctx context.Context, req request, resp response, took time.Duration) {
	if s.deps.RequestLog == nil {
		return
	}
	rec := store.MCPRequestLog{
		Method:     strings.TrimSpace(req.Method),
		ToolName:   toolName(req),
		Success:    true,
		DurationMS: took.Milliseconds(),
		CreatedAt:  s.now(),
	}
	if rec.Method == "" {
		rec.Method = "unknown"
	}
	if r, ok := resp.Result.(toolResult); ok && r.IsError {
		rec.Success = false
		rec.ErrorText = "tool call failed"
		if len(r.Content) > 0 && strings.TrimSpace(r.Content[0].Text) != "" {
			rec.ErrorText = strings.TrimSpace(r.Content[0].Text)
		}
	}
	if resp.Error != nil {
		rec.Success = false
		rec.ErrorText = resp.Error.Message
	}
	if err := s.deps.RequestLog.InsertMCPRequestLog(ctx, rec); err != nil {
		s.logger.Warn("persist request log failed", "err", err)
	}
}

func toolName(req request) string {
	if req.Method != "tools/call" || len(req.Params) == 0 {
		return ""
	}
	var p struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return ""
	}
	return strings.TrimSpace(p.Name)
}

func errorResponse(id any, code int, msg string, data any) response {
	return response{JSONRPC: jsonRPCVersion, ID: id, Error: &rpcError{Code: code, Message: msg, Data: data}}
}

func decodeID(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}

// Snapshot returns server counters for dashboards.
func (s *Server) Snapshot() map[string]any {
	return map[string]any{
		"requests": s.requests.Load(),
		"errors":   s.failures.Load(),
		"ts":       s.now(),
	}
}
