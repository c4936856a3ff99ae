// Copyright 2026 Strand Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package mcptool serves tools from MCP (Model Context Protocol)
// servers. Subprocess servers speak stdio through mcp-go; remote
// servers speak JSON-RPC over HTTP with retries. The connection is
// established lazily on first use.
package mcptool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	strand "github.com/strandai/strand"
	"github.com/strandai/strand/internal/httpclient"
	"github.com/strandai/strand/pkg/event"
	"github.com/strandai/strand/pkg/model"
	"github.com/strandai/strand/pkg/tool"
)

const (
	protocolVersion = "2024-11-05"
	httpTimeout     = 30 * time.Second
)

// Config describes one MCP server connection.
type Config struct {
	// Name identifies the provider and prefixes its log lines.
	Name string

	// URL of an HTTP MCP server. Mutually exclusive with Command.
	URL string

	// Command starts a stdio MCP server subprocess.
	Command string
	Args    []string
	Env     map[string]string

	// MaxRetries for HTTP requests.
	MaxRetries int
}

// Provider serves the tools of one MCP server.
type Provider struct {
	cfg Config

	mu        sync.Mutex
	stdio     *client.Client
	http      *httpclient.Client
	sessionID string
	defs      []model.ToolDefinition
	connected bool
}

// New builds a provider; the server is contacted on first ListTools or
// ExecuteTool.
func New(cfg Config) (*Provider, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("mcp provider needs a name")
	}
	if cfg.URL == "" && cfg.Command == "" {
		return nil, fmt.Errorf("mcp provider %q needs a url or a command", cfg.Name)
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	return &Provider{cfg: cfg}, nil
}

// Name implements tool.Provider.
func (p *Provider) Name() string { return p.cfg.Name }

// ListTools implements tool.Provider.
func (p *Provider) ListTools(ctx context.Context) ([]model.ToolDefinition, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ensureConnected(ctx); err != nil {
		return nil, err
	}
	out := make([]model.ToolDefinition, len(p.defs))
	copy(out, p.defs)
	return out, nil
}

// GetTool implements tool.Provider.
func (p *Provider) GetTool(ctx context.Context, name string) (*model.ToolDefinition, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ensureConnected(ctx); err != nil {
		return nil, err
	}
	for _, def := range p.defs {
		if def.Name == name {
			d := def
			return &d, nil
		}
	}
	return nil, nil
}

// ExecuteTool implements tool.Provider.
func (p *Provider) ExecuteTool(ctx context.Context, call event.ToolCall, ec tool.ExecContext) iter.Seq2[event.Event, error] {
	return func(yield func(event.Event, error) bool) {
		result, callErr, err := p.call(ctx, call.Name, call.Arguments)
		if err != nil {
			yield(event.Event{}, err)
			return
		}
		if callErr != "" {
			yield(tool.CompleteEvent(ec, tool.Result{
				ToolCallID: call.ID,
				ToolName:   call.Name,
				Success:    false,
				Error:      callErr,
			}), nil)
			return
		}
		yield(tool.CompleteEvent(ec, tool.Result{
			ToolCallID: call.ID,
			ToolName:   call.Name,
			Success:    true,
			Result:     result,
		}), nil)
	}
}

// Close shuts the connection down.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = false
	p.defs = nil
	p.http = nil
	if p.stdio != nil {
		err := p.stdio.Close()
		p.stdio = nil
		return err
	}
	return nil
}

// ensureConnected connects and caches the tool list. Callers hold
// p.mu.
func (p *Provider) ensureConnected(ctx context.Context) error {
	if p.connected {
		return nil
	}
	var err error
	if p.cfg.Command != "" {
		err = p.connectStdio(ctx)
	} else {
		err = p.connectHTTP(ctx)
	}
	if err != nil {
		return fmt.Errorf("mcp %s: %w", p.cfg.Name, err)
	}
	p.connected = true
	return nil
}

func (p *Provider) connectStdio(ctx context.Context) error {
	env := make([]string, 0, len(p.cfg.Env))
	for k, v := range p.cfg.Env {
		env = append(env, k+"="+v)
	}
	mcpClient, err := client.NewStdioMCPClient(p.cfg.Command, env, p.cfg.Args...)
	if err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	if err := mcpClient.Start(ctx); err != nil {
		_ = mcpClient.Close()
		return fmt.Errorf("start client: %w", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{Name: "strand", Version: strand.Version}
	initReq.Params.ProtocolVersion = protocolVersion
	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		_ = mcpClient.Close()
		return fmt.Errorf("initialize: %w", err)
	}

	listResp, err := mcpClient.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		_ = mcpClient.Close()
		return fmt.Errorf("list tools: %w", err)
	}
	defs := make([]model.ToolDefinition, 0, len(listResp.Tools))
	for _, t := range listResp.Tools {
		defs = append(defs, model.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  schemaToMap(t.InputSchema),
		})
	}

	p.stdio = mcpClient
	p.defs = defs
	return nil
}

func (p *Provider) connectHTTP(ctx context.Context) error {
	p.http = httpclient.New(httpTimeout, p.cfg.MaxRetries)

	initResp, err := p.rpc(ctx, "initialize", map[string]any{
		"protocolVersion": protocolVersion,
		"clientInfo":      map[string]any{"name": "strand", "version": strand.Version},
		"capabilities":    map[string]any{},
	})
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	if initResp.Error != nil {
		return fmt.Errorf("initialize: %s", initResp.Error.Message)
	}

	listResp, err := p.rpc(ctx, "tools/list", nil)
	if err != nil {
		return fmt.Errorf("list tools: %w", err)
	}
	if listResp.Error != nil {
		return fmt.Errorf("list tools: %s", listResp.Error.Message)
	}

	var parsed struct {
		Tools []struct {
			Name        string         `json:"name"`
			Description string         `json:"description"`
			InputSchema map[string]any `json:"inputSchema"`
		} `json:"tools"`
	}
	if err := remarshal(listResp.Result, &parsed); err != nil {
		return fmt.Errorf("list tools: %w", err)
	}
	defs := make([]model.ToolDefinition, 0, len(parsed.Tools))
	for _, t := range parsed.Tools {
		defs = append(defs, model.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.InputSchema,
		})
	}
	p.defs = defs
	return nil
}

// call runs one tool. callErr carries server-reported tool failures;
// err carries transport failures.
func (p *Provider) call(ctx context.Context, name string, args map[string]any) (result any, callErr string, err error) {
	p.mu.Lock()
	if cerr := p.ensureConnected(ctx); cerr != nil {
		p.mu.Unlock()
		return nil, "", cerr
	}
	stdio := p.stdio
	p.mu.Unlock()

	if stdio != nil {
		req := mcp.CallToolRequest{}
		req.Params.Name = name
		req.Params.Arguments = args
		resp, err := stdio.CallTool(ctx, req)
		if err != nil {
			return nil, "", fmt.Errorf("mcp %s: call %s: %w", p.cfg.Name, name, err)
		}
		texts := textContents(resp.Content)
		if resp.IsError {
			return nil, firstOr(texts, "tool reported an error"), nil
		}
		return joined(texts), "", nil
	}

	resp, err := p.rpc(ctx, "tools/call", map[string]any{"name": name, "arguments": args})
	if err != nil {
		return nil, "", fmt.Errorf("mcp %s: call %s: %w", p.cfg.Name, name, err)
	}
	if resp.Error != nil {
		return nil, resp.Error.Message, nil
	}

	var parsed struct {
		IsError bool `json:"isError"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := remarshal(resp.Result, &parsed); err != nil {
		return resp.Result, "", nil
	}
	var texts []string
	for _, c := range parsed.Content {
		if c.Type == "text" {
			texts = append(texts, c.Text)
		}
	}
	if parsed.IsError {
		return nil, firstOr(texts, "tool reported an error"), nil
	}
	return joined(texts), "", nil
}

type rpcResponse struct {
	Result any `json:"result,omitempty"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (p *Provider) rpc(ctx context.Context, method string, params any) (*rpcResponse, error) {
	body, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  params,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	p.mu.Lock()
	if p.sessionID != "" {
		req.Header.Set("Mcp-Session-Id", p.sessionID)
	}
	httpClient := p.http
	p.mu.Unlock()

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if sid := resp.Header.Get("Mcp-Session-Id"); sid != "" {
		p.mu.Lock()
		p.sessionID = sid
		p.mu.Unlock()
	}
	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") {
		raw = firstSSEData(raw)
		if raw == nil {
			return nil, fmt.Errorf("event stream ended without a message")
		}
	}

	var out rpcResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}

// firstSSEData extracts the first event's data payload from an SSE
// body.
func firstSSEData(raw []byte) []byte {
	var data []byte
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			if len(data) > 0 {
				return data
			}
			continue
		}
		if payload, ok := strings.CutPrefix(line, "data:"); ok {
			data = append(data, strings.TrimSpace(payload)...)
		}
	}
	if len(data) > 0 {
		return data
	}
	return nil
}

func textContents(content []mcp.Content) []string {
	var out []string
	for _, c := range content {
		if text, ok := c.(mcp.TextContent); ok {
			out = append(out, text.Text)
		}
	}
	return out
}

func firstOr(texts []string, fallback string) string {
	if len(texts) > 0 {
		return texts[0]
	}
	return fallback
}

func joined(texts []string) any {
	switch len(texts) {
	case 0:
		return ""
	case 1:
		return texts[0]
	default:
		return texts
	}
}

func schemaToMap(schema mcp.ToolInputSchema) map[string]any {
	raw, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{"type": "object"}
	}
	return out
}

func remarshal(in any, out any) error {
	raw, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

var _ tool.Provider = (*Provider)(nil)
