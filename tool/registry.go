package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/muskanTaza/Tazapay-VS-Code-Assistant/tool/rpc"
)

// Caller issues one request and waits for its result. *rpc.Correlator
// satisfies it.
type Caller interface {
	Call(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error)
}

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	Caller   Caller
	Logger   *slog.Logger
	Observer Observer
	Intents  IntentTable
	// Timeout bounds one discovery call. Zero uses the caller's default.
	Timeout time.Duration
}

// Registry holds the tool set most recently advertised by the worker. The
// set is replaced wholesale: a refresh either swaps in a complete new set or
// leaves the previous one in place.
type Registry struct {
	caller   Caller
	logger   *slog.Logger
	observer Observer
	intents  IntentTable
	timeout  time.Duration

	mu          sync.RWMutex
	tools       []Tool
	byName      map[string]int
	refreshedAt time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Intents == nil {
		cfg.Intents = DefaultIntents()
	}
	return &Registry{
		caller:   cfg.Caller,
		logger:   cfg.Logger,
		observer: observerOrNoop(cfg.Observer),
		intents:  cfg.Intents,
		timeout:  cfg.Timeout,
		byName:   map[string]int{},
	}
}

// Refresh asks the worker for its tools and replaces the held set. On any
// failure the previous set is kept and the error is returned.
func (r *Registry) Refresh(ctx context.Context) error {
	if r.caller == nil {
		return newToolError(ErrorCodeInvalidCatalog, "registry has no caller", nil)
	}

	start := time.Now()
	tools, err := r.discover(ctx)
	if err == nil {
		err = r.Replace(tools)
	}

	r.observer.ObserveRefresh(RefreshObservation{
		ToolCount:  len(tools),
		DurationMS: time.Since(start).Milliseconds(),
		Success:    err == nil,
		ErrorCode:  refreshErrorCode(err),
	})

	if err != nil {
		r.logger.Warn("tool.registry.refresh_failed", "error", err, "kept_tools", r.Len())
		return fmt.Errorf("tool: refresh registry: %w", err)
	}
	r.logger.Info("tool.registry.refreshed", "tools", len(tools), "duration", time.Since(start))
	return nil
}

func (r *Registry) discover(ctx context.Context) ([]Tool, error) {
	raw, err := r.caller.Call(ctx, rpc.MethodToolsList, map[string]any{}, r.timeout)
	if err != nil {
		return nil, err
	}

	var result struct {
		Tools *[]rpc.Tool `json:"tools"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, newToolError(ErrorCodeInvalidCatalog, "decode tools/list result", err)
	}
	if result.Tools == nil {
		return nil, newToolError(ErrorCodeInvalidCatalog, "tools/list result has no tools field", nil)
	}

	tools := make([]Tool, 0, len(*result.Tools))
	for _, t := range *result.Tools {
		tools = append(tools, toolFromRPC(t))
	}
	return tools, nil
}

// Replace validates tools and swaps them in as the current set. Names must
// be non-empty and unique.
func (r *Registry) Replace(tools []Tool) error {
	byName := make(map[string]int, len(tools))
	for i, t := range tools {
		name := strings.TrimSpace(t.Name)
		if name == "" {
			return newToolError(ErrorCodeInvalidCatalog, fmt.Sprintf("tool at index %d has no name", i), nil)
		}
		if _, dup := byName[name]; dup {
			return newToolError(ErrorCodeInvalidCatalog, fmt.Sprintf("duplicate tool name %q", name), nil)
		}
		byName[name] = i
	}

	next := cloneTools(tools)
	r.mu.Lock()
	r.tools = next
	r.byName = byName
	r.refreshedAt = time.Now().UTC()
	r.mu.Unlock()
	return nil
}

// Tools returns a copy of the current set in discovery order.
func (r *Registry) Tools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneTools(r.tools)
}

// Len returns the number of tools held.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Lookup returns the tool with the given name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx, ok := r.byName[strings.TrimSpace(name)]
	if !ok {
		return Tool{}, false
	}
	return cloneTool(r.tools[idx]), true
}

// RefreshedAt returns when the current set was installed.
func (r *Registry) RefreshedAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.refreshedAt
}

// FindRelevant ranks tools against free text. Tiers are tried in order and
// the first non-empty tier is returned:
//  1. the tool name appears in the query
//  2. the description contains the query or the query contains it
//  3. the query carries an intent phrase for the tool
//
// Results keep discovery order. An empty query matches nothing.
func (r *Registry) FindRelevant(query string) []Tool {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}
	tools := r.Tools()

	if matched := filterTools(tools, func(t Tool) bool { return nameMatches(t, q) }); len(matched) > 0 {
		return matched
	}
	if matched := filterTools(tools, func(t Tool) bool { return descriptionMatches(t, q) }); len(matched) > 0 {
		return matched
	}
	return filterTools(tools, func(t Tool) bool { return r.intentMatches(t, q) })
}

func (r *Registry) intentMatches(t Tool, q string) bool {
	if r.intents.matches(t.Name, q) {
		return true
	}
	if strings.Contains(q, "balance") {
		return strings.Contains(strings.ToLower(t.Name), "balance") ||
			strings.Contains(strings.ToLower(t.Description), "balance")
	}
	return false
}

func nameMatches(t Tool, q string) bool {
	name := strings.ToLower(t.Name)
	if name == "" {
		return false
	}
	if strings.Contains(q, name) {
		return true
	}
	stripped := alphanumeric(name)
	return stripped != "" && strings.Contains(alphanumeric(q), stripped)
}

func descriptionMatches(t Tool, q string) bool {
	desc := strings.ToLower(strings.TrimSpace(t.Description))
	if desc == "" {
		return false
	}
	return strings.Contains(q, desc) || strings.Contains(desc, q)
}

func filterTools(tools []Tool, keep func(Tool) bool) []Tool {
	var out []Tool
	for _, t := range tools {
		if keep(t) {
			out = append(out, t)
		}
	}
	return out
}

func alphanumeric(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

func refreshErrorCode(err error) string {
	if err == nil {
		return ""
	}
	return ErrorCode(err)
}
