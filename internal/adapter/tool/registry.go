package tool

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"nu-mcp/internal/domain"
)

// Registry holds named tools.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]domain.Tool
	audit  domain.AuditLogger
	logger *slog.Logger
}

// NewRegistry creates an empty tool registry. Registered tools are wrapped
// with schema validation and, when audit is non-nil, with an audit trail.
func NewRegistry(logger *slog.Logger, audit domain.AuditLogger) *Registry {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Registry{
		tools:  make(map[string]domain.Tool),
		audit:  audit,
		logger: logger,
	}
}

// Register adds a tool. Returns error if name already registered.
// If schema compilation fails, the tool is registered without validation
// and a warning is logged.
func (r *Registry) Register(t domain.Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := t.Name()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}

	wrapped, err := WithSchemaValidation(t)
	if err != nil {
		r.logger.Warn("schema validation disabled for tool", "tool", name, "error", err)
	} else {
		t = wrapped
	}
	if r.audit != nil {
		t = WithAudit(t, r.audit, r.logger)
	}

	r.tools[name] = t
	return nil
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (domain.Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tools[name]
	if !ok {
		return nil, domain.NewDomainError("Registry.Get", domain.ErrToolNotFound, name)
	}
	return t, nil
}

// List returns all registered tools ordered by name.
func (r *Registry) List() []domain.Tool {
	r.mu.RLock()
	tools := make([]domain.Tool, 0, len(r.tools))
	for _, t := range r.tools {
		tools = append(tools, t)
	}
	r.mu.RUnlock()

	slices.SortFunc(tools, func(a, b domain.Tool) int { return strings.Compare(a.Name(), b.Name()) })
	return tools
}

// Schemas returns all tool schemas ordered by name.
func (r *Registry) Schemas() []domain.ToolSchema {
	tools := r.List()
	schemas := make([]domain.ToolSchema, 0, len(tools))
	for _, t := range tools {
		schemas = append(schemas, t.Schema())
	}
	return schemas
}
