package env

import (
	"fmt"
	"log/slog"
	"maps"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/abdul-hamid-achik/courier/packages/core/logging"
)

var variablePattern = regexp.MustCompile(`\{\{([^}]+)\}\}`)

// Resolver substitutes placeholders with variables, environment values and
// generated values. It is safe for concurrent use.
type Resolver struct {
	mu        sync.RWMutex
	variables map[string]string
	funcs     map[string]Func
	logger    *slog.Logger
}

// NewResolver returns a resolver with the default functions registered.
func NewResolver() *Resolver {
	return &Resolver{
		variables: make(map[string]string),
		funcs:     defaultFuncs(),
		logger:    logging.Nop(),
	}
}

// WithLogger sets the logger unresolved placeholders are reported to.
func (r *Resolver) WithLogger(logger *slog.Logger) *Resolver {
	if logger != nil {
		r.logger = logger
	}
	return r
}

func (r *Resolver) Set(name, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.variables[name] = value
}

func (r *Resolver) SetAll(vars map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	maps.Copy(r.variables, vars)
}

// Register adds or replaces a generator function.
func (r *Resolver) Register(name string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[name] = fn
}

// ParseAssignments sets variables from NAME=value pairs.
func (r *Resolver) ParseAssignments(pairs []string) error {
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return fmt.Errorf("invalid variable %q, expected NAME=value", pair)
		}
		r.Set(name, value)
	}
	return nil
}

// Resolve replaces every placeholder in input it can resolve.
func (r *Resolver) Resolve(input string) string {
	return variablePattern.ReplaceAllStringFunc(input, func(match string) string {
		expr := strings.TrimSpace(match[2 : len(match)-2])
		if v, ok := r.lookup(expr); ok {
			return v
		}
		r.logger.Warn("unresolved placeholder", "placeholder", match)
		return match
	})
}

// ResolveAll resolves every value of values into a new map.
func (r *Resolver) ResolveAll(values map[string]string) map[string]string {
	if values == nil {
		return nil
	}
	result := make(map[string]string, len(values))
	for k, v := range values {
		result[k] = r.Resolve(v)
	}
	return result
}

// Unresolved lists the placeholders in input that Resolve would leave alone.
func (r *Resolver) Unresolved(input string) []string {
	var missing []string
	for _, m := range variablePattern.FindAllStringSubmatch(input, -1) {
		if _, ok := r.lookup(strings.TrimSpace(m[1])); !ok {
			missing = append(missing, m[0])
		}
	}
	return missing
}

func (r *Resolver) lookup(expr string) (string, bool) {
	if name, ok := strings.CutPrefix(expr, "$"); ok {
		return os.LookupEnv(name)
	}
	if strings.Contains(expr, "(") {
		return r.call(expr)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.variables[expr]
	return v, ok
}
