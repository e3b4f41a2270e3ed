package syncqueue

import (
	"strings"

	"github.com/google/cel-go/cel"
)

// Filter wraps a compiled CEL program evaluated against queue rows when
// listing. When the expression is empty, Match always returns true.
//
// Available variables: kind, tenant_id, user_id, device_id, state,
// last_error, attempt_count, enqueued_at_ns, now_ms.
type Filter struct {
	prog    cel.Program
	enabled bool
}

// NewFilter compiles a row filter expression.
func NewFilter(expr string) (Filter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Filter{enabled: false}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("kind", cel.StringType),
		cel.Variable("tenant_id", cel.StringType),
		cel.Variable("user_id", cel.StringType),
		cel.Variable("device_id", cel.StringType),
		cel.Variable("state", cel.StringType),
		cel.Variable("last_error", cel.StringType),
		cel.Variable("attempt_count", cel.IntType),
		cel.Variable("enqueued_at_ns", cel.IntType),
		cel.Variable("now_ms", cel.IntType),
	)
	if err != nil {
		return Filter{}, err
	}
	ast, iss := env.Parse(expr)
	if iss != nil && iss.Err() != nil {
		return Filter{}, iss.Err()
	}
	checked, iss2 := env.Check(ast)
	if iss2 != nil && iss2.Err() != nil {
		return Filter{}, iss2.Err()
	}
	prog, err := env.Program(checked)
	if err != nil {
		return Filter{}, err
	}
	return Filter{prog: prog, enabled: true}, nil
}

// Match evaluates the filter against a row. Evaluation errors count as
// non-matches.
func (f Filter) Match(item Item, nowMs int64) bool {
	if !f.enabled {
		return true
	}
	out, _, err := f.prog.Eval(map[string]any{
		"kind":           item.Kind,
		"tenant_id":      item.TenantID,
		"user_id":        item.UserID,
		"device_id":      item.DeviceID,
		"state":          string(item.State),
		"last_error":     item.LastError,
		"attempt_count":  int64(item.AttemptCount),
		"enqueued_at_ns": item.EnqueuedAtNs,
		"now_ms":         nowMs,
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
