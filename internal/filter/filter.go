// Package filter compiles an optional CEL expression that decides whether an
// event is kept. Events for which the expression is false are dropped before
// they reach the outbox.
//
// Variables available to expressions:
//
//	name          event name
//	event_type    event type name ("Navigation", "Transaction", ...)
//	message_type  wire message type ("e", "pv", "cm", ...)
//	attrs         custom attributes (map)
//	now_ms        current time in milliseconds
//
// Example: `message_type != "e" || !name.startsWith("debug_")`.
package filter

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/cel-go/cel"
)

// Input is what an expression is evaluated against.
type Input struct {
	Name        string
	EventType   string
	MessageType string
	Attrs       map[string]any
}

// Filter wraps a compiled CEL program. The zero value keeps everything.
type Filter struct {
	expr    string
	prog    cel.Program
	enabled bool
}

// Compile parses and type-checks expr. An empty expression yields a
// disabled filter.
func Compile(expr string) (Filter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Filter{}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("name", cel.StringType),
		cel.Variable("event_type", cel.StringType),
		cel.Variable("message_type", cel.StringType),
		cel.Variable("attrs", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("now_ms", cel.IntType),
	)
	if err != nil {
		return Filter{}, err
	}
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return Filter{}, fmt.Errorf("filter: compile %q: %w", expr, iss.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return Filter{}, fmt.Errorf("filter: %q must evaluate to bool, got %s", expr, ast.OutputType())
	}
	prog, err := env.Program(ast)
	if err != nil {
		return Filter{}, err
	}
	return Filter{expr: expr, prog: prog, enabled: true}, nil
}

// Enabled reports whether an expression is set.
func (f Filter) Enabled() bool { return f.enabled }

// String returns the source expression.
func (f Filter) String() string { return f.expr }

// Keep evaluates the expression. Evaluation errors drop the event.
func (f Filter) Keep(in Input) bool {
	if !f.enabled {
		return true
	}
	attrs := in.Attrs
	if attrs == nil {
		attrs = map[string]any{}
	}
	out, _, err := f.prog.Eval(map[string]any{
		"name":         in.Name,
		"event_type":   in.EventType,
		"message_type": in.MessageType,
		"attrs":        attrs,
		"now_ms":       time.Now().UnixMilli(),
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
