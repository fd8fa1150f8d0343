// Package condition compiles and evaluates expr-lang boolean expressions.
//
// Two environments are supported. World expressions see the agent's world
// through helper functions plus every blackboard variable whose key is a
// valid identifier:
//
//	need("energy") == "low" && count("cube") > 0 && !busy
//
// Value expressions see a single variable, value, and are used to match one
// blackboard entry:
//
//	value > 3 && value < 10
//
// Compiled programs are shared through a bounded LRU cache.
package condition

import (
	"errors"
	"fmt"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// ErrEmpty is returned when compiling an empty expression.
var ErrEmpty = errors.New("condition: empty expression")

var programs = NewCache(DefaultCacheSize)

// Programs returns the shared program cache.
func Programs() *Cache { return programs }

// Kind selects the evaluation environment.
type Kind uint8

const (
	// World expressions evaluate against a World environment.
	World Kind = iota
	// Value expressions evaluate against a single value.
	Value
)

func (k Kind) String() string {
	if k == Value {
		return "value"
	}
	return "world"
}

// Queries is the read-only view of the world that world expressions use.
type Queries interface {
	NeedBracket(need string) string
	Mood(dimension string) float64
	ObjectCount(kind string) int
	Variable(key string) (any, bool)
	Snapshot() map[string]any
}

// ValueEnv is the environment of a value expression.
type ValueEnv struct {
	Value any `expr:"value"`
}

func worldPrototype() map[string]any {
	return map[string]any{
		"need":  func(string) string { return "" },
		"mood":  func(string) float64 { return 0 },
		"count": func(string) int { return 0 },
		"get":   func(string) any { return nil },
		"tick":  0,
		"now":   0.0,
	}
}

// WorldEnv builds the environment for a world expression. Variables are
// added first so that the helper names always refer to the helpers.
func WorldEnv(q Queries, tick uint64, now time.Duration) map[string]any {
	env := q.Snapshot()
	if env == nil {
		env = make(map[string]any, 6)
	}
	env["need"] = q.NeedBracket
	env["mood"] = q.Mood
	env["count"] = q.ObjectCount
	env["get"] = func(key string) any {
		v, _ := q.Variable(key)
		return v
	}
	env["tick"] = int(tick)
	env["now"] = now.Seconds()
	return env
}

// Expression is a compiled boolean expression.
type Expression struct {
	source  string
	kind    Kind
	program *vm.Program
}

// Compile compiles source for kind, reusing a cached program if one exists.
func Compile(kind Kind, source string) (*Expression, error) {
	if source == "" {
		return nil, ErrEmpty
	}
	key := kind.String() + "\x00" + source
	if program, ok := programs.Get(key); ok {
		return &Expression{source: source, kind: kind, program: program}, nil
	}

	var env any = worldPrototype()
	if kind == Value {
		env = ValueEnv{}
	}
	program, err := expr.Compile(source,
		expr.Env(env),
		expr.AsBool(),
		expr.AllowUndefinedVariables(),
	)
	if err != nil {
		return nil, fmt.Errorf("condition: compile %s expression %q: %w", kind, source, err)
	}
	programs.Put(key, program)
	return &Expression{source: source, kind: kind, program: program}, nil
}

// MustCompile is like Compile but panics on error. For tests and static
// expressions.
func MustCompile(kind Kind, source string) *Expression {
	e, err := Compile(kind, source)
	if err != nil {
		panic(err)
	}
	return e
}

// Source returns the expression text.
func (e *Expression) Source() string { return e.source }

// Kind returns the environment kind the expression was compiled for.
func (e *Expression) Kind() Kind { return e.kind }

// Eval runs the expression against env, which must be a map from WorldEnv
// for World expressions or a ValueEnv for Value expressions.
func (e *Expression) Eval(env any) (bool, error) {
	out, err := expr.Run(e.program, env)
	if err != nil {
		return false, fmt.Errorf("condition: evaluate %q: %w", e.source, err)
	}
	b, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("condition: %q returned %T, not bool", e.source, out)
	}
	return b, nil
}

// Match evaluates a Value expression against v.
func (e *Expression) Match(v any) (bool, error) {
	return e.Eval(ValueEnv{Value: v})
}
