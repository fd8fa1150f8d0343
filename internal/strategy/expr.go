package strategy

import (
	"log/slog"

	"github.com/joeycumines/conduct/internal/condition"
)

// Expr evaluates expr-lang world expressions. An evaluation error is logged
// and treated as false.
type Expr struct {
	Nop
	start  *condition.Expression
	end    *condition.Expression
	logger *slog.Logger
}

// NewExpr compiles start and, if non-empty, end.
func NewExpr(start, end string, logger *slog.Logger) (*Expr, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s, err := condition.Compile(condition.World, start)
	if err != nil {
		return nil, err
	}
	e := &Expr{Nop: Nop{Label: "expr"}, start: s, logger: logger}
	if end != "" {
		if e.end, err = condition.Compile(condition.World, end); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func (e *Expr) eval(env Env, x *condition.Expression) bool {
	ok, err := x.Eval(condition.WorldEnv(env.Queries(), env.Tick(), env.Now()))
	if err != nil {
		e.logger.Warn("strategy expression failed", slog.String("expression", x.Source()), slog.Any("error", err))
		return false
	}
	return ok
}

// WantsToStart implements Strategy.
func (e *Expr) WantsToStart(env Env) bool { return e.eval(env, e.start) }

// WantsToEnd implements Strategy.
func (e *Expr) WantsToEnd(env Env) bool { return e.end != nil && e.eval(env, e.end) }
