package policy

import (
	"fmt"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/decls"
	"github.com/google/cel-go/common/types"

	"github.com/agentis-labs/paygate/pkg/money"
)

// guardProgram is a compiled per-principal CEL guard expression.
// Guards see a small, stable attribute set; anything richer belongs in an
// external policy decision point, not here.
type guardProgram struct {
	prg cel.Program
	src string
}

func guardEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.VariableDecls(
			decls.NewVariable("principal", types.StringType),
			decls.NewVariable("counterparty", types.StringType),
			decls.NewVariable("amount_minor", types.IntType),
			decls.NewVariable("currency", types.StringType),
			decls.NewVariable("hour", types.IntType),
		),
	)
}

func compileGuard(source string) (*guardProgram, error) {
	env, err := guardEnv()
	if err != nil {
		return nil, fmt.Errorf("guard env: %w", err)
	}
	ast, issues := env.Compile(source)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("guard compilation failed: %w", issues.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("guard program construction failed: %w", err)
	}
	return &guardProgram{prg: prg, src: source}, nil
}

// eval runs the guard. A non-boolean result is an error (fail closed at the
// call site).
func (g *guardProgram) eval(principal, counterparty string, amount money.Money, local time.Time) (bool, error) {
	out, _, err := g.prg.Eval(map[string]any{
		"principal":    principal,
		"counterparty": counterparty,
		"amount_minor": amount.AmountMinor,
		"currency":     amount.Currency,
		"hour":         local.Hour(),
	})
	if err != nil {
		return false, fmt.Errorf("guard eval: %w", err)
	}
	allowed, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("guard %q did not evaluate to bool", g.src)
	}
	return allowed, nil
}
