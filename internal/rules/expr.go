package rules

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// exprEngine compiles and caches catalog expression rules. Expressions
// run against the document feature map plus a few promoted fields and
// must yield a boolean verdict (numeric results are treated as triggered
// when > 0).
type exprEngine struct {
	mu       sync.RWMutex
	env      *cel.Env
	programs map[string]cel.Program // keyed by programKey
}

// programKey ties the cached program to the exact expression text, so an
// updated rule recompiles instead of serving the stale program.
func programKey(rule *domain.RiskRule) string {
	return rule.Code + "\x00" + rule.Expression
}

func newExprEngine() (*exprEngine, error) {
	env, err := cel.NewEnv(
		cel.Variable("features", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("currency", cel.StringType),
		cel.Variable("doc_type", cel.StringType),
		cel.Variable("line_count", cel.IntType),
		cel.Variable("counterparty_name", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &exprEngine{
		env:      env,
		programs: make(map[string]cel.Program),
	}, nil
}

// Validate compiles an expression without caching the program.
func (e *exprEngine) Validate(rule *domain.RiskRule) error {
	if rule.Expression == "" {
		return nil
	}
	_, err := e.compile(rule)
	return err
}

// program returns the compiled program for a rule, compiling on first use.
func (e *exprEngine) program(rule *domain.RiskRule) (cel.Program, error) {
	key := programKey(rule)

	e.mu.RLock()
	p, ok := e.programs[key]
	e.mu.RUnlock()
	if ok {
		return p, nil
	}

	p, err := e.compile(rule)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.programs[key] = p
	e.mu.Unlock()
	return p, nil
}

// Evaluate runs the rule's expression against the activation and reports
// whether it triggered.
func (e *exprEngine) Evaluate(rule *domain.RiskRule, doc *domain.Document, features domain.FeatureMap) (bool, error) {
	p, err := e.program(rule)
	if err != nil {
		return false, err
	}

	activation := map[string]any{
		"features":          map[string]any(features),
		"amount":            doc.TotalAmount,
		"currency":          doc.Currency,
		"doc_type":          string(doc.Type),
		"line_count":        len(doc.LineItems),
		"counterparty_name": doc.CounterpartyName,
	}

	out, _, err := p.Eval(activation)
	if err != nil {
		return false, fmt.Errorf("rule %s: evaluation: %w", rule.Code, err)
	}

	return triggered(out), nil
}

// Reset drops all compiled programs, forcing recompilation after a
// catalog reload.
func (e *exprEngine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.programs = make(map[string]cel.Program)
}

func (e *exprEngine) compile(rule *domain.RiskRule) (cel.Program, error) {
	ast, issues := e.env.Compile(rule.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", rule.Code, issues.Err())
	}

	outputType := ast.OutputType()
	if outputType != cel.BoolType && outputType != cel.DoubleType && outputType != cel.IntType {
		return nil, fmt.Errorf("rule %s: expression must return bool, int, or double, got %s", rule.Code, outputType)
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", rule.Code, err)
	}

	return program, nil
}

// triggered converts a CEL result to a boolean verdict.
func triggered(val ref.Val) bool {
	switch v := val.(type) {
	case types.Bool:
		return bool(v)
	case types.Double:
		return float64(v) > 0
	case types.Int:
		return int64(v) > 0
	default:
		return false
	}
}
