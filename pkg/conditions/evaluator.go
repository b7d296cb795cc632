// Package conditions evaluates boolean guard expressions for condition
// nodes and condition-guarded edges.
package conditions

import (
	"encoding/json"
	"log/slog"
	"regexp"

	"github.com/expr-lang/expr"

	"github.com/nodeflow-dev/nodeflow/pkg/models"
)

var placeholderPattern = regexp.MustCompile(`\$\{([A-Za-z0-9_.-]+)\}`)

// Evaluator substitutes ${key} placeholders with the JSON-literal encoding
// of the matching variable, then compiles and runs the resulting text as an
// expr-lang expression. Expressions are restricted to the expr grammar;
// no arbitrary code ever runs against substituted user data.
//
// Any substitution, compile or runtime error yields false, never an error:
// a broken guard means "condition not met".
type Evaluator struct {
	logger *slog.Logger
}

func NewEvaluator(logger *slog.Logger) *Evaluator {
	return &Evaluator{
		logger: logger.With("module", "condition_evaluator"),
	}
}

// Evaluate returns the boolean value of the expression against the
// execution context.
func (e *Evaluator) Evaluate(expression string, executionCtx *models.ExecutionContext) bool {
	substituted := placeholderPattern.ReplaceAllStringFunc(expression, func(match string) string {
		name := placeholderPattern.FindStringSubmatch(match)[1]

		variable, ok := executionCtx.Variables[name]
		if !ok {
			// Unresolved names stay verbatim and fail compilation below.
			return match
		}

		literal, err := json.Marshal(variable)
		if err != nil {
			return match
		}

		return string(literal)
	})

	program, err := expr.Compile(substituted, expr.AsBool())
	if err != nil {
		e.logger.Debug("Condition failed to compile, treating as false",
			"expression", expression, "substituted", substituted, "error", err)

		return false
	}

	result, err := expr.Run(program, nil)
	if err != nil {
		e.logger.Debug("Condition failed to evaluate, treating as false",
			"expression", expression, "error", err)

		return false
	}

	value, ok := result.(bool)
	if !ok {
		return false
	}

	return value
}
