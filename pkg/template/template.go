// Package template resolves ${name} placeholders in node configuration
// values against an execution context's variable map.
package template

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/nodeflow-dev/nodeflow/pkg/models"
)

var placeholderPattern = regexp.MustCompile(`\$\{([A-Za-z0-9_.-]+)\}`)

// Resolve substitutes every ${name} occurrence in a string value with the
// stringified variable of that name. Unresolved names are left verbatim;
// non-string values pass through unchanged.
func Resolve(value any, executionCtx *models.ExecutionContext) any {
	str, ok := value.(string)
	if !ok {
		return value
	}

	return ResolveString(str, executionCtx)
}

// ResolveString is Resolve for values already known to be strings.
func ResolveString(input string, executionCtx *models.ExecutionContext) string {
	return placeholderPattern.ReplaceAllStringFunc(input, func(match string) string {
		name := placeholderPattern.FindStringSubmatch(match)[1]

		variable, ok := executionCtx.Variables[name]
		if !ok {
			return match
		}

		return Stringify(variable)
	})
}

// Stringify renders a variable the way it reads in interpolated output.
// Floats that carry integral values (the common case after a JSON decode)
// render without a fractional part.
func Stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}
