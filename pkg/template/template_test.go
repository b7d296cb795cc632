package template_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nodeflow-dev/nodeflow/pkg/models"
	"github.com/nodeflow-dev/nodeflow/pkg/template"
)

func execCtx(variables map[string]any) *models.ExecutionContext {
	return &models.ExecutionContext{Variables: variables}
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name      string
		input     any
		variables map[string]any
		want      any
	}{
		{
			name:      "substitutes multiple placeholders",
			input:     "${a}-${b}",
			variables: map[string]any{"a": 1, "b": "x"},
			want:      "1-x",
		},
		{
			name:      "unresolved placeholder left verbatim",
			input:     "${a}-${c}",
			variables: map[string]any{"a": 1},
			want:      "1-${c}",
		},
		{
			name:      "non-string passes through",
			input:     42,
			variables: map[string]any{"a": 1},
			want:      42,
		},
		{
			name:      "json numbers render without fraction",
			input:     "value=${n}",
			variables: map[string]any{"n": float64(7)},
			want:      "value=7",
		},
		{
			name:      "booleans and nil",
			input:     "${flag}/${empty}",
			variables: map[string]any{"flag": true, "empty": nil},
			want:      "true/",
		},
		{
			name:      "no placeholders",
			input:     "plain text",
			variables: nil,
			want:      "plain text",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := template.Resolve(tt.input, execCtx(tt.variables))
			assert.Equal(t, tt.want, got)
		})
	}
}
