package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate(t *testing.T) {
	tests := []struct {
		expr string
		want float64
	}{
		{"2 + 2", 4},
		{"2 + 3 * 4", 14},
		{"(2 + 3) * 4", 20},
		{"10 / 4", 2.5},
		{"-3 + 5", 2},
		{"-(2 + 3) * -2", 10},
		{"1.5 * 2", 3},
		{"8 - 2 - 1", 5},
		{"16 / 4 / 2", 2},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := Evaluate(tt.expr)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestEvaluate_Errors(t *testing.T) {
	for _, expr := range []string{"", "2 +", "(1 + 2", "sqrt(16)", "2 ** 3", "1..2 + 1", "alert(1)"} {
		t.Run(expr, func(t *testing.T) {
			_, err := Evaluate(expr)
			assert.Error(t, err)
		})
	}

	_, err := Evaluate("1 / (2 - 2)")
	assert.ErrorIs(t, err, errDivisionByZero)
}

func TestCalculatorTool(t *testing.T) {
	out, err := calculatorTool{}.Execute(context.Background(), json.RawMessage(`{"expression":"6 * 7"}`))
	require.NoError(t, err)
	res := out.(map[string]any)
	assert.Equal(t, true, res["success"])
	assert.Equal(t, "42", res["formattedResult"])

	out, err = calculatorTool{}.Execute(context.Background(), json.RawMessage(`{"expression":"1/0"}`))
	require.NoError(t, err)
	res = out.(map[string]any)
	assert.Equal(t, false, res["success"])
	assert.Contains(t, res["message"], "division by zero")
}

func TestEvaluate_NestingLimit(t *testing.T) {
	deep := strings.Repeat("(", 10000) + "1" + strings.Repeat(")", 10000)
	_, err := Evaluate(deep)
	assert.ErrorIs(t, err, errBadExpression)

	_, err = Evaluate(strings.Repeat("-", 10000) + "1")
	assert.ErrorIs(t, err, errBadExpression)

	v, err := Evaluate(strings.Repeat("(", 100) + "2" + strings.Repeat(")", 100))
	require.NoError(t, err)
	assert.Equal(t, 2.0, v)
}
