package formula

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func errorCode(t *testing.T, err error) ErrorCode {
	t.Helper()
	var fe *Error
	require.True(t, errors.As(err, &fe), "expected *formula.Error, got %T", err)
	return fe.Code
}

func TestParseAndEvaluate(t *testing.T) {
	scope := MapScope{"odds": 4, "form_rating": 50, "popularity_rank": 2}

	tests := []struct {
		name    string
		formula string
		want    float64
	}{
		{"literal", "42", 42},
		{"precedence", "1 + 2 * 3", 7},
		{"parentheses", "(1 + 2) * 3", 9},
		{"left associative", "10 - 4 - 3", 3},
		{"division", "1 / odds", 0.25},
		{"unary minus", "-odds + 10", 6},
		{"double negation", "--odds", 4},
		{"decimal literal", ".5 * odds", 2},
		{"exponent literal", "1e2 / odds", 25},
		{"min", "min(odds, popularity_rank, 3)", 2},
		{"max", "max(odds, form_rating)", 50},
		{"abs", "abs(-3.5)", 3.5},
		{"floor", "floor(2.7)", 2},
		{"ceil", "ceil(2.1)", 3},
		{"round", "round(2.5)", 3},
		{"sqrt", "sqrt(odds)", 2},
		{"composite", "1 / odds + 0.01 * max(form_rating, 0)", 0.75},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expr, err := Parse(tt.formula)
			require.NoError(t, err)
			got, err := expr.Evaluate(scope)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name    string
		formula string
		code    ErrorCode
	}{
		{"empty", "   ", CodeSyntax},
		{"unknown variable", "odds + secret", CodeDisallowedVariable},
		{"unknown function", "exp(odds)", CodeDisallowedFunction},
		{"assignment", "odds = 3", CodeSyntax},
		{"property access", "odds.constructor", CodeSyntax},
		{"index access", "odds[0]", CodeSyntax},
		{"loop keyword", "while (1) odds", CodeSyntax},
		{"string literal", "\"abc\"", CodeSyntax},
		{"statement separator", "odds; odds", CodeSyntax},
		{"unbalanced parens", "(odds + 1", CodeSyntax},
		{"trailing operator", "odds +", CodeSyntax},
		{"dangling close", "odds)", CodeSyntax},
		{"bare function name", "sqrt + 1", CodeSyntax},
		{"too few args", "min(odds)", CodeSyntax},
		{"too many args", "abs(1, 2)", CodeSyntax},
		{"malformed number", "1.2.3", CodeSyntax},
		{"number glued to ident", "2odds", CodeSyntax},
		{"too long", strings.Repeat("1+", 100) + "1", CodeTooLong},
		{"too deep", strings.Repeat("(", 40) + "1" + strings.Repeat(")", 40), CodeSyntax},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.formula)
			require.Error(t, err)
			assert.Equal(t, tt.code, errorCode(t, err))
		})
	}
}

func TestParseAcceptsMaxLength(t *testing.T) {
	src := strings.Repeat("1+", 99) + "10"
	require.Len(t, src, MaxLength)

	expr, err := Parse(src)
	require.NoError(t, err)
	got, err := expr.Evaluate(nil)
	require.NoError(t, err)
	assert.Equal(t, 109.0, got)
}

func TestEvaluateRuntimeErrors(t *testing.T) {
	tests := []struct {
		name    string
		formula string
		scope   MapScope
	}{
		{"missing variable", "odds * 2", MapScope{}},
		{"division by zero", "1 / (odds - 2)", MapScope{"odds": 2}},
		{"negative sqrt", "sqrt(odds - 10)", MapScope{"odds": 2}},
		{"overflow", "odds * odds", MapScope{"odds": 1e200}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expr, err := Parse(tt.formula)
			require.NoError(t, err)
			_, err = expr.Evaluate(tt.scope)
			require.Error(t, err)
			assert.Equal(t, CodeRuntime, errorCode(t, err))
		})
	}
}

func TestVariables(t *testing.T) {
	expr, err := Parse("odds * form_rating + odds / max(draw, 1)")
	require.NoError(t, err)
	assert.Equal(t, []string{"draw", "form_rating", "odds"}, expr.Variables())
	assert.Equal(t, "odds * form_rating + odds / max(draw, 1)", expr.Source())
}

func TestErrorMessageCarriesPosition(t *testing.T) {
	_, err := Parse("odds + nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DISALLOWED_VARIABLE")
	assert.Contains(t, err.Error(), "position 7")
}

func TestExpressionConcurrentUse(t *testing.T) {
	expr, err := Parse("odds * 2 + popularity_rank")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n float64) {
			defer wg.Done()
			got, err := expr.Evaluate(MapScope{"odds": n, "popularity_rank": 1})
			assert.NoError(t, err)
			assert.Equal(t, n*2+1, got)
		}(float64(i))
	}
	wg.Wait()
}
