package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var (
	errDivisionByZero = errors.New("division by zero")
	errBadExpression  = errors.New("invalid mathematical expression")
)

// maxNesting bounds parentheses and unary signs.
const maxNesting = 256

type calculatorTool struct{}

func (calculatorTool) Name() string        { return "calculator" }
func (calculatorTool) Description() string { return "Perform mathematical calculations" }
func (calculatorTool) Parameters() map[string]any {
	return schema([]string{"expression"}, map[string]any{
		"expression": prop("string", "Arithmetic expression to evaluate (e.g., '2 + 2', '(3 * 4) / 2')"),
	})
}

func (calculatorTool) Execute(_ context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		Expression string `json:"expression"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}

	result, err := Evaluate(args.Expression)
	if err != nil {
		return failure("Calculation failed: "+err.Error(), map[string]any{"expression": args.Expression}), nil
	}
	return map[string]any{
		"success":         true,
		"message":         "Calculation completed",
		"expression":      args.Expression,
		"result":          result,
		"formattedResult": strconv.FormatFloat(result, 'f', -1, 64),
	}, nil
}

// Evaluate computes an arithmetic expression over numbers, + - * /, unary
// minus and parentheses. Any other character is rejected.
func Evaluate(expr string) (float64, error) {
	for _, r := range expr {
		if !strings.ContainsRune("0123456789+-*/(). \t", r) {
			return 0, fmt.Errorf("%w: unexpected character %q", errBadExpression, r)
		}
	}
	p := &exprParser{src: strings.Join(strings.Fields(expr), "")}
	if p.src == "" {
		return 0, errBadExpression
	}
	v, err := p.parseSum()
	if err != nil {
		return 0, err
	}
	if p.pos != len(p.src) {
		return 0, fmt.Errorf("%w: unexpected %q at position %d", errBadExpression, p.src[p.pos], p.pos)
	}
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, fmt.Errorf("result is not a valid number")
	}
	return v, nil
}

type exprParser struct {
	src   string
	pos   int
	depth int
}

func (p *exprParser) peek() byte {
	if p.pos < len(p.src) {
		return p.src[p.pos]
	}
	return 0
}

// sum := product (('+'|'-') product)*
func (p *exprParser) parseSum() (float64, error) {
	v, err := p.parseProduct()
	if err != nil {
		return 0, err
	}
	for {
		op := p.peek()
		if op != '+' && op != '-' {
			return v, nil
		}
		p.pos++
		rhs, err := p.parseProduct()
		if err != nil {
			return 0, err
		}
		if op == '+' {
			v += rhs
		} else {
			v -= rhs
		}
	}
}

// product := unary (('*'|'/') unary)*
func (p *exprParser) parseProduct() (float64, error) {
	v, err := p.parseUnary()
	if err != nil {
		return 0, err
	}
	for {
		op := p.peek()
		if op != '*' && op != '/' {
			return v, nil
		}
		p.pos++
		rhs, err := p.parseUnary()
		if err != nil {
			return 0, err
		}
		if op == '*' {
			v *= rhs
			continue
		}
		if rhs == 0 {
			return 0, errDivisionByZero
		}
		v /= rhs
	}
}

// unary := ('+'|'-') unary | primary
func (p *exprParser) parseUnary() (float64, error) {
	p.depth++
	defer func() { p.depth-- }()
	if p.depth > maxNesting {
		return 0, fmt.Errorf("%w: nested too deeply", errBadExpression)
	}
	switch p.peek() {
	case '-':
		p.pos++
		v, err := p.parseUnary()
		return -v, err
	case '+':
		p.pos++
		return p.parseUnary()
	}
	return p.parsePrimary()
}

// primary := number | '(' sum ')'
func (p *exprParser) parsePrimary() (float64, error) {
	if p.peek() == '(' {
		p.pos++
		v, err := p.parseSum()
		if err != nil {
			return 0, err
		}
		if p.peek() != ')' {
			return 0, fmt.Errorf("%w: missing closing parenthesis", errBadExpression)
		}
		p.pos++
		return v, nil
	}

	start := p.pos
	for p.pos < len(p.src) && (p.src[p.pos] == '.' || (p.src[p.pos] >= '0' && p.src[p.pos] <= '9')) {
		p.pos++
	}
	if start == p.pos {
		return 0, fmt.Errorf("%w: expected a number at position %d", errBadExpression, start)
	}
	v, err := strconv.ParseFloat(p.src[start:p.pos], 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad number %q", errBadExpression, p.src[start:p.pos])
	}
	return v, nil
}
