package tools

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// CalculatorTool evaluates arithmetic expressions with a small fixed grammar.
// Nothing outside numbers, operators, parentheses and the listed functions
// and constants is accepted.
type CalculatorTool struct{}

func NewCalculatorTool() *CalculatorTool { return &CalculatorTool{} }

func (t *CalculatorTool) Name() string { return "calculator" }

func (t *CalculatorTool) Description() string {
	return "Evaluate an arithmetic expression. Supports + - * / % ^, parentheses, " +
		"sqrt, abs, round, floor, ceil, sin, cos, tan, log, ln, exp, min, max, pow and the constants pi and e."
}

func (t *CalculatorTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"expression": map[string]any{
				"type":        "string",
				"description": "The expression to evaluate, e.g. \"42*137+256\"",
			},
		},
		"required": []string{"expression"},
	}
}

func (t *CalculatorTool) Execute(ctx context.Context, params map[string]any) Result {
	expr := GetString(params, "expression", "")
	if strings.TrimSpace(expr) == "" {
		return Result{"expression": expr, "error": "expression is required"}
	}
	v, err := Evaluate(expr)
	if err != nil {
		return Result{"expression": expr, "error": err.Error()}
	}
	return Result{"expression": expr, "result": v}
}

var (
	errDivisionByZero = errors.New("division by zero")
	errNotFinite      = errors.New("result is not a finite number")
)

// Evaluate parses and evaluates expr.
func Evaluate(expr string) (float64, error) {
	toks, err := lex(expr)
	if err != nil {
		return 0, err
	}
	p := &parser{toks: toks}
	v, err := p.expr()
	if err != nil {
		return 0, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return 0, fmt.Errorf("unexpected %q at position %d", tok.text, tok.pos)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errNotFinite
	}
	return v, nil
}

type tokKind int

const (
	tokEOF tokKind = iota
	tokNum
	tokIdent
	tokOp
	tokLParen
	tokRParen
	tokComma
)

type token struct {
	kind tokKind
	text string
	num  float64
	pos  int
}

func lex(s string) ([]token, error) {
	var toks []token
	runes := []rune(s)
	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case unicode.IsDigit(r) || r == '.':
			start := i
			for i < len(runes) && (unicode.IsDigit(runes[i]) || runes[i] == '.') {
				i++
			}
			// exponent suffix such as 1e3 or 2.5E-4
			if i < len(runes) && (runes[i] == 'e' || runes[i] == 'E') {
				j := i + 1
				if j < len(runes) && (runes[j] == '+' || runes[j] == '-') {
					j++
				}
				if j < len(runes) && unicode.IsDigit(runes[j]) {
					for j < len(runes) && unicode.IsDigit(runes[j]) {
						j++
					}
					i = j
				}
			}
			text := string(runes[start:i])
			n, err := strconv.ParseFloat(text, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid number %q at position %d", text, start)
			}
			toks = append(toks, token{kind: tokNum, text: text, num: n, pos: start})
		case unicode.IsLetter(r):
			start := i
			for i < len(runes) && (unicode.IsLetter(runes[i]) || unicode.IsDigit(runes[i])) {
				i++
			}
			toks = append(toks, token{kind: tokIdent, text: strings.ToLower(string(runes[start:i])), pos: start})
		case r == '*' && i+1 < len(runes) && runes[i+1] == '*':
			toks = append(toks, token{kind: tokOp, text: "^", pos: i})
			i += 2
		case strings.ContainsRune("+-*/%^", r):
			toks = append(toks, token{kind: tokOp, text: string(r), pos: i})
			i++
		case r == '(':
			toks = append(toks, token{kind: tokLParen, text: "(", pos: i})
			i++
		case r == ')':
			toks = append(toks, token{kind: tokRParen, text: ")", pos: i})
			i++
		case r == ',':
			toks = append(toks, token{kind: tokComma, text: ",", pos: i})
			i++
		default:
			return nil, fmt.Errorf("unexpected character %q at position %d", r, i)
		}
	}
	return append(toks, token{kind: tokEOF, text: "end of expression", pos: len(runes)}), nil
}

type parser struct {
	toks []token
	i    int
}

func (p *parser) peek() token { return p.toks[p.i] }

func (p *parser) next() token {
	t := p.toks[p.i]
	if t.kind != tokEOF {
		p.i++
	}
	return t
}

func (p *parser) isOp(ops string) bool {
	t := p.peek()
	return t.kind == tokOp && strings.Contains(ops, t.text)
}

// expr := term (("+" | "-") term)*
func (p *parser) expr() (float64, error) {
	v, err := p.term()
	if err != nil {
		return 0, err
	}
	for p.isOp("+-") {
		op := p.next().text
		rhs, err := p.term()
		if err != nil {
			return 0, err
		}
		if op == "+" {
			v += rhs
		} else {
			v -= rhs
		}
	}
	return v, nil
}

// term := unary (("*" | "/" | "%") unary)*
func (p *parser) term() (float64, error) {
	v, err := p.unary()
	if err != nil {
		return 0, err
	}
	for p.isOp("*/%") {
		op := p.next().text
		rhs, err := p.unary()
		if err != nil {
			return 0, err
		}
		switch op {
		case "*":
			v *= rhs
		case "/":
			if rhs == 0 {
				return 0, errDivisionByZero
			}
			v /= rhs
		case "%":
			if rhs == 0 {
				return 0, errDivisionByZero
			}
			v = math.Mod(v, rhs)
		}
	}
	return v, nil
}

// unary := ("-" | "+") unary | power
func (p *parser) unary() (float64, error) {
	if p.isOp("+-") {
		op := p.next().text
		v, err := p.unary()
		if err != nil {
			return 0, err
		}
		if op == "-" {
			return -v, nil
		}
		return v, nil
	}
	return p.power()
}

// power := primary ("^" unary)?
func (p *parser) power() (float64, error) {
	base, err := p.primary()
	if err != nil {
		return 0, err
	}
	if p.isOp("^") {
		p.next()
		exp, err := p.unary()
		if err != nil {
			return 0, err
		}
		return math.Pow(base, exp), nil
	}
	return base, nil
}

var constants = map[string]float64{
	"pi": math.Pi,
	"e":  math.E,
}

type function struct {
	arity int
	fn    func(args []float64) (float64, error)
}

func unaryFn(f func(float64) float64) function {
	return function{arity: 1, fn: func(a []float64) (float64, error) { return f(a[0]), nil }}
}

var functions = map[string]function{
	"sqrt": {arity: 1, fn: func(a []float64) (float64, error) {
		if a[0] < 0 {
			return 0, errors.New("sqrt of negative number")
		}
		return math.Sqrt(a[0]), nil
	}},
	"abs":   unaryFn(math.Abs),
	"round": unaryFn(math.Round),
	"floor": unaryFn(math.Floor),
	"ceil":  unaryFn(math.Ceil),
	"sin":   unaryFn(math.Sin),
	"cos":   unaryFn(math.Cos),
	"tan":   unaryFn(math.Tan),
	"log":   unaryFn(math.Log10),
	"ln":    unaryFn(math.Log),
	"exp":   unaryFn(math.Exp),
	"min":   {arity: 2, fn: func(a []float64) (float64, error) { return math.Min(a[0], a[1]), nil }},
	"max":   {arity: 2, fn: func(a []float64) (float64, error) { return math.Max(a[0], a[1]), nil }},
	"pow":   {arity: 2, fn: func(a []float64) (float64, error) { return math.Pow(a[0], a[1]), nil }},
}

// primary := number | constant | function "(" args ")" | "(" expr ")"
func (p *parser) primary() (float64, error) {
	tok := p.next()
	switch tok.kind {
	case tokNum:
		return tok.num, nil
	case tokLParen:
		v, err := p.expr()
		if err != nil {
			return 0, err
		}
		if t := p.next(); t.kind != tokRParen {
			return 0, fmt.Errorf("expected ) at position %d", t.pos)
		}
		return v, nil
	case tokIdent:
		if p.peek().kind != tokLParen {
			if c, ok := constants[tok.text]; ok {
				return c, nil
			}
			return 0, fmt.Errorf("unknown identifier %q", tok.text)
		}
		fn, ok := functions[tok.text]
		if !ok {
			return 0, fmt.Errorf("unknown function %q", tok.text)
		}
		p.next()
		args, err := p.args()
		if err != nil {
			return 0, err
		}
		if len(args) != fn.arity {
			return 0, fmt.Errorf("%s expects %d argument(s), got %d", tok.text, fn.arity, len(args))
		}
		return fn.fn(args)
	default:
		return 0, fmt.Errorf("unexpected %q at position %d", tok.text, tok.pos)
	}
}

// args parses a comma separated list up to and including the closing paren.
func (p *parser) args() ([]float64, error) {
	var args []float64
	if p.peek().kind == tokRParen {
		p.next()
		return args, nil
	}
	for {
		v, err := p.expr()
		if err != nil {
			return nil, err
		}
		args = append(args, v)
		switch t := p.next(); t.kind {
		case tokComma:
			continue
		case tokRParen:
			return args, nil
		default:
			return nil, fmt.Errorf("expected , or ) at position %d", t.pos)
		}
	}
}
