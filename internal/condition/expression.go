package condition

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// -----------------------------------------------------------------------
// Textual syntax
//
//	or_expr    = and_expr { "OR" and_expr }
//	and_expr   = not_expr { "AND" not_expr }
//	not_expr   = "NOT" not_expr | "(" or_expr ")" | "TRUE" | "FALSE" | comparison
//	comparison = field operator [ operand ]
//	operand    = string | number | bool | "[" operand { "," operand } "]"
//
// Operators are the operator names (equals, startsWith, isEmpty ...), the
// alias "matches" for regex, or one of == != > >= < <=. Comparisons built
// from text are case-insensitive.
// -----------------------------------------------------------------------

var symbolOps = map[string]Operator{
	"==": OpEquals,
	"!=": OpNotEquals,
	">":  OpGt,
	">=": OpGte,
	"<":  OpLt,
	"<=": OpLte,
}

var wordOps = func() map[string]Operator {
	m := make(map[string]Operator, len(operators)+1)
	for op := range operators {
		m[strings.ToLower(string(op))] = op
	}
	m["matches"] = OpRegex
	return m
}()

type tokenKind int

const (
	tokWord   tokenKind = iota // identifier or keyword
	tokOp                      // ==, !=, >=, <=, >, <
	tokString                  // "…" or '…'
	tokNumber                  // 42 | 3.14
	tokBool                    // true | false
	tokLParen
	tokRParen
	tokLBracket
	tokRBracket
	tokComma
	tokEOF
)

type token struct {
	kind tokenKind
	val  string
	pos  int
}

var punctuation = map[byte]tokenKind{
	'(': tokLParen,
	')': tokRParen,
	'[': tokLBracket,
	']': tokRBracket,
	',': tokComma,
}

func tokenize(expr string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(expr) {
		ch := expr[i]
		if unicode.IsSpace(rune(ch)) {
			i++
			continue
		}
		if kind, ok := punctuation[ch]; ok {
			tokens = append(tokens, token{kind, string(ch), i})
			i++
			continue
		}
		if ch == '=' || ch == '!' || ch == '<' || ch == '>' {
			if i+1 < len(expr) && expr[i+1] == '=' {
				tokens = append(tokens, token{tokOp, expr[i : i+2], i})
				i += 2
			} else if ch == '=' || ch == '!' {
				return nil, fmt.Errorf("unexpected character %q at position %d", ch, i)
			} else {
				tokens = append(tokens, token{tokOp, string(ch), i})
				i++
			}
			continue
		}
		if ch == '"' || ch == '\'' {
			quote := ch
			j := i + 1
			for j < len(expr) && expr[j] != quote {
				if expr[j] == '\\' {
					j++ // skip escaped char
				}
				j++
			}
			if j >= len(expr) {
				return nil, fmt.Errorf("unterminated string starting at position %d", i)
			}
			inner := expr[i+1 : j]
			inner = strings.ReplaceAll(inner, `\"`, `"`)
			inner = strings.ReplaceAll(inner, `\'`, `'`)
			inner = strings.ReplaceAll(inner, `\\`, `\`)
			tokens = append(tokens, token{tokString, inner, i})
			i = j + 1
			continue
		}
		if unicode.IsDigit(rune(ch)) || (ch == '-' && i+1 < len(expr) && unicode.IsDigit(rune(expr[i+1]))) {
			j := i
			if expr[j] == '-' {
				j++
			}
			for j < len(expr) && (unicode.IsDigit(rune(expr[j])) || expr[j] == '.') {
				j++
			}
			tokens = append(tokens, token{tokNumber, expr[i:j], i})
			i = j
			continue
		}
		if unicode.IsLetter(rune(ch)) || ch == '_' {
			j := i
			for j < len(expr) && (unicode.IsLetter(rune(expr[j])) || unicode.IsDigit(rune(expr[j])) || expr[j] == '_' || expr[j] == '.' || expr[j] == '-') {
				j++
			}
			word := expr[i:j]
			switch strings.ToLower(word) {
			case "true", "false":
				tokens = append(tokens, token{tokBool, strings.ToLower(word), i})
			default:
				tokens = append(tokens, token{tokWord, word, i})
			}
			i = j
			continue
		}
		return nil, fmt.Errorf("unexpected character %q at position %d", ch, i)
	}
	tokens = append(tokens, token{tokEOF, "", len(expr)})
	return tokens, nil
}

type parser struct {
	tokens []token
	pos    int
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) consume() token {
	t := p.tokens[p.pos]
	p.pos++
	return t
}

func (p *parser) keyword(kw string) bool {
	t := p.peek()
	return t.kind == tokWord && strings.EqualFold(t.val, kw)
}

func (p *parser) expect(kind tokenKind, val string) error {
	t := p.peek()
	if t.kind != kind {
		return fmt.Errorf("expected %q but got %q at position %d", val, t.val, t.pos)
	}
	p.consume()
	return nil
}

// Parse turns the textual syntax into a condition tree.
func Parse(expr string) (Condition, error) {
	tokens, err := tokenize(expr)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	node, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokEOF {
		return nil, fmt.Errorf("unexpected token %q after expression", p.peek().val)
	}
	return node, nil
}

func (p *parser) parseOr() (Condition, error) {
	first, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	children := []Condition{first}
	for p.keyword("OR") {
		p.consume()
		next, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		children = append(children, next)
	}
	if len(children) == 1 {
		return first, nil
	}
	return &Or{Children: children}, nil
}

func (p *parser) parseAnd() (Condition, error) {
	first, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	children := []Condition{first}
	for p.keyword("AND") {
		p.consume()
		next, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		children = append(children, next)
	}
	if len(children) == 1 {
		return first, nil
	}
	return &And{Children: children}, nil
}

func (p *parser) parseNot() (Condition, error) {
	if p.keyword("NOT") {
		p.consume()
		inner, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &Not{Child: inner}, nil
	}
	switch t := p.peek(); t.kind {
	case tokLParen:
		p.consume()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if err := p.expect(tokRParen, ")"); err != nil {
			return nil, err
		}
		return inner, nil
	case tokBool:
		p.consume()
		return Always(t.val == "true"), nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (Condition, error) {
	t := p.peek()
	if t.kind != tokWord {
		return nil, fmt.Errorf("expected field name, got %q at position %d", t.val, t.pos)
	}
	field := p.consume().val

	t = p.peek()
	var op Operator
	switch t.kind {
	case tokOp:
		op = symbolOps[t.val]
	case tokWord:
		op = wordOps[strings.ToLower(t.val)]
	}
	if op == "" {
		return nil, fmt.Errorf("expected comparison operator after %q, got %q", field, t.val)
	}
	p.consume()

	if op.Unary() {
		return NewSimple(field, op, nil, true), nil
	}
	value, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	return NewSimple(field, op, value, true), nil
}

func (p *parser) parseOperand() (any, error) {
	t := p.peek()
	switch t.kind {
	case tokString:
		p.consume()
		return t.val, nil
	case tokNumber:
		p.consume()
		f, err := strconv.ParseFloat(t.val, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", t.val)
		}
		return f, nil
	case tokBool:
		p.consume()
		return t.val == "true", nil
	case tokLBracket:
		p.consume()
		var items []any
		for p.peek().kind != tokRBracket {
			if len(items) > 0 {
				if err := p.expect(tokComma, ","); err != nil {
					return nil, err
				}
			}
			v, err := p.parseOperand()
			if err != nil {
				return nil, err
			}
			items = append(items, v)
		}
		p.consume()
		return items, nil
	default:
		return nil, fmt.Errorf("expected operand, got %q at position %d", t.val, t.pos)
	}
}
