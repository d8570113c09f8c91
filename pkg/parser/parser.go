package parser

import (
	"fmt"
	"strconv"
	"unicode"

	"cedarc/pkg/ast"
)

// Parser parses S-expressions into Values
type Parser struct {
	input string
	pos   int
	line  int
	col   int
}

// New creates a new parser for the given input
func New(input string) *Parser {
	return &Parser{input: input, line: 1, col: 1}
}

// Parse parses a single S-expression
func (p *Parser) Parse() (*ast.Value, error) {
	p.skipWhitespace()
	if p.pos >= len(p.input) {
		return nil, nil
	}
	return p.parseExpr()
}

// ParseAll parses all S-expressions in the input
func (p *Parser) ParseAll() ([]*ast.Value, error) {
	var results []*ast.Value
	for {
		p.skipWhitespace()
		if p.pos >= len(p.input) {
			break
		}
		expr, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if expr != nil {
			results = append(results, expr)
		}
	}
	return results, nil
}

func (p *Parser) here() ast.Pos {
	return ast.Pos{Line: p.line, Col: p.col}
}

func (p *Parser) skipWhitespace() {
	for p.pos < len(p.input) {
		ch := p.input[p.pos]
		if ch == ';' {
			// Skip comment to end of line
			for p.pos < len(p.input) && p.input[p.pos] != '\n' {
				p.advance()
			}
		} else if unicode.IsSpace(rune(ch)) {
			p.advance()
		} else {
			break
		}
	}
}

func (p *Parser) peek() byte {
	if p.pos >= len(p.input) {
		return 0
	}
	return p.input[p.pos]
}

func (p *Parser) advance() byte {
	ch := p.peek()
	if ch != 0 {
		p.pos++
		if ch == '\n' {
			p.line++
			p.col = 1
		} else {
			p.col++
		}
	}
	return ch
}

func (p *Parser) parseExpr() (*ast.Value, error) {
	p.skipWhitespace()
	if p.pos >= len(p.input) {
		return nil, nil
	}

	switch p.peek() {
	case '(':
		return p.parseList()
	case ')':
		return nil, fmt.Errorf("%s: unexpected ')'", p.here())
	case '"':
		return p.parseString()
	default:
		return p.parseAtom()
	}
}

func (p *Parser) parseList() (*ast.Value, error) {
	pos := p.here()
	p.advance() // consume '('
	var items []*ast.Value

	for {
		p.skipWhitespace()
		if p.pos >= len(p.input) {
			return nil, fmt.Errorf("%s: unclosed list", pos)
		}
		if p.peek() == ')' {
			p.advance()
			break
		}
		expr, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		items = append(items, expr)
	}

	list := sliceToList(items)
	list.Pos = pos
	return list, nil
}

func sliceToList(items []*ast.Value) *ast.Value {
	out := ast.Nil
	for i := len(items) - 1; i >= 0; i-- {
		out = ast.Cons(items[i], out)
	}
	return out
}

func (p *Parser) parseString() (*ast.Value, error) {
	pos := p.here()
	p.advance() // consume opening '"'
	var buf []byte

	for p.pos < len(p.input) {
		ch := p.advance()
		if ch == '"' {
			return ast.NewStr(string(buf), pos), nil
		}
		if ch == '\\' && p.pos < len(p.input) {
			next := p.advance()
			switch next {
			case 'n':
				buf = append(buf, '\n')
			case 't':
				buf = append(buf, '\t')
			case 'r':
				buf = append(buf, '\r')
			case '0':
				buf = append(buf, 0)
			case '\\':
				buf = append(buf, '\\')
			case '"':
				buf = append(buf, '"')
			default:
				buf = append(buf, next)
			}
		} else {
			buf = append(buf, ch)
		}
	}
	return nil, fmt.Errorf("%s: unclosed string", pos)
}

func (p *Parser) parseAtom() (*ast.Value, error) {
	pos := p.here()
	start := p.pos

	// Check for negative number
	if p.peek() == '-' && p.pos+1 < len(p.input) && isDigit(p.input[p.pos+1]) {
		p.advance()
	}

	if isDigit(p.peek()) {
		for p.pos < len(p.input) && isDigit(p.input[p.pos]) {
			p.advance()
		}
		numStr := p.input[start:p.pos]
		n, err := strconv.ParseInt(numStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid integer: %s", pos, numStr)
		}
		return ast.NewInt(n, pos), nil
	}

	// It's a symbol
	for p.pos < len(p.input) {
		ch := p.input[p.pos]
		if unicode.IsSpace(rune(ch)) || ch == '(' || ch == ')' || ch == '"' || ch == ';' {
			break
		}
		p.advance()
	}

	if p.pos == start {
		return nil, fmt.Errorf("%s: unexpected character: %c", pos, p.peek())
	}

	return ast.NewSym(p.input[start:p.pos], pos), nil
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

// ParseString is a convenience function to parse a single expression
func ParseString(input string) (*ast.Value, error) {
	p := New(input)
	return p.Parse()
}

// ParseAllString parses all expressions in a string
func ParseAllString(input string) ([]*ast.Value, error) {
	p := New(input)
	return p.ParseAll()
}
