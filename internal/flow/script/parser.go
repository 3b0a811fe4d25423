package script

import (
	"fmt"
	"strconv"
)

// AST nodes. Expressions evaluate to a value; statements drive the program.

type expr interface{ exprNode() }

type literalExpr struct{ value any }
type identExpr struct{ name string }
type unaryExpr struct {
	op string
	x  expr
}
type binaryExpr struct {
	op   string
	x, y expr
}
type ternaryExpr struct {
	cond, then, els expr
}
type memberExpr struct {
	x    expr
	name string
}
type indexExpr struct {
	x, idx expr
}
type callExpr struct {
	fn   string
	args []expr
}
type arrayExpr struct{ elems []expr }
type objectExpr struct {
	keys   []string
	values []expr
}

func (literalExpr) exprNode() {}
func (identExpr) exprNode()   {}
func (unaryExpr) exprNode()   {}
func (binaryExpr) exprNode()  {}
func (ternaryExpr) exprNode() {}
func (memberExpr) exprNode()  {}
func (indexExpr) exprNode()   {}
func (callExpr) exprNode()    {}
func (arrayExpr) exprNode()   {}
func (objectExpr) exprNode()  {}

type stmt struct {
	assign string // non-empty: assignment target
	ret    bool   // true: return statement
	x      expr   // nil allowed for a bare `return`
}

// Program is a compiled script ready for evaluation.
type Program struct {
	stmts []stmt
}

const maxParseDepth = 200

// Compile parses source into a Program. A leading `return` is ordinary
// syntax, so single-expression snippets in either `expr` or `return expr;`
// form compile unchanged.
func Compile(src string) (*Program, error) {
	p := &parser{lx: newLexer(src)}
	if err := p.read(); err != nil {
		return nil, err
	}
	var stmts []stmt
	for {
		p.skipSeparators()
		if p.peek.typ == tokenEOF {
			break
		}
		s, err := p.parseStmt()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, s)
		if err := p.expectSeparatorOrEOF(); err != nil {
			return nil, err
		}
	}
	if len(stmts) == 0 {
		return nil, fmt.Errorf("script: empty program")
	}
	return &Program{stmts: stmts}, nil
}

type parser struct {
	lx    *lexer
	peek  token
	has   bool
	depth int
}

func (p *parser) read() error {
	if p.has {
		return nil
	}
	tok, err := p.lx.next()
	if err != nil {
		return err
	}
	p.peek = tok
	p.has = true
	return nil
}

func (p *parser) next() (token, error) {
	if err := p.read(); err != nil {
		return token{}, err
	}
	tok := p.peek
	p.has = false
	if err := p.read(); err != nil {
		return token{}, err
	}
	return tok, nil
}

func (p *parser) peekSymbol(sym string) bool {
	return p.peek.typ == tokenSymbol && p.peek.lit == sym
}

func (p *parser) expectSymbol(sym string) error {
	tok, err := p.next()
	if err != nil {
		return err
	}
	if tok.typ != tokenSymbol || tok.lit != sym {
		return fmt.Errorf("script: expected %q, got %q at %d", sym, tok.lit, tok.pos)
	}
	return nil
}

func (p *parser) skipSeparators() {
	for p.peek.typ == tokenNewline || p.peekSymbol(";") {
		_, _ = p.next()
	}
}

func (p *parser) expectSeparatorOrEOF() error {
	if p.peek.typ == tokenEOF || p.peek.typ == tokenNewline || p.peekSymbol(";") {
		return nil
	}
	return fmt.Errorf("script: unexpected %q at %d", p.peek.lit, p.peek.pos)
}

func (p *parser) parseStmt() (stmt, error) {
	if p.peek.typ == tokenIdent && p.peek.lit == "return" {
		_, _ = p.next()
		if p.peek.typ == tokenEOF || p.peek.typ == tokenNewline || p.peekSymbol(";") {
			return stmt{ret: true}, nil
		}
		x, err := p.parseExpr()
		if err != nil {
			return stmt{}, err
		}
		return stmt{ret: true, x: x}, nil
	}
	// `var x = ...` and `let x = ...` are tolerated prefixes.
	if p.peek.typ == tokenIdent && (p.peek.lit == "var" || p.peek.lit == "let" || p.peek.lit == "const") {
		_, _ = p.next()
		if p.peek.typ != tokenIdent {
			return stmt{}, fmt.Errorf("script: expected identifier after declaration at %d", p.peek.pos)
		}
	}
	// Assignment requires ident `=` lookahead; everything else is an
	// expression statement.
	if p.peek.typ == tokenIdent {
		name := p.peek.lit
		save := *p.lx
		savePeek, saveHas := p.peek, p.has
		_, _ = p.next()
		if p.peekSymbol("=") {
			_, _ = p.next()
			x, err := p.parseExpr()
			if err != nil {
				return stmt{}, err
			}
			return stmt{assign: name, x: x}, nil
		}
		*p.lx = save
		p.peek, p.has = savePeek, saveHas
	}
	x, err := p.parseExpr()
	if err != nil {
		return stmt{}, err
	}
	return stmt{x: x}, nil
}

func (p *parser) enter() error {
	p.depth++
	if p.depth > maxParseDepth {
		return fmt.Errorf("script: expression too deeply nested")
	}
	return nil
}

func (p *parser) leave() { p.depth-- }

func (p *parser) parseExpr() (expr, error) { return p.parseTernary() }

func (p *parser) parseTernary() (expr, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()

	cond, err := p.parseBinary(0)
	if err != nil {
		return nil, err
	}
	if !p.peekSymbol("?") {
		return cond, nil
	}
	_, _ = p.next()
	then, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expectSymbol(":"); err != nil {
		return nil, err
	}
	els, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	return ternaryExpr{cond: cond, then: then, els: els}, nil
}

// Binary operator precedence, lowest first.
var precedence = []map[string]bool{
	{"||": true},
	{"&&": true},
	{"==": true, "!=": true, "===": true, "!==": true},
	{"<": true, ">": true, "<=": true, ">=": true},
	{"+": true, "-": true},
	{"*": true, "/": true, "%": true},
}

func (p *parser) parseBinary(level int) (expr, error) {
	if level >= len(precedence) {
		return p.parseUnary()
	}
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()

	left, err := p.parseBinary(level + 1)
	if err != nil {
		return nil, err
	}
	for p.peek.typ == tokenSymbol && precedence[level][p.peek.lit] {
		op, _ := p.next()
		right, err := p.parseBinary(level + 1)
		if err != nil {
			return nil, err
		}
		left = binaryExpr{op: op.lit, x: left, y: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (expr, error) {
	if p.peek.typ == tokenSymbol && (p.peek.lit == "!" || p.peek.lit == "-" || p.peek.lit == "+") {
		if err := p.enter(); err != nil {
			return nil, err
		}
		defer p.leave()
		op, _ := p.next()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return unaryExpr{op: op.lit, x: x}, nil
	}
	return p.parsePostfix()
}

func (p *parser) parsePostfix() (expr, error) {
	x, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.peekSymbol("."):
			_, _ = p.next()
			tok, err := p.next()
			if err != nil {
				return nil, err
			}
			if tok.typ != tokenIdent {
				return nil, fmt.Errorf("script: expected property name, got %q at %d", tok.lit, tok.pos)
			}
			x = memberExpr{x: x, name: tok.lit}
		case p.peekSymbol("["):
			_, _ = p.next()
			idx, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if err := p.expectSymbol("]"); err != nil {
				return nil, err
			}
			x = indexExpr{x: x, idx: idx}
		default:
			return x, nil
		}
	}
}

func (p *parser) parsePrimary() (expr, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()

	tok, err := p.next()
	if err != nil {
		return nil, err
	}
	switch tok.typ {
	case tokenNumber:
		f, err := strconv.ParseFloat(tok.lit, 64)
		if err != nil {
			return nil, fmt.Errorf("script: bad number %q at %d", tok.lit, tok.pos)
		}
		return literalExpr{value: f}, nil
	case tokenString:
		return literalExpr{value: tok.lit}, nil
	case tokenIdent:
		switch tok.lit {
		case "true":
			return literalExpr{value: true}, nil
		case "false":
			return literalExpr{value: false}, nil
		case "null", "undefined":
			return literalExpr{value: nil}, nil
		}
		// Builtin call: ident "(" args ")".
		if p.peekSymbol("(") {
			_, _ = p.next()
			var args []expr
			for !p.peekSymbol(")") {
				a, err := p.parseExpr()
				if err != nil {
					return nil, err
				}
				args = append(args, a)
				if p.peekSymbol(",") {
					_, _ = p.next()
					continue
				}
				break
			}
			if err := p.expectSymbol(")"); err != nil {
				return nil, err
			}
			return callExpr{fn: tok.lit, args: args}, nil
		}
		return identExpr{name: tok.lit}, nil
	case tokenSymbol:
		switch tok.lit {
		case "(":
			x, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if err := p.expectSymbol(")"); err != nil {
				return nil, err
			}
			return x, nil
		case "[":
			var elems []expr
			for !p.peekSymbol("]") {
				e, err := p.parseExpr()
				if err != nil {
					return nil, err
				}
				elems = append(elems, e)
				if p.peekSymbol(",") {
					_, _ = p.next()
					continue
				}
				break
			}
			if err := p.expectSymbol("]"); err != nil {
				return nil, err
			}
			return arrayExpr{elems: elems}, nil
		case "{":
			return p.parseObject()
		}
	}
	return nil, fmt.Errorf("script: unexpected %q at %d", tok.lit, tok.pos)
}

func (p *parser) parseObject() (expr, error) {
	var obj objectExpr
	p.skipSeparators()
	for !p.peekSymbol("}") {
		keyTok, err := p.next()
		if err != nil {
			return nil, err
		}
		if keyTok.typ != tokenIdent && keyTok.typ != tokenString {
			return nil, fmt.Errorf("script: expected object key, got %q at %d", keyTok.lit, keyTok.pos)
		}
		if err := p.expectSymbol(":"); err != nil {
			return nil, err
		}
		val, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		obj.keys = append(obj.keys, keyTok.lit)
		obj.values = append(obj.values, val)
		p.skipSeparators()
		if p.peekSymbol(",") {
			_, _ = p.next()
			p.skipSeparators()
			continue
		}
		break
	}
	p.skipSeparators()
	if err := p.expectSymbol("}"); err != nil {
		return nil, err
	}
	return obj, nil
}
