package compose

import (
	"fmt"
)

// parser turns a token stream into a File. It performs no semantic
// analysis: no duplicate checks, no type checks, no import resolution.
// Those happen in later phases (see imports.go, template.go, check.go)
// so that spec.md §4.1's "full-file validation runs to completion
// before any container is materialised" can aggregate diagnostics
// across phases instead of stopping at the first parse error.
type parser struct {
	toks []token
	pos  int
	file string
}

func newParser(file string, toks []token) *parser {
	return &parser{toks: toks, file: file}
}

func (p *parser) cur() token  { return p.toks[p.pos] }
func (p *parser) atEnd() bool { return p.cur().kind == tokEOF }

func (p *parser) advance() token {
	t := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

func (p *parser) expect(kind tokenKind) (token, error) {
	if p.cur().kind != kind {
		return token{}, p.errorf("expected %s, got %s", kind, describe(p.cur()))
	}
	return p.advance(), nil
}

func (p *parser) errorf(format string, args ...interface{}) *ParseError {
	return &ParseError{Pos: p.cur().pos, Msg: fmt.Sprintf(format, args...)}
}

func describe(t token) string {
	if t.kind == tokIdent {
		return fmt.Sprintf("identifier %q", t.text)
	}
	return t.kind.String()
}

// ParseError is a localized grammar diagnostic (spec.md §4.1 E001).
type ParseError struct {
	Pos Pos
	Msg string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s:%d:%d: E001: %s", e.Pos.File, e.Pos.Line, e.Pos.Column, e.Msg)
}

// parseFile parses top-level statements in any order, per spec.md §4.1
// grammar.
func (p *parser) parseFile() (*File, error) {
	f := &File{Path: p.file}
	for !p.atEnd() {
		if p.cur().kind != tokIdent {
			return nil, p.errorf("expected a top-level statement (IMPORT, COMPONENT, CONNECT, EXPOSE), got %s", describe(p.cur()))
		}
		switch p.cur().text {
		case "IMPORT":
			imp, err := p.parseImport()
			if err != nil {
				return nil, err
			}
			f.Imports = append(f.Imports, imp)
		case "COMPONENT":
			c, err := p.parseComponent()
			if err != nil {
				return nil, err
			}
			f.Components = append(f.Components, c)
		case "CONNECT":
			c, err := p.parseConnect()
			if err != nil {
				return nil, err
			}
			f.Connections = append(f.Connections, c)
		case "EXPOSE":
			e, err := p.parseExpose()
			if err != nil {
				return nil, err
			}
			f.Exposures = append(f.Exposures, e)
		default:
			return nil, p.errorf("unexpected top-level keyword %q", p.cur().text)
		}
	}
	return f, nil
}

func (p *parser) parseImport() (Import, error) {
	p.advance() // IMPORT
	pathTok, err := p.expect(tokString)
	if err != nil {
		return Import{}, err
	}
	imp := Import{Path: pathTok.text, Pos: pathTok.pos}
	if p.cur().kind == tokIdent && p.cur().text == "AS" {
		p.advance()
		alias, err := p.expect(tokIdent)
		if err != nil {
			return Import{}, err
		}
		imp.Alias = alias.text
	}
	return imp, nil
}

func (p *parser) parseComponent() (*Component, error) {
	start := p.cur().pos
	p.advance() // COMPONENT
	nameTok, err := p.expect(tokIdent)
	if err != nil {
		return nil, err
	}
	if reservedWords[nameTok.text] {
		return nil, &ParseError{Pos: nameTok.pos, Msg: fmt.Sprintf("%q is a reserved word and cannot be used as a component name", nameTok.text)}
	}
	c := &Component{Name: nameTok.text, Properties: map[string]Value{}, Pos: start}
	if p.cur().kind == tokIdent && p.cur().text == "FROM" {
		p.advance()
		tmpl, err := p.expect(tokIdent)
		if err != nil {
			return nil, err
		}
		c.From = tmpl.text
	}
	block, order, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	c.Properties = block
	c.PropOrder = order
	return c, nil
}

func (p *parser) parseConnect() (Connection, error) {
	start := p.cur().pos
	p.advance() // CONNECT
	src, err := p.expect(tokIdent)
	if err != nil {
		return Connection{}, err
	}
	if _, err := p.expect(tokArrow); err != nil {
		return Connection{}, err
	}
	tgt, err := p.expect(tokIdent)
	if err != nil {
		return Connection{}, err
	}
	return Connection{Source: src.text, Target: tgt.text, Pos: start}, nil
}

func (p *parser) parseExpose() (Exposure, error) {
	start := p.cur().pos
	p.advance() // EXPOSE
	switch p.cur().kind {
	case tokInt:
		port := p.advance()
		return Exposure{HostPort: int(port.ival), ContainerPort: int(port.ival), Pos: start}, nil
	case tokString:
		s := p.advance()
		host, container, err := parseHostContainerPair(s.text)
		if err != nil {
			return Exposure{}, &ParseError{Pos: s.pos, Msg: err.Error()}
		}
		return Exposure{HostPort: host, ContainerPort: container, Pos: start}, nil
	default:
		return Exposure{}, p.errorf("expected a port integer or \"host:container\" string after EXPOSE, got %s", describe(p.cur()))
	}
}

// parseBlock parses `{ key = value , ... }`, returning declaration
// order alongside the map for deterministic printing.
func (p *parser) parseBlock() (map[string]Value, []string, error) {
	if _, err := p.expect(tokLBrace); err != nil {
		return nil, nil, err
	}
	props := map[string]Value{}
	var order []string
	for p.cur().kind != tokRBrace {
		if p.atEnd() {
			return nil, nil, p.errorf("unterminated block: expected '}'")
		}
		key, err := p.expect(tokIdent)
		if err != nil {
			return nil, nil, err
		}
		if _, err := p.expect(tokEquals); err != nil {
			return nil, nil, err
		}
		val, err := p.parseValue()
		if err != nil {
			return nil, nil, err
		}
		if _, exists := props[key.text]; exists {
			return nil, nil, &ParseError{Pos: key.pos, Msg: fmt.Sprintf("duplicate key %q in block", key.text)}
		}
		props[key.text] = val
		order = append(order, key.text)
		if p.cur().kind == tokComma {
			p.advance()
		}
	}
	p.advance() // consume '}'
	return props, order, nil
}

func (p *parser) parseValue() (Value, error) {
	switch p.cur().kind {
	case tokString:
		t := p.advance()
		return Value{Kind: ValString, Str: t.text, Pos: t.pos}, nil
	case tokInt:
		t := p.advance()
		return Value{Kind: ValInt, Int: t.ival, Pos: t.pos}, nil
	case tokIdent:
		if p.cur().text == "true" || p.cur().text == "false" {
			t := p.advance()
			return Value{Kind: ValBool, Bool: t.text == "true", Pos: t.pos}, nil
		}
		return Value{}, p.errorf("unexpected identifier %q in value position", p.cur().text)
	case tokLBracket:
		return p.parseList()
	case tokLBrace:
		props, order, err := p.parseBlock()
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: ValMap, Map: props, MapOrder: order}, nil
	default:
		return Value{}, p.errorf("unexpected token %s in value position", describe(p.cur()))
	}
}

func (p *parser) parseList() (Value, error) {
	start := p.cur().pos
	p.advance() // '['
	var items []Value
	for p.cur().kind != tokRBracket {
		if p.atEnd() {
			return Value{}, p.errorf("unterminated list: expected ']'")
		}
		v, err := p.parseValue()
		if err != nil {
			return Value{}, err
		}
		items = append(items, v)
		if p.cur().kind == tokComma {
			p.advance()
			continue
		}
		break
	}
	if _, err := p.expect(tokRBracket); err != nil {
		return Value{}, err
	}
	return Value{Kind: ValList, List: items, Pos: start}, nil
}

// Parse lexes and parses a single file's bytes, without resolving
// imports or templates.
func Parse(filename, src string) (*File, error) {
	toks, err := newLexer(filename, src).tokenize()
	if err != nil {
		return nil, err
	}
	return newParser(filename, toks).parseFile()
}
