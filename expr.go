package pdp

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// ============================================================================
// CONDITION EXPRESSION LANGUAGE
// ============================================================================
//
// Conditions are boolean expressions over named context variables (#clientIp,
// #userId, ...) and context functions (hasAuthority('X'), isAuthenticated()).
// A reference the context cannot supply fails evaluation with a
// missing-variable error instead of silently evaluating to false: the
// compatibility analyzer is the single source of truth for "can this condition
// even run here", and the evaluator refuses to paper over its mistakes.

// Expr is a parsed condition expression. It is immutable and safe for
// concurrent evaluation.
type Expr struct {
	root node
	src  string
}

// Parse compiles an expression string into an Expr. Results are memoized, so
// repeated decisions over the same policy set parse each condition once.
func Parse(src string) (*Expr, error) {
	if cached, ok := parseCache.Load(src); ok {
		switch v := cached.(type) {
		case *Expr:
			return v, nil
		case *ExpressionError:
			return nil, v
		}
	}
	p := &parser{lex: newLexer(src), src: src}
	root, err := p.parse()
	if err != nil {
		if ee, ok := err.(*ExpressionError); ok {
			parseCache.Store(src, ee)
		}
		return nil, err
	}
	e := &Expr{root: root, src: src}
	parseCache.Store(src, e)
	return e, nil
}

// Evaluate runs the expression against the context. The result must be
// boolean; anything else is an ExpressionError.
func (e *Expr) Evaluate(ctx *AuthorizationContext) (bool, error) {
	v, err := e.root.eval(ctx)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, &ExpressionError{Expression: e.src, Reason: fmt.Sprintf("expression is not boolean (got %T)", v)}
	}
	return b, nil
}

func (e *Expr) String() string { return e.src }

// Evaluate parses (cached) and evaluates a condition expression string
func Evaluate(expression string, ctx *AuthorizationContext) (bool, error) {
	e, err := Parse(expression)
	if err != nil {
		return false, err
	}
	return e.Evaluate(ctx)
}

// ============================================================================
// AST
// ============================================================================

type node interface {
	eval(ctx *AuthorizationContext) (any, error)
	String() string
}

type litNode struct{ val any }

func (n *litNode) eval(*AuthorizationContext) (any, error) { return n.val, nil }

func (n *litNode) String() string {
	if s, ok := n.val.(string); ok {
		return "'" + s + "'"
	}
	return fmt.Sprint(n.val)
}

// varNode resolves #name with optional dotted property access on map values
type varNode struct {
	name  string
	props []string
}

func (n *varNode) eval(ctx *AuthorizationContext) (any, error) {
	v, ok := ctx.Var(n.name)
	if !ok {
		return nil, &ExpressionError{Expression: n.String(), Missing: []string{"#" + n.name}}
	}
	for _, p := range n.props {
		m, ok := v.(map[string]any)
		if !ok {
			return nil, &ExpressionError{Expression: n.String(), Reason: fmt.Sprintf("property %s not addressable on %T", p, v)}
		}
		v, ok = m[p]
		if !ok {
			return nil, &ExpressionError{Expression: n.String(), Missing: []string{"#" + n.name + "." + p}}
		}
	}
	return v, nil
}

func (n *varNode) String() string {
	s := "#" + n.name
	for _, p := range n.props {
		s += "." + p
	}
	return s
}

type notNode struct{ x node }

func (n *notNode) eval(ctx *AuthorizationContext) (any, error) {
	v, err := n.x.eval(ctx)
	if err != nil {
		return nil, err
	}
	b, ok := v.(bool)
	if !ok {
		return nil, &ExpressionError{Expression: n.String(), Reason: "operand of ! is not boolean"}
	}
	return !b, nil
}

func (n *notNode) String() string { return "!" + n.x.String() }

type andNode struct{ left, right node }

func (n *andNode) eval(ctx *AuthorizationContext) (any, error) {
	l, err := boolOperand(n.left, ctx)
	if err != nil || !l {
		return false, err
	}
	return boolOperand(n.right, ctx)
}

func (n *andNode) String() string { return "(" + n.left.String() + " and " + n.right.String() + ")" }

type orNode struct{ left, right node }

func (n *orNode) eval(ctx *AuthorizationContext) (any, error) {
	l, err := boolOperand(n.left, ctx)
	if err != nil {
		return false, err
	}
	if l {
		return true, nil
	}
	return boolOperand(n.right, ctx)
}

func (n *orNode) String() string { return "(" + n.left.String() + " or " + n.right.String() + ")" }

func boolOperand(n node, ctx *AuthorizationContext) (bool, error) {
	v, err := n.eval(ctx)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, &ExpressionError{Expression: n.String(), Reason: "operand is not boolean"}
	}
	return b, nil
}

type cmpNode struct {
	op          string
	left, right node
}

func (n *cmpNode) eval(ctx *AuthorizationContext) (any, error) {
	l, err := n.left.eval(ctx)
	if err != nil {
		return nil, err
	}
	r, err := n.right.eval(ctx)
	if err != nil {
		return nil, err
	}
	switch n.op {
	case "==":
		return valuesEqual(l, r), nil
	case "!=":
		return !valuesEqual(l, r), nil
	}
	c, ok := valuesOrder(l, r)
	if !ok {
		return nil, &ExpressionError{Expression: n.String(), Reason: fmt.Sprintf("cannot order %T against %T", l, r)}
	}
	switch n.op {
	case "<":
		return c < 0, nil
	case "<=":
		return c <= 0, nil
	case ">":
		return c > 0, nil
	case ">=":
		return c >= 0, nil
	}
	return nil, &ExpressionError{Expression: n.String(), Reason: "unknown comparison " + n.op}
}

func (n *cmpNode) String() string {
	return n.left.String() + " " + n.op + " " + n.right.String()
}

// callNode dispatches the fixed set of context functions. Anything else is an
// unknown-function error so that authoring tools catch typos early.
type callNode struct {
	name string
	args []node
}

func (n *callNode) eval(ctx *AuthorizationContext) (any, error) {
	switch n.name {
	case "isAuthenticated":
		if err := n.arity(0); err != nil {
			return nil, err
		}
		return ctx.Principal != nil && ctx.Principal.Authenticated, nil
	case "hasAuthority", "hasPermission":
		arg, err := n.stringArg(ctx, 0, 1)
		if err != nil {
			return nil, err
		}
		return ctx.HasAuthority(arg), nil
	case "hasRole":
		arg, err := n.stringArg(ctx, 0, 1)
		if err != nil {
			return nil, err
		}
		if !strings.HasPrefix(arg, "ROLE_") {
			arg = "ROLE_" + arg
		}
		return ctx.HasAuthority(arg), nil
	case "hasAnyAuthority":
		if len(n.args) == 0 {
			return nil, &ExpressionError{Expression: n.String(), Reason: "hasAnyAuthority requires at least one argument"}
		}
		for i := range n.args {
			arg, err := n.stringArg(ctx, i, len(n.args))
			if err != nil {
				return nil, err
			}
			if ctx.HasAuthority(arg) {
				return true, nil
			}
		}
		return false, nil
	case "hasIpAddress":
		arg, err := n.stringArg(ctx, 0, 1)
		if err != nil {
			return nil, err
		}
		return matchClientIP(ctx, arg)
	}
	return nil, &ExpressionError{Expression: n.String(), Reason: "unknown function " + n.name}
}

func (n *callNode) arity(want int) error {
	if len(n.args) != want {
		return &ExpressionError{Expression: n.String(), Reason: fmt.Sprintf("%s expects %d argument(s), got %d", n.name, want, len(n.args))}
	}
	return nil
}

func (n *callNode) stringArg(ctx *AuthorizationContext, i, arity int) (string, error) {
	if err := n.arity(arity); err != nil {
		return "", err
	}
	v, err := n.args[i].eval(ctx)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", &ExpressionError{Expression: n.String(), Reason: fmt.Sprintf("argument %d of %s is not a string", i+1, n.name)}
	}
	return s, nil
}

func (n *callNode) String() string {
	parts := make([]string, 0, len(n.args))
	for _, a := range n.args {
		parts = append(parts, a.String())
	}
	return n.name + "(" + strings.Join(parts, ", ") + ")"
}

// matchClientIP tests the request client IP against an address or CIDR range
func matchClientIP(ctx *AuthorizationContext, pattern string) (bool, error) {
	if ctx.Request == nil || ctx.Request.ClientIP == "" {
		return false, &ExpressionError{Expression: "hasIpAddress", Missing: []string{"#clientIp"}}
	}
	ip := net.ParseIP(ctx.Request.ClientIP)
	if ip == nil {
		return false, nil
	}
	if strings.Contains(pattern, "/") {
		_, ipnet, err := net.ParseCIDR(pattern)
		if err != nil {
			return false, &ExpressionError{Expression: "hasIpAddress", Reason: "bad CIDR " + pattern}
		}
		return ipnet.Contains(ip), nil
	}
	other := net.ParseIP(pattern)
	return other != nil && other.Equal(ip), nil
}

// ============================================================================
// VALUE COMPARISON
// ============================================================================

func valuesEqual(a, b any) bool {
	if af, aok := asFloat(a); aok {
		if bf, bok := asFloat(b); bok {
			return af == bf
		}
		return false
	}
	switch av := a.(type) {
	case string:
		bs, ok := b.(string)
		return ok && av == bs
	case bool:
		bb, ok := b.(bool)
		return ok && av == bb
	case time.Time:
		bt, ok := b.(time.Time)
		return ok && av.Equal(bt)
	}
	return false
}

// valuesOrder returns -1/0/1 when both values share an ordered type
func valuesOrder(a, b any) (int, bool) {
	if af, aok := asFloat(a); aok {
		bf, bok := asFloat(b)
		if !bok {
			return 0, false
		}
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		}
		return 0, true
	}
	switch av := a.(type) {
	case string:
		bs, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(av, bs), true
	case time.Time:
		bt, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		switch {
		case av.Before(bt):
			return -1, true
		case av.After(bt):
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// ============================================================================
// LEXER
// ============================================================================

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokVar
	tokIdent
	tokString
	tokNumber
	tokOp
	tokLParen
	tokRParen
	tokComma
	tokDot
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

type lexer struct {
	src string
	pos int
}

func newLexer(src string) *lexer { return &lexer{src: src} }

func (l *lexer) next() (token, error) {
	for l.pos < len(l.src) && isSpace(l.src[l.pos]) {
		l.pos++
	}
	if l.pos >= len(l.src) {
		return token{kind: tokEOF, pos: l.pos}, nil
	}
	start := l.pos
	ch := l.src[l.pos]
	switch {
	case ch == '(':
		l.pos++
		return token{kind: tokLParen, text: "(", pos: start}, nil
	case ch == ')':
		l.pos++
		return token{kind: tokRParen, text: ")", pos: start}, nil
	case ch == ',':
		l.pos++
		return token{kind: tokComma, text: ",", pos: start}, nil
	case ch == '.':
		l.pos++
		return token{kind: tokDot, text: ".", pos: start}, nil
	case ch == '#':
		l.pos++
		id := l.ident()
		if id == "" {
			return token{}, l.errAt(start, "expected variable name after '#'")
		}
		return token{kind: tokVar, text: id, pos: start}, nil
	case ch == '\'' || ch == '"':
		l.pos++
		var b strings.Builder
		for l.pos < len(l.src) && l.src[l.pos] != ch {
			b.WriteByte(l.src[l.pos])
			l.pos++
		}
		if l.pos >= len(l.src) {
			return token{}, l.errAt(start, "unterminated string literal")
		}
		l.pos++
		return token{kind: tokString, text: b.String(), pos: start}, nil
	case ch >= '0' && ch <= '9':
		for l.pos < len(l.src) && (l.src[l.pos] >= '0' && l.src[l.pos] <= '9' || l.src[l.pos] == '.') {
			l.pos++
		}
		return token{kind: tokNumber, text: l.src[start:l.pos], pos: start}, nil
	case isIdentStart(ch):
		id := l.ident()
		return token{kind: tokIdent, text: id, pos: start}, nil
	}
	// operators
	two := ""
	if l.pos+1 < len(l.src) {
		two = l.src[l.pos : l.pos+2]
	}
	switch two {
	case "==", "!=", "<=", ">=", "&&", "||":
		l.pos += 2
		return token{kind: tokOp, text: two, pos: start}, nil
	}
	switch ch {
	case '<', '>', '!':
		l.pos++
		return token{kind: tokOp, text: string(ch), pos: start}, nil
	}
	return token{}, l.errAt(start, fmt.Sprintf("unexpected character %q", string(ch)))
}

func (l *lexer) ident() string {
	start := l.pos
	for l.pos < len(l.src) && isIdentPart(l.src[l.pos]) {
		l.pos++
	}
	return l.src[start:l.pos]
}

func (l *lexer) errAt(pos int, reason string) error {
	return &ExpressionError{Expression: l.src, Reason: fmt.Sprintf("%s at offset %d", reason, pos)}
}

func isSpace(c byte) bool { return c == ' ' || c == '\t' || c == '\n' || c == '\r' }

func isIdentStart(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func isIdentPart(c byte) bool { return isIdentStart(c) || c >= '0' && c <= '9' }

// ============================================================================
// PARSER
// ============================================================================

type parser struct {
	lex    *lexer
	src    string
	tok    token
	peeked bool
}

func (p *parser) parse() (node, error) {
	n, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	t, err := p.next()
	if err != nil {
		return nil, err
	}
	if t.kind != tokEOF {
		return nil, p.errAt(t, "unexpected trailing input")
	}
	return n, nil
}

func (p *parser) next() (token, error) {
	if p.peeked {
		p.peeked = false
		return p.tok, nil
	}
	t, err := p.lex.next()
	if err != nil {
		return token{}, err
	}
	return t, nil
}

func (p *parser) peek() (token, error) {
	if !p.peeked {
		t, err := p.lex.next()
		if err != nil {
			return token{}, err
		}
		p.tok = t
		p.peeked = true
	}
	return p.tok, nil
}

func (p *parser) errAt(t token, reason string) error {
	return &ExpressionError{Expression: p.src, Reason: fmt.Sprintf("%s at offset %d", reason, t.pos)}
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for {
		t, err := p.peek()
		if err != nil {
			return nil, err
		}
		if (t.kind == tokOp && t.text == "||") || (t.kind == tokIdent && t.text == "or") {
			p.peeked = false
			right, err := p.parseAnd()
			if err != nil {
				return nil, err
			}
			left = &orNode{left: left, right: right}
			continue
		}
		return left, nil
	}
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		t, err := p.peek()
		if err != nil {
			return nil, err
		}
		if (t.kind == tokOp && t.text == "&&") || (t.kind == tokIdent && t.text == "and") {
			p.peeked = false
			right, err := p.parseUnary()
			if err != nil {
				return nil, err
			}
			left = &andNode{left: left, right: right}
			continue
		}
		return left, nil
	}
}

func (p *parser) parseUnary() (node, error) {
	t, err := p.peek()
	if err != nil {
		return nil, err
	}
	if (t.kind == tokOp && t.text == "!") || (t.kind == tokIdent && t.text == "not") {
		p.peeked = false
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &notNode{x: x}, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (node, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	t, err := p.peek()
	if err != nil {
		return nil, err
	}
	if t.kind == tokOp {
		switch t.text {
		case "==", "!=", "<", "<=", ">", ">=":
			p.peeked = false
			right, err := p.parsePrimary()
			if err != nil {
				return nil, err
			}
			return &cmpNode{op: t.text, left: left, right: right}, nil
		}
	}
	return left, nil
}

func (p *parser) parsePrimary() (node, error) {
	t, err := p.next()
	if err != nil {
		return nil, err
	}
	switch t.kind {
	case tokNumber:
		if strings.Contains(t.text, ".") {
			f, err := strconv.ParseFloat(t.text, 64)
			if err != nil {
				return nil, p.errAt(t, "bad number "+t.text)
			}
			return &litNode{val: f}, nil
		}
		n, err := strconv.Atoi(t.text)
		if err != nil {
			return nil, p.errAt(t, "bad number "+t.text)
		}
		return &litNode{val: n}, nil
	case tokString:
		return &litNode{val: t.text}, nil
	case tokVar:
		v := &varNode{name: t.text}
		for {
			nt, err := p.peek()
			if err != nil {
				return nil, err
			}
			if nt.kind != tokDot {
				break
			}
			p.peeked = false
			prop, err := p.next()
			if err != nil {
				return nil, err
			}
			if prop.kind != tokIdent {
				return nil, p.errAt(prop, "expected property name after '.'")
			}
			v.props = append(v.props, prop.text)
		}
		return v, nil
	case tokIdent:
		switch t.text {
		case "true":
			return &litNode{val: true}, nil
		case "false":
			return &litNode{val: false}, nil
		}
		nt, err := p.peek()
		if err != nil {
			return nil, err
		}
		if nt.kind != tokLParen {
			return nil, p.errAt(t, "bare identifier "+t.text+" (did you mean #"+t.text+" or "+t.text+"(...)?)")
		}
		p.peeked = false
		call := &callNode{name: t.text}
		for {
			at, err := p.peek()
			if err != nil {
				return nil, err
			}
			if at.kind == tokRParen {
				p.peeked = false
				break
			}
			arg, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			call.args = append(call.args, arg)
			sep, err := p.next()
			if err != nil {
				return nil, err
			}
			if sep.kind == tokRParen {
				break
			}
			if sep.kind != tokComma {
				return nil, p.errAt(sep, "expected ',' or ')' in argument list")
			}
		}
		return call, nil
	case tokLParen:
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		close, err := p.next()
		if err != nil {
			return nil, err
		}
		if close.kind != tokRParen {
			return nil, p.errAt(close, "expected ')'")
		}
		return inner, nil
	}
	return nil, p.errAt(t, "unexpected token")
}
