// internal/parser/parser.go
package parser

import (
	"strings"

	bogerr "bog/internal/errors"
	"bog/internal/lexer"
)

// Parser is a recursive-descent parser over the token stream. It is
// non-recovering: the first diagnostic fails the parse.
type Parser struct {
	tokens []lexer.Token
	pos    int
	errs   *bogerr.List
	// skipNl > 0 inside balanced () [] {} contexts, where newlines are
	// insignificant. Assignment is rejected while it is set.
	skipNl int
}

// Parse tokenizes and parses a whole program: (stmt Nl)* Eof.
func Parse(name string, source []byte, errs *bogerr.List) (*Tree, error) {
	tokens, err := lexer.Tokenize(source, errs)
	if err != nil {
		return nil, err
	}
	p := &Parser{tokens: tokens, errs: errs}
	tree := &Tree{Name: name, Source: source}
	for {
		p.eatNewlines()
		if p.at(lexer.TokenEof) {
			return tree, nil
		}
		stmt, err := p.stmt()
		if err != nil {
			return nil, err
		}
		tree.Stmts = append(tree.Stmts, stmt)
		if err := p.expectStmtEnd(); err != nil {
			return nil, err
		}
	}
}

func (p *Parser) fail(tok lexer.Token, format string, args ...interface{}) error {
	p.errs.Add(tok.Offset, format, args...)
	return bogerr.New(bogerr.ParseError, format, args...)
}

// peek returns the current token, consuming newlines first when inside a
// skip-newline context.
func (p *Parser) peek() lexer.Token {
	if p.skipNl > 0 {
		for p.tokens[p.pos].Type == lexer.TokenNl {
			p.pos++
		}
	}
	return p.tokens[p.pos]
}

func (p *Parser) next() lexer.Token {
	tok := p.peek()
	if tok.Type != lexer.TokenEof {
		p.pos++
	}
	return tok
}

func (p *Parser) at(t lexer.TokenType) bool {
	return p.peek().Type == t
}

func (p *Parser) match(t lexer.TokenType) bool {
	if p.at(t) {
		p.next()
		return true
	}
	return false
}

func (p *Parser) expect(t lexer.TokenType) (lexer.Token, error) {
	if p.at(t) {
		return p.next(), nil
	}
	return lexer.Token{}, p.fail(p.peek(), "expected '%s', found '%s'", t, p.peek().Type)
}

// eatNewlines consumes any run of newline tokens regardless of context.
func (p *Parser) eatNewlines() {
	for p.tokens[p.pos].Type == lexer.TokenNl {
		p.pos++
	}
}

func (p *Parser) expectStmtEnd() error {
	switch p.tokens[p.pos].Type {
	case lexer.TokenNl:
		p.pos++
		return nil
	case lexer.TokenEof, lexer.TokenRBrace:
		return nil
	}
	return p.fail(p.tokens[p.pos], "expected a newline, found '%s'", p.tokens[p.pos].Type)
}

func (p *Parser) stmt() (Node, error) {
	if p.at(lexer.TokenLet) {
		return p.letExpr()
	}
	return p.expr()
}

func (p *Parser) letExpr() (Node, error) {
	tok := p.next()
	pattern, err := p.unwrap()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.TokenEqual); err != nil {
		return nil, err
	}
	body, err := p.expr()
	if err != nil {
		return nil, err
	}
	return &Let{Tok: tok, Pattern: pattern, Body: body}, nil
}

// expr parses the lowest precedence level: fn literals, jump expressions,
// then assignment.
func (p *Parser) expr() (Node, error) {
	switch p.peek().Type {
	case lexer.TokenFn:
		return p.fnExpr()
	case lexer.TokenReturn, lexer.TokenBreak, lexer.TokenContinue:
		return p.jumpExpr()
	}
	return p.assignExpr()
}

func (p *Parser) fnExpr() (Node, error) {
	tok := p.next()
	fn := &Fn{Tok: tok}
	if p.at(lexer.TokenIdent) {
		fn.Name = p.next().Lexeme
	}
	if _, err := p.expect(lexer.TokenLParen); err != nil {
		return nil, err
	}
	p.skipNl++
	for !p.at(lexer.TokenRParen) {
		param, err := p.unwrap()
		if err != nil {
			return nil, err
		}
		fn.Params = append(fn.Params, param)
		if !p.match(lexer.TokenComma) {
			break
		}
	}
	p.skipNl--
	if _, err := p.expect(lexer.TokenRParen); err != nil {
		return nil, err
	}
	body, err := p.expr()
	if err != nil {
		return nil, err
	}
	fn.Body = body
	return fn, nil
}

func (p *Parser) jumpExpr() (Node, error) {
	tok := p.next()
	switch tok.Type {
	case lexer.TokenContinue:
		return &Continue{Tok: tok}, nil
	case lexer.TokenBreak:
		jump := &Break{Tok: tok}
		if p.canStartExpr() {
			value, err := p.expr()
			if err != nil {
				return nil, err
			}
			jump.Value = value
		}
		return jump, nil
	default:
		jump := &Return{Tok: tok}
		if p.canStartExpr() {
			value, err := p.expr()
			if err != nil {
				return nil, err
			}
			jump.Value = value
		}
		return jump, nil
	}
}

// canStartExpr reports whether the current token can begin an expression,
// used to decide if return/break carry a value.
func (p *Parser) canStartExpr() bool {
	if p.skipNl == 0 && p.tokens[p.pos].Type == lexer.TokenNl {
		return false
	}
	switch p.peek().Type {
	case lexer.TokenIdent, lexer.TokenUnderscore, lexer.TokenNumber, lexer.TokenString,
		lexer.TokenTrue, lexer.TokenFalse, lexer.TokenLParen, lexer.TokenLBracket,
		lexer.TokenLBrace, lexer.TokenError, lexer.TokenImport, lexer.TokenIf,
		lexer.TokenWhile, lexer.TokenFor, lexer.TokenMatch, lexer.TokenFn,
		lexer.TokenNot, lexer.TokenMinus, lexer.TokenPlus, lexer.TokenTilde,
		lexer.TokenTry, lexer.TokenReturn, lexer.TokenBreak, lexer.TokenContinue:
		return true
	}
	return false
}

var assignOps = map[lexer.TokenType]InfixOp{
	lexer.TokenEqual:                InfixAssign,
	lexer.TokenPlusEqual:            InfixAddAssign,
	lexer.TokenMinusEqual:           InfixSubAssign,
	lexer.TokenAsteriskEqual:        InfixMulAssign,
	lexer.TokenAsteriskAsteriskEqual: InfixPowAssign,
	lexer.TokenSlashEqual:           InfixDivAssign,
	lexer.TokenSlashSlashEqual:      InfixDivFloorAssign,
	lexer.TokenPercentEqual:         InfixModAssign,
	lexer.TokenShlEqual:             InfixShlAssign,
	lexer.TokenShrEqual:             InfixShrAssign,
	lexer.TokenAmpersandEqual:       InfixBitAndAssign,
	lexer.TokenPipeEqual:            InfixBitOrAssign,
	lexer.TokenCaretEqual:           InfixBitXorAssign,
}

func (p *Parser) assignExpr() (Node, error) {
	lhs, err := p.boolExpr()
	if err != nil {
		return nil, err
	}
	op, ok := assignOps[p.peek().Type]
	if !ok {
		return lhs, nil
	}
	tok := p.peek()
	if p.skipNl > 0 {
		return nil, p.fail(tok, "assignment is not allowed inside brackets")
	}
	p.next()
	var rhs Node
	if op == InfixAssign {
		rhs, err = p.expr()
	} else {
		rhs, err = p.bitExpr()
	}
	if err != nil {
		return nil, err
	}
	return &Infix{Tok: tok, Op: op, LHS: lhs, RHS: rhs}, nil
}

// boolExpr chains `and` or `or` over comparison operands. Mixing the two
// in one chain requires parentheses.
func (p *Parser) boolExpr() (Node, error) {
	lhs, err := p.boolOperand()
	if err != nil {
		return nil, err
	}
	switch p.peek().Type {
	case lexer.TokenAnd:
		for p.at(lexer.TokenAnd) {
			tok := p.next()
			rhs, err := p.boolOperand()
			if err != nil {
				return nil, err
			}
			lhs = &Infix{Tok: tok, Op: InfixBoolAnd, LHS: lhs, RHS: rhs}
		}
		if p.at(lexer.TokenOr) {
			return nil, p.fail(p.peek(), "'and' and 'or' cannot be chained, use parentheses")
		}
	case lexer.TokenOr:
		for p.at(lexer.TokenOr) {
			tok := p.next()
			rhs, err := p.boolOperand()
			if err != nil {
				return nil, err
			}
			lhs = &Infix{Tok: tok, Op: InfixBoolOr, LHS: lhs, RHS: rhs}
		}
		if p.at(lexer.TokenAnd) {
			return nil, p.fail(p.peek(), "'and' and 'or' cannot be chained, use parentheses")
		}
	}
	return lhs, nil
}

func (p *Parser) boolOperand() (Node, error) {
	if p.at(lexer.TokenNot) {
		tok := p.next()
		rhs, err := p.boolOperand()
		if err != nil {
			return nil, err
		}
		return &Prefix{Tok: tok, Op: PrefixBoolNot, RHS: rhs}, nil
	}
	return p.comparisonExpr()
}

var comparisonOps = map[lexer.TokenType]InfixOp{
	lexer.TokenLess:         InfixLess,
	lexer.TokenLessEqual:    InfixLessEq,
	lexer.TokenGreater:      InfixGreater,
	lexer.TokenGreaterEqual: InfixGreaterEq,
	lexer.TokenEqualEqual:   InfixEqual,
	lexer.TokenNotEqual:     InfixNotEqual,
	lexer.TokenIn:           InfixIn,
}

// comparisonExpr is non-associative: at most one comparison per chain.
func (p *Parser) comparisonExpr() (Node, error) {
	lhs, err := p.rangeExpr()
	if err != nil {
		return nil, err
	}
	if op, ok := comparisonOps[p.peek().Type]; ok {
		tok := p.next()
		rhs, err := p.rangeExpr()
		if err != nil {
			return nil, err
		}
		return &Infix{Tok: tok, Op: op, LHS: lhs, RHS: rhs}, nil
	}
	if p.at(lexer.TokenIs) {
		tok := p.next()
		name, nameTok, err := p.typeName(isTypeNames)
		if err != nil {
			return nil, err
		}
		return &TypeInfix{Tok: tok, Op: TypeIs, LHS: lhs, TypeName: name, TypeTok: nameTok}, nil
	}
	return lhs, nil
}

var isTypeNames = "none int num bool str tuple map list err range func"
var asTypeNames = "none int num bool str tuple map list"

func (p *Parser) typeName(valid string) (string, lexer.Token, error) {
	tok := p.peek()
	if tok.Type != lexer.TokenIdent {
		return "", tok, p.fail(tok, "expected a type name, found '%s'", tok.Type)
	}
	found := false
	for _, name := range strings.Fields(valid) {
		if tok.Lexeme == name {
			found = true
			break
		}
	}
	if !found {
		return "", tok, p.fail(tok, "expected a type name, found '%s'", tok.Lexeme)
	}
	p.next()
	return tok.Lexeme, tok, nil
}

// rangeExpr is non-associative: `a ... b`.
func (p *Parser) rangeExpr() (Node, error) {
	lhs, err := p.bitExpr()
	if err != nil {
		return nil, err
	}
	if p.at(lexer.TokenEllipsis) {
		tok := p.next()
		rhs, err := p.bitExpr()
		if err != nil {
			return nil, err
		}
		return &Infix{Tok: tok, Op: InfixRange, LHS: lhs, RHS: rhs}, nil
	}
	return lhs, nil
}

var bitOps = map[lexer.TokenType]InfixOp{
	lexer.TokenAmpersand: InfixBitAnd,
	lexer.TokenPipe:      InfixBitOr,
	lexer.TokenCaret:     InfixBitXor,
}

// bitExpr chains a single bitwise operator class, and hosts `catch`.
func (p *Parser) bitExpr() (Node, error) {
	lhs, err := p.shiftExpr()
	if err != nil {
		return nil, err
	}
	if op, ok := bitOps[p.peek().Type]; ok {
		first := p.peek().Type
		for p.at(first) {
			tok := p.next()
			rhs, err := p.shiftExpr()
			if err != nil {
				return nil, err
			}
			lhs = &Infix{Tok: tok, Op: op, LHS: lhs, RHS: rhs}
		}
		if _, mixed := bitOps[p.peek().Type]; mixed {
			return nil, p.fail(p.peek(), "bitwise operators cannot be mixed, use parentheses")
		}
	}
	if p.at(lexer.TokenCatch) {
		tok := p.next()
		catch := &Catch{Tok: tok, LHS: lhs}
		if p.match(lexer.TokenLet) {
			pattern, err := p.unwrap()
			if err != nil {
				return nil, err
			}
			catch.Pattern = pattern
			if _, err := p.expect(lexer.TokenColon); err != nil {
				return nil, err
			}
		}
		rhs, err := p.expr()
		if err != nil {
			return nil, err
		}
		catch.RHS = rhs
		return catch, nil
	}
	return lhs, nil
}

func (p *Parser) shiftExpr() (Node, error) {
	lhs, err := p.addExpr()
	if err != nil {
		return nil, err
	}
	for p.at(lexer.TokenShl) || p.at(lexer.TokenShr) {
		tok := p.next()
		op := InfixShl
		if tok.Type == lexer.TokenShr {
			op = InfixShr
		}
		rhs, err := p.addExpr()
		if err != nil {
			return nil, err
		}
		lhs = &Infix{Tok: tok, Op: op, LHS: lhs, RHS: rhs}
	}
	return lhs, nil
}

func (p *Parser) addExpr() (Node, error) {
	lhs, err := p.mulExpr()
	if err != nil {
		return nil, err
	}
	for p.at(lexer.TokenPlus) || p.at(lexer.TokenMinus) {
		tok := p.next()
		op := InfixAdd
		if tok.Type == lexer.TokenMinus {
			op = InfixSub
		}
		rhs, err := p.mulExpr()
		if err != nil {
			return nil, err
		}
		lhs = &Infix{Tok: tok, Op: op, LHS: lhs, RHS: rhs}
	}
	return lhs, nil
}

var mulOps = map[lexer.TokenType]InfixOp{
	lexer.TokenAsterisk:   InfixMul,
	lexer.TokenSlash:      InfixDiv,
	lexer.TokenSlashSlash: InfixDivFloor,
	lexer.TokenPercent:    InfixMod,
}

func (p *Parser) mulExpr() (Node, error) {
	lhs, err := p.castExpr()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := mulOps[p.peek().Type]
		if !ok {
			return lhs, nil
		}
		tok := p.next()
		rhs, err := p.castExpr()
		if err != nil {
			return nil, err
		}
		lhs = &Infix{Tok: tok, Op: op, LHS: lhs, RHS: rhs}
	}
}

func (p *Parser) castExpr() (Node, error) {
	lhs, err := p.prefixExpr()
	if err != nil {
		return nil, err
	}
	for p.at(lexer.TokenAs) {
		tok := p.next()
		name, nameTok, err := p.typeName(asTypeNames)
		if err != nil {
			return nil, err
		}
		lhs = &TypeInfix{Tok: tok, Op: TypeAs, LHS: lhs, TypeName: name, TypeTok: nameTok}
	}
	return lhs, nil
}

var prefixOps = map[lexer.TokenType]PrefixOp{
	lexer.TokenTry:   PrefixTry,
	lexer.TokenMinus: PrefixMinus,
	lexer.TokenPlus:  PrefixPlus,
	lexer.TokenTilde: PrefixBitNot,
}

func (p *Parser) prefixExpr() (Node, error) {
	if op, ok := prefixOps[p.peek().Type]; ok {
		tok := p.next()
		rhs, err := p.prefixExpr()
		if err != nil {
			return nil, err
		}
		return &Prefix{Tok: tok, Op: op, RHS: rhs}, nil
	}
	return p.powerExpr()
}

// powerExpr is right-associative: `2**3**2` is `2**(3**2)`.
func (p *Parser) powerExpr() (Node, error) {
	lhs, err := p.suffixExpr()
	if err != nil {
		return nil, err
	}
	if p.at(lexer.TokenAsteriskAsterisk) {
		tok := p.next()
		rhs, err := p.prefixExpr()
		if err != nil {
			return nil, err
		}
		return &Infix{Tok: tok, Op: InfixPow, LHS: lhs, RHS: rhs}, nil
	}
	return lhs, nil
}

func (p *Parser) suffixExpr() (Node, error) {
	lhs, err := p.primaryExpr()
	if err != nil {
		return nil, err
	}
	for {
		switch p.peek().Type {
		case lexer.TokenLBracket:
			tok := p.next()
			p.skipNl++
			index, err := p.expr()
			if err != nil {
				return nil, err
			}
			p.skipNl--
			if _, err := p.expect(lexer.TokenRBracket); err != nil {
				return nil, err
			}
			lhs = &ArrAccess{Tok: tok, LHS: lhs, Index: index}
		case lexer.TokenLParen:
			tok := p.next()
			call := &Call{Tok: tok, LHS: lhs}
			p.skipNl++
			for !p.at(lexer.TokenRParen) {
				arg, err := p.expr()
				if err != nil {
					return nil, err
				}
				call.Args = append(call.Args, arg)
				if !p.match(lexer.TokenComma) {
					break
				}
			}
			p.skipNl--
			if _, err := p.expect(lexer.TokenRParen); err != nil {
				return nil, err
			}
			lhs = call
		case lexer.TokenPeriod:
			tok := p.next()
			name, err := p.expect(lexer.TokenIdent)
			if err != nil {
				return nil, err
			}
			lhs = &Member{Tok: tok, LHS: lhs, Name: name.Lexeme}
		default:
			return lhs, nil
		}
	}
}

func (p *Parser) primaryExpr() (Node, error) {
	tok := p.peek()
	switch tok.Type {
	case lexer.TokenNumber:
		p.next()
		return &Literal{Tok: tok, Kind: numberLitKind(tok.Lexeme)}, nil
	case lexer.TokenString:
		p.next()
		return &Literal{Tok: tok, Kind: LitStr}, nil
	case lexer.TokenTrue:
		p.next()
		return &Literal{Tok: tok, Kind: LitTrue}, nil
	case lexer.TokenFalse:
		p.next()
		return &Literal{Tok: tok, Kind: LitFalse}, nil
	case lexer.TokenIdent:
		p.next()
		return &Ident{Tok: tok, Name: tok.Lexeme}, nil
	case lexer.TokenUnderscore:
		p.next()
		return &Discard{Tok: tok}, nil
	case lexer.TokenLParen:
		return p.parenExpr()
	case lexer.TokenLBracket:
		return p.listExpr()
	case lexer.TokenLBrace:
		return p.mapOrBlockExpr()
	case lexer.TokenError:
		p.next()
		if _, err := p.expect(lexer.TokenLParen); err != nil {
			return nil, err
		}
		p.skipNl++
		value, err := p.expr()
		if err != nil {
			return nil, err
		}
		p.skipNl--
		if _, err := p.expect(lexer.TokenRParen); err != nil {
			return nil, err
		}
		return &ErrorExpr{Tok: tok, Value: value}, nil
	case lexer.TokenImport:
		p.next()
		if _, err := p.expect(lexer.TokenLParen); err != nil {
			return nil, err
		}
		pathTok, err := p.expect(lexer.TokenString)
		if err != nil {
			return nil, err
		}
		path, err := lexer.ParseString(pathTok.Lexeme)
		if err != nil {
			return nil, p.fail(pathTok, "invalid import path")
		}
		if _, err := p.expect(lexer.TokenRParen); err != nil {
			return nil, err
		}
		return &Import{Tok: tok, Path: path}, nil
	case lexer.TokenIf:
		return p.ifExpr()
	case lexer.TokenWhile:
		return p.whileExpr()
	case lexer.TokenFor:
		return p.forExpr()
	case lexer.TokenMatch:
		return p.matchExpr()
	case lexer.TokenFn:
		return p.fnExpr()
	}
	return nil, p.fail(tok, "expected an expression, found '%s'", tok.Type)
}

// numberLitKind distinguishes int from num literals by shape: a fraction
// or exponent makes a num.
func numberLitKind(lexeme string) LiteralKind {
	if strings.HasPrefix(lexeme, "0x") || strings.HasPrefix(lexeme, "0X") {
		if strings.ContainsAny(lexeme, "pP") {
			return LitNum
		}
		return LitInt
	}
	if strings.HasPrefix(lexeme, "0b") || strings.HasPrefix(lexeme, "0o") {
		return LitInt
	}
	if strings.ContainsAny(lexeme, ".eE") {
		return LitNum
	}
	return LitInt
}

// parenExpr is `()` (none), `(expr)` (grouping) or `(a, b, ...)` (tuple).
func (p *Parser) parenExpr() (Node, error) {
	tok := p.next()
	p.skipNl++
	defer func() { p.skipNl-- }()
	if p.at(lexer.TokenRParen) {
		p.next()
		return &Literal{Tok: tok, Kind: LitNone}, nil
	}
	first, err := p.expr()
	if err != nil {
		return nil, err
	}
	if !p.at(lexer.TokenComma) {
		if _, err := p.expect(lexer.TokenRParen); err != nil {
			return nil, err
		}
		return &Grouped{Tok: tok, Expr: first}, nil
	}
	tuple := &ListTupleMapBlock{Tok: tok, Kind: CollTuple, Items: []Node{first}}
	for p.match(lexer.TokenComma) {
		if p.at(lexer.TokenRParen) {
			break
		}
		item, err := p.expr()
		if err != nil {
			return nil, err
		}
		tuple.Items = append(tuple.Items, item)
	}
	if _, err := p.expect(lexer.TokenRParen); err != nil {
		return nil, err
	}
	return tuple, nil
}

func (p *Parser) listExpr() (Node, error) {
	tok := p.next()
	list := &ListTupleMapBlock{Tok: tok, Kind: CollList}
	p.skipNl++
	for !p.at(lexer.TokenRBracket) {
		item, err := p.expr()
		if err != nil {
			return nil, err
		}
		list.Items = append(list.Items, item)
		if !p.match(lexer.TokenComma) {
			break
		}
	}
	p.skipNl--
	if _, err := p.expect(lexer.TokenRBracket); err != nil {
		return nil, err
	}
	return list, nil
}

// mapOrBlockExpr disambiguates `{`: a newline right after the brace opens
// a block, anything else a map literal.
func (p *Parser) mapOrBlockExpr() (Node, error) {
	tok := p.next()
	if p.tokens[p.pos].Type == lexer.TokenNl {
		return p.blockExpr(tok)
	}
	m := &ListTupleMapBlock{Tok: tok, Kind: CollMap}
	p.skipNl++
	for !p.at(lexer.TokenRBrace) {
		item, err := p.mapItem()
		if err != nil {
			return nil, err
		}
		m.Items = append(m.Items, item)
		if !p.match(lexer.TokenComma) {
			break
		}
	}
	p.skipNl--
	if _, err := p.expect(lexer.TokenRBrace); err != nil {
		return nil, err
	}
	return m, nil
}

func (p *Parser) mapItem() (Node, error) {
	tok := p.peek()
	key, err := p.expr()
	if err != nil {
		return nil, err
	}
	if p.match(lexer.TokenColon) {
		value, err := p.expr()
		if err != nil {
			return nil, err
		}
		return &MapItem{Tok: tok, Key: key, Value: value}, nil
	}
	// Shorthand `{x}` is `{x: x}` with the identifier as the key.
	return &MapItem{Tok: tok, Value: key}, nil
}

// blockExpr parses `{ Nl (stmt Nl)* }` with newlines significant inside.
func (p *Parser) blockExpr(tok lexer.Token) (Node, error) {
	block := &ListTupleMapBlock{Tok: tok, Kind: CollBlock}
	saved := p.skipNl
	p.skipNl = 0
	defer func() { p.skipNl = saved }()
	for {
		p.eatNewlines()
		if p.at(lexer.TokenRBrace) {
			p.next()
			return block, nil
		}
		if p.at(lexer.TokenEof) {
			return nil, p.fail(p.peek(), "expected '}', found '%s'", p.peek().Type)
		}
		stmt, err := p.stmt()
		if err != nil {
			return nil, err
		}
		block.Items = append(block.Items, stmt)
		if err := p.expectStmtEnd(); err != nil {
			return nil, err
		}
	}
}

// loopHeader parses `( (let pattern =)? cond )`, shared by if and while.
func (p *Parser) loopHeader() (pattern, cond Node, err error) {
	if _, err = p.expect(lexer.TokenLParen); err != nil {
		return nil, nil, err
	}
	p.skipNl++
	defer func() { p.skipNl-- }()
	if p.match(lexer.TokenLet) {
		pattern, err = p.unwrap()
		if err != nil {
			return nil, nil, err
		}
		if _, err = p.expect(lexer.TokenEqual); err != nil {
			return nil, nil, err
		}
	}
	cond, err = p.expr()
	if err != nil {
		return nil, nil, err
	}
	if _, err = p.expect(lexer.TokenRParen); err != nil {
		return nil, nil, err
	}
	return pattern, cond, nil
}

func (p *Parser) ifExpr() (Node, error) {
	tok := p.next()
	pattern, cond, err := p.loopHeader()
	if err != nil {
		return nil, err
	}
	body, err := p.expr()
	if err != nil {
		return nil, err
	}
	node := &If{Tok: tok, Pattern: pattern, Cond: cond, Body: body}
	// `else` may sit on the same line or after newlines.
	saved := p.pos
	p.eatNewlines()
	if p.match(lexer.TokenElse) {
		elseBody, err := p.expr()
		if err != nil {
			return nil, err
		}
		node.Else = elseBody
	} else {
		p.pos = saved
	}
	return node, nil
}

func (p *Parser) whileExpr() (Node, error) {
	tok := p.next()
	pattern, cond, err := p.loopHeader()
	if err != nil {
		return nil, err
	}
	body, err := p.expr()
	if err != nil {
		return nil, err
	}
	return &While{Tok: tok, Pattern: pattern, Cond: cond, Body: body}, nil
}

func (p *Parser) forExpr() (Node, error) {
	tok := p.next()
	if _, err := p.expect(lexer.TokenLParen); err != nil {
		return nil, err
	}
	p.skipNl++
	node := &For{Tok: tok}
	if p.match(lexer.TokenLet) {
		pattern, err := p.unwrap()
		if err != nil {
			return nil, err
		}
		node.Pattern = pattern
		if _, err := p.expect(lexer.TokenIn); err != nil {
			return nil, err
		}
	}
	iter, err := p.expr()
	if err != nil {
		return nil, err
	}
	node.Iterable = iter
	p.skipNl--
	if _, err := p.expect(lexer.TokenRParen); err != nil {
		return nil, err
	}
	body, err := p.expr()
	if err != nil {
		return nil, err
	}
	node.Body = body
	return node, nil
}

func (p *Parser) matchExpr() (Node, error) {
	tok := p.next()
	if _, err := p.expect(lexer.TokenLParen); err != nil {
		return nil, err
	}
	p.skipNl++
	scrutinee, err := p.expr()
	if err != nil {
		return nil, err
	}
	p.skipNl--
	if _, err := p.expect(lexer.TokenRParen); err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.TokenLBrace); err != nil {
		return nil, err
	}
	node := &Match{Tok: tok, Expr: scrutinee}
	saved := p.skipNl
	p.skipNl = 0
	defer func() { p.skipNl = saved }()
	if p.tokens[p.pos].Type != lexer.TokenNl {
		return nil, p.fail(p.tokens[p.pos], "expected a newline after '{'")
	}
	for {
		p.eatNewlines()
		if p.at(lexer.TokenRBrace) {
			p.next()
			if len(node.Cases) == 0 {
				return nil, p.fail(tok, "match requires at least one case")
			}
			return node, nil
		}
		if p.at(lexer.TokenEof) {
			return nil, p.fail(p.peek(), "expected '}', found '%s'", p.peek().Type)
		}
		c, err := p.matchCase()
		if err != nil {
			return nil, err
		}
		node.Cases = append(node.Cases, c)
		if err := p.expectStmtEnd(); err != nil {
			return nil, err
		}
	}
}

func (p *Parser) matchCase() (Node, error) {
	tok := p.peek()
	switch tok.Type {
	case lexer.TokenUnderscore:
		p.next()
		if _, err := p.expect(lexer.TokenColon); err != nil {
			return nil, err
		}
		body, err := p.expr()
		if err != nil {
			return nil, err
		}
		return &MatchCatchAll{Tok: tok, Body: body}, nil
	case lexer.TokenLet:
		p.next()
		pattern, err := p.unwrap()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(lexer.TokenColon); err != nil {
			return nil, err
		}
		body, err := p.expr()
		if err != nil {
			return nil, err
		}
		return &MatchLet{Tok: tok, Pattern: pattern, Body: body}, nil
	default:
		c := &MatchCase{Tok: tok}
		for {
			item, err := p.expr()
			if err != nil {
				return nil, err
			}
			c.Items = append(c.Items, item)
			if !p.match(lexer.TokenComma) {
				break
			}
			if p.at(lexer.TokenColon) {
				break
			}
		}
		if _, err := p.expect(lexer.TokenColon); err != nil {
			return nil, err
		}
		body, err := p.expr()
		if err != nil {
			return nil, err
		}
		c.Body = body
		return c, nil
	}
}

// unwrap parses a destructuring pattern: identifier, `_`, tuple, list,
// map, or `error(pattern)`.
func (p *Parser) unwrap() (Node, error) {
	tok := p.peek()
	switch tok.Type {
	case lexer.TokenIdent:
		p.next()
		return &Ident{Tok: tok, Name: tok.Lexeme}, nil
	case lexer.TokenUnderscore:
		p.next()
		return &Discard{Tok: tok}, nil
	case lexer.TokenError:
		p.next()
		if _, err := p.expect(lexer.TokenLParen); err != nil {
			return nil, err
		}
		inner, err := p.unwrap()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(lexer.TokenRParen); err != nil {
			return nil, err
		}
		return &ErrorExpr{Tok: tok, Value: inner}, nil
	case lexer.TokenLParen:
		return p.unwrapSeq(lexer.TokenRParen, CollTuple)
	case lexer.TokenLBracket:
		return p.unwrapSeq(lexer.TokenRBracket, CollList)
	case lexer.TokenLBrace:
		return p.unwrapMap()
	}
	return nil, p.fail(tok, "expected an identifier, '_' or a destructuring pattern, found '%s'", tok.Type)
}

func (p *Parser) unwrapSeq(closing lexer.TokenType, kind CollKind) (Node, error) {
	tok := p.next()
	node := &ListTupleMapBlock{Tok: tok, Kind: kind}
	p.skipNl++
	for !p.at(closing) {
		item, err := p.unwrap()
		if err != nil {
			return nil, err
		}
		node.Items = append(node.Items, item)
		if !p.match(lexer.TokenComma) {
			break
		}
	}
	p.skipNl--
	if _, err := p.expect(closing); err != nil {
		return nil, err
	}
	if len(node.Items) == 0 {
		return nil, p.fail(tok, "destructuring pattern cannot be empty")
	}
	return node, nil
}

func (p *Parser) unwrapMap() (Node, error) {
	tok := p.next()
	node := &ListTupleMapBlock{Tok: tok, Kind: CollMap}
	p.skipNl++
	for !p.at(lexer.TokenRBrace) {
		itemTok := p.peek()
		first, err := p.unwrap()
		if err != nil {
			return nil, err
		}
		item := &MapItem{Tok: itemTok, Value: first}
		if p.match(lexer.TokenColon) {
			value, err := p.unwrap()
			if err != nil {
				return nil, err
			}
			item.Key = first
			item.Value = value
		}
		node.Items = append(node.Items, item)
		if !p.match(lexer.TokenComma) {
			break
		}
	}
	p.skipNl--
	if _, err := p.expect(lexer.TokenRBrace); err != nil {
		return nil, err
	}
	if len(node.Items) == 0 {
		return nil, p.fail(tok, "destructuring pattern cannot be empty")
	}
	return node, nil
}
