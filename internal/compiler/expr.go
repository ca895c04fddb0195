// internal/compiler/expr.go
package compiler

import (
	"math"

	"bog/internal/bytecode"
	"bog/internal/lexer"
	"bog/internal/parser"
)

var infixOps = map[parser.InfixOp]bytecode.Op{
	parser.InfixLess:      bytecode.OpLessThan,
	parser.InfixLessEq:    bytecode.OpLessThanEqual,
	parser.InfixGreater:   bytecode.OpGreaterThan,
	parser.InfixGreaterEq: bytecode.OpGreaterThanEqual,
	parser.InfixEqual:     bytecode.OpEqual,
	parser.InfixNotEqual:  bytecode.OpNotEqual,
	parser.InfixIn:        bytecode.OpIn,
	parser.InfixBitAnd:    bytecode.OpBitAnd,
	parser.InfixBitOr:     bytecode.OpBitOr,
	parser.InfixBitXor:    bytecode.OpBitXor,
	parser.InfixShl:       bytecode.OpLShift,
	parser.InfixShr:       bytecode.OpRShift,
	parser.InfixAdd:       bytecode.OpAdd,
	parser.InfixSub:       bytecode.OpSub,
	parser.InfixMul:       bytecode.OpMul,
	parser.InfixDiv:       bytecode.OpDiv,
	parser.InfixDivFloor:  bytecode.OpDivFloor,
	parser.InfixMod:       bytecode.OpMod,
	parser.InfixPow:       bytecode.OpPow,
}

var compoundOps = map[parser.InfixOp]bytecode.Op{
	parser.InfixAddAssign:      bytecode.OpAdd,
	parser.InfixSubAssign:      bytecode.OpSub,
	parser.InfixMulAssign:      bytecode.OpMul,
	parser.InfixPowAssign:      bytecode.OpPow,
	parser.InfixDivAssign:      bytecode.OpDiv,
	parser.InfixDivFloorAssign: bytecode.OpDivFloor,
	parser.InfixModAssign:      bytecode.OpMod,
	parser.InfixShlAssign:      bytecode.OpLShift,
	parser.InfixShrAssign:      bytecode.OpRShift,
	parser.InfixBitAndAssign:   bytecode.OpBitAnd,
	parser.InfixBitOrAssign:    bytecode.OpBitOr,
	parser.InfixBitXorAssign:   bytecode.OpBitXor,
}

// expr compiles an expression and returns the register holding its
// value: a local's home register for plain identifiers, a fresh
// temporary otherwise.
func (c *Compiler) expr(n parser.Node) (byte, error) {
	switch t := n.(type) {
	case *parser.Literal:
		return c.literal(t)
	case *parser.Ident:
		return c.identifier(t)
	case *parser.Discard:
		return 0, c.fail(t.Tok, "'_' is only valid in patterns and assignments")
	case *parser.Grouped:
		return c.expr(t.Expr)
	case *parser.Prefix:
		return c.prefix(t)
	case *parser.Infix:
		return c.infix(t)
	case *parser.TypeInfix:
		return c.typeInfix(t)
	case *parser.ArrAccess:
		return c.arrAccess(t)
	case *parser.Member:
		return c.member(t)
	case *parser.Call:
		return c.call(t)
	case *parser.ListTupleMapBlock:
		return c.collection(t)
	case *parser.If:
		return c.ifExpr(t)
	case *parser.While:
		return c.whileExpr(t)
	case *parser.For:
		return c.forExpr(t)
	case *parser.Match:
		return c.matchExpr(t)
	case *parser.Catch:
		return c.catchExpr(t)
	case *parser.Return:
		return c.returnExpr(t)
	case *parser.Break:
		return c.breakExpr(t)
	case *parser.Continue:
		return c.continueExpr(t)
	case *parser.Import:
		return c.importExpr(t)
	case *parser.ErrorExpr:
		return c.errorExpr(t)
	case *parser.Fn:
		dst, err := c.allocReg(t.Tok)
		if err != nil {
			return 0, err
		}
		if err := c.compileFn(t, dst); err != nil {
			return 0, err
		}
		return dst, nil
	case *parser.Let:
		return 0, c.fail(t.Tok, "'let' is not valid here")
	}
	return 0, c.fail(n.Token(), "invalid expression")
}

// exprInto compiles n and makes sure the result lands in dst.
func (c *Compiler) exprInto(n parser.Node, dst byte) error {
	r, err := c.expr(n)
	if err != nil {
		return err
	}
	if r != dst {
		c.b.Op(bytecode.OpMove).Reg(dst).Reg(r)
	}
	return nil
}

func (c *Compiler) literal(n *parser.Literal) (byte, error) {
	dst, err := c.allocReg(n.Tok)
	if err != nil {
		return 0, err
	}
	switch n.Kind {
	case parser.LitNone:
		c.b.Op(bytecode.OpConstPrimitive).Reg(dst).U8(bytecode.PrimitiveNone)
	case parser.LitTrue:
		c.b.Op(bytecode.OpConstPrimitive).Reg(dst).U8(bytecode.PrimitiveTrue)
	case parser.LitFalse:
		c.b.Op(bytecode.OpConstPrimitive).Reg(dst).U8(bytecode.PrimitiveFalse)
	case parser.LitStr:
		s, err := lexer.ParseString(n.Tok.Lexeme)
		if err != nil {
			return 0, c.fail(n.Tok, "invalid string literal")
		}
		c.b.Op(bytecode.OpConstString).Reg(dst).StrRef(s)
	default:
		num, err := lexer.ParseNumber(n.Tok.Lexeme)
		if err != nil {
			return 0, c.fail(n.Tok, "number literal out of range")
		}
		switch {
		case !num.IsInt:
			c.b.Op(bytecode.OpConstNum).Reg(dst).F64(num.Num)
		case num.Int >= math.MinInt8 && num.Int <= math.MaxInt8:
			c.b.Op(bytecode.OpConstInt8).Reg(dst).I8(int8(num.Int))
		case num.Int >= math.MinInt32 && num.Int <= math.MaxInt32:
			c.b.Op(bytecode.OpConstInt32).Reg(dst).I32(int32(num.Int))
		default:
			c.b.Op(bytecode.OpConstInt64).Reg(dst).I64(num.Int)
		}
	}
	return dst, nil
}

// identifier resolves to a local register, a capture load, or a
// registered native as the outermost fallback.
func (c *Compiler) identifier(n *parser.Ident) (byte, error) {
	if reg, ok := c.fn.resolveLocal(n.Name); ok {
		return reg, nil
	}
	if idx, ok := c.fn.resolveCapture(n.Name); ok {
		dst, err := c.allocReg(n.Tok)
		if err != nil {
			return 0, err
		}
		c.b.Op(bytecode.OpLoadCapture).Reg(dst).U8(idx)
		return dst, nil
	}
	dst, err := c.allocReg(n.Tok)
	if err != nil {
		return 0, err
	}
	c.b.Op(bytecode.OpBuildNative).Reg(dst).StrRef(n.Name)
	return dst, nil
}

func (c *Compiler) prefix(n *parser.Prefix) (byte, error) {
	dst, err := c.allocReg(n.Tok)
	if err != nil {
		return 0, err
	}
	rhs, err := c.expr(n.RHS)
	if err != nil {
		return 0, err
	}
	switch n.Op {
	case parser.PrefixBoolNot:
		c.b.Op(bytecode.OpBoolNot).Reg(dst).Reg(rhs)
	case parser.PrefixMinus:
		c.b.Op(bytecode.OpNegate).Reg(dst).Reg(rhs)
	case parser.PrefixBitNot:
		c.b.Op(bytecode.OpBitNot).Reg(dst).Reg(rhs)
	case parser.PrefixTry:
		c.b.Op(bytecode.OpTry).Reg(dst).Reg(rhs)
	case parser.PrefixPlus:
		// Unary plus is the identity on numbers; adding zero keeps the
		// numeric type check.
		zero, err := c.allocReg(n.Tok)
		if err != nil {
			return 0, err
		}
		c.b.Op(bytecode.OpConstInt8).Reg(zero).I8(0)
		c.b.Op(bytecode.OpAdd).Reg(dst).Reg(rhs).Reg(zero)
	}
	return dst, nil
}

func (c *Compiler) infix(n *parser.Infix) (byte, error) {
	if n.Op.IsAssign() {
		return c.assign(n)
	}
	switch n.Op {
	case parser.InfixBoolAnd, parser.InfixBoolOr:
		return c.boolChain(n)
	case parser.InfixRange:
		dst, err := c.allocReg(n.Tok)
		if err != nil {
			return 0, err
		}
		start, err := c.expr(n.LHS)
		if err != nil {
			return 0, err
		}
		end, err := c.expr(n.RHS)
		if err != nil {
			return 0, err
		}
		c.b.Op(bytecode.OpBuildRange).Reg(dst).Reg(start).Reg(end)
		return dst, nil
	}
	op, ok := infixOps[n.Op]
	if !ok {
		return 0, c.fail(n.Tok, "invalid operator")
	}
	dst, err := c.allocReg(n.Tok)
	if err != nil {
		return 0, err
	}
	lhs, err := c.expr(n.LHS)
	if err != nil {
		return 0, err
	}
	rhs, err := c.expr(n.RHS)
	if err != nil {
		return 0, err
	}
	c.b.Op(op).Reg(dst).Reg(lhs).Reg(rhs)
	return dst, nil
}

// boolChain short-circuits `and`/`or`. The zero-offset jump after the
// right operand keeps the bool type check on the skipped path's twin.
func (c *Compiler) boolChain(n *parser.Infix) (byte, error) {
	dst, err := c.allocReg(n.Tok)
	if err != nil {
		return 0, err
	}
	if err := c.exprInto(n.LHS, dst); err != nil {
		return 0, err
	}
	jumpOp := bytecode.OpJumpFalse
	if n.Op == parser.InfixBoolOr {
		jumpOp = bytecode.OpJumpTrue
	}
	c.b.Op(jumpOp).Reg(dst)
	skipAt := c.b.Pos()
	c.b.U32(0)
	if err := c.exprInto(n.RHS, dst); err != nil {
		return 0, err
	}
	c.b.Op(jumpOp).Reg(dst).U32(0)
	c.b.PatchU32(skipAt, uint32(c.b.Pos()-(skipAt+4)))
	return dst, nil
}

func (c *Compiler) typeInfix(n *parser.TypeInfix) (byte, error) {
	id, ok := bytecode.TypeIDByName(n.TypeName)
	if !ok {
		return 0, c.fail(n.TypeTok, "invalid type name '%s'", n.TypeName)
	}
	dst, err := c.allocReg(n.Tok)
	if err != nil {
		return 0, err
	}
	operand, err := c.expr(n.LHS)
	if err != nil {
		return 0, err
	}
	op := bytecode.OpIs
	if n.Op == parser.TypeAs {
		op = bytecode.OpAs
	}
	c.b.Op(op).Reg(dst).Reg(operand).U8(byte(id))
	return dst, nil
}

func (c *Compiler) arrAccess(n *parser.ArrAccess) (byte, error) {
	dst, err := c.allocReg(n.Tok)
	if err != nil {
		return 0, err
	}
	container, err := c.expr(n.LHS)
	if err != nil {
		return 0, err
	}
	index, err := c.expr(n.Index)
	if err != nil {
		return 0, err
	}
	c.b.Op(bytecode.OpGet).Reg(dst).Reg(container).Reg(index)
	return dst, nil
}

func (c *Compiler) member(n *parser.Member) (byte, error) {
	dst, err := c.allocReg(n.Tok)
	if err != nil {
		return 0, err
	}
	container, err := c.expr(n.LHS)
	if err != nil {
		return 0, err
	}
	key, err := c.allocReg(n.Tok)
	if err != nil {
		return 0, err
	}
	c.b.Op(bytecode.OpConstString).Reg(key).StrRef(n.Name)
	c.b.Op(bytecode.OpGet).Reg(dst).Reg(container).Reg(key)
	return dst, nil
}

// call arranges the return register, callee and a contiguous argument
// window. For member calls the Get that resolves the callee is emitted
// right before Call so the container is consumed as `this`.
func (c *Compiler) call(n *parser.Call) (byte, error) {
	if len(n.Args) > 255 {
		return 0, c.fail(n.Tok, "too many arguments")
	}
	c.b.Op(bytecode.OpLineInfo).U32(n.Tok.Offset)
	dst, err := c.allocReg(n.Tok)
	if err != nil {
		return 0, err
	}
	member, isMember := n.LHS.(*parser.Member)
	var fnReg, objReg, keyReg byte
	if isMember {
		objReg, err = c.expr(member.LHS)
		if err != nil {
			return 0, err
		}
		keyReg, err = c.allocReg(n.Tok)
		if err != nil {
			return 0, err
		}
		c.b.Op(bytecode.OpConstString).Reg(keyReg).StrRef(member.Name)
		fnReg, err = c.allocReg(n.Tok)
		if err != nil {
			return 0, err
		}
	} else {
		fnReg, err = c.expr(n.LHS)
		if err != nil {
			return 0, err
		}
	}
	// Arguments occupy a contiguous window; evaluation temporaries live
	// above it.
	base := c.fn.regTop
	argRegs := make([]byte, len(n.Args))
	for i, arg := range n.Args {
		argRegs[i], err = c.allocReg(arg.Token())
		if err != nil {
			return 0, err
		}
	}
	for i, arg := range n.Args {
		if err := c.exprInto(arg, argRegs[i]); err != nil {
			return 0, err
		}
		c.fn.regTop = base + len(n.Args)
	}
	if isMember {
		c.b.Op(bytecode.OpGet).Reg(fnReg).Reg(objReg).Reg(keyReg)
	}
	c.b.Op(bytecode.OpCall).Reg(dst).Reg(fnReg).Reg(byte(base)).U16(uint16(len(n.Args)))
	return dst, nil
}

func (c *Compiler) collection(n *parser.ListTupleMapBlock) (byte, error) {
	switch n.Kind {
	case parser.CollBlock:
		return c.block(n)
	case parser.CollMap:
		return c.mapLiteral(n)
	}
	if len(n.Items) > math.MaxUint16 {
		return 0, c.fail(n.Tok, "too many elements")
	}
	dst, err := c.allocReg(n.Tok)
	if err != nil {
		return 0, err
	}
	base := c.fn.regTop
	itemRegs := make([]byte, len(n.Items))
	for i, item := range n.Items {
		itemRegs[i], err = c.allocReg(item.Token())
		if err != nil {
			return 0, err
		}
	}
	for i, item := range n.Items {
		if err := c.exprInto(item, itemRegs[i]); err != nil {
			return 0, err
		}
		c.fn.regTop = base + len(n.Items)
	}
	op := bytecode.OpBuildList
	if n.Kind == parser.CollTuple {
		op = bytecode.OpBuildTuple
	}
	c.b.Op(op).Reg(dst).Reg(byte(base)).U16(uint16(len(n.Items)))
	c.fn.regTop = base
	return dst, nil
}

func (c *Compiler) mapLiteral(n *parser.ListTupleMapBlock) (byte, error) {
	if len(n.Items)*2 > math.MaxUint16 {
		return 0, c.fail(n.Tok, "too many entries")
	}
	dst, err := c.allocReg(n.Tok)
	if err != nil {
		return 0, err
	}
	base := c.fn.regTop
	slotRegs := make([]byte, len(n.Items)*2)
	for i := range slotRegs {
		slotRegs[i], err = c.allocReg(n.Tok)
		if err != nil {
			return 0, err
		}
	}
	for i, itemNode := range n.Items {
		item := itemNode.(*parser.MapItem)
		keyReg, valReg := slotRegs[i*2], slotRegs[i*2+1]
		switch {
		case item.Key == nil:
			// Shorthand `{x}`: the identifier is both key and value.
			ident, ok := item.Value.(*parser.Ident)
			if !ok {
				return 0, c.fail(item.Tok, "expected an identifier")
			}
			c.b.Op(bytecode.OpConstString).Reg(keyReg).StrRef(ident.Name)
		case isIdentKey(item.Key):
			c.b.Op(bytecode.OpConstString).Reg(keyReg).StrRef(item.Key.(*parser.Ident).Name)
		default:
			if err := c.exprInto(item.Key, keyReg); err != nil {
				return 0, err
			}
		}
		if err := c.exprInto(item.Value, valReg); err != nil {
			return 0, err
		}
		c.fn.regTop = base + len(slotRegs)
	}
	c.b.Op(bytecode.OpBuildMap).Reg(dst).Reg(byte(base)).U16(uint16(len(n.Items) * 2))
	c.fn.regTop = base
	return dst, nil
}

// isIdentKey reports whether a map key is a bare identifier, which is
// treated as a string key; `{(x): v}` evaluates x instead.
func isIdentKey(n parser.Node) bool {
	_, ok := n.(*parser.Ident)
	return ok
}

func (c *Compiler) block(n *parser.ListTupleMapBlock) (byte, error) {
	dst, err := c.allocReg(n.Tok)
	if err != nil {
		return 0, err
	}
	savedLocals := len(c.fn.locals)
	savedTop := c.fn.regTop
	for _, stmt := range n.Items {
		if err := c.blockStmt(stmt); err != nil {
			return 0, err
		}
	}
	c.fn.locals = c.fn.locals[:savedLocals]
	c.fn.regTop = savedTop
	c.b.Op(bytecode.OpConstPrimitive).Reg(dst).U8(bytecode.PrimitiveNone)
	return dst, nil
}

func (c *Compiler) ifExpr(n *parser.If) (byte, error) {
	dst, err := c.allocReg(n.Tok)
	if err != nil {
		return 0, err
	}
	savedLocals := len(c.fn.locals)
	savedTop := c.fn.regTop
	cond, err := c.expr(n.Cond)
	if err != nil {
		return 0, err
	}
	var elseAt int
	if n.Pattern == nil {
		c.b.Op(bytecode.OpJumpFalse).Reg(cond)
		elseAt = c.b.Pos()
		c.b.U32(0)
	} else {
		c.b.Op(bytecode.OpJumpNone).Reg(cond)
		elseAt = c.b.Pos()
		c.b.U32(0)
		if err := c.bindPatternFromReg(n.Pattern, cond); err != nil {
			return 0, err
		}
	}
	if err := c.exprInto(n.Body, dst); err != nil {
		return 0, err
	}
	c.fn.locals = c.fn.locals[:savedLocals]
	c.fn.regTop = savedTop
	c.b.Op(bytecode.OpJump)
	endAt := c.b.Pos()
	c.b.U32(0)
	c.b.PatchU32(elseAt, uint32(c.b.Pos()-(elseAt+4)))
	if n.Else != nil {
		if err := c.exprInto(n.Else, dst); err != nil {
			return 0, err
		}
	} else {
		c.b.Op(bytecode.OpConstPrimitive).Reg(dst).U8(bytecode.PrimitiveNone)
	}
	c.b.PatchU32(endAt, uint32(c.b.Pos()-(endAt+4)))
	c.fn.regTop = savedTop
	return dst, nil
}

func (c *Compiler) whileExpr(n *parser.While) (byte, error) {
	dst, err := c.allocReg(n.Tok)
	if err != nil {
		return 0, err
	}
	c.b.Op(bytecode.OpConstPrimitive).Reg(dst).U8(bytecode.PrimitiveNone)
	loop := &loopCtx{resultReg: dst, continuePos: c.b.Pos()}
	c.fn.loops = append(c.fn.loops, loop)
	savedLocals := len(c.fn.locals)
	savedTop := c.fn.regTop

	cond, err := c.expr(n.Cond)
	if err != nil {
		return 0, err
	}
	jumpOp := bytecode.OpJumpFalse
	if n.Pattern != nil {
		jumpOp = bytecode.OpJumpNone
	}
	c.b.Op(jumpOp).Reg(cond)
	exitAt := c.b.Pos()
	c.b.U32(0)
	if n.Pattern != nil {
		if err := c.bindPatternFromReg(n.Pattern, cond); err != nil {
			return 0, err
		}
	}
	body, err := c.expr(n.Body)
	if err != nil {
		return 0, err
	}
	c.b.Op(bytecode.OpDiscard).Reg(body)
	c.fn.locals = c.fn.locals[:savedLocals]
	c.fn.regTop = savedTop
	c.b.Op(bytecode.OpJump)
	backAt := c.b.Pos()
	c.b.U32(uint32(int32(loop.continuePos - (backAt + 4))))
	c.b.PatchU32(exitAt, uint32(c.b.Pos()-(exitAt+4)))
	for _, at := range loop.breakPatches {
		c.b.PatchU32(at, uint32(c.b.Pos()-(at+4)))
	}
	c.fn.loops = c.fn.loops[:len(c.fn.loops)-1]
	return dst, nil
}

func (c *Compiler) forExpr(n *parser.For) (byte, error) {
	dst, err := c.allocReg(n.Tok)
	if err != nil {
		return 0, err
	}
	c.b.Op(bytecode.OpConstPrimitive).Reg(dst).U8(bytecode.PrimitiveNone)
	iterReg, err := c.allocReg(n.Tok)
	if err != nil {
		return 0, err
	}
	elemReg, err := c.allocReg(n.Tok)
	if err != nil {
		return 0, err
	}
	iterable, err := c.expr(n.Iterable)
	if err != nil {
		return 0, err
	}
	c.b.Op(bytecode.OpIterInit).Reg(iterReg).Reg(iterable)

	loop := &loopCtx{resultReg: dst, continuePos: c.b.Pos()}
	c.fn.loops = append(c.fn.loops, loop)
	savedLocals := len(c.fn.locals)
	savedTop := c.fn.regTop

	c.b.Op(bytecode.OpIterNext).Reg(elemReg).Reg(iterReg)
	c.b.Op(bytecode.OpJumpNone).Reg(elemReg)
	exitAt := c.b.Pos()
	c.b.U32(0)
	if n.Pattern != nil {
		if err := c.bindPatternFromReg(n.Pattern, elemReg); err != nil {
			return 0, err
		}
	}
	body, err := c.expr(n.Body)
	if err != nil {
		return 0, err
	}
	c.b.Op(bytecode.OpDiscard).Reg(body)
	c.fn.locals = c.fn.locals[:savedLocals]
	c.fn.regTop = savedTop
	c.b.Op(bytecode.OpJump)
	backAt := c.b.Pos()
	c.b.U32(uint32(int32(loop.continuePos - (backAt + 4))))
	c.b.PatchU32(exitAt, uint32(c.b.Pos()-(exitAt+4)))
	for _, at := range loop.breakPatches {
		c.b.PatchU32(at, uint32(c.b.Pos()-(at+4)))
	}
	c.fn.loops = c.fn.loops[:len(c.fn.loops)-1]
	return dst, nil
}

func (c *Compiler) matchExpr(n *parser.Match) (byte, error) {
	dst, err := c.allocReg(n.Tok)
	if err != nil {
		return 0, err
	}
	scrutTmp, err := c.allocReg(n.Tok)
	if err != nil {
		return 0, err
	}
	if err := c.exprInto(n.Expr, scrutTmp); err != nil {
		return 0, err
	}
	var endPatches []int
	for _, caseNode := range n.Cases {
		savedLocals := len(c.fn.locals)
		savedTop := c.fn.regTop
		switch t := caseNode.(type) {
		case *parser.MatchCatchAll:
			if err := c.exprInto(t.Body, dst); err != nil {
				return 0, err
			}
			c.b.Op(bytecode.OpJump)
			endPatches = append(endPatches, c.b.Pos())
			c.b.U32(0)
		case *parser.MatchLet:
			if err := c.bindPatternFromReg(t.Pattern, scrutTmp); err != nil {
				return 0, err
			}
			if err := c.exprInto(t.Body, dst); err != nil {
				return 0, err
			}
			c.b.Op(bytecode.OpJump)
			endPatches = append(endPatches, c.b.Pos())
			c.b.U32(0)
		case *parser.MatchCase:
			cmp, err := c.allocReg(t.Tok)
			if err != nil {
				return 0, err
			}
			var bodyPatches []int
			for _, item := range t.Items {
				itemReg, err := c.expr(item)
				if err != nil {
					return 0, err
				}
				c.b.Op(bytecode.OpEqual).Reg(cmp).Reg(itemReg).Reg(scrutTmp)
				c.b.Op(bytecode.OpJumpTrue).Reg(cmp)
				bodyPatches = append(bodyPatches, c.b.Pos())
				c.b.U32(0)
			}
			c.b.Op(bytecode.OpJump)
			skipAt := c.b.Pos()
			c.b.U32(0)
			for _, at := range bodyPatches {
				c.b.PatchU32(at, uint32(c.b.Pos()-(at+4)))
			}
			if err := c.exprInto(t.Body, dst); err != nil {
				return 0, err
			}
			c.b.Op(bytecode.OpJump)
			endPatches = append(endPatches, c.b.Pos())
			c.b.U32(0)
			c.b.PatchU32(skipAt, uint32(c.b.Pos()-(skipAt+4)))
		}
		c.fn.locals = c.fn.locals[:savedLocals]
		c.fn.regTop = savedTop
	}
	c.b.Op(bytecode.OpConstPrimitive).Reg(dst).U8(bytecode.PrimitiveNone)
	for _, at := range endPatches {
		c.b.PatchU32(at, uint32(c.b.Pos()-(at+4)))
	}
	return dst, nil
}

func (c *Compiler) catchExpr(n *parser.Catch) (byte, error) {
	dst, err := c.allocReg(n.Tok)
	if err != nil {
		return 0, err
	}
	if err := c.exprInto(n.LHS, dst); err != nil {
		return 0, err
	}
	c.b.Op(bytecode.OpJumpNotError).Reg(dst)
	endAt := c.b.Pos()
	c.b.U32(0)
	savedLocals := len(c.fn.locals)
	savedTop := c.fn.regTop
	if n.Pattern != nil {
		tmp, err := c.allocReg(n.Tok)
		if err != nil {
			return 0, err
		}
		c.b.Op(bytecode.OpUnwrapError).Reg(tmp).Reg(dst)
		if err := c.bindPatternFromReg(n.Pattern, tmp); err != nil {
			return 0, err
		}
	}
	if err := c.exprInto(n.RHS, dst); err != nil {
		return 0, err
	}
	c.fn.locals = c.fn.locals[:savedLocals]
	c.fn.regTop = savedTop
	c.b.PatchU32(endAt, uint32(c.b.Pos()-(endAt+4)))
	return dst, nil
}

func (c *Compiler) returnExpr(n *parser.Return) (byte, error) {
	if n.Value != nil {
		r, err := c.expr(n.Value)
		if err != nil {
			return 0, err
		}
		c.b.Op(bytecode.OpReturn).Reg(r)
	} else {
		c.b.Op(bytecode.OpReturnNone)
	}
	return c.unreachableResult(n.Tok)
}

func (c *Compiler) breakExpr(n *parser.Break) (byte, error) {
	if len(c.fn.loops) == 0 {
		return 0, c.fail(n.Tok, "'break' outside a loop")
	}
	loop := c.fn.loops[len(c.fn.loops)-1]
	if n.Value != nil {
		if err := c.exprInto(n.Value, loop.resultReg); err != nil {
			return 0, err
		}
	}
	c.b.Op(bytecode.OpJump)
	loop.breakPatches = append(loop.breakPatches, c.b.Pos())
	c.b.U32(0)
	return c.unreachableResult(n.Tok)
}

func (c *Compiler) continueExpr(n *parser.Continue) (byte, error) {
	if len(c.fn.loops) == 0 {
		return 0, c.fail(n.Tok, "'continue' outside a loop")
	}
	loop := c.fn.loops[len(c.fn.loops)-1]
	c.b.Op(bytecode.OpJump)
	at := c.b.Pos()
	c.b.U32(uint32(int32(loop.continuePos - (at + 4))))
	return c.unreachableResult(n.Tok)
}

// unreachableResult gives jump expressions a value slot for the
// surrounding expression context; it is never observed at runtime.
func (c *Compiler) unreachableResult(tok lexer.Token) (byte, error) {
	dst, err := c.allocReg(tok)
	if err != nil {
		return 0, err
	}
	c.b.Op(bytecode.OpConstPrimitive).Reg(dst).U8(bytecode.PrimitiveNone)
	return dst, nil
}

func (c *Compiler) importExpr(n *parser.Import) (byte, error) {
	dst, err := c.allocReg(n.Tok)
	if err != nil {
		return 0, err
	}
	c.b.Op(bytecode.OpLineInfo).U32(n.Tok.Offset)
	c.b.Op(bytecode.OpImport).Reg(dst).StrRef(n.Path)
	return dst, nil
}

func (c *Compiler) errorExpr(n *parser.ErrorExpr) (byte, error) {
	dst, err := c.allocReg(n.Tok)
	if err != nil {
		return 0, err
	}
	inner, err := c.expr(n.Value)
	if err != nil {
		return 0, err
	}
	c.b.Op(bytecode.OpBuildError).Reg(dst).Reg(inner)
	return dst, nil
}

// assign lowers `=` and the compound assignments. Assignments evaluate
// to none.
func (c *Compiler) assign(n *parser.Infix) (byte, error) {
	switch target := n.LHS.(type) {
	case *parser.Discard:
		if n.Op != parser.InfixAssign {
			return 0, c.fail(n.Tok, "invalid assignment target")
		}
		// Explicit discard: evaluate and drop, errors included.
		if _, err := c.expr(n.RHS); err != nil {
			return 0, err
		}
	case *parser.Ident:
		reg, ok := c.fn.resolveLocal(target.Name)
		if !ok {
			if _, isCapture := c.fn.resolveCapture(target.Name); isCapture {
				return 0, c.fail(target.Tok, "cannot assign to captured variable '%s'", target.Name)
			}
			return 0, c.fail(target.Tok, "use of undeclared identifier '%s'", target.Name)
		}
		if n.Op == parser.InfixAssign {
			if err := c.exprInto(n.RHS, reg); err != nil {
				return 0, err
			}
		} else {
			rhs, err := c.expr(n.RHS)
			if err != nil {
				return 0, err
			}
			c.b.Op(compoundOps[n.Op]).Reg(reg).Reg(reg).Reg(rhs)
		}
	case *parser.ArrAccess:
		container, err := c.expr(target.LHS)
		if err != nil {
			return 0, err
		}
		index, err := c.expr(target.Index)
		if err != nil {
			return 0, err
		}
		if err := c.assignSlot(n, container, index); err != nil {
			return 0, err
		}
	case *parser.Member:
		container, err := c.expr(target.LHS)
		if err != nil {
			return 0, err
		}
		key, err := c.allocReg(target.Tok)
		if err != nil {
			return 0, err
		}
		c.b.Op(bytecode.OpConstString).Reg(key).StrRef(target.Name)
		if err := c.assignSlot(n, container, key); err != nil {
			return 0, err
		}
	default:
		return 0, c.fail(n.Tok, "invalid assignment target")
	}
	dst, err := c.allocReg(n.Tok)
	if err != nil {
		return 0, err
	}
	c.b.Op(bytecode.OpConstPrimitive).Reg(dst).U8(bytecode.PrimitiveNone)
	return dst, nil
}

func (c *Compiler) assignSlot(n *parser.Infix, container, key byte) error {
	if n.Op == parser.InfixAssign {
		val, err := c.expr(n.RHS)
		if err != nil {
			return err
		}
		c.b.Op(bytecode.OpSet).Reg(container).Reg(key).Reg(val)
		return nil
	}
	cur, err := c.allocReg(n.Tok)
	if err != nil {
		return err
	}
	c.b.Op(bytecode.OpGet).Reg(cur).Reg(container).Reg(key)
	rhs, err := c.expr(n.RHS)
	if err != nil {
		return err
	}
	c.b.Op(compoundOps[n.Op]).Reg(cur).Reg(cur).Reg(rhs)
	c.b.Op(bytecode.OpSet).Reg(container).Reg(key).Reg(cur)
	return nil
}
