// internal/compiler/compiler.go
package compiler

import (
	"bog/internal/bytecode"
	bogerr "bog/internal/errors"
	"bog/internal/lexer"
	"bog/internal/parser"
)

// Compiler lowers a parsed tree into a bytecode module. Function bodies
// are emitted inline into the same code stream, skipped over by a jump;
// the module body starts at offset zero.
type Compiler struct {
	b    *bytecode.Builder
	errs *bogerr.List
	fn   *fnScope
}

// local is a named register binding in the current function.
type local struct {
	name string
	reg  byte
}

// capture is one value a function closes over: either a local register
// of the enclosing function or one of its own captures.
type capture struct {
	name      string
	fromLocal bool
	reg       byte
	index     byte
}

// loopCtx tracks the jump targets of the innermost loop.
type loopCtx struct {
	resultReg    byte
	continuePos  int
	breakPatches []int
}

// fnScope is the compile state of one function, with the module body as
// the root scope.
type fnScope struct {
	parent   *fnScope
	locals   []local
	regTop   int
	captures []capture
	loops    []*loopCtx
}

// Compile lowers tree into a module named after the tree.
func Compile(tree *parser.Tree, errs *bogerr.List) (*bytecode.Module, error) {
	c := &Compiler{
		b:    bytecode.NewBuilder(),
		errs: errs,
		fn:   &fnScope{},
	}
	for i, stmt := range tree.Stmts {
		last := i == len(tree.Stmts)-1
		if err := c.stmt(stmt, last); err != nil {
			return nil, err
		}
	}
	c.b.Op(bytecode.OpReturnNone)
	return c.b.Module(tree.Name, 0), nil
}

func (c *Compiler) fail(tok lexer.Token, format string, args ...interface{}) error {
	c.errs.Add(tok.Offset, format, args...)
	return bogerr.New(bogerr.CompileError, format, args...)
}

// allocReg reserves the next free register of the current function.
func (c *Compiler) allocReg(tok lexer.Token) (byte, error) {
	if c.fn.regTop >= 256 {
		return 0, c.fail(tok, "function uses too many registers")
	}
	r := byte(c.fn.regTop)
	c.fn.regTop++
	return r, nil
}

func (c *Compiler) declare(name string, reg byte) {
	c.fn.locals = append(c.fn.locals, local{name: name, reg: reg})
}

// resolveLocal finds name among the current function's locals, innermost
// binding first.
func (fn *fnScope) resolveLocal(name string) (byte, bool) {
	for i := len(fn.locals) - 1; i >= 0; i-- {
		if fn.locals[i].name == name {
			return fn.locals[i].reg, true
		}
	}
	return 0, false
}

// resolveCapture finds name in an enclosing function, adding capture
// entries down the chain. Captures bind by value at function creation.
func (fn *fnScope) resolveCapture(name string) (byte, bool) {
	if fn.parent == nil {
		return 0, false
	}
	for i, cap := range fn.captures {
		if cap.name == name {
			return byte(i), true
		}
	}
	if len(fn.captures) >= 256 {
		return 0, false
	}
	if reg, ok := fn.parent.resolveLocal(name); ok {
		fn.captures = append(fn.captures, capture{name: name, fromLocal: true, reg: reg})
		return byte(len(fn.captures) - 1), true
	}
	if idx, ok := fn.parent.resolveCapture(name); ok {
		fn.captures = append(fn.captures, capture{name: name, index: idx})
		return byte(len(fn.captures) - 1), true
	}
	return 0, false
}

// stmt compiles one statement. The final top-level statement's value
// becomes the module result, so it returns instead of discarding.
func (c *Compiler) stmt(n parser.Node, lastTopLevel bool) error {
	c.b.Op(bytecode.OpLineInfo).U32(n.Token().Offset)
	saved := c.fn.regTop
	switch t := n.(type) {
	case *parser.Let:
		if err := c.compileLet(t); err != nil {
			return err
		}
		c.fn.regTop = saved + countPatternLocals(t.Pattern)
		if lastTopLevel {
			c.b.Op(bytecode.OpReturnNone)
		}
		return nil
	case *parser.Fn:
		if t.Name != "" {
			reg, err := c.allocReg(t.Tok)
			if err != nil {
				return err
			}
			c.declare(t.Name, reg)
			if err := c.compileFn(t, reg); err != nil {
				return err
			}
			c.fn.regTop = saved + 1
			if lastTopLevel {
				c.b.Op(bytecode.OpReturnNone)
			}
			return nil
		}
	}
	reg, err := c.expr(n)
	if err != nil {
		return err
	}
	if lastTopLevel {
		c.b.Op(bytecode.OpReturn).Reg(reg)
	} else {
		c.b.Op(bytecode.OpDiscard).Reg(reg)
	}
	c.fn.regTop = saved
	return nil
}

// blockStmt compiles a statement inside a block expression; values are
// discarded and temporaries released, keeping declared locals.
func (c *Compiler) blockStmt(n parser.Node) error {
	c.b.Op(bytecode.OpLineInfo).U32(n.Token().Offset)
	saved := c.fn.regTop
	switch t := n.(type) {
	case *parser.Let:
		if err := c.compileLet(t); err != nil {
			return err
		}
		c.fn.regTop = saved + countPatternLocals(t.Pattern)
		return nil
	case *parser.Fn:
		if t.Name != "" {
			reg, err := c.allocReg(t.Tok)
			if err != nil {
				return err
			}
			c.declare(t.Name, reg)
			if err := c.compileFn(t, reg); err != nil {
				return err
			}
			c.fn.regTop = saved + 1
			return nil
		}
	}
	reg, err := c.expr(n)
	if err != nil {
		return err
	}
	c.b.Op(bytecode.OpDiscard).Reg(reg)
	c.fn.regTop = saved
	return nil
}

func (c *Compiler) compileLet(n *parser.Let) error {
	return c.bindPattern(n.Pattern, func() (byte, error) {
		return c.expr(n.Body)
	})
}

// bindPattern allocates the pattern's locals below the evaluation
// temporaries, evaluates the source, destructures into the locals and
// finally declares the names. Shadowed bindings stay visible while the
// source expression is evaluated.
func (c *Compiler) bindPattern(pattern parser.Node, source func() (byte, error)) error {
	base := c.fn.regTop
	count := countPatternLocals(pattern)
	for i := 0; i < count; i++ {
		if _, err := c.allocReg(pattern.Token()); err != nil {
			return err
		}
	}
	src, err := source()
	if err != nil {
		return err
	}
	next := byte(base)
	if err := c.destructure(pattern, src, &next); err != nil {
		return err
	}
	declarePatternLocals(c, pattern, byte(base))
	return nil
}

// bindPatternFromReg destructures an already-evaluated source register.
func (c *Compiler) bindPatternFromReg(pattern parser.Node, src byte) error {
	return c.bindPattern(pattern, func() (byte, error) {
		return src, nil
	})
}

func countPatternLocals(n parser.Node) int {
	switch t := n.(type) {
	case *parser.Ident:
		return 1
	case *parser.Discard:
		return 0
	case *parser.ErrorExpr:
		return countPatternLocals(t.Value)
	case *parser.ListTupleMapBlock:
		total := 0
		for _, item := range t.Items {
			total += countPatternLocals(item)
		}
		return total
	case *parser.MapItem:
		return countPatternLocals(t.Value)
	}
	return 0
}

func declarePatternLocals(c *Compiler, n parser.Node, base byte) byte {
	switch t := n.(type) {
	case *parser.Ident:
		c.declare(t.Name, base)
		return base + 1
	case *parser.ErrorExpr:
		return declarePatternLocals(c, t.Value, base)
	case *parser.ListTupleMapBlock:
		for _, item := range t.Items {
			base = declarePatternLocals(c, item, base)
		}
		return base
	case *parser.MapItem:
		return declarePatternLocals(c, t.Value, base)
	}
	return base
}

// destructure emits the loads that move src's components into the
// pre-allocated local registers tracked by next.
func (c *Compiler) destructure(pattern parser.Node, src byte, next *byte) error {
	switch t := pattern.(type) {
	case *parser.Ident:
		c.b.Op(bytecode.OpMove).Reg(*next).Reg(src)
		*next++
		return nil
	case *parser.Discard:
		return nil
	case *parser.ErrorExpr:
		saved := c.fn.regTop
		tmp, err := c.allocReg(t.Tok)
		if err != nil {
			return err
		}
		c.b.Op(bytecode.OpUnwrapError).Reg(tmp).Reg(src)
		if err := c.destructure(t.Value, tmp, next); err != nil {
			return err
		}
		c.fn.regTop = saved
		return nil
	case *parser.ListTupleMapBlock:
		if t.Kind == parser.CollMap {
			return c.destructureMap(t, src, next)
		}
		saved := c.fn.regTop
		idx, err := c.allocReg(t.Tok)
		if err != nil {
			return err
		}
		elem, err := c.allocReg(t.Tok)
		if err != nil {
			return err
		}
		for i, sub := range t.Items {
			c.b.Op(bytecode.OpConstInt8).Reg(idx).I8(int8(i))
			c.b.Op(bytecode.OpGet).Reg(elem).Reg(src).Reg(idx)
			if err := c.destructure(sub, elem, next); err != nil {
				return err
			}
		}
		c.fn.regTop = saved
		return nil
	}
	return c.fail(pattern.Token(), "invalid pattern")
}

func (c *Compiler) destructureMap(t *parser.ListTupleMapBlock, src byte, next *byte) error {
	saved := c.fn.regTop
	key, err := c.allocReg(t.Tok)
	if err != nil {
		return err
	}
	elem, err := c.allocReg(t.Tok)
	if err != nil {
		return err
	}
	for _, itemNode := range t.Items {
		item := itemNode.(*parser.MapItem)
		var name string
		if item.Key != nil {
			ident, ok := item.Key.(*parser.Ident)
			if !ok {
				return c.fail(item.Key.Token(), "map pattern keys must be identifiers")
			}
			name = ident.Name
		} else {
			ident, ok := item.Value.(*parser.Ident)
			if !ok {
				return c.fail(item.Token(), "expected an identifier")
			}
			name = ident.Name
		}
		c.b.Op(bytecode.OpConstString).Reg(key).StrRef(name)
		c.b.Op(bytecode.OpGet).Reg(elem).Reg(src).Reg(key)
		if err := c.destructure(item.Value, elem, next); err != nil {
			return err
		}
	}
	c.fn.regTop = saved
	return nil
}

// compileFn emits a function body inline behind a jump and builds the
// function value into dst, wiring its captures from the enclosing frame.
// Binding dst before this call makes self-recursion visible by capture.
func (c *Compiler) compileFn(n *parser.Fn, dst byte) error {
	if len(n.Params) > 255 {
		return c.fail(n.Tok, "too many parameters")
	}
	c.b.Op(bytecode.OpJump)
	skipAt := c.b.Pos()
	c.b.U32(0)
	entry := c.b.Pos()

	child := &fnScope{parent: c.fn}
	c.fn = child
	// Parameters occupy the first registers of the callee frame, so all
	// of them are reserved before any destructuring allocates locals.
	paramRegs := make([]byte, len(n.Params))
	for i := range n.Params {
		reg, err := c.allocReg(n.Tok)
		if err != nil {
			return err
		}
		paramRegs[i] = reg
	}
	for i, param := range n.Params {
		switch p := param.(type) {
		case *parser.Ident:
			c.declare(p.Name, paramRegs[i])
		case *parser.Discard:
		default:
			if err := c.bindPatternFromReg(param, paramRegs[i]); err != nil {
				return err
			}
		}
	}
	bodyReg, err := c.expr(n.Body)
	if err != nil {
		return err
	}
	c.b.Op(bytecode.OpReturn).Reg(bodyReg)
	captures := child.captures
	c.fn = child.parent

	c.b.PatchU32(skipAt, uint32(c.b.Pos()-(skipAt+4)))
	c.b.Op(bytecode.OpBuildFn).Reg(dst).
		U8(byte(len(n.Params))).U8(byte(len(captures))).U32(uint32(entry))

	saved := c.fn.regTop
	for i, cap := range captures {
		if cap.fromLocal {
			c.b.Op(bytecode.OpStoreCapture).Reg(dst).Reg(cap.reg).U8(byte(i))
			continue
		}
		tmp, err := c.allocReg(n.Tok)
		if err != nil {
			return err
		}
		c.b.Op(bytecode.OpLoadCapture).Reg(tmp).U8(cap.index)
		c.b.Op(bytecode.OpStoreCapture).Reg(dst).Reg(tmp).U8(byte(i))
		c.fn.regTop = saved
	}
	return nil
}
