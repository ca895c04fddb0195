package parser

import (
	"testing"

	bogerr "bog/internal/errors"
)

func parse(t *testing.T, src string) *Tree {
	t.Helper()
	tree, err := Parse("test", []byte(src), bogerr.NewList())
	if err != nil {
		t.Fatalf("parse %q: %v", src, err)
	}
	return tree
}

func parseExpr(t *testing.T, src string) Node {
	t.Helper()
	tree := parse(t, src)
	if len(tree.Stmts) != 1 {
		t.Fatalf("%q: got %d statements, want 1", src, len(tree.Stmts))
	}
	return tree.Stmts[0]
}

func expectFail(t *testing.T, src string, kind bogerr.Kind) {
	t.Helper()
	_, err := Parse("test", []byte(src), bogerr.NewList())
	if err == nil {
		t.Fatalf("%q should fail", src)
	}
	if got := bogerr.KindOf(err); got != kind {
		t.Fatalf("%q: kind = %s, want %s", src, got, kind)
	}
}

func TestParseLet(t *testing.T) {
	n := parseExpr(t, "let x = 1")
	let, ok := n.(*Let)
	if !ok {
		t.Fatalf("got %T, want *Let", n)
	}
	if _, ok := let.Pattern.(*Ident); !ok {
		t.Fatalf("pattern is %T, want *Ident", let.Pattern)
	}
	if lit, ok := let.Body.(*Literal); !ok || lit.Kind != LitInt {
		t.Fatalf("body is %T, want int literal", let.Body)
	}
}

func TestParsePrecedence(t *testing.T) {
	// 1 + 2 * 3 parses as 1 + (2 * 3).
	n := parseExpr(t, "1 + 2 * 3")
	add, ok := n.(*Infix)
	if !ok || add.Op != InfixAdd {
		t.Fatalf("root is %T, want add", n)
	}
	mul, ok := add.RHS.(*Infix)
	if !ok || mul.Op != InfixMul {
		t.Fatalf("rhs is %T, want mul", add.RHS)
	}
}

func TestParsePowerRightAssoc(t *testing.T) {
	// 2 ** 3 ** 2 parses as 2 ** (3 ** 2).
	n := parseExpr(t, "2 ** 3 ** 2")
	pow, ok := n.(*Infix)
	if !ok || pow.Op != InfixPow {
		t.Fatalf("root is %T", n)
	}
	if inner, ok := pow.RHS.(*Infix); !ok || inner.Op != InfixPow {
		t.Fatalf("rhs is %T, want pow", pow.RHS)
	}
}

func TestParsePowerBindsTighterThanPrefix(t *testing.T) {
	// -2 ** 2 parses as -(2 ** 2).
	n := parseExpr(t, "-2 ** 2")
	neg, ok := n.(*Prefix)
	if !ok || neg.Op != PrefixMinus {
		t.Fatalf("root is %T, want unary minus", n)
	}
	if pow, ok := neg.RHS.(*Infix); !ok || pow.Op != InfixPow {
		t.Fatalf("operand is %T, want pow", neg.RHS)
	}
}

func TestParseBoolChains(t *testing.T) {
	n := parseExpr(t, "a and b and c")
	root, ok := n.(*Infix)
	if !ok || root.Op != InfixBoolAnd {
		t.Fatalf("root is %T", n)
	}
	expectFail(t, "a and b or c", bogerr.ParseError)
	expectFail(t, "a or b and c", bogerr.ParseError)
}

func TestParseComparisonNonAssociative(t *testing.T) {
	expectFail(t, "1 < 2 < 3", bogerr.ParseError)
}

func TestParseSuffixChain(t *testing.T) {
	// a.b[0](1) chains left to right.
	n := parseExpr(t, "a.b[0](1)")
	call, ok := n.(*Call)
	if !ok || len(call.Args) != 1 {
		t.Fatalf("root is %T", n)
	}
	idx, ok := call.LHS.(*ArrAccess)
	if !ok {
		t.Fatalf("callee is %T, want index", call.LHS)
	}
	if _, ok := idx.LHS.(*Member); !ok {
		t.Fatalf("index base is %T, want member", idx.LHS)
	}
}

func TestParseCollections(t *testing.T) {
	if n := parseExpr(t, "[1, 2, 3]").(*ListTupleMapBlock); n.Kind != CollList || len(n.Items) != 3 {
		t.Fatalf("list: kind %d, %d items", n.Kind, len(n.Items))
	}
	if n := parseExpr(t, "(1, 2)").(*ListTupleMapBlock); n.Kind != CollTuple || len(n.Items) != 2 {
		t.Fatalf("tuple: kind %d, %d items", n.Kind, len(n.Items))
	}
	if n := parseExpr(t, "{a: 1, b: 2}").(*ListTupleMapBlock); n.Kind != CollMap || len(n.Items) != 2 {
		t.Fatalf("map: kind %d, %d items", n.Kind, len(n.Items))
	}
	if _, ok := parseExpr(t, "()").(*Literal); !ok {
		t.Fatal("() should be the none literal")
	}
	if _, ok := parseExpr(t, "(1)").(*Grouped); !ok {
		t.Fatal("(1) should be grouped")
	}
}

func TestParseBlock(t *testing.T) {
	n := parseExpr(t, "{\n\tlet x = 1\n\tx = 2\n}")
	block, ok := n.(*ListTupleMapBlock)
	if !ok || block.Kind != CollBlock {
		t.Fatalf("got %T", n)
	}
	if len(block.Items) != 2 {
		t.Fatalf("got %d statements, want 2", len(block.Items))
	}
}

func TestParseNewlineTermination(t *testing.T) {
	tree := parse(t, "let x = 1\nlet y = 2\n")
	if len(tree.Stmts) != 2 {
		t.Fatalf("got %d statements, want 2", len(tree.Stmts))
	}
	// Newlines are insignificant inside brackets.
	parse(t, "let x = [1,\n2,\n3]")
	parse(t, "let y = f(\n1,\n2\n)")
	// A statement cannot continue onto the next line without brackets.
	expectFail(t, "let x = 1\n* 2", bogerr.ParseError)
}

func TestParseAssignInsideBrackets(t *testing.T) {
	expectFail(t, "f(a = 1)", bogerr.ParseError)
}

func TestParseIf(t *testing.T) {
	n := parseExpr(t, "if (x) 1 else 2")
	node, ok := n.(*If)
	if !ok || node.Else == nil || node.Pattern != nil {
		t.Fatalf("got %T, pattern %v, else %v", n, node.Pattern, node.Else)
	}
	withLet := parseExpr(t, "if (let v = x) v").(*If)
	if withLet.Pattern == nil {
		t.Fatal("if-let should carry a pattern")
	}
}

func TestParseForWhile(t *testing.T) {
	loop := parseExpr(t, "for (let v in xs) v").(*For)
	if loop.Pattern == nil {
		t.Fatal("for-let should carry a pattern")
	}
	bare := parseExpr(t, "for (xs) 1").(*For)
	if bare.Pattern != nil {
		t.Fatal("bare for should not carry a pattern")
	}
	while := parseExpr(t, "while (x < 10) x += 1").(*While)
	if while.Pattern != nil {
		t.Fatal("plain while should not carry a pattern")
	}
}

func TestParseMatch(t *testing.T) {
	src := "match (x) {\n\t1, 2: \"low\"\n\tlet y: y\n\t_: \"other\"\n}"
	node := parseExpr(t, src).(*Match)
	if len(node.Cases) != 3 {
		t.Fatalf("got %d cases, want 3", len(node.Cases))
	}
	if c, ok := node.Cases[0].(*MatchCase); !ok || len(c.Items) != 2 {
		t.Fatalf("case 0 is %T", node.Cases[0])
	}
	if _, ok := node.Cases[1].(*MatchLet); !ok {
		t.Fatalf("case 1 is %T", node.Cases[1])
	}
	if _, ok := node.Cases[2].(*MatchCatchAll); !ok {
		t.Fatalf("case 2 is %T", node.Cases[2])
	}
}

func TestParseCatch(t *testing.T) {
	n := parseExpr(t, "f() catch 0")
	if c, ok := n.(*Catch); !ok || c.Pattern != nil {
		t.Fatalf("got %T", n)
	}
	bound := parseExpr(t, "f() catch let e: e").(*Catch)
	if bound.Pattern == nil {
		t.Fatal("catch-let should carry a pattern")
	}
}

func TestParseFn(t *testing.T) {
	anon := parseExpr(t, "fn(a, b) a").(*Fn)
	if anon.Name != "" || len(anon.Params) != 2 {
		t.Fatalf("name %q, %d params", anon.Name, len(anon.Params))
	}
	named := parseExpr(t, "fn square(x) x * x").(*Fn)
	if named.Name != "square" {
		t.Fatalf("name = %q", named.Name)
	}
}

func TestParsePatterns(t *testing.T) {
	tuple := parseExpr(t, "let (a, b) = x").(*Let)
	if p, ok := tuple.Pattern.(*ListTupleMapBlock); !ok || p.Kind != CollTuple {
		t.Fatalf("pattern is %T", tuple.Pattern)
	}
	list := parseExpr(t, "let [a, _] = x").(*Let)
	if p, ok := list.Pattern.(*ListTupleMapBlock); !ok || p.Kind != CollList {
		t.Fatalf("pattern is %T", list.Pattern)
	}
	m := parseExpr(t, "let {a, b: c} = x").(*Let)
	if p, ok := m.Pattern.(*ListTupleMapBlock); !ok || p.Kind != CollMap || len(p.Items) != 2 {
		t.Fatalf("pattern is %T", m.Pattern)
	}
	wrapped := parseExpr(t, "let error(e) = x").(*Let)
	if _, ok := wrapped.Pattern.(*ErrorExpr); !ok {
		t.Fatalf("pattern is %T", wrapped.Pattern)
	}
	expectFail(t, "let 1 = x", bogerr.ParseError)
}

func TestParseTypeInfix(t *testing.T) {
	is := parseExpr(t, "x is int").(*TypeInfix)
	if is.Op != TypeIs || is.TypeName != "int" {
		t.Fatalf("op %d, name %q", is.Op, is.TypeName)
	}
	as := parseExpr(t, "x as str").(*TypeInfix)
	if as.Op != TypeAs || as.TypeName != "str" {
		t.Fatalf("op %d, name %q", as.Op, as.TypeName)
	}
	expectFail(t, "x is banana", bogerr.ParseError)
	expectFail(t, "x as err", bogerr.ParseError)
}

func TestParseImportError(t *testing.T) {
	imp := parseExpr(t, `import("std")`).(*Import)
	if imp.Path != "std" {
		t.Fatalf("path = %q", imp.Path)
	}
	wrapped := parseExpr(t, `error(1)`).(*ErrorExpr)
	if _, ok := wrapped.Value.(*Literal); !ok {
		t.Fatalf("value is %T", wrapped.Value)
	}
}

func TestParseJumps(t *testing.T) {
	ret := parseExpr(t, "return 1").(*Return)
	if ret.Value == nil {
		t.Fatal("return should carry a value")
	}
	bare := parseExpr(t, "return").(*Return)
	if bare.Value != nil {
		t.Fatal("bare return should not carry a value")
	}
	brk := parseExpr(t, "while (true) break 1").(*While)
	if _, ok := brk.Body.(*Break); !ok {
		t.Fatalf("body is %T", brk.Body)
	}
}

func TestParseRange(t *testing.T) {
	n := parseExpr(t, "1...10").(*Infix)
	if n.Op != InfixRange {
		t.Fatalf("op = %d", n.Op)
	}
}

func TestParseTokenizeErrorKind(t *testing.T) {
	expectFail(t, "09", bogerr.TokenizeError)
}
