package solver

import (
	"fmt"
	"strings"
)

// BV is a symbolic bit-vector value allocated from a Solver. Values are
// interpreted as two's complement signed integers of the given width.
type BV struct {
	name  string
	width uint
	ord   int

	hasHint bool
	hint    int64
}

// Name returns the name the bit-vector was allocated under.
func (v *BV) Name() string { return v.name }

// Width returns the bit width of the value.
func (v *BV) Width() uint { return v.width }

// SetHint records the concrete value v held before any resizing. When
// the constraint store leaves v otherwise unconstrained the model
// evaluator returns the hint, so unconstrained values keep their
// original assignment.
func (v *BV) SetHint(h int64) {
	v.hasHint = true
	v.hint = h
}

func (v *BV) rangeMin() int64 {
	if v.width >= 64 {
		return -1 << 62 // headroom so arithmetic on bounds cannot wrap
	}
	return -1 << (v.width - 1)
}

func (v *BV) rangeMax() int64 {
	if v.width >= 64 {
		return 1 << 62
	}
	return 1<<(v.width-1) - 1
}

type term struct {
	v    *BV
	coef int64
}

// Expr is a linear combination of bit-vector values plus a constant.
// Arithmetic on expressions happens at the solver's working width
// (64-bit); narrower values are sign-extended, which matches their
// signed interpretation.
type Expr struct {
	terms []term // sorted by allocation order, no zero coefficients
	c     int64
}

// Const returns a constant expression.
func Const(c int64) Expr { return Expr{c: c} }

// Var returns an expression holding a single bit-vector value.
func Var(v *BV) Expr { return Expr{terms: []term{{v, 1}}} }

// Add returns e + o.
func (e Expr) Add(o Expr) Expr {
	out := Expr{c: e.c + o.c}
	i, j := 0, 0
	for i < len(e.terms) || j < len(o.terms) {
		switch {
		case j >= len(o.terms) || (i < len(e.terms) && e.terms[i].v.ord < o.terms[j].v.ord):
			out.terms = append(out.terms, e.terms[i])
			i++
		case i >= len(e.terms) || o.terms[j].v.ord < e.terms[i].v.ord:
			out.terms = append(out.terms, o.terms[j])
			j++
		default:
			if c := e.terms[i].coef + o.terms[j].coef; c != 0 {
				out.terms = append(out.terms, term{e.terms[i].v, c})
			}
			i++
			j++
		}
	}
	return out
}

// Sub returns e - o.
func (e Expr) Sub(o Expr) Expr { return e.Add(o.Neg()) }

// Neg returns -e.
func (e Expr) Neg() Expr {
	out := Expr{c: -e.c, terms: make([]term, len(e.terms))}
	for i, t := range e.terms {
		out.terms[i] = term{t.v, -t.coef}
	}
	return out
}

// Symbolic reports whether the expression references any bit-vector
// value, as opposed to being a plain constant.
func (e Expr) Symbolic() bool { return len(e.terms) > 0 }

func (e Expr) String() string {
	if len(e.terms) == 0 {
		return fmt.Sprintf("%#x", e.c)
	}
	var b strings.Builder
	for i, t := range e.terms {
		if i > 0 && t.coef >= 0 {
			b.WriteString(" + ")
		} else if t.coef < 0 {
			b.WriteString(" - ")
		}
		if c := t.coef; c != 1 && c != -1 {
			if c < 0 {
				c = -c
			}
			fmt.Fprintf(&b, "%d*", c)
		}
		b.WriteString(t.v.name)
	}
	if e.c != 0 {
		fmt.Fprintf(&b, " + %#x", e.c)
	}
	return b.String()
}

type constraintOp int

const (
	opEq0 constraintOp = iota // e == 0
	opGe0                     // e >= 0
	opLe0                     // e <= 0
	opMod                     // e % m == 0
)

// Constraint is a single assertion over bit-vector expressions.
type Constraint struct {
	op constraintOp
	e  Expr
	m  int64
}

// Eq returns the constraint a == b.
func Eq(a, b Expr) Constraint { return Constraint{op: opEq0, e: a.Sub(b)} }

// Ge returns the constraint a >= b.
func Ge(a, b Expr) Constraint { return Constraint{op: opGe0, e: a.Sub(b)} }

// Le returns the constraint a <= b.
func Le(a, b Expr) Constraint { return Constraint{op: opLe0, e: a.Sub(b)} }

// Divisible returns the constraint e % m == 0.
func Divisible(e Expr, m int64) Constraint { return Constraint{op: opMod, e: e, m: m} }

func (c Constraint) String() string {
	switch c.op {
	case opEq0:
		return c.e.String() + " == 0"
	case opGe0:
		return c.e.String() + " >= 0"
	case opLe0:
		return c.e.String() + " <= 0"
	case opMod:
		return fmt.Sprintf("%s %% %d == 0", c.e.String(), c.m)
	}
	return "?"
}
