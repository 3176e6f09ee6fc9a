// Package solver implements the constraint backend used for frame
// resizing: bit-vector values, linear constraints over them, and
// incremental satisfiability checks with one-model extraction.
//
// The frame modeler only ever emits difference-form constraints (every
// equality ties one value to one other value plus a constant), so a
// full SMT solver is not needed; the store reduces every value to a
// linear function of the free values and decides satisfiability by
// interval and congruence propagation. Model extraction is
// deterministic: an unconstrained value evaluates to its hint, a
// bounded one to the smallest feasible value.
package solver

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/stackmend/stackmend/pkg/logflags"
)

// Solver accumulates asserted constraints and answers satisfiability
// queries, optionally with transient extra constraints that are not
// committed to the store.
type Solver struct {
	name     string
	vars     []*BV
	asserted []Constraint
	log      *logrus.Entry
}

// New returns an empty constraint store.
func New(name string) *Solver {
	return &Solver{name: name, log: logflags.SolverLogger()}
}

// BV allocates a fresh bit-vector value of the given width in bits.
func (s *Solver) BV(name string, width uint) *BV {
	v := &BV{name: name, width: width, ord: len(s.vars)}
	s.vars = append(s.vars, v)
	return v
}

// Assert commits constraints to the store permanently.
func (s *Solver) Assert(cs ...Constraint) {
	s.asserted = append(s.asserted, cs...)
	if logflags.Solver() {
		for _, c := range cs {
			s.log.Debugf("%s: assert %s", s.name, c)
		}
	}
}

// NumConstraints returns the number of committed constraints.
func (s *Solver) NumConstraints() int { return len(s.asserted) }

// Satisfiable reports whether the committed constraints, plus any
// transient extra constraints, admit a model.
func (s *Solver) Satisfiable(extra ...Constraint) bool {
	_, ok := s.solve(extra)
	if logflags.Solver() {
		s.log.Debugf("%s: satisfiable with %d extra = %v", s.name, len(extra), ok)
	}
	return ok
}

// Eval returns one concrete value for e under a model of the committed
// constraints. The second return is false if the store is
// unsatisfiable.
func (s *Solver) Eval(e Expr) (int64, bool) {
	m, ok := s.solve(nil)
	if !ok {
		return 0, false
	}
	return m.eval(e), true
}

func (s *Solver) String() string {
	return fmt.Sprintf("solver %s: %d values, %d constraints", s.name, len(s.vars), len(s.asserted))
}

type model struct {
	subst map[*BV]Expr
	vals  map[*BV]int64
}

func (m *model) eval(e Expr) int64 {
	e = applySubst(e, m.subst)
	out := e.c
	for _, t := range e.terms {
		out += t.coef * m.vals[t.v]
	}
	return out
}

// applySubst rewrites e until it references no substituted value.
func applySubst(e Expr, subst map[*BV]Expr) Expr {
	for iter := 0; iter <= len(subst); iter++ {
		again := false
		out := Const(e.c)
		for _, t := range e.terms {
			if r, ok := subst[t.v]; ok {
				scaled := Const(0)
				for i := int64(0); i < abs64(t.coef); i++ {
					scaled = scaled.Add(r)
				}
				if t.coef < 0 {
					scaled = scaled.Neg()
				}
				out = out.Add(scaled)
				again = true
			} else {
				out = out.Add(Expr{terms: []term{t}})
			}
		}
		e = out
		if !again {
			return e
		}
	}
	return e
}

func abs64(x int64) int64 {
	if x < 0 {
		return -x
	}
	return x
}

type bounds struct {
	lo, hi     int64
	hasLo      bool
	hasHi      bool
	pinned     bool
	pin        int64
	congruence []Constraint // single-term mod constraints, kept in arrival order
}

const boundInf = int64(1) << 62

// solve runs substitution, interval and congruence propagation over
// the committed constraints plus extra, and produces one model.
func (s *Solver) solve(extra []Constraint) (*model, bool) {
	cons := make([]Constraint, 0, len(s.asserted)+len(extra)+2*len(s.vars))
	cons = append(cons, s.asserted...)
	cons = append(cons, extra...)

	subst := make(map[*BV]Expr)
	consumed := make([]bool, len(cons))

	// Use equalities to eliminate values: an equality with a unit
	// coefficient on some value defines that value in terms of the
	// rest. Solving for the latest-allocated value keeps base values
	// (allocated first) free, which the evaluator then assigns.
	for changed := true; changed; {
		changed = false
		for i, c := range cons {
			if consumed[i] || c.op != opEq0 {
				continue
			}
			le := applySubst(c.e, subst)
			var pick *term
			for j := range le.terms {
				t := &le.terms[j]
				if t.coef != 1 && t.coef != -1 {
					continue
				}
				if pick == nil || t.v.ord > pick.v.ord {
					pick = t
				}
			}
			if pick == nil {
				continue
			}
			rest := le.Sub(Expr{terms: []term{*pick}})
			if pick.coef == 1 {
				rest = rest.Neg()
			}
			subst[pick.v] = rest
			consumed[i] = true
			changed = true
		}
	}

	// Width ranges apply to every value, including eliminated ones
	// (through their defining expression).
	for _, v := range s.vars {
		if v.width >= 64 {
			continue
		}
		e := Var(v)
		cons = append(cons,
			Ge(e, Const(v.rangeMin())),
			Le(e, Const(v.rangeMax())))
		consumed = append(consumed, false, false)
	}

	perVar := make(map[*BV]*bounds)
	var residual []Constraint

	for i, c := range cons {
		if consumed[i] {
			continue
		}
		le := applySubst(c.e, subst)
		switch len(le.terms) {
		case 0:
			ok := false
			switch c.op {
			case opEq0:
				ok = le.c == 0
			case opGe0:
				ok = le.c >= 0
			case opLe0:
				ok = le.c <= 0
			case opMod:
				ok = mod(le.c, c.m) == 0
			}
			if !ok {
				return nil, false
			}
		case 1:
			t := le.terms[0]
			b := perVar[t.v]
			if b == nil {
				b = &bounds{lo: -boundInf, hi: boundInf}
				perVar[t.v] = b
			}
			if !b.apply(c.op, t.coef, le.c, c.m) {
				return nil, false
			}
		default:
			residual = append(residual, Constraint{op: c.op, e: le, m: c.m})
		}
	}

	m := &model{subst: subst, vals: make(map[*BV]int64)}
	for _, v := range s.vars {
		if _, ok := subst[v]; ok {
			continue
		}
		val, ok := chooseValue(v, perVar[v])
		if !ok {
			return nil, false
		}
		m.vals[v] = val
	}
	for _, v := range s.vars {
		if _, ok := subst[v]; ok {
			m.vals[v] = m.eval(Var(v))
		}
	}

	// Constraints that still relate several free values are checked
	// against the chosen model. The modeler's constraint shapes always
	// reduce to single-value form, so this is a conservative backstop,
	// never the common path.
	for _, c := range residual {
		got := m.eval(c.e)
		ok := false
		switch c.op {
		case opEq0:
			ok = got == 0
		case opGe0:
			ok = got >= 0
		case opLe0:
			ok = got <= 0
		case opMod:
			ok = mod(got, c.m) == 0
		}
		if !ok {
			return nil, false
		}
	}
	return m, true
}

// apply folds the single-term constraint coef*v + c (op) 0 into b.
func (b *bounds) apply(op constraintOp, coef, c, m int64) bool {
	switch op {
	case opEq0:
		if mod(-c, coef) != 0 {
			return false
		}
		val := -c / coef
		if b.pinned && b.pin != val {
			return false
		}
		b.pinned = true
		b.pin = val
	case opGe0:
		if coef > 0 {
			b.setLo(ceilDiv(-c, coef))
		} else {
			b.setHi(floorDiv(-c, coef))
		}
	case opLe0:
		if coef > 0 {
			b.setHi(floorDiv(-c, coef))
		} else {
			b.setLo(ceilDiv(-c, coef))
		}
	case opMod:
		b.congruence = append(b.congruence, Constraint{op: opMod, e: Expr{terms: []term{{nil, coef}}, c: c}, m: m})
	}
	return true
}

func (b *bounds) setLo(v int64) {
	if !b.hasLo || v > b.lo {
		b.lo, b.hasLo = v, true
	}
}

func (b *bounds) setHi(v int64) {
	if !b.hasHi || v < b.hi {
		b.hi, b.hasHi = v, true
	}
}

func (b *bounds) admits(x int64) bool {
	if x < b.lo || x > b.hi {
		return false
	}
	for _, c := range b.congruence {
		if mod(c.e.terms[0].coef*x+c.e.c, c.m) != 0 {
			return false
		}
	}
	return true
}

// congruenceScanLimit bounds the search for a value satisfying all
// congruences; moduli here are word sizes, far below this.
const congruenceScanLimit = 1 << 16

func chooseValue(v *BV, b *bounds) (int64, bool) {
	if b == nil {
		if v.hasHint {
			return v.hint, true
		}
		return 0, true
	}
	if b.pinned {
		return b.pin, b.admits(b.pin)
	}
	if v.hasHint && b.admits(v.hint) {
		return v.hint, true
	}
	if !b.hasLo && b.hasHi && b.hi < 0 {
		// Only an upper bound below zero: search downward from it.
		for x, n := b.hi, 0; n < congruenceScanLimit; x, n = x-1, n+1 {
			if b.admits(x) {
				return x, true
			}
		}
		return 0, false
	}
	start := b.lo
	if !b.hasLo {
		start = 0
	}
	for x, n := start, 0; x <= b.hi && n < congruenceScanLimit; x, n = x+1, n+1 {
		if b.admits(x) {
			return x, true
		}
	}
	return 0, false
}

func mod(a, m int64) int64 {
	if m < 0 {
		m = -m
	}
	if m == 0 {
		return a
	}
	r := a % m
	if r < 0 {
		r += m
	}
	return r
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

func ceilDiv(a, b int64) int64 {
	return -floorDiv(-a, b)
}
