package frame

import (
	bin "github.com/stackmend/stackmend/pkg/binary"
	"github.com/stackmend/stackmend/pkg/solver"
	"github.com/stackmend/stackmend/pkg/tagger"
)

// Growth bound on the resized frame: original + 16 per variable + 32.
// The formula is inherited; it caps pathological growth and is not a
// derived optimum.
const (
	growthPerVar = 16
	growthSlack  = 32
)

// frameModel is the constraint problem for one function's frame: the
// baseline set describing its allocation behavior, plus conditionally
// admitted constraints for its unsafe accesses.
type frameModel struct {
	funcAddr uint64
	sv       *solver.Solver
	size     *solver.BV
	tr       *tracker
	alloc    *tagger.Binding
	deallocs []*tagger.Binding
	origSize int64
}

// buildModel asserts the baseline constraints, links the tracker to
// the symbolic size, and verifies the baseline is satisfiable.
func buildModel(funcAddr uint64, sv *solver.Solver, tr *tracker, alloc *tagger.Binding, deallocs []*tagger.Binding, word int64) (*frameModel, error) {
	m := &frameModel{
		funcAddr: funcAddr,
		sv:       sv,
		tr:       tr,
		alloc:    alloc,
		deallocs: deallocs,
		origSize: tr.stackSize,
	}

	m.size = sv.BV("stack_size", 64)
	m.size.SetHint(m.origSize)
	sizeE := solver.Var(m.size)

	bound := m.origSize + growthPerVar*int64(tr.numVars()) + growthSlack
	sv.Assert(
		solver.Ge(sizeE, solver.Const(m.origSize)),
		solver.Le(sizeE, solver.Const(bound)),
		solver.Divisible(sizeE, word),
		solver.Eq(alloc.Sym(), sizeE.Neg()),
	)
	for _, d := range deallocs {
		sv.Assert(solver.Eq(d.Sym(), solver.Const(0)))
	}

	tr.symLink(m.size)

	if !sv.Satisfiable() {
		return nil, &BaselineUnsatError{FuncAddr: funcAddr}
	}
	return m, nil
}

// admitUnsafe tries each unsafe access's candidate constraints in
// discovery order, committing the ones the model can absorb and
// silently dropping the rest. Greedy and order dependent: earlier
// accesses win ties.
func (m *frameModel) admitUnsafe() {
	log := frameLog()
	for _, c := range m.tr.unsafeCandidates() {
		if m.sv.Satisfiable(c.cons...) {
			m.sv.Assert(c.cons...)
			log.Debugf("added unsafe constraint for access at %#x", c.access.offset)
		} else {
			log.Debugf("did not add unsafe constraint for access at %#x", c.access.offset)
		}
	}
}

// extract requests one concrete frame size and, when it differs from
// the original, re-encodes the allocation, the deallocations and every
// moved variable.
func (m *frameModel) extract() (int64, []bin.PatchRecord, error) {
	newSize, ok := m.sv.Eval(solver.Var(m.size))
	if !ok {
		// The committed set was satisfiable at admission time.
		return 0, nil, &BaselineUnsatError{FuncAddr: m.funcAddr}
	}
	if newSize == m.origSize {
		return newSize, nil, nil
	}

	var out []bin.PatchRecord
	recs, ok := m.alloc.PatchData(m.sv)
	if !ok {
		return 0, nil, &BaselineUnsatError{FuncAddr: m.funcAddr}
	}
	out = append(out, recs...)
	for _, d := range m.deallocs {
		recs, ok := d.PatchData(m.sv)
		if !ok {
			return 0, nil, &BaselineUnsatError{FuncAddr: m.funcAddr}
		}
		out = append(out, recs...)
	}
	varRecs, err := m.tr.patches()
	if err != nil {
		return 0, nil, err
	}
	out = append(out, varRecs...)
	return newSize, out, nil
}
