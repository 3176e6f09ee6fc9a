package frame

import (
	"fmt"
	"sort"

	bin "github.com/stackmend/stackmend/pkg/binary"
	"github.com/stackmend/stackmend/pkg/solver"
	"github.com/stackmend/stackmend/pkg/tagger"
)

// access is one stack-relative memory reference. It belongs to exactly
// one stackVariable; unsafe accesses reach below the frame boundary
// known at classification time.
type access struct {
	binding *tagger.Binding
	offset  int64
	size    int
	unsafe  bool
	owner   *stackVariable
}

// stackVariable is one logical variable in the frame: the collapsed
// set of accesses covering an overlapping byte range. offset is the
// most negative entry-relative address in the set and stays the map
// key; addr is the variable's sp-relative address, symbolic once the
// tracker is linked.
type stackVariable struct {
	offset   int64
	size     int
	special  bool
	accesses []*access
	addr     *solver.BV
}

func (v *stackVariable) hasUnsafe() bool {
	for _, a := range v.accesses {
		if a.unsafe {
			return true
		}
	}
	return false
}

// tracker owns the offset→variable mapping for one function and the
// function's stack size: a concrete byte count during classification,
// rebound to the symbolic frame size exactly once, by symLink.
type tracker struct {
	img *bin.Image
	sv  *solver.Solver

	stackSize int64
	origSize  int64
	sizeSym   solver.Expr
	linked    bool

	vars        map[int64]*stackVariable
	unsafeOrder []*access
}

func newTracker(img *bin.Image, sv *solver.Solver) *tracker {
	return &tracker{
		img:  img,
		sv:   sv,
		vars: make(map[int64]*stackVariable),
	}
}

func (t *tracker) setStackSize(n int64) {
	if t.linked {
		panic("stack size must stay concrete until link time")
	}
	t.stackSize = n
}

// register files a stack access under the variable at its offset,
// creating the variable if this is its first access. Unsafe accesses
// are also remembered in discovery order for constraint admission.
func (t *tracker) register(b *tagger.Binding, uns bool) *stackVariable {
	return t.registerAccess(b.Value, b.Size, b, uns)
}

func (t *tracker) registerAccess(off int64, size int, b *tagger.Binding, uns bool) *stackVariable {
	a := &access{binding: b, offset: off, size: size, unsafe: uns}
	v := t.vars[off]
	if v == nil {
		v = &stackVariable{offset: off, size: size}
		t.vars[off] = v
	}
	a.owner = v
	v.accesses = append(v.accesses, a)
	if uns {
		t.unsafeOrder = append(t.unsafeOrder, a)
	}
	return v
}

func (t *tracker) numVars() int { return len(t.vars) }

func (t *tracker) numAccesses() int {
	n := 0
	for _, v := range t.vars {
		n += len(v.accesses)
	}
	return n
}

// addrList returns the variable offsets in ascending order.
func (t *tracker) addrList() []int64 {
	out := make([]int64, 0, len(t.vars))
	for off := range t.vars {
		out = append(out, off)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// markSpecials walks upward from the bottom of the frame in word
// steps, marking each variable found as a call-argument shadow slot.
// Those slots alias outgoing argument storage and must keep their
// sp-relative position. The walk stops at the first gap.
func (t *tracker) markSpecials() {
	word := int64(t.img.Arch().WordSize)
	for off := -t.stackSize; ; off += word {
		v, ok := t.vars[off]
		if !ok {
			break
		}
		v.special = true
	}
}

// markAllSpecial pins every variable; used in safe mode, where only
// the allocation itself may change.
func (t *tracker) markAllSpecial() {
	for _, v := range t.vars {
		v.special = true
	}
}

// markSizes sets each variable's size to the smallest width covering
// all of its accesses.
func (t *tracker) markSizes() {
	for _, v := range t.vars {
		end := v.offset + int64(v.size)
		for _, a := range v.accesses {
			if e := a.offset + int64(a.size); e > end {
				end = e
			}
		}
		v.size = int(end - v.offset)
	}
}

// collapse merges variables whose byte ranges overlap, keying each
// merged group at its lowest offset. After collapsing no two
// variables' ranges overlap.
func (t *tracker) collapse() {
	t.markSizes()
	offs := t.addrList()
	var cur *stackVariable
	for _, off := range offs {
		v := t.vars[off]
		if cur != nil && v.offset < cur.offset+int64(cur.size) {
			for _, a := range v.accesses {
				a.owner = cur
			}
			cur.accesses = append(cur.accesses, v.accesses...)
			cur.special = cur.special || v.special
			if end := v.offset + int64(v.size); end > cur.offset+int64(cur.size) {
				cur.size = int(end - cur.offset)
			}
			delete(t.vars, off)
			continue
		}
		cur = v
	}
	t.markSizes()
}

// symLink rebinds the tracker's stack size to the symbolic frame size
// and rewrites every variable's address in terms of it. Safe variables
// keep their entry-relative position; special slots keep their
// sp-relative position. Unsafe variables stay unconstrained here:
// their placement is decided during admission.
func (t *tracker) symLink(size *solver.BV) {
	if t.linked {
		panic("tracker linked twice")
	}
	t.linked = true
	t.origSize = t.stackSize
	t.sizeSym = solver.Var(size)

	for _, off := range t.addrList() {
		v := t.vars[off]
		v.addr = t.sv.BV(fmt.Sprintf("var_%#x", v.offset), 64)
		v.addr.SetHint(v.offset + t.origSize)

		for _, a := range v.accesses {
			if a.binding == nil || !a.binding.Symbolic() {
				continue
			}
			// The access's entry-relative address equals the
			// variable's, shifted by the access's place inside it.
			entryRel := solver.Var(v.addr).Sub(t.sizeSym).Add(solver.Const(a.offset - v.offset))
			t.sv.Assert(solver.Eq(a.binding.Sym(), entryRel))
		}

		switch {
		case v.special:
			t.sv.Assert(solver.Eq(solver.Var(v.addr), solver.Const(v.offset+t.origSize)))
		case !v.hasUnsafe():
			t.sv.Assert(solver.Eq(solver.Var(v.addr).Sub(t.sizeSym), solver.Const(v.offset)))
		}
	}
}

// unsafeCandidates returns, in discovery order, each unsafe access
// together with its candidate constraints: keep the variable at its
// entry-relative position and inside the (grown) frame. Accesses in
// special slots are excluded from resizing decisions.
func (t *tracker) unsafeCandidates() []candidate {
	var out []candidate
	for _, a := range t.unsafeOrder {
		v := a.owner
		if v == nil || v.special || v.addr == nil {
			continue
		}
		out = append(out, candidate{
			access: a,
			cons: []solver.Constraint{
				solver.Eq(solver.Var(v.addr).Sub(t.sizeSym), solver.Const(v.offset)),
				solver.Ge(solver.Var(v.addr), solver.Const(0)),
			},
		})
	}
	return out
}

type candidate struct {
	access *access
	cons   []solver.Constraint
}

// patches emits the byte rewrites for every variable whose solved
// address moved from its pre-resize position.
func (t *tracker) patches() ([]bin.PatchRecord, error) {
	log := frameLog()
	var out []bin.PatchRecord
	for _, off := range t.addrList() {
		v := t.vars[off]
		if v.addr == nil {
			continue
		}
		newAddr, ok := t.sv.Eval(solver.Var(v.addr))
		if !ok {
			return nil, fmt.Errorf("no model value for variable at %#x", v.offset)
		}
		newAddr = t.img.ResignInt(uint64(newAddr), 64)
		oldAddr := v.offset + t.origSize
		if newAddr == oldAddr {
			continue
		}
		log.Debugf("moved %#x (size %d) to sp+%#x", v.offset, v.size, newAddr)
		for _, a := range v.accesses {
			if a.binding == nil {
				continue
			}
			recs, ok := a.binding.PatchData(t.sv)
			if !ok {
				return nil, fmt.Errorf("no model for access at %#x", a.binding.Addr)
			}
			out = append(out, recs...)
		}
	}
	return out, nil
}
