package tagger

import (
	"fmt"
	"sort"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/arch/x86/x86asm"

	bin "github.com/stackmend/stackmend/pkg/binary"
	"github.com/stackmend/stackmend/pkg/logflags"
	"github.com/stackmend/stackmend/pkg/solver"
)

// x86Source tags x86 and x86-64 functions. It tracks the stack pointer
// symbolically along a linear walk of the function body: concrete
// while only constants moved it, with one fresh bit-vector per
// adjustable immediate once a frame allocation is seen.
type x86Source struct {
	cache *lru.Cache
}

type decodedInstr struct {
	addr uint64
	off  int64
	inst x86asm.Inst
	raw  []byte
}

type decodeKey struct {
	path string
	addr uint64
}

func (s *x86Source) FunctionTags(img *bin.Image, sv *solver.Solver, fn bin.Function) ([]Event, error) {
	arch := img.Arch()
	if arch.Mode == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoTagger, arch.Name)
	}
	instrs, err := s.decodeFunc(img, fn)
	if err != nil {
		return nil, err
	}
	w := walker{img: img, sv: sv, mode: arch.Mode, word: int64(arch.WordSize)}
	events := w.run(instrs)
	// Constraint admission downstream is order dependent; the contract
	// is ascending instruction address no matter how the walk emitted.
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Binding.Addr < events[j].Binding.Addr
	})
	return events, nil
}

func (s *x86Source) decodeFunc(img *bin.Image, fn bin.Function) ([]decodedInstr, error) {
	key := decodeKey{img.Path(), fn.Addr}
	if cached, ok := s.cache.Get(key); ok {
		return cached.([]decodedInstr), nil
	}
	code, err := img.Bytes(fn.Addr, int(fn.Size))
	if err != nil {
		return nil, err
	}
	fileOff, _ := img.FileOffset(fn.Addr)

	log := logflags.TaggerLogger()
	var out []decodedInstr
	for pos := 0; pos < len(code); {
		inst, err := x86asm.Decode(code[pos:], img.Arch().Mode)
		if err != nil {
			// An undecodable byte ends the walk; without a control
			// flow graph there is no safe resynchronization point.
			log.Debugf("stopping decode of %s at %#x: %v", fn.DisplayName(), fn.Addr+uint64(pos), err)
			break
		}
		out = append(out, decodedInstr{
			addr: fn.Addr + uint64(pos),
			off:  fileOff + int64(pos),
			inst: inst,
			raw:  code[pos : pos+inst.Len],
		})
		pos += inst.Len
	}
	s.cache.Add(key, out)
	return out, nil
}

// walker holds the symbolic stack state during one function walk. cur
// is the stack pointer's offset from its value at function entry;
// curConc mirrors it with every adjustable immediate at its original
// concrete value.
type walker struct {
	img  *bin.Image
	sv   *solver.Solver
	mode int
	word int64

	cur     solver.Expr
	curConc int64

	bpKnown bool
	bpSym   solver.Expr
	bpConc  int64

	allocSeen bool
	snapSym   solver.Expr
	snapConc  int64

	events []Event
}

func (w *walker) isSP(r x86asm.Reg) bool { return r == x86asm.RSP || r == x86asm.ESP }
func (w *walker) isBP(r x86asm.Reg) bool { return r == x86asm.RBP || r == x86asm.EBP }

func (w *walker) run(instrs []decodedInstr) []Event {
	w.cur = solver.Const(0)
	for _, di := range instrs {
		w.step(di)
	}
	return w.events
}

func (w *walker) binding(di decodedInstr) *Binding {
	return &Binding{
		Addr:    di.addr,
		FileOff: di.off,
		Len:     di.inst.Len,
	}
}

func (w *walker) emit(k Kind, b *Binding) {
	w.events = append(w.events, Event{Kind: k, Binding: b})
}

func (w *walker) step(di decodedInstr) {
	inst := di.inst
	switch inst.Op {
	case x86asm.PUSH:
		w.cur = w.cur.Sub(solver.Const(w.word))
		w.curConc -= w.word
		return
	case x86asm.POP:
		w.cur = w.cur.Add(solver.Const(w.word))
		w.curConc += w.word
		return
	case x86asm.SUB, x86asm.ADD, x86asm.AND:
		if dst, ok := inst.Args[0].(x86asm.Reg); ok && w.isSP(dst) {
			w.stackAdjust(di)
			return
		}
	case x86asm.MOV:
		dst, dok := inst.Args[0].(x86asm.Reg)
		src, sok := inst.Args[1].(x86asm.Reg)
		if dok && sok {
			if w.isBP(dst) && w.isSP(src) {
				w.bpKnown = true
				w.bpSym = w.cur
				w.bpConc = w.curConc
				return
			}
			if w.isSP(dst) && w.isBP(src) && w.bpKnown {
				b := w.binding(di)
				b.sym, b.symOK = w.bpSym, true
				b.Value = w.bpConc
				w.emit(Dealloc, b)
				w.cur, w.curConc = w.bpSym, w.bpConc
				return
			}
		}
	case x86asm.LEAVE:
		if w.bpKnown {
			b := w.binding(di)
			b.sym, b.symOK = w.bpSym, true
			b.Value = w.bpConc
			w.emit(Dealloc, b)
			w.cur = w.bpSym.Add(solver.Const(w.word))
			w.curConc = w.bpConc + w.word
			w.bpKnown = false
		}
		return
	case x86asm.RET:
		// Code after a return is reached by a jump from inside the
		// frame; resume from the post-allocation state.
		if w.allocSeen {
			w.cur, w.curConc = w.snapSym, w.snapConc
		}
		return
	}

	w.memAccesses(di)
}

// stackAdjust handles SUB/ADD/AND on the stack pointer: frame
// allocation, deallocation, or a dynamic adjustment that makes the
// frame unpatchable.
func (w *walker) stackAdjust(di decodedInstr) {
	imm, immOK := di.inst.Args[1].(x86asm.Imm)
	if !immOK || di.inst.Op == x86asm.AND {
		// Register-sized or aligning adjustments mean the frame size
		// is not a static constant.
		w.emit(Alloca, w.binding(di))
		return
	}

	flds, ok := x86Fields(di.raw, w.mode)
	if !ok || flds.immLen == 0 {
		w.emit(Alloca, w.binding(di))
		return
	}

	b := w.binding(di)
	f := w.sv.BV(fmt.Sprintf("imm_%x", di.addr), uint(flds.immLen)*8)
	f.SetHint(int64(imm))
	b.field, b.fOff, b.fLen, b.orig = f, flds.immOff, flds.immLen, int64(imm)

	switch di.inst.Op {
	case x86asm.SUB:
		w.cur = w.cur.Sub(solver.Var(f))
		w.curConc -= int64(imm)
		b.Value = w.curConc
		b.sym, b.symOK = w.cur, true
		w.allocSeen = true
		w.snapSym, w.snapConc = w.cur, w.curConc
		w.emit(Alloc, b)
	case x86asm.ADD:
		w.cur = w.cur.Add(solver.Var(f))
		w.curConc += int64(imm)
		b.Value = w.curConc
		b.sym, b.symOK = w.cur, true
		w.emit(Dealloc, b)
	}
}

// memAccesses emits an Access event for each stack-relative memory
// operand of the instruction.
func (w *walker) memAccesses(di decodedInstr) {
	for _, arg := range di.inst.Args {
		m, ok := arg.(x86asm.Mem)
		if !ok {
			continue
		}
		var base solver.Expr
		var baseConc int64
		switch {
		case w.isSP(m.Base):
			base, baseConc = w.cur, w.curConc
		case w.isBP(m.Base) && w.bpKnown:
			base, baseConc = w.bpSym, w.bpConc
		default:
			continue
		}

		b := w.binding(di)
		b.Value = m.Disp + baseConc
		b.Size = di.inst.MemBytes
		if b.Size == 0 {
			b.Size = int(w.word)
		}

		sym := base
		if flds, ok := x86Fields(di.raw, w.mode); ok && flds.dispLen > 0 {
			f := w.sv.BV(fmt.Sprintf("disp_%x", di.addr), uint(flds.dispLen)*8)
			f.SetHint(m.Disp)
			b.field, b.fOff, b.fLen, b.orig = f, flds.dispOff, flds.dispLen, m.Disp
			sym = solver.Var(f).Add(base)
		} else {
			sym = base.Add(solver.Const(m.Disp))
		}
		b.sym, b.symOK = sym, true
		w.emit(Access, b)
	}
}
