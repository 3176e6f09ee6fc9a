// Package tagger walks a function's instructions and produces the
// ordered stream of stack-effect events that frame patching consumes:
// frame allocations, deallocations, stack-relative accesses and
// dynamic (alloca-style) adjustments.
package tagger

import (
	"encoding/binary"
	"errors"

	lru "github.com/hashicorp/golang-lru"

	bin "github.com/stackmend/stackmend/pkg/binary"
	"github.com/stackmend/stackmend/pkg/solver"
)

// Kind discriminates stack-effect events. The set is closed: consumers
// match it exhaustively and treat any other value as a version skew
// error, never as a silent fallthrough.
type Kind int

const (
	// None marks an event with no stack effect; consumers skip it.
	None Kind = iota
	// Alloc is a stack frame allocation.
	Alloc
	// Dealloc is a stack frame deallocation.
	Dealloc
	// Access is a stack-relative memory reference.
	Access
	// Alloca is a dynamic stack adjustment; the frame size cannot be
	// determined statically and the function must not be patched.
	Alloca
)

func (k Kind) String() string {
	switch k {
	case None:
		return "NONE"
	case Alloc:
		return "STACK_ALLOC"
	case Dealloc:
		return "STACK_DEALLOC"
	case Access:
		return "STACK_ACCESS"
	case Alloca:
		return "STACK_ALLOCA"
	}
	return "UNKNOWN"
}

// Event is one element of a function's stack-effect stream.
type Event struct {
	Kind    Kind
	Binding *Binding
}

// Binding ties an event to the instruction that produced it: where the
// instruction lives, the concrete value observed during tagging, the
// symbolic expression describing its effect, and the encoded field
// that must be rewritten once the model resolves new values.
type Binding struct {
	// Addr is the instruction's virtual address.
	Addr uint64
	// FileOff is the file offset of the instruction's first byte.
	FileOff int64
	// Len is the instruction length in bytes.
	Len int
	// Value is the concrete value observed during tagging: the running
	// stack delta for Alloc, the entry-relative address for Access.
	Value int64
	// Size is the byte width of the memory reference, for Access.
	Size int

	sym    solver.Expr
	symOK  bool
	field  *solver.BV
	fOff   int
	fLen   int
	orig   int64
}

// Sym returns the symbolic expression for the event's observed value.
func (b *Binding) Sym() solver.Expr { return b.sym }

// Symbolic reports whether the observed value depends on the frame
// size, as opposed to being a fixed constant.
func (b *Binding) Symbolic() bool { return b.symOK && b.sym.Symbolic() }

// Span returns the byte span of the producing instruction in the file.
func (b *Binding) Span() (int64, int) { return b.FileOff, b.Len }

// PatchData re-encodes the instruction's bound field under the
// solver's current model. It returns no records when the solved value
// matches the original encoding, and reports false when the model
// cannot be evaluated.
func (b *Binding) PatchData(sv *solver.Solver) ([]bin.PatchRecord, bool) {
	if b.field == nil {
		return nil, true
	}
	v, ok := sv.Eval(solver.Var(b.field))
	if !ok {
		return nil, false
	}
	if v == b.orig {
		return nil, true
	}
	data := make([]byte, b.fLen)
	switch b.fLen {
	case 1:
		data[0] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(data, uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(data, uint32(v))
	default:
		binary.LittleEndian.PutUint64(data, uint64(v))
	}
	return []bin.PatchRecord{{Off: b.FileOff + int64(b.fOff), Data: data}}, true
}

// Source produces the ordered stack-effect stream for one function.
// Events are ordered by ascending instruction address; the greedy
// constraint admission downstream depends on that ordering.
type Source interface {
	FunctionTags(img *bin.Image, sv *solver.Solver, fn bin.Function) ([]Event, error)
}

// ErrNoTagger is returned for architectures without an instruction
// tagger.
var ErrNoTagger = errors.New("no instruction tagger for architecture")

const decodeCacheSize = 512

// New returns the default Source: an x86/x86-64 instruction walker
// with an LRU cache of decoded functions, so re-analysis of a patched
// image does not disassemble everything twice.
func New() (Source, error) {
	cache, err := lru.New(decodeCacheSize)
	if err != nil {
		return nil, err
	}
	return &x86Source{cache: cache}, nil
}
