// Package frame hardens the stack frames of an executable: it models
// each function's frame from its stack-effect event stream, computes a
// safe, alignment-respecting size for it, and emits the byte patches
// that rewrite the frame to that size.
package frame

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	bin "github.com/stackmend/stackmend/pkg/binary"
	"github.com/stackmend/stackmend/pkg/logflags"
	"github.com/stackmend/stackmend/pkg/solver"
	"github.com/stackmend/stackmend/pkg/tagger"
)

func frameLog() *logrus.Entry { return logflags.FrameLogger() }

// Options configures a Patcher.
type Options struct {
	// Safe pins every variable in place; only the allocation size may
	// change.
	Safe bool
	// Whitelist, when non-empty, restricts patching to the named
	// functions. Blacklist excludes functions in any case. Entries
	// ending in '*' match by prefix.
	Whitelist []string
	Blacklist []string
	// Tags overrides the instruction tagging backend. Nil selects the
	// default for the image's architecture.
	Tags tagger.Source
}

// Patcher drives frame analysis over every candidate function of an
// image and accumulates the resulting patch set.
type Patcher struct {
	img    *bin.Image
	tags   tagger.Source
	filter *nameFilter
	safe   bool
	log    *logrus.Entry

	patches   []bin.PatchRecord
	successes int
}

// New returns a Patcher for img.
func New(img *bin.Image, opts Options) (*Patcher, error) {
	tags := opts.Tags
	if tags == nil {
		var err error
		tags, err = tagger.New()
		if err != nil {
			return nil, err
		}
	}
	return &Patcher{
		img:    img,
		tags:   tags,
		filter: newNameFilter(opts.Whitelist, opts.Blacklist),
		safe:   opts.Safe,
		log:    frameLog(),
	}, nil
}

// Successes returns how many functions contributed at least one patch.
func (p *Patcher) Successes() int { return p.successes }

// Patches returns the accumulated patch records.
func (p *Patcher) Patches() []bin.PatchRecord { return p.patches }

// PatchStack analyzes every candidate function in turn. An error means
// the run as a whole cannot be trusted (tagger version skew or a
// modeling defect) and aborts; per-function conditions are logged and
// skipped.
func (p *Patcher) PatchStack() error {
	p.log.Debug("patching function stacks")
	p.patches = p.patches[:0]
	p.successes = 0

	arch := p.img.Arch()
	var doNotTouch uint64
	var haveStub bool
	if arch.EntryStub != nil {
		if addr, ok := arch.EntryStub(p.img); ok {
			haveStub = true
			doNotTouch = addr
			p.log.Debugf("found entry point stub target %#x", addr)
		}
	}

	for _, fn := range p.img.Functions() {
		if fn.Addr == p.img.Entry() {
			p.log.Debug("skipping entry point")
			continue
		}
		if haveStub && fn.Addr == doNotTouch {
			p.log.Debug("skipping entry point stub target")
			continue
		}
		if sec, ok := p.img.SectionFor(fn.Addr); !ok || sec != ".text" {
			p.log.Debugf("skipping function %#x not in .text", fn.Addr)
			continue
		}
		name := fn.DisplayName()
		if !p.filter.allowed(name) {
			p.log.Debugf("function %s removed by whitelist/blacklist", name)
			continue
		}

		p.log.Infof("patching stack of %s", name)
		before := len(p.patches)
		if err := p.patchFunctionStack(fn); err != nil {
			return err
		}
		if len(p.patches) > before {
			p.successes++
		}
	}

	if p.successes == 0 {
		p.log.Error("could not patch any functions' stacks")
	} else {
		p.log.Infof("patched %d functions", p.successes)
	}
	return nil
}

// patchFunctionStack runs classification, collapsing, modeling,
// solving and emission for one function.
func (p *Patcher) patchFunctionStack(fn bin.Function) error {
	sv := solver.New(fmt.Sprintf("frame_%x", fn.Addr))
	events, err := p.tags.FunctionTags(p.img, sv, fn)
	if err != nil {
		p.log.Warnf("\tcannot tag %s: %v", fn.DisplayName(), err)
		return nil
	}

	var allocOp *tagger.Binding
	var deallocOps []*tagger.Binding
	tr := newTracker(p.img, sv)

	for _, ev := range events {
		switch ev.Kind {
		case tagger.None:
			continue
		case tagger.Alloc:
			if allocOp == nil || ev.Binding.Value < allocOp.Value {
				allocOp = ev.Binding
			}
			tr.setStackSize(-allocOp.Value)
		case tagger.Dealloc:
			if !ev.Binding.Symbolic() {
				continue
			}
			deallocOps = append(deallocOps, ev.Binding)
		case tagger.Access:
			tr.register(ev.Binding, ev.Binding.Value < -tr.stackSize)
		case tagger.Alloca:
			p.log.Warn("\tfunction appears to use alloca, abandoning")
			return nil
		default:
			return fmt.Errorf("%w: %d (tagger/classifier version skew)", ErrUnknownTag, ev.Kind)
		}
		p.log.Debugf("\ttag at %#08x: %s: %#x", ev.Binding.Addr, ev.Kind, ev.Binding.Value)
	}

	if allocOp == nil {
		p.log.Info("\tfunction does not appear to have a stack frame (no alloc)")
		return nil
	}
	if len(deallocOps) == 0 {
		p.log.Warn("\tfunction does not ever deallocate stack frame")
	}

	// Slots at the bottom of the frame alias outgoing call arguments
	// when the convention passes them on the stack.
	if p.img.Arch().StackArgs {
		tr.markSpecials()
	}
	if p.safe {
		tr.markAllSpecial()
	}

	if tr.numVars() == 0 {
		p.log.Infof("\tfunction has %#x-byte stack frame, but doesn't use it for local vars", tr.stackSize)
		return nil
	}
	nAcc, nVar := tr.numAccesses(), tr.numVars()
	p.log.Infof("\tfunction has a stack frame of %#x bytes", tr.stackSize)
	p.log.Infof("\t%d accesses to %d addresses are made", nAcc, nVar)
	if logflags.Frame() {
		p.log.Debugf("\tstack addresses: %#x", tr.addrList())
	}

	tr.collapse()

	m, err := buildModel(fn.Addr, sv, tr, allocOp, deallocOps, int64(p.img.Arch().WordSize))
	if err != nil {
		return err
	}
	m.admitUnsafe()

	newSize, recs, err := m.extract()
	if err != nil {
		return err
	}
	if newSize == tr.origSize {
		p.log.Warn("\tunable to resize stack")
		return nil
	}
	p.log.Infof("\tresized stack from %#x to %#x", tr.origSize, newSize)
	p.patches = append(p.patches, recs...)
	return nil
}

// Apply writes the patched image: an identity copy of the input with
// every accumulated patch record overwritten in place, marked
// executable.
func (p *Patcher) Apply(outfile string) error {
	total := 0
	for _, rec := range p.patches {
		total += len(rec.Data)
	}
	p.log.Infof("accumulated %d patches, %d bytes of data", len(p.patches), total)

	if outfile == "" {
		outfile = p.img.Path() + ".out"
	}
	p.log.Debugf("patching to %s", outfile)

	data := make([]byte, len(p.img.Data()))
	copy(data, p.img.Data())
	for _, rec := range p.patches {
		if rec.Off < 0 || rec.Off+int64(len(rec.Data)) > int64(len(data)) {
			return fmt.Errorf("patch at %#x outside image bounds", rec.Off)
		}
		copy(data[rec.Off:], rec.Data)
	}
	if err := os.WriteFile(outfile, data, 0o755); err != nil {
		return err
	}
	p.log.Debug("patching complete")
	return nil
}
