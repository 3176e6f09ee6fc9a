package binary

import (
	"debug/elf"
	"encoding/binary"
)

// Arch describes the properties of a CPU architecture that frame
// patching depends on.
type Arch struct {
	// Name of the architecture, e.g. "x86_64".
	Name string
	// WordSize is the native word size in bytes.
	WordSize int
	// StackArgs is true when the calling convention passes function
	// arguments on the stack, so the slots at the top of a frame may
	// alias outgoing argument storage.
	StackArgs bool
	// Mode is the x86asm decode mode (16, 32 or 64), zero when the
	// architecture has no instruction tagger.
	Mode int

	// EntryStub locates a secondary entry stub that must not be
	// patched, reached through the program entry point. Nil for
	// architectures without this idiom.
	EntryStub func(img *Image) (uint64, bool)
}

var (
	amd64Arch = &Arch{Name: "x86_64", WordSize: 8, Mode: 64}
	i386Arch  = &Arch{Name: "x86", WordSize: 4, StackArgs: true, Mode: 32}
	mipsArch  = &Arch{Name: "MIPS32", WordSize: 4, EntryStub: mipsEntryStub}
)

// AMD64 returns the x86-64 architecture description.
func AMD64() *Arch { return amd64Arch }

// I386 returns the 32-bit x86 architecture description.
func I386() *Arch { return i386Arch }

// MIPS32 returns the MIPS32 architecture description.
func MIPS32() *Arch { return mipsArch }

func archForMachine(m elf.Machine) *Arch {
	switch m {
	case elf.EM_X86_64:
		return amd64Arch
	case elf.EM_386:
		return i386Arch
	case elf.EM_MIPS:
		return mipsArch
	}
	return nil
}

// mipsEntryStub scans the entry block for the jal that reaches the
// second half of the MIPS startup sequence. That target is part of the
// entry point and resizing its frame breaks program startup.
func mipsEntryStub(img *Image) (uint64, bool) {
	const maxEntryWords = 32
	code, err := img.Bytes(img.Entry(), 4*maxEntryWords)
	if err != nil {
		return 0, false
	}
	var order binary.ByteOrder = binary.LittleEndian
	if img.bigEndian {
		order = binary.BigEndian
	}
	for i := 0; i+4 <= len(code); i += 4 {
		word := order.Uint32(code[i:])
		if word>>26 != 0x03 { // jal
			continue
		}
		pc := img.Entry() + uint64(i)
		target := (pc & 0xf0000000) | uint64(word&0x03ffffff)<<2
		return target, true
	}
	return 0, false
}
