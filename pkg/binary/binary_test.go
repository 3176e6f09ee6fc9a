package binary

import (
	"encoding/binary"
	"testing"
)

func testImage(t *testing.T, arch *Arch, entry uint64, text []byte) *Image {
	t.Helper()
	data := make([]byte, 0x100+len(text))
	copy(data[0x100:], text)
	sections := []Section{
		{Name: ".text", Addr: 0x400000, Size: uint64(len(text)), FileOff: 0x100},
	}
	funcs := []Function{
		{Name: "main", Addr: 0x400000, Size: uint64(len(text))},
	}
	return NewImage("test", arch, entry, data, sections, funcs)
}

func TestFileOffset(t *testing.T) {
	img := testImage(t, amd64Arch, 0x400000, make([]byte, 0x40))
	off, ok := img.FileOffset(0x400010)
	if !ok || off != 0x110 {
		t.Fatalf("FileOffset(0x400010) = %#x, %v; want 0x110, true", off, ok)
	}
	if _, ok := img.FileOffset(0x500000); ok {
		t.Fatal("unmapped address should not resolve")
	}
}

func TestSectionFor(t *testing.T) {
	img := testImage(t, amd64Arch, 0x400000, make([]byte, 0x40))
	name, ok := img.SectionFor(0x40003f)
	if !ok || name != ".text" {
		t.Fatalf("SectionFor = %q, %v; want .text, true", name, ok)
	}
	if _, ok := img.SectionFor(0x400040); ok {
		t.Fatal("address one past the section should not resolve")
	}
}

func TestBytesTruncatesAtSectionEnd(t *testing.T) {
	text := make([]byte, 0x10)
	for i := range text {
		text[i] = byte(i)
	}
	img := testImage(t, amd64Arch, 0x400000, text)
	b, err := img.Bytes(0x400008, 0x100)
	if err != nil {
		t.Fatal(err)
	}
	if len(b) != 8 || b[0] != 8 {
		t.Fatalf("Bytes = %x", b)
	}
}

func TestFunctionOrderingAndDedup(t *testing.T) {
	img := NewImage("test", amd64Arch, 0, nil, nil, []Function{
		{Name: "b", Addr: 0x20, Size: 4},
		{Name: "a", Addr: 0x10, Size: 4},
		{Name: "a2", Addr: 0x10, Size: 4},
	})
	funcs := img.Functions()
	if len(funcs) != 2 || funcs[0].Addr != 0x10 || funcs[1].Addr != 0x20 {
		t.Fatalf("functions = %+v", funcs)
	}
}

func TestDisplayName(t *testing.T) {
	if got := (Function{Addr: 0x8048100}).DisplayName(); got != "sub_8048100" {
		t.Errorf("DisplayName = %q", got)
	}
	if got := (Function{Name: "main", Addr: 1}).DisplayName(); got != "main" {
		t.Errorf("DisplayName = %q", got)
	}
}

func TestMIPSEntryStub(t *testing.T) {
	// Entry block: two nops then jal 0x400100.
	text := make([]byte, 0x20)
	binary.LittleEndian.PutUint32(text[8:], 3<<26|uint32(0x400100>>2))
	img := testImage(t, mipsArch, 0x400000, text)

	target, ok := mipsArch.EntryStub(img)
	if !ok {
		t.Fatal("expected to find the entry stub")
	}
	if target != 0x400100 {
		t.Fatalf("stub target = %#x, want 0x400100", target)
	}
}

func TestMIPSEntryStubAbsent(t *testing.T) {
	img := testImage(t, mipsArch, 0x400000, make([]byte, 0x20))
	if _, ok := mipsArch.EntryStub(img); ok {
		t.Fatal("no jal in entry block, no stub expected")
	}
}

func TestResignInt(t *testing.T) {
	img := testImage(t, amd64Arch, 0, nil)
	if got := img.ResignInt(0xfc, 8); got != -4 {
		t.Errorf("ResignInt(0xfc, 8) = %d, want -4", got)
	}
	if got := img.ResignInt(0x7f, 8); got != 127 {
		t.Errorf("ResignInt(0x7f, 8) = %d, want 127", got)
	}
	if got := img.ResignInt(0xffffffff, 32); got != -1 {
		t.Errorf("ResignInt(0xffffffff, 32) = %d, want -1", got)
	}
}
