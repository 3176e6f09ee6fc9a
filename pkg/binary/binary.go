// Package binary loads the executable under analysis and answers the
// questions frame patching asks of it: which functions exist, what
// architecture the image is built for, which section an address lives
// in, and where a virtual address lands in the file.
package binary

import (
	"debug/elf"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/stackmend/stackmend/pkg/logflags"
)

// ErrUnsupportedArch is returned when the image's machine type has no
// entry in the architecture table.
var ErrUnsupportedArch = errors.New("unsupported architecture")

// Function is one function entry discovered in the image.
type Function struct {
	Name string
	Addr uint64
	Size uint64
}

// DisplayName returns the symbol name, or a synthetic sub_<addr> name
// for functions without one.
func (f Function) DisplayName() string {
	if f.Name != "" {
		return f.Name
	}
	return fmt.Sprintf("sub_%x", f.Addr)
}

// Section describes one loaded section of the image.
type Section struct {
	Name    string
	Addr    uint64
	Size    uint64
	FileOff uint64
}

// Image is a loaded executable.
type Image struct {
	path      string
	arch      *Arch
	entry     uint64
	bigEndian bool
	data      []byte
	sections  []Section
	funcs     []Function
}

// PatchRecord is a byte-range replacement to apply to the output
// image. Records produced for one function never overlap.
type PatchRecord struct {
	Off  int64
	Data []byte
}

// Open loads an ELF executable from path.
func Open(path string) (*Image, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	arch := archForMachine(f.Machine)
	if arch == nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedArch, f.Machine)
	}

	var sections []Section
	for _, s := range f.Sections {
		if s.Type == elf.SHT_NULL || s.Flags&elf.SHF_ALLOC == 0 {
			continue
		}
		sections = append(sections, Section{
			Name:    s.Name,
			Addr:    s.Addr,
			Size:    s.Size,
			FileOff: s.Offset,
		})
	}

	var funcs []Function
	syms, err := f.Symbols()
	if err != nil && !errors.Is(err, elf.ErrNoSymbols) {
		return nil, err
	}
	for _, sym := range syms {
		if elf.ST_TYPE(sym.Info) != elf.STT_FUNC || sym.Size == 0 {
			continue
		}
		funcs = append(funcs, Function{Name: sym.Name, Addr: sym.Value, Size: sym.Size})
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	img := &Image{
		path:      path,
		arch:      arch,
		entry:     f.Entry,
		bigEndian: f.Data == elf.ELFDATA2MSB,
		data:      raw,
		sections:  sections,
	}
	img.setFunctions(funcs)
	if logflags.Binary() {
		logflags.BinaryLogger().Debugf("loaded %s: %s, entry %#x, %d sections, %d functions",
			path, arch.Name, img.entry, len(img.sections), len(img.funcs))
	}
	return img, nil
}

// NewImage assembles an image from parts. It exists for loaders other
// than ELF and for tests; Open is the normal entry point.
func NewImage(path string, arch *Arch, entry uint64, data []byte, sections []Section, funcs []Function) *Image {
	img := &Image{
		path:     path,
		arch:     arch,
		entry:    entry,
		data:     data,
		sections: sections,
	}
	img.setFunctions(funcs)
	return img
}

func (img *Image) setFunctions(funcs []Function) {
	sort.Slice(funcs, func(i, j int) bool { return funcs[i].Addr < funcs[j].Addr })
	// Drop duplicate symbols for the same address.
	out := funcs[:0]
	var last uint64
	for i, f := range funcs {
		if i > 0 && f.Addr == last {
			continue
		}
		out = append(out, f)
		last = f.Addr
	}
	img.funcs = out
}

// Path returns the file the image was loaded from.
func (img *Image) Path() string { return img.path }

// Arch returns the image's architecture description.
func (img *Image) Arch() *Arch { return img.arch }

// Entry returns the program entry address.
func (img *Image) Entry() uint64 { return img.entry }

// Functions returns the image's functions in ascending address order.
func (img *Image) Functions() []Function { return img.funcs }

// SectionFor returns the name of the section containing addr.
func (img *Image) SectionFor(addr uint64) (string, bool) {
	for _, s := range img.sections {
		if addr >= s.Addr && addr < s.Addr+s.Size {
			return s.Name, true
		}
	}
	return "", false
}

// FileOffset translates a virtual address to its offset in the file.
func (img *Image) FileOffset(addr uint64) (int64, bool) {
	for _, s := range img.sections {
		if addr >= s.Addr && addr < s.Addr+s.Size {
			return int64(s.FileOff + (addr - s.Addr)), true
		}
	}
	return 0, false
}

// Bytes returns up to n bytes of the image starting at virtual address
// addr, truncated at the end of the containing section.
func (img *Image) Bytes(addr uint64, n int) ([]byte, error) {
	off, ok := img.FileOffset(addr)
	if !ok {
		return nil, fmt.Errorf("address %#x not mapped", addr)
	}
	end := off + int64(n)
	for _, s := range img.sections {
		if addr >= s.Addr && addr < s.Addr+s.Size {
			if max := int64(s.FileOff + s.Size); end > max {
				end = max
			}
			break
		}
	}
	if end > int64(len(img.data)) {
		end = int64(len(img.data))
	}
	if off >= end {
		return nil, fmt.Errorf("address %#x out of file bounds", addr)
	}
	return img.data[off:end], nil
}

// Data returns the raw bytes of the image file.
func (img *Image) Data() []byte { return img.data }

// ResignInt reinterprets an unsigned solver result of the given bit
// width in the architecture's native signed representation.
func (img *Image) ResignInt(v uint64, width uint) int64 {
	if width == 0 || width >= 64 {
		return int64(v)
	}
	if v&(1<<(width-1)) != 0 {
		return int64(v | ^uint64(0)<<width)
	}
	return int64(v)
}
