package tagger

// instrFields locates the displacement and immediate fields inside one
// encoded x86 instruction. It only needs to be correct for the
// instruction shapes the tagger emits bindings for: ModRM-form ALU and
// data-movement instructions addressing through SP or BP.
type instrFields struct {
	dispOff, dispLen int
	immOff, immLen   int
}

var legacyPrefixes = map[byte]bool{
	0xf0: true, 0xf2: true, 0xf3: true,
	0x2e: true, 0x36: true, 0x3e: true, 0x26: true, 0x64: true, 0x65: true,
	0x66: true, 0x67: true,
}

// x86Fields walks the encoding of code (one whole instruction) and
// returns the field layout. mode is 32 or 64.
func x86Fields(code []byte, mode int) (instrFields, bool) {
	var f instrFields
	i := 0

	for i < len(code) && legacyPrefixes[code[i]] {
		i++
	}
	if mode == 64 && i < len(code) && code[i]&0xf0 == 0x40 { // REX
		i++
	}
	if i >= len(code) {
		return f, false
	}

	// Opcode: one byte, or 0F / 0F 38 / 0F 3A escapes.
	if code[i] == 0x0f {
		i++
		if i < len(code) && (code[i] == 0x38 || code[i] == 0x3a) {
			i++
		}
		i++
	} else {
		i++
	}
	if i >= len(code) {
		return f, false
	}

	modrm := code[i]
	i++
	mod := modrm >> 6
	rm := modrm & 7

	if mod != 3 && rm == 4 { // SIB
		i++
	}

	switch {
	case mod == 1:
		f.dispOff, f.dispLen = i, 1
	case mod == 2:
		f.dispOff, f.dispLen = i, 4
	case mod == 0 && rm == 5:
		f.dispOff, f.dispLen = i, 4
	}
	i += f.dispLen

	if i < len(code) {
		f.immOff, f.immLen = i, len(code)-i
	}
	return f, true
}
