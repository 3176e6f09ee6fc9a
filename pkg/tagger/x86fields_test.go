package tagger

import "testing"

func fieldsOf(t *testing.T, mode int, code ...byte) instrFields {
	t.Helper()
	f, ok := x86Fields(code, mode)
	if !ok {
		t.Fatalf("x86Fields(% x) failed", code)
	}
	return f
}

func TestFieldsSubImm8(t *testing.T) {
	// sub rsp, 0x20
	f := fieldsOf(t, 64, 0x48, 0x83, 0xec, 0x20)
	if f.dispLen != 0 {
		t.Errorf("no displacement expected, got len %d", f.dispLen)
	}
	if f.immOff != 3 || f.immLen != 1 {
		t.Errorf("imm at %d len %d, want 3 len 1", f.immOff, f.immLen)
	}
}

func TestFieldsSubImm32(t *testing.T) {
	// sub rsp, 0x100
	f := fieldsOf(t, 64, 0x48, 0x81, 0xec, 0x00, 0x01, 0x00, 0x00)
	if f.immOff != 3 || f.immLen != 4 {
		t.Errorf("imm at %d len %d, want 3 len 4", f.immOff, f.immLen)
	}
}

func TestFieldsSPDisp8(t *testing.T) {
	// mov [rsp+0x8], eax
	f := fieldsOf(t, 64, 0x89, 0x44, 0x24, 0x08)
	if f.dispOff != 3 || f.dispLen != 1 {
		t.Errorf("disp at %d len %d, want 3 len 1", f.dispOff, f.dispLen)
	}
	if f.immLen != 0 {
		t.Errorf("no immediate expected, got len %d", f.immLen)
	}
}

func TestFieldsSPDisp8WithImm(t *testing.T) {
	// mov dword [rsp+0x8], 0x11
	f := fieldsOf(t, 64, 0xc7, 0x44, 0x24, 0x08, 0x11, 0x00, 0x00, 0x00)
	if f.dispOff != 3 || f.dispLen != 1 {
		t.Errorf("disp at %d len %d, want 3 len 1", f.dispOff, f.dispLen)
	}
	if f.immOff != 4 || f.immLen != 4 {
		t.Errorf("imm at %d len %d, want 4 len 4", f.immOff, f.immLen)
	}
}

func TestFieldsBPDisp8(t *testing.T) {
	// mov [rbp-0x8], eax: no SIB byte after a BP base
	f := fieldsOf(t, 64, 0x89, 0x45, 0xf8)
	if f.dispOff != 2 || f.dispLen != 1 {
		t.Errorf("disp at %d len %d, want 2 len 1", f.dispOff, f.dispLen)
	}
}

func TestFieldsSPDisp32Mode32(t *testing.T) {
	// mov [esp+0x100], eax
	f := fieldsOf(t, 32, 0x89, 0x84, 0x24, 0x00, 0x01, 0x00, 0x00)
	if f.dispOff != 3 || f.dispLen != 4 {
		t.Errorf("disp at %d len %d, want 3 len 4", f.dispOff, f.dispLen)
	}
}

func TestFieldsNoDisp(t *testing.T) {
	// mov [rsp], eax
	f := fieldsOf(t, 64, 0x89, 0x04, 0x24)
	if f.dispLen != 0 {
		t.Errorf("no displacement expected, got len %d", f.dispLen)
	}
}
