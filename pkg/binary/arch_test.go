package binary

import (
	"debug/elf"
	"testing"
)

func TestArchForMachine(t *testing.T) {
	cases := []struct {
		machine elf.Machine
		want    *Arch
	}{
		{elf.EM_X86_64, AMD64()},
		{elf.EM_386, I386()},
		{elf.EM_MIPS, MIPS32()},
	}
	for _, c := range cases {
		if got := archForMachine(c.machine); got != c.want {
			t.Errorf("archForMachine(%v) = %v, want %s", c.machine, got, c.want.Name)
		}
	}
	if got := archForMachine(elf.EM_ARM); got != nil {
		t.Errorf("archForMachine(EM_ARM) = %v, want nil", got)
	}
}

func TestArchProperties(t *testing.T) {
	if a := AMD64(); a.WordSize != 8 || a.StackArgs || a.Mode != 64 || a.EntryStub != nil {
		t.Errorf("AMD64 = %+v", a)
	}
	if a := I386(); a.WordSize != 4 || !a.StackArgs || a.Mode != 32 {
		t.Errorf("I386 = %+v", a)
	}
	if a := MIPS32(); a.WordSize != 4 || a.Mode != 0 || a.EntryStub == nil {
		t.Errorf("MIPS32 = %+v", a)
	}
}
