package solver

import "testing"

func mustEval(t *testing.T, s *Solver, e Expr) int64 {
	t.Helper()
	v, ok := s.Eval(e)
	if !ok {
		t.Fatalf("Eval(%s): store unsatisfiable", e)
	}
	return v
}

func TestIntervalAndAlignment(t *testing.T) {
	s := New("t")
	size := s.BV("stack_size", 64)
	s.Assert(
		Ge(Var(size), Const(0x14)),
		Le(Var(size), Const(0x40)),
		Divisible(Var(size), 8),
	)
	if !s.Satisfiable() {
		t.Fatal("expected satisfiable")
	}
	if got := mustEval(t, s, Var(size)); got != 0x18 {
		t.Errorf("expected smallest aligned value 0x18, got %#x", got)
	}
}

func TestHintPreferredWhenFeasible(t *testing.T) {
	s := New("t")
	size := s.BV("stack_size", 64)
	size.SetHint(0x20)
	s.Assert(Ge(Var(size), Const(0x10)), Divisible(Var(size), 8))
	if got := mustEval(t, s, Var(size)); got != 0x20 {
		t.Errorf("expected hint 0x20, got %#x", got)
	}
}

func TestEqualityElimination(t *testing.T) {
	s := New("t")
	imm := s.BV("imm", 32)
	size := s.BV("stack_size", 64)
	// imm == size, size >= 0x18, aligned.
	s.Assert(
		Eq(Var(imm), Var(size)),
		Ge(Var(size), Const(0x18)),
		Divisible(Var(size), 8),
	)
	if got := mustEval(t, s, Var(imm)); got != 0x18 {
		t.Errorf("imm should track size: got %#x", got)
	}
	if got := mustEval(t, s, Var(imm).Sub(Var(size))); got != 0 {
		t.Errorf("imm - size should be 0, got %#x", got)
	}
}

func TestNarrowFieldBoundsGrowth(t *testing.T) {
	s := New("t")
	imm := s.BV("imm", 8) // imm8 field: signed [-128, 127]
	size := s.BV("stack_size", 64)
	s.Assert(Eq(Var(imm), Var(size)))

	if !s.Satisfiable(Ge(Var(size), Const(0x70))) {
		t.Error("0x70 fits an imm8 field")
	}
	if s.Satisfiable(Ge(Var(size), Const(0x90))) {
		t.Error("0x90 cannot fit an imm8 field")
	}
}

func TestExtrasAreNotCommitted(t *testing.T) {
	s := New("t")
	size := s.BV("stack_size", 64)
	s.Assert(Ge(Var(size), Const(8)))

	if !s.Satisfiable(Eq(Var(size), Const(16))) {
		t.Fatal("transient equality should be satisfiable")
	}
	// The transient constraint must not have been committed.
	if !s.Satisfiable(Eq(Var(size), Const(24))) {
		t.Fatal("conflicting transient equality should still be satisfiable")
	}
	if n := s.NumConstraints(); n != 1 {
		t.Errorf("expected 1 committed constraint, got %d", n)
	}
}

func TestUnsatisfiableCore(t *testing.T) {
	s := New("t")
	size := s.BV("stack_size", 64)
	s.Assert(Ge(Var(size), Const(0x20)), Le(Var(size), Const(0x10)))
	if s.Satisfiable() {
		t.Fatal("expected unsatisfiable")
	}
	if _, ok := s.Eval(Var(size)); ok {
		t.Fatal("Eval should fail on an unsatisfiable store")
	}
}

func TestUnconstrainedKeepsHint(t *testing.T) {
	s := New("t")
	disp := s.BV("disp", 8)
	disp.SetHint(-4)
	if got := mustEval(t, s, Var(disp)); got != -4 {
		t.Errorf("unconstrained value should keep its hint, got %d", got)
	}
}

func TestDeterministicRepeatedQueries(t *testing.T) {
	s := New("t")
	size := s.BV("stack_size", 64)
	s.Assert(Ge(Var(size), Const(0x11)), Divisible(Var(size), 4))
	first := mustEval(t, s, Var(size))
	for i := 0; i < 10; i++ {
		if got := mustEval(t, s, Var(size)); got != first {
			t.Fatalf("model changed across queries: %#x vs %#x", got, first)
		}
	}
}
