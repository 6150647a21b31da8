package ast

import "testing"

func TestBlockAppendAndAt(t *testing.T) {
	b := NewBlock()
	h := b.Append(Break{})
	if h != 0 {
		t.Errorf("Append handle = %d, want 0", h)
	}
	if _, ok := b.At(h).(Break); !ok {
		t.Errorf("At(%d) = %#v, want Break", h, b.At(h))
	}
	if b.At(5) != nil {
		t.Error("At() for an out-of-range handle should return nil")
	}
}

func TestBlockClearReplacesWithEmpty(t *testing.T) {
	b := NewBlock()
	h := b.Append(ExprStmt{Expression: Constant{Text: "1"}})
	b.Clear(h)
	if _, ok := b.At(h).(Empty); !ok {
		t.Errorf("At(%d) after Clear = %#v, want Empty", h, b.At(h))
	}
}

func TestBlockClearOutOfRangeIsNoOp(t *testing.T) {
	b := NewBlock()
	b.Append(Break{})
	b.Clear(99) // must not panic
	if _, ok := b.At(0).(Break); !ok {
		t.Error("Clear on an out-of-range handle should not disturb existing statements")
	}
}

func TestLoopFlagsHas(t *testing.T) {
	var f LoopFlags
	if f.Has(LoopUsedForwardContinue) {
		t.Error("zero LoopFlags should not report any bit set")
	}
	f |= LoopUsedBackwardContinue
	if !f.Has(LoopUsedBackwardContinue) {
		t.Error("LoopFlags should report the bit it was OR'd with")
	}
	if f.Has(LoopUsedForwardContinue) {
		t.Error("LoopFlags should not report a bit it was never OR'd with")
	}
	f |= LoopUsedForwardContinue
	if !f.Has(LoopUsedForwardContinue) || !f.Has(LoopUsedBackwardContinue) {
		t.Error("LoopFlags should report both bits once both are set")
	}
}

func TestCaseValueNilForDefault(t *testing.T) {
	c := Case{Body: NewBlock()}
	if c.Value != nil {
		t.Errorf("zero-value Case.Value = %#v, want nil", c.Value)
	}
}
