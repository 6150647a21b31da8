package ast

import "testing"

func TestNewArrayAppend(t *testing.T) {
	arr := &NewArray{}
	arr.Append(Constant{Text: "1"})
	arr.Append(Constant{Text: "2"})
	if len(arr.Elements) != 2 {
		t.Fatalf("Elements = %d, want 2", len(arr.Elements))
	}
	if c, ok := arr.Elements[0].(Constant); !ok || c.Text != "1" {
		t.Errorf("Elements[0] = %#v, want Constant{1}", arr.Elements[0])
	}
}

func TestNewTableAppendSlotPreservesOrder(t *testing.T) {
	tbl := &NewTable{}
	tbl.AppendSlot(Constant{Text: `"b"`, Label: "b"}, Constant{Text: "2"})
	tbl.AppendSlot(Constant{Text: `"a"`, Label: "a"}, Constant{Text: "1"})
	if len(tbl.Entries) != 2 {
		t.Fatalf("Entries = %d, want 2", len(tbl.Entries))
	}
	if tbl.Entries[0].Key.(Constant).Label != "b" {
		t.Errorf("Entries[0].Key.Label = %q, want %q (insertion order, not key order)", tbl.Entries[0].Key.(Constant).Label, "b")
	}
}

func TestNewClassAppendMemberAndRename(t *testing.T) {
	cls := &NewClass{}
	cls.AppendMember(ClassMember{Key: Constant{Text: `"run"`, Label: "run"}, Value: Constant{Text: "1"}, Static: true})
	if len(cls.Members) != 1 || !cls.Members[0].Static {
		t.Fatalf("Members = %#v, want one static member", cls.Members)
	}
	if cls.Name != "" {
		t.Fatalf("Name = %q before Rename, want empty", cls.Name)
	}
	cls.Rename("Widget")
	if cls.Name != "Widget" {
		t.Errorf("Name after Rename = %q, want Widget", cls.Name)
	}
}

func TestLeafExpressionsReportMaxPriority(t *testing.T) {
	leaves := []Expression{
		Constant{Text: "1"},
		Variable{Name: "v"},
		LocalVariable{Name: "v"},
		RootTable{},
		This{},
		Base{},
	}
	for _, e := range leaves {
		if p := e.Priority(); p != MaxPriority {
			t.Errorf("%#v.Priority() = %d, want MaxPriority (%d)", e, p, MaxPriority)
		}
	}
}

func TestBinaryAndUnaryPriorityDelegatesToOp(t *testing.T) {
	bin := Binary{Op: BinMul}
	if bin.Priority() != BinMul.Priority() {
		t.Errorf("Binary.Priority() = %d, want %d", bin.Priority(), BinMul.Priority())
	}
	un := Unary{Op: UnaryPostInc}
	if un.Priority() != UnaryPostInc.Priority() {
		t.Errorf("Unary.Priority() = %d, want %d", un.Priority(), UnaryPostInc.Priority())
	}
}
