package loader

import (
	"errors"
	"testing"

	"taskos/kernel/arch"
)

func prog(arch.Hart) int { return 0 }

func TestTableABIGate(t *testing.T) {
	tbl, err := NewTable("1.2.0")
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		abi  string
		want error
	}{
		{"1.0.0", nil},
		{"1.2.0", nil},
		{"1.3.0", ErrIncompatABI},
		{"2.0.0", ErrIncompatABI},
		{"0.9.0", ErrIncompatABI},
	}
	for i, tt := range tests {
		img := &Image{Name: string(rune('a' + i)), ABI: tt.abi, Entry: prog}
		err := tbl.Register(img)
		if !errors.Is(err, tt.want) {
			t.Errorf("Register(ABI %s) = %v, want %v", tt.abi, err, tt.want)
		}
	}
	if tbl.NumApp() != 2 {
		t.Fatalf("NumApp() = %d, want 2", tbl.NumApp())
	}
}

func TestTableRejectsDuplicatesAndMissingEntry(t *testing.T) {
	tbl := NewDefaultTable()
	if err := tbl.Register(&Image{Name: "x", ABI: "1.0.0", Entry: prog}); err != nil {
		t.Fatal(err)
	}
	if err := tbl.Register(&Image{Name: "x", ABI: "1.0.0", Entry: prog}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("duplicate Register = %v", err)
	}
	if err := tbl.Register(&Image{Name: "y", ABI: "1.0.0"}); !errors.Is(err, ErrNoEntry) {
		t.Fatalf("Register without entry = %v", err)
	}
}

func TestTableLookupOrder(t *testing.T) {
	tbl := NewDefaultTable().MustRegister(
		&Image{Name: "initproc", ABI: "1.0.0", Entry: prog},
		&Image{Name: "hello", ABI: "1.1.0", Entry: prog},
	)
	if got := tbl.Names(); len(got) != 2 || got[0] != "initproc" || got[1] != "hello" {
		t.Fatalf("Names() = %v", got)
	}
	if _, ok := tbl.AppData("hello"); !ok {
		t.Fatal("AppData(hello) missing")
	}
	if _, ok := tbl.AppData("nope"); ok {
		t.Fatal("AppData(nope) found")
	}
	cx := InitAppContext(&Image{Entry: prog}, 0x2000, 7, 0x9000)
	if cx.SP != 0x2000 || cx.KernelSatp != 7 || cx.KernelSP != 0x9000 || cx.PC == nil {
		t.Fatalf("InitAppContext = %+v", cx)
	}
}
