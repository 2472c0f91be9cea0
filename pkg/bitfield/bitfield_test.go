package bitfield

import "testing"

func TestNewSizeRounding(t *testing.T) {
	tests := []struct {
		nbits    int
		wantLen  int
	}{
		{0, 0},
		{1, 1},
		{7, 1},
		{8, 1},
		{9, 2},
		{16, 2},
		{17, 3},
	}

	for _, tt := range tests {
		bf := New(tt.nbits)
		if len(bf) != tt.wantLen {
			t.Errorf("New(%d): len = %d, want %d", tt.nbits, len(bf), tt.wantLen)
		}
	}
}

func TestScenarioBitsSetFromBytes(t *testing.T) {
	bf := FromBytes([]byte{1, 3, 5, 7})

	want := map[int]bool{7: true, 14: true, 15: true, 21: true, 23: true, 29: true, 30: true, 31: true}
	for i := 0; i < bf.Len(); i++ {
		if got, expect := bf.Has(i), want[i]; got != expect {
			t.Errorf("Has(%d) = %v, want %v", i, got, expect)
		}
	}
}

func TestSetHasClearAndBounds(t *testing.T) {
	bf := New(10)

	if bf.Has(-1) || bf.Has(100) {
		t.Fatalf("Has on out-of-range index should be false")
	}
	if bf.Set(-1) || bf.Set(100) {
		t.Fatalf("Set on out-of-range index should be a no-op returning false")
	}
	if bf.Clear(-1) || bf.Clear(100) {
		t.Fatalf("Clear on out-of-range index should be a no-op returning false")
	}

	if !bf.Set(3) {
		t.Fatalf("Set(3) should report a change")
	}
	if !bf.Has(3) {
		t.Fatalf("Has(3) should be true after Set(3)")
	}
	if bf.Set(3) {
		t.Fatalf("Set(3) twice should report no change")
	}

	if !bf.Clear(3) {
		t.Fatalf("Clear(3) should report a change")
	}
	if bf.Has(3) {
		t.Fatalf("Has(3) should be false after Clear(3)")
	}
}

func TestFromBytesAndBytesAreIndependentCopies(t *testing.T) {
	src := []byte{0xFF, 0x00}
	bf := FromBytes(src)
	src[0] = 0x00

	if !bf.Has(0) {
		t.Fatalf("FromBytes must copy its input, mutation leaked in")
	}

	out := bf.Bytes()
	out[0] = 0x00
	if !bf.Has(0) {
		t.Fatalf("Bytes must return a copy, mutation leaked back")
	}
}

func TestString(t *testing.T) {
	bf := FromBytes([]byte{0b10100001})
	if got, want := bf.String(), "10100001"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestCountAndEquals(t *testing.T) {
	a := FromBytes([]byte{0b10100001})
	b := FromBytes([]byte{0b10100001})
	c := FromBytes([]byte{0b00000001})

	if a.Count() != 3 {
		t.Errorf("Count() = %d, want 3", a.Count())
	}
	if !a.Equals(b) {
		t.Errorf("a should equal b")
	}
	if a.Equals(c) {
		t.Errorf("a should not equal c")
	}
}
