package canonical

import (
	"testing"
)

func TestMarshalIsOrderIndependent(t *testing.T) {
	a := map[string]interface{}{"b": 1, "a": 2, "c": map[string]interface{}{"y": 1, "x": 2}}
	b := map[string]interface{}{"c": map[string]interface{}{"x": 2, "y": 1}, "a": 2, "b": 1}

	ba, err := Marshal(a)
	if err != nil {
		t.Fatalf("marshal a: %v", err)
	}
	bb, err := Marshal(b)
	if err != nil {
		t.Fatalf("marshal b: %v", err)
	}
	if string(ba) != string(bb) {
		t.Fatalf("canonical encodings differ: %s != %s", ba, bb)
	}
	want := `{"a":2,"b":1,"c":{"x":2,"y":1}}`
	if string(ba) != want {
		t.Fatalf("got %s want %s", ba, want)
	}
}

func TestMarshalStripsSignatureField(t *testing.T) {
	v := map[string]interface{}{"a": 1, "signature": "deadbeef"}
	b, err := Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"a":1}`
	if string(b) != want {
		t.Fatalf("got %s want %s", b, want)
	}
}

func TestMarshalIntegersHaveNoFraction(t *testing.T) {
	v := map[string]interface{}{"n": 42}
	b, err := Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `{"n":42}` {
		t.Fatalf("got %s", b)
	}
}

func TestMarshalEscapesMinimalSet(t *testing.T) {
	v := map[string]interface{}{"s": "a\"b\\c\nd"}
	b, err := Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"s":"a\"b\\c\nd"}`
	if string(b) != want {
		t.Fatalf("got %s want %s", b, want)
	}
}

func TestHashHexDeterministic(t *testing.T) {
	v := map[string]interface{}{"x": 1, "y": 2}
	h1, err := HashHex(v)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	h2, err := HashHex(map[string]interface{}{"y": 2, "x": 1})
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("hashes differ: %s != %s", h1, h2)
	}
}
