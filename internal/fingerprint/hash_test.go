package fingerprint

import "testing"

func TestHashKnownVector(t *testing.T) {
	// sha256("127.0.0.1")
	want := Fingerprint("12ca17b49af2289436f303e0166030a21e525d266e209267433801a8fd4071a0")
	if got := Hash("127.0.0.1"); got != want {
		t.Errorf("Hash(127.0.0.1) = %s, want %s", got, want)
	}
}

func TestHashDeterministic(t *testing.T) {
	a := Hash("203.0.113.7")
	b := Hash("203.0.113.7")
	if a != b {
		t.Errorf("expected identical fingerprints, got %s and %s", a, b)
	}
	if len(a) != Len {
		t.Errorf("expected length %d, got %d", Len, len(a))
	}
}

func TestHashDistinctInputs(t *testing.T) {
	if Hash("203.0.113.7") == Hash("203.0.113.8") {
		t.Error("expected different fingerprints for different addresses")
	}
}

func TestHashEmptyInput(t *testing.T) {
	want := Fingerprint("e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855")
	if got := Hash(""); got != want {
		t.Errorf("Hash(\"\") = %s, want %s", got, want)
	}
}

func TestSIMDMatchesStdlib(t *testing.T) {
	defer UseSIMD(false)

	inputs := []string{"", "127.0.0.1", "2001:db8::1", "a somewhat longer forwarded-for value"}
	want := make([]Fingerprint, len(inputs))
	for i, in := range inputs {
		want[i] = Hash(in)
	}

	UseSIMD(true)
	for i, in := range inputs {
		if got := Hash(in); got != want[i] {
			t.Errorf("simd Hash(%q) = %s, want %s", in, got, want[i])
		}
	}
}

func TestValid(t *testing.T) {
	if !Valid(Hash("x")) {
		t.Error("expected hashed value to be valid")
	}
	for _, bad := range []Fingerprint{"", "abc", Fingerprint(string(make([]byte, Len)))} {
		if Valid(bad) {
			t.Errorf("expected %q to be invalid", bad)
		}
	}
}

func TestShort(t *testing.T) {
	fp := Hash("127.0.0.1")
	if fp.Short() != "12ca17b49af2" {
		t.Errorf("unexpected short form %q", fp.Short())
	}
	if Fingerprint("abc").Short() != "abc" {
		t.Error("short values should be returned unchanged")
	}
}
