package romfs

import "testing"

// illegalChars mirrors internal/naming's policy for this test's own
// enumeration; SanitizeComponent itself just delegates to that package.
const illegalChars = "?[]/\\=+<>:;\",*|^"

func TestSanitizeComponent(t *testing.T) {
	in := "a?b[c]d/e\\f=g+h<i>j:k;l\"m,n*o|p^q"
	out := SanitizeComponent(in, false)
	for _, ch := range illegalChars {
		if containsByte(out, byte(ch)) {
			t.Fatalf("sanitized output still contains %q: %s", ch, out)
		}
	}
}

func TestSanitizeComponentAsciiOnly(t *testing.T) {
	in := string([]byte{'a', 0x7F, 0xFF, 'b'})
	out := SanitizeComponent(in, true)
	if containsByte(out, 0x7F) || containsByte(out, 0xFF) {
		t.Fatalf("ascii-only mode left high bytes: %v", []byte(out))
	}
}

func TestRomfsHashDependsOnParent(t *testing.T) {
	h1 := romfsHash(0, "same")
	h2 := romfsHash(0x18, "same")
	if h1 == h2 {
		t.Fatalf("hash should depend on parent offset")
	}
}

// TestRomfsHashMatchesKnownValues pins romfsHash against precomputed
// values for the "parent ^ 123456789 seed, rotate-xor per byte, *11
// finisher" algorithm, so a regression to the wrong seed operator or a
// dropped final multiplier (either of which breaks bucket lookups
// against any real RomFS image built by external tooling) fails here
// instead of only showing up as "entry not found" deep in Resolve.
func TestRomfsHashMatchesKnownValues(t *testing.T) {
	cases := []struct {
		parent int64
		name   string
		want   uint32
	}{
		{0, "same", 0xc92070d1},
		{0x18, "same", 0xc91af0d1},
		{0, "", 0x50f1cfe7},
	}
	for _, c := range cases {
		if got := romfsHash(c.parent, c.name); got != c.want {
			t.Fatalf("romfsHash(%#x, %q) = %#x, want %#x", c.parent, c.name, got, c.want)
		}
	}
}

func containsByte(s string, b byte) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return true
		}
	}
	return false
}
