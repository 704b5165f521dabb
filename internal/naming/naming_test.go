package naming

import "testing"

func TestSanitizeComponent(t *testing.T) {
	in := "a?b[c]d/e\\f=g+h<i>j:k;l\"m,n*o|p^q"
	out := SanitizeComponent(in, false)
	for _, ch := range illegalCharsBasic {
		for i := 0; i < len(out); i++ {
			if out[i] == byte(ch) {
				t.Fatalf("sanitized output still contains %q: %s", ch, out)
			}
		}
	}
}

func TestSanitizeComponentAsciiOnly(t *testing.T) {
	in := string([]byte{'a', 0x7F, 0xFF, 'b'})
	out := SanitizeComponent(in, true)
	for i := 0; i < len(out); i++ {
		if out[i] >= 0x7F {
			t.Fatalf("ascii-only mode left a high byte: %v", []byte(out))
		}
	}
}

func TestGamecardFilename(t *testing.T) {
	got := GamecardFilename("Super Game", "", 0x0100000000010000, 0, GamecardOptions{
		PrependKeyArea:  true,
		KeepCertificate: false,
		TrimDump:        true,
	}, false)
	want := "Super Game [0100000000010000][v0][KA][NC][T].xci"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestGamecardFilenameWithUpdateVersion(t *testing.T) {
	got := GamecardFilename("Super Game", "1.2.0", 0x0100000000010000, 5, GamecardOptions{}, false)
	want := "Super Game [v1.2.0] [0100000000010000][v5][NKA][NC][NT].xci"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestNspFilename(t *testing.T) {
	got := NspFilename("Super Game", "1.0.0", 0x0100000000010000, 0, InstallUpdate, false)
	want := "Super Game [v1.0.0] [0100000000010000][v0][UPD].nsp"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestRawNcaFilename(t *testing.T) {
	if got, want := RawNcaFilename("0100000000010000", "deadbeef", false), "0100000000010000/deadbeef.nca"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	if got, want := RawNcaFilename("0100000000010000", "deadbeef", true), "0100000000010000/deadbeef.cnmt.nca"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestFormatSize(t *testing.T) {
	cases := []struct {
		in   int64
		want string
	}{
		{500, "500 B"},
		{1536, "1.5 KiB"},
		{1024 * 1024 * 3, "3.0 MiB"},
	}
	for _, c := range cases {
		if got := FormatSize(c.in); got != c.want {
			t.Fatalf("FormatSize(%d) = %q, want %q", c.in, got, c.want)
		}
	}
}
