package nacp

import "testing"

func buildMinimalNacp() []byte {
	raw := make([]byte, Size)
	// American English title slot.
	copy(raw[0:0x200], "Test Game\x00")
	copy(raw[0x200:0x300], "Test Publisher\x00")
	raw[offScreenshot] = ScreenshotDeny
	raw[offVideoCapture] = VideoCaptureDisable
	raw[offHdcp] = HdcpRequired
	raw[offStartupUserAccountOptionFlag] = startupUserAccountOptionIsOptionalBit
	// supported_language_flag: bit0 (AmericanEnglish) + bit2 (Japanese)
	raw[offSupportedLanguageFlag] = 0x05
	return raw
}

func TestGetLanguageEntry(t *testing.T) {
	ctx, err := Parse(buildMinimalNacp())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	lang, entry, ok := ctx.GetLanguageEntry()
	if !ok {
		t.Fatalf("expected a populated language entry")
	}
	if lang != LangAmericanEnglish {
		t.Fatalf("expected AmericanEnglish, got %v", lang)
	}
	if entry.Name != "Test Game" || entry.Publisher != "Test Publisher" {
		t.Fatalf("unexpected entry: %+v", entry)
	}
}

func TestIconFilenames(t *testing.T) {
	ctx, err := Parse(buildMinimalNacp())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	names := ctx.IconFilenames()
	if len(names) != 2 || names[0] != "icon_AmericanEnglish.dat" || names[1] != "icon_Japanese.dat" {
		t.Fatalf("unexpected icon filenames: %v", names)
	}
}

func TestMutations(t *testing.T) {
	ctx, err := Parse(buildMinimalNacp())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	p := ctx.EnableScreenshots()
	if ctx.Bytes()[offScreenshot] != ScreenshotAllow {
		t.Fatalf("screenshot not patched")
	}
	if p.Offset != offScreenshot || p.Data[0] != ScreenshotAllow {
		t.Fatalf("unexpected patch: %+v", p)
	}

	ctx.EnableVideoCapture()
	if ctx.Bytes()[offVideoCapture] != VideoCaptureEnable {
		t.Fatalf("video capture not patched")
	}

	ctx.DisableHdcp()
	if ctx.Bytes()[offHdcp] != HdcpNone {
		t.Fatalf("hdcp not patched")
	}

	before := ctx.Bytes()[offStartupUserAccountOptionFlag]
	ctx.DisableLinkedAccountRequirement()
	after := ctx.Bytes()[offStartupUserAccountOptionFlag]
	if before&startupUserAccountOptionIsOptionalBit == 0 {
		t.Fatalf("test fixture should start with the bit set")
	}
	if after&startupUserAccountOptionIsOptionalBit != 0 {
		t.Fatalf("linked account bit not cleared")
	}
}

func TestGenerateAuthoringToolXml(t *testing.T) {
	ctx, err := Parse(buildMinimalNacp())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	out, err := ctx.GenerateAuthoringToolXml(1, 0)
	if err != nil {
		t.Fatalf("GenerateAuthoringToolXml: %v", err)
	}
	if len(out) == 0 {
		t.Fatalf("expected non-empty XML output")
	}
}
