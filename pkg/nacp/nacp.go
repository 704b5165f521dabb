// Package nacp implements the NACP control-data parser, language/icon
// navigation, the four permitted builder mutations, and authoring-tool
// XML generation (§4.7). Grounded on original_source/source/nacp.h's
// _NacpStruct field layout for the exact byte offsets, and on the same
// pattern pkg/nca's header parsing uses: keep a raw backing buffer
// alongside typed fields so mutated bytes can be re-emitted in place
// without re-serialising the whole structure by hand.
package nacp

import (
	"fmt"
	"strings"

	"github.com/nxarchive/nxarchive/pkg/nxerr"
)

const (
	Size = 0x4000

	titleEntrySize  = 0x300 // name[0x200] + publisher[0x100]
	titleNameSize   = 0x200
	titlePublisherSize = 0x100
	numTitles       = 16

	offIsbn                      = 0x3000
	offStartupUserAccount        = 0x3025
	offUserAccountSwitchLock     = 0x3026
	offAddOnContentRegistrationType = 0x3027
	offAttributeFlag             = 0x3028
	offSupportedLanguageFlag     = 0x302C
	offParentalControlFlag       = 0x3030
	offScreenshot                = 0x3034
	offVideoCapture              = 0x3035
	offDataLossConfirmation      = 0x3036
	offPlayLogPolicy             = 0x3037
	offPresenceGroupID           = 0x3038
	offDisplayVersion            = 0x3060
	offLogoType                  = 0x30F0
	offLogoHandling              = 0x30F1
	offCrashReport               = 0x30F6
	offHdcp                      = 0x30F7
	offStartupUserAccountOptionFlag = 0x3141
)

// Language indexes a NACP per-language title slot, in the iteration
// order §4.7's get_language_entry specifies.
type Language int

const (
	LangAmericanEnglish Language = iota
	LangBritishEnglish
	LangJapanese
	LangFrench
	LangGerman
	LangLatinAmericanSpanish
	LangSpanish
	LangItalian
	LangDutch
	LangCanadianFrench
	LangPortuguese
	LangRussian
	LangKorean
	LangTraditionalChinese
	LangSimplifiedChinese
	LangBrazilianPortuguese
	langCount
)

// languageOrder is the fixed iteration order used both by
// get_language_entry and by the supported_language_flag bit layout.
var languageOrder = [langCount]Language{
	LangAmericanEnglish, LangBritishEnglish, LangJapanese, LangFrench,
	LangGerman, LangLatinAmericanSpanish, LangSpanish, LangItalian,
	LangDutch, LangCanadianFrench, LangPortuguese, LangRussian,
	LangKorean, LangTraditionalChinese, LangSimplifiedChinese,
	LangBrazilianPortuguese,
}

func (l Language) String() string {
	switch l {
	case LangAmericanEnglish:
		return "AmericanEnglish"
	case LangBritishEnglish:
		return "BritishEnglish"
	case LangJapanese:
		return "Japanese"
	case LangFrench:
		return "French"
	case LangGerman:
		return "German"
	case LangLatinAmericanSpanish:
		return "LatinAmericanSpanish"
	case LangSpanish:
		return "Spanish"
	case LangItalian:
		return "Italian"
	case LangDutch:
		return "Dutch"
	case LangCanadianFrench:
		return "CanadianFrench"
	case LangPortuguese:
		return "Portuguese"
	case LangRussian:
		return "Russian"
	case LangKorean:
		return "Korean"
	case LangTraditionalChinese:
		return "TraditionalChinese"
	case LangSimplifiedChinese:
		return "SimplifiedChinese"
	case LangBrazilianPortuguese:
		return "BrazilianPortuguese"
	default:
		return "Unknown"
	}
}

// TitleEntry is one per-language name/publisher slot.
type TitleEntry struct {
	Name      string
	Publisher string
}

// Context is a parsed NACP control-data blob, backed by the raw 0x4000
// bytes so mutations can be written in place (§4.7 "Mutations").
type Context struct {
	raw [Size]byte
}

// Parse validates and wraps a raw NACP blob (§4.7 "Parse").
func Parse(raw []byte) (*Context, error) {
	if len(raw) != Size {
		return nil, nxerr.New(nxerr.InvalidNacp, "nacp.Parse", fmt.Errorf("expected %#x bytes, got %#x", Size, len(raw)))
	}
	c := &Context{}
	copy(c.raw[:], raw)
	return c, nil
}

func cstr(b []byte) string {
	if i := strings.IndexByte(string(b), 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}

// Title returns the raw title slot for language l.
func (c *Context) Title(l Language) TitleEntry {
	off := int(l) * titleEntrySize
	return TitleEntry{
		Name:      cstr(c.raw[off : off+titleNameSize]),
		Publisher: cstr(c.raw[off+titleNameSize : off+titleEntrySize]),
	}
}

// GetLanguageEntry finds the first per-language slot (in
// languageOrder) whose name and publisher are both non-empty, per
// §4.7 "get_language_entry". Returns ok=false if none is populated.
func (c *Context) GetLanguageEntry() (lang Language, entry TitleEntry, ok bool) {
	for _, l := range languageOrder {
		e := c.Title(l)
		if e.Name != "" && e.Publisher != "" {
			return l, e, true
		}
	}
	return 0, TitleEntry{}, false
}

// SupportedLanguageFlag returns the raw 32-bit language bitmask.
func (c *Context) SupportedLanguageFlag() uint32 {
	return leUint32(c.raw[offSupportedLanguageFlag : offSupportedLanguageFlag+4])
}

// SupportedLanguages returns every language whose bit is set in
// supported_language_flag, in languageOrder.
func (c *Context) SupportedLanguages() []Language {
	flag := c.SupportedLanguageFlag()
	var out []Language
	for i, l := range languageOrder {
		if flag&(1<<uint(i)) != 0 {
			out = append(out, l)
		}
	}
	return out
}

// IconFilenames returns "icon_<language>.dat" for each set bit of
// supported_language_flag (§4.7 "Icon").
func (c *Context) IconFilenames() []string {
	var out []string
	for _, l := range c.SupportedLanguages() {
		out = append(out, fmt.Sprintf("icon_%s.dat", l))
	}
	return out
}

// MaxIconSize is the platform's JPEG icon size ceiling (§4.7 "Icon").
const MaxIconSize = 0x20000

// ValidateIconSize checks a candidate icon payload against the
// platform ceiling.
func ValidateIconSize(n int) error {
	if n > MaxIconSize {
		return fmt.Errorf("nacp: icon size %d exceeds maximum %d", n, MaxIconSize)
	}
	return nil
}

// DisplayVersion returns the 0x10-byte display_version string.
func (c *Context) DisplayVersion() string {
	return cstr(c.raw[offDisplayVersion : offDisplayVersion+0x10])
}

// Screenshot/VideoCapture/Hdcp enum values (§4.7 mutations).
const (
	ScreenshotAllow = 0
	ScreenshotDeny  = 1

	VideoCaptureDisable = 0
	VideoCaptureManual  = 1
	VideoCaptureEnable  = 2

	HdcpNone     = 0
	HdcpRequired = 1
)

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// Bytes returns the raw 0x4000-byte blob, reflecting any mutations
// applied so far.
func (c *Context) Bytes() []byte {
	out := make([]byte, Size)
	copy(out, c.raw[:])
	return out
}
