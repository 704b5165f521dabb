// Package naming implements the illegal-character filename policy
// (§4.3), the gamecard/NSP/raw-NCA output filename synthesis (§6.2),
// and a human-readable size formatter used in CLI progress output.
// Grounded on ContentID-to-filename conventions
// (pkg/fs/nca.go's hex content-ID naming for extracted files) and on
// bodgit/wud's path.Join-based output layout for its extracted title
// contents.
package naming

import (
	"fmt"
	"strings"
)

const illegalCharsBasic = "?[]/\\=+<>:;\",*|^"

// SanitizeComponent applies the illegal-character policy to one path
// component (never the separator), per §4.3 "Illegal-character
// policy". asciiOnly selects mode (b): additionally replace bytes
// >= 0x7F, the mode used when writing to the console's built-in SD
// storage; the default mode (asciiOnly=false) is used for an external
// host, per §6.2's closing paragraph.
func SanitizeComponent(name string, asciiOnly bool) string {
	out := []byte(name)
	for i, b := range out {
		switch {
		case b < 0x20:
			out[i] = '_'
		case strings.IndexByte(illegalCharsBasic, b) >= 0:
			out[i] = '_'
		case asciiOnly && b >= 0x7F:
			out[i] = '_'
		}
	}
	return string(out)
}

// GamecardOptions mirrors the three bracketed flags a gamecard image
// filename encodes, in the order §6.2 specifies.
type GamecardOptions struct {
	PrependKeyArea    bool
	KeepCertificate   bool
	TrimDump          bool
}

func flagPair(set bool, yes, no string) string {
	if set {
		return yes
	}
	return no
}

// GamecardFilename synthesises
// "<application_name> [v<update_version>] [<title_id>][v<version>][<KA|NKA>][<C|NC>][<T|NT>].xci"
// (§6.2 "Gamecard image").
func GamecardFilename(applicationName, updateVersion string, titleID uint64, version uint32, opts GamecardOptions, asciiOnly bool) string {
	name := SanitizeComponent(applicationName, asciiOnly)
	var versionTag string
	if updateVersion != "" {
		versionTag = fmt.Sprintf(" [v%s]", updateVersion)
	}
	return fmt.Sprintf("%s%s [%016x][v%d][%s][%s][%s].xci",
		name, versionTag, titleID, version,
		flagPair(opts.PrependKeyArea, "KA", "NKA"),
		flagPair(opts.KeepCertificate, "C", "NC"),
		flagPair(opts.TrimDump, "T", "NT"))
}

// ContentInstallType mirrors the CNMT content-install-type
// classification an NSP filename's trailing tag is derived from
// (§6.2 "[<BASE|UPD|DLC|DLCUPD>]").
type ContentInstallType int

const (
	InstallBase ContentInstallType = iota
	InstallUpdate
	InstallAddOnContent
	InstallAddOnContentUpdate
)

func (t ContentInstallType) tag() string {
	switch t {
	case InstallUpdate:
		return "UPD"
	case InstallAddOnContent:
		return "DLC"
	case InstallAddOnContentUpdate:
		return "DLCUPD"
	default:
		return "BASE"
	}
}

// NspFilename synthesises
// "<application_name> [v<display_version>] [<title_id>][v<version>][<BASE|UPD|DLC|DLCUPD>].nsp"
// (§6.2 "NSP").
func NspFilename(applicationName, displayVersion string, titleID uint64, version uint32, install ContentInstallType, asciiOnly bool) string {
	name := SanitizeComponent(applicationName, asciiOnly)
	var versionTag string
	if displayVersion != "" {
		versionTag = fmt.Sprintf(" [v%s]", displayVersion)
	}
	return fmt.Sprintf("%s%s [%016x][v%d][%s].nsp", name, versionTag, titleID, version, install.tag())
}

// RawNcaFilename synthesises "<subdir>/<content_id_str>.nca" (or
// ".cnmt.nca" for the meta content), per §6.2 "Raw NCA".
func RawNcaFilename(subdir, contentIDHex string, isMeta bool) string {
	suffix := ".nca"
	if isMeta {
		suffix = ".cnmt.nca"
	}
	return fmt.Sprintf("%s/%s%s", subdir, contentIDHex, suffix)
}

// FormatSize renders a byte count as a human-readable size (CLI
// progress narration, SPEC_FULL.md ambient stack "Progress / UX").
func FormatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
