// Package nsp implements the NSP builder (§4.8): it orchestrates
// already-initialised NCA/CNMT/ticket/NACP contexts into one streamed,
// back-patched PFS0 archive. It owns none of the container formats
// themselves — nca, cnmt, ticket and nacp each expose their own
// mutation and hash-rewrite primitives; this package only sequences
// them in the order spec.md's preparation/streaming phases describe.
//
// Grounded on pkg/fs/pfs0_writer.go (the "PFS builder
// receives (name, size) pairs, then the driver streams each member's
// bytes through in the same order" shape) generalised from "compress
// and append" to "stream, hash, conditionally rewrite, append."
package nsp

import (
	"github.com/nxarchive/nxarchive/pkg/cnmt"
	"github.com/nxarchive/nxarchive/pkg/nacp"
	"github.com/nxarchive/nxarchive/pkg/nca"
	"github.com/nxarchive/nxarchive/pkg/ticket"
)

// Content is one non-meta NCA participating in the build, paired with
// the index of its record inside the CNMT content list (§4.8 step 3).
type Content struct {
	NCA       *nca.Context
	CnmtIndex int
}

// ControlData carries the parsed NACP and per-language icon payloads
// extracted from a title's Control NCA, used to emit the icon and
// NACP authoring-tool XML entries (§4.8 step 5, §4.7).
type ControlData struct {
	NACP  *nacp.Context
	Icons map[nacp.Language][]byte
}

// Title bundles every already-initialised context the builder needs.
// The caller (cmd/nxarchive) is responsible for content-info
// enumeration, NCA/CNMT/ticket initialisation and any requested
// mutation (distribution type, titlekey-crypto removal, NACP patches)
// before calling Build — §4.8 step 4's mutations are applied through
// nca.Context and nacp.Context's own methods, not reimplemented here.
type Title struct {
	Meta     *nca.Context
	Cnmt     *cnmt.Context
	Contents []Content
	Control  *ControlData

	// Ticket and Certs are both nil when the title has no rights ID, or
	// when the caller chose to remove titlekey crypto (§4.8 step 5).
	Ticket *ticket.Ticket
	Certs  []byte
}

// Options mirrors the build-time flags spec.md names for the builder.
type Options struct {
	// GenerateAuthoringToolXml enables the CNMT/program-info/NACP/
	// legal-info XML entries (§4.8 step 5, §4.5/§4.7
	// generate_authoring_tool_xml).
	GenerateAuthoringToolXml bool

	// AsciiOnlyNames selects the ASCII-only illegal-character mode
	// (§4.3/§6.2). Build does not read it: every PFS entry name it
	// emits is a hex content ID or rights ID plus a fixed suffix.
	AsciiOnlyNames bool

	// Progress, if set, is forwarded to the underlying stream.Session
	// for each content's transfer (§SPEC_FULL.md ambient stack
	// "Progress / UX").
	Progress func(written, total int64)
}

// Result reports build-time outcomes that aren't themselves errors.
type Result struct {
	// Warnings aggregates non-fatal per-content issues encountered
	// during preparation (e.g. an NCA with a rights ID whose titlekey
	// is unavailable), via github.com/hashicorp/go-multierror (§4.8
	// step 3). Build only reports such an NCA; it still streams any
	// mutations the caller registered on it.
	Warnings error
}
