package nsp

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/hashicorp/go-multierror"

	"github.com/nxarchive/nxarchive/pkg/cnmt"
	"github.com/nxarchive/nxarchive/pkg/keyset"
	"github.com/nxarchive/nxarchive/pkg/nacp"
	"github.com/nxarchive/nxarchive/pkg/nca"
	"github.com/nxarchive/nxarchive/pkg/nxerr"
	"github.com/nxarchive/nxarchive/pkg/nxlog"
	"github.com/nxarchive/nxarchive/pkg/pfs"
	"github.com/nxarchive/nxarchive/pkg/stream"
)

// cnmtSectionIndex is the FS-section index this package assumes holds
// the meta NCA's single PartitionFs entry ("<type>_<title_id>.cnmt"):
// every meta NCA observed in the wild carries exactly one section, so
// this is the only plausible index. Not grounded in any pack source
// (same footing as pkg/usbhost's command-ID assignment).
const cnmtSectionIndex = 0

// relatedKind distinguishes the four entry families a Control/Program/
// LegalInformation NCA can contribute beyond its own ".nca" entry.
type relatedKind int

const (
	relProgramInfo relatedKind = iota
	relLegalInfo
	relNacp
	relIcon
)

// relatedEntry names a builder entry whose name must be resynthesised
// from a content ID if the owning NCA turns out to be mutated.
type relatedEntry struct {
	builderIdx int
	kind       relatedKind
	suffix     string        // e.g. ".programinfo.xml", ".nx.AmericanEnglish.jpg"
	lang       nacp.Language // valid only when kind == relIcon
}

type ncaEntry struct {
	builderIdx int
	ctx        *nca.Context
	cnmtIdx    int // -1 for the meta NCA
	related    []relatedEntry
}

// Build produces one streamed, back-patched PFS0 archive from title,
// writing it to sink under name (§4.8). keys supplies the header key
// used to re-encrypt each NCA's mutated header while it streams.
func Build(title *Title, sink stream.HeaderRewindSink, name string, keys keyset.Oracle, opts Options, log nxlog.Logger) (Result, error) {
	if log == nil {
		log = nxlog.Nop{}
	}
	headerKey, ok := keys.HeaderKey()
	if !ok {
		return Result{}, nxerr.New(nxerr.MissingKey, "nsp.Build", fmt.Errorf("header_key not available"))
	}

	var warnings *multierror.Error
	for _, c := range title.Contents {
		if c.NCA.Header.HasRightsID() && !c.NCA.HasContentKey() {
			warnings = multierror.Append(warnings, fmt.Errorf("content %s: titlekey unavailable", c.NCA.ContentIDString()))
		}
	}

	b := pfs.NewBuilder()

	ordered := make([]Content, len(title.Contents))
	copy(ordered, title.Contents)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].CnmtIndex < ordered[j].CnmtIndex })

	var entries []ncaEntry
	for _, c := range ordered {
		idx := b.Add(c.NCA.ContentIDString()+".nca", c.NCA.ContentSize)
		entries = append(entries, ncaEntry{builderIdx: idx, ctx: c.NCA, cnmtIdx: c.CnmtIndex})
	}
	metaIdx := b.Add(title.Meta.ContentIDString()+".cnmt.nca", title.Meta.ContentSize)
	entries = append(entries, ncaEntry{builderIdx: metaIdx, ctx: title.Meta, cnmtIdx: -1})

	var draftCnmtXml []byte
	if opts.GenerateAuthoringToolXml {
		var err error
		draftCnmtXml, err = title.Cnmt.GenerateAuthoringToolXml(make([]int, len(title.Cnmt.Contents)))
		if err != nil {
			return Result{}, err
		}
		b.Add(cnmt.MetaContentIDFilename(title.Meta.ContentID), int64(len(draftCnmtXml)))

		for i := range entries {
			e := &entries[i]
			switch e.ctx.ContentType {
			case nca.ContentProgram:
				data, err := generateProgramInfoXml(e.ctx.ContentID)
				if err != nil {
					return Result{}, err
				}
				idx := b.Add(e.ctx.ContentIDString()+".programinfo.xml", int64(len(data)))
				e.related = append(e.related, relatedEntry{builderIdx: idx, kind: relProgramInfo, suffix: ".programinfo.xml"})

			case nca.ContentLegalInformation:
				data, err := generateLegalInfoXml(e.ctx.ContentID)
				if err != nil {
					return Result{}, err
				}
				idx := b.Add(e.ctx.ContentIDString()+".legalinfo.xml", int64(len(data)))
				e.related = append(e.related, relatedEntry{builderIdx: idx, kind: relLegalInfo, suffix: ".legalinfo.xml"})

			case nca.ContentControl:
				if title.Control == nil || title.Control.NACP == nil {
					continue
				}
				for _, l := range title.Control.NACP.SupportedLanguages() {
					icon, ok := title.Control.Icons[l]
					if !ok {
						continue
					}
					suffix := fmt.Sprintf(".nx.%s.jpg", l)
					idx := b.Add(e.ctx.ContentIDString()+suffix, int64(len(icon)))
					e.related = append(e.related, relatedEntry{builderIdx: idx, kind: relIcon, suffix: suffix, lang: l})
				}
				nacpXml, err := title.Control.NACP.GenerateAuthoringToolXml(e.ctx.TitleVersion, title.Cnmt.RequiredApplicationVersion())
				if err != nil {
					return Result{}, err
				}
				idx := b.Add(e.ctx.ContentIDString()+".nacp.xml", int64(len(nacpXml)))
				e.related = append(e.related, relatedEntry{builderIdx: idx, kind: relNacp, suffix: ".nacp.xml"})
			}
		}
	}

	if title.Ticket != nil {
		rightsID := title.Ticket.RightsID
		b.Add(fmt.Sprintf("%x.tik", rightsID), int64(len(title.Ticket.Bytes())))
		if title.Certs != nil {
			b.Add(fmt.Sprintf("%x.cert", rightsID), int64(len(title.Certs)))
		}
	}

	headerSize := b.HeaderSize()
	total := int64(headerSize) + b.FsSize()

	if err := sink.BeginFile(total, name, int64(headerSize)); err != nil {
		return Result{}, err
	}
	abort := func(err error) (Result, error) {
		_ = sink.Cancel()
		return Result{}, err
	}

	anyMutated := false
	for i := range entries {
		e := &entries[i]
		src := newNcaSource(e.ctx, headerKey)
		sess := stream.NewSession(e.ctx.ContentSize)
		sess.Progress = opts.Progress
		sess.Log = log

		if err := stream.RunWithSession(sess, src, sink); err != nil {
			return abort(err)
		}

		clean := src.cleanSum()
		dirty := src.dirtySum()
		wasMutated := e.ctx.IsMutated()
		e.ctx.SetEmittedHash(dirty)

		if e.cnmtIdx < 0 {
			// Meta NCA: never checked against its own CNMT, and only
			// ever mutated by the CNMT hash-layer patch registered
			// below, right before it is its turn to stream.
			continue
		}

		ci := title.Cnmt.Contents[e.cnmtIdx]
		if clean != ci.Hash {
			return abort(nxerr.New(nxerr.CorruptNca, "nsp.Build", fmt.Errorf("content %s: source hash does not match CNMT record", e.ctx.ContentIDString())))
		}

		if wasMutated {
			anyMutated = true
			if err := title.Cnmt.UpdateContentInfo(byte(e.ctx.ContentType), e.ctx.IDOffset, e.ctx.ContentID, uint64(e.ctx.ContentSize), dirty); err != nil {
				return abort(err)
			}
			newName := e.ctx.ContentIDString()
			if err := b.UpdateEntryName(e.builderIdx, newName+".nca"); err != nil {
				return abort(err)
			}
			for _, r := range e.related {
				if err := b.UpdateEntryName(r.builderIdx, newName+r.suffix); err != nil {
					return abort(err)
				}
			}
		}

		// The meta NCA streams last (§4.8 step 5 "Build the output PFS
		// layout ... Meta NCA placed last"); once every other content
		// has updated the CNMT, register its accumulated patch against
		// the meta NCA's own CNMT section before that NCA's turn comes.
		if i == len(entries)-2 && anyMutated {
			patch := title.Cnmt.GeneratePfsPatch()
			title.Meta.AddHashLayerPatch(cnmtSectionIndex, patch.Offset, patch.Data)
		}
	}

	if opts.GenerateAuthoringToolXml {
		finalCnmtXml, err := title.Cnmt.GenerateAuthoringToolXml(make([]int, len(title.Cnmt.Contents)))
		if err != nil {
			return abort(err)
		}
		if len(finalCnmtXml) != len(draftCnmtXml) {
			return abort(nxerr.New(nxerr.InvalidCnmt, "nsp.Build", fmt.Errorf("regenerated CNMT XML length %d does not match reserved size %d", len(finalCnmtXml), len(draftCnmtXml))))
		}
		if err := streamLiteral(sink, finalCnmtXml, opts); err != nil {
			return abort(err)
		}

		for _, e := range entries {
			for _, r := range e.related {
				var data []byte
				var err error
				switch r.kind {
				case relProgramInfo:
					data, err = generateProgramInfoXml(e.ctx.ContentID)
				case relLegalInfo:
					data, err = generateLegalInfoXml(e.ctx.ContentID)
				case relNacp:
					data, err = title.Control.NACP.GenerateAuthoringToolXml(e.ctx.TitleVersion, title.Cnmt.RequiredApplicationVersion())
				case relIcon:
					data = title.Control.Icons[r.lang]
				}
				if err != nil {
					return abort(err)
				}
				if err := streamLiteral(sink, data, opts); err != nil {
					return abort(err)
				}
			}
		}
	}

	if title.Ticket != nil {
		if err := streamLiteral(sink, title.Ticket.Bytes(), opts); err != nil {
			return abort(err)
		}
		if title.Certs != nil {
			if err := streamLiteral(sink, title.Certs, opts); err != nil {
				return abort(err)
			}
		}
	}

	if err := sink.EndFile(); err != nil {
		return Result{}, err
	}

	header, err := b.WriteHeaderToBuffer()
	if err != nil {
		return Result{}, err
	}
	if err := sink.RewindAndWriteHeader(header); err != nil {
		return Result{}, err
	}

	return Result{Warnings: warnings.ErrorOrNil()}, nil
}

// streamLiteral pushes an already-materialised byte slice through the
// §4.9 framework, for the fixed-content PFS entries (XML, icons,
// ticket, certificate) that need no per-chunk mutation.
func streamLiteral(sink stream.Sink, data []byte, opts Options) error {
	if len(data) == 0 {
		return nil
	}
	sess := stream.NewSession(int64(len(data)))
	sess.Progress = opts.Progress
	return stream.RunWithSession(sess, bytes.NewReader(data), sink)
}
