package main

import (
	"encoding/hex"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/nxarchive/nxarchive/pkg/cnmt"
	"github.com/nxarchive/nxarchive/pkg/nca"
	"github.com/nxarchive/nxarchive/pkg/pfs"
)

var infoCommand = &cli.Command{
	Name:      "info",
	Usage:     "print the header and, for a meta NCA, the CNMT contents of an NCA file",
	ArgsUsage: "<nca-file>",
	Action:    runInfo,
}

func runInfo(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		return cli.Exit("info requires an <nca-file> argument", 1)
	}

	keys, err := loadKeys(c)
	if err != nil {
		return err
	}

	// The real content type/title metadata live in the header itself;
	// info doesn't know them in advance, so it passes placeholders that
	// NewContext never consults while parsing the header block.
	ctx, closeFn, err := openRawNca(path, nca.ContentProgram, keys)
	if err != nil {
		return err
	}
	defer closeFn()

	h := ctx.Header
	fmt.Printf("content_id:      %s\n", ctx.ContentIDString())
	fmt.Printf("content_type:    %d\n", h.ContentType)
	fmt.Printf("dist_type:       %d\n", h.DistType)
	fmt.Printf("program_id:      %016x\n", h.ProgramID)
	fmt.Printf("content_size:    %d\n", h.ContentSize)
	fmt.Printf("key_generation:  %d\n", h.EffectiveKeyGeneration())
	fmt.Printf("has_rights_id:   %t\n", h.HasRightsID())
	if h.HasRightsID() {
		fmt.Printf("rights_id:       %s\n", hex.EncodeToString(h.RightsID[:]))
	}
	fmt.Printf("has_content_key: %t\n", ctx.HasContentKey())

	if h.ContentType != nca.ContentMeta {
		return nil
	}

	section := ctx.Section(0)
	if section == nil {
		return fmt.Errorf("meta NCA has no section 0")
	}
	reader, err := pfs.Open(section, section.Size)
	if err != nil {
		return fmt.Errorf("opening meta PFS: %w", err)
	}
	if reader.EntryCount() != 1 {
		return fmt.Errorf("meta PFS has %d entries, want 1", reader.EntryCount())
	}
	entry, _ := reader.GetEntry(0)
	raw := make([]byte, entry.Size)
	if _, err := reader.ReadEntryData(entry, raw, 0); err != nil {
		return fmt.Errorf("reading %s: %w", entry.Name, err)
	}
	meta, err := cnmt.Parse(raw, entry.Name)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", entry.Name, err)
	}

	fmt.Printf("\ncnmt title_id:   %016x\n", meta.Header.TitleID)
	fmt.Printf("cnmt version:    %d\n", meta.Header.Version)
	fmt.Printf("cnmt type:       %#x\n", byte(meta.Header.ContentMetaType))
	fmt.Printf("cnmt contents:   %d\n", len(meta.Contents))
	for i, ci := range meta.Contents {
		fmt.Printf("  [%d] type=%d id=%s size=%d\n", i, ci.ContentType, hex.EncodeToString(ci.ContentID[:]), ci.Size)
	}
	return nil
}
