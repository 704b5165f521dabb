package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/nxarchive/nxarchive/internal/naming"
	"github.com/nxarchive/nxarchive/pkg/cnmt"
	"github.com/nxarchive/nxarchive/pkg/keyset"
	"github.com/nxarchive/nxarchive/pkg/nacp"
	"github.com/nxarchive/nxarchive/pkg/nca"
	"github.com/nxarchive/nxarchive/pkg/nsp"
	"github.com/nxarchive/nxarchive/pkg/pfs"
	"github.com/nxarchive/nxarchive/pkg/romfs"
	"github.com/nxarchive/nxarchive/pkg/sink"
	"github.com/nxarchive/nxarchive/pkg/ticket"
)

var nspCommand = &cli.Command{
	Name:      "nsp",
	Usage:     "stream a set of already-extracted NCAs into one PFS0 (NSP) archive",
	ArgsUsage: "<meta-nca> <content-nca>...",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "output directory", Value: "."},
		&cli.StringFlag{Name: "name", Usage: "output filename (defaults to a synthesised name, §6.2)"},
		&cli.StringFlag{Name: "ticket", Usage: "raw .tik file to embed"},
		&cli.StringFlag{Name: "cert", Usage: "raw certificate chain to embed alongside -ticket"},
		&cli.BoolFlag{Name: "xml", Usage: "generate CNMT/program-info/legal-info/NACP authoring-tool XML entries"},
		&cli.BoolFlag{Name: "ascii-only", Usage: "restrict synthesised names to ASCII"},
	},
	Action: runNsp,
}

// openRawNca opens path and initialises an nca.Context for it, deriving
// the content ID from the filename per §6.2's "Raw NCA" convention.
func openRawNca(path string, contentType nca.ContentType, keys *keyset.FileOracle) (*nca.Context, func() error, error) {
	return openRawNcaTitled(path, contentType, 0, 0, 0, keys)
}

func openRawNcaTitled(path string, contentType nca.ContentType, titleID uint64, titleVersion uint32, idOffset byte, keys *keyset.FileOracle) (*nca.Context, func() error, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening %s: %w", path, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("stat %s: %w", path, err)
	}
	contentID, err := contentIDFromPath(path)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	ctx, err := nca.NewContext(f, contentID, fi.Size(), contentType, idOffset, titleID, titleVersion, 0, keys)
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return ctx, f.Close, nil
}

func runNsp(c *cli.Context) error {
	args := c.Args().Slice()
	if len(args) < 1 {
		return cli.Exit("nsp requires a <meta-nca> argument", 1)
	}
	metaPath := args[0]
	contentPaths := args[1:]

	keys, err := loadKeys(c)
	if err != nil {
		return err
	}
	log := loadLogger(c)

	metaCtx, closeMeta, err := openRawNca(metaPath, nca.ContentMeta, keys)
	if err != nil {
		return err
	}
	defer closeMeta()

	metaSection := metaCtx.Section(0)
	if metaSection == nil {
		return fmt.Errorf("%s: meta NCA has no section 0", metaPath)
	}
	pfsReader, err := pfs.Open(metaSection, metaSection.Size)
	if err != nil {
		return fmt.Errorf("%s: opening meta PFS: %w", metaPath, err)
	}
	if pfsReader.EntryCount() != 1 {
		return fmt.Errorf("%s: meta PFS has %d entries, want 1", metaPath, pfsReader.EntryCount())
	}
	entry, _ := pfsReader.GetEntry(0)
	rawCnmt := make([]byte, entry.Size)
	if _, err := pfsReader.ReadEntryData(entry, rawCnmt, 0); err != nil {
		return fmt.Errorf("%s: reading %s: %w", metaPath, entry.Name, err)
	}
	cnmtCtx, err := cnmt.Parse(rawCnmt, entry.Name)
	if err != nil {
		return fmt.Errorf("%s: parsing %s: %w", metaPath, entry.Name, err)
	}

	title := &nsp.Title{Meta: metaCtx, Cnmt: cnmtCtx}

	var closers []func() error
	defer func() {
		for _, cl := range closers {
			_ = cl()
		}
	}()

	for _, p := range contentPaths {
		contentID, err := contentIDFromPath(p)
		if err != nil {
			return err
		}
		idx, ci, ok := findContentByID(cnmtCtx, contentID)
		if !ok {
			return fmt.Errorf("%s: content ID not present in %s's CNMT", p, entry.Name)
		}
		ctx, closeFn, err := openRawNcaTitled(p, nca.ContentType(ci.ContentType), cnmtCtx.Header.TitleID, cnmtCtx.Header.Version, ci.IDOffset, keys)
		if err != nil {
			return err
		}
		closers = append(closers, closeFn)
		title.Contents = append(title.Contents, nsp.Content{NCA: ctx, CnmtIndex: idx})

		if ci.ContentType == byte(nca.ContentControl) {
			control, err := loadControlData(ctx)
			if err != nil {
				return fmt.Errorf("%s: %w", p, err)
			}
			title.Control = control
		}
	}

	if tikPath := c.String("ticket"); tikPath != "" {
		raw, err := os.ReadFile(tikPath)
		if err != nil {
			return fmt.Errorf("reading %s: %w", tikPath, err)
		}
		tik, err := ticket.Parse(raw, metaCtx.Header.RightsID)
		if err != nil {
			return fmt.Errorf("%s: %w", tikPath, err)
		}
		title.Ticket = tik
		if certPath := c.String("cert"); certPath != "" {
			certs, err := os.ReadFile(certPath)
			if err != nil {
				return fmt.Errorf("reading %s: %w", certPath, err)
			}
			title.Certs = certs
		}
	}

	name := c.String("name")
	if name == "" {
		name = defaultNspName(title)
	}

	out := sink.NewLocalFile(nil, c.String("out"))
	opts := nsp.Options{
		GenerateAuthoringToolXml: c.Bool("xml"),
		AsciiOnlyNames:           c.Bool("ascii-only"),
	}

	res, err := nsp.Build(title, out, name, keys, opts, log)
	if err != nil {
		return fmt.Errorf("building %s: %w", name, err)
	}
	if res.Warnings != nil {
		fmt.Fprintf(os.Stderr, "warnings:\n%v\n", res.Warnings)
	}
	fmt.Printf("wrote %s\n", filepath.Join(c.String("out"), name))
	return nil
}

func findContentByID(c *cnmt.Context, id [0x10]byte) (int, cnmt.ContentInfo, bool) {
	for i, ci := range c.Contents {
		if ci.ContentID == id {
			return i, ci, true
		}
	}
	return 0, cnmt.ContentInfo{}, false
}

// loadControlData resolves the NACP and icons out of a Control NCA's
// RomFS section (§4.7's "control.nacp"/"icon_<language>.dat" layout).
func loadControlData(ctx *nca.Context) (*nsp.ControlData, error) {
	var romSection *romfs.Reader
	for i := 0; i < 4; i++ {
		sec := ctx.Section(i)
		if sec == nil {
			continue
		}
		r, err := romfs.Open(sec, sec.Size)
		if err != nil {
			continue
		}
		romSection = r
		break
	}
	if romSection == nil {
		return nil, fmt.Errorf("no RomFS section found")
	}

	_, nacpFile, isDir, err := romSection.Resolve("/control.nacp")
	if err != nil || isDir {
		return nil, fmt.Errorf("resolving control.nacp: %w", err)
	}
	rawNacp := make([]byte, nacp.Size)
	if _, err := romSection.ReadFile(nacpFile, rawNacp, 0); err != nil {
		return nil, fmt.Errorf("reading control.nacp: %w", err)
	}
	nacpCtx, err := nacp.Parse(rawNacp)
	if err != nil {
		return nil, fmt.Errorf("parsing control.nacp: %w", err)
	}

	icons := make(map[nacp.Language][]byte)
	for _, lang := range nacpCtx.SupportedLanguages() {
		filename := fmt.Sprintf("icon_%s.dat", lang)
		_, f, isDir, err := romSection.Resolve("/" + filename)
		if err != nil || isDir {
			continue
		}
		buf := make([]byte, f.Size)
		if _, err := romSection.ReadFile(f, buf, 0); err != nil {
			return nil, fmt.Errorf("reading %s: %w", filename, err)
		}
		icons[lang] = buf
	}

	return &nsp.ControlData{NACP: nacpCtx, Icons: icons}, nil
}

// defaultNspName synthesises an output name from the title and control
// data when -name is not given (§6.2 "NSP").
func defaultNspName(title *nsp.Title) string {
	appName := fmt.Sprintf("%016x", title.Cnmt.Header.TitleID)
	displayVersion := ""
	if title.Control != nil && title.Control.NACP != nil {
		if _, entry, ok := title.Control.NACP.GetLanguageEntry(); ok {
			appName = entry.Name
		}
		displayVersion = title.Control.NACP.DisplayVersion()
	}
	install := naming.InstallBase
	switch cnmt.Type(title.Cnmt.Header.ContentMetaType) {
	case cnmt.TypePatch:
		install = naming.InstallUpdate
	case cnmt.TypeAddOnContent:
		install = naming.InstallAddOnContent
	}
	return naming.NspFilename(appName, displayVersion, title.Cnmt.Header.TitleID, title.Cnmt.Header.Version, install, false)
}
