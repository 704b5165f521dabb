package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/nxarchive/nxarchive/internal/naming"
	"github.com/nxarchive/nxarchive/pkg/gamecard"
	"github.com/nxarchive/nxarchive/pkg/sink"
)

var xciCommand = &cli.Command{
	Name:      "xci",
	Usage:     "re-stream a raw gamecard image, applying the §4.10 dump options",
	ArgsUsage: "<card-image>",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "output directory", Value: "."},
		&cli.StringFlag{Name: "name", Usage: "output filename (defaults to the input's base name with .xci)"},
		&cli.StringFlag{Name: "key-area-file", Usage: "0x200-byte key-area blob from the gamecard-security service"},
		&cli.BoolFlag{Name: "prepend-key-area", Usage: "prefix the output with the key area (requires -key-area-file)"},
		&cli.BoolFlag{Name: "keep-certificate", Usage: "keep the on-cartridge certificate region instead of scrubbing it"},
		&cli.BoolFlag{Name: "trim", Usage: "the input is already trimmed to its used size"},
		&cli.BoolFlag{Name: "checksum", Usage: "compute and print CRC-32 checksums on completion"},
		&cli.BoolFlag{Name: "fat32-split", Usage: "split the output into FAT32-sized pieces instead of failing"},
	},
	Action: runXci,
}

func runXci(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		return cli.Exit("xci requires a <card-image> argument", 1)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}

	opts := gamecard.Options{
		PrependKeyArea:    c.Bool("prepend-key-area"),
		KeepCertificate:   c.Bool("keep-certificate"),
		TrimDump:          c.Bool("trim"),
		CalculateChecksum: c.Bool("checksum"),
	}

	card := &gamecard.Card{Reader: f, Size: fi.Size()}
	if opts.PrependKeyArea {
		kaPath := c.String("key-area-file")
		if kaPath == "" {
			return cli.Exit("-prepend-key-area requires -key-area-file", 1)
		}
		card.KeyArea = func() ([gamecard.KeyAreaSize]byte, error) {
			var ka [gamecard.KeyAreaSize]byte
			kf, err := os.Open(kaPath)
			if err != nil {
				return ka, err
			}
			defer kf.Close()
			_, err = io.ReadFull(kf, ka[:])
			return ka, err
		}
	}

	name := c.String("name")
	if name == "" {
		base := filepath.Base(path)
		name = base[:len(base)-len(filepath.Ext(base))] + ".xci"
	}

	out := sink.NewLocalFile(nil, c.String("out"))
	out.EnforceFat32Split = c.Bool("fat32-split")

	res, err := gamecard.Dump(card, out, name, opts)
	if err != nil {
		return fmt.Errorf("dumping %s: %w", path, err)
	}

	if opts.CalculateChecksum {
		fmt.Printf("card checksum: %08x\n", res.CardChecksum)
		if opts.PrependKeyArea {
			fmt.Printf("full checksum: %08x\n", res.FullChecksum)
		}
	}
	total := fi.Size()
	if opts.PrependKeyArea {
		total += gamecard.KeyAreaSize
	}
	fmt.Printf("wrote %s (%s)\n", filepath.Join(c.String("out"), name), naming.FormatSize(total))
	return nil
}
