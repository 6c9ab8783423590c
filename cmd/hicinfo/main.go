// hicinfo prints the header and matrix directory of a HiC archive without
// decoding any contact block.
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/chbk/hicdump/internal/cursor"
	"github.com/chbk/hicdump/internal/format"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		inputFile  = flag.String("i", "", "input .hic archive")
		resolution = flag.Int("r", 0, "mark this resolution in the listing")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `hicinfo - Inspect HiC archives

Lists the genome, attributes, chromosomes, resolutions and matrix directory.
Diagonal matrices also list their block count at every resolution.

Usage:
  hicinfo -i sample.hic
  hicinfo sample.hic

Options:
`)
		flag.PrintDefaults()
	}

	flag.Parse()

	// Handle positional argument
	if *inputFile == "" && flag.NArg() > 0 {
		*inputFile = flag.Arg(0)
	}
	if *inputFile == "" {
		flag.Usage()
		return errors.New("no input archive given")
	}

	f, err := os.Open(*inputFile)
	if err != nil {
		return fmt.Errorf("opening input: %w", err)
	}
	defer func() { _ = f.Close() }()

	bw := bufio.NewWriter(os.Stdout)
	if err := inspect(f, bw, int32(*resolution)); err != nil { //nolint:gosec // resolutions are int32 on disk
		_ = bw.Flush()
		return err
	}
	return bw.Flush()
}

// inspect writes a plain-text description of the archive in r.
func inspect(r io.ReaderAt, w io.Writer, resolution int32) error {
	c := cursor.New(r)
	h, err := format.ReadHeader(c, resolution)
	if err != nil {
		return fmt.Errorf("reading header: %w", err)
	}

	fmt.Fprintf(w, "version\t%d\n", h.Version)
	fmt.Fprintf(w, "genome\t%s\n", h.Genome)
	fmt.Fprintf(w, "master\t%d\n", h.MasterOffset)

	fmt.Fprintf(w, "\nattributes\t%d\n", len(h.Attributes))
	for _, a := range h.Attributes {
		fmt.Fprintf(w, "\t%s\t%s\n", a.Key, a.Value)
	}

	fmt.Fprintf(w, "\nchromosomes\t%d\n", len(h.Chromosomes))
	for i, chr := range h.Chromosomes {
		fmt.Fprintf(w, "\t%d\t%s\t%d\n", i, chr.Name, chr.Length)
	}

	fmt.Fprintf(w, "\nresolutions\t%d\n", len(h.Resolutions))
	for i, res := range h.Resolutions {
		mark := ""
		if i == h.ResolutionIndex {
			mark = "\t*"
		}
		fmt.Fprintf(w, "\t%d%s\n", res, mark)
	}

	fmt.Fprintf(w, "\nmatrices\n")
	return format.ReadFooter(c, h.MasterOffset, func(e format.FooterEntry) error {
		m, err := format.ReadMatrix(c, h, nil, nil)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "\t%s\toffset=%d\tsize=%d\n", e.Key, e.Offset, e.Size)
		for _, l := range m.Levels {
			fmt.Fprintf(w, "\t\t%s\t%d\tblocks=%d\n", l.Unit, l.BinSize, l.BlockCount)
		}
		return nil
	})
}
