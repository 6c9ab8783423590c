// hicdump decodes the intra-chromosome contacts of a HiC archive at one
// resolution into a tab-separated table.
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/chbk/hicdump/internal/dump"
	"github.com/chbk/hicdump/internal/format"
)

var version = "dev"

const (
	exitSuccess = 0
	exitError   = 1
)

type config struct {
	inputFile  string
	outputFile string
	resolution int
	chromosome string
	workers    int
	noHeader   bool
	digest     bool
	verbose    bool
}

func main() {
	os.Exit(run())
}

func run() int {
	cfg, done := parseFlags()
	if done {
		return exitSuccess
	}

	if cfg.inputFile == "" {
		fmt.Fprintln(os.Stderr, "error: no input archive given")
		flag.Usage()
		return exitError
	}

	res, err := dump.DecodeFile(cfg.inputFile, int32(cfg.resolution), &dump.Options{ //nolint:gosec // resolutions are int32 on disk
		Workers:    cfg.workers,
		Chromosome: cfg.chromosome,
	})
	if err != nil {
		reportError(os.Stderr, err)
		return exitError
	}

	if cfg.digest {
		fmt.Printf("%016x\n", res.Digest())
		return exitSuccess
	}

	output, cleanup, err := openOutput(cfg.outputFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitError
	}

	if err := writeTable(output, res, !cfg.noHeader); err != nil {
		_ = cleanup()
		fmt.Fprintf(os.Stderr, "error: writing output: %v\n", err)
		return exitError
	}
	if err := cleanup(); err != nil {
		fmt.Fprintf(os.Stderr, "error: closing output: %v\n", err)
		return exitError
	}

	if cfg.verbose {
		fmt.Fprintf(os.Stderr, "%d records from %d matrices at resolution %d (digest %016x)\n",
			res.Len(), res.Matrices, res.Resolution, res.Digest())
	}
	return exitSuccess
}

func parseFlags() (config, bool) {
	var cfg config
	var showVersion, showHelp bool

	flag.StringVar(&cfg.inputFile, "i", "", "input .hic archive")
	flag.StringVar(&cfg.outputFile, "o", "", "output file (default: stdout; .gz, .zst, .lz4 compress)")
	flag.IntVar(&cfg.resolution, "r", 0, "resolution (bin size in bp)")
	flag.StringVar(&cfg.chromosome, "c", "", "only decode this chromosome (default: all)")
	flag.IntVar(&cfg.workers, "w", 1, "matrices decoded in parallel")
	flag.BoolVar(&cfg.noHeader, "no-header", false, "omit the column header line")
	flag.BoolVar(&cfg.digest, "digest", false, "print a digest of the decoded records instead of the table")
	flag.BoolVar(&cfg.verbose, "v", false, "print a summary to stderr")
	flag.BoolVar(&showVersion, "version", false, "show version and exit")
	flag.BoolVar(&showHelp, "h", false, "show help")

	flag.Usage = usage
	flag.Parse()

	if showHelp {
		flag.Usage()
		return cfg, true
	}

	if showVersion {
		fmt.Printf("hicdump version %s\n", version)
		return cfg, true
	}

	// Handle positional arguments
	args := flag.Args()
	if len(args) > 0 && cfg.inputFile == "" {
		cfg.inputFile = args[0]
	}
	if len(args) > 1 && cfg.resolution == 0 {
		if r, err := strconv.Atoi(args[1]); err == nil {
			cfg.resolution = r
		}
	}

	return cfg, false
}

func usage() {
	fmt.Fprintf(os.Stderr, `hicdump - Decode HiC contact matrices

Usage:
  hicdump [options] -i sample.hic -r 10000
  hicdump [options] sample.hic 10000

Options:
`)
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
Examples:
  hicdump -i sample.hic -r 10000 -o contacts.tsv     Dump all chromosomes
  hicdump -i sample.hic -r 10000 -c chr1 -o c1.tsv.gz Dump chr1, gzip output
  hicdump -w 8 -digest sample.hic 5000               Fingerprint the contacts
`)
}

// reportError prints err, listing the available resolutions when the
// requested one is missing.
func reportError(w io.Writer, err error) {
	var rerr *format.ResolutionNotFoundError
	if errors.As(err, &rerr) {
		fmt.Fprintf(w, "Cannot find resolution %d.\nAvailable resolutions:\n", rerr.Requested)
		for _, r := range rerr.Available {
			fmt.Fprintf(w, "\t%d\n", r)
		}
	}
	fmt.Fprintf(w, "error: %v\n", err)
}

// openOutput returns a buffered writer for path, compressed according to its
// extension. cleanup flushes and closes every layer.
func openOutput(path string) (io.Writer, func() error, error) {
	if path == "" || path == "-" {
		bw := bufio.NewWriterSize(os.Stdout, 1<<20)
		return bw, bw.Flush, nil
	}

	f, err := os.Create(path) //nolint:gosec // CLI tool needs to create user-specified files
	if err != nil {
		return nil, nil, fmt.Errorf("cannot create output: %w", err)
	}

	enc, err := compressor(path, f)
	if err != nil {
		_ = f.Close()
		return nil, nil, err
	}
	bw := bufio.NewWriterSize(enc, 1<<20)
	return bw, func() error {
		return errors.Join(bw.Flush(), enc.Close(), f.Close())
	}, nil
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

func compressor(path string, w io.Writer) (io.WriteCloser, error) {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".gz"):
		return gzip.NewWriter(w), nil
	case strings.HasSuffix(lower, ".zst"):
		zw, err := zstd.NewWriter(w)
		if err != nil {
			return nil, fmt.Errorf("creating zstd encoder: %w", err)
		}
		return zw, nil
	case strings.HasSuffix(lower, ".lz4"):
		return lz4.NewWriter(w), nil
	default:
		return nopCloser{w}, nil
	}
}

// writeTable writes one line per record: chromosome label, the two bin start
// positions in bp, and the contact count.
func writeTable(w io.Writer, res *dump.Result, header bool) error {
	if header {
		if _, err := io.WriteString(w, "chromosome\tposition1\tposition2\tinteraction\n"); err != nil {
			return err
		}
	}

	binSize := int64(res.Resolution)
	labels := make(map[int32]string)
	line := make([]byte, 0, 64)
	for i := range res.Len() {
		id := res.Chromosome[i]
		label, ok := labels[id]
		if !ok {
			label = res.Name(id)
			if label == "" {
				label = strconv.Itoa(int(id))
			}
			labels[id] = label
		}

		line = append(line[:0], label...)
		line = append(line, '\t')
		line = strconv.AppendInt(line, int64(res.Bin1[i])*binSize, 10)
		line = append(line, '\t')
		line = strconv.AppendInt(line, int64(res.Bin2[i])*binSize, 10)
		line = append(line, '\t')
		line = strconv.AppendFloat(line, res.Count[i], 'g', -1, 64)
		line = append(line, '\n')
		if _, err := w.Write(line); err != nil {
			return err
		}
	}
	return nil
}
