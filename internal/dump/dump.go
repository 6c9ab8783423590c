// Package dump decodes every intra-chromosome contact of a HiC archive at one
// resolution into four parallel columns.
package dump

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/chbk/hicdump/internal/contact"
	"github.com/chbk/hicdump/internal/cursor"
	"github.com/chbk/hicdump/internal/format"
	"github.com/chbk/hicdump/internal/inflate"
)

// ErrUnknownChromosome is returned when Options.Chromosome names no chromosome.
var ErrUnknownChromosome = errors.New("unknown chromosome")

// Options configures decoding.
type Options struct {
	Workers    int    // Matrices decoded in parallel (default: 1)
	Chromosome string // Decode only this chromosome (default: all)
}

// matrixJob is one footer entry to decode.
type matrixJob struct {
	seqNum int
	entry  format.FooterEntry
}

// matrixResult holds the records of one decoded matrix.
type matrixResult struct {
	seqNum int
	batch  matrixBatch
	err    error
}

// matrixBatch is everything one matrix contributes to the result.
type matrixBatch struct {
	expanded bool
	records  []contact.Record
}

// decoder carries per-call state shared by every matrix visit.
type decoder struct {
	header   *format.Header
	accept   func(chrom int32) bool
	inflater *inflate.Inflater
}

// DecodeFile opens the archive at path and decodes it.
func DecodeFile(path string, resolution int32, opts *Options) (*Result, error) {
	f, err := os.Open(path) //nolint:gosec // caller chooses the archive
	if err != nil {
		return nil, fmt.Errorf("cannot open archive: %w", err)
	}
	defer func() { _ = f.Close() }()

	return Decode(f, resolution, opts)
}

// Decode reads the archive from r and returns every contact record of the
// requested resolution. On error no partial result is returned.
func Decode(r io.ReaderAt, resolution int32, opts *Options) (*Result, error) {
	if opts == nil {
		opts = &Options{}
	}

	c := cursor.New(r)
	h, err := format.ReadHeader(c, resolution)
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	if err := h.CheckResolution(resolution); err != nil {
		return nil, err
	}

	d := &decoder{header: h, inflater: inflate.New()}
	if opts.Chromosome != "" {
		id := h.ChromosomeID(opts.Chromosome)
		if id < 0 {
			return nil, fmt.Errorf("%w: %q", ErrUnknownChromosome, opts.Chromosome)
		}
		d.accept = func(chrom int32) bool { return chrom == id }
	}

	res := newResult(h)
	if opts.Workers <= 1 {
		err = d.decodeSequential(c, res)
	} else {
		err = d.decodeParallel(c, res, opts.Workers)
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (d *decoder) decodeSequential(c *cursor.Cursor, res *Result) error {
	return format.ReadFooter(c, d.header.MasterOffset, func(format.FooterEntry) error {
		batch, err := d.decodeMatrix(c)
		if err != nil {
			return err
		}
		res.add(batch)
		return nil
	})
}

// decodeParallel decodes matrices on several workers. Batches and errors are
// merged in footer order, so it fails with the same error as decodeSequential.
func (d *decoder) decodeParallel(c *cursor.Cursor, res *Result, workers int) error {
	jobs := make(chan matrixJob, workers*2)
	results := make(chan matrixResult, workers*2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	for range workers {
		g.Go(func() error {
			return d.runWorker(ctx, c, jobs, results)
		})
	}

	// Producer: walk the footer and dispatch every entry. A footer error only
	// stops dispatch; entries already sent are still decoded.
	var footerErr error
	g.Go(func() error {
		defer close(jobs)
		footerErr = d.produceJobs(ctx, c, jobs)
		return nil
	})

	// Collector: merge batches in footer order
	var collectorErr error
	collectorDone := make(chan struct{})
	go func() {
		defer close(collectorDone)
		collectorErr = collectResults(results, res, cancel)
	}()

	waitErr := g.Wait()
	close(results)
	<-collectorDone

	switch {
	case collectorErr != nil:
		return collectorErr
	case footerErr != nil:
		return footerErr
	default:
		return waitErr
	}
}

func (d *decoder) produceJobs(ctx context.Context, c *cursor.Cursor, jobs chan<- matrixJob) error {
	seqNum := 0
	return format.ReadFooter(c, d.header.MasterOffset, func(e format.FooterEntry) error {
		select {
		case jobs <- matrixJob{seqNum: seqNum, entry: e}:
			seqNum++
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}

// runWorker decodes jobs until they run out or ctx is canceled. Decode errors
// travel with their result; only cancellation is returned.
func (d *decoder) runWorker(ctx context.Context, c *cursor.Cursor, jobs <-chan matrixJob, results chan<- matrixResult) error {
	for job := range jobs {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		batch, err := d.decodeMatrix(c.At(job.entry.Offset))
		if err != nil {
			err = fmt.Errorf("matrix %s: %w", job.entry.Key, err)
		}
		select {
		case results <- matrixResult{seqNum: job.seqNum, batch: batch, err: err}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// collectResults merges results in seqNum order and returns the error of the
// first failed matrix in that order, calling cancel once it is known.
func collectResults(results <-chan matrixResult, res *Result, cancel context.CancelFunc) error {
	pending := make(map[int]matrixResult)
	nextSeqNum := 0

	var firstErr error
	for result := range results {
		if firstErr != nil {
			continue
		}
		pending[result.seqNum] = result

		// Merge every result that is now in sequence
		for {
			next, ok := pending[nextSeqNum]
			if !ok {
				break
			}
			delete(pending, nextSeqNum)
			nextSeqNum++
			if next.err != nil {
				firstErr = next.err
				cancel()
				break
			}
			res.add(next.batch)
		}
	}
	return firstErr
}

// decodeMatrix decodes the matrix descriptor at the cursor's position.
func (d *decoder) decodeMatrix(c *cursor.Cursor) (matrixBatch, error) {
	var records []contact.Record
	m, err := format.ReadMatrix(c, d.header, d.accept, func(chrom int32, _ format.BlockEntry, compressed []byte) error {
		batch, err := d.decodeBlock(chrom, compressed)
		if err != nil {
			return err
		}
		records = append(records, batch...)
		return nil
	})
	if err != nil {
		return matrixBatch{}, err
	}
	return matrixBatch{expanded: len(m.Levels) > 0, records: records}, nil
}

// decodeBlock inflates one block and decodes its records.
func (d *decoder) decodeBlock(chrom int32, compressed []byte) ([]contact.Record, error) {
	if len(compressed) == 0 {
		return nil, nil
	}
	buf, err := d.inflater.Inflate(compressed)
	if err != nil {
		return nil, err
	}
	return contact.Decode(buf, d.header.Version, chrom)
}
