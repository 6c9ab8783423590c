// Package contact decodes the contact records held in one decompressed block.
//
// Every block starts with a 4-byte record count. Archives before version 7 then
// store (binX, binY, count) triples. Later archives store bin offsets, a count
// width flag and a type tag selecting either a sparse list-of-rows layout or a
// dense row-major layout.
package contact

import (
	"errors"
	"fmt"
	"math"

	"github.com/chbk/hicdump/internal/cursor"
	"github.com/chbk/hicdump/internal/format"
)

// Layout identifies the on-disk record layout of a block.
type Layout uint8

// Record layouts.
const (
	LayoutUnknown Layout = iota // Unrecognized type tag, contributes nothing
	LayoutLegacy                // Version < 7: raw triples
	LayoutRows                  // Type 1: list of rows, sparse columns
	LayoutDense                 // Type 2: row-major grid with missing-value sentinels
)

func (l Layout) String() string {
	switch l {
	case LayoutLegacy:
		return "legacy"
	case LayoutRows:
		return "rows"
	case LayoutDense:
		return "dense"
	default:
		return "unknown"
	}
}

// Type tags of version 7+ blocks.
const (
	typeRows  int8 = 1
	typeDense int8 = 2
)

// Missing-value sentinels of the dense layout.
const (
	MissingShort     int16  = math.MinInt16
	MissingFloatBits uint32 = 0x7fc00000 // canonical quiet NaN
)

// ErrMalformedBlock is returned when block fields contradict each other.
var ErrMalformedBlock = errors.New("malformed block")

// Record is one contact between two bins of a chromosome.
type Record struct {
	Chromosome int32
	Bin1       int32
	Bin2       int32
	Count      float64
}

// Block is the decoded prefix of a block, selecting its layout.
type Block struct {
	Layout      Layout
	Records     int32 // Declared record count
	XOffset     int32 // Added to relative column indexes (version 7+)
	YOffset     int32 // Added to relative row indexes (version 7+)
	FloatCounts bool  // Counts are 4-byte floats rather than 2-byte integers
}

// ReadBlock reads the block prefix for an archive of the given version.
func ReadBlock(c *cursor.Cursor, version int32) (Block, error) {
	var (
		b   Block
		err error
	)
	if b.Records, err = c.ReadInt32(); err != nil {
		return b, fmt.Errorf("reading record count: %w", err)
	}
	if version < format.ModernVersion {
		b.Layout = LayoutLegacy
		b.FloatCounts = true
		return b, nil
	}

	if b.XOffset, err = c.ReadInt32(); err != nil {
		return b, fmt.Errorf("reading bin X offset: %w", err)
	}
	if b.YOffset, err = c.ReadInt32(); err != nil {
		return b, fmt.Errorf("reading bin Y offset: %w", err)
	}
	useShort, err := c.ReadUint8()
	if err != nil {
		return b, fmt.Errorf("reading count width: %w", err)
	}
	// A zero flag means 2-byte integer counts.
	b.FloatCounts = useShort != 0

	tag, err := c.ReadInt8()
	if err != nil {
		return b, fmt.Errorf("reading block type: %w", err)
	}
	switch tag {
	case typeRows:
		b.Layout = LayoutRows
	case typeDense:
		b.Layout = LayoutDense
	default:
		b.Layout = LayoutUnknown
	}
	return b, nil
}

// Decode decodes every record of a decompressed block. Records carry chrom as
// their chromosome id.
func Decode(buf []byte, version, chrom int32) ([]Record, error) {
	if len(buf) == 0 {
		return nil, nil
	}
	c := cursor.FromBytes(buf)
	b, err := ReadBlock(c, version)
	if err != nil {
		return nil, err
	}

	d := decoder{c: c, block: b, chrom: chrom}
	switch b.Layout {
	case LayoutLegacy:
		err = d.legacy(len(buf))
	case LayoutRows:
		err = d.rows()
	case LayoutDense:
		err = d.dense()
	default:
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("decoding %s block: %w", b.Layout, err)
	}
	return d.out, nil
}

type decoder struct {
	c     *cursor.Cursor
	block Block
	chrom int32
	out   []Record
}

func (d *decoder) emit(bin1, bin2 int32, count float64) {
	d.out = append(d.out, Record{Chromosome: d.chrom, Bin1: bin1, Bin2: bin2, Count: count})
}

// count reads one count in the block's count width. missing reports whether it
// equals the dense layout's sentinel for that width.
func (d *decoder) count() (value float64, missing bool, err error) {
	if !d.block.FloatCounts {
		v, err := d.c.ReadInt16()
		return float64(v), v == MissingShort, err
	}
	bits, err := d.c.ReadFloat32Bits()
	return float64(math.Float32frombits(bits)), bits == MissingFloatBits, err
}

func (d *decoder) legacy(size int) error {
	n := int(d.block.Records)
	if n < 0 {
		return fmt.Errorf("%w: record count %d", ErrMalformedBlock, n)
	}
	d.out = make([]Record, 0, min(n, size/12))
	for i := range n {
		binX, err := d.c.ReadInt32()
		if err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
		binY, err := d.c.ReadInt32()
		if err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
		v, err := d.c.ReadFloat32()
		if err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
		d.emit(binX, binY, float64(v))
	}
	return nil
}

func (d *decoder) rows() error {
	rowCount, err := d.c.ReadInt16()
	if err != nil {
		return fmt.Errorf("reading row count: %w", err)
	}
	if d.block.Records > 0 {
		d.out = make([]Record, 0, min(int(d.block.Records), 1<<16))
	}
	for i := range int(rowCount) {
		y, err := d.c.ReadInt16()
		if err != nil {
			return fmt.Errorf("row %d: %w", i, err)
		}
		colCount, err := d.c.ReadInt16()
		if err != nil {
			return fmt.Errorf("row %d: %w", i, err)
		}
		bin2 := d.block.YOffset + int32(y)
		for j := range int(colCount) {
			x, err := d.c.ReadInt16()
			if err != nil {
				return fmt.Errorf("row %d column %d: %w", i, j, err)
			}
			v, _, err := d.count()
			if err != nil {
				return fmt.Errorf("row %d column %d: %w", i, j, err)
			}
			d.emit(d.block.XOffset+int32(x), bin2, v)
		}
	}
	return nil
}

func (d *decoder) dense() error {
	total, err := d.c.ReadInt32()
	if err != nil {
		return fmt.Errorf("reading point count: %w", err)
	}
	w, err := d.c.ReadInt16()
	if err != nil {
		return fmt.Errorf("reading row width: %w", err)
	}
	if total > 0 && w <= 0 {
		return fmt.Errorf("%w: row width %d for %d points", ErrMalformedBlock, w, total)
	}
	width := int32(w)
	for i := range total {
		v, missing, err := d.count()
		if err != nil {
			return fmt.Errorf("point %d: %w", i, err)
		}
		if missing {
			continue
		}
		row := i / width
		col := i % width
		d.emit(d.block.XOffset+col, d.block.YOffset+row, v)
	}
	return nil
}
