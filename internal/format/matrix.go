package format

import (
	"fmt"

	"github.com/chbk/hicdump/internal/cursor"
)

// ResolutionLevel is the per-resolution metadata of one matrix.
type ResolutionLevel struct {
	Unit              string // "BP" or "FRAG"
	Index             int32
	SumCounts         float32
	OccupiedCellCount float32
	StdDev            float32
	Percent95         float32
	BinSize           int32
	BlockBinCount     int32
	BlockColumnCount  int32
	BlockCount        int32
}

// BlockEntry locates one compressed block of contact records.
type BlockEntry struct {
	ID     int32
	Offset int64
	Size   int32
}

// Matrix describes one chromosome-pair matrix.
type Matrix struct {
	Chr1   int32
	Chr2   int32
	Levels []ResolutionLevel // Empty when the matrix was not expanded
}

// BlockVisitor receives each block of the selected resolution together with its
// compressed bytes. compressed is nil for a zero-size block.
type BlockVisitor func(chrom int32, b BlockEntry, compressed []byte) error

// ReadMatrix reads the matrix descriptor at the cursor's position.
//
// Only matrices accepted by h.Expands are read past their chromosome ids. If
// accept is non-nil it must also return true for the diagonal chromosome id.
// For the resolution level at h.ResolutionIndex, visit is called for every
// block in directory order; blocks of other levels are skipped. A nil visit
// reads the directory without fetching any block.
func ReadMatrix(c *cursor.Cursor, h *Header, accept func(chrom int32) bool, visit BlockVisitor) (*Matrix, error) {
	m := &Matrix{}
	var err error
	if m.Chr1, err = c.ReadInt32(); err != nil {
		return nil, fmt.Errorf("reading chromosome id: %w", err)
	}
	if m.Chr2, err = c.ReadInt32(); err != nil {
		return nil, fmt.Errorf("reading chromosome id: %w", err)
	}
	if !h.Expands(m.Chr1, m.Chr2) || (accept != nil && !accept(m.Chr1)) {
		return m, nil
	}

	n, err := readCount(c, "resolution level count")
	if err != nil {
		return nil, err
	}
	m.Levels = make([]ResolutionLevel, 0, min(n, 64))
	for i := range n {
		level, err := readLevel(c)
		if err != nil {
			return nil, fmt.Errorf("reading resolution level %d: %w", i, err)
		}
		m.Levels = append(m.Levels, level)

		selected := visit != nil && i == h.ResolutionIndex
		for j := range int(level.BlockCount) {
			b, err := readBlockEntry(c)
			if err != nil {
				return nil, fmt.Errorf("reading block entry %d of level %d: %w", j, i, err)
			}
			if !selected {
				continue
			}
			if err := fetchBlock(c, m.Chr1, b, visit); err != nil {
				return nil, fmt.Errorf("block %d at offset %d: %w", b.ID, b.Offset, err)
			}
		}
	}
	return m, nil
}

func readLevel(c *cursor.Cursor) (ResolutionLevel, error) {
	var (
		l   ResolutionLevel
		err error
	)
	if l.Unit, err = c.ReadCString(); err != nil {
		return l, err
	}
	if l.Index, err = c.ReadInt32(); err != nil {
		return l, err
	}
	for _, f := range []*float32{&l.SumCounts, &l.OccupiedCellCount, &l.StdDev, &l.Percent95} {
		if *f, err = c.ReadFloat32(); err != nil {
			return l, err
		}
	}
	for _, v := range []*int32{&l.BinSize, &l.BlockBinCount, &l.BlockColumnCount} {
		if *v, err = c.ReadInt32(); err != nil {
			return l, err
		}
	}
	n, err := readCount(c, "block count")
	if err != nil {
		return l, err
	}
	l.BlockCount = int32(n) //nolint:gosec // read as int32
	return l, nil
}

func readBlockEntry(c *cursor.Cursor) (BlockEntry, error) {
	var (
		b   BlockEntry
		err error
	)
	if b.ID, err = c.ReadInt32(); err != nil {
		return b, err
	}
	if b.Offset, err = c.ReadInt64(); err != nil {
		return b, err
	}
	pos := c.Pos()
	if b.Size, err = c.ReadInt32(); err != nil {
		return b, err
	}
	if b.Size < 0 {
		return b, malformed("block size", int64(b.Size), pos)
	}
	return b, nil
}

// fetchBlock reads a block's compressed bytes and hands them to visit, leaving
// the cursor where it was.
func fetchBlock(c *cursor.Cursor, chrom int32, b BlockEntry, visit BlockVisitor) error {
	if b.Size == 0 {
		return visit(chrom, b, nil)
	}
	var compressed []byte
	err := c.Detour(b.Offset, func() error {
		var err error
		compressed, err = c.ReadBytes(int(b.Size))
		return err
	})
	if err != nil {
		return err
	}
	return visit(chrom, b, compressed)
}
