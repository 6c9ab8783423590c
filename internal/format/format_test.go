package format

import (
	"bytes"
	"math"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chbk/hicdump/internal/cursor"
	"github.com/chbk/hicdump/internal/hictest"
)

func testArchive() hictest.Archive {
	return hictest.Archive{
		Version:     8,
		Genome:      "hg19",
		Attributes:  [][2]string{{"software", "juicer"}, {"statistics", "none"}},
		Chromosomes: []string{"All", "chr1", "chr2"},
		Lengths:     []int32{3000, 1000, 2000},
		Resolutions: []int32{5000, 10000},
		Matrices: []hictest.Matrix{
			{Chr1: 0, Chr2: 0, Levels: []hictest.Level{{BinSize: 5000, Blocks: [][]byte{hictest.LegacyBlock()}}}},
			{Chr1: 1, Chr2: 1, Levels: []hictest.Level{
				{BinSize: 5000, Blocks: [][]byte{hictest.LegacyBlock(), nil}},
				{BinSize: 10000, Blocks: [][]byte{hictest.LegacyBlock(), hictest.LegacyBlock(), hictest.LegacyBlock()}},
				{Unit: "FRAG", BinSize: 1, Blocks: nil},
			}},
			{Chr1: 1, Chr2: 2, Levels: []hictest.Level{{BinSize: 5000, Blocks: [][]byte{hictest.LegacyBlock()}}}},
		},
		Absent: []string{"2_2"},
	}
}

func TestReadHeader(t *testing.T) {
	t.Parallel()

	c := cursor.FromBytes(testArchive().Build())
	h, err := ReadHeader(c, 10000)
	require.NoError(t, err)

	assert.Equal(t, int32(8), h.Version)
	assert.Equal(t, "hg19", h.Genome)
	assert.Equal(t, []Attribute{{"software", "juicer"}, {"statistics", "none"}}, h.Attributes)
	assert.Equal(t, []Chromosome{{"All", 3000}, {"chr1", 1000}, {"chr2", 2000}}, h.Chromosomes)
	assert.Equal(t, []int32{5000, 10000}, h.Resolutions)
	assert.Equal(t, 1, h.ResolutionIndex)
	assert.Equal(t, int32(10000), h.Resolution())
	assert.True(t, h.FirstIsAll)
	assert.False(t, h.Legacy())
	assert.NoError(t, h.CheckResolution(10000))
	assert.Positive(t, h.MasterOffset)
}

func TestReadHeader_InvalidMagic(t *testing.T) {
	t.Parallel()

	a := testArchive()
	a.Magic = "XYZ"
	_, err := ReadHeader(cursor.FromBytes(a.Build()), 5000)
	require.ErrorIs(t, err, ErrInvalidFormat)
	assert.Contains(t, err.Error(), "invalid magic")
}

func TestReadHeader_ShortFile(t *testing.T) {
	t.Parallel()

	_, err := ReadHeader(cursor.FromBytes([]byte("HI")), 5000)
	require.ErrorIs(t, err, ErrInvalidFormat)
}

func TestReadHeader_UnsupportedVersion(t *testing.T) {
	t.Parallel()

	a := testArchive()
	a.Version = 5
	_, err := ReadHeader(cursor.FromBytes(a.Build()), 5000)

	var verr *UnsupportedVersionError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, int32(5), verr.Version)
	assert.Contains(t, err.Error(), "version 5")
}

func TestReadHeader_ResolutionNotFound(t *testing.T) {
	t.Parallel()

	h, err := ReadHeader(cursor.FromBytes(testArchive().Build()), 25000)
	require.NoError(t, err)
	assert.Equal(t, NoResolution, h.ResolutionIndex)
	assert.Zero(t, h.Resolution())

	err = h.CheckResolution(25000)
	var rerr *ResolutionNotFoundError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, int32(25000), rerr.Requested)
	assert.Equal(t, []int32{5000, 10000}, rerr.Available)
	assert.Contains(t, err.Error(), "5000, 10000")
}

func TestReadHeader_AllDetection(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		chromosomes []string
		want        bool
	}{
		{"upper", []string{"ALL", "1"}, true},
		{"title", []string{"All", "1"}, true},
		{"lower", []string{"all", "1"}, true},
		{"absent", []string{"1", "ALL"}, false},
		{"empty", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			a := hictest.Archive{Version: 8, Chromosomes: tt.chromosomes, Resolutions: []int32{1}}
			h, err := ReadHeader(cursor.FromBytes(a.Build()), 1)
			require.NoError(t, err)
			assert.Equal(t, tt.want, h.FirstIsAll)
		})
	}
}

func TestReadHeader_Truncated(t *testing.T) {
	t.Parallel()

	full := testArchive().Build()
	c := cursor.FromBytes(full)
	_, err := ReadHeader(c, 5000)
	require.NoError(t, err)
	headerLen := int(c.Pos())

	for _, cut := range []int{5, 9, 14, headerLen - 3} {
		_, err := ReadHeader(cursor.FromBytes(full[:cut]), 5000)
		require.Error(t, err, "cut at %d", cut)
	}
}

func TestExpands(t *testing.T) {
	t.Parallel()

	withAll := &Header{FirstIsAll: true}
	withoutAll := &Header{}

	assert.False(t, withAll.Expands(0, 0))
	assert.True(t, withAll.Expands(1, 1))
	assert.False(t, withAll.Expands(1, 2))
	assert.True(t, withoutAll.Expands(0, 0))
	assert.False(t, withoutAll.Expands(0, 1))
}

func TestChromosomeID(t *testing.T) {
	t.Parallel()

	h := &Header{Chromosomes: []Chromosome{{Name: "ALL"}, {Name: "chr1"}, {Name: "chrX"}}}
	assert.Equal(t, int32(1), h.ChromosomeID("chr1"))
	assert.Equal(t, int32(2), h.ChromosomeID("CHRX"))
	assert.Equal(t, int32(-1), h.ChromosomeID("chr9"))
}

type visit struct {
	chrom      int32
	block      BlockEntry
	compressed []byte
}

func TestReadFooterAndMatrices(t *testing.T) {
	t.Parallel()

	data := testArchive().Build()
	c := cursor.FromBytes(data)
	h, err := ReadHeader(c, 10000)
	require.NoError(t, err)

	var keys []string
	var matrices []*Matrix
	var visits []visit
	err = ReadFooter(c, h.MasterOffset, func(e FooterEntry) error {
		keys = append(keys, e.Key)
		assert.Equal(t, e.Offset, c.Pos())
		m, err := ReadMatrix(c, h, nil, func(chrom int32, b BlockEntry, compressed []byte) error {
			visits = append(visits, visit{chrom, b, compressed})
			return nil
		})
		matrices = append(matrices, m)
		return err
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"0_0", "1_1", "1_2"}, keys, "absent entries are not visited")
	require.Len(t, matrices, 3)
	assert.Empty(t, matrices[0].Levels, "ALL self-matrix is skipped")
	assert.Empty(t, matrices[2].Levels, "inter-chromosome matrix is skipped")
	require.Len(t, matrices[1].Levels, 3)
	assert.Equal(t, "FRAG", matrices[1].Levels[2].Unit)
	assert.Equal(t, int32(3), matrices[1].Levels[1].BlockCount)

	require.Len(t, visits, 3, "only blocks of the selected level")
	for i, v := range visits {
		assert.Equal(t, int32(1), v.chrom)
		assert.Equal(t, int32(i), v.block.ID)
		assert.Len(t, v.compressed, int(v.block.Size))
		end := v.block.Offset + int64(v.block.Size)
		assert.True(t, bytes.Equal(data[v.block.Offset:end], v.compressed))
	}
}

func TestReadMatrix_ZeroSizeBlock(t *testing.T) {
	t.Parallel()

	c := cursor.FromBytes(testArchive().Build())
	h, err := ReadHeader(c, 5000)
	require.NoError(t, err)

	var sizes []int32
	err = ReadFooter(c, h.MasterOffset, func(FooterEntry) error {
		_, err := ReadMatrix(c, h, nil, func(_ int32, b BlockEntry, compressed []byte) error {
			sizes = append(sizes, b.Size)
			if b.Size == 0 {
				assert.Nil(t, compressed)
			}
			return nil
		})
		return err
	})
	require.NoError(t, err)
	require.Len(t, sizes, 2)
	assert.Zero(t, sizes[1])
}

func TestReadMatrix_AcceptFilter(t *testing.T) {
	t.Parallel()

	c := cursor.FromBytes(testArchive().Build())
	h, err := ReadHeader(c, 10000)
	require.NoError(t, err)

	visited := 0
	err = ReadFooter(c, h.MasterOffset, func(FooterEntry) error {
		_, err := ReadMatrix(c, h, func(chrom int32) bool { return chrom == 2 }, func(int32, BlockEntry, []byte) error {
			visited++
			return nil
		})
		return err
	})
	require.NoError(t, err)
	assert.Zero(t, visited)
}

func TestReadMatrix_NoSelectedResolution(t *testing.T) {
	t.Parallel()

	c := cursor.FromBytes(testArchive().Build())
	h, err := ReadHeader(c, 1)
	require.NoError(t, err)

	visited := 0
	err = ReadFooter(c, h.MasterOffset, func(FooterEntry) error {
		_, err := ReadMatrix(c, h, nil, func(int32, BlockEntry, []byte) error {
			visited++
			return nil
		})
		return err
	})
	require.NoError(t, err)
	assert.Zero(t, visited)
}

func TestReadFooter_Truncated(t *testing.T) {
	t.Parallel()

	data := testArchive().Build()
	c := cursor.FromBytes(data)
	h, err := ReadHeader(c, 10000)
	require.NoError(t, err)

	short := cursor.FromBytes(data[:len(data)-2])
	err = ReadFooter(short, h.MasterOffset, func(FooterEntry) error { return nil })
	var truncated *cursor.TruncatedReadError
	require.ErrorAs(t, err, &truncated)
}

func TestReadMatrix_BlockPastEnd(t *testing.T) {
	t.Parallel()

	var p hictest.Payload
	p.I32(1).I32(1).I32(1)
	p.Str("BP").I32(0).F32(0).F32(0).F32(0).F32(0)
	p.I32(5000).I32(10).I32(1).I32(1)
	p.I32(0).I64(1 << 20).I32(64)

	h := &Header{ResolutionIndex: 0}
	_, err := ReadMatrix(cursor.FromBytes(p.Bytes()), h, nil, func(int32, BlockEntry, []byte) error { return nil })
	var truncated *cursor.TruncatedReadError
	require.ErrorAs(t, err, &truncated)
	assert.Equal(t, int64(1<<20), truncated.Offset)
}

// Not parallel: measures allocations for the whole process.
func TestReadMatrix_HugeBlockSize(t *testing.T) {
	var p hictest.Payload
	p.I32(1).I32(1).I32(1)
	p.Str("BP").I32(0).F32(0).F32(0).F32(0).F32(0)
	p.I32(5000).I32(10).I32(1).I32(1)
	p.I32(0).I64(0).I32(math.MaxInt32)

	h := &Header{ResolutionIndex: 0}
	visited := false

	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	_, err := ReadMatrix(cursor.FromBytes(p.Bytes()), h, nil, func(int32, BlockEntry, []byte) error {
		visited = true
		return nil
	})
	runtime.ReadMemStats(&after)

	var truncated *cursor.TruncatedReadError
	require.ErrorAs(t, err, &truncated)
	assert.Equal(t, math.MaxInt32, truncated.Want)
	assert.Equal(t, p.Len(), truncated.Got)
	assert.False(t, visited)
	assert.Less(t, after.TotalAlloc-before.TotalAlloc, uint64(64<<20))
}

func TestReadMatrix_NegativeBlockCount(t *testing.T) {
	t.Parallel()

	var p hictest.Payload
	p.I32(1).I32(1).I32(1)
	p.Str("BP").I32(0).F32(0).F32(0).F32(0).F32(0)
	p.I32(5000).I32(10).I32(1).I32(-4)

	h := &Header{ResolutionIndex: 0}
	_, err := ReadMatrix(cursor.FromBytes(p.Bytes()), h, nil, nil)
	require.ErrorIs(t, err, ErrMalformed)
}
