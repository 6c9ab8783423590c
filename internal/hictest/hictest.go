// Package hictest builds small synthetic HiC archives for tests.
package hictest

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/klauspost/compress/zlib"
)

// Triple is one raw contact for block payload builders.
type Triple struct {
	X, Y  int32
	Count float32
}

// Payload accumulates little-endian fields of a block or directory.
type Payload struct {
	bytes.Buffer
}

// I8 appends a signed byte.
func (p *Payload) I8(v int8) *Payload { p.WriteByte(byte(v)); return p }

// I16 appends a 2-byte integer.
func (p *Payload) I16(v int16) *Payload {
	p.Write(binary.LittleEndian.AppendUint16(nil, uint16(v)))
	return p
}

// I32 appends a 4-byte integer.
func (p *Payload) I32(v int32) *Payload {
	p.Write(binary.LittleEndian.AppendUint32(nil, uint32(v)))
	return p
}

// I64 appends an 8-byte integer.
func (p *Payload) I64(v int64) *Payload {
	p.Write(binary.LittleEndian.AppendUint64(nil, uint64(v)))
	return p
}

// F32 appends a 4-byte float.
func (p *Payload) F32(v float32) *Payload { return p.Bits(math.Float32bits(v)) }

// Bits appends a raw 4-byte float bit pattern.
func (p *Payload) Bits(v uint32) *Payload {
	p.Write(binary.LittleEndian.AppendUint32(nil, v))
	return p
}

// Str appends a NUL-terminated string.
func (p *Payload) Str(s string) *Payload {
	p.WriteString(s)
	p.WriteByte(0)
	return p
}

// LegacyBlock encodes a version 6 block of raw triples.
func LegacyBlock(records ...Triple) []byte {
	var p Payload
	p.I32(int32(len(records)))
	for _, r := range records {
		p.I32(r.X).I32(r.Y).F32(r.Count)
	}
	return p.Bytes()
}

// Row is one row of a list-of-rows block: a relative row index and its
// (relative column, count) cells.
type Row struct {
	Y     int16
	Cells []Cell
}

// Cell is one column of a Row.
type Cell struct {
	X     int16
	Count float32
}

// RowsBlock encodes a type 1 block. With floatCounts false, counts are
// truncated to 2-byte integers.
func RowsBlock(xOffset, yOffset int32, floatCounts bool, rows ...Row) []byte {
	n := 0
	for _, r := range rows {
		n += len(r.Cells)
	}
	var p Payload
	p.I32(int32(n)).I32(xOffset).I32(yOffset).I8(flag(floatCounts)).I8(1)
	p.I16(int16(len(rows)))
	for _, r := range rows {
		p.I16(r.Y).I16(int16(len(r.Cells)))
		for _, c := range r.Cells {
			p.I16(c.X)
			if floatCounts {
				p.F32(c.Count)
			} else {
				p.I16(int16(c.Count))
			}
		}
	}
	return p.Bytes()
}

// DenseShortBlock encodes a type 2 block with 2-byte integer counts.
func DenseShortBlock(xOffset, yOffset int32, width int16, counts ...int16) []byte {
	var p Payload
	p.I32(int32(len(counts))).I32(xOffset).I32(yOffset).I8(0).I8(2)
	p.I32(int32(len(counts))).I16(width)
	for _, c := range counts {
		p.I16(c)
	}
	return p.Bytes()
}

// DenseFloatBlock encodes a type 2 block with 4-byte float counts given as raw
// bit patterns.
func DenseFloatBlock(xOffset, yOffset int32, width int16, bits ...uint32) []byte {
	var p Payload
	p.I32(int32(len(bits))).I32(xOffset).I32(yOffset).I8(1).I8(2)
	p.I32(int32(len(bits))).I16(width)
	for _, b := range bits {
		p.Bits(b)
	}
	return p.Bytes()
}

// TypedBlock encodes a version 7+ block prefix with an arbitrary type tag and
// trailing bytes.
func TypedBlock(tag int8, tail []byte) []byte {
	var p Payload
	p.I32(0).I32(0).I32(0).I8(1).I8(tag)
	p.Write(tail)
	return p.Bytes()
}

func flag(b bool) int8 {
	if b {
		return 1
	}
	return 0
}

// Compress zlib-compresses a block payload.
func Compress(payload []byte) []byte {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	_, _ = zw.Write(payload)
	_ = zw.Close()
	return buf.Bytes()
}

// Level is one resolution level of a matrix. Each block is an uncompressed
// payload; a nil payload is stored as a zero-size block.
type Level struct {
	Unit    string
	BinSize int32
	Blocks  [][]byte
}

// Matrix is one chromosome-pair matrix.
type Matrix struct {
	Chr1, Chr2 int32
	Levels     []Level
}

// Archive describes a synthetic archive.
type Archive struct {
	Magic       string // Defaults to "HIC"
	Version     int32
	Genome      string
	Attributes  [][2]string
	Chromosomes []string
	Lengths     []int32 // Defaults to 1000000 per chromosome
	Resolutions []int32
	Matrices    []Matrix
	Absent      []string // Footer keys stored with the absent offset
}

// Build serializes the archive: header, block data, matrix descriptors, footer.
func (a Archive) Build() []byte {
	var out Payload
	magic := a.Magic
	if magic == "" {
		magic = "HIC"
	}
	out.Str(magic).I32(a.Version)
	masterAt := out.Len()
	out.I64(0).Str(a.Genome)

	out.I32(int32(len(a.Attributes)))
	for _, kv := range a.Attributes {
		out.Str(kv[0]).Str(kv[1])
	}
	out.I32(int32(len(a.Chromosomes)))
	for i, name := range a.Chromosomes {
		length := int32(1000000)
		if i < len(a.Lengths) {
			length = a.Lengths[i]
		}
		out.Str(name).I32(length)
	}
	out.I32(int32(len(a.Resolutions)))
	for _, r := range a.Resolutions {
		out.I32(r)
	}

	type blockRef struct {
		offset int64
		size   int32
	}
	refs := make([][][]blockRef, len(a.Matrices))
	for m, mat := range a.Matrices {
		refs[m] = make([][]blockRef, len(mat.Levels))
		for l, level := range mat.Levels {
			for _, payload := range level.Blocks {
				if payload == nil {
					refs[m][l] = append(refs[m][l], blockRef{offset: int64(out.Len())})
					continue
				}
				compressed := Compress(payload)
				refs[m][l] = append(refs[m][l], blockRef{offset: int64(out.Len()), size: int32(len(compressed))})
				out.Write(compressed)
			}
		}
	}

	type entry struct {
		key    string
		offset int64
		size   int32
	}
	entries := make([]entry, 0, len(a.Matrices)+len(a.Absent))
	for m, mat := range a.Matrices {
		start := out.Len()
		out.I32(mat.Chr1).I32(mat.Chr2).I32(int32(len(mat.Levels)))
		for l, level := range mat.Levels {
			unit := level.Unit
			if unit == "" {
				unit = "BP"
			}
			out.Str(unit).I32(int32(l))
			out.F32(0).F32(0).F32(0).F32(0)
			out.I32(level.BinSize).I32(1000).I32(1).I32(int32(len(level.Blocks)))
			for b, ref := range refs[m][l] {
				out.I32(int32(b)).I64(ref.offset).I32(ref.size)
			}
		}
		entries = append(entries, entry{
			key:    fmt.Sprintf("%d_%d", mat.Chr1, mat.Chr2),
			offset: int64(start),
			size:   int32(out.Len() - start),
		})
	}
	for _, key := range a.Absent {
		entries = append(entries, entry{key: key, offset: -1})
	}

	master := out.Len()
	var footer Payload
	footer.I32(int32(len(entries)))
	for _, e := range entries {
		footer.Str(e.key).I64(e.offset).I32(e.size)
	}
	out.I32(int32(footer.Len()))
	out.Write(footer.Bytes())

	b := out.Bytes()
	binary.LittleEndian.PutUint64(b[masterAt:], uint64(master))
	return b
}
