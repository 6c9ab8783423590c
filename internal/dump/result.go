package dump

import (
	"encoding/binary"
	"math"

	"github.com/cespare/xxhash/v2"

	"github.com/chbk/hicdump/internal/contact"
	"github.com/chbk/hicdump/internal/format"
)

// Result holds decoded contacts as four equal-length columns in footer and
// block order.
type Result struct {
	Resolution int32 // Bin size of the decoded level
	Genome     string

	// Chromosomes is the label dictionary. A synthetic "ALL" chromosome is
	// excluded, but still occupies id 0 in the Chromosome column; use Name.
	Chromosomes []string
	idOffset    int32

	Chromosome []int32
	Bin1       []int32
	Bin2       []int32
	Count      []float64

	Matrices int // Intra-chromosome matrices expanded
}

func newResult(h *format.Header) *Result {
	res := &Result{
		Resolution: h.Resolution(),
		Genome:     h.Genome,
	}
	chrs := h.Chromosomes
	if h.FirstIsAll {
		chrs = chrs[1:]
		res.idOffset = 1
	}
	res.Chromosomes = make([]string, len(chrs))
	for i, chr := range chrs {
		res.Chromosomes[i] = chr.Name
	}
	return res
}

func (r *Result) add(batch matrixBatch) {
	if batch.expanded {
		r.Matrices++
	}
	r.append(batch.records)
}

func (r *Result) append(records []contact.Record) {
	for _, rec := range records {
		r.Chromosome = append(r.Chromosome, rec.Chromosome)
		r.Bin1 = append(r.Bin1, rec.Bin1)
		r.Bin2 = append(r.Bin2, rec.Bin2)
		r.Count = append(r.Count, rec.Count)
	}
}

// Len returns the number of records.
func (r *Result) Len() int {
	return len(r.Count)
}

// Name returns the label of chromosome id, or "" if the id has none.
func (r *Result) Name(id int32) string {
	i := id - r.idOffset
	if i < 0 || int(i) >= len(r.Chromosomes) {
		return ""
	}
	return r.Chromosomes[i]
}

// Record returns record i as a contact record.
func (r *Result) Record(i int) contact.Record {
	return contact.Record{
		Chromosome: r.Chromosome[i],
		Bin1:       r.Bin1[i],
		Bin2:       r.Bin2[i],
		Count:      r.Count[i],
	}
}

// Digest returns an order-sensitive hash of all four columns.
func (r *Result) Digest() uint64 {
	h := xxhash.New()
	var buf [20]byte
	for i := range r.Count {
		binary.LittleEndian.PutUint32(buf[0:4], uint32(r.Chromosome[i]))
		binary.LittleEndian.PutUint32(buf[4:8], uint32(r.Bin1[i]))
		binary.LittleEndian.PutUint32(buf[8:12], uint32(r.Bin2[i]))
		binary.LittleEndian.PutUint64(buf[12:20], math.Float64bits(r.Count[i]))
		_, _ = h.Write(buf[:])
	}
	return h.Sum64()
}
