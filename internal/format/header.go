// Package format reads the directory structures of the HiC contact-matrix archive:
// the header, the master footer index and per-matrix block directories.
//
// All integers are little-endian. Offsets in directories are absolute file offsets.
package format

import (
	"fmt"
	"strings"

	"github.com/chbk/hicdump/internal/cursor"
)

// Magic identifies a HiC archive. It is stored as a NUL-terminated string.
var Magic = [3]byte{'H', 'I', 'C'}

// Supported archive versions.
const (
	MinVersion    int32 = 6 // Oldest readable archive version
	ModernVersion int32 = 7 // First version using offset-relative block layouts
)

// NoResolution marks a header whose resolution list lacks the requested bin size.
const NoResolution = -1

// allChromosome is the name of the synthetic whole-genome chromosome.
const allChromosome = "ALL"

// Chromosome is one entry of the archive's chromosome dictionary.
type Chromosome struct {
	Name   string
	Length int32
}

// Attribute is one genome attribute key/value pair.
type Attribute struct {
	Key   string
	Value string
}

// Header holds everything read from the start of the archive.
// It is not modified after ReadHeader returns.
type Header struct {
	Version         int32
	MasterOffset    int64 // Absolute offset of the footer index
	Genome          string
	Attributes      []Attribute
	Chromosomes     []Chromosome // Index is the chromosome id used by matrices
	Resolutions     []int32      // Base-pair bin sizes, in archive order
	ResolutionIndex int          // Index of the requested resolution, or NoResolution
	FirstIsAll      bool         // Chromosome 0 is the synthetic "ALL" aggregate
}

// ReadHeader reads the archive header at the cursor's position and selects the
// index of resolution among the stored resolutions.
func ReadHeader(c *cursor.Cursor, resolution int32) (*Header, error) {
	if err := readMagic(c); err != nil {
		return nil, err
	}

	h := &Header{ResolutionIndex: NoResolution}

	var err error
	if h.Version, err = c.ReadInt32(); err != nil {
		return nil, fmt.Errorf("reading version: %w", err)
	}
	if h.Version < MinVersion {
		return nil, &UnsupportedVersionError{Version: h.Version}
	}
	if h.MasterOffset, err = c.ReadInt64(); err != nil {
		return nil, fmt.Errorf("reading master index offset: %w", err)
	}
	if h.Genome, err = c.ReadCString(); err != nil {
		return nil, fmt.Errorf("reading genome id: %w", err)
	}

	if err := h.readAttributes(c); err != nil {
		return nil, err
	}
	if err := h.readChromosomes(c); err != nil {
		return nil, err
	}
	if err := h.readResolutions(c, resolution); err != nil {
		return nil, err
	}

	h.FirstIsAll = len(h.Chromosomes) > 0 && strings.EqualFold(h.Chromosomes[0].Name, allChromosome)
	return h, nil
}

func readMagic(c *cursor.Cursor) error {
	start := c.Pos()
	b, err := c.ReadBytes(len(Magic) + 1)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidFormat, err)
	}
	if [3]byte(b[:3]) != Magic || b[3] != 0 {
		return fmt.Errorf("%w: found %q at offset %d", ErrInvalidFormat, b, start)
	}
	return nil
}

func (h *Header) readAttributes(c *cursor.Cursor) error {
	n, err := readCount(c, "attribute count")
	if err != nil {
		return err
	}
	h.Attributes = make([]Attribute, 0, min(n, 64))
	for range n {
		key, err := c.ReadCString()
		if err != nil {
			return fmt.Errorf("reading attribute key: %w", err)
		}
		value, err := c.ReadCString()
		if err != nil {
			return fmt.Errorf("reading attribute %q: %w", key, err)
		}
		h.Attributes = append(h.Attributes, Attribute{Key: key, Value: value})
	}
	return nil
}

func (h *Header) readChromosomes(c *cursor.Cursor) error {
	n, err := readCount(c, "chromosome count")
	if err != nil {
		return err
	}
	h.Chromosomes = make([]Chromosome, 0, min(n, 1024))
	for range n {
		name, err := c.ReadCString()
		if err != nil {
			return fmt.Errorf("reading chromosome name: %w", err)
		}
		length, err := c.ReadInt32()
		if err != nil {
			return fmt.Errorf("reading length of chromosome %q: %w", name, err)
		}
		h.Chromosomes = append(h.Chromosomes, Chromosome{Name: name, Length: length})
	}
	return nil
}

func (h *Header) readResolutions(c *cursor.Cursor, resolution int32) error {
	n, err := readCount(c, "resolution count")
	if err != nil {
		return err
	}
	h.Resolutions = make([]int32, 0, min(n, 64))
	for i := range n {
		r, err := c.ReadInt32()
		if err != nil {
			return fmt.Errorf("reading resolution %d: %w", i, err)
		}
		h.Resolutions = append(h.Resolutions, r)
		if r == resolution {
			h.ResolutionIndex = i
		}
	}
	return nil
}

// Legacy reports whether blocks use the pre-version-7 triple layout.
func (h *Header) Legacy() bool {
	return h.Version < ModernVersion
}

// Resolution returns the selected bin size, or 0 if none was selected.
func (h *Header) Resolution() int32 {
	if h.ResolutionIndex == NoResolution {
		return 0
	}
	return h.Resolutions[h.ResolutionIndex]
}

// CheckResolution returns a *ResolutionNotFoundError if no stored resolution
// matched the one requested from ReadHeader.
func (h *Header) CheckResolution(requested int32) error {
	if h.ResolutionIndex != NoResolution {
		return nil
	}
	return &ResolutionNotFoundError{
		Requested: requested,
		Available: append([]int32(nil), h.Resolutions...),
	}
}

// ChromosomeID returns the id of the named chromosome, or -1.
// Names compare case-insensitively.
func (h *Header) ChromosomeID(name string) int32 {
	for i, chr := range h.Chromosomes {
		if strings.EqualFold(chr.Name, name) {
			return int32(i) //nolint:gosec // bounded by an int32 count
		}
	}
	return -1
}

// Expands reports whether the matrix for chromosome pair (chr1, chr2) holds
// decodable contacts: intra-chromosome only, never the "ALL" self-pair.
func (h *Header) Expands(chr1, chr2 int32) bool {
	if chr1 != chr2 {
		return false
	}
	return !h.FirstIsAll || chr1 != 0
}

// readCount reads a 4-byte element count and rejects negative values.
func readCount(c *cursor.Cursor, what string) (int, error) {
	pos := c.Pos()
	n, err := c.ReadInt32()
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", what, err)
	}
	if n < 0 {
		return 0, malformed(what, int64(n), pos)
	}
	return int(n), nil
}
