package format

import (
	"fmt"

	"github.com/chbk/hicdump/internal/cursor"
)

// AbsentOffset marks a directory entry with no data behind it.
const AbsentOffset int64 = -1

// FooterEntry locates one chromosome-pair matrix descriptor.
type FooterEntry struct {
	Key    string // Chromosome pair, e.g. "1_1"
	Offset int64  // Absolute offset of the matrix descriptor
	Size   int32  // Descriptor size in bytes
}

// EntryVisitor is called for each footer entry, with the cursor positioned at
// the entry's matrix descriptor.
type EntryVisitor func(e FooterEntry) error

// ReadFooter seeks to the master index at offset and calls visit for every
// entry in order. The cursor is returned to the entry list after each visit,
// so visit may read freely. Entries at AbsentOffset are not visited.
func ReadFooter(c *cursor.Cursor, offset int64, visit EntryVisitor) error {
	c.Seek(offset)

	// Total byte count of the index; entries are self-delimiting.
	if _, err := c.ReadInt32(); err != nil {
		return fmt.Errorf("reading master index size: %w", err)
	}
	n, err := readCount(c, "master index entry count")
	if err != nil {
		return err
	}

	for i := range n {
		e, err := readFooterEntry(c)
		if err != nil {
			return fmt.Errorf("reading master index entry %d: %w", i, err)
		}
		if e.Offset == AbsentOffset {
			continue
		}
		if err := c.Detour(e.Offset, func() error { return visit(e) }); err != nil {
			return fmt.Errorf("matrix %s: %w", e.Key, err)
		}
	}
	return nil
}

func readFooterEntry(c *cursor.Cursor) (FooterEntry, error) {
	var (
		e   FooterEntry
		err error
	)
	if e.Key, err = c.ReadCString(); err != nil {
		return e, err
	}
	if e.Offset, err = c.ReadInt64(); err != nil {
		return e, err
	}
	if e.Size, err = c.ReadInt32(); err != nil {
		return e, err
	}
	return e, nil
}
