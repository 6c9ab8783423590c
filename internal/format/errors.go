package format

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrInvalidFormat is returned when the magic bytes do not identify a HiC archive.
	ErrInvalidFormat = errors.New("invalid magic bytes: not a HiC file")

	// ErrMalformed is returned when a directory field holds an impossible value,
	// such as a negative count or size.
	ErrMalformed = errors.New("malformed archive")
)

// UnsupportedVersionError is returned for archives older than MinVersion.
type UnsupportedVersionError struct {
	Version int32
}

func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf("version %d no longer supported (minimum %d)", e.Version, MinVersion)
}

// ResolutionNotFoundError is returned when the requested bin size is not among
// the archive's resolutions. Available lists every resolution the archive has.
type ResolutionNotFoundError struct {
	Requested int32
	Available []int32
}

func (e *ResolutionNotFoundError) Error() string {
	parts := make([]string, len(e.Available))
	for i, r := range e.Available {
		parts[i] = strconv.Itoa(int(r))
	}
	return fmt.Sprintf("cannot find resolution %d (available: %s)", e.Requested, strings.Join(parts, ", "))
}

func malformed(what string, v int64, offset int64) error {
	return fmt.Errorf("%w: %s %d at offset %d", ErrMalformed, what, v, offset)
}
