package compression

import "errors"

// Error discriminators for the chunk geometry codec (encode and decode).
var (
	ErrBadMagic           = errors.New("BadMagic")
	ErrUnsupportedVersion = errors.New("UnsupportedVersion")
	ErrVertexOverflow     = errors.New("VertexOverflow")
	ErrCorruptedStream    = errors.New("CorruptedStream")
)
