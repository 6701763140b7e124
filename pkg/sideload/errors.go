package sideload

import "errors"

var (
	// ErrRejected is returned when opening the sideload-host service is
	// answered with CLSE instead of OKAY.
	ErrRejected = errors.New("sideload: device rejected sideload-host open")

	// ErrOutOfRange is returned when the device requests a block index
	// whose offset falls at or beyond the ROM's total size.
	ErrOutOfRange = errors.New("sideload: device requested a block past end of file")

	// ErrProtocol is returned when the device sends anything on the
	// sideload stream that is neither the DONEDONE sentinel nor an ASCII
	// decimal block index.
	ErrProtocol = errors.New("sideload: unrecognized request on sideload stream")

	// ErrAborted is returned when the stream closes, or the transport
	// fails, before the DONEDONE sentinel is observed.
	ErrAborted = errors.New("sideload: transfer aborted before completion")
)
