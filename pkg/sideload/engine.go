// Package sideload implements the device-driven pull transfer a Mi
// Assistant recovery uses to receive a ROM: the phone asks for blocks by
// index, the host answers, until the phone sends the DONEDONE sentinel.
package sideload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/Has-X/Sensitivity/pkg/adbsession"
	log "github.com/Has-X/Sensitivity/pkg/logging"
)

// doneSentinel is the exact 8-byte ASCII frame that ends a transfer.
// It must be compared byte-for-byte, never through integer parsing —
// legitimate block indices can also be all-digit strings of similar
// length with leading zeros.
const doneSentinel = "DONEDONE"

// DefaultChunkSize is the block size used when the caller has no opinion.
const DefaultChunkSize = 65536

// ProgressFunc is invoked after each block is written, with the
// monotonically non-decreasing count of bytes delivered so far.
type ProgressFunc func(delivered, total int64)

// Engine drives one sideload transfer to completion over an already-open
// stream.
type Engine struct {
	stream    *adbsession.Stream
	rom       io.ReaderAt
	total     int64
	chunkSize int64
	onProgress ProgressFunc

	delivered int64
}

// Open opens the sideload-host service and returns an Engine ready to
// Run. rom must support random access reads up to total bytes.
func Open(ctx context.Context, session *adbsession.Session, rom io.ReaderAt, total int64, token string, wipe bool, chunkSize int64) (*Engine, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	wipeFlag := 0
	if wipe {
		wipeFlag = 1
	}
	dest := fmt.Sprintf("sideload-host:%d:%d:%s:%d", total, chunkSize, token, wipeFlag)

	stream, err := session.OpenStream(ctx, dest)
	if err != nil {
		if errors.Is(err, adbsession.ErrStreamRejected) {
			return nil, fmt.Errorf("%w: %v", ErrRejected, err)
		}
		return nil, err
	}

	return &Engine{
		stream:    stream,
		rom:       rom,
		total:     total,
		chunkSize: chunkSize,
	}, nil
}

// OnProgress registers a callback invoked after every block delivered.
func (e *Engine) OnProgress(fn ProgressFunc) {
	e.onProgress = fn
}

// Run executes the pull loop until the device sends DONEDONE, the stream
// closes early, or an unrecoverable error occurs. It returns the total
// number of bytes delivered.
func (e *Engine) Run(ctx context.Context) (int64, error) {
	for {
		req, err := e.stream.Read(ctx)
		if err != nil {
			if errors.Is(err, adbsession.ErrStreamClosed) {
				return e.delivered, fmt.Errorf("%w: stream closed after %d/%d bytes", ErrAborted, e.delivered, e.total)
			}
			return e.delivered, fmt.Errorf("%w: %v", ErrAborted, err)
		}

		if string(req) == doneSentinel {
			_ = e.stream.Close(ctx)
			return e.delivered, nil
		}

		index, ok := parseBlockIndex(req)
		if !ok {
			return e.delivered, fmt.Errorf("%w: %q", ErrProtocol, req)
		}

		if err := e.serveBlock(ctx, index); err != nil {
			return e.delivered, err
		}
	}
}

// parseBlockIndex accepts an ASCII decimal string, tolerating leading
// zeros and surrounding whitespace, and rejects anything that isn't
// purely digits.
func parseBlockIndex(req []byte) (int64, bool) {
	trimmed := strings.TrimSpace(string(req))
	if trimmed == "" {
		return 0, false
	}
	for _, r := range trimmed {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func (e *Engine) serveBlock(ctx context.Context, index int64) error {
	offset := index * e.chunkSize
	if offset >= e.total {
		return fmt.Errorf("%w: index %d (offset %d) >= total %d", ErrOutOfRange, index, offset, e.total)
	}

	end := offset + e.chunkSize
	if end > e.total {
		end = e.total
	}
	buf := make([]byte, end-offset)
	if _, err := e.rom.ReadAt(buf, offset); err != nil && err != io.EOF {
		return fmt.Errorf("sideload: reading ROM at offset %d: %w", offset, err)
	}

	if err := e.stream.Write(ctx, buf); err != nil {
		return fmt.Errorf("%w: writing block %d: %v", ErrAborted, index, err)
	}

	if end > e.delivered {
		e.delivered = end
	}
	log.Debugf("sideload: served block %d (%d bytes), delivered=%d/%d", index, len(buf), e.delivered, e.total)
	if e.onProgress != nil {
		e.onProgress(e.delivered, e.total)
	}
	return nil
}
