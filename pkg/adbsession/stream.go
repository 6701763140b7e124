package adbsession

import (
	"context"
	"fmt"

	"github.com/Has-X/Sensitivity/pkg/adbwire"
)

// Stream is one logical, bidirectional channel multiplexed over a Session,
// identified on the wire by a (local, remote) id pair (spec §4.B).
type Stream struct {
	session *Session
	local   uint32
	remote  uint32
	closed  bool
	inbox   chan adbwire.Packet
}

// Write sends data as a sequence of WRTE frames no larger than the
// session's negotiated max payload, waiting for an OKAY between each — the
// protocol allows only one outstanding WRTE per direction at a time.
func (st *Stream) Write(ctx context.Context, data []byte) error {
	max := int(st.session.MaxPayload())
	if max <= 0 {
		max = int(adbwire.DefaultMaxPayload)
	}
	for off := 0; off < len(data) || len(data) == 0; {
		end := off + max
		if end > len(data) {
			end = len(data)
		}
		chunk := data[off:end]

		wrte := adbwire.Encode(adbwire.WRTE, st.local, st.remote, chunk)
		if err := st.session.transport.BulkWrite(ctx, wrte); err != nil {
			return fmt.Errorf("adbsession: stream %d write: %w", st.local, err)
		}

		p, err := st.session.recvFor(ctx, st.local)
		if err != nil {
			return err
		}
		switch p.Command {
		case adbwire.OKAY:
			// continue
		case adbwire.CLSE:
			st.closed = true
			st.session.forgetStream(st.local)
			return ErrStreamClosed
		default:
			return fmt.Errorf("%w: expected OKAY, got %s", ErrUnexpectedCommand, p.Command)
		}

		off = end
		if len(data) == 0 {
			break
		}
	}
	return nil
}

// Read blocks for the next WRTE addressed to this stream, acknowledges it
// with OKAY, and returns its payload. It returns ErrStreamClosed once the
// peer sends CLSE.
func (st *Stream) Read(ctx context.Context) ([]byte, error) {
	if st.closed {
		return nil, ErrStreamClosed
	}
	for {
		p, err := st.session.recvFor(ctx, st.local)
		if err != nil {
			return nil, err
		}
		switch p.Command {
		case adbwire.WRTE:
			okay := adbwire.Encode(adbwire.OKAY, st.local, st.remote, nil)
			if err := st.session.transport.BulkWrite(ctx, okay); err != nil {
				return nil, fmt.Errorf("adbsession: stream %d ack: %w", st.local, err)
			}
			return p.Payload, nil
		case adbwire.CLSE:
			st.closed = true
			st.session.forgetStream(st.local)
			return nil, ErrStreamClosed
		default:
			continue
		}
	}
}

// Close sends CLSE for this stream and removes it from the session's
// routing table. Safe to call on an already-closed stream.
func (st *Stream) Close(ctx context.Context) error {
	if st.closed {
		return nil
	}
	st.closed = true
	st.session.forgetStream(st.local)
	clse := adbwire.Encode(adbwire.CLSE, st.local, st.remote, nil)
	return st.session.transport.BulkWrite(ctx, clse)
}
