// Package adbsession drives the ADB v1 handshake and stream multiplexing
// on top of pkg/adbwire's framing. It is transport-agnostic: anything
// satisfying BulkReadWriter (a raw USB carrier, or an in-memory pipe in
// tests) can carry a Session.
package adbsession

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Has-X/Sensitivity/pkg/adbwire"
	log "github.com/Has-X/Sensitivity/pkg/logging"
)

// BulkReadWriter is the minimal transport a Session needs: two blocking,
// context-aware bulk endpoints. pkg/usbtransport.Carrier satisfies this.
type BulkReadWriter interface {
	BulkWrite(ctx context.Context, buf []byte) error
	BulkRead(ctx context.Context, buf []byte) (int, error)
}

// HandshakeTimeout is how long Handshake waits for the device's CNXN reply
// before giving up (spec §4.B).
const HandshakeTimeout = 5 * time.Second

// Session owns one ADB connection: the CNXN handshake plus every OPEN
// stream multiplexed on top of it. All reads funnel through recvFor and
// readPacket, called synchronously from whichever goroutine is waiting — there is no
// background reader goroutine, matching the receive-then-dispatch style
// this vendor's own recovery client uses.
type Session struct {
	transport BulkReadWriter

	mu         sync.Mutex
	closed     bool
	maxPayload uint32
	nextLocal  uint32
	streams    map[uint32]*Stream // keyed by local id
}

// New wraps transport in a Session. Call Handshake before opening streams.
func New(transport BulkReadWriter) *Session {
	return &Session{
		transport:  transport,
		maxPayload: adbwire.DefaultMaxPayload,
		nextLocal:  1,
		streams:    make(map[uint32]*Stream),
	}
}

// Handshake performs the CNXN exchange and records the device's advertised
// max_payload for subsequent WRTE chunking.
func (s *Session) Handshake(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, HandshakeTimeout)
	defer cancel()

	cnxn := adbwire.Encode(adbwire.CNXN, adbwire.AdbVersion, adbwire.MaxPayload, []byte(adbwire.HostBanner))
	if err := s.transport.BulkWrite(ctx, cnxn); err != nil {
		return fmt.Errorf("adbsession: sending CNXN: %w", err)
	}

	// A bad-magic reply is recoverable: discard it and read once more before
	// giving up (spec §7). A transport-level failure (timeout, I/O error) is
	// not retried here.
	p, err := s.readPacket(ctx)
	if errors.Is(err, adbwire.ErrBadMagic) {
		log.Debugf("adbsession: bad magic on CNXN reply, discarding and re-reading once")
		p, err = s.readPacket(ctx)
	}
	if err != nil {
		if errors.Is(err, adbwire.ErrBadMagic) {
			return fmt.Errorf("%w: %v", ErrHandshakeRejected, err)
		}
		return fmt.Errorf("%w: %v", ErrHandshakeTimeout, err)
	}
	if p.Command != adbwire.CNXN {
		return fmt.Errorf("%w: got %s", ErrHandshakeRejected, p.Command)
	}

	max := p.Arg1
	if max < adbwire.DefaultMaxPayload {
		max = adbwire.DefaultMaxPayload
	}
	if max > adbwire.MaxPayload {
		max = adbwire.MaxPayload
	}
	s.mu.Lock()
	s.maxPayload = max
	s.mu.Unlock()

	log.Debugf("adbsession: handshake ok, max_payload=%d, banner=%q", max, string(p.Payload))
	return nil
}

// MaxPayload returns the negotiated max payload size, valid after Handshake.
func (s *Session) MaxPayload() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxPayload
}

// OpenStream opens a new logical stream against service (e.g.
// "getdevice:", "sideload-host:<size>:<chunk>:<token>:<wipe>") and blocks until the device answers
// with OKAY or CLSE.
func (s *Session) OpenStream(ctx context.Context, service string) (*Stream, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	local := s.nextLocal
	s.nextLocal++
	st := &Stream{
		session: s,
		local:   local,
		inbox:   make(chan adbwire.Packet, 8),
	}
	s.streams[local] = st
	s.mu.Unlock()

	payload := append([]byte(service), 0)
	open := adbwire.Encode(adbwire.OPEN, local, 0, payload)
	if err := s.transport.BulkWrite(ctx, open); err != nil {
		s.forgetStream(local)
		return nil, fmt.Errorf("adbsession: sending OPEN %q: %w", service, err)
	}

	for {
		p, err := s.recvFor(ctx, local)
		if err != nil {
			s.forgetStream(local)
			return nil, err
		}
		switch p.Command {
		case adbwire.OKAY:
			st.remote = p.Arg0
			return st, nil
		case adbwire.CLSE:
			s.forgetStream(local)
			return nil, fmt.Errorf("%w: service %q", ErrStreamRejected, service)
		default:
			log.Debugf("adbsession: OPEN %q got unexpected %s, waiting", service, p.Command)
		}
	}
}

func (s *Session) forgetStream(local uint32) {
	s.mu.Lock()
	delete(s.streams, local)
	s.mu.Unlock()
}

// recvFor blocks until a packet destined for local (or a session-level
// error) is available, pumping the transport and stashing packets destined
// for other streams in their inboxes.
func (s *Session) recvFor(ctx context.Context, local uint32) (adbwire.Packet, error) {
	s.mu.Lock()
	st, ok := s.streams[local]
	s.mu.Unlock()
	if !ok {
		return adbwire.Packet{}, ErrStreamClosed
	}

	for {
		select {
		case p := <-st.inbox:
			return p, nil
		default:
		}

		p, err := s.readPacket(ctx)
		if err != nil {
			return adbwire.Packet{}, err
		}
		if p.Arg1 == local {
			return p, nil
		}
		s.route(p)
	}
}

// route delivers a packet not immediately consumed by its waiter into the
// destination stream's inbox, or drops it with a debug log if the stream
// is unknown (already closed, or a stray device message).
func (s *Session) route(p adbwire.Packet) {
	s.mu.Lock()
	st, ok := s.streams[p.Arg1]
	s.mu.Unlock()
	if !ok {
		log.Debugf("adbsession: dropping %s for unknown stream %d", p.Command, p.Arg1)
		return
	}
	select {
	case st.inbox <- p:
	default:
		log.Warnf("adbsession: inbox full for stream %d, dropping %s", p.Arg1, p.Command)
	}
}

// readPacket reads one full packet (header, then payload) off the
// transport.
func (s *Session) readPacket(ctx context.Context) (adbwire.Packet, error) {
	header := make([]byte, adbwire.HeaderSize)
	if err := s.readFull(ctx, header); err != nil {
		return adbwire.Packet{}, err
	}
	p, err := adbwire.DecodeHeader(header)
	if err != nil {
		// The header still declares a payload length even though its magic
		// didn't check out; drain it so the next read starts back on a
		// header boundary instead of reading this packet's trailing bytes
		// as the next header (spec §7's "discard and re-read" recovery).
		if p.DataLength > 0 && p.DataLength <= adbwire.MaxPayload {
			discard := make([]byte, p.DataLength)
			_ = s.readFull(ctx, discard)
		}
		return p, err
	}
	if p.DataLength > adbwire.MaxPayload {
		return p, fmt.Errorf("adbsession: declared payload %d exceeds max %d", p.DataLength, adbwire.MaxPayload)
	}
	if p.DataLength > 0 {
		payload := make([]byte, p.DataLength)
		if err := s.readFull(ctx, payload); err != nil {
			return p, err
		}
		p.Payload = payload
		if !adbwire.ChecksumMatches(p) {
			log.Debugf("adbsession: checksum mismatch on %s (ignored, vendor firmware is loose about this)", p.Command)
		}
	}
	return p, nil
}

func (s *Session) readFull(ctx context.Context, buf []byte) error {
	got := 0
	for got < len(buf) {
		n, err := s.transport.BulkRead(ctx, buf[got:])
		if err != nil {
			return err
		}
		got += n
	}
	return nil
}

// Close marks the session unusable. It does not send CLSE for open streams
// individually; callers should close streams first when a clean shutdown
// with the device matters.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
