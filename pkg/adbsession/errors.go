package adbsession

import "errors"

var (
	// ErrHandshakeTimeout is returned when the device does not answer CNXN
	// within the handshake deadline (spec §4.B, 5s).
	ErrHandshakeTimeout = errors.New("adbsession: CNXN handshake timed out")

	// ErrHandshakeRejected is returned when the device answers the CNXN
	// with anything other than CNXN (e.g. CLSE, or a bad magic).
	ErrHandshakeRejected = errors.New("adbsession: device rejected CNXN handshake")

	// ErrStreamRejected is returned by OpenStream when the device answers
	// OPEN with CLSE instead of OKAY.
	ErrStreamRejected = errors.New("adbsession: device rejected OPEN")

	// ErrStreamClosed is returned by Stream.Read/Write after the peer has
	// sent CLSE for that stream.
	ErrStreamClosed = errors.New("adbsession: stream closed by peer")

	// ErrSessionClosed is returned by any Session or Stream method called
	// after Session.Close.
	ErrSessionClosed = errors.New("adbsession: session closed")

	// ErrUnexpectedCommand is returned when a reply carries a command the
	// caller wasn't prepared to accept in that state.
	ErrUnexpectedCommand = errors.New("adbsession: unexpected command in reply")
)
