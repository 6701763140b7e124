// Package miflash orchestrates the whole flash workflow: USB carrier,
// ADB session, vendor command layer, validation envelope, and sideload
// engine, wired together the way the CLI's subcommands need them.
package miflash

import "fmt"

// Kind classifies every error this tool can produce; ExitCode maps each
// Kind to one entry of the CLI's exit-code table.
type Kind int

const (
	KindNone Kind = iota
	KindUsbOpen
	KindInterfaceBusy
	KindUsbIO
	KindBadMagic
	KindHandshakeTimeout
	KindHandshakeRejected
	KindStreamRejected
	KindStreamClosed
	KindVendorCommandFailed
	KindBadEnvelopeKey
	KindServerHTTP
	KindBadEnvelopeBody
	KindValidationRejected
	KindSideloadRejected
	KindSideloadOutOfRange
	KindSideloadProtocol
	KindSideloadAborted
	KindFileIO
	KindUserAborted
)

func (k Kind) String() string {
	switch k {
	case KindUsbOpen:
		return "UsbOpen"
	case KindInterfaceBusy:
		return "InterfaceBusy"
	case KindUsbIO:
		return "UsbIo"
	case KindBadMagic:
		return "BadMagic"
	case KindHandshakeTimeout:
		return "HandshakeTimeout"
	case KindHandshakeRejected:
		return "HandshakeRejected"
	case KindStreamRejected:
		return "StreamRejected"
	case KindStreamClosed:
		return "StreamClosed"
	case KindVendorCommandFailed:
		return "VendorCommandFailed"
	case KindBadEnvelopeKey:
		return "BadEnvelopeKey"
	case KindServerHTTP:
		return "ServerHttp"
	case KindBadEnvelopeBody:
		return "BadEnvelopeBody"
	case KindValidationRejected:
		return "ValidationRejected"
	case KindSideloadRejected:
		return "SideloadRejected"
	case KindSideloadOutOfRange:
		return "SideloadOutOfRange"
	case KindSideloadProtocol:
		return "SideloadProtocol"
	case KindSideloadAborted:
		return "SideloadAborted"
	case KindFileIO:
		return "FileIo"
	case KindUserAborted:
		return "UserAborted"
	default:
		return "Unknown"
	}
}

// ExitCode maps a Kind to the CLI's documented exit code (spec §6).
func (k Kind) ExitCode() int {
	switch k {
	case KindNone:
		return 0
	case KindUserAborted:
		return 2
	case KindUsbOpen, KindInterfaceBusy:
		return 3
	case KindValidationRejected:
		return 4
	case KindSideloadRejected, KindSideloadOutOfRange, KindSideloadProtocol, KindSideloadAborted:
		return 5
	default:
		return 1
	}
}

// Error wraps an underlying cause with the Kind used to pick an exit code
// and, for KindValidationRejected, the server's verbatim code string.
type Error struct {
	Kind Kind
	Code string
	Err  error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("miflash: %s (%s): %v", e.Kind, e.Code, e.Err)
	}
	return fmt.Sprintf("miflash: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}
