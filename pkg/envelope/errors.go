package envelope

import "errors"

var (
	// ErrBadEnvelopeKey is returned when SENSITIVITY_AES_KEY or
	// SENSITIVITY_AES_IV is set but is not exactly 32 hex characters.
	ErrBadEnvelopeKey = errors.New("envelope: SENSITIVITY_AES_KEY/IV must be 32 hex characters")

	// ErrBadEnvelopeBody is returned when the server's response can't be
	// decrypted, or no JSON object can be found in the decrypted text.
	ErrBadEnvelopeBody = errors.New("envelope: could not recover a JSON object from the server response")
)

// RejectedError carries a server-reported validation failure, keeping the
// verbatim message so callers can tell "needs wipe" from "unsupported
// version" (spec §9's error policy).
type RejectedError struct {
	Message string
}

func (e *RejectedError) Error() string {
	return "envelope: server rejected validation: " + e.Message
}
