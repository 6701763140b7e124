package vendorcmd

import "fmt"

// FailedError wraps a vendor text reply that began with "FAIL" (spec §4.D
// / §9's error policy).
type FailedError struct {
	Command string
	Text    string
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("vendorcmd: %s failed: %s", e.Command, e.Text)
}
