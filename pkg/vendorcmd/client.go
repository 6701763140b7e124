// Package vendorcmd speaks the tiny text-command protocol the Mi Assistant
// recovery agent exposes over ADB streams: open a service named after the
// command, read one text reply, done.
package vendorcmd

import (
	"context"
	"errors"
	"strings"

	"github.com/Has-X/Sensitivity/pkg/adbsession"
	"github.com/Has-X/Sensitivity/pkg/device"
)

// Client issues vendor text commands against an already-handshaken
// session.
type Client struct {
	session *adbsession.Session
}

// New wraps an existing session. Handshake must already have succeeded.
func New(session *adbsession.Session) *Client {
	return &Client{session: session}
}

// query opens a stream at name, accumulates every WRTE reply until the
// device closes the stream, and returns the trimmed text.
func (c *Client) query(ctx context.Context, name string) (string, error) {
	st, err := c.session.OpenStream(ctx, name)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for {
		data, err := st.Read(ctx)
		if err != nil {
			if errors.Is(err, adbsession.ErrStreamClosed) {
				break
			}
			return sb.String(), err
		}
		sb.Write(data)
	}

	text := strings.TrimRight(sb.String(), "\r\n")
	if strings.HasPrefix(text, "FAIL") {
		return text, &FailedError{Command: name, Text: text}
	}
	return text, nil
}

// terminal issues a command the device is allowed to never answer, such as
// format-data or reboot: any stream/session-level error short of a real
// I/O failure is treated as success (spec §4.D).
func (c *Client) terminal(ctx context.Context, name string) error {
	_, err := c.query(ctx, name)
	if err == nil {
		return nil
	}
	if errors.Is(err, adbsession.ErrStreamClosed) ||
		errors.Is(err, adbsession.ErrStreamRejected) ||
		errors.Is(err, adbsession.ErrSessionClosed) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		return nil
	}
	var fe *FailedError
	if errors.As(err, &fe) {
		return nil
	}
	return err
}

// ReadInfo issues the eight get* queries in the vendor's documented order
// and assembles them into a device.Info.
func (c *Client) ReadInfo(ctx context.Context) (device.Info, error) {
	var info device.Info
	var err error

	if info.Device, err = c.query(ctx, "getdevice:"); err != nil {
		return device.Info{}, err
	}
	if info.SN, err = c.query(ctx, "getsn:"); err != nil {
		return device.Info{}, err
	}
	if info.Version, err = c.query(ctx, "getversion:"); err != nil {
		return device.Info{}, err
	}
	if info.Codebase, err = c.query(ctx, "getcodebase:"); err != nil {
		return device.Info{}, err
	}
	if info.Branch, err = c.query(ctx, "getbranch:"); err != nil {
		return device.Info{}, err
	}
	if info.Language, err = c.query(ctx, "getlanguage:"); err != nil {
		return device.Info{}, err
	}
	if info.Region, err = c.query(ctx, "getregion:"); err != nil {
		return device.Info{}, err
	}
	if info.RomZone, err = c.query(ctx, "getromzone:"); err != nil {
		return device.Info{}, err
	}
	return info, nil
}

// FormatData issues the destructive data wipe. It is terminal: the device
// commonly drops the session before replying at all.
func (c *Client) FormatData(ctx context.Context) error {
	return c.terminal(ctx, "format-data:")
}

// Reboot issues a reboot request. Terminal for the same reason as
// FormatData.
func (c *Client) Reboot(ctx context.Context) error {
	return c.terminal(ctx, "reboot:")
}
