package miflash

import (
	"context"
	"errors"

	"github.com/Has-X/Sensitivity/pkg/adbsession"
	"github.com/Has-X/Sensitivity/pkg/device"
	"github.com/Has-X/Sensitivity/pkg/usbtransport"
	"github.com/Has-X/Sensitivity/pkg/vendorcmd"
	log "github.com/Has-X/Sensitivity/pkg/logging"
)

// Client is one connected recovery session: a claimed USB interface, a
// handshaken ADB session, and the vendor command layer on top of it.
type Client struct {
	carrier *usbtransport.Carrier
	session *adbsession.Session
	vendor  *vendorcmd.Client
}

// Connect opens the deviceIndex-th Mi Assistant USB interface and
// performs the ADB CNXN handshake.
func Connect(ctx context.Context, deviceIndex int, debugUSB bool) (*Client, error) {
	carrier, err := usbtransport.Open(deviceIndex, debugUSB)
	if err != nil {
		if errors.Is(err, usbtransport.ErrInterfaceBusy) {
			return nil, wrap(KindInterfaceBusy, err)
		}
		return nil, wrap(KindUsbOpen, err)
	}

	session := adbsession.New(carrier)
	if err := session.Handshake(ctx); err != nil {
		carrier.Close()
		if errors.Is(err, adbsession.ErrHandshakeTimeout) {
			return nil, wrap(KindHandshakeTimeout, err)
		}
		return nil, wrap(KindHandshakeRejected, err)
	}

	return &Client{
		carrier: carrier,
		session: session,
		vendor:  vendorcmd.New(session),
	}, nil
}

// Close releases the session and the underlying USB interface.
func (c *Client) Close() error {
	c.session.Close()
	return c.carrier.Close()
}

// Session exposes the underlying ADB session for callers that need to
// open non-vendor streams directly, such as the sideload engine.
func (c *Client) Session() *adbsession.Session { return c.session }

// ReadInfo issues the vendor get* queries and returns the raw device
// identity, before any profile or field overrides are applied.
func (c *Client) ReadInfo(ctx context.Context) (device.Info, error) {
	info, err := c.vendor.ReadInfo(ctx)
	if err != nil {
		var fe *vendorcmd.FailedError
		if errors.As(err, &fe) {
			return device.Info{}, wrap(KindVendorCommandFailed, err)
		}
		if errors.Is(err, adbsession.ErrStreamClosed) {
			return device.Info{}, wrap(KindStreamClosed, err)
		}
		if errors.Is(err, adbsession.ErrStreamRejected) {
			return device.Info{}, wrap(KindStreamRejected, err)
		}
		return device.Info{}, wrap(KindUsbIO, err)
	}
	return info, nil
}

// FormatData issues the destructive vendor format-data command.
func (c *Client) FormatData(ctx context.Context) error {
	if err := c.vendor.FormatData(ctx); err != nil {
		return wrap(KindVendorCommandFailed, err)
	}
	return nil
}

// Reboot issues the vendor reboot command. Errors are logged, not
// returned, when called as part of a best-effort post-flash reboot.
func (c *Client) Reboot(ctx context.Context) error {
	if err := c.vendor.Reboot(ctx); err != nil {
		return wrap(KindVendorCommandFailed, err)
	}
	return nil
}

// RebootBestEffort issues reboot and swallows any error, logging it
// instead — used after a successful flash where a failure to reboot
// should not turn a successful flash into a failed command (spec §4.G).
func (c *Client) RebootBestEffort(ctx context.Context) {
	if err := c.Reboot(ctx); err != nil {
		log.Warnf("miflash: post-flash reboot failed (device may already be rebooting): %v", err)
	}
}

func fileError(err error) error {
	return wrap(KindFileIO, err)
}
