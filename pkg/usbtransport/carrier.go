// Package usbtransport owns the one claimed USB interface a session talks
// over: enumerate, claim, bulk read/write with a timeout, release on every
// exit path. It is built on github.com/google/gousb (libusb bindings); no
// stream/session semantics live here — see pkg/adbsession for that.
package usbtransport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/gousb"

	log "github.com/Has-X/Sensitivity/pkg/logging"
)

// Mi Assistant recovery exposes its ADB interface as a vendor-specific
// class/subclass/protocol triple (spec §4.A).
const (
	miAssistantClass    = 0xff
	miAssistantSubClass = 0x42
	miAssistantProtocol = 0x01
)

var (
	ErrNoDevice         = errors.New("usbtransport: no Mi Assistant interface found")
	ErrPermissionDenied = errors.New("usbtransport: permission denied opening device")
	ErrInterfaceBusy    = errors.New("usbtransport: interface already claimed by another process")
)

// Carrier owns one claimed bulk IN/OUT endpoint pair on a Mi Assistant
// interface. Exactly one ADB session may use a Carrier at a time.
type Carrier struct {
	ctx       *gousb.Context
	dev       *gousb.Device
	closeIntf func()
	in        *gousb.InEndpoint
	out       *gousb.OutEndpoint
	debugUSB  bool

	VendorID, ProductID gousb.ID
	InterfaceNumber     int
	MaxPacketSize       int
}

// Open enumerates USB devices for the n-th (0-based) interface matching
// the Mi Assistant class/subclass/protocol triple, claims it, and resolves
// its bulk IN/OUT endpoints.
func Open(deviceIndex int, debugUSB bool) (*Carrier, error) {
	ctx := gousb.NewContext()

	type match struct {
		dev    *gousb.Device
		cfgNum int
		ifNum  int
		alt    int
	}
	var candidates []match

	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		for _, cfg := range desc.Configs {
			for _, ifc := range cfg.Interfaces {
				for _, alt := range ifc.AltSettings {
					if int(alt.Class) == miAssistantClass &&
						int(alt.SubClass) == miAssistantSubClass &&
						int(alt.Protocol) == miAssistantProtocol {
						return true
					}
				}
			}
		}
		return false
	})
	if err != nil {
		ctx.Close()
		return nil, fmt.Errorf("%w: %v", ErrNoDevice, err)
	}
	if len(devs) == 0 {
		ctx.Close()
		return nil, ErrNoDevice
	}

	for _, dev := range devs {
		for _, cfg := range dev.Desc.Configs {
			for _, ifc := range cfg.Interfaces {
				for _, alt := range ifc.AltSettings {
					if int(alt.Class) == miAssistantClass &&
						int(alt.SubClass) == miAssistantSubClass &&
						int(alt.Protocol) == miAssistantProtocol {
						candidates = append(candidates, match{dev: dev, cfgNum: cfg.Number, ifNum: ifc.Number, alt: alt.Alternate})
					}
				}
			}
		}
	}

	for i, c := range candidates {
		if i == deviceIndex {
			continue
		}
		c.dev.Close()
	}
	if deviceIndex >= len(candidates) {
		ctx.Close()
		return nil, fmt.Errorf("%w: index %d, %d found", ErrNoDevice, deviceIndex, len(candidates))
	}
	chosen := candidates[deviceIndex]
	dev := chosen.dev

	if err := dev.SetAutoDetach(true); err != nil {
		log.Debugf("usbtransport: auto-detach kernel driver unavailable: %v", err)
	}

	cfg, err := dev.Config(chosen.cfgNum)
	if err != nil {
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("%w: selecting config %d: %v", ErrInterfaceBusy, chosen.cfgNum, err)
	}
	intf, err := cfg.Interface(chosen.ifNum, chosen.alt)
	if err != nil {
		cfg.Close()
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("%w: claiming interface %d: %v", ErrInterfaceBusy, chosen.ifNum, err)
	}
	done := func() {
		intf.Close()
		cfg.Close()
	}

	var inEP *gousb.InEndpoint
	var outEP *gousb.OutEndpoint
	for addr, ep := range intf.Setting.Endpoints {
		if ep.TransferType != gousb.TransferTypeBulk {
			continue
		}
		if ep.Direction == gousb.EndpointDirectionIn {
			if e, err := intf.InEndpoint(int(addr)); err == nil {
				inEP = e
			}
		} else {
			if e, err := intf.OutEndpoint(int(addr)); err == nil {
				outEP = e
			}
		}
	}
	if inEP == nil || outEP == nil {
		done()
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("%w: interface %d has no bulk IN/OUT endpoint pair", ErrNoDevice, chosen.ifNum)
	}

	maxPacket := inEP.Desc.MaxPacketSize
	if outEP.Desc.MaxPacketSize > maxPacket {
		maxPacket = outEP.Desc.MaxPacketSize
	}

	return &Carrier{
		ctx:             ctx,
		dev:             dev,
		closeIntf:       done,
		in:              inEP,
		out:             outEP,
		debugUSB:        debugUSB,
		VendorID:        dev.Desc.Vendor,
		ProductID:       dev.Desc.Product,
		InterfaceNumber: chosen.ifNum,
		MaxPacketSize:   maxPacket,
	}, nil
}

// Close releases the interface and the underlying libusb context. It is
// safe to call more than once.
func (c *Carrier) Close() error {
	if c.closeIntf != nil {
		c.closeIntf()
		c.closeIntf = nil
	}
	if c.dev != nil {
		c.dev.Close()
		c.dev = nil
	}
	if c.ctx != nil {
		c.ctx.Close()
		c.ctx = nil
	}
	return nil
}

// BulkWrite writes the full contents of buf to the OUT endpoint, honoring
// ctx's deadline. Short writes are retried internally until buf is fully
// sent or ctx expires.
func (c *Carrier) BulkWrite(ctx context.Context, buf []byte) error {
	written := 0
	for written < len(buf) {
		n, err := c.doWithTimeout(ctx, func() (int, error) {
			return c.out.Write(buf[written:])
		})
		if err != nil {
			return fmt.Errorf("usbtransport: bulk write: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("usbtransport: bulk write returned 0 bytes (stall or timeout)")
		}
		if c.debugUSB {
			log.Debugf("usb out: %d bytes", n)
		}
		written += n
	}
	return nil
}

// BulkRead reads at least one and up to len(buf) bytes from the IN
// endpoint. Reads shorter than requested are returned as-is (spec §4.A);
// zero-length reads are retried until ctx expires.
func (c *Carrier) BulkRead(ctx context.Context, buf []byte) (int, error) {
	for {
		n, err := c.doWithTimeout(ctx, func() (int, error) {
			return c.in.Read(buf)
		})
		if err != nil {
			return 0, fmt.Errorf("usbtransport: bulk read: %w", err)
		}
		if n > 0 {
			if c.debugUSB {
				log.Debugf("usb in: %d bytes", n)
			}
			return n, nil
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		default:
		}
	}
}

// doWithTimeout runs a blocking gousb call on a goroutine and honors ctx's
// deadline. gousb's endpoint I/O in this vendor snapshot has no built-in
// per-call timeout parameter, unlike libusb's C API; this is the same
// tradeoff rusb callers accept by passing an explicit Duration per call.
func (c *Carrier) doWithTimeout(ctx context.Context, fn func() (int, error)) (int, error) {
	type result struct {
		n   int
		err error
	}
	ch := make(chan result, 1)
	go func() {
		n, err := fn()
		ch <- result{n, err}
	}()
	select {
	case r := <-ch:
		return r.n, r.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// DefaultControlTimeout mirrors spec §5's 10s default for control packets.
const DefaultControlTimeout = 10 * time.Second

// DefaultSideloadTimeout mirrors spec §5's up-to-60s budget for sideload
// block writes.
const DefaultSideloadTimeout = 30 * time.Second
