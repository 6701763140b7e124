package vendorcmd

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/Has-X/Sensitivity/pkg/adbsession"
	"github.com/Has-X/Sensitivity/pkg/adbwire"
)

type pipeTransport struct {
	out *io.PipeWriter
	in  *io.PipeReader
}

func (t *pipeTransport) BulkWrite(ctx context.Context, buf []byte) error {
	_, err := t.out.Write(buf)
	return err
}

func (t *pipeTransport) BulkRead(ctx context.Context, buf []byte) (int, error) {
	return t.in.Read(buf)
}

func readRawPacket(r io.Reader) (adbwire.Packet, error) {
	header := make([]byte, adbwire.HeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return adbwire.Packet{}, err
	}
	p, err := adbwire.DecodeHeader(header)
	if err != nil {
		return p, err
	}
	if p.DataLength > 0 {
		payload := make([]byte, p.DataLength)
		if _, err := io.ReadFull(r, payload); err != nil {
			return p, err
		}
		p.Payload = payload
	}
	return p, nil
}

// fakeDevice answers a fixed CNXN handshake, then for every OPEN sends one
// WRTE with the text replies maps its service name (minus the trailing NUL)
// to, or an empty WRTE if the name is not a key, and a CLSE.
func fakeDevice(t *testing.T, hostOutR *io.PipeReader, hostInW *io.PipeWriter, replies map[string]string) {
	t.Helper()
	p, err := readRawPacket(hostOutR)
	if err != nil || p.Command != adbwire.CNXN {
		return
	}
	hostInW.Write(adbwire.Encode(adbwire.CNXN, adbwire.AdbVersion, 4096, []byte("device::sim")))

	for {
		p, err := readRawPacket(hostOutR)
		if err != nil {
			return
		}
		if p.Command != adbwire.OPEN {
			continue
		}
		local := p.Arg0
		service := strings.TrimRight(string(p.Payload), "\x00")
		remote := local + 1000

		hostInW.Write(adbwire.Encode(adbwire.OKAY, remote, local, nil))

		reply, ok := replies[service]
		if !ok {
			reply = ""
		}
		hostInW.Write(adbwire.Encode(adbwire.WRTE, remote, local, []byte(reply)))

		// wait for host's ack OKAY before closing
		ack, err := readRawPacket(hostOutR)
		if err != nil || ack.Command != adbwire.OKAY {
			return
		}
		hostInW.Write(adbwire.Encode(adbwire.CLSE, remote, local, nil))
	}
}

func newTestClient(t *testing.T, replies map[string]string) *Client {
	t.Helper()
	hostOutR, hostOutW := io.Pipe()
	hostInR, hostInW := io.Pipe()

	go fakeDevice(t, hostOutR, hostInW, replies)

	s := adbsession.New(&pipeTransport{out: hostOutW, in: hostInR})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Handshake(ctx); err != nil {
		t.Fatalf("Handshake: %v", err)
	}
	return New(s)
}

func TestReadInfo(t *testing.T) {
	c := newTestClient(t, map[string]string{
		"getdevice:":   "garnet",
		"getsn:":       "SN123456",
		"getversion:":  "OS2.0.202.0.VNRINXM",
		"getcodebase:": "aurora",
		"getbranch:":   "F",
		"getlanguage:": "en_US",
		"getregion:":   "IN",
		"getromzone:":  "india",
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	info, err := c.ReadInfo(ctx)
	if err != nil {
		t.Fatalf("ReadInfo: %v", err)
	}
	if info.Device != "garnet" || info.SN != "SN123456" || info.Region != "IN" {
		t.Fatalf("unexpected info: %+v", info)
	}
}

func TestQueryFailPrefix(t *testing.T) {
	c := newTestClient(t, map[string]string{
		"getdevice:": "FAILunsupported",
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := c.ReadInfo(ctx)
	if err == nil {
		t.Fatal("expected FailedError")
	}
	var fe *FailedError
	if !errors.As(err, &fe) {
		t.Fatalf("expected *FailedError, got %v (%T)", err, err)
	}
}
