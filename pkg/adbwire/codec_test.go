package adbwire

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []struct {
		name    string
		cmd     Command
		arg0    uint32
		arg1    uint32
		payload []byte
	}{
		{"empty payload", CNXN, 0x01000000, 0x40000, nil},
		{"open service", OPEN, 1, 0, []byte("getdevice\x00")},
		{"write chunk", WRTE, 3, 7, bytes.Repeat([]byte{0xAB}, 4096)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			wire := Encode(tc.cmd, tc.arg0, tc.arg1, tc.payload)
			got, err := Decode(wire)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if got.Command != tc.cmd || got.Arg0 != tc.arg0 || got.Arg1 != tc.arg1 {
				t.Fatalf("header mismatch: got %+v", got)
			}
			if !bytes.Equal(got.Payload, tc.payload) {
				t.Fatalf("payload mismatch: got %v want %v", got.Payload, tc.payload)
			}
			if got.Magic != uint32(tc.cmd)^0xFFFFFFFF {
				t.Fatalf("magic invariant violated: %#x", got.Magic)
			}
			if !ChecksumMatches(got) {
				t.Fatalf("checksum invariant violated")
			}
		})
	}
}

func TestDecodeBadMagic(t *testing.T) {
	wire := Encode(CNXN, 0, 0, nil)
	// Corrupt the magic field.
	wire[20] ^= 0xFF
	if _, err := Decode(wire); err != ErrBadMagic {
		t.Fatalf("expected ErrBadMagic, got %v", err)
	}
}

func TestDecodeShortPacket(t *testing.T) {
	wire := Encode(WRTE, 1, 2, []byte("hello"))
	truncated := wire[:len(wire)-2]
	if _, err := Decode(truncated); err != ErrShortPacket {
		t.Fatalf("expected ErrShortPacket, got %v", err)
	}
}

func TestChecksumIsTelemetryOnly(t *testing.T) {
	p, err := Decode(Encode(WRTE, 1, 2, []byte("payload")))
	if err != nil {
		t.Fatal(err)
	}
	p.DataCRC32 = 0xdeadbeef
	if ChecksumMatches(p) {
		t.Fatal("expected mismatch to be detectable")
	}
}

func TestCommandString(t *testing.T) {
	if CNXN.String() != "CNXN" {
		t.Fatalf("got %q", CNXN.String())
	}
	if WRTE.String() != "WRTE" {
		t.Fatalf("got %q", WRTE.String())
	}
}
