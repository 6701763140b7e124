package adbwire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrBadMagic is returned by Decode when a header's magic field doesn't
// match its command, per spec §4.B / §7.
var ErrBadMagic = errors.New("adbwire: bad magic")

// ErrShortPacket is returned by Decode when fewer bytes are present than
// the header declares for the payload.
var ErrShortPacket = errors.New("adbwire: payload shorter than declared length")

// Packet is a fully decoded ADB message: header fields plus payload.
type Packet struct {
	Command    Command
	Arg0       uint32
	Arg1       uint32
	DataLength uint32
	DataCRC32  uint32
	Magic      uint32
	Payload    []byte
}

// checksum computes the vendor's "data crc": a plain sum of payload bytes
// mod 2^32, not a real CRC (spec §3, §9). It exists so Encode can populate
// the field for wire compatibility and so ChecksumMatches can be used as
// a telemetry-only signal on decode — it is never used to reject a packet.
func checksum(payload []byte) uint32 {
	var sum uint32
	for _, b := range payload {
		sum += uint32(b)
	}
	return sum
}

// Encode serializes a header + payload into wire bytes. The magic field is
// always cmd XOR 0xFFFFFFFF; the checksum field is always the real payload
// sum (spec §3's invariant), even though decode never verifies it.
func Encode(cmd Command, arg0, arg1 uint32, payload []byte) []byte {
	buf := make([]byte, HeaderSize+len(payload))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(cmd))
	binary.LittleEndian.PutUint32(buf[4:8], arg0)
	binary.LittleEndian.PutUint32(buf[8:12], arg1)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(len(payload)))
	binary.LittleEndian.PutUint32(buf[16:20], checksum(payload))
	binary.LittleEndian.PutUint32(buf[20:24], uint32(cmd)^0xFFFFFFFF)
	copy(buf[HeaderSize:], payload)
	return buf
}

// DecodeHeader parses just the fixed 24-byte header, leaving payload
// retrieval to the caller (who typically must read DataLength more bytes
// from the transport before the payload is available).
func DecodeHeader(header []byte) (Packet, error) {
	if len(header) != HeaderSize {
		return Packet{}, fmt.Errorf("adbwire: header must be %d bytes, got %d", HeaderSize, len(header))
	}
	p := Packet{
		Command:    Command(binary.LittleEndian.Uint32(header[0:4])),
		Arg0:       binary.LittleEndian.Uint32(header[4:8]),
		Arg1:       binary.LittleEndian.Uint32(header[8:12]),
		DataLength: binary.LittleEndian.Uint32(header[12:16]),
		DataCRC32:  binary.LittleEndian.Uint32(header[16:20]),
		Magic:      binary.LittleEndian.Uint32(header[20:24]),
	}
	if p.Magic != uint32(p.Command)^0xFFFFFFFF {
		return p, ErrBadMagic
	}
	return p, nil
}

// Decode parses a complete packet (header + payload) from a single byte
// slice. Most callers instead use DecodeHeader followed by a transport
// read of DataLength bytes; Decode exists for tests and for any caller
// that already has the whole frame in hand.
func Decode(raw []byte) (Packet, error) {
	if len(raw) < HeaderSize {
		return Packet{}, fmt.Errorf("adbwire: frame shorter than header (%d bytes)", len(raw))
	}
	p, err := DecodeHeader(raw[:HeaderSize])
	if err != nil {
		return p, err
	}
	rest := raw[HeaderSize:]
	if uint32(len(rest)) != p.DataLength {
		return p, ErrShortPacket
	}
	p.Payload = rest
	return p, nil
}

// ChecksumMatches reports whether p's declared DataCRC32 agrees with the
// actual sum of its payload. The vendor firmware is known to send this
// loosely (spec §4.B); callers should log a mismatch, never reject on it.
func ChecksumMatches(p Packet) bool {
	return p.DataCRC32 == checksum(p.Payload)
}
