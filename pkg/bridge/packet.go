// Package bridge implements a TCP server that speaks the ADB wire protocol
// to a client as if it were a physical USB-attached device, multiplexing
// every opened stream onto a real device's host/transport connection.
package bridge

import (
	"encoding/binary"
	"fmt"
)

// Command values, as they appear in a packet header's first field.
const (
	ASync uint32 = 0x434e5953
	ACnxn uint32 = 0x4e584e43
	AOpen uint32 = 0x4e45504f
	AOkay uint32 = 0x59414b4f
	AClse uint32 = 0x45534c43
	AWrte uint32 = 0x45545257
	AAuth uint32 = 0x48545541
)

// Auth sub-message types, carried in an AAuth packet's Arg0.
const (
	AuthToken        uint32 = 1
	AuthSignature    uint32 = 2
	AuthRSAPublicKey uint32 = 3
)

// TokenLength is the size of the random challenge sent in an AUTH_TOKEN
// message.
const TokenLength = 20

// HeaderSize is the length of a packet's fixed header, preceding Data.
const HeaderSize = 24

// MaxPayloadDefault is the payload size offered before a CNXN packet
// negotiates a (possibly larger) value.
const MaxPayloadDefault = 4096

// Packet is one ADB wire-protocol frame.
type Packet struct {
	Command uint32
	Arg0    uint32
	Arg1    uint32
	Length  uint32
	Check   uint32
	Magic   uint32
	Data    []byte
}

// Checksum sums the unsigned byte values of data, matching the (deprecated
// but still required) ADB payload checksum.
func Checksum(data []byte) uint32 {
	var sum uint32
	for _, b := range data {
		sum += uint32(b)
	}
	return sum
}

// CommandMagic returns the magic value accompanying command: its bitwise
// complement.
func CommandMagic(command uint32) uint32 {
	return command ^ 0xFFFFFFFF
}

// Assemble serializes a packet with the given command/arg0/arg1 and
// optional data into wire bytes.
func Assemble(command, arg0, arg1 uint32, data []byte) []byte {
	buf := make([]byte, HeaderSize+len(data))
	binary.LittleEndian.PutUint32(buf[0:4], command)
	binary.LittleEndian.PutUint32(buf[4:8], arg0)
	binary.LittleEndian.PutUint32(buf[8:12], arg1)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(len(data)))
	binary.LittleEndian.PutUint32(buf[16:20], Checksum(data))
	binary.LittleEndian.PutUint32(buf[20:24], CommandMagic(command))
	copy(buf[HeaderSize:], data)
	return buf
}

// VerifyChecksum reports whether p.Check matches p.Data's checksum.
func (p *Packet) VerifyChecksum() bool {
	return p.Check == Checksum(p.Data)
}

// VerifyMagic reports whether p.Magic matches p.Command's magic.
func (p *Packet) VerifyMagic() bool {
	return p.Magic == CommandMagic(p.Command)
}

// CommandName returns the 4-character mnemonic for p.Command (e.g. "CNXN"),
// or "????" if unrecognised.
func (p *Packet) CommandName() string {
	switch p.Command {
	case ASync:
		return "SYNC"
	case ACnxn:
		return "CNXN"
	case AOpen:
		return "OPEN"
	case AOkay:
		return "OKAY"
	case AClse:
		return "CLSE"
	case AWrte:
		return "WRTE"
	case AAuth:
		return "AUTH"
	default:
		return "????"
	}
}

func (p *Packet) String() string {
	return fmt.Sprintf("%s arg0=%d arg1=%d length=%d", p.CommandName(), p.Arg0, p.Arg1, p.Length)
}
