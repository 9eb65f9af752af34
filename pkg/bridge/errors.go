package bridge

import "fmt"

// ChecksumError is returned by PacketReader when a packet's payload fails
// its checksum.
type ChecksumError struct {
	Packet *Packet
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("bridge: checksum mismatch: %s", e.Packet)
}

// MagicError is returned by PacketReader when a packet's magic field
// doesn't match its command.
type MagicError struct {
	Packet *Packet
}

func (e *MagicError) Error() string {
	return fmt.Sprintf("bridge: magic value mismatch: %s", e.Packet)
}

// AuthError is returned when the AUTH handshake fails: a bad signature, a
// malformed public key, or messages arriving out of order.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("bridge: auth error: %s", e.Reason)
}

// UnauthorizedError is returned when a client attempts to open a stream
// before completing the AUTH handshake.
type UnauthorizedError struct{}

func (e *UnauthorizedError) Error() string {
	return "bridge: unauthorized access"
}
