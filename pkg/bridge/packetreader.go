package bridge

import (
	"encoding/binary"
	"io"
)

// PacketReader parses a stream of Packets out of an underlying byte stream,
// buffering partial reads across Read calls.
type PacketReader struct {
	r      io.Reader
	buf    []byte
	inBody bool
	packet *Packet
}

// NewPacketReader wraps r.
func NewPacketReader(r io.Reader) *PacketReader {
	return &PacketReader{r: r}
}

// ReadPacket returns the next complete, magic- and checksum-verified
// packet. It returns io.EOF when the stream ends cleanly between packets,
// and *ChecksumError/*MagicError for a corrupt packet.
func (pr *PacketReader) ReadPacket() (*Packet, error) {
	for {
		if pr.inBody {
			if uint32(len(pr.buf)) >= pr.packet.Length {
				pr.packet.Data = pr.consume(int(pr.packet.Length))
				if !pr.packet.VerifyChecksum() {
					return nil, &ChecksumError{Packet: pr.packet}
				}
				p := pr.packet
				pr.packet = nil
				pr.inBody = false
				return p, nil
			}
		} else if len(pr.buf) >= HeaderSize {
			h := pr.consume(HeaderSize)
			p := &Packet{
				Command: binary.LittleEndian.Uint32(h[0:4]),
				Arg0:    binary.LittleEndian.Uint32(h[4:8]),
				Arg1:    binary.LittleEndian.Uint32(h[8:12]),
				Length:  binary.LittleEndian.Uint32(h[12:16]),
				Check:   binary.LittleEndian.Uint32(h[16:20]),
				Magic:   binary.LittleEndian.Uint32(h[20:24]),
			}
			if !p.VerifyMagic() {
				return nil, &MagicError{Packet: p}
			}
			if p.Length == 0 {
				return p, nil
			}
			pr.packet = p
			pr.inBody = true
			continue
		}

		chunk := make([]byte, 4096)
		n, err := pr.r.Read(chunk)
		if n > 0 {
			pr.buf = append(pr.buf, chunk[:n]...)
			continue
		}
		if err != nil {
			return nil, err
		}
	}
}

func (pr *PacketReader) consume(n int) []byte {
	b := make([]byte, n)
	copy(b, pr.buf[:n])
	pr.buf = pr.buf[n:]
	return b
}
