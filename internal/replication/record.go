// Package replication speaks the TCPR state-replication protocol: a fixed
// 18-byte record exchanged over a connected UDP socket so that a standby
// relay can resume a stream from the last acknowledged byte.
package replication

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"
)

// RecordSize is the size of the wire record.
// Format: [4 address][2 port][4 peer address][2 peer port][4 ack][1 done reading][1 done writing]
const RecordSize = 18

// ErrShortRecord is returned when a datagram is smaller than RecordSize.
var ErrShortRecord = errors.New("short replication record")

// Identity names one replicated TCP connection: the relay-side port (bound
// on every instance so the identity survives failover) and the source peer.
// The relay-side address is whichever instance currently owns the record.
type Identity struct {
	LocalPort uint16
	Peer      netip.AddrPort
}

func (id Identity) String() string {
	return fmt.Sprintf("*:%d<->%s", id.LocalPort, id.Peer)
}

// Record is the per-connection state held by the replication service.
type Record struct {
	// Address is the active relay instance. The zero value or 0.0.0.0
	// means nobody owns the connection yet.
	Address     netip.Addr
	Port        uint16
	PeerAddress netip.Addr
	PeerPort    uint16
	// Ack counts bytes accepted by the sink. It is 32 bits on the wire and
	// wraps like a TCP sequence number.
	Ack         uint32
	DoneReading bool
	DoneWriting bool
}

// Owned reports whether some relay instance has claimed the record.
func (r *Record) Owned() bool {
	return r.Address.IsValid() && !r.Address.IsUnspecified()
}

// Owner returns the owner address, or the zero Addr if nobody owns the record.
func (r *Record) Owner() netip.Addr {
	if !r.Owned() {
		return netip.Addr{}
	}
	return r.Address
}

// AddAck advances Ack by n accepted bytes.
func (r *Record) AddAck(n int) {
	r.Ack += uint32(n)
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (r *Record) MarshalBinary() ([]byte, error) {
	buf := make([]byte, RecordSize)
	putAddr(buf[0:4], r.Address)
	binary.BigEndian.PutUint16(buf[4:6], r.Port)
	putAddr(buf[6:10], r.PeerAddress)
	binary.BigEndian.PutUint16(buf[10:12], r.PeerPort)
	binary.BigEndian.PutUint32(buf[12:16], r.Ack)
	buf[16] = boolByte(r.DoneReading)
	buf[17] = boolByte(r.DoneWriting)
	return buf, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (r *Record) UnmarshalBinary(data []byte) error {
	if len(data) < RecordSize {
		return fmt.Errorf("%w: %d < %d", ErrShortRecord, len(data), RecordSize)
	}
	r.Address = netip.AddrFrom4([4]byte(data[0:4]))
	r.Port = binary.BigEndian.Uint16(data[4:6])
	r.PeerAddress = netip.AddrFrom4([4]byte(data[6:10]))
	r.PeerPort = binary.BigEndian.Uint16(data[10:12])
	r.Ack = binary.BigEndian.Uint32(data[12:16])
	r.DoneReading = data[16] != 0
	r.DoneWriting = data[17] != 0
	return nil
}

func putAddr(dst []byte, a netip.Addr) {
	a = a.Unmap()
	if !a.Is4() {
		return
	}
	b := a.As4()
	copy(dst, b[:])
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
