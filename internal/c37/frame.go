// Package c37 encodes and decodes the fixed-size IEEE C37.118 data frames
// carried by the PMU streams.
package c37

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"time"
)

// FrameSize is the size of every data frame: one phasor pair plus
// frequency, delta frequency and CRC.
const FrameSize = 42

// SyncData is the sync word of a data frame.
const SyncData = 0xAA01

// TimeBase is the resolution of the fraction-of-second field: its low 24
// bits count microseconds. The top byte carries time quality flags.
const TimeBase = 1_000_000

const (
	fracMask    = 0x00FFFFFF
	qualityMask = 0xFF000000
)

// ErrBadFrameSize is returned for a frame whose framesize field is not
// FrameSize.
var ErrBadFrameSize = errors.New("bad frame size")

// Frame is one decoded data frame.
type Frame struct {
	Sync      uint16
	FrameSize uint16
	IDCode    uint16
	SOC       uint32 // seconds since the Unix epoch
	FracSec   uint32
	Stat      uint16

	VoltageAmplitude float32
	VoltageAngle     float32
	CurrentAmplitude float32
	CurrentAngle     float32
	Frequency        float32
	DeltaFrequency   float32

	CRC uint16
}

// Decode parses a frame from the first FrameSize bytes of data.
func Decode(data []byte) (Frame, error) {
	if len(data) < FrameSize {
		return Frame{}, fmt.Errorf("frame too short: %d < %d", len(data), FrameSize)
	}

	be := binary.BigEndian
	f := Frame{
		Sync:             be.Uint16(data[0:2]),
		FrameSize:        be.Uint16(data[2:4]),
		IDCode:           be.Uint16(data[4:6]),
		SOC:              be.Uint32(data[6:10]),
		FracSec:          be.Uint32(data[10:14]),
		Stat:             be.Uint16(data[14:16]),
		VoltageAmplitude: math.Float32frombits(be.Uint32(data[16:20])),
		VoltageAngle:     math.Float32frombits(be.Uint32(data[20:24])),
		CurrentAmplitude: math.Float32frombits(be.Uint32(data[24:28])),
		CurrentAngle:     math.Float32frombits(be.Uint32(data[28:32])),
		Frequency:        math.Float32frombits(be.Uint32(data[32:36])),
		DeltaFrequency:   math.Float32frombits(be.Uint32(data[36:40])),
		CRC:              be.Uint16(data[40:42]),
	}
	if f.FrameSize != FrameSize {
		return f, fmt.Errorf("%w: %d", ErrBadFrameSize, f.FrameSize)
	}
	return f, nil
}

// MarshalBinary encodes the frame and stamps a fresh CRC over everything
// before the CRC field. The CRC field of f is updated to match.
func (f *Frame) MarshalBinary() ([]byte, error) {
	if f.FrameSize != FrameSize {
		return nil, fmt.Errorf("%w: %d", ErrBadFrameSize, f.FrameSize)
	}

	buf := make([]byte, FrameSize)
	be := binary.BigEndian
	be.PutUint16(buf[0:2], f.Sync)
	be.PutUint16(buf[2:4], f.FrameSize)
	be.PutUint16(buf[4:6], f.IDCode)
	be.PutUint32(buf[6:10], f.SOC)
	be.PutUint32(buf[10:14], f.FracSec)
	be.PutUint16(buf[14:16], f.Stat)
	be.PutUint32(buf[16:20], math.Float32bits(f.VoltageAmplitude))
	be.PutUint32(buf[20:24], math.Float32bits(f.VoltageAngle))
	be.PutUint32(buf[24:28], math.Float32bits(f.CurrentAmplitude))
	be.PutUint32(buf[28:32], math.Float32bits(f.CurrentAngle))
	be.PutUint32(buf[32:36], math.Float32bits(f.Frequency))
	be.PutUint32(buf[36:40], math.Float32bits(f.DeltaFrequency))

	f.CRC = CRC(buf[:FrameSize-2])
	be.PutUint16(buf[40:42], f.CRC)
	return buf, nil
}

// CRC computes the CRC-CCITT (polynomial 0x1021, initial value 0xFFFF)
// used by C37.118.
func CRC(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		temp := (crc >> 8) ^ uint16(b)
		crc <<= 8
		quick := temp ^ (temp >> 4)
		crc ^= quick
		quick <<= 5
		crc ^= quick
		quick <<= 7
		crc ^= quick
	}
	return crc
}

// Time returns the measurement time of the frame.
func (f *Frame) Time() time.Time {
	micros := int64(f.FracSec & fracMask)
	return time.Unix(int64(f.SOC), micros*int64(time.Microsecond))
}

// SetTime rewrites SOC and the fraction of second to t, keeping the time
// quality flags.
func (f *Frame) SetTime(t time.Time) {
	f.SOC = uint32(t.Unix())
	f.FracSec = f.FracSec&qualityMask | uint32(t.Nanosecond()/int(time.Microsecond))&fracMask
}

// Readable formats the frame as one line: a ctime-style local timestamp,
// the milliseconds, then the voltage and current phasors.
func (f *Frame) Readable() string {
	millis := (f.FracSec & fracMask) / 1000
	return fmt.Sprintf("%s:%d - %f %f %f %f",
		time.Unix(int64(f.SOC), 0).Format("Mon Jan _2 15:04:05 2006"), millis,
		f.VoltageAmplitude, f.VoltageAngle, f.CurrentAmplitude, f.CurrentAngle)
}

// Reader reads consecutive frames from a stream.
type Reader struct {
	r   io.Reader
	buf [FrameSize]byte
}

// NewReader returns a frame reader over r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// Next reads one frame. It returns io.EOF at a clean end of stream and
// io.ErrUnexpectedEOF when the stream stops inside a frame.
func (r *Reader) Next() (Frame, error) {
	if _, err := io.ReadFull(r.r, r.buf[:]); err != nil {
		return Frame{}, err
	}
	return Decode(r.buf[:])
}
