// Package heartrate decodes Heart Rate Measurement notifications (0x2A37)
// into a pulse value and RR intervals.
//
// Frame layout (little-endian): [0] flags, bit 0 selects a 16-bit pulse;
// [1] or [1:3] pulse in bpm; the remaining bytes, two at a time, are RR
// intervals in 1/1024 s ticks.
package heartrate

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const (
	flagPulse16 = 0x01

	// TickMillis is the duration of one RR tick in milliseconds.
	TickMillis = 1000.0 / 1024.0
)

// ErrMalformedFrame is returned for frames shorter than their header.
var ErrMalformedFrame = errors.New("malformed heart rate frame")

// Measurement is one decoded notification.
type Measurement struct {
	Pulse int
	RR    []float64 // milliseconds
}

// Decode parses a raw notification frame. A trailing odd byte is ignored.
func Decode(frame []byte) (Measurement, error) {
	if len(frame) < 2 {
		return Measurement{}, fmt.Errorf("%w: %d bytes", ErrMalformedFrame, len(frame))
	}

	offset := 1
	var pulse int
	if frame[0]&flagPulse16 != 0 {
		if len(frame) < 3 {
			return Measurement{}, fmt.Errorf("%w: 16-bit pulse needs 3 bytes, got %d", ErrMalformedFrame, len(frame))
		}
		pulse = int(binary.LittleEndian.Uint16(frame[offset:]))
		offset += 2
	} else {
		pulse = int(frame[offset])
		offset++
	}

	rrData := frame[offset:]
	rr := make([]float64, 0, len(rrData)/2)
	for i := 0; i+1 < len(rrData); i += 2 {
		ticks := binary.LittleEndian.Uint16(rrData[i:])
		rr = append(rr, float64(ticks)*TickMillis)
	}

	return Measurement{Pulse: pulse, RR: rr}, nil
}

// Encode builds a frame in the layout Decode reads. Pulses above 255 use the
// 16-bit encoding; RR values are rounded to the nearest tick. Values outside
// the 16-bit field saturate at 0 or 0xFFFF.
func Encode(m Measurement) []byte {
	buf := make([]byte, 0, 3+2*len(m.RR))
	if m.Pulse > 0xFF {
		buf = append(buf, flagPulse16)
		buf = binary.LittleEndian.AppendUint16(buf, clampUint16(float64(m.Pulse)))
	} else {
		buf = append(buf, 0x00, byte(max(m.Pulse, 0)))
	}
	for _, ms := range m.RR {
		buf = binary.LittleEndian.AppendUint16(buf, clampUint16(ms/TickMillis+0.5))
	}
	return buf
}

func clampUint16(v float64) uint16 {
	switch {
	case math.IsNaN(v) || v <= 0:
		return 0
	case v >= math.MaxUint16:
		return math.MaxUint16
	default:
		return uint16(v)
	}
}
