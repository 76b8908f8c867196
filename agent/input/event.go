package input

import (
	"encoding/binary"
	"fmt"
	"math/bits"
	"time"

	"golang.org/x/sys/unix"
)

// Event types and codes from linux/input-event-codes.h.
const (
	EvSyn uint16 = 0x00
	EvKey uint16 = 0x01
	EvAbs uint16 = 0x03

	SynReport      uint16 = 0x00
	BtnTouch       uint16 = 0x14a
	AbsMTPositionX uint16 = 0x35
	AbsMTPositionY uint16 = 0x36
)

// wordSize is the width of the kernel's long on this target, used by struct timeval.
const wordSize = bits.UintSize / 8

// EventSize is the length of one encoded event record.
// The layout of struct input_event is:
//
//	tv_sec   machine word
//	tv_usec  machine word
//	type     uint16
//	code     uint16
//	value    int32
//
// in native byte order, which is 24 bytes on 64-bit targets and 16 on 32-bit ones.
const EventSize = 2*wordSize + 8

// Event is one raw input event record.
type Event struct {
	Time  time.Time
	Type  uint16
	Code  uint16
	Value int32
}

// MarshalBinary packs e into the kernel's input_event layout.
// A zero Time is encoded as a zero timestamp.
func (e Event) MarshalBinary() ([]byte, error) {
	b := make([]byte, EventSize)
	if !e.Time.IsZero() {
		tv := unix.NsecToTimeval(e.Time.UnixNano())
		putWord(b[0:wordSize], int64(tv.Sec))
		putWord(b[wordSize:2*wordSize], int64(tv.Usec))
	}
	off := 2 * wordSize
	binary.NativeEndian.PutUint16(b[off:], e.Type)
	binary.NativeEndian.PutUint16(b[off+2:], e.Code)
	binary.NativeEndian.PutUint32(b[off+4:], uint32(e.Value))
	return b, nil
}

// UnmarshalBinary decodes one record produced by MarshalBinary.
func (e *Event) UnmarshalBinary(b []byte) error {
	if len(b) != EventSize {
		return fmt.Errorf("input event must be %d bytes, got %d", EventSize, len(b))
	}
	sec := getWord(b[0:wordSize])
	usec := getWord(b[wordSize : 2*wordSize])
	if sec == 0 && usec == 0 {
		e.Time = time.Time{}
	} else {
		e.Time = time.Unix(sec, usec*int64(time.Microsecond))
	}
	off := 2 * wordSize
	e.Type = binary.NativeEndian.Uint16(b[off:])
	e.Code = binary.NativeEndian.Uint16(b[off+2:])
	e.Value = int32(binary.NativeEndian.Uint32(b[off+4:]))
	return nil
}

func putWord(b []byte, v int64) {
	if wordSize == 8 {
		binary.NativeEndian.PutUint64(b, uint64(v))
		return
	}
	binary.NativeEndian.PutUint32(b, uint32(v))
}

func getWord(b []byte) int64 {
	if wordSize == 8 {
		return int64(binary.NativeEndian.Uint64(b))
	}
	return int64(int32(binary.NativeEndian.Uint32(b)))
}

func (e Event) String() string {
	return fmt.Sprintf("type=%d code=%d value=%d", e.Type, e.Code, e.Value)
}
