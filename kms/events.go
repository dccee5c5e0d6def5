package kms

import (
	"encoding/binary"

	"github.com/srlehn/kmsdisplay/internal/errors"
)

const (
	eventHeaderLen = 8
	vblankEventLen = eventHeaderLen + 24
)

// DecodeEvents parses the records returned by a read on a DRM device.
// Unknown event types are skipped.
func DecodeEvents(buf []byte) ([]Event, error) {
	var evs []Event
	for len(buf) > 0 {
		if len(buf) < eventHeaderLen {
			return evs, errors.New(ErrShortEventRead)
		}
		typ := binary.LittleEndian.Uint32(buf[0:4])
		length := int(binary.LittleEndian.Uint32(buf[4:8]))
		if length < eventHeaderLen || length > len(buf) {
			return evs, errors.New(ErrShortEventRead)
		}
		switch EventType(typ) {
		case EventVBlank, EventFlipComplete:
			if length < vblankEventLen {
				return evs, errors.New(ErrShortEventRead)
			}
			b := buf[eventHeaderLen:]
			evs = append(evs, Event{
				Type:     EventType(typ),
				UserData: binary.LittleEndian.Uint64(b[0:8]),
				Sec:      binary.LittleEndian.Uint32(b[8:12]),
				Usec:     binary.LittleEndian.Uint32(b[12:16]),
				Sequence: binary.LittleEndian.Uint32(b[16:20]),
				CRTCID:   binary.LittleEndian.Uint32(b[20:24]),
			})
		}
		buf = buf[length:]
	}
	return evs, nil
}

// EncodeEvent is the inverse of DecodeEvents for a single event.
func EncodeEvent(ev Event) []byte {
	buf := make([]byte, vblankEventLen)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(ev.Type))
	binary.LittleEndian.PutUint32(buf[4:8], vblankEventLen)
	b := buf[eventHeaderLen:]
	binary.LittleEndian.PutUint64(b[0:8], ev.UserData)
	binary.LittleEndian.PutUint32(b[8:12], ev.Sec)
	binary.LittleEndian.PutUint32(b[12:16], ev.Usec)
	binary.LittleEndian.PutUint32(b[16:20], ev.Sequence)
	binary.LittleEndian.PutUint32(b[20:24], ev.CRTCID)
	return buf
}
