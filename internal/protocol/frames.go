// Package protocol builds the fixed binary frames understood by
// ELK-BLEDOM style LED controllers. Every frame is 9 bytes, starts with
// 0x7e and ends with 0xef, and is written to a single GATT
// characteristic without a write response.
package protocol

import (
	"encoding/hex"
	"fmt"
)

const (
	// ServiceUUID is the GATT service exposing the control characteristic.
	ServiceUUID = "0000fff0-0000-1000-8000-00805f9b34fb"

	// CharacteristicUUID is the single write target for all frames.
	CharacteristicUUID = "0000fff3-0000-1000-8000-00805f9b34fb"
)

const (
	frameHead = 0x7e
	frameTail = 0xef
)

// ColorFrame encodes a static RGB color: 7e000503RRGGBB00ef.
func ColorFrame(r, g, b uint8) []byte {
	return []byte{frameHead, 0x00, 0x05, 0x03, r, g, b, 0x00, frameTail}
}

// PowerOffFrame encodes "all channels off": 7e00050300000000ef.
func PowerOffFrame() []byte {
	return ColorFrame(0, 0, 0)
}

// BrightnessFrame encodes a brightness percentage: 7e0001LL00000000ef,
// where LL is the decimal percentage as a raw byte. Values outside
// 0..100 are rejected.
func BrightnessFrame(pct int) ([]byte, error) {
	if pct < 0 || pct > 100 {
		return nil, fmt.Errorf("brightness %d out of range 0..100", pct)
	}
	return []byte{frameHead, 0x00, 0x01, byte(pct), 0x00, 0x00, 0x00, 0x00, frameTail}, nil
}

// KeepAliveFrame encodes the no-op ping: 7e00000000000000ef. The lamp
// ignores it, but a failed write reveals a silently dropped connection.
func KeepAliveFrame() []byte {
	return []byte{frameHead, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, frameTail}
}

// ParseHexFrame decodes a frame stored as a hex string (the on-disk
// palette format). It validates length and the head/tail markers.
func ParseHexFrame(s string) ([]byte, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid frame hex %q: %w", s, err)
	}
	if len(raw) != 9 || raw[0] != frameHead || raw[8] != frameTail {
		return nil, fmt.Errorf("invalid frame %q: want 9 bytes 7e..ef", s)
	}
	return raw, nil
}

// FrameHex renders a frame as the lowercase hex string used in the
// palette files and logs.
func FrameHex(frame []byte) string {
	return hex.EncodeToString(frame)
}
