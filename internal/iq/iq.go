// Package iq converts between the transceiver's 12-bit sample words and
// signed integers. Each I or Q component travels in a 16-bit word whose top
// four bits carry no information.
package iq

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	MinValue = -2048
	MaxValue = 2047

	// Scale maps a decoded component onto [-1, 1).
	Scale = 2048.0

	fieldMask = 0x0FFF
	signBit   = 0x0800
	signFill  = 0xF000
)

var ErrOutOfRange = errors.New("sample outside 12-bit range")

// Decode clears the upper nibble of raw and sign-extends bit 11.
func Decode(raw uint16) int16 {
	v := raw & fieldMask
	if v&signBit != 0 {
		v |= signFill
	}
	return int16(v)
}

// Encode returns the 12-bit field of v with a clear upper nibble.
func Encode(v int16) (uint16, error) {
	if v < MinValue || v > MaxValue {
		return 0, fmt.Errorf("%w: %d", ErrOutOfRange, v)
	}
	return uint16(v) & fieldMask, nil
}

// DecodeBlock decodes interleaved words in place.
func DecodeBlock(words []int16) {
	for i, w := range words {
		words[i] = Decode(uint16(w))
	}
}

// PutBlock writes words as little-endian int16 into dst, which must hold
// 2*len(words) bytes.
func PutBlock(dst []byte, words []int16) {
	for i, w := range words {
		binary.LittleEndian.PutUint16(dst[2*i:], uint16(w))
	}
}

// AppendBlock appends words to dst as little-endian int16.
func AppendBlock(dst []byte, words []int16) []byte {
	for _, w := range words {
		dst = binary.LittleEndian.AppendUint16(dst, uint16(w))
	}
	return dst
}

// ReadBlock parses little-endian int16 words from src. A trailing odd byte
// is ignored.
func ReadBlock(src []byte) []int16 {
	words := make([]int16, len(src)/2)
	for i := range words {
		words[i] = int16(binary.LittleEndian.Uint16(src[2*i:]))
	}
	return words
}

// Complex pairs decoded interleaved words into normalised complex samples.
func Complex(words []int16) []complex64 {
	out := make([]complex64, len(words)/2)
	for n := range out {
		out[n] = complex(float32(words[2*n])/Scale, float32(words[2*n+1])/Scale)
	}
	return out
}
