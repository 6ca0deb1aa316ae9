// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package hexutil provides a strict hexadecimal codec. Unlike the stdlib
// encoding/hex helpers, the decode path classifies failures so callers can
// distinguish a malformed string from one that simply has the wrong size.
package hexutil

import (
	"encoding/hex"
	"errors"
	"fmt"
)

var (
	// ErrInvalidEncoding is returned when a string is not valid
	// hexadecimal, either because its length is odd or because it
	// contains characters outside [0-9a-fA-F].
	ErrInvalidEncoding = errors.New("invalid hex encoding")

	// ErrInvalidLength is returned by DecodeExact when the decoded byte
	// count does not match the expected size.
	ErrInvalidLength = errors.New("invalid decoded length")
)

// Decode converts a hexadecimal string into raw bytes. Both upper and lower
// case digits are accepted.
func Decode(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("%w: odd length %d",
			ErrInvalidEncoding, len(s))
	}

	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEncoding, err)
	}

	return b, nil
}

// DecodeExact converts a hexadecimal string into raw bytes and additionally
// requires the decoded result to be exactly size bytes long.
func DecodeExact(s string, size int) ([]byte, error) {
	b, err := Decode(s)
	if err != nil {
		return nil, err
	}

	if len(b) != size {
		return nil, fmt.Errorf("%w: got %d bytes, want %d",
			ErrInvalidLength, len(b), size)
	}

	return b, nil
}

// Encode converts raw bytes into their lowercase hexadecimal representation.
// Encode(Decode(s)) normalizes the case of s, and Decode(Encode(b)) always
// returns b unchanged.
func Encode(b []byte) string {
	return hex.EncodeToString(b)
}
