// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package hexutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestDecode checks the decode contract: valid strings of either case are
// accepted, while odd lengths and non-hex characters are rejected with
// ErrInvalidEncoding.
func TestDecode(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name        string
		input       string
		expected    []byte
		expectedErr error
	}{{
		name:     "empty string",
		input:    "",
		expected: []byte{},
	}, {
		name:     "lowercase",
		input:    "00ff10",
		expected: []byte{0x00, 0xff, 0x10},
	}, {
		name:     "uppercase",
		input:    "DEADBEEF",
		expected: []byte{0xde, 0xad, 0xbe, 0xef},
	}, {
		name:        "odd length",
		input:       "abc",
		expectedErr: ErrInvalidEncoding,
	}, {
		name:        "invalid characters",
		input:       "xyz0",
		expectedErr: ErrInvalidEncoding,
	}, {
		name:        "whitespace",
		input:       "00 1",
		expectedErr: ErrInvalidEncoding,
	}}

	for _, tc := range testCases {
		tc := tc

		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			b, err := Decode(tc.input)

			if tc.expectedErr != nil {
				require.ErrorIs(t, err, tc.expectedErr)
				require.Nil(t, b)

				return
			}

			require.NoError(t, err)
			require.Equal(t, tc.expected, b)
		})
	}
}

// TestDecodeExact checks that the exact-length variant distinguishes a size
// mismatch from a malformed string.
func TestDecodeExact(t *testing.T) {
	t.Parallel()

	// A well-formed string of the expected size decodes normally.
	b, err := DecodeExact("0102030405", 5)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3, 4, 5}, b)

	// A well-formed string of the wrong size fails with the length error.
	_, err = DecodeExact("0102", 5)
	require.ErrorIs(t, err, ErrInvalidLength)

	// A malformed string fails with the encoding error, not the length
	// error, even if its nominal size would have been wrong too.
	_, err = DecodeExact("zz", 5)
	require.ErrorIs(t, err, ErrInvalidEncoding)
}

// TestEncodeRoundTrip checks that encoding is lowercase and that the
// round-trip laws hold.
func TestEncodeRoundTrip(t *testing.T) {
	t.Parallel()

	raw := []byte{0x00, 0xab, 0xcd, 0xef, 0x7f}

	encoded := Encode(raw)
	require.Equal(t, "00abcdef7f", encoded)

	decoded, err := Decode(encoded)
	require.NoError(t, err)
	require.Equal(t, raw, decoded)

	// Mixed case input normalizes to lowercase on re-encode.
	decoded, err = Decode("00ABcdEF7f")
	require.NoError(t, err)
	require.Equal(t, "00abcdef7f", Encode(decoded))
}
