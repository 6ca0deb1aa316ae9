// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package address

import (
	"errors"
	"fmt"
	"strings"
)

// charset is the set of characters used in bech32 data encoding, indexed by
// their 5-bit value.
const charset = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"

// bech32Const is the final xor constant of the original bech32 checksum, as
// used by version 0 witness programs.
const bech32Const = 1

// generator contains the coefficients of the BCH code generator polynomial.
var generator = []uint32{
	0x3b6a57b2, 0x26508e6d, 0x1ea119fa, 0x3d4233dd, 0x2a1462b3,
}

var (
	errInvalidHRP       = errors.New("invalid human-readable part")
	errInvalidDataValue = errors.New("data value exceeds 5 bits")
	errInvalidBitGroup  = errors.New("invalid bit group size")
	errPaddingRequired  = errors.New("invalid incomplete group")
)

// bech32Polymod computes the bech32 checksum residue over the already
// expanded values.
func bech32Polymod(values []byte) uint32 {
	chk := uint32(1)
	for _, v := range values {
		top := chk >> 25
		chk = (chk&0x1ffffff)<<5 ^ uint32(v)
		for i := 0; i < 5; i++ {
			if (top>>uint(i))&1 == 1 {
				chk ^= generator[i]
			}
		}
	}

	return chk
}

// hrpExpand expands the human-readable part into the value sequence the
// checksum is computed over: the high bits of each character, a zero
// separator, then the low bits.
func hrpExpand(hrp string) []byte {
	expanded := make([]byte, 0, len(hrp)*2+1)
	for i := 0; i < len(hrp); i++ {
		expanded = append(expanded, hrp[i]>>5)
	}
	expanded = append(expanded, 0)
	for i := 0; i < len(hrp); i++ {
		expanded = append(expanded, hrp[i]&31)
	}

	return expanded
}

// bech32Checksum computes the six checksum values for the given HRP and
// data values.
func bech32Checksum(hrp string, data []byte) []byte {
	values := append(hrpExpand(hrp), data...)
	values = append(values, []byte{0, 0, 0, 0, 0, 0}...)
	polymod := bech32Polymod(values) ^ bech32Const

	checksum := make([]byte, 6)
	for i := 0; i < 6; i++ {
		checksum[i] = byte((polymod >> uint(5*(5-i))) & 31)
	}

	return checksum
}

// bech32Encode encodes the given 5-bit data values under the HRP. The data
// values must each fit in 5 bits; the HRP must be non-empty, lowercase and
// within the US-ASCII range bech32 permits.
func bech32Encode(hrp string, data []byte) (string, error) {
	if len(hrp) == 0 {
		return "", fmt.Errorf("%w: empty", errInvalidHRP)
	}
	for i := 0; i < len(hrp); i++ {
		c := hrp[i]
		if c < 33 || c > 126 {
			return "", fmt.Errorf("%w: character %#02x",
				errInvalidHRP, c)
		}
		if c >= 'A' && c <= 'Z' {
			return "", fmt.Errorf("%w: uppercase character %q",
				errInvalidHRP, c)
		}
	}

	var sb strings.Builder
	sb.WriteString(hrp)
	sb.WriteByte('1')

	combined := append(append([]byte{}, data...),
		bech32Checksum(hrp, data)...)
	for _, v := range combined {
		if v >= 32 {
			return "", fmt.Errorf("%w: %d", errInvalidDataValue, v)
		}
		sb.WriteByte(charset[v])
	}

	return sb.String(), nil
}

// convertBits regroups the bits of data from fromBits-sized groups into
// toBits-sized groups. When pad is true, any remaining bits are padded with
// zeroes into a final group; when false, incomplete trailing groups are
// rejected.
func convertBits(data []byte, fromBits, toBits uint8, pad bool) ([]byte,
	error) {

	if fromBits < 1 || fromBits > 8 || toBits < 1 || toBits > 8 {
		return nil, errInvalidBitGroup
	}

	var (
		acc  uint32
		bits uint8
	)
	maxVal := uint32(1)<<toBits - 1
	result := make([]byte, 0, len(data)*int(fromBits)/int(toBits)+1)

	for _, b := range data {
		if uint32(b)>>fromBits != 0 {
			return nil, fmt.Errorf("%w: %d", errInvalidDataValue, b)
		}

		acc = acc<<fromBits | uint32(b)
		bits += fromBits
		for bits >= toBits {
			bits -= toBits
			result = append(result, byte(acc>>bits&maxVal))
		}
	}

	if pad {
		if bits > 0 {
			result = append(result,
				byte(acc<<(toBits-bits)&maxVal))
		}
	} else if bits >= fromBits || acc<<(toBits-bits)&maxVal != 0 {
		return nil, errPaddingRequired
	}

	return result, nil
}
