// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package address encodes pay-to-witness-public-key-hash addresses. The
// witness program is the hash160 of the compressed public key, and the
// textual form is the bech32 encoding of (witness version 0, program) under
// the network's segwit human-readable part.
package address

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
)

// witnessV0ProgramLen is the length of a P2WPKH witness program, the
// hash160 of the compressed public key.
const witnessV0ProgramLen = 20

// ErrEncodingFailure is returned when a witness program cannot be encoded
// as an address. This only happens on malformed internal state, never for a
// well-formed public key, so callers should treat it as an invariant
// violation rather than a user error.
var ErrEncodingFailure = errors.New("address encoding failure")

// EncodeP2WPKH returns the P2WPKH address paying to the given public key on
// the given network. The same key and network always produce the same
// string, and the output is entirely lowercase.
func EncodeP2WPKH(pubKey *btcec.PublicKey,
	params *chaincfg.Params) (string, error) {

	keyHash := btcutil.Hash160(pubKey.SerializeCompressed())

	return encodeSegWitV0(params.Bech32HRPSegwit, keyHash)
}

// encodeSegWitV0 encodes a version 0 witness program as a bech32 string
// under the given human-readable part.
func encodeSegWitV0(hrp string, program []byte) (string, error) {
	if len(program) != witnessV0ProgramLen {
		return "", fmt.Errorf("%w: witness program is %d bytes, "+
			"want %d", ErrEncodingFailure, len(program),
			witnessV0ProgramLen)
	}

	// The program is carried in 5-bit groups, preceded by the witness
	// version which is already a 5-bit value.
	grouped, err := convertBits(program, 8, 5, true)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncodingFailure, err)
	}

	addr, err := bech32Encode(hrp, append([]byte{0x00}, grouped...))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncodingFailure, err)
	}

	return addr, nil
}
