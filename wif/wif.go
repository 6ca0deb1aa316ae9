// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package wif implements decoding and encoding of private keys in Wallet
// Import Format (WIF). The decode path verifies the base58-check checksum,
// the network version byte, and the scalar range of the key itself, each
// with a distinct error so callers can report the precise failure to the
// user.
package wif

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

const (
	// privKeyLen is the length of a raw serialized private key.
	privKeyLen = 32

	// checksumLen is the length of the trailing base58-check checksum.
	checksumLen = 4

	// compressFlag is the optional trailing payload byte indicating that
	// the key corresponds to a compressed public key.
	compressFlag = 0x01
)

var (
	// ErrInvalidChecksum is returned when the trailing four checksum
	// bytes of a WIF string do not match the double-SHA256 of its
	// payload.
	ErrInvalidChecksum = errors.New("wif checksum mismatch")

	// ErrNetworkMismatch is returned when the version byte embedded in a
	// WIF string does not match the WIF prefix of the requested network.
	ErrNetworkMismatch = errors.New("wif network mismatch")

	// ErrInvalidPrivateKey is returned when the payload of a WIF string
	// does not contain a usable private key, either because the payload
	// has an unexpected shape or because the key is not in the valid
	// scalar range (0, N).
	ErrInvalidPrivateKey = errors.New("invalid private key")
)

// DecodePrivateKey decodes a WIF string into a private key, verifying that
// it was encoded for the given network.
//
// The trailing compression flag, if present, is stripped and otherwise
// ignored: keys are always used in their compressed form here, since only
// compressed public keys are valid in witness programs.
func DecodePrivateKey(wifStr string,
	params *chaincfg.Params) (*btcec.PrivateKey, error) {

	decoded := base58.Decode(wifStr)

	// The decoded payload holds the raw key, so it is cleared on every
	// path out of this function. PrivKeyFromBytes copies the bytes into
	// the key's own scalar before the deferred clear runs.
	defer zeroBytes(decoded)

	// A WIF payload is version byte + 32 key bytes + optional compression
	// flag, followed by the 4-byte checksum.
	decodedLen := len(decoded)
	switch decodedLen {
	case 1 + privKeyLen + checksumLen:
	case 1 + privKeyLen + 1 + checksumLen:
	default:
		return nil, fmt.Errorf("%w: malformed wif payload of %d bytes",
			ErrInvalidPrivateKey, decodedLen)
	}

	// Verify the base58-check checksum before interpreting anything else,
	// so a corrupted string never reaches the version or key checks.
	payload := decoded[:decodedLen-checksumLen]
	checksum := decoded[decodedLen-checksumLen:]
	expected := chainhash.DoubleHashB(payload)[:checksumLen]
	if !bytes.Equal(checksum, expected) {
		return nil, ErrInvalidChecksum
	}

	// The version byte must match the requested network. This fails
	// closed: a mainnet key presented as testnet (or vice versa) is
	// rejected rather than silently signing against the wrong network.
	if payload[0] != params.PrivateKeyID {
		return nil, fmt.Errorf("%w: got version byte %#02x, want "+
			"%#02x", ErrNetworkMismatch, payload[0],
			params.PrivateKeyID)
	}

	keyBytes := payload[1:]
	if len(keyBytes) == privKeyLen+1 {
		if keyBytes[privKeyLen] != compressFlag {
			return nil, fmt.Errorf("%w: unknown suffix byte %#02x",
				ErrInvalidPrivateKey, keyBytes[privKeyLen])
		}
		keyBytes = keyBytes[:privKeyLen]
	}

	// The key must be a valid scalar in (0, N). SetByteSlice reports
	// values at or above the curve order as overflow.
	var scalar btcec.ModNScalar
	overflow := scalar.SetByteSlice(keyBytes)
	if overflow || scalar.IsZero() {
		scalar.Zero()

		return nil, fmt.Errorf("%w: scalar out of range",
			ErrInvalidPrivateKey)
	}
	scalar.Zero()

	privKey, _ := btcec.PrivKeyFromBytes(keyBytes)

	return privKey, nil
}

// zeroBytes clears a byte slice holding key material.
func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// Encode serializes a private key in WIF for the given network. The
// compression flag is always appended since this package only deals in
// compressed public keys.
func Encode(privKey *btcec.PrivateKey, params *chaincfg.Params) string {
	payload := make([]byte, 0, 1+privKeyLen+1+checksumLen)
	payload = append(payload, params.PrivateKeyID)
	payload = append(payload, privKey.Serialize()...)
	payload = append(payload, compressFlag)

	checksum := chainhash.DoubleHashB(payload)[:checksumLen]
	payload = append(payload, checksum...)

	encoded := base58.Encode(payload)
	zeroBytes(payload)

	return encoded
}
