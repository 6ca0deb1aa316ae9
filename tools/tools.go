// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package tools implements the two operations exposed to callers: deriving
// a P2WPKH address from a private key, and adding one partial signature to
// a PSBT. Each call is an independent unit of work: nothing is cached, no
// key material outlives the call, and equal inputs always produce equal
// outputs.
package tools

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/psbtsigner/address"
	"github.com/btcsuite/psbtsigner/pkg/hexutil"
	"github.com/btcsuite/psbtsigner/psbt"
	"github.com/btcsuite/psbtsigner/wif"
)

// AddressResult is the successful result of GenerateAddress.
type AddressResult struct {
	// Address is the bech32 P2WPKH address of the supplied key.
	Address string `json:"address"`
}

// SignResult is the successful result of SignTransaction.
type SignResult struct {
	// PsbtHex is the re-serialized packet with the partial signature(s)
	// added.
	PsbtHex string `json:"psbtHex"`
}

// networkParams maps the per-request network flag to chain parameters.
func networkParams(testnet bool) *chaincfg.Params {
	if testnet {
		return &chaincfg.TestNet3Params
	}

	return &chaincfg.MainNetParams
}

// GenerateAddress derives the P2WPKH address of the private key carried in
// wifStr for the requested network.
func GenerateAddress(wifStr string, testnet bool) (*AddressResult, error) {
	params := networkParams(testnet)

	privKey, err := wif.DecodePrivateKey(wifStr, params)
	if err != nil {
		return nil, err
	}
	defer privKey.Zero()

	addr, err := address.EncodeP2WPKH(privKey.PubKey(), params)
	if err != nil {
		return nil, err
	}

	log.Debugf("Generated %s address %s", params.Name, addr)

	return &AddressResult{Address: addr}, nil
}

// SignTransaction parses the hex-encoded PSBT, adds a partial signature
// for every input funded by the supplied key, and returns the
// re-serialized packet. The packet is never finalized, and on any failure
// no packet bytes are returned at all.
func SignTransaction(psbtHex, wifStr string,
	testnet bool) (*SignResult, error) {

	params := networkParams(testnet)

	raw, err := hexutil.Decode(psbtHex)
	if err != nil {
		return nil, err
	}

	privKey, err := wif.DecodePrivateKey(wifStr, params)
	if err != nil {
		return nil, err
	}
	defer privKey.Zero()

	packet, err := psbt.NewFromRawBytes(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}

	signed, err := packet.Sign(privKey)
	if err != nil {
		return nil, err
	}

	var out bytes.Buffer
	err = packet.Serialize(&out)
	if err != nil {
		return nil, err
	}

	log.Debugf("Signed %d input(s) of a %d byte packet", signed,
		out.Len())

	return &SignResult{PsbtHex: hexutil.Encode(out.Bytes())}, nil
}

// ErrorCode returns the stable taxonomy name for an error produced by the
// signing pipeline, suitable for prefixing the error string handed back to
// the caller.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, hexutil.ErrInvalidLength):
		return "InvalidLength"

	case errors.Is(err, hexutil.ErrInvalidEncoding):
		return "InvalidEncoding"

	case errors.Is(err, wif.ErrInvalidChecksum):
		return "InvalidChecksum"

	case errors.Is(err, wif.ErrNetworkMismatch):
		return "NetworkMismatch"

	case errors.Is(err, wif.ErrInvalidPrivateKey):
		return "InvalidPrivateKey"

	case errors.Is(err, psbt.ErrNoMatchingInput):
		return "NoMatchingInput"

	case errors.Is(err, psbt.ErrMalformedContainer):
		return "MalformedContainer"

	case errors.Is(err, address.ErrEncodingFailure):
		return "EncodingFailure"

	default:
		return "InternalError"
	}
}

// FormatError renders an error as the structured failure string returned
// over the tool surface: the taxonomy code followed by the detail.
func FormatError(err error) string {
	return fmt.Sprintf("%s: %v", ErrorCode(err), err)
}
