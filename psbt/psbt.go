// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package psbt implements the subset of BIP 174 needed to add partial
// signatures to single-key P2WPKH inputs of a partially signed bitcoin
// transaction.
//
// The container is held as a sequence of raw key-value pairs per map, in
// the order they appeared on the wire, alongside decoded views of the
// fields the signer needs. Serialization writes the raw pairs back
// verbatim, so every byte the signer did not touch survives a parse,
// sign, serialize cycle unchanged. That property is what lets multiple
// parties sign the same packet in turn without disturbing each other's
// data.
package psbt

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/wire"
)

// psbtMagicLength is the length of the magic bytes that open every
// serialized packet.
const psbtMagicLength = 5

// psbtMagic is the "psbt" magic plus the 0xff separator.
var psbtMagic = [psbtMagicLength]byte{0x70, 0x73, 0x62, 0x74, 0xff}

const (
	// maxKeyLength is the largest map key accepted from the wire.
	maxKeyLength = 10000

	// maxValueLength is the largest map value accepted from the wire.
	// This bounds the size of an embedded previous transaction and is
	// comfortably larger than any standard transaction.
	maxValueLength = 4000000
)

// Global and per-input key types defined by BIP 174. Only the types the
// signer interprets are listed; all other keys pass through untouched.
const (
	globalTypeUnsignedTx = 0x00
	globalTypeVersion    = 0xfb

	inputTypeNonWitnessUtxo = 0x00
	inputTypeWitnessUtxo    = 0x01
	inputTypePartialSig     = 0x02
	inputTypeSighashType    = 0x03
)

var (
	// ErrMalformedContainer is the base error for every way a packet can
	// fail to deserialize. The more specific errors below all wrap it.
	ErrMalformedContainer = errors.New("malformed psbt container")

	// ErrInvalidMagic is returned when a packet does not open with the
	// psbt magic bytes.
	ErrInvalidMagic = fmt.Errorf("%w: invalid magic bytes",
		ErrMalformedContainer)

	// ErrDuplicateKey is returned when the same key appears twice within
	// a single map.
	ErrDuplicateKey = fmt.Errorf("%w: duplicate key",
		ErrMalformedContainer)

	// ErrUnsupportedVersion is returned when the global version field
	// carries anything other than version zero.
	ErrUnsupportedVersion = fmt.Errorf("%w: unsupported psbt version",
		ErrMalformedContainer)

	// ErrMissingUnsignedTx is returned when the global map carries no
	// unsigned transaction.
	ErrMissingUnsignedTx = fmt.Errorf("%w: missing unsigned transaction",
		ErrMalformedContainer)

	// ErrSignedUnsignedTx is returned when the unsigned transaction
	// already carries scriptSigs or witness data, which BIP 174 forbids.
	ErrSignedUnsignedTx = fmt.Errorf("%w: unsigned transaction carries "+
		"signature data", ErrMalformedContainer)

	// ErrPrevTxMismatch is returned when an input's embedded previous
	// transaction does not correspond to the outpoint the unsigned
	// transaction spends.
	ErrPrevTxMismatch = fmt.Errorf("%w: non-witness utxo does not match "+
		"input outpoint", ErrMalformedContainer)

	// ErrNoMatchingInput is returned by Sign when the signing key does
	// not correspond to the script of any input.
	ErrNoMatchingInput = errors.New("key matches no signable input")
)

// keyValue is a single raw key-value pair of a packet map. The key holds
// the type byte(s) plus key data, without the length prefix.
type keyValue struct {
	key   []byte
	value []byte
}

// rawMap is an ordered sequence of key-value pairs, kept exactly as read
// from the wire so serialization can reproduce the original bytes.
type rawMap struct {
	pairs []keyValue
}

// appendPair adds a key-value pair at the end of the map.
func (m *rawMap) appendPair(key, value []byte) {
	m.pairs = append(m.pairs, keyValue{key: key, value: value})
}

// serialize writes every pair in order followed by the map separator.
func (m *rawMap) serialize(w io.Writer) error {
	for _, kv := range m.pairs {
		err := writeKeyValue(w, kv.key, kv.value)
		if err != nil {
			return err
		}
	}

	// A zero key length terminates the map.
	_, err := w.Write([]byte{0x00})

	return err
}

// writeKeyValue writes a single length-prefixed key-value pair.
func writeKeyValue(w io.Writer, key, value []byte) error {
	err := wire.WriteVarInt(w, 0, uint64(len(key)))
	if err != nil {
		return err
	}
	_, err = w.Write(key)
	if err != nil {
		return err
	}

	err = wire.WriteVarInt(w, 0, uint64(len(value)))
	if err != nil {
		return err
	}
	_, err = w.Write(value)

	return err
}

// readKeyValue reads the next key-value pair from r. done is true when the
// map separator was read instead of a pair.
func readKeyValue(r io.Reader) (key, value []byte, done bool, err error) {
	keyLen, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return nil, nil, false, fmt.Errorf("%w: truncated map: %v",
			ErrMalformedContainer, err)
	}
	if keyLen == 0 {
		return nil, nil, true, nil
	}
	if keyLen > maxKeyLength {
		return nil, nil, false, fmt.Errorf("%w: key of %d bytes",
			ErrMalformedContainer, keyLen)
	}

	key = make([]byte, keyLen)
	_, err = io.ReadFull(r, key)
	if err != nil {
		return nil, nil, false, fmt.Errorf("%w: truncated key: %v",
			ErrMalformedContainer, err)
	}

	valueLen, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return nil, nil, false, fmt.Errorf("%w: truncated value "+
			"length: %v", ErrMalformedContainer, err)
	}
	if valueLen > maxValueLength {
		return nil, nil, false, fmt.Errorf("%w: value of %d bytes",
			ErrMalformedContainer, valueLen)
	}

	value = make([]byte, valueLen)
	_, err = io.ReadFull(r, value)
	if err != nil {
		return nil, nil, false, fmt.Errorf("%w: truncated value: %v",
			ErrMalformedContainer, err)
	}

	return key, value, false, nil
}

// readRawMap reads key-value pairs up to and including the map separator,
// rejecting duplicate keys.
func readRawMap(r io.Reader) (*rawMap, error) {
	var (
		m    rawMap
		seen = make(map[string]struct{})
	)
	for {
		key, value, done, err := readKeyValue(r)
		if err != nil {
			return nil, err
		}
		if done {
			return &m, nil
		}

		if _, ok := seen[string(key)]; ok {
			return nil, fmt.Errorf("%w: %x", ErrDuplicateKey, key)
		}
		seen[string(key)] = struct{}{}

		m.appendPair(key, value)
	}
}

// Packet is a parsed PSBT container: the global map, one input map per
// input of the unsigned transaction, and one output map per output.
type Packet struct {
	// UnsignedTx is the transaction being signed, decoded from the
	// global map.
	UnsignedTx *wire.MsgTx

	// Inputs holds the per-input metadata, index-aligned with
	// UnsignedTx.TxIn.
	Inputs []PInput

	// Outputs holds the per-output maps, index-aligned with
	// UnsignedTx.TxOut. They are carried through untouched.
	Outputs []POutput

	// globals holds the raw global key-value pairs as read, unsigned
	// transaction included, so serialization is byte-preserving.
	globals *rawMap
}

// NewFromRawBytes deserializes a binary PSBT packet.
func NewFromRawBytes(r io.Reader) (*Packet, error) {
	var magicBuf [psbtMagicLength]byte
	_, err := io.ReadFull(r, magicBuf[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMagic, err)
	}
	if magicBuf != psbtMagic {
		return nil, fmt.Errorf("%w: %x", ErrInvalidMagic, magicBuf)
	}

	globals, err := readRawMap(r)
	if err != nil {
		return nil, err
	}

	p := &Packet{globals: globals}
	err = p.decodeGlobals()
	if err != nil {
		return nil, err
	}

	p.Inputs = make([]PInput, len(p.UnsignedTx.TxIn))
	for i := range p.Inputs {
		raw, err := readRawMap(r)
		if err != nil {
			return nil, fmt.Errorf("input %d: %w", i, err)
		}

		p.Inputs[i], err = decodeInput(raw)
		if err != nil {
			return nil, fmt.Errorf("input %d: %w", i, err)
		}
	}

	p.Outputs = make([]POutput, len(p.UnsignedTx.TxOut))
	for i := range p.Outputs {
		raw, err := readRawMap(r)
		if err != nil {
			return nil, fmt.Errorf("output %d: %w", i, err)
		}

		p.Outputs[i] = POutput{raw: raw}
	}

	// The maps must account for the entire packet.
	var tail [1]byte
	_, err = io.ReadFull(r, tail[:])
	if err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data after output maps",
			ErrMalformedContainer)
	}

	err = p.validatePrevOuts()
	if err != nil {
		return nil, err
	}

	return p, nil
}

// decodeGlobals extracts the unsigned transaction and version from the raw
// global map.
func (p *Packet) decodeGlobals() error {
	for _, kv := range p.globals.pairs {
		if len(kv.key) != 1 {
			continue
		}

		switch kv.key[0] {
		case globalTypeUnsignedTx:
			tx := &wire.MsgTx{}
			err := tx.Deserialize(bytes.NewReader(kv.value))
			if err != nil {
				return fmt.Errorf("%w: unsigned tx: %v",
					ErrMalformedContainer, err)
			}

			for _, txIn := range tx.TxIn {
				if len(txIn.SignatureScript) > 0 ||
					len(txIn.Witness) > 0 {

					return ErrSignedUnsignedTx
				}
			}

			p.UnsignedTx = tx

		case globalTypeVersion:
			if len(kv.value) != 4 {
				return fmt.Errorf("%w: version field of %d "+
					"bytes", ErrMalformedContainer,
					len(kv.value))
			}

			version := binary.LittleEndian.Uint32(kv.value)
			if version != 0 {
				return fmt.Errorf("%w: %d",
					ErrUnsupportedVersion, version)
			}
		}
	}

	if p.UnsignedTx == nil {
		return ErrMissingUnsignedTx
	}

	return nil
}

// validatePrevOuts checks that every embedded previous transaction matches
// the outpoint its input spends.
func (p *Packet) validatePrevOuts() error {
	for i := range p.Inputs {
		prevTx := p.Inputs[i].NonWitnessUtxo
		if prevTx == nil {
			continue
		}

		outPoint := p.UnsignedTx.TxIn[i].PreviousOutPoint
		prevHash := prevTx.TxHash()
		if !prevHash.IsEqual(&outPoint.Hash) {
			return fmt.Errorf("input %d: %w", i, ErrPrevTxMismatch)
		}
		if outPoint.Index >= uint32(len(prevTx.TxOut)) {
			return fmt.Errorf("input %d: %w", i, ErrPrevTxMismatch)
		}
	}

	return nil
}

// Serialize writes the packet back to its binary form. Maps that were not
// modified since parsing are reproduced byte for byte.
func (p *Packet) Serialize(w io.Writer) error {
	_, err := w.Write(psbtMagic[:])
	if err != nil {
		return err
	}

	err = p.globals.serialize(w)
	if err != nil {
		return err
	}

	for i := range p.Inputs {
		err = p.Inputs[i].raw.serialize(w)
		if err != nil {
			return err
		}
	}

	for i := range p.Outputs {
		err = p.Outputs[i].raw.serialize(w)
		if err != nil {
			return err
		}
	}

	return nil
}
