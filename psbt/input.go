// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// pubKeyCompressedLen and pubKeyUncompressedLen are the two serialized
// public key lengths a partial signature key may carry.
const (
	pubKeyCompressedLen   = 33
	pubKeyUncompressedLen = 65
)

// PartialSig is a single partial signature: the serialized public key it
// belongs to and the DER signature with the sighash type byte appended.
type PartialSig struct {
	PubKey    []byte
	Signature []byte
}

// PInput is the decoded view of one input map. Fields the signer does not
// interpret stay in the raw map and survive serialization untouched.
type PInput struct {
	// NonWitnessUtxo is the full previous transaction, when embedded.
	NonWitnessUtxo *wire.MsgTx

	// WitnessUtxo is the previous output being spent, when embedded.
	WitnessUtxo *wire.TxOut

	// PartialSigs holds the signatures already present plus any added
	// by Sign.
	PartialSigs []*PartialSig

	// SighashType is the signature hash type requested for this input,
	// or zero when the map carries none.
	SighashType txscript.SigHashType

	raw *rawMap
}

// POutput is one output map, carried through as raw pairs only.
type POutput struct {
	raw *rawMap
}

// decodeInput builds the decoded view of an input map.
func decodeInput(raw *rawMap) (PInput, error) {
	in := PInput{raw: raw}

	for _, kv := range raw.pairs {
		if len(kv.key) == 0 {
			return in, fmt.Errorf("%w: empty key",
				ErrMalformedContainer)
		}

		switch {
		case kv.key[0] == inputTypeNonWitnessUtxo && len(kv.key) == 1:
			tx := &wire.MsgTx{}
			err := tx.Deserialize(bytes.NewReader(kv.value))
			if err != nil {
				return in, fmt.Errorf("%w: non-witness "+
					"utxo: %v", ErrMalformedContainer, err)
			}

			in.NonWitnessUtxo = tx

		case kv.key[0] == inputTypeWitnessUtxo && len(kv.key) == 1:
			txOut, err := decodeTxOut(kv.value)
			if err != nil {
				return in, err
			}

			in.WitnessUtxo = txOut

		case kv.key[0] == inputTypePartialSig:
			pubKey := kv.key[1:]
			if len(pubKey) != pubKeyCompressedLen &&
				len(pubKey) != pubKeyUncompressedLen {

				return in, fmt.Errorf("%w: partial sig "+
					"pubkey of %d bytes",
					ErrMalformedContainer, len(pubKey))
			}

			in.PartialSigs = append(in.PartialSigs, &PartialSig{
				PubKey:    pubKey,
				Signature: kv.value,
			})

		case kv.key[0] == inputTypeSighashType && len(kv.key) == 1:
			if len(kv.value) != 4 {
				return in, fmt.Errorf("%w: sighash field of "+
					"%d bytes", ErrMalformedContainer,
					len(kv.value))
			}

			in.SighashType = txscript.SigHashType(
				binary.LittleEndian.Uint32(kv.value),
			)
		}
	}

	return in, nil
}

// decodeTxOut parses the value of a witness utxo field: an 8-byte little
// endian amount followed by the var-length pkScript.
func decodeTxOut(value []byte) (*wire.TxOut, error) {
	if len(value) < 8 {
		return nil, fmt.Errorf("%w: witness utxo of %d bytes",
			ErrMalformedContainer, len(value))
	}

	r := bytes.NewReader(value[8:])
	pkScript, err := wire.ReadVarBytes(r, 0, maxValueLength, "pkScript")
	if err != nil {
		return nil, fmt.Errorf("%w: witness utxo script: %v",
			ErrMalformedContainer, err)
	}

	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: trailing bytes in witness utxo",
			ErrMalformedContainer)
	}

	return &wire.TxOut{
		Value:    int64(binary.LittleEndian.Uint64(value[:8])),
		PkScript: pkScript,
	}, nil
}

// spentOutput returns the output this input spends, from the witness utxo
// when present and the embedded previous transaction otherwise. It returns
// nil when the map exposes neither.
func (in *PInput) spentOutput(txIn *wire.TxIn) *wire.TxOut {
	if in.WitnessUtxo != nil {
		return in.WitnessUtxo
	}

	if in.NonWitnessUtxo != nil {
		idx := txIn.PreviousOutPoint.Index
		if idx >= uint32(len(in.NonWitnessUtxo.TxOut)) {
			return nil
		}

		return in.NonWitnessUtxo.TxOut[idx]
	}

	return nil
}

// partialSigFor returns the existing partial signature for the given
// serialized public key, or nil.
func (in *PInput) partialSigFor(pubKey []byte) *PartialSig {
	for _, ps := range in.PartialSigs {
		if bytes.Equal(ps.PubKey, pubKey) {
			return ps
		}
	}

	return nil
}

// addPartialSig appends a partial signature to both the decoded view and
// the raw map, leaving every existing pair in place.
func (in *PInput) addPartialSig(pubKey, sig []byte) {
	key := make([]byte, 0, 1+len(pubKey))
	key = append(key, inputTypePartialSig)
	key = append(key, pubKey...)

	in.raw.appendPair(key, sig)
	in.PartialSigs = append(in.PartialSigs, &PartialSig{
		PubKey:    pubKey,
		Signature: sig,
	})
}
