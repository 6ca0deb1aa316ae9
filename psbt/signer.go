// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"bytes"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
)

// Sign adds a partial signature for privKey to every input whose spent
// output is the P2WPKH program of the key's compressed public key, and
// returns how many inputs the key matched.
//
// Inputs paying to anything else are left byte-for-byte untouched, and an
// input that already carries a partial signature for this key is counted
// as matched without being modified, so signing is idempotent and repeated
// signing by different parties composes. The packet is never finalized: no
// witness stack is constructed, leaving the remaining signers free to
// contribute.
//
// When the key matches none of the inputs, ErrNoMatchingInput is returned
// and the packet is left unmodified.
func (p *Packet) Sign(privKey *btcec.PrivateKey) (int, error) {
	pubKey := privKey.PubKey().SerializeCompressed()
	keyHash := btcutil.Hash160(pubKey)

	// The BIP143 script code of a P2WPKH spend is the canonical
	// pay-to-pubkey-hash script over the same key hash.
	scriptCode, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_DUP).
		AddOp(txscript.OP_HASH160).
		AddData(keyHash).
		AddOp(txscript.OP_EQUALVERIFY).
		AddOp(txscript.OP_CHECKSIG).
		Script()
	if err != nil {
		return 0, err
	}

	var (
		signed int
		hashes *txSigHashes
	)
	for i := range p.Inputs {
		in := &p.Inputs[i]

		utxo := in.spentOutput(p.UnsignedTx.TxIn[i])
		if utxo == nil {
			continue
		}

		if !isP2WPKHFor(utxo.PkScript, keyHash) {
			continue
		}

		// Never overwrite a signature that is already present for
		// this key.
		if in.partialSigFor(pubKey) != nil {
			signed++
			continue
		}

		hashType := in.SighashType
		if hashType == 0 {
			hashType = txscript.SigHashAll
		}

		// The midstate hashes are shared by all inputs, so they are
		// computed at most once per packet.
		if hashes == nil {
			hashes, err = newTxSigHashes(p.UnsignedTx)
			if err != nil {
				return signed, err
			}
		}

		digest, err := calcWitnessSigHash(
			p.UnsignedTx, hashes, scriptCode, i, utxo.Value,
			hashType,
		)
		if err != nil {
			return signed, err
		}

		// RFC6979 nonces make the signature a pure function of the
		// key and digest, so repeated runs produce identical bytes.
		sig := ecdsa.Sign(privKey, digest)
		sigBytes := append(sig.Serialize(), byte(hashType))

		in.addPartialSig(pubKey, sigBytes)
		signed++

		log.Debugf("Added partial signature for input %d "+
			"(sighash type %d)", i, hashType)
	}

	if signed == 0 {
		return 0, ErrNoMatchingInput
	}

	return signed, nil
}

// isP2WPKHFor reports whether pkScript is the version 0 witness program
// paying to keyHash.
func isP2WPKHFor(pkScript, keyHash []byte) bool {
	return txscript.IsPayToWitnessPubKeyHash(pkScript) &&
		bytes.Equal(pkScript[2:], keyHash)
}
