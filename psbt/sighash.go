// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// sigHashMask isolates the base signature hash type from its modifier
// flags.
const sigHashMask = 0x1f

// txSigHashes caches the three midstate hashes shared by every BIP143
// digest of one transaction, so signing many inputs hashes the prevouts,
// sequences and outputs only once.
type txSigHashes struct {
	hashPrevOuts chainhash.Hash
	hashSequence chainhash.Hash
	hashOutputs  chainhash.Hash
}

// newTxSigHashes computes the midstate hashes for tx.
func newTxSigHashes(tx *wire.MsgTx) (*txSigHashes, error) {
	hashOutputs, err := calcHashOutputs(tx)
	if err != nil {
		return nil, err
	}

	return &txSigHashes{
		hashPrevOuts: calcHashPrevOuts(tx),
		hashSequence: calcHashSequence(tx),
		hashOutputs:  hashOutputs,
	}, nil
}

// calcHashPrevOuts hashes the concatenated outpoints of every input.
func calcHashPrevOuts(tx *wire.MsgTx) chainhash.Hash {
	var (
		b       bytes.Buffer
		scratch [4]byte
	)
	for _, txIn := range tx.TxIn {
		b.Write(txIn.PreviousOutPoint.Hash[:])
		binary.LittleEndian.PutUint32(
			scratch[:], txIn.PreviousOutPoint.Index,
		)
		b.Write(scratch[:])
	}

	return chainhash.DoubleHashH(b.Bytes())
}

// calcHashSequence hashes the concatenated sequence numbers of every
// input.
func calcHashSequence(tx *wire.MsgTx) chainhash.Hash {
	var (
		b       bytes.Buffer
		scratch [4]byte
	)
	for _, txIn := range tx.TxIn {
		binary.LittleEndian.PutUint32(scratch[:], txIn.Sequence)
		b.Write(scratch[:])
	}

	return chainhash.DoubleHashH(b.Bytes())
}

// calcHashOutputs hashes the wire serialization of every output.
func calcHashOutputs(tx *wire.MsgTx) (chainhash.Hash, error) {
	var b bytes.Buffer
	for _, txOut := range tx.TxOut {
		err := wire.WriteTxOut(&b, 0, 0, txOut)
		if err != nil {
			return chainhash.Hash{}, err
		}
	}

	return chainhash.DoubleHashH(b.Bytes()), nil
}

// calcWitnessSigHash computes the BIP143 digest a signature for input idx
// commits to: the version, the (possibly zeroed) midstate hashes, the
// outpoint, the script code, the spent value, the sequence, the output
// commitment for the hash type, the locktime and the hash type itself,
// double-SHA256 hashed.
func calcWitnessSigHash(tx *wire.MsgTx, hashes *txSigHashes,
	scriptCode []byte, idx int, value int64,
	hashType txscript.SigHashType) ([]byte, error) {

	if idx >= len(tx.TxIn) {
		return nil, fmt.Errorf("input index %d out of range for %d "+
			"inputs", idx, len(tx.TxIn))
	}

	var (
		sigHash  bytes.Buffer
		scratch  [8]byte
		zeroHash chainhash.Hash
	)

	anyoneCanPay := hashType&txscript.SigHashAnyOneCanPay != 0
	baseType := hashType & sigHashMask

	binary.LittleEndian.PutUint32(scratch[:4], uint32(tx.Version))
	sigHash.Write(scratch[:4])

	// With SIGHASH_ANYONECANPAY the signature commits to no prevout but
	// its own, so the aggregate prevout hash is zeroed.
	if anyoneCanPay {
		sigHash.Write(zeroHash[:])
	} else {
		sigHash.Write(hashes.hashPrevOuts[:])
	}

	// The sequence commitment only survives the default ALL type.
	if !anyoneCanPay && baseType != txscript.SigHashSingle &&
		baseType != txscript.SigHashNone {

		sigHash.Write(hashes.hashSequence[:])
	} else {
		sigHash.Write(zeroHash[:])
	}

	txIn := tx.TxIn[idx]
	sigHash.Write(txIn.PreviousOutPoint.Hash[:])
	binary.LittleEndian.PutUint32(
		scratch[:4], txIn.PreviousOutPoint.Index,
	)
	sigHash.Write(scratch[:4])

	err := wire.WriteVarBytes(&sigHash, 0, scriptCode)
	if err != nil {
		return nil, err
	}

	binary.LittleEndian.PutUint64(scratch[:], uint64(value))
	sigHash.Write(scratch[:])

	binary.LittleEndian.PutUint32(scratch[:4], txIn.Sequence)
	sigHash.Write(scratch[:4])

	switch {
	case baseType == txscript.SigHashNone:
		sigHash.Write(zeroHash[:])

	case baseType == txscript.SigHashSingle:
		// SIGHASH_SINGLE commits to the output paired with this
		// input, or to nothing when no such output exists.
		if idx < len(tx.TxOut) {
			var b bytes.Buffer
			err := wire.WriteTxOut(&b, 0, 0, tx.TxOut[idx])
			if err != nil {
				return nil, err
			}

			h := chainhash.DoubleHashH(b.Bytes())
			sigHash.Write(h[:])
		} else {
			sigHash.Write(zeroHash[:])
		}

	default:
		sigHash.Write(hashes.hashOutputs[:])
	}

	binary.LittleEndian.PutUint32(scratch[:4], tx.LockTime)
	sigHash.Write(scratch[:4])

	binary.LittleEndian.PutUint32(scratch[:4], uint32(hashType))
	sigHash.Write(scratch[:4])

	return chainhash.DoubleHashB(sigHash.Bytes()), nil
}
