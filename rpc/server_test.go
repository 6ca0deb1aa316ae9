// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package rpc

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	btcpsbt "github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/psbtsigner/wif"
	"github.com/stretchr/testify/require"
)

// testResponse mirrors the wire shape of a reply for assertions.
type testResponse struct {
	Jsonrpc string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

// testHarness drives a Server over in-memory pipes the way a caller drives
// it over stdio.
type testHarness struct {
	t *testing.T

	requests *io.PipeWriter
	replies  *bufio.Reader
}

// newTestHarness starts a server over pipes and tears it down with the
// test.
func newTestHarness(t *testing.T, defaultTestnet bool) *testHarness {
	t.Helper()

	inReader, inWriter := io.Pipe()
	outReader, outWriter := io.Pipe()

	server := NewServer(&Config{
		In:             inReader,
		Out:            outWriter,
		DefaultTestnet: defaultTestnet,
	})
	require.NoError(t, server.Start())

	t.Cleanup(func() {
		require.NoError(t, inWriter.Close())
		server.WaitForShutdown()
		require.NoError(t, outWriter.Close())
	})

	return &testHarness{
		t:        t,
		requests: inWriter,
		replies:  bufio.NewReader(outReader),
	}
}

// send writes one request line.
func (h *testHarness) send(line string) {
	h.t.Helper()

	_, err := io.WriteString(h.requests, line+"\n")
	require.NoError(h.t, err)
}

// recv reads and decodes one reply line.
func (h *testHarness) recv() *testResponse {
	h.t.Helper()

	line, err := h.replies.ReadString('\n')
	require.NoError(h.t, err)

	var resp testResponse
	require.NoError(h.t, json.Unmarshal([]byte(line), &resp))
	require.Equal(h.t, "2.0", resp.Jsonrpc)

	return &resp
}

// call sends a request and decodes its successful result into out.
func (h *testHarness) call(id int, method, params string,
	out interface{}) {

	h.t.Helper()

	req := fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"method":%q`, id, method)
	if params != "" {
		req += `,"params":` + params
	}
	req += "}"
	h.send(req)

	resp := h.recv()
	require.Nil(h.t, resp.Error)
	require.JSONEq(h.t, fmt.Sprintf("%d", id), string(resp.ID))
	require.NoError(h.t, json.Unmarshal(resp.Result, out))
}

// testWif returns the WIF encoding of a deterministic key, plus the key
// itself.
func testWif(t *testing.T, seed byte,
	params *chaincfg.Params) (*btcec.PrivateKey, string) {

	t.Helper()

	privKey, _ := btcec.PrivKeyFromBytes(bytes.Repeat([]byte{seed}, 32))

	return privKey, wif.Encode(privKey, params)
}

// fundedPsbtHex builds a hex-encoded PSBT fixture with a single input
// spending a P2WPKH output of pubKey.
func fundedPsbtHex(t *testing.T, pubKey *btcec.PublicKey) string {
	t.Helper()

	keyHash := btcutil.Hash160(pubKey.SerializeCompressed())
	utxoScript, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).
		AddData(keyHash).
		Script()
	require.NoError(t, err)

	var prevHash chainhash.Hash
	prevHash[7] = 0x07

	packet, err := btcpsbt.New(
		[]*wire.OutPoint{wire.NewOutPoint(&prevHash, 1)},
		[]*wire.TxOut{wire.NewTxOut(40_000, utxoScript)},
		2, 0, []uint32{wire.MaxTxInSequenceNum},
	)
	require.NoError(t, err)

	packet.Inputs[0].WitnessUtxo = wire.NewTxOut(50_000, utxoScript)

	var b bytes.Buffer
	require.NoError(t, packet.Serialize(&b))

	return hex.EncodeToString(b.Bytes())
}

// TestInitializeHandshake checks the handshake reply and the advertised
// tool list.
func TestInitializeHandshake(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, false)

	var initResult struct {
		ProtocolVersion string `json:"protocolVersion"`
		ServerInfo      struct {
			Name    string `json:"name"`
			Version string `json:"version"`
		} `json:"serverInfo"`
	}
	h.call(1, "initialize", `{}`, &initResult)
	require.Equal(t, protocolVersion, initResult.ProtocolVersion)
	require.Equal(t, serverName, initResult.ServerInfo.Name)
	require.NotEmpty(t, initResult.ServerInfo.Version)

	// The initialized notification carries no id and must produce no
	// reply; the next reply on the stream belongs to tools/list.
	h.send(`{"jsonrpc":"2.0","method":"notifications/initialized"}`)

	var listResult struct {
		Tools []toolDescriptor `json:"tools"`
	}
	h.call(2, "tools/list", "", &listResult)
	require.Len(t, listResult.Tools, 2)
	require.Equal(t, "generate_address", listResult.Tools[0].Name)
	require.Equal(t, "sign_transaction", listResult.Tools[1].Name)
}

// TestGenerateAddressMethod exercises the direct method form, including the
// network default of the server.
func TestGenerateAddressMethod(t *testing.T) {
	t.Parallel()

	// The server defaults to testnet, so a request without a testnet
	// flag derives a testnet address.
	h := newTestHarness(t, true)

	_, wifStr := testWif(t, 0x51, &chaincfg.TestNet3Params)

	var result struct {
		Address string `json:"address"`
	}
	h.call(1, "generate_address",
		fmt.Sprintf(`{"privateKeyWif":%q}`, wifStr), &result)

	require.True(t, strings.HasPrefix(result.Address, "tb1q"))
	require.Len(t, result.Address, 42)

	// An explicit flag overrides the default; a testnet key presented
	// for mainnet is rejected as an error result.
	var errResult struct {
		Error string `json:"error"`
	}
	h.call(2, "generate_address",
		fmt.Sprintf(`{"privateKeyWif":%q,"testnet":false}`, wifStr),
		&errResult)
	require.True(t, strings.HasPrefix(
		errResult.Error, "NetworkMismatch: ",
	))
}

// TestToolsCallEnvelope exercises both tools through the tools/call
// envelope.
func TestToolsCallEnvelope(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, true)

	privKey, wifStr := testWif(t, 0x52, &chaincfg.TestNet3Params)
	psbtHex := fundedPsbtHex(t, privKey.PubKey())

	var addrResult struct {
		Address string `json:"address"`
	}
	h.call(1, "tools/call", fmt.Sprintf(
		`{"name":"generate_address","arguments":{"privateKeyWif":%q}}`,
		wifStr,
	), &addrResult)
	require.True(t, strings.HasPrefix(addrResult.Address, "tb1q"))

	var signResult struct {
		PsbtHex string `json:"psbtHex"`
	}
	h.call(2, "tools/call", fmt.Sprintf(
		`{"name":"sign_transaction","arguments":{"psbtHex":%q,`+
			`"privateKeyWif":%q}}`, psbtHex, wifStr,
	), &signResult)

	signedBytes, err := hex.DecodeString(signResult.PsbtHex)
	require.NoError(t, err)

	packet, err := btcpsbt.NewFromRawBytes(
		bytes.NewReader(signedBytes), false,
	)
	require.NoError(t, err)
	require.Len(t, packet.Inputs[0].PartialSigs, 1)
}

// TestToolErrorResults checks that pipeline failures come back as error
// results on a successful reply, not as protocol errors.
func TestToolErrorResults(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, true)

	_, wifStr := testWif(t, 0x53, &chaincfg.TestNet3Params)

	var errResult struct {
		Error string `json:"error"`
	}
	h.call(1, "sign_transaction", fmt.Sprintf(
		`{"psbtHex":"xyz","privateKeyWif":%q}`, wifStr,
	), &errResult)
	require.True(t, strings.HasPrefix(
		errResult.Error, "InvalidEncoding: ",
	))

	h.call(2, "generate_address",
		`{"privateKeyWif":"definitely-not-a-key"}`, &errResult)
	require.True(t, strings.HasPrefix(
		errResult.Error, "InvalidPrivateKey: ",
	))
}

// TestProtocolErrors checks the JSON-RPC error paths: unparseable frames,
// unknown methods, and unknown tools.
func TestProtocolErrors(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, false)

	h.send(`this is not json`)
	resp := h.recv()
	require.NotNil(t, resp.Error)
	require.Equal(t, errCodeParse, resp.Error.Code)
	require.JSONEq(t, "null", string(resp.ID))

	h.send(`{"jsonrpc":"2.0","id":7,"method":"no/such/method"}`)
	resp = h.recv()
	require.NotNil(t, resp.Error)
	require.Equal(t, errCodeMethodNotFound, resp.Error.Code)
	require.JSONEq(t, "7", string(resp.ID))

	h.send(`{"jsonrpc":"2.0","id":8,"method":"tools/call",` +
		`"params":{"name":"no_such_tool","arguments":{}}}`)
	resp = h.recv()
	require.NotNil(t, resp.Error)
	require.Equal(t, errCodeInvalidParams, resp.Error.Code)

	h.send(`{"jsonrpc":"2.0","id":9}`)
	resp = h.recv()
	require.NotNil(t, resp.Error)
	require.Equal(t, errCodeInvalidRequest, resp.Error.Code)
}

// TestStopUnblocksIdleReader checks that Stop wakes a server whose reader
// is parked on an idle stream, so shutdown completes without the caller
// ever closing its end of stdin.
func TestStopUnblocksIdleReader(t *testing.T) {
	t.Parallel()

	inReader, _ := io.Pipe()
	_, outWriter := io.Pipe()

	server := NewServer(&Config{In: inReader, Out: outWriter})
	require.NoError(t, server.Start())

	server.Stop()

	done := make(chan struct{})
	go func() {
		server.WaitForShutdown()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("server still running after Stop")
	}
}

// TestPipelinedRequests sends several requests before reading any reply
// and matches replies back to requests by id.
func TestPipelinedRequests(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, true)

	_, wifStr := testWif(t, 0x54, &chaincfg.TestNet3Params)

	const numRequests = 5
	for i := 1; i <= numRequests; i++ {
		h.send(fmt.Sprintf(
			`{"jsonrpc":"2.0","id":%d,"method":`+
				`"generate_address","params":`+
				`{"privateKeyWif":%q}}`, i, wifStr,
		))
	}

	// The same key is used throughout, so every reply must carry the
	// same address regardless of completion order.
	addresses := make(map[int]string)
	for i := 0; i < numRequests; i++ {
		resp := h.recv()
		require.Nil(t, resp.Error)

		var id int
		require.NoError(t, json.Unmarshal(resp.ID, &id))

		var result struct {
			Address string `json:"address"`
		}
		require.NoError(t, json.Unmarshal(resp.Result, &result))
		addresses[id] = result.Address
	}

	require.Len(t, addresses, numRequests)
	for id := 1; id <= numRequests; id++ {
		require.Equal(t, addresses[1], addresses[id])
	}
}
