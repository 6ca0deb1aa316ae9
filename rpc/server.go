// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package rpc implements the tool-invocation transport: a JSON-RPC 2.0
// server reading line-delimited requests from one stream and writing
// line-delimited responses to another, normally stdin and stdout. Requests
// are handled concurrently and responses are serialized, so callers may
// pipeline. Diagnostics never touch the response stream.
package rpc

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/btcsuite/psbtsigner/tools"
	"github.com/davecgh/go-spew/spew"
)

const (
	// serverName identifies this implementation during the initialize
	// handshake.
	serverName = "psbtsigner"

	// serverVersion is the semantic version reported during the
	// initialize handshake.
	serverVersion = "0.1.0"

	// protocolVersion is the tool-calling protocol revision implemented
	// here.
	protocolVersion = "2024-11-05"

	// maxRequestSize bounds a single request line. PSBT hex for large
	// transactions dominates request size, so this is generous.
	maxRequestSize = 16 * 1024 * 1024
)

// JSON-RPC 2.0 error codes.
const (
	errCodeParse          = -32700
	errCodeInvalidRequest = -32600
	errCodeMethodNotFound = -32601
	errCodeInvalidParams  = -32602
)

// ErrServerStopped is returned by Start if the server has already been
// stopped. A stopped server cannot be restarted.
var ErrServerStopped = errors.New("rpc server stopped")

// Config holds the options of a Server. All fields must be set.
type Config struct {
	// In is the stream requests are read from.
	In io.Reader

	// Out is the stream responses are written to.
	Out io.Writer

	// DefaultTestnet selects the network used by tool calls that do not
	// carry an explicit testnet flag.
	DefaultTestnet bool
}

// Server reads requests from a stream, dispatches them to the tool
// implementations, and writes responses back.
type Server struct {
	started  int32
	shutdown int32

	cfg Config

	writeMtx sync.Mutex

	wg   sync.WaitGroup
	quit chan struct{}
}

// NewServer creates a new Server for the given streams.
func NewServer(cfg *Config) *Server {
	return &Server{
		cfg:  *cfg,
		quit: make(chan struct{}),
	}
}

// Start begins reading and serving requests. It returns immediately; use
// WaitForShutdown to block until the input stream is exhausted or Stop is
// called.
func (s *Server) Start() error {
	if atomic.AddInt32(&s.started, 1) != 1 {
		return nil
	}
	if atomic.LoadInt32(&s.shutdown) != 0 {
		return ErrServerStopped
	}

	log.Infof("Transport started (default network: %s)",
		networkName(s.cfg.DefaultTestnet))

	s.wg.Add(1)
	go s.readLoop()

	return nil
}

// Stop signals the server to stop serving new requests. In-flight requests
// run to completion.
func (s *Server) Stop() {
	if atomic.AddInt32(&s.shutdown, 1) != 1 {
		return
	}

	log.Info("Transport shutting down")
	close(s.quit)

	// A reader parked inside Scan only wakes up when the stream errors
	// out, so the input is closed here when it supports that. Both
	// os.Stdin and the pipes used in tests do.
	if closer, ok := s.cfg.In.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			log.Debugf("Unable to close request stream: %v", err)
		}
	}
}

// WaitForShutdown blocks until the read loop has returned and all in-flight
// requests have finished.
func (s *Server) WaitForShutdown() {
	s.wg.Wait()
}

// networkName renders the default network flag for log output.
func networkName(testnet bool) string {
	if testnet {
		return "testnet"
	}

	return "mainnet"
}

// readLoop consumes one request per line until the input stream ends or the
// server is stopped. Each request is served on its own goroutine.
func (s *Server) readLoop() {
	defer s.wg.Done()

	scanner := bufio.NewScanner(s.cfg.In)
	scanner.Buffer(make([]byte, 0, 64*1024), maxRequestSize)

	for scanner.Scan() {
		select {
		case <-s.quit:
			return
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		// The scanner reuses its buffer on the next Scan, so the
		// request goroutine needs its own copy.
		raw := make([]byte, len(line))
		copy(raw, line)

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleRequest(raw)
		}()
	}

	// A read error is expected when Stop closed the stream underneath
	// the scanner.
	if err := scanner.Err(); err != nil {
		select {
		case <-s.quit:
		default:
			log.Errorf("Unable to read request stream: %v", err)
		}
	}

	// Input exhausted means the caller is done with us.
	s.Stop()
}

// request is an incoming JSON-RPC 2.0 call or notification.
type request struct {
	Jsonrpc string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// response is an outgoing JSON-RPC 2.0 reply.
type response struct {
	Jsonrpc string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// rpcError is the error member of a failed JSON-RPC 2.0 reply. These cover
// protocol level failures only; a tool call that fails still produces a
// successful reply carrying an error result.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// handleRequest parses and dispatches one request line.
func (s *Server) handleRequest(raw []byte) {
	var req request
	if err := json.Unmarshal(raw, &req); err != nil {
		s.writeError(json.RawMessage("null"), errCodeParse,
			fmt.Sprintf("parse error: %v", err))

		return
	}

	if req.Method == "" {
		s.writeError(requestID(&req), errCodeInvalidRequest,
			"missing method")

		return
	}

	// Request params carry key material, so only the method name is
	// logged.
	log.Debugf("Received %s request", req.Method)

	// Notifications carry no id and expect no reply.
	isNotification := req.ID == nil

	result, rpcErr := s.dispatch(&req)
	if isNotification {
		return
	}

	if rpcErr != nil {
		s.writeError(requestID(&req), rpcErr.Code, rpcErr.Message)

		return
	}

	s.writeResponse(&response{
		Jsonrpc: "2.0",
		ID:      requestID(&req),
		Result:  result,
	})
}

// requestID returns the id to echo in the reply, substituting null for a
// missing one.
func requestID(req *request) json.RawMessage {
	if req.ID == nil {
		return json.RawMessage("null")
	}

	return req.ID
}

// dispatch routes a request to its handler. The tool methods are reachable
// both directly and through the tools/call envelope.
func (s *Server) dispatch(req *request) (interface{}, *rpcError) {
	switch req.Method {
	case "initialize":
		return s.handleInitialize()

	case "notifications/initialized":
		return nil, nil

	case "tools/list":
		return s.handleToolsList()

	case "tools/call":
		return s.handleToolsCall(req.Params)

	case "generate_address", "sign_transaction":
		return s.callTool(req.Method, req.Params)

	default:
		return nil, &rpcError{
			Code:    errCodeMethodNotFound,
			Message: fmt.Sprintf("unknown method %q", req.Method),
		}
	}
}

// handleInitialize answers the handshake with the server identity and its
// sole capability.
func (s *Server) handleInitialize() (interface{}, *rpcError) {
	return map[string]interface{}{
		"protocolVersion": protocolVersion,
		"capabilities": map[string]interface{}{
			"tools": map[string]interface{}{},
		},
		"serverInfo": map[string]interface{}{
			"name":    serverName,
			"version": serverVersion,
		},
	}, nil
}

// toolDescriptor advertises one callable tool and its argument schema.
type toolDescriptor struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// handleToolsList advertises the two tools.
func (s *Server) handleToolsList() (interface{}, *rpcError) {
	wifProp := map[string]interface{}{
		"type":        "string",
		"description": "Private key in wallet import format",
	}
	testnetProp := map[string]interface{}{
		"type": "boolean",
		"description": "Use testnet instead of mainnet " +
			"(default false)",
	}

	return map[string]interface{}{
		"tools": []toolDescriptor{{
			Name: "generate_address",
			Description: "Derive the P2WPKH (bech32) address of " +
				"a private key",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"privateKeyWif": wifProp,
					"testnet":       testnetProp,
				},
				"required": []string{"privateKeyWif"},
			},
		}, {
			Name: "sign_transaction",
			Description: "Add a partial signature to a PSBT " +
				"without finalizing it",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"psbtHex": map[string]interface{}{
						"type": "string",
						"description": "Hex encoded " +
							"PSBT to sign",
					},
					"privateKeyWif": wifProp,
					"testnet":       testnetProp,
				},
				"required": []string{
					"psbtHex", "privateKeyWif",
				},
			},
		}},
	}, nil
}

// toolsCallParams is the envelope of a tools/call request.
type toolsCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// handleToolsCall unwraps the tools/call envelope and invokes the named
// tool.
func (s *Server) handleToolsCall(
	params json.RawMessage) (interface{}, *rpcError) {

	var call toolsCallParams
	if err := json.Unmarshal(params, &call); err != nil {
		return nil, &rpcError{
			Code:    errCodeInvalidParams,
			Message: fmt.Sprintf("invalid params: %v", err),
		}
	}

	switch call.Name {
	case "generate_address", "sign_transaction":
		return s.callTool(call.Name, call.Arguments)

	default:
		return nil, &rpcError{
			Code:    errCodeInvalidParams,
			Message: fmt.Sprintf("unknown tool %q", call.Name),
		}
	}
}

// toolArguments are the arguments accepted by both tools; psbtHex is only
// meaningful for sign_transaction.
type toolArguments struct {
	PsbtHex       string `json:"psbtHex"`
	PrivateKeyWif string `json:"privateKeyWif"`
	Testnet       *bool  `json:"testnet"`
}

// errorResult is the structured failure result of a tool call. Tool
// failures are results, not protocol errors, so a caller can always
// distinguish "the transport broke" from "the inputs were bad".
type errorResult struct {
	Error string `json:"error"`
}

// callTool invokes one of the two tool implementations and folds any
// pipeline error into an error result.
func (s *Server) callTool(name string,
	rawArgs json.RawMessage) (interface{}, *rpcError) {

	var args toolArguments
	if len(rawArgs) > 0 {
		if err := json.Unmarshal(rawArgs, &args); err != nil {
			return nil, &rpcError{
				Code: errCodeInvalidParams,
				Message: fmt.Sprintf("invalid arguments: %v",
					err),
			}
		}
	}

	testnet := s.cfg.DefaultTestnet
	if args.Testnet != nil {
		testnet = *args.Testnet
	}

	switch name {
	case "generate_address":
		result, err := tools.GenerateAddress(
			args.PrivateKeyWif, testnet,
		)
		if err != nil {
			log.Debugf("generate_address failed: %v", err)

			return &errorResult{
				Error: tools.FormatError(err),
			}, nil
		}

		return result, nil

	case "sign_transaction":
		result, err := tools.SignTransaction(
			args.PsbtHex, args.PrivateKeyWif, testnet,
		)
		if err != nil {
			log.Debugf("sign_transaction failed: %v", err)

			return &errorResult{
				Error: tools.FormatError(err),
			}, nil
		}

		return result, nil
	}

	// Unreachable, both callers validate the name first.
	return nil, &rpcError{
		Code:    errCodeInvalidParams,
		Message: fmt.Sprintf("unknown tool %q", name),
	}
}

// writeError writes a protocol level error reply.
func (s *Server) writeError(id json.RawMessage, code int, msg string) {
	s.writeResponse(&response{
		Jsonrpc: "2.0",
		ID:      id,
		Error:   &rpcError{Code: code, Message: msg},
	})
}

// writeResponse marshals one reply and writes it as a single line.
// Responses from concurrent handlers are serialized here so frames never
// interleave.
func (s *Server) writeResponse(resp *response) {
	payload, err := json.Marshal(resp)
	if err != nil {
		log.Errorf("Unable to marshal response: %v", err)

		return
	}

	log.Tracef("Replying %s", newLogClosure(func() string {
		return spew.Sdump(resp)
	}))

	s.writeMtx.Lock()
	defer s.writeMtx.Unlock()

	if _, err := s.cfg.Out.Write(append(payload, '\n')); err != nil {
		log.Errorf("Unable to write response: %v", err)
	}
}
