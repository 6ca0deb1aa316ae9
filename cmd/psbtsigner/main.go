// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// psbtsigner serves two bitcoin signing tools over stdio: deriving a
// P2WPKH address from a private key, and adding a partial signature to a
// PSBT. Requests are read from stdin and responses are written to stdout,
// one JSON-RPC 2.0 frame per line. The process holds no state between
// requests.
package main

import (
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/btcsuite/psbtsigner/rpc"
)

const (
	appName = "psbtsigner"
	version = "0.1.0"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		os.Exit(1)
	}

	if !cfg.NoFileLogging {
		initLogRotator(filepath.Join(cfg.LogDir, defaultLogFilename))
	}
	defer func() {
		if logRotator != nil {
			logRotator.Close()
		}
	}()

	setLogLevels(cfg.DebugLevel)

	psgrLog.Infof("Version %s", version)

	server := rpc.NewServer(&rpc.Config{
		In:             os.Stdin,
		Out:            os.Stdout,
		DefaultTestnet: cfg.Testnet,
	})

	// Failing to establish the transport is the only fatal error; every
	// later failure is reported to the caller in-band.
	if err := server.Start(); err != nil {
		psgrLog.Errorf("Unable to start transport: %v", err)
		os.Exit(1)
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		server.WaitForShutdown()
		close(done)
	}()

	// Run until the caller closes stdin or the process is interrupted.
	select {
	case sig := <-interrupt:
		psgrLog.Infof("Received signal %v, shutting down", sig)
		server.Stop()

	case <-done:
	}

	server.WaitForShutdown()
	psgrLog.Info("Shutdown complete")
}
