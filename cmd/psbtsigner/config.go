// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btclog"
	flags "github.com/jessevdk/go-flags"
)

const (
	defaultLogLevel    = "info"
	defaultLogDirname  = "logs"
	defaultLogFilename = "psbtsigner.log"
)

var (
	defaultAppDataDir = btcutil.AppDataDir("psbtsigner", false)
	defaultLogDir     = filepath.Join(defaultAppDataDir, defaultLogDirname)
)

// config defines the configuration options of the daemon.
//
// See loadConfig for details on the parsing rules.
type config struct {
	ShowVersion bool `short:"V" long:"version" description:"Display version information and exit"`

	Testnet bool `long:"testnet" description:"Use the test network for requests that do not specify a network"`

	DebugLevel string `long:"debuglevel" description:"Logging level {trace, debug, info, warn, error, critical}"`

	LogDir string `long:"logdir" description:"Directory to write log files in"`

	NoFileLogging bool `long:"nofilelogging" description:"Disable file logging; diagnostics still go to stderr"`
}

// loadConfig initializes and parses the config using command line options.
// Responses travel over stdout, so all parser output is forced to stderr.
func loadConfig() (*config, error) {
	cfg := config{
		DebugLevel: defaultLogLevel,
		LogDir:     defaultLogDir,
	}

	parser := flags.NewParser(&cfg, flags.HelpFlag)
	if _, err := parser.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) &&
			flagsErr.Type == flags.ErrHelp {

			parser.WriteHelp(os.Stderr)
			os.Exit(0)
		}

		fmt.Fprintln(os.Stderr, err)

		return nil, err
	}

	if cfg.ShowVersion {
		fmt.Fprintf(os.Stderr, "%s version %s\n", appName, version)
		os.Exit(0)
	}

	if _, ok := btclog.LevelFromString(cfg.DebugLevel); !ok {
		err := fmt.Errorf("the specified debug level [%v] is invalid",
			cfg.DebugLevel)
		fmt.Fprintln(os.Stderr, err)

		return nil, err
	}

	return &cfg, nil
}
