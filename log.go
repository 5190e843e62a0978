// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/btcsuite/btclog"
	"github.com/dashevo/dashcw/chain"
	"github.com/dashevo/dashcw/finality"
	"github.com/dashevo/dashcw/kms"
	"github.com/dashevo/dashcw/waddrmgr"
	"github.com/dashevo/dashcw/wallet"
	"github.com/dashevo/dashcw/wallet/txauthor"
	"github.com/dashevo/dashcw/wtxmgr"
	"github.com/jrick/logrotate/rotator"
)

// logWriter implements an io.Writer that outputs to both standard output and
// the write-end pipe of an initialized log rotator.
type logWriter struct{}

func (logWriter) Write(p []byte) (n int, err error) {
	os.Stdout.Write(p)
	if logRotatorPipe != nil {
		logRotatorPipe.Write(p)
	}
	return len(p), nil
}

// Loggers per subsystem.  A single backend logger is created and all subsytem
// loggers created from it will write to the backend.  When adding new
// subsystems, add the subsystem logger variable here and to the
// subsystemLoggers map.
//
// Loggers can not be used before the log rotator has been initialized with a
// log file.  This must be performed early during application startup by
// calling initLogRotator.
var (
	// backendLog is the logging backend used to create all subsystem
	// loggers.  The backend must not be used before the log rotator has
	// been initialized, or data races and/or nil pointer dereferences will
	// occur.
	backendLog = btclog.NewBackend(logWriter{})

	// logRotator is one of the logging outputs.  It should be closed on
	// application shutdown.
	logRotator *rotator.Rotator

	// logRotatorPipe is the write-end pipe for writing to the log
	// rotator.  It is written to by the Write method of the logWriter
	// type.
	logRotatorPipe *io.PipeWriter

	log       = backendLog.Logger("DCWL")
	walletLog = backendLog.Logger("WLLT")
	amgrLog   = backendLog.Logger("AMGR")
	tmgrLog   = backendLog.Logger("TMGR")
	txauLog   = backendLog.Logger("TXAU")
	fnltLog   = backendLog.Logger("FNLT")
	kmsvLog   = backendLog.Logger("KMSV")
	chainLog  = backendLog.Logger("CHNS")
)

// Initialize package-global logger variables.
func init() {
	wallet.UseLogger(walletLog)
	waddrmgr.UseLogger(amgrLog)
	wtxmgr.UseLogger(tmgrLog)
	txauthor.UseLogger(txauLog)
	finality.UseLogger(fnltLog)
	kms.UseLogger(kmsvLog)
	chain.UseLogger(chainLog)
}

// subsystemLoggers maps each subsystem identifier to its associated logger.
var subsystemLoggers = map[string]btclog.Logger{
	"DCWL": log,
	"WLLT": walletLog,
	"AMGR": amgrLog,
	"TMGR": tmgrLog,
	"TXAU": txauLog,
	"FNLT": fnltLog,
	"KMSV": kmsvLog,
	"CHNS": chainLog,
}

// initLogRotator initializes the logging rotater to write logs to logFile and
// create roll files in the same directory.  It must be called before the
// package-global log rotater variables are used.
func initLogRotator(logFile string) {
	logDir, _ := filepath.Split(logFile)
	err := os.MkdirAll(logDir, 0700)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create log directory: %v\n", err)
		os.Exit(1)
	}
	r, err := rotator.New(logFile, 10*1024, false, 3)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create file rotator: %v\n", err)
		os.Exit(1)
	}

	pr, pw := io.Pipe()
	go r.Run(pr)

	logRotator = r
	logRotatorPipe = pw
}

// setLogLevel sets the logging level for provided subsystem.  Invalid
// subsystems are ignored.
func setLogLevel(subsystemID string, logLevel string) {
	// Ignore invalid subsystems.
	logger, ok := subsystemLoggers[subsystemID]
	if !ok {
		return
	}

	// Defaults to info if the log level is invalid.
	level, _ := btclog.LevelFromString(logLevel)
	logger.SetLevel(level)
}

// setLogLevels sets the log level for all subsystem loggers to the passed
// level.
func setLogLevels(logLevel string) {
	for subsystemID := range subsystemLoggers {
		setLogLevel(subsystemID, logLevel)
	}
}
