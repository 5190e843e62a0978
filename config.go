// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/dashevo/dashcw/internal/cfgutil"
	"github.com/dashevo/dashcw/netparams"
	"github.com/dashevo/dashcw/wallet"
	flags "github.com/jessevdk/go-flags"
)

const (
	defaultConfigFilename    = "dashcw.conf"
	defaultLogLevel          = "info"
	defaultLogDirname        = "logs"
	defaultLogFilename       = "dashcw.log"
	defaultDeepConfirmations = 8
	defaultZMQEndpoint       = "tcp://127.0.0.1:29998"
)

var (
	defaultAppDataDir = btcutil.AppDataDir("dashcw", false)
	defaultConfigFile = filepath.Join(defaultAppDataDir, defaultConfigFilename)
)

type config struct {
	// General application behavior
	ConfigFile  *cfgutil.ExplicitString `short:"C" long:"configfile" description:"Path to configuration file"`
	ShowVersion bool                    `short:"V" long:"version" description:"Display version information and exit"`
	Create      bool                    `long:"create" description:"Create a wallet from a new or restored mnemonic and exit"`
	AppDataDir  *cfgutil.ExplicitString `short:"A" long:"appdata" description:"Application data directory for wallet config, databases and logs"`
	TestNet     bool                    `long:"testnet" description:"Use the test network"`
	RegTest     bool                    `long:"regtest" description:"Use the regression test network"`
	DebugLevel  string                  `short:"d" long:"debuglevel" description:"Logging level {trace, debug, info, warn, error, critical}"`
	LogDir      string                  `long:"logdir" description:"Directory to log output."`

	// Wallet options
	Wallet             string              `long:"wallet" description:"Seed hash or alias of the wallet to open (default: the main wallet)"`
	Alias              string              `long:"alias" description:"Alias of the wallet created with --create"`
	DeepConfirmations  uint32              `long:"deepconfirmations" description:"Confirmations after which a chain locked asset lock is proven by its block instead of its instant lock"`
	ProofTimeout       time.Duration       `long:"prooftimeout" description:"How long to wait for an asset lock to become final"`
	PollProofs         bool                `long:"pollproofs" description:"Poll for asset lock finality instead of waiting for notifications"`
	Fee                *cfgutil.AmountFlag `long:"fee" description:"Fee of asset lock transactions in duffs"`
	AllowFeeFromAmount bool                `long:"allowfeefromamount" description:"Take the fee from the funded amount when the wallet can't cover both"`

	// Funding options
	Fund       *cfgutil.AmountFlag `long:"fund" description:"Lock this many duffs for an identity, wait for the proof and exit"`
	Identity   uint32              `long:"identity" description:"Index of the identity registered by --fund"`
	TopUp      int64               `long:"topup" description:"Index of an identity to top up with --fund instead of registering one (default: none)"`
	TopUpIndex uint32              `long:"topupindex" description:"Index of the top-up of --topup"`

	// RPC client options
	RPCConnect string `short:"c" long:"rpcconnect" description:"Hostname/IP and port of the dashd RPC server to connect to (default localhost:9998, testnet: localhost:19998, regtest: localhost:19898)"`
	RPCUser    string `short:"u" long:"rpcuser" description:"Username for dashd RPC authentication"`
	RPCPass    string `short:"P" long:"rpcpass" default-mask:"-" description:"Password for dashd RPC authentication"`

	// ZMQ options
	ZMQTx        string `long:"zmqtx" description:"dashd ZMQ endpoint publishing rawtx"`
	ZMQLock      string `long:"zmqlock" description:"dashd ZMQ endpoint publishing rawtxlocksig"`
	ZMQChainLock string `long:"zmqchainlock" description:"dashd ZMQ endpoint publishing hashchainlock"`
}

// cleanAndExpandPath expands environement variables and leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		homeDir := filepath.Dir(defaultAppDataDir)
		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows cmd.exe-style
	// %VARIABLE%, but they variables can still be expanded via POSIX-style
	// $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}

// validLogLevel returns whether or not logLevel is a valid debug log level.
func validLogLevel(logLevel string) bool {
	switch logLevel {
	case "trace":
		fallthrough
	case "debug":
		fallthrough
	case "info":
		fallthrough
	case "warn":
		fallthrough
	case "error":
		fallthrough
	case "critical":
		return true
	}
	return false
}

// supportedSubsystems returns a sorted slice of the supported subsystems for
// logging purposes.
func supportedSubsystems() []string {
	// Convert the subsystemLoggers map keys to a slice.
	subsystems := make([]string, 0, len(subsystemLoggers))
	for subsysID := range subsystemLoggers {
		subsystems = append(subsystems, subsysID)
	}

	// Sort the subsytems for stable display.
	sort.Strings(subsystems)
	return subsystems
}

// parseAndSetDebugLevels attempts to parse the specified debug level and set
// the levels accordingly.  An appropriate error is returned if anything is
// invalid.
func parseAndSetDebugLevels(debugLevel string) error {
	// When the specified string doesn't have any delimters, treat it as
	// the log level for all subsystems.
	if !strings.Contains(debugLevel, ",") && !strings.Contains(debugLevel, "=") {
		// Validate debug log level.
		if !validLogLevel(debugLevel) {
			str := "the specified debug level [%v] is invalid"
			return fmt.Errorf(str, debugLevel)
		}

		// Change the logging level for all subsystems.
		setLogLevels(debugLevel)

		return nil
	}

	// Split the specified string into subsystem/level pairs while detecting
	// issues and update the log levels accordingly.
	for _, logLevelPair := range strings.Split(debugLevel, ",") {
		if !strings.Contains(logLevelPair, "=") {
			str := "the specified debug level contains an invalid " +
				"subsystem/level pair [%v]"
			return fmt.Errorf(str, logLevelPair)
		}

		// Extract the specified subsystem and log level.
		fields := strings.Split(logLevelPair, "=")
		subsysID, logLevel := fields[0], fields[1]

		// Validate subsystem.
		if _, exists := subsystemLoggers[subsysID]; !exists {
			str := "the specified subsystem [%v] is invalid -- " +
				"supported subsytems %v"
			return fmt.Errorf(str, subsysID, supportedSubsystems())
		}

		// Validate log level.
		if !validLogLevel(logLevel) {
			str := "the specified debug level [%v] is invalid"
			return fmt.Errorf(str, logLevel)
		}

		setLogLevel(subsysID, logLevel)
	}

	return nil
}

// walletConfig returns the wallet configuration selected by the flags.  The
// chain client is filled in once it is connected.
func (c *config) walletConfig() *wallet.Config {
	return &wallet.Config{
		ChainParams:        activeNet.Params,
		DeepConfirmations:  c.DeepConfirmations,
		ProofTimeout:       c.ProofTimeout,
		PollProofs:         c.PollProofs,
		Fee:                c.Fee.Amount,
		AllowFeeFromAmount: c.AllowFeeFromAmount,
	}
}

// fundingTarget returns the identity funded by --fund.
func (c *config) fundingTarget() wallet.Target {
	if c.TopUp >= 0 {
		return wallet.TopUp{
			IdentityIndex: uint32(c.TopUp),
			TopUpIndex:    c.TopUpIndex,
		}
	}
	return wallet.Registration{IdentityIndex: c.Identity}
}

// netDir returns the directory holding the wallet database of the active
// network.
func (c *config) netDir() string {
	return filepath.Join(c.AppDataDir.Value, activeNet.Params.Name)
}

// loadConfig initializes and parses the config using a config file and command
// line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse CLI options and overwrite/add any specified options
//
// The above results in dashcw functioning properly without any config
// settings while still allowing the user to override settings with config files
// and command line options.  Command line options always take precedence.
func loadConfig() (*config, []string, error) {
	// Default config.
	cfg := config{
		DebugLevel:        defaultLogLevel,
		ConfigFile:        cfgutil.NewExplicitString(defaultConfigFile),
		AppDataDir:        cfgutil.NewExplicitString(defaultAppDataDir),
		LogDir:            filepath.Join(defaultAppDataDir, defaultLogDirname),
		DeepConfirmations: defaultDeepConfirmations,
		ProofTimeout:      wallet.DefaultProofTimeout,
		Fee:               cfgutil.NewAmountFlag(0),
		Fund:              cfgutil.NewAmountFlag(0),
		TopUp:             -1,
		ZMQTx:             defaultZMQEndpoint,
		ZMQLock:           defaultZMQEndpoint,
		ZMQChainLock:      defaultZMQEndpoint,
	}

	// Pre-parse the command line options to see if an alternative config
	// file or the version flag was specified.
	preCfg := cfg
	preParser := flags.NewParser(&preCfg, flags.Default)
	_, err := preParser.Parse()
	if err != nil {
		var e *flags.Error
		if !errors.As(err, &e) || e.Type != flags.ErrHelp {
			preParser.WriteHelp(os.Stderr)
		}
		return nil, nil, err
	}

	// Show the version and exit if the version flag was specified.
	funcName := "loadConfig"
	appName := filepath.Base(os.Args[0])
	appName = strings.TrimSuffix(appName, filepath.Ext(appName))
	usageMessage := fmt.Sprintf("Use %s -h to show usage", appName)
	if preCfg.ShowVersion {
		fmt.Println(appName, "version", version())
		os.Exit(0)
	}

	// If the config file path has not been modified by user, then we'll
	// use the default config file path within the application data
	// directory.
	configFilePath := preCfg.ConfigFile.Value
	if preCfg.AppDataDir.ExplicitlySet() && !preCfg.ConfigFile.ExplicitlySet() {
		configFilePath = filepath.Join(
			preCfg.AppDataDir.Value, defaultConfigFilename,
		)
	}

	// Load additional config from file.
	var configFileError error
	parser := flags.NewParser(&cfg, flags.Default)
	configFilePath = cleanAndExpandPath(configFilePath)
	err = flags.NewIniParser(parser).ParseFile(configFilePath)
	if err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			fmt.Fprintln(os.Stderr, err)
			parser.WriteHelp(os.Stderr)
			return nil, nil, err
		}
		configFileError = err
	}

	// Parse command line options again to ensure they take precedence.
	remainingArgs, err := parser.Parse()
	if err != nil {
		var e *flags.Error
		if !errors.As(err, &e) || e.Type != flags.ErrHelp {
			parser.WriteHelp(os.Stderr)
		}
		return nil, nil, err
	}

	// Choose the active network params based on the selected network.
	// Multiple networks can't be selected simultaneously.
	numNets := 0
	if cfg.TestNet {
		activeNet = &netparams.TestNetParams
		numNets++
	}
	if cfg.RegTest {
		activeNet = &netparams.RegTestParams
		numNets++
	}
	if numNets > 1 {
		str := "%s: The testnet and regtest params can't be used " +
			"together -- choose one"
		err := fmt.Errorf(str, funcName)
		fmt.Fprintln(os.Stderr, err)
		parser.WriteHelp(os.Stderr)
		return nil, nil, err
	}

	// If an alternate data directory was specified, and paths with defaults
	// relative to the data dir are unchanged, modify each path to be
	// relative to the new data dir.
	cfg.AppDataDir.Value = cleanAndExpandPath(cfg.AppDataDir.Value)
	if cfg.AppDataDir.ExplicitlySet() &&
		cfg.LogDir == filepath.Join(defaultAppDataDir, defaultLogDirname) {

		cfg.LogDir = filepath.Join(cfg.AppDataDir.Value, defaultLogDirname)
	}

	// Append the network type to the log directory so it is "namespaced"
	// per network.
	cfg.LogDir = cleanAndExpandPath(cfg.LogDir)
	cfg.LogDir = filepath.Join(cfg.LogDir, activeNet.Params.Name)

	// Special show command to list supported subsystems and exit.
	if cfg.DebugLevel == "show" {
		fmt.Println("Supported subsystems", supportedSubsystems())
		os.Exit(0)
	}

	// Initialize log rotation.  After log rotation has been initialized, the
	// logger variables may be used.
	initLogRotator(filepath.Join(cfg.LogDir, defaultLogFilename))

	// Parse, validate, and set debug log level(s).
	if err := parseAndSetDebugLevels(cfg.DebugLevel); err != nil {
		err := fmt.Errorf("%s: %v", funcName, err.Error())
		fmt.Fprintln(os.Stderr, err)
		parser.WriteHelp(os.Stderr)
		return nil, nil, err
	}

	// Warn about missing config file after the final command line parse
	// succeeds.  This prevents the warning on help messages and invalid
	// options.
	if configFileError != nil {
		log.Warnf("%v", configFileError)
	}

	if cfg.Create && cfg.Fund.Amount != 0 {
		err := fmt.Errorf("%s: the --create and --fund options may "+
			"not be used together", funcName)
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, nil, err
	}
	if cfg.Fund.Amount < 0 {
		err := fmt.Errorf("%s: the --fund amount must be positive",
			funcName)
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, nil, err
	}
	if cfg.TopUp < -1 {
		err := fmt.Errorf("%s: invalid --topup identity index %d",
			funcName, cfg.TopUp)
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, nil, err
	}

	if cfg.RPCConnect == "" {
		cfg.RPCConnect = net.JoinHostPort("localhost", activeNet.RPCClientPort)
	}

	// Add default port to connect flag if missing.
	cfg.RPCConnect, err = cfgutil.NormalizeAddress(cfg.RPCConnect,
		activeNet.RPCClientPort)
	if err != nil {
		fmt.Fprintf(os.Stderr,
			"Invalid rpcconnect network address: %v\n", err)
		return nil, nil, err
	}

	return &cfg, remainingArgs, nil
}
