// Copyright (c) 2013-2017 The btcsuite developers
// Copyright (c) 2016-2026 The Silk Network developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/jessevdk/go-flags"
	"github.com/silknetwork/silkd/database"
	silklog "github.com/silknetwork/silkd/internal/log"
	"github.com/silknetwork/silkd/internal/version"
	"github.com/silknetwork/silkd/netsync"
	"github.com/silknetwork/silkd/overlay"
	"github.com/silknetwork/silkd/sampleconfig"
)

const (
	defaultConfigFilename = "silkd.conf"
	defaultDataDirname    = "data"
	defaultLogLevel       = "info"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "silkd.log"
	defaultFeeFilename    = "fee_estimates.dat"
	defaultDbType         = "leveldb"
	defaultRPCHost        = "localhost"
	defaultStatusInterval = time.Minute
)

var (
	defaultHomeDir    = btcutil.AppDataDir("silkd", false)
	defaultConfigFile = filepath.Join(defaultHomeDir, defaultConfigFilename)
	defaultDataDir    = filepath.Join(defaultHomeDir, defaultDataDirname)
	defaultLogDir     = filepath.Join(defaultHomeDir, defaultLogDirname)
	defaultRPCCert    = filepath.Join(btcutil.AppDataDir("btcd", false), "rpc.cert")
	knownDbTypes      = database.SupportedDrivers()
)

// watchKey is an overlay key whose pending state is reported periodically.
type watchKey struct {
	op  overlay.Op
	key []byte
}

// config defines the configuration options for silkd.
//
// See loadConfig for details on the configuration load process.
type config struct {
	ShowVersion    bool          `short:"V" long:"version" description:"Display version information and exit"`
	ConfigFile     string        `short:"C" long:"configfile" description:"Path to configuration file"`
	DataDir        string        `short:"b" long:"datadir" description:"Directory to store data"`
	LogDir         string        `long:"logdir" description:"Directory to log output."`
	DebugLevel     string        `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems -- Use show to list available subsystems"`
	TestNet3       bool          `long:"testnet" description:"Use the test network"`
	RegressionTest bool          `long:"regtest" description:"Use the regression test network"`
	SimNet         bool          `long:"simnet" description:"Use the simulation test network"`
	DbType         string        `long:"dbtype" description:"Database backend to use for the transaction height index"`
	RPCConnect     string        `short:"c" long:"rpcconnect" description:"Hostname/IP and port of the node to mirror"`
	RPCUser        string        `short:"u" long:"rpcuser" description:"Username for RPC connections to the node"`
	RPCPass        string        `short:"P" long:"rpcpass" default-mask:"-" description:"Password for RPC connections to the node"`
	RPCCert        string        `long:"rpccert" description:"File containing the node's certificate"`
	NoTLS          bool          `long:"notls" description:"Disable TLS for the RPC connection to the node"`
	Proxy          string        `long:"proxy" description:"Connect to the node via SOCKS5 proxy (eg. 127.0.0.1:9050)"`
	ProxyUser      string        `long:"proxyuser" description:"Username for proxy server"`
	ProxyPass      string        `long:"proxypass" default-mask:"-" description:"Password for proxy server"`
	FeeFile        string        `long:"feefile" description:"File holding the fee estimator state across restarts"`
	PollInterval   time.Duration `long:"pollinterval" description:"Time between two synchronizations with the node.  Valid time units are {ms, s, m, h}"`
	MaxReorgDepth  int32         `long:"maxreorgdepth" description:"Deepest chain reorganization followed without operator intervention"`
	StatusInterval time.Duration `long:"statusinterval" description:"Time between two status lines.  Valid time units are {s, m, h}"`
	Watch          []string      `long:"watch" description:"Report whether an overlay operation on a key is pending, as <op>:<key> (eg. aliasactivate:example)"`
	SanityCheck    bool          `long:"sanitycheck" description:"Verify the pool indexes after every change -- NOTE: this is slow"`
	Profile        string        `long:"profile" description:"Enable HTTP profiling on given port -- NOTE port must be between 1024 and 65536"`
	CPUProfile     string        `long:"cpuprofile" description:"Write CPU profile to the specified file"`

	watchKeys []watchKey
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		homeDir := filepath.Dir(defaultHomeDir)
		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but they variables can still be expanded via POSIX-style $VARIABLE.
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
	return silklog.SupportedSubsystems()
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
			str := "The specified debug level [%v] is invalid"
			return fmt.Errorf(str, debugLevel)
		}

		// Change the logging level for all subsystems.
		silklog.SetLogLevels(debugLevel)

		return nil
	}

	// Split the specified string into subsystem/level pairs while detecting
	// issues and update the log levels accordingly.
	for _, logLevelPair := range strings.Split(debugLevel, ",") {
		if !strings.Contains(logLevelPair, "=") {
			str := "The specified debug level contains an invalid " +
				"subsystem/level pair [%v]"
			return fmt.Errorf(str, logLevelPair)
		}

		// Extract the specified subsystem and log level.
		fields := strings.Split(logLevelPair, "=")
		subsysID, logLevel := fields[0], fields[1]

		// Validate subsystem.
		if _, exists := silklog.SubsystemLoggers[subsysID]; !exists {
			str := "The specified subsystem [%v] is invalid -- " +
				"supported subsytems %v"
			return fmt.Errorf(str, subsysID, supportedSubsystems())
		}

		// Validate log level.
		if !validLogLevel(logLevel) {
			str := "The specified debug level [%v] is invalid"
			return fmt.Errorf(str, logLevel)
		}

		silklog.SetLogLevel(subsysID, logLevel)
	}

	return nil
}

// validDbType returns whether or not dbType is a supported database type.
func validDbType(dbType string) bool {
	for _, knownType := range knownDbTypes {
		if dbType == knownType {
			return true
		}
	}

	return false
}

// normalizeAddress returns addr with the passed default port appended if
// there is not already a port specified.
func normalizeAddress(addr, defaultPort string) string {
	_, _, err := net.SplitHostPort(addr)
	if err != nil {
		return net.JoinHostPort(addr, defaultPort)
	}
	return addr
}

// createDefaultConfigFile writes the commented sample configuration to
// destPath, creating its directory as needed.
func createDefaultConfigFile(destPath string) error {
	err := os.MkdirAll(filepath.Dir(destPath), 0700)
	if err != nil {
		return err
	}
	return os.WriteFile(destPath, []byte(sampleconfig.FileContents), 0600)
}

// parseWatchKey parses an <op>:<key> pair.
func parseWatchKey(s string) (watchKey, error) {
	name, key, ok := strings.Cut(s, ":")
	if !ok || key == "" {
		return watchKey{}, fmt.Errorf("watch entry [%v] is not of the "+
			"form <op>:<key>", s)
	}
	op, ok := overlay.ParseOp(name)
	if !ok {
		return watchKey{}, fmt.Errorf("watch entry [%v] names an "+
			"unknown overlay operation", s)
	}
	return watchKey{op: op, key: []byte(key)}, nil
}

// fileExists reports whether the named file or directory exists.
func fileExists(name string) bool {
	if _, err := os.Stat(name); err != nil {
		if os.IsNotExist(err) {
			return false
		}
	}
	return true
}

// serviceOptions defines the configuration options for the daemon as a service
// on Windows.
type serviceOptions struct {
	ServiceCommand string `short:"s" long:"service" description:"Service command {install, remove, start, stop}"`
}

// runServiceCommand is only set to a real function on Windows.  It is used
// to parse and execute service commands specified via the -s flag.
var runServiceCommand func(string) error

// newConfigParser returns a new command line parser for the passed config and
// service options.  The service options are only offered on Windows.
func newConfigParser(cfg *config, so *serviceOptions, options flags.Options) *flags.Parser {
	parser := flags.NewParser(cfg, options)
	if runtime.GOOS == "windows" {
		parser.AddGroup("Service Options", "Service Options", so)
	}
	return parser
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
// The above results in silkd functioning properly without any config settings
// while still allowing the user to override settings with config files and
// command line options.  Command line options always take precedence.
func loadConfig() (*config, []string, error) {
	// Default config.
	cfg := config{
		ConfigFile:     defaultConfigFile,
		DebugLevel:     defaultLogLevel,
		DataDir:        defaultDataDir,
		LogDir:         defaultLogDir,
		DbType:         defaultDbType,
		RPCCert:        defaultRPCCert,
		PollInterval:   netsync.DefaultPollInterval,
		MaxReorgDepth:  netsync.DefaultMaxReorgDepth,
		StatusInterval: defaultStatusInterval,
	}

	// Service options which are only added on Windows.
	serviceOpts := serviceOptions{}

	// Pre-parse the command line options to see if an alternative config
	// file or the version flag was specified.  Any errors aside from the
	// help message error can be ignored here since they will be caught by
	// the final parse below.
	preCfg := cfg
	preParser := newConfigParser(&preCfg, &serviceOpts, flags.HelpFlag)
	_, err := preParser.Parse()
	if err != nil {
		var e *flags.Error
		if errors.As(err, &e) && e.Type == flags.ErrHelp {
			fmt.Fprintln(os.Stdout, err)
			os.Exit(0)
		}
	}

	// Show the version and exit if the version flag was specified.
	appName := filepath.Base(os.Args[0])
	appName = strings.TrimSuffix(appName, filepath.Ext(appName))
	usageMessage := fmt.Sprintf("Use %s -h to show usage", appName)
	if preCfg.ShowVersion {
		fmt.Println(appName, "version", version.String())
		os.Exit(0)
	}

	// Perform service command and exit if specified.  Invalid service
	// commands show an appropriate error.  Only runs on Windows since
	// the runServiceCommand function will be nil when not on Windows.
	if serviceOpts.ServiceCommand != "" && runServiceCommand != nil {
		err := runServiceCommand(serviceOpts.ServiceCommand)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(0)
	}

	// Write the sample config file on first start when the default config
	// file is in use.
	if preCfg.ConfigFile == defaultConfigFile && !fileExists(defaultConfigFile) {
		err := createDefaultConfigFile(defaultConfigFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating a default config "+
				"file: %v\n", err)
		}
	}

	// Load additional config from file.
	var configFileError error
	parser := newConfigParser(&cfg, &serviceOpts, flags.Default)
	err = flags.NewIniParser(parser).ParseFile(preCfg.ConfigFile)
	if err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			fmt.Fprintf(os.Stderr, "Error parsing config file: %v\n", err)
			fmt.Fprintln(os.Stderr, usageMessage)
			return nil, nil, err
		}
		configFileError = err
	}

	// Parse command line options again to ensure they take precedence.
	remainingArgs, err := parser.Parse()
	if err != nil {
		var e *flags.Error
		if !errors.As(err, &e) || e.Type != flags.ErrHelp {
			fmt.Fprintln(os.Stderr, usageMessage)
		}
		return nil, nil, err
	}

	// Multiple networks can't be selected simultaneously.
	numNets := 0
	if cfg.TestNet3 {
		numNets++
		activeNetParams = &testNet3Params
	}
	if cfg.RegressionTest {
		numNets++
		activeNetParams = &regressionNetParams
	}
	if cfg.SimNet {
		numNets++
		activeNetParams = &simNetParams
	}
	if numNets > 1 {
		str := "%s: The testnet, regtest, and simnet params can't be " +
			"used together -- choose one of the three"
		err := fmt.Errorf(str, "loadConfig")
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, nil, err
	}

	// Append the network type to the data directory so it is "namespaced"
	// per network.  The height index and the fee estimates are both
	// specific to a network.
	cfg.DataDir = cleanAndExpandPath(cfg.DataDir)
	cfg.DataDir = filepath.Join(cfg.DataDir, netName(activeNetParams))

	// Append the network type to the logger directory so it is "namespaced"
	// per network in the same fashion as the data directory.
	cfg.LogDir = cleanAndExpandPath(cfg.LogDir)
	cfg.LogDir = filepath.Join(cfg.LogDir, netName(activeNetParams))

	// Special show command to list supported subsystems and exit.
	if cfg.DebugLevel == "show" {
		fmt.Println("Supported subsystems", supportedSubsystems())
		os.Exit(0)
	}

	// Initialize log rotation.  After log rotation has been initialized, the
	// logger variables may be used.
	silklog.InitLogRotator(filepath.Join(cfg.LogDir, defaultLogFilename))

	// Parse, validate, and set debug log level(s).
	if err := parseAndSetDebugLevels(cfg.DebugLevel); err != nil {
		err := fmt.Errorf("%s: %v", "loadConfig", err.Error())
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, nil, err
	}

	// Validate database type.
	if !validDbType(cfg.DbType) {
		str := "%s: The specified database type [%v] is invalid -- " +
			"supported types %v"
		err := fmt.Errorf(str, "loadConfig", cfg.DbType, knownDbTypes)
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, nil, err
	}

	// Validate profile port number
	if cfg.Profile != "" {
		profilePort, err := strconv.Atoi(cfg.Profile)
		if err != nil || profilePort < 1024 || profilePort > 65535 {
			str := "%s: The profile port must be between 1024 and 65535"
			err := fmt.Errorf(str, "loadConfig")
			fmt.Fprintln(os.Stderr, err)
			fmt.Fprintln(os.Stderr, usageMessage)
			return nil, nil, err
		}
	}

	// Don't allow poll and status intervals that are too short.
	if cfg.PollInterval < 100*time.Millisecond {
		str := "%s: The pollinterval option may not be less than 100ms " +
			"-- parsed [%v]"
		err := fmt.Errorf(str, "loadConfig", cfg.PollInterval)
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, nil, err
	}
	if cfg.StatusInterval < time.Second {
		str := "%s: The statusinterval option may not be less than 1s " +
			"-- parsed [%v]"
		err := fmt.Errorf(str, "loadConfig", cfg.StatusInterval)
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, nil, err
	}
	if cfg.MaxReorgDepth < 1 {
		str := "%s: The maxreorgdepth option must be positive -- " +
			"parsed [%v]"
		err := fmt.Errorf(str, "loadConfig", cfg.MaxReorgDepth)
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, nil, err
	}

	// The node credentials are required.
	if cfg.RPCUser == "" || cfg.RPCPass == "" {
		str := "%s: The rpcuser and rpcpass options must be set to " +
			"mirror a node"
		err := fmt.Errorf(str, "loadConfig")
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, nil, err
	}

	// Default the node address to the local host on the active network and
	// add the default port if needed.
	if cfg.RPCConnect == "" {
		cfg.RPCConnect = defaultRPCHost
	}
	cfg.RPCConnect = normalizeAddress(cfg.RPCConnect, activeNetParams.rpcPort)
	cfg.RPCCert = cleanAndExpandPath(cfg.RPCCert)

	// The fee estimates live in the data directory unless told otherwise.
	if cfg.FeeFile == "" {
		cfg.FeeFile = filepath.Join(cfg.DataDir, defaultFeeFilename)
	}
	cfg.FeeFile = cleanAndExpandPath(cfg.FeeFile)

	// Parse the overlay keys to watch, dropping duplicates.
	seen := make(map[string]struct{}, len(cfg.Watch))
	for _, entry := range cfg.Watch {
		key, err := parseWatchKey(entry)
		if err != nil {
			err := fmt.Errorf("%s: %v", "loadConfig", err)
			fmt.Fprintln(os.Stderr, err)
			fmt.Fprintln(os.Stderr, usageMessage)
			return nil, nil, err
		}
		id := key.op.String() + ":" + string(key.key)
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		cfg.watchKeys = append(cfg.watchKeys, key)
	}
	sort.Slice(cfg.watchKeys, func(i, j int) bool {
		if cfg.watchKeys[i].op != cfg.watchKeys[j].op {
			return cfg.watchKeys[i].op < cfg.watchKeys[j].op
		}
		return string(cfg.watchKeys[i].key) < string(cfg.watchKeys[j].key)
	})

	// Warn about missing config file only after all other configuration is
	// done.  This prevents the warning on help messages and invalid
	// options.  Note this should go directly before the return.
	if configFileError != nil {
		silkLog.Warnf("%v", configFileError)
	}

	return &cfg, remainingArgs, nil
}
