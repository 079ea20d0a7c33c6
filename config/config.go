// Package config defines the daemon/CLI configuration surface, parsed with
// go-flags in the same style as the teacher's own cfg/loadConfig split
// (lnd.go's package-level cfg plus a loadConfig entry point), generalized
// here to the narrower surface a single sender or receiver session needs:
// network selection, peer address, RPC backend credentials, and logging.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"

	flags "github.com/jessevdk/go-flags"

	"github.com/btcsuite/btcd/chaincfg"
)

const (
	defaultFrameTimeoutSeconds = 10
	defaultRPCPort             = "8332"
	defaultLogLevel            = "info"
)

// Config is the full set of flags either cmd/p2epd or cmd/p2epc accepts.
// Both binaries embed the same struct and simply ignore the fields their
// role doesn't use, matching the teacher's practice of one shared config
// type across chain-backed binaries.
type Config struct {
	Network string `long:"network" description:"one of mainnet, testnet3, regtest, signet" default:"testnet3"`

	PeerAddr string `long:"peeraddr" description:"receiver's host:port (sender) or onion service (sender, via --tor)"`
	BindAddr string `long:"bindaddr" description:"address to listen on (receiver)" default:"0.0.0.0:9735"`

	FrameTimeoutSeconds int `long:"frametimeout" description:"per-frame read timeout in seconds" default:"10"`

	RPCHost string `long:"rpchost" description:"chain backend RPC host:port"`
	RPCUser string `long:"rpcuser" description:"chain backend RPC username"`
	RPCPass string `long:"rpcpass" description:"chain backend RPC password"`
	RPCCert string `long:"rpccert" description:"path to the chain backend's TLS certificate"`

	UseTor     bool   `long:"tor" description:"dial the receiver through a local Tor SOCKS5 proxy"`
	TorControl string `long:"torcontrol" description:"Tor SOCKS5 proxy address" default:"127.0.0.1:9050"`

	LogLevel string `long:"loglevel" description:"debug, info, warn, error" default:"info"`

	DataDir string `long:"datadir" description:"base directory for logs"`

	// Receiver-only flags.
	UTXO           string `long:"utxo" description:"receiver's candidate outpoint, txid:vout"`
	UTXOPrivKey    string `long:"utxoprivkey" description:"WIF-encoded private key spending --utxo"`
	UTXOAmount     int64  `long:"utxoamount" description:"value of --utxo, in satoshis"`
	ExpectedScript string `long:"expectedscript" description:"hex-encoded P2WPKH scriptPubKey to collect payment to"`
	ExpectedAmount int64  `long:"expectedamount" description:"payment amount to collect, in satoshis"`
	RNGSeed        int64  `long:"rngseed" description:"seed for the decoy walk and candidate-position draw"`

	// Sender-only flags.
	BaseTx              string `long:"basetx" description:"hex-encoded unsigned funding transaction"`
	ReceiverOutputIndex int    `long:"receiveroutputindex" description:"index of basetx's output paying the receiver"`
	BaseTxPrivKeys      string `long:"basetxprivkeys" description:"comma-separated WIF keys spending basetx's existing inputs, in order"`
}

// Default returns a Config with every flag at its documented default,
// mirroring the defaultCfg pattern lnd.go builds up before handing it to
// the flags parser.
func Default() Config {
	return Config{
		Network:             "testnet3",
		BindAddr:            "0.0.0.0:9735",
		FrameTimeoutSeconds: defaultFrameTimeoutSeconds,
		RPCCert:             "",
		TorControl:          "127.0.0.1:9050",
		LogLevel:            defaultLogLevel,
		DataDir:             defaultDataDir(),
	}
}

// Load parses args (typically os.Args[1:]) over Default(), then validates
// the result. A flags.ErrHelp is returned unmodified so callers can print
// usage and exit zero, matching lndMain's handling of it.
func Load(args []string) (*Config, error) {
	cfg := Default()

	parser := flags.NewParser(&cfg, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects a Config that can't be used to start a session.
func Validate(cfg *Config) error {
	if _, err := NetParams(cfg.Network); err != nil {
		return err
	}
	if cfg.BindAddr != "" {
		if _, _, err := net.SplitHostPort(cfg.BindAddr); err != nil {
			return fmt.Errorf("config: invalid bindaddr %q: %w", cfg.BindAddr, err)
		}
	}
	if cfg.FrameTimeoutSeconds <= 0 {
		return fmt.Errorf("config: frametimeout must be > 0")
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: invalid loglevel %q", cfg.LogLevel)
	}
	return nil
}

// NetParams resolves the --network flag to btcd chain parameters, the way
// lnd.go's activeNetParams selection works off the parsed chain name.
func NetParams(network string) (*chaincfg.Params, error) {
	switch network {
	case "mainnet":
		return &chaincfg.MainNetParams, nil
	case "testnet3":
		return &chaincfg.TestNet3Params, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	default:
		return nil, fmt.Errorf("config: unknown network %q", network)
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".p2ep"
	}
	return filepath.Join(home, ".p2ep")
}
