// Command p2epd runs the payee side of a pay-to-endpoint session: it binds
// a listener, prints the payment URI a sender needs, and waits for exactly
// one session to complete before exiting, mirroring lnd.go's lndMain/main
// split so deferred cleanup always runs even on early return.
package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	flags "github.com/jessevdk/go-flags"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/pay2ep/p2ep/chain"
	"github.com/pay2ep/p2ep/chainrpc"
	"github.com/pay2ep/p2ep/config"
	"github.com/pay2ep/p2ep/p2eplog"
	"github.com/pay2ep/p2ep/receiver"
	"github.com/pay2ep/p2ep/signer"
)

var log = p2eplog.Logger("P2PD")

func main() {
	if err := p2epdMain(); err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func p2epdMain() error {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		return err
	}

	p2eplog.SetLevelAll(p2eplog.ParseLevel(cfg.LogLevel))

	params, err := config.NetParams(cfg.Network)
	if err != nil {
		return err
	}

	outpoint, err := parseOutpoint(cfg.UTXO)
	if err != nil {
		return fmt.Errorf("p2epd: --utxo: %w", err)
	}

	expectedScript, err := hex.DecodeString(cfg.ExpectedScript)
	if err != nil {
		return fmt.Errorf("p2epd: --expectedscript: %w", err)
	}

	chainClient, err := chainrpc.New(chainrpc.ConnConfig{
		Host:       cfg.RPCHost,
		User:       cfg.RPCUser,
		Pass:       cfg.RPCPass,
		CertPath:   cfg.RPCCert,
		DisableTLS: cfg.RPCCert == "",
	})
	if err != nil {
		return err
	}
	defer chainClient.Shutdown()

	// A freshly-started backend may still be finishing its own startup
	// (index load, wallet rescan) when p2epd dials it; give it a few
	// chances before giving up on what might be a transient failure.
	unspentErr := chain.Retry(5, 500*time.Millisecond, func() error {
		unspent, err := chainClient.IsUnspent(outpoint)
		if err != nil {
			return err
		}
		if !unspent {
			return fmt.Errorf("--utxo %s is already spent", cfg.UTXO)
		}
		return nil
	})
	if unspentErr != nil {
		return fmt.Errorf("p2epd: --utxo: %w", unspentErr)
	}

	priv, err := wifPrivKey(cfg.UTXOPrivKey, params)
	if err != nil {
		return fmt.Errorf("p2epd: --utxoprivkey: %w", err)
	}

	keyring := signer.NewKeyring()
	keyring.AddUTXO(outpoint, priv, btcutil.Amount(cfg.UTXOAmount))

	recv := receiver.New(cfg.BindAddr, chainClient, keyring, outpoint, expectedScript, btcutil.Amount(cfg.ExpectedAmount))

	uri, err := recv.Setup(params)
	if err != nil {
		return err
	}
	fmt.Println(uri)

	if err := recv.Mainloop(cfg.RNGSeed); err != nil {
		return err
	}

	log.Infof("session complete, shutting down")

	return nil
}

func parseOutpoint(s string) (wire.OutPoint, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return wire.OutPoint{}, fmt.Errorf("expected txid:vout, got %q", s)
	}
	hash, err := chainhash.NewHashFromStr(parts[0])
	if err != nil {
		return wire.OutPoint{}, fmt.Errorf("invalid txid %q: %w", parts[0], err)
	}
	vout, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return wire.OutPoint{}, fmt.Errorf("invalid vout %q: %w", parts[1], err)
	}
	return wire.OutPoint{Hash: *hash, Index: uint32(vout)}, nil
}

func wifPrivKey(wif string, params *chaincfg.Params) (*btcec.PrivateKey, error) {
	decoded, err := btcutil.DecodeWIF(wif)
	if err != nil {
		return nil, err
	}
	if !decoded.IsForNet(params) {
		return nil, fmt.Errorf("key is not for network %s", params.Name)
	}
	return decoded.PrivKey, nil
}
