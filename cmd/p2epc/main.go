// Command p2epc runs the paying side of a pay-to-endpoint session: it dials
// a receiver, drives the exchange to completion, and prints the id of the
// transaction that was broadcast. Structured the same lndMain/main way as
// p2epd and the teacher's lnd.go so a parse error or protocol failure always
// exits non-zero.
package main

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	flags "github.com/jessevdk/go-flags"
	"golang.org/x/net/proxy"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"

	"github.com/pay2ep/p2ep/chain"
	"github.com/pay2ep/p2ep/chainrpc"
	"github.com/pay2ep/p2ep/config"
	"github.com/pay2ep/p2ep/p2eplog"
	"github.com/pay2ep/p2ep/sender"
	"github.com/pay2ep/p2ep/signer"
)

var log = p2eplog.Logger("P2PC")

func main() {
	if err := p2epcMain(); err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func p2epcMain() error {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		return err
	}

	p2eplog.SetLevelAll(p2eplog.ParseLevel(cfg.LogLevel))

	params, err := config.NetParams(cfg.Network)
	if err != nil {
		return err
	}

	baseTx, err := decodeTx(cfg.BaseTx)
	if err != nil {
		return fmt.Errorf("p2epc: --basetx: %w", err)
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

	keyring, err := baseTxKeyring(cfg.BaseTxPrivKeys, baseTx, chainClient, params)
	if err != nil {
		return fmt.Errorf("p2epc: --basetxprivkeys: %w", err)
	}

	opts := []sender.Option{
		sender.WithFrameTimeout(time.Duration(cfg.FrameTimeoutSeconds) * time.Second),
	}
	if cfg.UseTor {
		dialer, err := torDialer(cfg.TorControl)
		if err != nil {
			return fmt.Errorf("p2epc: --torcontrol: %w", err)
		}
		opts = append(opts, sender.WithDialer(dialer))
	}

	s := sender.New(cfg.PeerAddr, chainClient, keyring, baseTx, cfg.ReceiverOutputIndex, opts...)

	txid, err := s.Start()
	if err != nil {
		return err
	}

	log.Infof("broadcast txid=%s", txid)
	fmt.Println(txid)

	return nil
}

// torDialer builds a sender.Dialer that routes the connection through a
// local Tor SOCKS5 proxy, letting the sender reach a receiver's onion
// service (or just anonymize a clearnet connection) without the caller
// juggling net.Dial directly.
func torDialer(socksAddr string) (sender.Dialer, error) {
	d, err := proxy.SOCKS5("tcp", socksAddr, nil, proxy.Direct)
	if err != nil {
		return nil, err
	}
	return d.Dial, nil
}

func decodeTx(raw string) (*wire.MsgTx, error) {
	b, err := hex.DecodeString(raw)
	if err != nil {
		return nil, err
	}
	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(b)); err != nil {
		return nil, err
	}
	return tx, nil
}

// baseTxKeyring registers one WIF key per existing input of baseTx, in
// order, looking up each input's committed amount from the chain oracle so
// the keyring can reproduce its BIP-143 sighash for the proof-signing and
// final-signing stages alike.
func baseTxKeyring(wifList string, baseTx *wire.MsgTx, oracle chain.Oracle, params *chaincfg.Params) (*signer.Keyring, error) {
	keys := strings.Split(wifList, ",")
	if len(keys) != len(baseTx.TxIn) {
		return nil, fmt.Errorf("expected %d keys for %d inputs, got %d", len(baseTx.TxIn), len(baseTx.TxIn), len(keys))
	}

	keyring := signer.NewKeyring()

	for i, in := range baseTx.TxIn {
		priv, err := wifPrivKey(strings.TrimSpace(keys[i]), params)
		if err != nil {
			return nil, fmt.Errorf("key %d: %w", i, err)
		}

		var prevOut *wire.TxOut
		err = chain.Retry(3, 250*time.Millisecond, func() error {
			var err error
			prevOut, err = chain.PrevOut(oracle, in.PreviousOutPoint)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("input %d: %w", i, err)
		}

		keyring.AddUTXO(in.PreviousOutPoint, priv, btcutil.Amount(prevOut.Value))
	}

	return keyring, nil
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
