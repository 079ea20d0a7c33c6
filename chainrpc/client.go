// Package chainrpc implements chain.Oracle against a running btcd (or
// btcd-compatible) full node over RPC, grounded on the
// rpcclient.ConnConfig wiring of the teacher's chainregistry.go
// (newChainControlFromConfig's btcd branch) and rpcclient.Client call
// patterns drawn from the pack's other RPC-backed wallets.
package chainrpc

import (
	"fmt"
	"io/ioutil"
	"os"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"

	"github.com/pay2ep/p2ep/chain"
	"github.com/pay2ep/p2ep/signer"
)

// ConnConfig names what's needed to dial a btcd RPC endpoint, trimmed down
// from btcrpcclient.ConnConfig's fuller surface to the fields this core
// actually sets.
type ConnConfig struct {
	Host       string
	User       string
	Pass       string
	RawCert    []byte
	CertPath   string
	DisableTLS bool
}

// Client is a chain.Oracle backed by a live btcd node.
type Client struct {
	rpc *rpcclient.Client
}

var _ chain.Oracle = (*Client)(nil)

// New dials the RPC endpoint described by cfg, exactly as lnd.go reads
// homeChainConfig.RawRPCCert/RPCCert before building its own ConnConfig.
func New(cfg ConnConfig) (*Client, error) {
	cert := cfg.RawCert
	if cert == nil && !cfg.DisableTLS {
		var err error
		cert, err = readCertFile(cfg.CertPath)
		if err != nil {
			return nil, err
		}
	}

	connCfg := &rpcclient.ConnConfig{
		Host:         cfg.Host,
		User:         cfg.User,
		Pass:         cfg.Pass,
		Certificates: cert,
		DisableTLS:   cfg.DisableTLS,
		HTTPPostMode: true,
	}

	rpc, err := rpcclient.New(connCfg, nil)
	if err != nil {
		return nil, fmt.Errorf("chainrpc: dial %s: %w", cfg.Host, err)
	}

	return &Client{rpc: rpc}, nil
}

func readCertFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ioutil.ReadAll(f)
}

// Shutdown tears down the underlying RPC connection.
func (c *Client) Shutdown() {
	c.rpc.Shutdown()
}

// GetTx implements chain.Oracle.
func (c *Client) GetTx(txid *chainhash.Hash) (*wire.MsgTx, error) {
	tx, err := c.rpc.GetRawTransaction(txid)
	if err != nil {
		return nil, fmt.Errorf("chainrpc: get tx %s: %w", txid, err)
	}
	return tx.MsgTx(), nil
}

// IsUnspent implements chain.Oracle via gettxout, which btcd returns nil
// for once an output has been spent (optionally still in the mempool).
func (c *Client) IsUnspent(outpoint wire.OutPoint) (bool, error) {
	out, err := c.rpc.GetTxOut(&outpoint.Hash, outpoint.Index, true)
	if err != nil {
		return false, fmt.Errorf("chainrpc: gettxout %v: %w", outpoint, err)
	}
	return out != nil, nil
}

// Broadcast implements chain.Oracle.
func (c *Client) Broadcast(tx *wire.MsgTx) (*chainhash.Hash, error) {
	txid, err := c.rpc.SendRawTransaction(tx, false)
	if err != nil {
		return nil, fmt.Errorf("chainrpc: broadcast: %w", err)
	}
	return txid, nil
}

// PickDecoys implements chain.Oracle per §4.1: starting from seed, walk
// backwards through its ancestor transactions, and at each hop collect the
// unspent v0-P2WPKH outputs of the parent transactions, until count
// candidates are gathered or the reachable ancestors run out. A coinbase
// ancestor ends its own branch of the walk; the other branches continue.
// rngSeed fixes how many sibling outputs of each visited ancestor are
// sampled, keeping the walk deterministic for tests.
func (c *Client) PickDecoys(seed wire.OutPoint, rngSeed int64, count int) ([]wire.OutPoint, error) {
	rng := chain.NewRand(rngSeed)

	if _, err := c.GetTx(&seed.Hash); err != nil {
		return nil, fmt.Errorf("chainrpc: pick decoys: lookup seed: %w", err)
	}

	var (
		candidates []wire.OutPoint
		seen       = map[wire.OutPoint]bool{seed: true}
		frontier   = []chainhash.Hash{seed.Hash}
	)

	for len(candidates) < count && len(frontier) > 0 {
		txid := frontier[0]
		frontier = frontier[1:]

		tx, err := c.GetTx(&txid)
		if err != nil {
			continue
		}
		if isCoinbase(tx) {
			continue
		}

		for _, in := range tx.TxIn {
			prevTx, err := c.GetTx(&in.PreviousOutPoint.Hash)
			if err != nil {
				continue
			}

			branch := 1 + rng.Intn(3)
			sampled := 0
			for vout, out := range prevTx.TxOut {
				if sampled >= branch || len(candidates) >= count {
					break
				}
				if !signer.IsP2WKH(out.PkScript) {
					continue
				}

				candidateOutpoint := wire.OutPoint{Hash: in.PreviousOutPoint.Hash, Index: uint32(vout)}
				if seen[candidateOutpoint] {
					continue
				}
				seen[candidateOutpoint] = true

				unspent, err := c.IsUnspent(candidateOutpoint)
				if err != nil || !unspent {
					continue
				}

				candidates = append(candidates, candidateOutpoint)
				sampled++
			}

			frontier = append(frontier, in.PreviousOutPoint.Hash)
		}
	}

	if len(candidates) > count {
		candidates = candidates[:count]
	}

	return candidates, nil
}

func isCoinbase(tx *wire.MsgTx) bool {
	var zero chainhash.Hash
	return len(tx.TxIn) == 1 &&
		tx.TxIn[0].PreviousOutPoint.Index == wire.MaxPrevOutIndex &&
		tx.TxIn[0].PreviousOutPoint.Hash == zero
}
