package chain

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/ziflex/lecho/v3"
)

const (
	defaultBitcoindTolerance = 1 // sat

	// upper bound on listtransactions pages read while collecting the
	// window of an address
	maxWindowPages = 50
)

// walletRPC is the subset of the bitcoind wallet RPC the observer needs.
// *rpcclient.Client satisfies it.
type walletRPC interface {
	ListTransactionsCountFrom(account string, count, from int) ([]btcjson.ListTransactionsResult, error)
	GetAddressInfo(address string) (*btcjson.GetAddressInfoResult, error)
	GetTransaction(txHash *chainhash.Hash) (*btcjson.GetTransactionResult, error)
	GetBlockHeaderVerbose(blockHash *chainhash.Hash) (*btcjson.GetBlockHeaderVerboseResult, error)
	GetBlockCount() (int64, error)
	SendToAddress(address btcutil.Address, amount btcutil.Amount) (*chainhash.Hash, error)
	GetNewAddress(account string) (btcutil.Address, error)
}

// BitcoindObserver watches a Bitcoin Core wallet. Every invoice gets its own
// wallet address, so amount matching only guards against underpayment.
type BitcoindObserver struct {
	rpc       walletRPC
	client    *rpcclient.Client
	params    *chaincfg.Params
	window    int
	tolerance int64
	logger    *lecho.Logger
}

func NetworkParams(network string) (*chaincfg.Params, error) {
	switch network {
	case "mainnet", "":
		return &chaincfg.MainNetParams, nil
	case "testnet3", "testnet":
		return &chaincfg.TestNet3Params, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	}
	return nil, fmt.Errorf("unknown bitcoin network %q", network)
}

func NewBitcoindObserver(c *Config, logger *lecho.Logger) (*BitcoindObserver, error) {
	if c.BitcoindUser == "" || c.BitcoindPass == "" {
		return nil, fmt.Errorf("BITCOIND_USER and BITCOIND_PASS are required for the bitcoind backend")
	}
	params, err := NetworkParams(c.BitcoindNetwork)
	if err != nil {
		return nil, err
	}
	client, err := rpcclient.New(&rpcclient.ConnConfig{
		Host:         c.BitcoindHost,
		User:         c.BitcoindUser,
		Pass:         c.BitcoindPass,
		HTTPPostMode: true,
		DisableTLS:   !c.BitcoindTLS,
	}, nil)
	if err != nil {
		return nil, err
	}
	observer := newBitcoindObserver(client, params, c, logger)
	observer.client = client
	return observer, nil
}

func newBitcoindObserver(rpc walletRPC, params *chaincfg.Params, c *Config, logger *lecho.Logger) *BitcoindObserver {
	tolerance := c.AmountTolerance
	if tolerance <= 0 {
		tolerance = defaultBitcoindTolerance
	}
	window := c.ActivityWindow
	if window <= 0 {
		window = 20
	}
	return &BitcoindObserver{
		rpc:       rpc,
		params:    params,
		window:    window,
		tolerance: tolerance,
		logger:    logger,
	}
}

func (b *BitcoindObserver) FindIncomingPayment(ctx context.Context, address string, expectedAmount int64) (IncomingPayment, error) {
	entries, err := b.addressWindow(ctx, address)
	if err != nil {
		return IncomingPayment{}, err
	}
	for _, entry := range entries {
		if entry.Category != "receive" || entry.Abandoned || entry.Confirmations < 0 {
			continue
		}
		amount, err := btcutil.NewAmount(entry.Amount)
		if err != nil {
			b.logger.Warnf("bitcoind: skipping entry %s with unreadable amount %v: %v", entry.TxID, entry.Amount, err)
			continue
		}
		if withinTolerance(int64(amount), expectedAmount, b.tolerance) {
			return IncomingPayment{Found: true, TxRef: entry.TxID, Amount: int64(amount)}, nil
		}
	}
	return IncomingPayment{}, nil
}

// addressWindow returns up to b.window of the most recent wallet entries for
// address. Invoice addresses carry the invoice id as label, which scopes
// listtransactions to them; unlabelled addresses fall back to paging through
// the whole wallet.
func (b *BitcoindObserver) addressWindow(ctx context.Context, address string) ([]btcjson.ListTransactionsResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	info, err := b.rpc.GetAddressInfo(address)
	if err != nil {
		return nil, &TransientError{Op: "getaddressinfo", Err: err}
	}
	account := "*"
	if len(info.Labels) > 0 && info.Labels[0] != "" {
		account = info.Labels[0]
	}

	window := []btcjson.ListTransactionsResult{}
	for page := 0; page < maxWindowPages; page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entries, err := b.rpc.ListTransactionsCountFrom(account, b.window, page*b.window)
		if err != nil {
			return nil, &TransientError{Op: "listtransactions", Err: err}
		}
		// each page is oldest first, walk it newest first
		for i := len(entries) - 1; i >= 0; i-- {
			if entries[i].Address != address {
				continue
			}
			window = append(window, entries[i])
			if len(window) == b.window {
				return window, nil
			}
		}
		if len(entries) < b.window {
			break
		}
	}
	return window, nil
}

func (b *BitcoindObserver) GetConfirmationDepth(ctx context.Context, txRef string) (TxStatus, error) {
	if err := ctx.Err(); err != nil {
		return TxStatus{}, err
	}
	hash, err := chainhash.NewHashFromStr(txRef)
	if err != nil {
		return TxStatus{}, fmt.Errorf("invalid tx reference %q: %w", txRef, err)
	}
	tx, err := b.rpc.GetTransaction(hash)
	if err != nil {
		return TxStatus{}, &TransientError{Op: "gettransaction", Err: err}
	}
	if tx.BlockHash == "" {
		return TxStatus{Raw: "mempool"}, nil
	}
	blockHash, err := chainhash.NewHashFromStr(tx.BlockHash)
	if err != nil {
		return TxStatus{}, fmt.Errorf("invalid block hash %q: %w", tx.BlockHash, err)
	}
	header, err := b.rpc.GetBlockHeaderVerbose(blockHash)
	if err != nil {
		return TxStatus{}, &TransientError{Op: "getblockheader", Err: err}
	}
	tip, err := b.rpc.GetBlockCount()
	if err != nil {
		return TxStatus{}, &TransientError{Op: "getblockcount", Err: err}
	}
	return TxStatus{
		Confirmations: Depth(tip, int64(header.Height)),
		Raw:           "confirmed",
	}, nil
}

func (b *BitcoindObserver) ReleaseFunds(ctx context.Context, invoiceID, destination string, amount int64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	addr, err := btcutil.DecodeAddress(destination, b.params)
	if err != nil {
		return "", &BroadcastError{InvoiceID: invoiceID, Err: fmt.Errorf("invalid destination %q: %w", destination, err)}
	}
	hash, err := b.rpc.SendToAddress(addr, btcutil.Amount(amount))
	if err != nil {
		return "", &BroadcastError{InvoiceID: invoiceID, Err: err}
	}
	b.logger.Infof("bitcoind: released %d sat for invoice %s in %s", amount, invoiceID, hash.String())
	return hash.String(), nil
}

func (b *BitcoindObserver) NewAddress(ctx context.Context, invoiceID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	// the invoice id doubles as the wallet label
	addr, err := b.rpc.GetNewAddress(invoiceID)
	if err != nil {
		return "", &TransientError{Op: "getnewaddress", Err: err}
	}
	return addr.EncodeAddress(), nil
}

func (b *BitcoindObserver) Close() {
	if b.client != nil {
		b.client.Shutdown()
	}
}
