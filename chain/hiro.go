package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/ziflex/lecho/v3"
)

const defaultHiroTolerance = 100_000 // micro-units

// HiroObserver reads the Stacks ledger through the Hiro REST API. All
// invoices share the escrow address, so a transfer is attributed purely by
// amount; the unique tx_hash column keeps one transfer from settling two
// invoices.
type HiroObserver struct {
	baseURL       string
	escrowAddress string
	window        int
	tolerance     int64
	httpClient    *http.Client
	logger        *lecho.Logger
}

type hiroTransferTx struct {
	TxID          string `json:"tx_id"`
	TxStatus      string `json:"tx_status"`
	TxType        string `json:"tx_type"`
	BlockHeight   int64  `json:"block_height"`
	TokenTransfer *struct {
		RecipientAddress string `json:"recipient_address"`
		Amount           string `json:"amount"`
	} `json:"token_transfer,omitempty"`
}

type hiroAddressTransactions struct {
	Results []hiroTransferTx `json:"results"`
}

type hiroInfo struct {
	StacksTipHeight int64 `json:"stacks_tip_height"`
}

func NewHiroObserver(c *Config, logger *lecho.Logger) (*HiroObserver, error) {
	if c.HiroEscrowAddress == "" {
		return nil, fmt.Errorf("HIRO_ESCROW_ADDRESS is required for the hiro backend")
	}
	if _, err := url.Parse(c.HiroAPIUrl); err != nil {
		return nil, fmt.Errorf("invalid HIRO_API_URL: %w", err)
	}
	tolerance := c.AmountTolerance
	if tolerance <= 0 {
		tolerance = defaultHiroTolerance
	}
	window := c.ActivityWindow
	if window <= 0 {
		window = 20
	}
	return &HiroObserver{
		baseURL:       strings.TrimRight(c.HiroAPIUrl, "/"),
		escrowAddress: c.HiroEscrowAddress,
		window:        window,
		tolerance:     tolerance,
		httpClient:    &http.Client{Timeout: c.RequestTimeout()},
		logger:        logger,
	}, nil
}

func (h *HiroObserver) getJSON(ctx context.Context, op, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := h.httpClient.Do(req)
	if err != nil {
		return &TransientError{Op: op, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &TransientError{Op: op, Err: fmt.Errorf("status %d: %s", resp.StatusCode, body)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &TransientError{Op: op, Err: fmt.Errorf("decoding response: %w", err)}
	}
	return nil
}

func (h *HiroObserver) FindIncomingPayment(ctx context.Context, address string, expectedAmount int64) (IncomingPayment, error) {
	txs := hiroAddressTransactions{}
	path := fmt.Sprintf("/extended/v1/address/%s/transactions?limit=%d", url.PathEscape(address), h.window)
	if err := h.getJSON(ctx, "address transactions", path, &txs); err != nil {
		return IncomingPayment{}, err
	}
	for _, tx := range txs.Results {
		if tx.TxStatus != "success" || tx.TxType != "token_transfer" || tx.TokenTransfer == nil {
			continue
		}
		if tx.TokenTransfer.RecipientAddress != "" && tx.TokenTransfer.RecipientAddress != address {
			continue
		}
		amount, err := strconv.ParseInt(tx.TokenTransfer.Amount, 10, 64)
		if err != nil {
			h.logger.Warnf("hiro: skipping transfer %s with unreadable amount %q", tx.TxID, tx.TokenTransfer.Amount)
			continue
		}
		if withinTolerance(amount, expectedAmount, h.tolerance) {
			return IncomingPayment{Found: true, TxRef: tx.TxID, Amount: amount}, nil
		}
	}
	return IncomingPayment{}, nil
}

func (h *HiroObserver) GetConfirmationDepth(ctx context.Context, txRef string) (TxStatus, error) {
	tx := hiroTransferTx{}
	if err := h.getJSON(ctx, "transaction", "/extended/v1/tx/"+url.PathEscape(txRef), &tx); err != nil {
		return TxStatus{}, err
	}
	if tx.TxStatus != "success" || tx.BlockHeight <= 0 {
		return TxStatus{Raw: tx.TxStatus}, nil
	}
	info := hiroInfo{}
	if err := h.getJSON(ctx, "chain tip", "/v2/info", &info); err != nil {
		return TxStatus{}, err
	}
	return TxStatus{
		Confirmations: Depth(info.StacksTipHeight, tx.BlockHeight),
		Raw:           tx.TxStatus,
	}, nil
}

// ReleaseFunds needs a contract call signed with the escrow key, which this
// service does not hold.
func (h *HiroObserver) ReleaseFunds(ctx context.Context, invoiceID, destination string, amount int64) (string, error) {
	return "", &BroadcastError{InvoiceID: invoiceID, Err: ErrReleaseUnsupported}
}

func (h *HiroObserver) NewAddress(ctx context.Context, invoiceID string) (string, error) {
	return h.escrowAddress, nil
}

func (h *HiroObserver) Close() {}
