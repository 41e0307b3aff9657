package subscription

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/yllada/vpn-client/common"
)

// Purchase is one subscription purchase found in a receipt.
type Purchase struct {
	ProductID             string    `json:"product_id"`
	TransactionID         string    `json:"transaction_id"`
	OriginalTransactionID string    `json:"original_transaction_id,omitempty"`
	PurchaseDate          time.Time `json:"purchase_date"`
	ExpiresDate           time.Time `json:"expires_date"`
	IsInIntroOfferPeriod  bool      `json:"is_in_intro_offer_period,omitempty"`
}

// Receipt is the parsed content of an app receipt. Signature validation is
// out of scope; the receipt is trusted as read.
type Receipt struct {
	BundleID      string     `json:"bundle_id"`
	Subscriptions []Purchase `json:"subscriptions"`
}

// LatestExpiry returns the latest expiry over all purchases.
func (r *Receipt) LatestExpiry() (time.Time, bool) {
	if r == nil {
		return time.Time{}, false
	}
	var latest time.Time
	found := false
	for _, p := range r.Subscriptions {
		if p.ExpiresDate.IsZero() {
			continue
		}
		if !found || p.ExpiresDate.After(latest) {
			latest = p.ExpiresDate
			found = true
		}
	}
	return latest, found
}

// ReceiptSource fetches the current receipt. A nil receipt with a nil
// error means no receipt exists.
type ReceiptSource interface {
	Refresh(ctx context.Context) (*Receipt, error)
}

// FileReceiptSource reads a JSON receipt from disk.
type FileReceiptSource struct {
	Path string
}

// Refresh reads and parses the receipt file. A missing file is no receipt.
func (s FileReceiptSource) Refresh(ctx context.Context) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(common.ExpandHome(s.Path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read receipt: %w", err)
	}
	var r Receipt
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse receipt: %w", err)
	}
	return &r, nil
}
