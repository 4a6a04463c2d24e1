package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Conflict records a deposit that matched more than one live receivable.
// It is kept for manual resolution; no deposit entry is written for it.
type Conflict struct {
	TransactionID string          `json:"transaction_id"`
	LocalAddress  string          `json:"local_address"`
	Amount        decimal.Decimal `json:"amount"`
	BlockHeight   uint64          `json:"block_height"`
	Candidates    []Entry         `json:"candidates"`
	DetectedAt    time.Time       `json:"detected_at"`
}

// EntryRecord bundles an entry with its position in the store's append order.
type EntryRecord struct {
	Index uint64
	Entry Entry
}
