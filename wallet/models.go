package wallet

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrAccountNotFound signals the wallet row does not exist.
	ErrAccountNotFound = errors.New("wallet: account not found")
	// ErrInsufficientFunds signals the balance does not cover the requested debit.
	ErrInsufficientFunds = errors.New("wallet: insufficient funds")
)

// Account is a custodial balance keyed by EVM address, denominated in the
// smallest currency unit.
type Account struct {
	Address   string
	Balance   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Entry is one signed leg of a fund movement. Entries for a given job sum to
// -amount while the escrow holds the funds and to zero once a terminal payout
// (release or refund) has executed.
type Entry struct {
	ID        int64
	JobID     *int64
	Account   string
	Delta     int64
	Kind      EntryKind
	CreatedAt time.Time
}

type EntryKind string

const (
	KindDeposit       EntryKind = "deposit"
	KindEscrowLock    EntryKind = "escrow_lock"
	KindEscrowRelease EntryKind = "escrow_release"
	KindEscrowRefund  EntryKind = "escrow_refund"
)

// NormalizeAddress validates a hex wallet address and returns its canonical
// lowercase form. All identities stored by the ledger go through this.
func NormalizeAddress(addr string) (string, error) {
	trimmed := strings.TrimSpace(addr)
	if !common.IsHexAddress(trimmed) {
		return "", fmt.Errorf("wallet: invalid address %q", addr)
	}
	return strings.ToLower(common.HexToAddress(trimmed).Hex()), nil
}
