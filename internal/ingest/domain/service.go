// Package domain defines the intake surface for on-chain events. The chain
// indexer delivers logs at-least-once and may re-deliver after a reorg, so
// everything here is keyed on (tx_hash, log_index).
package domain

import (
	"context"
	"errors"

	chaineventdomain "github.com/permipay/permipay/internal/chainevent/domain"
)

// Contract event names as emitted on chain.
const (
	EventPermissionGranted = "PermissionGranted"
	EventServiceExecuted   = "ServiceExecuted"
	EventPermissionRevoked = "PermissionRevoked"
)

// RawLog is one decoded contract log as delivered by the indexer. Which
// value fields are meaningful depends on Event; Normalize validates the
// combination.
type RawLog struct {
	Event       string `json:"event"`
	TxHash      string `json:"tx_hash"`
	LogIndex    uint32 `json:"log_index"`
	BlockNumber uint64 `json:"block_number"`
	Timestamp   int64  `json:"timestamp"`

	User            string `json:"user"`
	SpendingLimit   string `json:"spending_limit,omitempty"`
	ExpiresAt       int64  `json:"expires_at,omitempty"`
	ServiceType     *int64 `json:"service_type,omitempty"`
	Cost            string `json:"cost,omitempty"`
	RemainingBudget string `json:"remaining_budget,omitempty"`
}

type AcceptResponse struct {
	EventID  string `json:"event_id"`
	Accepted bool   `json:"accepted"`
}

type Service interface {
	// Accept normalizes and persists one raw log. Redelivery of an already
	// stored (tx_hash, log_index) returns the existing row with
	// accepted=false; a malformed log is rejected before anything is written.
	Accept(ctx context.Context, raw RawLog) (*AcceptResponse, error)

	// ProcessPending applies every stored-but-unapplied event in
	// (block_number, log_index) order, one transaction per event. It returns
	// the number of events it settled, counting business rejections that
	// were recorded on the row.
	ProcessPending(ctx context.Context) (int, error)

	// Unwind discards events at or above fromBlock, resets every derived
	// projection and replays the surviving log.
	Unwind(ctx context.Context, fromBlock uint64) error
}

// Normalizer turns a raw log into a canonical event without touching storage.
type Normalizer interface {
	Normalize(raw RawLog) (*chaineventdomain.ChainEvent, error)
}

var (
	ErrUnknownEvent   = errors.New("unknown_event")
	ErrMalformedEvent = errors.New("malformed_event")
)
