package model

import (
	"time"

	"github.com/google/uuid"
)

type SettlementKind string

const (
	SettlementKindPayout SettlementKind = "payout" // выплата учителю
	SettlementKindRefund SettlementKind = "refund" // возврат студенту
)

type SettlementStatus string

const (
	SettlementStatusQueued     SettlementStatus = "queued"
	SettlementStatusProcessing SettlementStatus = "processing"
	SettlementStatusSettled    SettlementStatus = "settled"
	SettlementStatusFailed     SettlementStatus = "failed"
)

// IsTerminal reports whether the record will never be revisited.
func (s SettlementStatus) IsTerminal() bool {
	return s == SettlementStatusSettled || s == SettlementStatusFailed
}

// SettlementRecord is a payout or refund moving through the settlement queue.
type SettlementRecord struct {
	ID                  uuid.UUID        `json:"id"`
	Kind                SettlementKind   `json:"kind"`
	BeneficiaryID       int64            `json:"beneficiary_id"`
	LessonID            uuid.UUID        `json:"lesson_id"`
	AmountMinor         int64            `json:"amount_minor"`
	Currency            string           `json:"currency"`
	Provider            string           `json:"provider"`
	Status              SettlementStatus `json:"status"`
	Attempts            int              `json:"attempts"`
	LastError           string           `json:"last_error,omitempty"`
	CreatedAt           time.Time        `json:"created_at"`
	ProcessingStartedAt *time.Time       `json:"processing_started_at,omitempty"`
	SettledAt           *time.Time       `json:"settled_at,omitempty"`
	ProviderTxID        *string          `json:"provider_tx_id,omitempty"`
	ClaimedUntil        *time.Time       `json:"-"`
}

// Clone returns a copy that shares no pointers with the original.
func (r *SettlementRecord) Clone() *SettlementRecord {
	out := *r
	if r.ProcessingStartedAt != nil {
		t := *r.ProcessingStartedAt
		out.ProcessingStartedAt = &t
	}
	if r.SettledAt != nil {
		t := *r.SettledAt
		out.SettledAt = &t
	}
	if r.ProviderTxID != nil {
		s := *r.ProviderTxID
		out.ProviderTxID = &s
	}
	if r.ClaimedUntil != nil {
		t := *r.ClaimedUntil
		out.ClaimedUntil = &t
	}
	return &out
}

// DwellReached reports whether the record spent at least dwell in processing.
func (r *SettlementRecord) DwellReached(now time.Time, dwell time.Duration) bool {
	return r.Status == SettlementStatusProcessing &&
		r.ProcessingStartedAt != nil &&
		now.Sub(*r.ProcessingStartedAt) >= dwell
}

// SettlementOutcome is the final write for a processing record. It is applied only if
// the record is still processing with the same attempt count it was claimed with.
type SettlementOutcome struct {
	RecordID      uuid.UUID
	Attempts      int // attempt count observed when the record was claimed
	Status        SettlementStatus
	ProviderTxID  *string
	LastError     string
	At            time.Time
	Notifications []*Notification
}
