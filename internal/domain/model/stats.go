package model

import "time"

// LedgerStats summarises ledger rows created since Since.
type LedgerStats struct {
	Since              time.Time
	ByStatus           map[PaymentStatus]int
	PossibleDuplicates int
	UnappliedSuccess   int
	// SettledByPurpose sums the settlement amount of success rows.
	SettledByPurpose map[Purpose]int64
}

func NewLedgerStats(since time.Time) *LedgerStats {
	return &LedgerStats{
		Since:            since,
		ByStatus:         map[PaymentStatus]int{},
		SettledByPurpose: map[Purpose]int64{},
	}
}

func (s *LedgerStats) Total() int {
	n := 0
	for _, c := range s.ByStatus {
		n += c
	}
	return n
}
