package models

import "time"

// Payment status values stored in the sessions table and the journal.
const (
	StatusUnpaid = 0
	StatusPaid   = 1
)

// Session represents one parked-vehicle visit from entry to paid exit.
type Session struct {
	ID               int64      `db:"id" json:"id"`
	PlateNumber      string     `db:"plate_number" json:"plate_number"`
	EntryTime        time.Time  `db:"entry_time" json:"entry_time"`
	ExitTime         *time.Time `db:"exit_time" json:"exit_time,omitempty"`
	PaymentStatus    int        `db:"payment_status" json:"payment_status"`
	PaymentAmount    *int64     `db:"payment_amount" json:"payment_amount,omitempty"`
	PaymentTime      *time.Time `db:"payment_time" json:"payment_time,omitempty"`
	UnauthorizedExit bool       `db:"is_unauthorized_exit" json:"is_unauthorized_exit"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
}

// Open reports whether the vehicle is still inside the lot.
func (s *Session) Open() bool {
	return s.ExitTime == nil
}

// Paid reports whether the session has been settled.
func (s *Session) Paid() bool {
	return s.PaymentStatus == StatusPaid
}
