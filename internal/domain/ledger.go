package domain

import (
	"errors"
	"fmt"
)

// ErrRefundExceedsBalance is returned when appending a refund would push the
// refunded total past the captured amount.
var ErrRefundExceedsBalance = errors.New("refund exceeds refundable balance")

// PaymentLedger tracks the captured charge and every refund issued against it
// for a card order. The refunded total never exceeds the captured amount.
type PaymentLedger struct {
	PaymentIntentID string
	CapturedAmount  Money
	Refundable      bool
	Refunds         []Refund
}

// RefundedAmount returns the sum of all recorded refunds.
func (l PaymentLedger) RefundedAmount() Money {
	var total Money
	for _, refund := range l.Refunds {
		total += refund.Amount
	}
	return total
}

// RefundableAmount returns the remaining balance available for refund.
func (l PaymentLedger) RefundableAmount() Money {
	return l.CapturedAmount - l.RefundedAmount()
}

// FullyRefunded reports whether the entire captured amount has been returned.
func (l PaymentLedger) FullyRefunded() bool {
	return l.RefundableAmount() == 0
}

// AppendRefund records a refund, rejecting any amount that would overdraw the
// captured balance.
func (l *PaymentLedger) AppendRefund(refund Refund) error {
	if refund.Amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrNegativeAmount)
	}
	if refund.Amount > l.RefundableAmount() {
		return fmt.Errorf("%w: requested %d, refundable %d",
			ErrRefundExceedsBalance, refund.Amount.Minor(), l.RefundableAmount().Minor())
	}
	l.Refunds = append(l.Refunds, refund)
	return nil
}

// FindRefund returns the recorded refund with the given id, if present.
func (l PaymentLedger) FindRefund(id string) (Refund, bool) {
	for _, refund := range l.Refunds {
		if refund.ID == id {
			return refund, true
		}
	}
	return Refund{}, false
}

// Clone returns a deep copy of the ledger.
func (l PaymentLedger) Clone() PaymentLedger {
	cloned := l
	if l.Refunds != nil {
		cloned.Refunds = append([]Refund(nil), l.Refunds...)
	}
	return cloned
}
