package services

import (
	"errors"
	"fmt"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	domain "github.com/orderhub/api/internal/domain"
	"github.com/orderhub/api/internal/repositories"
)

var (
	// ErrFulfillmentInvalidInput signals the caller provided malformed data.
	ErrFulfillmentInvalidInput = errors.New("fulfillment: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("fulfillment: order not found")
	// ErrInvalidTransition indicates the command is not allowed from the order's current status.
	ErrInvalidTransition = errors.New("fulfillment: invalid status transition")
	// ErrTerminalState indicates the order accepts no further commands.
	ErrTerminalState = errors.New("fulfillment: order is in a terminal state")
	// ErrNotRefundable indicates the payment instrument no longer supports refunds.
	ErrNotRefundable = errors.New("fulfillment: payment is not refundable")
	// ErrAmountExceedsBalance indicates a refund request larger than the refundable balance.
	ErrAmountExceedsBalance = errors.New("fulfillment: amount exceeds refundable balance")
	// ErrUnsupportedOperation indicates a payment operation the order's payment method cannot support.
	ErrUnsupportedOperation = errors.New("fulfillment: unsupported operation")
	// ErrConcurrencyConflict indicates a concurrent mutation was detected; callers should re-read and retry.
	ErrConcurrencyConflict = errors.New("fulfillment: concurrent modification detected")
)

// BalanceError carries the numbers a caller needs to render an over-refund
// rejection without re-querying the ledger. Amounts are minor units.
type BalanceError struct {
	OrderID    string
	Currency   string
	Requested  int64
	Refundable int64
}

func (e *BalanceError) Error() string {
	return fmt.Sprintf("%v: order %s: requested %d, max %s",
		ErrAmountExceedsBalance, e.OrderID, e.Requested, formatMinorAmount(e.Currency, e.Refundable))
}

func (e *BalanceError) Unwrap() error {
	return ErrAmountExceedsBalance
}

var amountPrinter = message.NewPrinter(language.English)

// formatMinorAmount renders a minor-unit amount with its currency symbol,
// falling back to the raw value for unknown ISO codes.
func formatMinorAmount(code string, minor int64) string {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return fmt.Sprintf("%d", minor)
	}
	units, cents := domain.Money(minor).Major()
	return amountPrinter.Sprintf("%v", currency.Symbol(unit.Amount(float64(units)+float64(cents)/100)))
}

// mapRepositoryError translates persistence failures into the service taxonomy.
func mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrConcurrencyConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("fulfillment: repository unavailable: %w", err)
		}
	}

	return err
}
