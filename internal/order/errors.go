package order

import (
	"errors"
	"fmt"
)

var ErrOrderNotFound = errors.New("order not found")

const (
	CodeEmptyCart             = "EMPTY_CART"
	CodeInvalidQuantity       = "INVALID_QUANTITY"
	CodeInvalidCustomer       = "INVALID_CUSTOMER"
	CodeUnknownTicket         = "UNKNOWN_TICKET"
	CodeUnknownOption         = "UNKNOWN_OPTION"
	CodeMinQuantity           = "MIN_QUANTITY"
	CodeInvalidPaymentMethod  = "INVALID_PAYMENT_METHOD"
	CodeOrderNotPayable       = "ORDER_NOT_PAYABLE"
	CodePaymentAlreadyStarted = "PAYMENT_ALREADY_STARTED"
	CodeNotRefundable         = "NOT_REFUNDABLE"
	CodeNotSettled            = "NOT_SETTLED"
	CodeInvalidTransition     = "INVALID_TRANSITION"
)

// ValidationError is bad input or a request the order's state does not
// allow. It never leaves a persistent side effect.
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func validation(code, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// PersistenceError is a failed store write. Multi-step writes are rolled
// back before it is returned.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func IsValidationError(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
