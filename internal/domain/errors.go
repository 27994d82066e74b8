package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrExpired          = errors.New("opportunity expired")
	ErrUnprofitable     = errors.New("estimated profit below minimum")
	ErrFeeTooHigh       = errors.New("observed fee above caller maximum")
	ErrRelayNotReady    = errors.New("relay not ready")
	ErrMissingMetadata  = errors.New("required token or pool metadata missing")
	ErrConcurrencyLimit = errors.New("concurrency limit reached")
	ErrBundleNotFound   = errors.New("bundle not found")
	ErrBundleTerminal   = errors.New("bundle already terminal")
	ErrMonitorTimeout   = errors.New("monitoring window elapsed with unknown outcome")
	ErrContextDone      = errors.New("context cancelled")
)

// BundleErrorClass partitions bundle construction/submission failures for the
// orchestrator's recovery procedure: fee and slippage classes are retried with
// adjusted parameters, everything else is terminal.
type BundleErrorClass string

const (
	BundleErrFee      BundleErrorClass = "fee"
	BundleErrSlippage BundleErrorClass = "slippage"
	BundleErrOther    BundleErrorClass = "other"
)

// BundleError is a classified relay failure.
type BundleError struct {
	Class BundleErrorClass
	Msg   string
}

func (e *BundleError) Error() string {
	return fmt.Sprintf("bundle error (%s): %s", e.Class, e.Msg)
}

// NewBundleError builds a BundleError with the given class.
func NewBundleError(class BundleErrorClass, format string, args ...any) *BundleError {
	return &BundleError{Class: class, Msg: fmt.Sprintf(format, args...)}
}

// ClassifyBundleError extracts the class of err. Unclassified errors map to
// BundleErrOther; a crude substring scan catches relay error strings that were
// not produced by this process (e.g. JSON-RPC revert reasons).
func ClassifyBundleError(err error) BundleErrorClass {
	var be *BundleError
	if errors.As(err, &be) {
		return be.Class
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "underpriced"),
		strings.Contains(msg, "max fee"),
		strings.Contains(msg, "tip too low"),
		strings.Contains(msg, "insufficient priority"):
		return BundleErrFee
	case strings.Contains(msg, "slippage"),
		strings.Contains(msg, "insufficient_output_amount"),
		strings.Contains(msg, "too little received"):
		return BundleErrSlippage
	default:
		return BundleErrOther
	}
}
