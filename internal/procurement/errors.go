package procurement

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrNotFound indicates the GRN, PO or related record does not exist.
	ErrNotFound = errors.New("procurement: not found")
	// ErrValidation indicates malformed input.
	ErrValidation = errors.New("procurement: validation failed")
	// ErrInvalidQuantities indicates negative or unstorable quantities, or a GRN with nothing received.
	ErrInvalidQuantities = errors.New("procurement: invalid quantities")
	// ErrNotEditable indicates the GRN is past the editable stages.
	ErrNotEditable = errors.New("procurement: grn not editable")
	// ErrInvalidTransition indicates a lifecycle event not allowed from the current status.
	ErrInvalidTransition = errors.New("procurement: invalid transition")
	ErrNoOverage         = errors.New("procurement: grn has no overage")
	ErrAlreadyResolved   = errors.New("procurement: excess already resolved")
	ErrNoShortage        = errors.New("procurement: grn has no shortage")
	ErrNotVerified       = errors.New("procurement: grn not verified or approved")
	ErrOverageUnresolved = errors.New("procurement: overage requires excess resolution")
	ErrAlreadyCommitted  = errors.New("procurement: grn already committed to inventory")
	// ErrNoOutstandingShortage indicates the latest GRN of a PO has nothing left to fulfil.
	ErrNoOutstandingShortage = errors.New("procurement: no outstanding shortage")
	// ErrBusy indicates another writer holds the GRN.
	ErrBusy = errors.New("procurement: grn is busy")
)

// GRNError decorates a sentinel with the GRN it was raised for.
type GRNError struct {
	Op     string
	GRNID  int64
	Status GRNStatus
	Err    error
	Detail string
}

func (e *GRNError) Error() string {
	var b strings.Builder
	b.WriteString(e.Err.Error())
	if e.Op != "" {
		fmt.Fprintf(&b, " (op=%s", e.Op)
	} else {
		b.WriteString(" (")
	}
	if e.GRNID != 0 {
		fmt.Fprintf(&b, " grn=%d", e.GRNID)
	}
	if e.Status != "" {
		fmt.Fprintf(&b, " status=%s", e.Status)
	}
	b.WriteString(")")
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	return b.String()
}

func (e *GRNError) Unwrap() error { return e.Err }

func grnError(op string, grn GoodsReceipt, err error, detail string) error {
	return &GRNError{Op: op, GRNID: grn.ID, Status: grn.Status, Err: err, Detail: detail}
}

// ValidationError carries per-field messages for ErrValidation and ErrInvalidQuantities.
type ValidationError struct {
	Err    error
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Err.Error()
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return e.Err.Error() + ": " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return e.Err }

func validationError(field, msg string) error {
	return &ValidationError{Err: ErrValidation, Fields: map[string]string{field: msg}}
}

func quantityError(field, msg string) error {
	return &ValidationError{Err: ErrInvalidQuantities, Fields: map[string]string{field: msg}}
}
