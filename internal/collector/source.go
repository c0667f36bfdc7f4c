package collector

import (
	"context"
	"errors"
	"fmt"

	"PointsLedger/internal/model"
)

// LedgerSource is the paginated query capability of the indexing service.
// Pages are 1-based.
type LedgerSource interface {
	QueryByAddress(ctx context.Context, address, project string) (*Page, error)
	QueryByProject(ctx context.Context, project string, page, pageSize int) (*Page, error)
	QueryWithdrawals(ctx context.Context, project string, page, pageSize int) (*WithdrawalPage, error)
	QueryWithdrawalsByAddress(ctx context.Context, address, project string) ([]model.WithdrawalEvent, error)
	Name() string
}

// Page is one ledger response. Aggregate is nil when the source omitted it.
type Page struct {
	Records   []model.AccrualRecord
	Aggregate *model.ProjectAggregate
	// Received counts records in the response before malformed ones were
	// dropped; pagination compares it with the page size.
	Received int
}

// WithdrawalPage is one page of withdrawal events. Received has the same
// meaning as on Page.
type WithdrawalPage struct {
	Events   []model.WithdrawalEvent
	Received int
}

// ErrMissingAggregate means a project cannot be redistributed this cycle.
var ErrMissingAggregate = errors.New("project aggregate missing")

// FetchError is a failed upstream call: transport failure, timeout or
// non-success status.
type FetchError struct {
	Op     string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// StatusCode exposes the HTTP status for retry classification.
func (e *FetchError) StatusCode() int { return e.Status }

// ShapeError is a record missing or mistyping an expected field.
type ShapeError struct {
	Kind  string
	Index int
	Field string
	Err   error
}

func (e *ShapeError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s record %d: field %q: %v", e.Kind, e.Index, e.Field, e.Err)
	}
	return fmt.Sprintf("%s record %d: %v", e.Kind, e.Index, e.Err)
}

func (e *ShapeError) Unwrap() error { return e.Err }
