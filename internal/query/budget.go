package query

import (
	"time"

	"github.com/localkb/localkb/internal/kberrors"
)

// Complexity limits shared by both parsers.
const (
	MaxDepth         = 10
	MaxBooleanOps    = 50
	MaxFieldValueLen = 1000
	ParseTimeout     = 1000 * time.Millisecond
)

// budget tracks a single parse's consumption against the complexity limits.
// Exceeding any of them yields QueryTooComplex.
type budget struct {
	start   time.Time
	opCount int
}

func newBudget() *budget {
	return &budget{start: time.Now()}
}

func (b *budget) checkDeadline() error {
	if time.Since(b.start) > ParseTimeout {
		return kberrors.New(kberrors.QueryTooComplex, "query parse exceeded time budget")
	}
	return nil
}

func (b *budget) checkDepth(depth int) error {
	if depth > MaxDepth {
		return kberrors.Newf(kberrors.QueryTooComplex, "query nesting exceeds max depth %d", MaxDepth)
	}
	return b.checkDeadline()
}

func (b *budget) addBooleanOp() error {
	b.opCount++
	if b.opCount > MaxBooleanOps {
		return kberrors.Newf(kberrors.QueryTooComplex, "query exceeds max boolean operators %d", MaxBooleanOps)
	}
	return b.checkDeadline()
}

func (b *budget) checkValueLen(s string) error {
	if len(s) > MaxFieldValueLen {
		return kberrors.Newf(kberrors.QueryTooComplex, "field value exceeds max length %d", MaxFieldValueLen)
	}
	return nil
}
