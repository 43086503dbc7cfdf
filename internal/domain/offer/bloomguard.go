package offer

import (
	"context"
	"strings"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
)

// CodeSource streams every known coupon code (offer codes plus campaign
// aliases) for guard construction.
type CodeSource interface {
	ForEachCode(ctx context.Context, fn func(code string) error) error
}

// CodeGuard is a bloom filter over all known coupon codes. A negative answer
// is definitive, so lookups of garbage codes never reach the database; a
// positive answer still requires an authoritative lookup.
type CodeGuard struct {
	filter *bloom.BloomFilter
}

// NewCodeGuard creates a guard sized for the expected code count and false
// positive rate.
func NewCodeGuard(capacity uint, fpr float64) *CodeGuard {
	return &CodeGuard{filter: bloom.NewWithEstimates(capacity, fpr)}
}

// Add registers a code with the guard. Codes are matched upper-cased.
func (g *CodeGuard) Add(code string) {
	g.filter.AddString(strings.ToUpper(code))
}

// MightContain reports whether the code could be a known coupon code.
func (g *CodeGuard) MightContain(code string) bool {
	return g.filter.TestString(strings.ToUpper(code))
}

// LoadCodeGuard builds a guard from every code the source knows about.
func LoadCodeGuard(ctx context.Context, src CodeSource, capacity uint, fpr float64) (*CodeGuard, error) {
	g := NewCodeGuard(capacity, fpr)
	err := src.ForEachCode(ctx, func(code string) error {
		g.Add(code)
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "load coupon codes")
	}
	return g, nil
}
