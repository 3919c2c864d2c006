package sheets

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// DefaultNumberPrefix is the legacy sheet number prefix.
const DefaultNumberPrefix = "HR-SDA"

// NumberAllocator issues sequential sheet numbers.
//
// The legacy system derived the next number by scanning every sheet for the
// maximum already assigned, which races under concurrent confirmation. Here
// the counter lives in a dedicated single-row sequence; Allocate increments
// it inside the confirmation transaction, so the row lock is the same
// serialization point that protects the assignment guard. Numbers are
// strictly increasing and gap-free under sequential confirmation.
type NumberAllocator struct {
	prefix string
}

// NewNumberAllocator creates an allocator with the given prefix.
func NewNumberAllocator(prefix string) *NumberAllocator {
	if prefix == "" {
		prefix = DefaultNumberPrefix
	}
	return &NumberAllocator{prefix: prefix}
}

// Format renders a sequence value as a sheet number, e.g. HR-SDA-00001.
func (a *NumberAllocator) Format(value int64) string {
	return fmt.Sprintf("%s-%05d", a.prefix, value)
}

// Parse extracts the sequence value from an existing sheet number.
func (a *NumberAllocator) Parse(number string) (int64, error) {
	rest, ok := strings.CutPrefix(number, a.prefix+"-")
	if !ok {
		return 0, fmt.Errorf("sheet number %q does not carry prefix %q", number, a.prefix)
	}
	value, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("sheet number %q: %w", number, err)
	}
	return value, nil
}

// Allocate obtains the next number inside the given transaction.
func (a *NumberAllocator) Allocate(ctx context.Context, tx TxRepository) (string, error) {
	value, err := tx.NextSequenceValue(ctx)
	if err != nil {
		return "", fmt.Errorf("advance sheet sequence: %w", err)
	}
	return a.Format(value), nil
}

// Seed ensures the sequence row exists and is at least the maximum value
// parsed from previously assigned numbers. Run once at startup; needed when
// adopting a data set numbered by the legacy max-scan scheme.
func (a *NumberAllocator) Seed(ctx context.Context, repo Repository) error {
	numbers, err := repo.AssignedNumbers(ctx)
	if err != nil {
		return fmt.Errorf("load assigned numbers: %w", err)
	}
	var max int64
	for _, n := range numbers {
		value, err := a.Parse(n)
		if err != nil {
			// Foreign prefixes in legacy data are skipped, not fatal.
			continue
		}
		if value > max {
			max = value
		}
	}
	return repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.SeedSequence(ctx, max)
	})
}
