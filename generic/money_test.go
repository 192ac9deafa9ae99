package generic_test

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/rental-engine/generic"
)

func TestParseMoney(t *testing.T) {
	tests := []struct {
		in   string
		want generic.Money
	}{
		{"1200", 120000},
		{"1200.5", 120050},
		{"1200.50", 120050},
		{"0.01", 1},
		{"0", 0},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := generic.ParseMoney(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseMoney_RejectsSubCentAndGarbage(t *testing.T) {
	_, err := generic.ParseMoney("10.001")
	assert.Error(t, err)

	_, err = generic.ParseMoney("ten")
	assert.Error(t, err)

	// 2^64 + 1 minor units would wrap to 1 cent
	_, err = generic.ParseMoney("184467440737095516.17")
	assert.Error(t, err)
	_, err = generic.ParseMoney("-184467440737095516.17")
	assert.Error(t, err)

	// int64 max still fits
	m, err := generic.ParseMoney("92233720368547758.07")
	require.NoError(t, err)
	assert.Equal(t, generic.Money(math.MaxInt64), m)
}

func TestMoney_String(t *testing.T) {
	assert.Equal(t, "50.00", generic.Money(5000).String())
	assert.Equal(t, "0.07", generic.Money(7).String())
	assert.Equal(t, "1234.56", generic.Money(123456).String())
	assert.True(t, generic.Money(1).IsPositive())
	assert.False(t, generic.Money(0).IsPositive())
}

func TestStructuredErrors_UnwrapToSentinels(t *testing.T) {
	stateErr := &generic.StateError{Entity: "payment", ID: "p1", Current: "PAID", Action: "verify"}
	assert.ErrorIs(t, stateErr, generic.ErrInvalidState)
	assert.Contains(t, stateErr.Error(), "PAID")

	pendingErr := fmt.Errorf("accept: %w", &generic.PendingPaymentsError{RentalID: "r1", Count: 2})
	assert.ErrorIs(t, pendingErr, generic.ErrPendingPaymentsExist)
	var pe *generic.PendingPaymentsError
	require.ErrorAs(t, pendingErr, &pe)
	assert.Equal(t, 2, pe.Count)

	driver := errors.New("disk I/O error")
	storageErr := generic.NewStorageError("update payment", driver)
	assert.ErrorIs(t, storageErr, generic.ErrStorage)
	assert.ErrorIs(t, storageErr, driver)
}

func TestNewStorageError_PassesSentinelsThrough(t *testing.T) {
	assert.Nil(t, generic.NewStorageError("op", nil))
	assert.Equal(t, generic.ErrNotFound, generic.NewStorageError("op", generic.ErrNotFound))
	assert.Equal(t, generic.ErrConcurrentModification, generic.NewStorageError("op", generic.ErrConcurrentModification))
	assert.Equal(t, generic.ErrDuplicatePeriod, generic.NewStorageError("op", generic.ErrDuplicatePeriod))
}

func TestErrorPredicates(t *testing.T) {
	assert.True(t, generic.IsRetryable(generic.ErrConcurrentModification))
	assert.False(t, generic.IsRetryable(generic.ErrNotAuthorized))

	assert.True(t, generic.IsClientError(generic.ErrInvalidDueDay))
	assert.True(t, generic.IsClientError(&generic.StateError{}))
	assert.False(t, generic.IsClientError(generic.NewStorageError("op", errors.New("boom"))))

	assert.True(t, generic.IsNotFound(fmt.Errorf("load: %w", generic.ErrNotFound)))
}
