package apperrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSentinelsMatchThroughWrappers(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"validation", NewValidation("amount", "must be > 0"), ErrValidation},
		{"not_found", NewNotFound("order", "123"), ErrNotFound},
		{"invalid_state", NewInvalidState("cancel", "already closed"), ErrInvalidState},
		{"insufficient_funds", NewInsufficientFunds("USDT", "10", "5"), ErrInsufficientFunds},
		{"insufficient_reserve", NewInsufficientReserve("order-1", "residual exhausted"), ErrInsufficientReserve},
		{"storage", WrapStorage("op", errors.New("boom")), ErrStorage},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, tc.err, tc.want)
		})
	}
}

func TestWrapStorageNilPassthrough(t *testing.T) {
	assert.Nil(t, WrapStorage("op", nil))
}

func TestWrapStoragePreservesUnderlyingCause(t *testing.T) {
	cause := errors.New("disk full")
	err := WrapStorage("orders.add", cause)
	assert.ErrorIs(t, err, cause)
}
