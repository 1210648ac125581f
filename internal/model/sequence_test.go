package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vmhowley/DigitBill-sub000/internal/ncf"
)

func seqFixture(next int64, ending *int64, expires time.Time) *Sequence {
	return &Sequence{
		TipoECF:      ncf.TipoCreditoFiscal,
		NextNumber:   next,
		EndingNumber: ending,
		ExpiresAt:    expires,
	}
}

func TestSequenceNext(t *testing.T) {
	future := time.Date(2030, 12, 31, 23, 59, 59, 0, time.UTC)
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

	t.Run("advances and returns current number", func(t *testing.T) {
		s := seqFixture(5, nil, future)
		n, err := s.Next(now)
		require.NoError(t, err)
		assert.Equal(t, int64(5), n)
		assert.Equal(t, int64(6), s.NextNumber)
	})

	t.Run("expired yesterday fails regardless of range", func(t *testing.T) {
		s := seqFixture(5, nil, now.Add(-24*time.Hour))
		_, err := s.Next(now)
		assert.ErrorIs(t, err, ErrSequenceExpired)
		assert.Equal(t, int64(5), s.NextNumber)
	})

	t.Run("last number of range is still allocatable", func(t *testing.T) {
		ending := int64(10)
		s := seqFixture(10, &ending, future)

		n, err := s.Next(now)
		require.NoError(t, err)
		assert.Equal(t, int64(10), n)

		// The very next attempt is exhausted.
		_, err = s.Next(now)
		assert.ErrorIs(t, err, ErrSequenceExhausted)
		assert.Equal(t, int64(11), s.NextNumber)
	})

	t.Run("no ceiling means unbounded", func(t *testing.T) {
		s := seqFixture(99999999, nil, future)
		_, err := s.Next(now)
		assert.NoError(t, err)
	})
}
