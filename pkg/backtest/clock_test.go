package backtest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClockStartsAtSentinel(t *testing.T) {
	clock := NewClock()
	assert.Equal(t, 1900, clock.Current().Time().Year())
}

func TestClockMonotonicUpdates(t *testing.T) {
	clock := NewClock()

	states := []State{
		Date(2021, 1, 4),
		Date(2021, 1, 5),
		Date(2021, 1, 5), // equal times are allowed
		Date(2021, 1, 7),
	}
	for _, s := range states {
		require.NoError(t, clock.Update(s))
	}

	assert.Equal(t, Date(2021, 1, 7).Time(), clock.Current().Time())
}

func TestClockRejectsBackwardsTime(t *testing.T) {
	clock := NewClock()

	require.NoError(t, clock.Update(Date(2021, 1, 5)))
	err := clock.Update(Date(2021, 1, 4))

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeBackwards)
	// The failed update must not move the clock.
	assert.Equal(t, Date(2021, 1, 5).Time(), clock.Current().Time())
}

func TestClockLookahead(t *testing.T) {
	clock := NewClock()
	require.NoError(t, clock.Update(Date(2021, 1, 5)))

	t.Run("future date fails", func(t *testing.T) {
		err := clock.TimeCheck(Date(2021, 1, 6))
		assert.ErrorIs(t, err, ErrLookahead)
	})

	t.Run("current and past dates pass", func(t *testing.T) {
		assert.NoError(t, clock.TimeCheck(Date(2021, 1, 5)))
		assert.NoError(t, clock.TimeCheck(Date(2021, 1, 4)))
	})
}

func TestClockLookaheadDateAgainstIntradayClock(t *testing.T) {
	clock := NewClock()
	require.NoError(t, clock.Update(At(time.Date(2021, 1, 5, 10, 30, 0, 0, time.UTC))))

	// A date-only request compares against the clock's date, so same-day
	// daily reads are allowed even before end of day.
	assert.NoError(t, clock.TimeCheck(Date(2021, 1, 5)))
	assert.ErrorIs(t, clock.TimeCheck(Date(2021, 1, 6)), ErrLookahead)

	// Datetime requests compare against the full instant.
	assert.NoError(t, clock.TimeCheck(At(time.Date(2021, 1, 5, 10, 30, 0, 0, time.UTC))))
	assert.ErrorIs(t, clock.TimeCheck(At(time.Date(2021, 1, 5, 10, 31, 0, 0, time.UTC))), ErrLookahead)
}

func TestClockReset(t *testing.T) {
	clock := NewClock()
	require.NoError(t, clock.Update(Date(2021, 6, 1)))

	clock.Reset()

	// After a reset an earlier run start is valid again.
	assert.NoError(t, clock.Update(Date(2020, 1, 1)))
}
