package ledger

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type counter struct {
	Value int
}

type recorder struct {
	saved  []counter
	logged [][2]int
}

func (r *recorder) mutation(row *counter, delta int) Mutation[counter] {
	return Mutation[counter]{
		Lock: func(tx *gorm.DB) (*counter, error) {
			return row, nil
		},
		Mutate: func(next *counter) error {
			next.Value += delta
			if next.Value < 0 {
				return errors.New("negative")
			}
			return nil
		},
		Save: func(tx *gorm.DB, next *counter) error {
			r.saved = append(r.saved, *next)
			*row = *next
			return nil
		},
		Log: func(tx *gorm.DB, before, after *counter) error {
			r.logged = append(r.logged, [2]int{before.Value, after.Value})
			return nil
		},
	}
}

func TestApplyWritesValueAndOneLog(t *testing.T) {
	row := &counter{Value: 10}
	rec := &recorder{}

	before, after, err := Apply(nil, rec.mutation(row, -4))
	require.NoError(t, err)

	assert.Equal(t, 10, before.Value)
	assert.Equal(t, 6, after.Value)
	assert.Equal(t, 6, row.Value)
	assert.Len(t, rec.saved, 1)
	assert.Equal(t, [][2]int{{10, 6}}, rec.logged)
}

func TestApplyRejectsInvariantViolation(t *testing.T) {
	row := &counter{Value: 3}
	rec := &recorder{}

	_, _, err := Apply(nil, rec.mutation(row, -4))
	require.Error(t, err)

	assert.Equal(t, 3, row.Value)
	assert.Empty(t, rec.saved)
	assert.Empty(t, rec.logged)
}

func TestApplyStopsWhenLockFails(t *testing.T) {
	lockErr := errors.New("not found")
	called := false

	_, _, err := Apply(nil, Mutation[counter]{
		Lock: func(tx *gorm.DB) (*counter, error) { return nil, lockErr },
		Mutate: func(next *counter) error {
			called = true
			return nil
		},
		Save: func(tx *gorm.DB, next *counter) error { return nil },
	})

	assert.ErrorIs(t, err, lockErr)
	assert.False(t, called)
}
