package exchange

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckedArithmetic(t *testing.T) {
	t.Run("should add within range", func(t *testing.T) {
		v, ok := addChecked(40, 2)
		assert.True(t, ok)
		assert.Equal(t, uint64(42), v)
	})

	t.Run("should detect addition overflow", func(t *testing.T) {
		_, ok := addChecked(math.MaxUint64, 1)
		assert.False(t, ok)

		v, ok := addChecked(math.MaxUint64, 0)
		assert.True(t, ok)
		assert.Equal(t, uint64(math.MaxUint64), v)
	})

	t.Run("should multiply within range", func(t *testing.T) {
		v, ok := mulChecked(500, 10)
		assert.True(t, ok)
		assert.Equal(t, uint64(5000), v)
	})

	t.Run("should detect multiplication overflow", func(t *testing.T) {
		_, ok := mulChecked(math.MaxUint64/2+1, 2)
		assert.False(t, ok)
	})

	t.Run("should treat zero operands as safe", func(t *testing.T) {
		v, ok := mulChecked(0, math.MaxUint64)
		assert.True(t, ok)
		assert.Equal(t, uint64(0), v)
	})

	t.Run("should compute percentages with integer truncation", func(t *testing.T) {
		v, ok := percentOf(500, 5)
		assert.True(t, ok)
		assert.Equal(t, uint64(25), v)

		v, ok = percentOf(99, 5)
		assert.True(t, ok)
		assert.Equal(t, uint64(4), v)

		v, ok = percentOf(1000, 0)
		assert.True(t, ok)
		assert.Equal(t, uint64(0), v)
	})
}
