package params

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStore(t *testing.T) {
	genesis := Parameters{
		Tariff:              500,
		AccountCeiling:      1000,
		FeePercent:          5,
		CompensationPercent: 50,
		GlobalCap:           100000,
	}

	t.Run("should hold the genesis parameters and operator", func(t *testing.T) {
		s := NewStore("operator", genesis)

		assert.Equal(t, genesis, s.Snapshot())
		assert.Equal(t, "operator", s.Operator())
		assert.Equal(t, uint64(0), s.Allocated())
		assert.False(t, s.Halted())
	})

	t.Run("should apply updates under the lock", func(t *testing.T) {
		s := NewStore("operator", genesis)

		s.Update(func(p *Parameters) { p.Tariff = 600 })

		assert.Equal(t, uint64(600), s.Snapshot().Tariff)
		assert.Equal(t, uint64(5), s.Snapshot().FeePercent)
	})

	t.Run("should track the allocation counter and halt flag", func(t *testing.T) {
		s := NewStore("operator", genesis)

		s.SetAllocated(42)
		assert.Equal(t, uint64(42), s.Allocated())

		s.SetHalted(true)
		assert.True(t, s.Halted())
		s.SetHalted(false)
		assert.False(t, s.Halted())
	})

	t.Run("should not let a snapshot mutate the store", func(t *testing.T) {
		s := NewStore("operator", genesis)

		snap := s.Snapshot()
		snap.Tariff = 1

		assert.Equal(t, uint64(500), s.Snapshot().Tariff)
	})
}
