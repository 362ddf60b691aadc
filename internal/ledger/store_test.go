package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStore(t *testing.T) {
	t.Run("should read absent accounts as zero", func(t *testing.T) {
		s := NewStore()

		assert.Equal(t, uint64(0), s.Balance("nobody"))
		assert.Equal(t, uint64(0), s.Credit("nobody"))
	})

	t.Run("should keep unit and credit tables independent", func(t *testing.T) {
		s := NewStore()

		s.SetBalance("alice", 10)
		s.SetCredit("alice", 500)

		assert.Equal(t, uint64(10), s.Balance("alice"))
		assert.Equal(t, uint64(500), s.Credit("alice"))
	})

	t.Run("should snapshot copies, not views", func(t *testing.T) {
		s := NewStore()
		s.SetBalance("alice", 10)

		balances, credits := s.Snapshot()
		balances["alice"] = 99
		credits["alice"] = 99

		assert.Equal(t, uint64(10), s.Balance("alice"))
		assert.Equal(t, uint64(0), s.Credit("alice"))
	})
}
