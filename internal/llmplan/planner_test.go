package llmplan

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBudgetGuard_ReservesUnderCap(t *testing.T) {
	t.Parallel()

	g := NewBudgetGuard(50)
	require.True(t, g.Reserve(30))
	require.True(t, g.Reserve(20))
}

func TestBudgetGuard_RejectsReservationThatWouldExceedCap(t *testing.T) {
	t.Parallel()

	g := NewBudgetGuard(50)
	require.True(t, g.Reserve(40))
	require.False(t, g.Reserve(20))
}

func TestBudgetGuard_RejectedReservationDoesNotCommitSpend(t *testing.T) {
	t.Parallel()

	g := NewBudgetGuard(50)
	require.False(t, g.Reserve(60))
	require.True(t, g.Reserve(50)) // full cap still available
}

func TestBudgetGuard_ZeroCapRejectsAnyPositiveSpend(t *testing.T) {
	t.Parallel()

	g := NewBudgetGuard(0)
	require.False(t, g.Reserve(1))
	require.True(t, g.Reserve(0))
}
