package session

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/milesc-bot/gym-scraper/internal/metrics"
)

func init() { metrics.Init() }

func TestGate_StartsOpen(t *testing.T) {
	t.Parallel()

	g := newGate()
	ch, errFn := g.Wait()
	select {
	case <-ch:
	default:
		t.Fatal("gate should start open")
	}
	require.NoError(t, errFn())
}

func TestGate_CloseThenOpenReleasesWaitersWithNoError(t *testing.T) {
	t.Parallel()

	g := newGate()
	g.Close()

	ch, errFn := g.Wait()
	select {
	case <-ch:
		t.Fatal("gate should be pending after Close")
	default:
	}

	g.Open()
	<-ch
	require.NoError(t, errFn())
}

func TestGate_FailReleasesWaitersWithError(t *testing.T) {
	t.Parallel()

	g := newGate()
	g.Close()
	ch, errFn := g.Wait()

	want := errors.New("login exhausted")
	g.Fail(want)

	<-ch
	require.ErrorIs(t, errFn(), want)
}

func TestGate_CloseIsIdempotentWhilePending(t *testing.T) {
	t.Parallel()

	g := newGate()
	g.Close()
	ch1, _ := g.Wait()
	g.Close() // already pending; must not swap in a fresh channel
	ch2, _ := g.Wait()

	require.Equal(t, ch1, ch2)
}

func TestGate_OpenAfterFailStartsAFreshErrorlessEpoch(t *testing.T) {
	t.Parallel()

	g := newGate()
	g.Close()
	g.Fail(errors.New("boom"))

	g.Close() // new epoch; clears the prior error
	g.Open()

	_, errFn := g.Wait()
	require.NoError(t, errFn())
}
