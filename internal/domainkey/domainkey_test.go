package domainkey

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFor_CollapsesSubdomainsToRegistrableDomain(t *testing.T) {
	t.Parallel()

	booking, err := For("https://booking.gym.example.com/schedule")
	require.NoError(t, err)
	marketing, err := For("https://www.gym.example.com/about")
	require.NoError(t, err)
	require.Equal(t, booking, marketing)
}

func TestFor_LowercasesHost(t *testing.T) {
	t.Parallel()

	dom, err := For("https://GYM.Example.COM/x")
	require.NoError(t, err)
	require.Equal(t, "example.com", dom)
}

func TestFor_FallsBackToRawHostForIPLiteral(t *testing.T) {
	t.Parallel()

	dom, err := For("http://127.0.0.1:8080/x")
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1", dom)
}

func TestFor_RejectsURLWithNoHost(t *testing.T) {
	t.Parallel()

	_, err := For("not-a-url")
	require.Error(t, err)
}
