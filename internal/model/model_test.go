package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOrganization_RefIsTheWebsiteURL(t *testing.T) {
	t.Parallel()

	org := Organization{Name: "Acme Gym", WebsiteURL: "https://acme.example.com"}
	require.Equal(t, "https://acme.example.com", org.Ref())
}

func TestLocation_RefCombinesOrganizationRefAndName(t *testing.T) {
	t.Parallel()

	loc := Location{OrganizationRef: "https://acme.example.com", Name: "Downtown"}
	require.Equal(t, "https://acme.example.com|Downtown", loc.Ref())
}

func TestLocation_RefDistinguishesSameNameUnderDifferentOrganizations(t *testing.T) {
	t.Parallel()

	a := Location{OrganizationRef: "https://a.example.com", Name: "Downtown"}
	b := Location{OrganizationRef: "https://b.example.com", Name: "Downtown"}
	require.NotEqual(t, a.Ref(), b.Ref())
}
