// Package sink defines the narrow upsert interface the orchestrator
// persists through; concrete implementations are external collaborators.
package sink

import (
	"context"

	"github.com/milesc-bot/gym-scraper/internal/model"
)

// Sink is the upsert contract: organization, then locations, then classes,
// never interleaving a child before its parent completes.
type Sink interface {
	// UpsertOrganization keyed on WebsiteURL; returns the organization ref.
	UpsertOrganization(ctx context.Context, org model.Organization) (string, error)
	// UpsertLocations keyed on (orgRef, name); returns name -> ref.
	UpsertLocations(ctx context.Context, orgRef string, locations []model.Location) (map[string]string, error)
	// UpsertClasses keyed on (locationRef, startInstant, name); returns the
	// count of rows written.
	UpsertClasses(ctx context.Context, classes []model.Class) (int, error)
}
