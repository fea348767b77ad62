// Package supabase implements the upsert sink against a Supabase PostgREST
// endpoint, batching each entity's rows into a single request per call with
// merge-duplicates conflict resolution on the unique key.
package supabase

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/milesc-bot/gym-scraper/internal/model"
)

// Sink implements sink.Sink against Supabase's PostgREST REST API.
type Sink struct {
	client *resty.Client
}

// New builds a Sink against baseURL using the service role key for auth.
func New(baseURL, serviceRoleKey string) *Sink {
	client := resty.New().
		SetBaseURL(baseURL).
		SetHeader("apikey", serviceRoleKey).
		SetHeader("Authorization", "Bearer "+serviceRoleKey).
		SetHeader("Content-Type", "application/json").
		SetTimeout(30 * time.Second)
	return &Sink{client: client}
}

type organizationRow struct {
	Name       string `json:"name"`
	WebsiteURL string `json:"website_url"`
}

// UpsertOrganization implements sink.Sink.
func (s *Sink) UpsertOrganization(ctx context.Context, org model.Organization) (string, error) {
	row := organizationRow{Name: org.Name, WebsiteURL: org.WebsiteURL}
	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Prefer", "resolution=merge-duplicates,return=representation").
		SetQueryParam("on_conflict", "website_url").
		SetBody([]organizationRow{row}).
		Post("/organizations")
	if err != nil {
		return "", fmt.Errorf("upsert organization: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("upsert organization: status %d: %s", resp.StatusCode(), resp.String())
	}
	return org.WebsiteURL, nil
}

type locationRow struct {
	OrganizationRef string `json:"organization_ref"`
	Name            string `json:"name"`
	Address         string `json:"address,omitempty"`
	IANATimezone    string `json:"iana_timezone"`
}

// UpsertLocations implements sink.Sink.
func (s *Sink) UpsertLocations(ctx context.Context, orgRef string, locations []model.Location) (map[string]string, error) {
	if len(locations) == 0 {
		return map[string]string{}, nil
	}
	rows := make([]locationRow, len(locations))
	refs := make(map[string]string, len(locations))
	for i, loc := range locations {
		rows[i] = locationRow{
			OrganizationRef: orgRef,
			Name:            loc.Name,
			Address:         loc.Address,
			IANATimezone:    loc.IANATimezone,
		}
		refs[loc.Name] = loc.Ref()
	}
	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Prefer", "resolution=merge-duplicates,return=representation").
		SetQueryParam("on_conflict", "organization_ref,name").
		SetBody(rows).
		Post("/locations")
	if err != nil {
		return nil, fmt.Errorf("upsert locations: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("upsert locations: status %d: %s", resp.StatusCode(), resp.String())
	}
	return refs, nil
}

type classRow struct {
	LocationRef     string `json:"location_ref"`
	Name            string `json:"name"`
	StartInstantUTC string `json:"start_instant_utc"`
	EndInstantUTC   string `json:"end_instant_utc,omitempty"`
	Instructor      string `json:"instructor,omitempty"`
	SpotsTotal      int    `json:"spots_total,omitempty"`
}

// UpsertClasses implements sink.Sink.
func (s *Sink) UpsertClasses(ctx context.Context, classes []model.Class) (int, error) {
	if len(classes) == 0 {
		return 0, nil
	}
	rows := make([]classRow, len(classes))
	for i, c := range classes {
		row := classRow{
			LocationRef:     c.LocationRef,
			Name:            c.Name,
			StartInstantUTC: c.StartInstantUTC.UTC().Format(time.RFC3339),
			Instructor:      c.Instructor,
			SpotsTotal:      c.SpotsTotal,
		}
		if !c.EndInstantUTC.IsZero() {
			row.EndInstantUTC = c.EndInstantUTC.UTC().Format(time.RFC3339)
		}
		rows[i] = row
	}
	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Prefer", "resolution=merge-duplicates,return=representation").
		SetQueryParam("on_conflict", "location_ref,start_instant_utc,name").
		SetBody(rows).
		Post("/classes")
	if err != nil {
		return 0, fmt.Errorf("upsert classes: %w", err)
	}
	if resp.IsError() {
		return 0, fmt.Errorf("upsert classes: status %d: %s", resp.StatusCode(), resp.String())
	}
	return len(rows), nil
}
