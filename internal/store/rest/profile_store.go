package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/wolfeidau/famblog/internal/models"
	"github.com/wolfeidau/famblog/internal/store"
)

var _ store.ProfileStore = (*ProfileStore)(nil)

const maxResponseBytes = 64 * 1024

// ProfileStore reads profiles from a PostgREST-compatible data API, which is
// how the hosted database backend exposes the profiles table.
type ProfileStore struct {
	baseURL    string
	serviceKey string
	table      string
	client     *http.Client
}

// Config configures the REST profile store.
type Config struct {
	// BaseURL is the data API root, e.g. https://xyz.example.co/rest/v1
	BaseURL string
	// ServiceKey is sent as both the apikey header and the bearer token.
	ServiceKey string
	// Table defaults to "profiles".
	Table string
	// HTTPClient defaults to a client with a 10s timeout.
	HTTPClient *http.Client
}

// NewProfileStore validates the config and returns a store.
func NewProfileStore(cfg Config) (*ProfileStore, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("rest base URL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid rest base URL: %w", err)
	}
	if cfg.Table == "" {
		cfg.Table = "profiles"
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}

	return &ProfileStore{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		serviceKey: cfg.ServiceKey,
		table:      cfg.Table,
		client:     cfg.HTTPClient,
	}, nil
}

// profileRow mirrors the table columns. Pointers distinguish a missing or
// null column from an empty string.
type profileRow struct {
	ID       *string `json:"id"`
	Role     *string `json:"role"`
	FamilyID *string `json:"family_id"`
	Name     *string `json:"name"`
}

// GetProfile queries `GET /profiles?id=eq.<id>&select=id,role,family_id,name`.
func (s *ProfileStore) GetProfile(ctx context.Context, identityID uuid.UUID) (*models.Profile, error) {
	q := url.Values{}
	q.Set("id", "eq."+identityID.String())
	q.Set("select", "id,role,family_id,name")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/"+s.table+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build profile request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if s.serviceKey != "" {
		req.Header.Set("apikey", s.serviceKey)
		req.Header.Set("Authorization", "Bearer "+s.serviceKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch profile: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("profile API returned HTTP %d", resp.StatusCode)
	}

	var rows []profileRow
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&rows); err != nil {
		return nil, fmt.Errorf("%w: failed to decode profile: %w", store.ErrProfileInvalid, err)
	}

	switch len(rows) {
	case 0:
		return nil, store.ErrProfileNotFound
	case 1:
	default:
		return nil, fmt.Errorf("%w: %d rows for one identity", store.ErrProfileInvalid, len(rows))
	}

	return rows[0].toProfile(identityID)
}

func (r profileRow) toProfile(identityID uuid.UUID) (*models.Profile, error) {
	if r.ID == nil || r.Role == nil || r.FamilyID == nil {
		return nil, fmt.Errorf("%w: missing id, role or family_id", store.ErrProfileInvalid)
	}

	id, err := uuid.Parse(*r.ID)
	if err != nil || id != identityID {
		return nil, fmt.Errorf("%w: id does not match identity", store.ErrProfileInvalid)
	}

	profile := &models.Profile{
		ID:       id,
		Role:     *r.Role,
		FamilyID: *r.FamilyID,
	}
	if r.Name != nil {
		profile.Name = *r.Name
	}

	if err := profile.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", store.ErrProfileInvalid, err)
	}

	return profile, nil
}
