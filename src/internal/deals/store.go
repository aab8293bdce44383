package deals

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"dealflow/src/internal/core"
	"dealflow/src/internal/postgrest"
)

// Selector is the part of the backend client used by RESTStore.
type Selector interface {
	Select(ctx context.Context, table string, query url.Values) ([]byte, error)
}

// RESTStore reads the deals table. The caller's Authorization header is
// forwarded when the context carries one (postgrest.WithAuthorization), so
// row-level policies apply to the end user.
type RESTStore struct {
	client Selector
	table  string
}

func NewRESTStore(client Selector) *RESTStore {
	return &RESTStore{client: client, table: core.DealsTable}
}

func (s *RESTStore) List(ctx context.Context) ([]Deal, error) {
	body, err := s.client.Select(ctx, s.table, url.Values{
		"select": {"*"},
		"order":  {"created_at.asc"},
	})
	if err != nil {
		return nil, err
	}

	deals := []Deal{}
	if err := json.Unmarshal(body, &deals); err != nil {
		return nil, fmt.Errorf("failed to decode deals: %w", err)
	}
	return deals, nil
}

func (s *RESTStore) Get(ctx context.Context, id string) (*Deal, error) {
	body, err := s.client.Select(ctx, s.table, url.Values{
		"select": {"*"},
		"id":     {"eq." + id},
		"limit":  {"1"},
	})
	if err != nil {
		return nil, err
	}

	var deals []Deal
	if err := json.Unmarshal(body, &deals); err != nil {
		return nil, fmt.Errorf("failed to decode deal: %w", err)
	}
	if len(deals) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return &deals[0], nil
}

var _ Store = (*RESTStore)(nil)

// withCaller attaches the request's bearer to ctx for RESTStore calls.
func withCaller(ctx context.Context, authorization string) context.Context {
	return postgrest.WithAuthorization(ctx, authorization)
}
