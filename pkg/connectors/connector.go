// Package connectors defines the provider contract and the orchestration that keeps the
// canonical store and external systems in sync.
package connectors

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/expressions"
	"github.com/Ramsey-B/clover/pkg/httpclient"
	"github.com/Ramsey-B/clover/pkg/models"
)

// ExternalRecord is one record fetched from a provider. Fingerprint covers the fields the
// provider considers significant; an empty fingerprint is computed from the whole payload.
type ExternalRecord struct {
	ExternalID  string
	Fingerprint string
	Payload     map[string]any
}

// Connector adapts one provider. Mapping functions are pure.
type Connector interface {
	Provider() string
	EntityTypes() []string
	// TestConnection performs a read-only request with the configured credentials.
	TestConnection(ctx context.Context) (bool, error)
	// Pull fetches records changed since the given time, or all records when since is nil.
	Pull(ctx context.Context, entityType string, since *time.Time) ([]ExternalRecord, error)
	ToInternal(entityType string, raw map[string]any) (*models.EntityFields, error)
	ToExternal(entityType string, entity *models.Entity) (map[string]any, error)
	// Push creates the record when externalID is empty, otherwise updates it, and returns the
	// external id.
	Push(ctx context.Context, entityType, externalID string, payload map[string]any) (string, error)
}

// Deps are the shared collaborators handed to every connector factory.
type Deps struct {
	HTTP      *httpclient.Client
	Evaluator *expressions.Evaluator
	Logger    ectologger.Logger
}

// Factory builds a connector for a configured connection.
type Factory func(conn models.Connection, deps Deps) (Connector, error)

// Registry resolves connectors by provider tag
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	deps      Deps
}

func NewRegistry(deps Deps) *Registry {
	if deps.Evaluator == nil {
		deps.Evaluator = expressions.Default
	}
	return &Registry{factories: map[string]Factory{}, deps: deps}
}

// Register adds a factory, replacing any previous one for the provider
func (r *Registry) Register(provider string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[provider] = factory
}

// Build creates the connector for conn. Unknown providers are a 400.
func (r *Registry) Build(conn models.Connection) (Connector, error) {
	r.mu.RLock()
	factory, ok := r.factories[conn.Provider]
	r.mu.RUnlock()
	if !ok {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, "unknown provider").AddMetaValue("provider", conn.Provider)
	}
	return factory(conn, r.deps)
}

// Providers lists the registered provider tags, sorted
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	providers := make([]string, 0, len(r.factories))
	for p := range r.factories {
		providers = append(providers, p)
	}
	sort.Strings(providers)
	return providers
}
