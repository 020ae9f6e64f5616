// Package providers wires every built-in connector into a registry.
package providers

import (
	"github.com/Ramsey-B/clover/pkg/connectors"
	"github.com/Ramsey-B/clover/pkg/connectors/chatwoot"
	"github.com/Ramsey-B/clover/pkg/connectors/confirm8"
	"github.com/Ramsey-B/clover/pkg/connectors/pipefy"
	"github.com/Ramsey-B/clover/pkg/connectors/rdstation"
)

// NewRegistry returns a registry with chatwoot, rdstation, pipefy and confirm8 registered.
func NewRegistry(deps connectors.Deps) *connectors.Registry {
	registry := connectors.NewRegistry(deps)
	registry.Register(chatwoot.Provider, chatwoot.New)
	registry.Register(rdstation.Provider, rdstation.New)
	registry.Register(pipefy.Provider, pipefy.New)
	registry.Register(confirm8.Provider, confirm8.New)
	return registry
}
