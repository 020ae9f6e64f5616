// Package pipefy syncs deals with the cards of a Pipefy pipe over GraphQL.
package pipefy

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Ramsey-B/clover/pkg/apperrors"
	"github.com/Ramsey-B/clover/pkg/connectors"
	"github.com/Ramsey-B/clover/pkg/expressions"
	"github.com/Ramsey-B/clover/pkg/fingerprint"
	"github.com/Ramsey-B/clover/pkg/httpclient"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/utils"
)

const (
	Provider = "pipefy"

	DefaultAPIURL = "https://api.pipefy.com/graphql"
	defaultRate   = 5
	pageSize      = 50
	maxPages      = 40
)

var phaseStages = map[string]string{
	"New":         "lead",
	"Qualified":   "qualified",
	"Proposal":    "proposal",
	"Negotiation": "negotiation",
	"Won":         "won",
	"Lost":        "lost",
}

var stagePhases = connectors.Invert(phaseStages)

const cardsQuery = `query($pipeId: ID!, $first: Int!, $after: String) {
  pipe(id: $pipeId) {
    cards(first: $first, after: $after) {
      pageInfo { hasNextPage endCursor }
      edges {
        node {
          id
          title
          current_phase { id name }
          fields { name value }
          assignees { id email name }
          created_at
          updated_at
        }
      }
    }
  }
}`

const createCardMutation = `mutation($pipeId: ID!, $title: String!, $value: String!) {
  createCard(input: {
    pipe_id: $pipeId
    title: $title
    fields_attributes: [{ field_id: "value", field_value: $value }]
  }) {
    card { id }
  }
}`

const updateCardMutation = `mutation($cardId: ID!, $title: String!, $value: String!) {
  updateCard(input: { id: $cardId, title: $title }) { card { id } }
  updateCardField(input: { card_id: $cardId, field_id: "value", new_value: $value }) { success }
}`

type cardPayload struct {
	ID           string `json:"id" validate:"required"`
	Title        string `json:"title"`
	CurrentPhase struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"current_phase"`
	Fields []struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	} `json:"fields"`
	UpdatedAt string `json:"updated_at"`
}

func (c cardPayload) field(name string) string {
	for _, f := range c.Fields {
		if strings.EqualFold(f.Name, name) {
			return f.Value
		}
	}
	return ""
}

type Connector struct {
	api       *connectors.APIClient
	pipeID    string
	evaluator *expressions.Evaluator
}

func New(conn models.Connection, deps connectors.Deps) (connectors.Connector, error) {
	cfg := conn.Config.Data
	if cfg.APIKey == "" {
		return nil, apperrors.NewValidationError("api_key", "pipefy requires an api token")
	}
	if cfg.PipeID == "" {
		return nil, apperrors.NewValidationError("pipe_id", "pipefy requires a pipe id")
	}
	baseURL := cfg.APIURL
	if baseURL == "" {
		baseURL = DefaultAPIURL
	}
	evaluator := deps.Evaluator
	if evaluator == nil {
		evaluator = expressions.Default
	}

	headers := map[string]string{"Authorization": "Bearer " + cfg.APIKey}
	return &Connector{
		api:       connectors.NewAPIClient(Provider, baseURL, headers, connectors.RateLimit(cfg, defaultRate), deps),
		pipeID:    cfg.PipeID,
		evaluator: evaluator,
	}, nil
}

func (c *Connector) Provider() string { return Provider }

func (c *Connector) EntityTypes() []string {
	return []string{models.EntityTypeDeal}
}

// graphql posts a document and fails on GraphQL-level errors, which Pipefy reports with status 200.
func (c *Connector) graphql(ctx context.Context, query string, variables map[string]any) (any, error) {
	resp, err := c.api.Do(ctx, http.MethodPost, "", nil, map[string]any{
		"query":     query,
		"variables": variables,
	})
	if err != nil {
		return nil, err
	}
	data, err := resp.JSON()
	if err != nil {
		return nil, err
	}
	msg, err := c.evaluator.String("errors[0].message", data)
	if err != nil {
		return nil, err
	}
	if msg != "" {
		return nil, &httpclient.StatusError{Provider: Provider, StatusCode: resp.StatusCode, Body: msg}
	}
	return data, nil
}

func (c *Connector) TestConnection(ctx context.Context) (bool, error) {
	_, err := c.graphql(ctx, cardsQuery, map[string]any{"pipeId": c.pipeID, "first": 1})
	return connectors.ProbeResult(err)
}

// Pull walks the pipe's cards by cursor. Pipefy cannot filter cards by update time, so cards not
// updated after since are dropped here.
func (c *Connector) Pull(ctx context.Context, entityType string, since *time.Time) ([]connectors.ExternalRecord, error) {
	if entityType != models.EntityTypeDeal {
		return nil, connectors.Unsupported(Provider, entityType)
	}

	records := []connectors.ExternalRecord{}
	variables := map[string]any{"pipeId": c.pipeID, "first": pageSize}
	for page := 0; page < maxPages; page++ {
		data, err := c.graphql(ctx, cardsQuery, variables)
		if err != nil {
			return nil, err
		}
		cards, err := c.evaluator.Records("data.pipe.cards.edges[].node", data)
		if err != nil {
			return nil, err
		}

		for _, card := range cards {
			if since != nil && !updatedAfter(card, *since) {
				continue
			}
			id := expressions.ToString(card["id"])
			records = append(records, connectors.ExternalRecord{
				ExternalID:  id,
				Fingerprint: fingerprint.Fields(card, "title", "current_phase", "fields", "updated_at"),
				Payload:     card,
			})
		}

		hasNext, err := c.evaluator.Evaluate("data.pipe.cards.pageInfo.hasNextPage", data)
		if err != nil {
			return nil, err
		}
		cursor, err := c.evaluator.String("data.pipe.cards.pageInfo.endCursor", data)
		if err != nil {
			return nil, err
		}
		if next, _ := hasNext.(bool); !next || cursor == "" {
			return records, nil
		}
		variables["after"] = cursor
	}
	return records, connectors.Truncated(Provider, entityType, maxPages)
}

func updatedAfter(card map[string]any, since time.Time) bool {
	raw, _ := card["updated_at"].(string)
	updated, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return true
	}
	return updated.After(since)
}

func (c *Connector) ToInternal(entityType string, raw map[string]any) (*models.EntityFields, error) {
	if entityType != models.EntityTypeDeal {
		return nil, connectors.Unsupported(Provider, entityType)
	}

	card, err := utils.Decode[cardPayload](raw)
	if err != nil {
		return nil, err
	}

	name := card.Title
	if name == "" {
		name = "Card " + card.ID
	}
	fields := &models.EntityFields{
		Name:  name,
		Email: card.field("email"),
		CustomFields: models.CustomFields{
			"stage": connectors.Lookup(phaseStages, card.CurrentPhase.Name, "lead"),
		},
	}
	if value := card.field("value"); value != "" {
		score, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, apperrors.NewValidationError("value", "card %s has a non-numeric value %q", card.ID, value)
		}
		fields.Score = &score
	}

	fields.CustomFields.SetProvenance(Provider, "id", card.ID)
	fields.CustomFields.SetProvenance(Provider, "phase_id", card.CurrentPhase.ID)
	fields.CustomFields.SetProvenance(Provider, "phase", card.CurrentPhase.Name)
	return fields, nil
}

func (c *Connector) ToExternal(entityType string, entity *models.Entity) (map[string]any, error) {
	if entityType != models.EntityTypeDeal {
		return nil, connectors.Unsupported(Provider, entityType)
	}

	stage, _ := entity.CustomFields["stage"].(string)
	value := ""
	if entity.Score != nil {
		value = strconv.FormatFloat(*entity.Score, 'f', -1, 64)
	}
	return map[string]any{
		"title": entity.Name,
		"value": value,
		"phase": connectors.Lookup(stagePhases, stage, "New"),
	}, nil
}

// Push creates or updates the card title and value. Phase moves need the target phase id and are
// left to Pipefy automations.
func (c *Connector) Push(ctx context.Context, entityType, externalID string, payload map[string]any) (string, error) {
	if entityType != models.EntityTypeDeal {
		return "", connectors.Unsupported(Provider, entityType)
	}

	variables := map[string]any{
		"title": payload["title"],
		"value": expressions.ToString(payload["value"]),
	}

	if externalID != "" {
		variables["cardId"] = externalID
		_, err := c.graphql(ctx, updateCardMutation, variables)
		return externalID, err
	}

	variables["pipeId"] = c.pipeID
	data, err := c.graphql(ctx, createCardMutation, variables)
	if err != nil {
		return "", err
	}
	id, err := c.evaluator.String("data.createCard.card.id", data)
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", fmt.Errorf("pipefy did not return a card id")
	}
	return id, nil
}
