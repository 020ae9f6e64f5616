// Package confirm8 syncs contacts and opportunities with Confirm8.
package confirm8

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Ramsey-B/clover/pkg/apperrors"
	"github.com/Ramsey-B/clover/pkg/connectors"
	"github.com/Ramsey-B/clover/pkg/expressions"
	"github.com/Ramsey-B/clover/pkg/fingerprint"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/utils"
)

const (
	Provider = "confirm8"

	DefaultAPIURL = "https://api.confirm8.com"
	defaultRate   = 5
	pageLimit     = 100
)

var externalStages = map[string]string{
	"prospecting":   "lead",
	"qualification": "qualified",
	"proposal":      "proposal",
	"negotiation":   "negotiation",
	"closed_won":    "won",
	"closed_lost":   "lost",
}

var internalStages = connectors.Invert(externalStages)

var endpoints = map[string]string{
	models.EntityTypeContact: "/contacts",
	models.EntityTypeDeal:    "/opportunities",
}

type contactPayload struct {
	ID          any      `json:"id" validate:"required"`
	Name        string   `json:"name"`
	Email       string   `json:"email" validate:"omitempty,email"`
	Phone       string   `json:"phone"`
	CompanyName string   `json:"company_name"`
	JobTitle    string   `json:"job_title"`
	Tags        []string `json:"tags"`
}

type opportunityPayload struct {
	ID                any      `json:"id" validate:"required"`
	Name              string   `json:"name"`
	Value             *float64 `json:"value"`
	Stage             string   `json:"stage"`
	ExpectedCloseDate string   `json:"expected_close_date"`
	ContactID         any      `json:"contact_id"`
}

type Connector struct {
	api *connectors.APIClient
}

func New(conn models.Connection, deps connectors.Deps) (connectors.Connector, error) {
	cfg := conn.Config.Data
	if cfg.APIKey == "" {
		return nil, apperrors.NewValidationError("api_key", "confirm8 requires an api key")
	}
	baseURL := cfg.APIURL
	if baseURL == "" {
		baseURL = DefaultAPIURL
	}

	headers := map[string]string{"Authorization": "Bearer " + cfg.APIKey}
	return &Connector{
		api: connectors.NewAPIClient(Provider, baseURL, headers, connectors.RateLimit(cfg, defaultRate), deps),
	}, nil
}

func (c *Connector) Provider() string { return Provider }

func (c *Connector) EntityTypes() []string {
	return []string{models.EntityTypeContact, models.EntityTypeDeal}
}

func (c *Connector) TestConnection(ctx context.Context) (bool, error) {
	_, err := c.api.Get(ctx, "/contacts", url.Values{"limit": {"1"}})
	return connectors.ProbeResult(err)
}

func (c *Connector) Pull(ctx context.Context, entityType string, since *time.Time) ([]connectors.ExternalRecord, error) {
	endpoint, ok := endpoints[entityType]
	if !ok {
		return nil, connectors.Unsupported(Provider, entityType)
	}

	query := url.Values{"limit": {strconv.Itoa(pageLimit)}}
	if since != nil {
		query.Set("updated_after", since.UTC().Format(time.RFC3339))
	}
	resp, err := c.api.Get(ctx, endpoint, query)
	if err != nil {
		return nil, err
	}
	items, err := c.api.Records(resp, "data")
	if err != nil {
		return nil, err
	}

	records := make([]connectors.ExternalRecord, 0, len(items))
	for _, item := range items {
		records = append(records, connectors.ExternalRecord{
			ExternalID:  expressions.ToString(item["id"]),
			Fingerprint: fingerprint.Generate(item),
			Payload:     item,
		})
	}
	return records, nil
}

func (c *Connector) ToInternal(entityType string, raw map[string]any) (*models.EntityFields, error) {
	switch entityType {
	case models.EntityTypeContact:
		contact, err := utils.Decode[contactPayload](raw)
		if err != nil {
			return nil, err
		}
		name := contact.Name
		if name == "" {
			name = "Unknown"
		}
		fields := &models.EntityFields{
			Name:         name,
			Email:        contact.Email,
			Phone:        contact.Phone,
			Organization: contact.CompanyName,
			Position:     contact.JobTitle,
			Tags:         contact.Tags,
			CustomFields: models.CustomFields{},
		}
		fields.CustomFields.SetProvenance(Provider, "id", expressions.ToString(contact.ID))
		return fields, nil

	case models.EntityTypeDeal:
		opp, err := utils.Decode[opportunityPayload](raw)
		if err != nil {
			return nil, err
		}
		name := opp.Name
		if name == "" {
			name = "Untitled Deal"
		}
		fields := &models.EntityFields{
			Name:  name,
			Score: opp.Value,
			CustomFields: models.CustomFields{
				"stage": connectors.Lookup(externalStages, opp.Stage, "lead"),
			},
		}
		if opp.ExpectedCloseDate != "" {
			fields.CustomFields["expected_close_date"] = opp.ExpectedCloseDate
		}
		fields.CustomFields.SetProvenance(Provider, "id", expressions.ToString(opp.ID))
		if contactID := expressions.ToString(opp.ContactID); contactID != "" {
			fields.CustomFields.SetProvenance(Provider, "contact_id", contactID)
			fields.Links = []models.ExternalLink{{
				Kind:       models.EntityTypeDeal,
				EntityType: models.EntityTypeContact,
				ExternalID: contactID,
			}}
		}
		return fields, nil

	default:
		return nil, connectors.Unsupported(Provider, entityType)
	}
}

func (c *Connector) ToExternal(entityType string, entity *models.Entity) (map[string]any, error) {
	switch entityType {
	case models.EntityTypeContact:
		tags := []any{}
		for _, tag := range entity.Tags {
			tags = append(tags, tag)
		}
		return map[string]any{
			"name":         entity.Name,
			"email":        entity.Email,
			"phone":        entity.Phone,
			"company_name": entity.Organization,
			"job_title":    entity.Position,
			"tags":         tags,
		}, nil

	case models.EntityTypeDeal:
		stage, _ := entity.CustomFields["stage"].(string)
		payload := map[string]any{
			"name":  entity.Name,
			"stage": connectors.Lookup(internalStages, stage, "prospecting"),
		}
		if entity.Score != nil {
			payload["value"] = *entity.Score
		}
		if date, ok := entity.CustomFields["expected_close_date"].(string); ok {
			payload["expected_close_date"] = date
		}
		if contactID, ok := entity.CustomFields.Get(models.ProvenanceNamespace + "." + Provider + ".contact_id"); ok {
			payload["contact_id"] = contactID
		}
		return payload, nil

	default:
		return nil, connectors.Unsupported(Provider, entityType)
	}
}

func (c *Connector) Push(ctx context.Context, entityType, externalID string, payload map[string]any) (string, error) {
	endpoint, ok := endpoints[entityType]
	if !ok {
		return "", connectors.Unsupported(Provider, entityType)
	}

	if externalID != "" {
		_, err := c.api.Do(ctx, http.MethodPut, endpoint+"/"+url.PathEscape(externalID), nil, payload)
		return externalID, err
	}

	resp, err := c.api.Do(ctx, http.MethodPost, endpoint, nil, payload)
	if err != nil {
		return "", err
	}
	id, err := c.api.String(resp, "id")
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", fmt.Errorf("confirm8 did not return an id")
	}
	return id, nil
}
