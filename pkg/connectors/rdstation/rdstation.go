// Package rdstation syncs contacts with RD Station Marketing.
package rdstation

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Ramsey-B/clover/pkg/apperrors"
	"github.com/Ramsey-B/clover/pkg/connectors"
	"github.com/Ramsey-B/clover/pkg/fingerprint"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/utils"
)

const (
	Provider = "rdstation"

	DefaultAPIURL = "https://api.rd.services"
	// RD Station allows 120 requests per minute per account
	defaultRate = 2
	pageSize    = 100
	maxPages    = 50
)

type contactPayload struct {
	UUID          string         `json:"uuid" validate:"required"`
	Name          string         `json:"name"`
	Email         string         `json:"email" validate:"omitempty,email"`
	MobilePhone   string         `json:"mobile_phone"`
	PersonalPhone string         `json:"personal_phone"`
	CompanyName   string         `json:"company_name"`
	JobTitle      string         `json:"job_title"`
	Tags          []string       `json:"tags"`
	CustomFields  map[string]any `json:"cf"`
}

type Connector struct {
	api *connectors.APIClient
}

func New(conn models.Connection, deps connectors.Deps) (connectors.Connector, error) {
	cfg := conn.Config.Data
	if cfg.APIKey == "" {
		return nil, apperrors.NewValidationError("api_key", "rdstation requires an access token")
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
	return []string{models.EntityTypeContact}
}

func (c *Connector) TestConnection(ctx context.Context) (bool, error) {
	_, err := c.api.Get(ctx, "/platform/contacts", url.Values{"page_size": {"1"}})
	return connectors.ProbeResult(err)
}

func (c *Connector) Pull(ctx context.Context, entityType string, since *time.Time) ([]connectors.ExternalRecord, error) {
	if entityType != models.EntityTypeContact {
		return nil, connectors.Unsupported(Provider, entityType)
	}

	records := []connectors.ExternalRecord{}
	for page := 1; page <= maxPages; page++ {
		query := url.Values{
			"page":      {strconv.Itoa(page)},
			"page_size": {strconv.Itoa(pageSize)},
		}
		if since != nil {
			query.Set("updated_since", since.UTC().Format(time.RFC3339))
		}

		resp, err := c.api.Get(ctx, "/platform/contacts", query)
		if err != nil {
			return nil, err
		}
		items, err := c.api.Records(resp, "contacts")
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			id, _ := item["uuid"].(string)
			records = append(records, connectors.ExternalRecord{
				ExternalID:  id,
				Fingerprint: fingerprint.Fields(item, "email", "name", "mobile_phone", "personal_phone", "tags", "cf"),
				Payload:     item,
			})
		}
		if len(items) < pageSize {
			return records, nil
		}
	}
	return records, connectors.Truncated(Provider, models.EntityTypeContact, maxPages)
}

func (c *Connector) ToInternal(entityType string, raw map[string]any) (*models.EntityFields, error) {
	if entityType != models.EntityTypeContact {
		return nil, connectors.Unsupported(Provider, entityType)
	}

	contact, err := utils.Decode[contactPayload](raw)
	if err != nil {
		return nil, err
	}
	custom, err := models.NewCustomFields(contact.CustomFields)
	if err != nil {
		return nil, err
	}

	name := contact.Name
	if name == "" {
		name = contact.Email
	}
	phone := contact.MobilePhone
	if phone == "" {
		phone = contact.PersonalPhone
	}

	fields := &models.EntityFields{
		Name:         name,
		Email:        contact.Email,
		Phone:        phone,
		Organization: contact.CompanyName,
		Position:     contact.JobTitle,
		Tags:         contact.Tags,
		CustomFields: models.CustomFields{},
	}
	fields.CustomFields.SetProvenance(Provider, "id", contact.UUID)
	fields.CustomFields.SetProvenance(Provider, "cf", custom)
	return fields, nil
}

func (c *Connector) ToExternal(entityType string, entity *models.Entity) (map[string]any, error) {
	if entityType != models.EntityTypeContact {
		return nil, connectors.Unsupported(Provider, entityType)
	}
	if entity.Email == "" {
		return nil, apperrors.NewValidationError("email", "rdstation contacts require an email")
	}

	tags := []any{}
	for _, tag := range entity.Tags {
		tags = append(tags, tag)
	}
	payload := map[string]any{
		"name":         entity.Name,
		"email":        entity.Email,
		"mobile_phone": entity.Phone,
		"company_name": entity.Organization,
		"job_title":    entity.Position,
		"tags":         tags,
	}
	if cf, ok := entity.CustomFields.Get(models.ProvenanceNamespace + "." + Provider + ".cf"); ok {
		payload["cf"] = cf
	}
	return payload, nil
}

func (c *Connector) Push(ctx context.Context, entityType, externalID string, payload map[string]any) (string, error) {
	if entityType != models.EntityTypeContact {
		return "", connectors.Unsupported(Provider, entityType)
	}

	if externalID != "" {
		_, err := c.api.Do(ctx, http.MethodPatch, "/platform/contacts/uuid:"+url.PathEscape(externalID), nil, payload)
		return externalID, err
	}

	resp, err := c.api.Do(ctx, http.MethodPost, "/platform/contacts", nil, payload)
	if err != nil {
		return "", err
	}
	id, err := c.api.String(resp, "uuid")
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", fmt.Errorf("rdstation did not return a contact uuid")
	}
	return id, nil
}
