// Package chatwoot syncs contacts and conversations with a Chatwoot account.
package chatwoot

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
	Provider = "chatwoot"

	DefaultAPIURL = "https://app.chatwoot.com"
	defaultRate   = 5
	perPage       = 100
	maxPages      = 50
	// conversations are served in fixed pages of 25
	conversationPageSize = 25
)

var conversationStatuses = map[string]string{
	"open":     "active",
	"pending":  "active",
	"resolved": "completed",
	"snoozed":  "snoozed",
}

type contactPayload struct {
	ID                   int64          `json:"id" validate:"required"`
	Name                 string         `json:"name"`
	Email                string         `json:"email" validate:"omitempty,email"`
	PhoneNumber          string         `json:"phone_number"`
	Identifier           string         `json:"identifier"`
	Thumbnail            string         `json:"thumbnail"`
	AdditionalAttributes map[string]any `json:"additional_attributes"`
}

type conversationPayload struct {
	ID            int64    `json:"id" validate:"required"`
	Status        string   `json:"status"`
	InboxID       int64    `json:"inbox_id"`
	MessagesCount int64    `json:"messages_count"`
	Labels        []string `json:"labels"`
	Meta          struct {
		Sender struct {
			ID   int64  `json:"id"`
			Name string `json:"name"`
		} `json:"sender"`
	} `json:"meta"`
}

type Connector struct {
	api       *connectors.APIClient
	accountID string
}

// New is the connectors.Factory for Chatwoot connections
func New(conn models.Connection, deps connectors.Deps) (connectors.Connector, error) {
	cfg := conn.Config.Data
	if cfg.APIKey == "" {
		return nil, apperrors.NewValidationError("api_key", "chatwoot requires an api key")
	}
	if cfg.AccountID == "" {
		return nil, apperrors.NewValidationError("account_id", "chatwoot requires an account id")
	}
	baseURL := cfg.APIURL
	if baseURL == "" {
		baseURL = DefaultAPIURL
	}

	headers := map[string]string{"api_access_token": cfg.APIKey}
	return &Connector{
		api:       connectors.NewAPIClient(Provider, baseURL, headers, connectors.RateLimit(cfg, defaultRate), deps),
		accountID: cfg.AccountID,
	}, nil
}

func (c *Connector) Provider() string { return Provider }

func (c *Connector) EntityTypes() []string {
	return []string{models.EntityTypeContact, models.EntityTypeConversation}
}

func (c *Connector) path(resource string) string {
	return fmt.Sprintf("/api/v1/accounts/%s/%s", url.PathEscape(c.accountID), resource)
}

func (c *Connector) TestConnection(ctx context.Context) (bool, error) {
	_, err := c.api.Get(ctx, c.path("contacts"), url.Values{"page": {"1"}})
	return connectors.ProbeResult(err)
}

// Pull pages through every record. Chatwoot has no updated-since filter, so since is ignored and
// unchanged records are skipped by fingerprint.
func (c *Connector) Pull(ctx context.Context, entityType string, _ *time.Time) ([]connectors.ExternalRecord, error) {
	var (
		resource string
		listExpr string
		fields   []string
		pageSize int
	)
	switch entityType {
	case models.EntityTypeContact:
		resource, listExpr, pageSize = "contacts", "payload", perPage
		fields = []string{"email", "name", "phone_number"}
	case models.EntityTypeConversation:
		resource, listExpr, pageSize = "conversations", "data.payload", conversationPageSize
		fields = []string{"id", "status", "messages_count"}
	default:
		return nil, connectors.Unsupported(Provider, entityType)
	}

	records := []connectors.ExternalRecord{}
	for page := 1; page <= maxPages; page++ {
		query := url.Values{"page": {strconv.Itoa(page)}}
		if entityType == models.EntityTypeConversation {
			query.Set("status", "all")
		} else {
			query.Set("per_page", strconv.Itoa(perPage))
		}

		resp, err := c.api.Get(ctx, c.path(resource), query)
		if err != nil {
			return nil, err
		}
		items, err := c.api.Records(resp, listExpr)
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			records = append(records, connectors.ExternalRecord{
				ExternalID:  externalID(item),
				Fingerprint: fingerprint.Fields(item, fields...),
				Payload:     item,
			})
		}
		if len(items) < pageSize {
			return records, nil
		}
	}
	return records, connectors.Truncated(Provider, entityType, maxPages)
}

// externalID is empty for items without a positive numeric id, which the orchestrator rejects.
func externalID(item map[string]any) string {
	id, ok := item["id"].(float64)
	if !ok || id <= 0 {
		return ""
	}
	return strconv.FormatInt(int64(id), 10)
}

func (c *Connector) ToInternal(entityType string, raw map[string]any) (*models.EntityFields, error) {
	switch entityType {
	case models.EntityTypeContact:
		return contactToInternal(raw)
	case models.EntityTypeConversation:
		return conversationToInternal(raw)
	default:
		return nil, connectors.Unsupported(Provider, entityType)
	}
}

func contactToInternal(raw map[string]any) (*models.EntityFields, error) {
	contact, err := utils.Decode[contactPayload](raw)
	if err != nil {
		return nil, err
	}
	attrs, err := models.NewCustomFields(contact.AdditionalAttributes)
	if err != nil {
		return nil, err
	}

	name := contact.Name
	if name == "" {
		name = contact.Email
	}
	if name == "" {
		name = fmt.Sprintf("Contact %d", contact.ID)
	}

	fields := &models.EntityFields{
		Name:         name,
		Email:        contact.Email,
		Phone:        contact.PhoneNumber,
		CustomFields: models.CustomFields{},
	}
	fields.Organization, _ = contact.AdditionalAttributes["company_name"].(string)
	fields.Position, _ = contact.AdditionalAttributes["position"].(string)

	fields.CustomFields.SetProvenance(Provider, "id", strconv.FormatInt(contact.ID, 10))
	fields.CustomFields.SetProvenance(Provider, "identifier", contact.Identifier)
	fields.CustomFields.SetProvenance(Provider, "thumbnail", contact.Thumbnail)
	fields.CustomFields.SetProvenance(Provider, "additional_attributes", attrs)
	return fields, nil
}

func conversationToInternal(raw map[string]any) (*models.EntityFields, error) {
	conv, err := utils.Decode[conversationPayload](raw)
	if err != nil {
		return nil, err
	}

	name := fmt.Sprintf("Conversation %d", conv.ID)
	if conv.Meta.Sender.Name != "" {
		name = fmt.Sprintf("Conversation with %s", conv.Meta.Sender.Name)
	}

	fields := &models.EntityFields{
		Name:         name,
		Tags:         conv.Labels,
		CustomFields: models.CustomFields{"status": connectors.Lookup(conversationStatuses, conv.Status, "active")},
	}
	fields.CustomFields.SetProvenance(Provider, "id", strconv.FormatInt(conv.ID, 10))
	fields.CustomFields.SetProvenance(Provider, "inbox_id", float64(conv.InboxID))
	fields.CustomFields.SetProvenance(Provider, "messages_count", float64(conv.MessagesCount))
	fields.CustomFields.SetProvenance(Provider, "status", conv.Status)

	if conv.Meta.Sender.ID != 0 {
		fields.Links = []models.ExternalLink{{
			Kind:       models.EntityTypeConversation,
			EntityType: models.EntityTypeContact,
			ExternalID: strconv.FormatInt(conv.Meta.Sender.ID, 10),
		}}
	}
	return fields, nil
}

func (c *Connector) ToExternal(entityType string, entity *models.Entity) (map[string]any, error) {
	if entityType != models.EntityTypeContact {
		return nil, connectors.Unsupported(Provider, entityType)
	}

	attrs := map[string]any{}
	if entity.Organization != "" {
		attrs["company_name"] = entity.Organization
	}
	if entity.Position != "" {
		attrs["position"] = entity.Position
	}
	return map[string]any{
		"name":                  entity.Name,
		"email":                 entity.Email,
		"phone_number":          entity.Phone,
		"additional_attributes": attrs,
	}, nil
}

func (c *Connector) Push(ctx context.Context, entityType, externalID string, payload map[string]any) (string, error) {
	if entityType != models.EntityTypeContact {
		return "", connectors.Unsupported(Provider, entityType)
	}

	if externalID != "" {
		_, err := c.api.Do(ctx, http.MethodPut, c.path("contacts/"+url.PathEscape(externalID)), nil, payload)
		return externalID, err
	}

	resp, err := c.api.Do(ctx, http.MethodPost, c.path("contacts"), nil, payload)
	if err != nil {
		return "", err
	}
	id, err := c.api.String(resp, "payload.contact.id")
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", fmt.Errorf("chatwoot did not return a contact id")
	}
	return id, nil
}
