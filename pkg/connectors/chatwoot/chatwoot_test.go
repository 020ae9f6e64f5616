package chatwoot

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Ramsey-B/clover/pkg/apperrors"
	"github.com/Ramsey-B/clover/pkg/connectors"
	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/httpclient"
	"github.com/Ramsey-B/clover/pkg/models"
)

func getTestLogger() ectologger.Logger {
	zapLogger, _ := zap.NewDevelopment()
	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}

func newTestConnector(t *testing.T, handler http.HandlerFunc) connectors.Connector {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := httpclient.DefaultConfig()
	cfg.MaxRetries = 0
	deps := connectors.Deps{HTTP: httpclient.NewClient(cfg, getTestLogger()), Logger: getTestLogger()}

	conn, err := New(models.Connection{
		Provider: Provider,
		Config: database.NewJSONB(models.ConnectionConfig{
			APIURL:    server.URL,
			APIKey:    "token",
			AccountID: "7",
			RateLimit: 1000,
		}),
	}, deps)
	require.NoError(t, err)
	return conn
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestNew_RequiresCredentials(t *testing.T) {
	_, err := New(models.Connection{Provider: Provider}, connectors.Deps{})
	assert.True(t, apperrors.IsValidation(err))

	_, err = New(models.Connection{Config: database.NewJSONB(models.ConnectionConfig{APIKey: "k"})}, connectors.Deps{})
	assert.True(t, apperrors.IsValidation(err))
}

func TestPull_Contacts(t *testing.T) {
	conn := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "token", r.Header.Get("api_access_token"))
		assert.Equal(t, "/api/v1/accounts/7/contacts", r.URL.Path)
		writeJSON(w, map[string]any{"payload": []any{
			map[string]any{"id": 1, "name": "Ana", "email": "ana@x.com", "phone_number": "+55 11 99999-0000"},
			map[string]any{"id": 2, "name": "Bruno", "email": "bruno@x.com"},
		}})
	})

	records, err := conn.Pull(context.Background(), models.EntityTypeContact, nil)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "1", records[0].ExternalID)
	assert.NotEmpty(t, records[0].Fingerprint)
	assert.NotEqual(t, records[0].Fingerprint, records[1].Fingerprint)
}

func TestPull_FingerprintIgnoresUntrackedFields(t *testing.T) {
	thumbnail := "a.png"
	conn := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"payload": []any{
			map[string]any{"id": 1, "name": "Ana", "email": "ana@x.com", "thumbnail": thumbnail},
		}})
	})

	first, err := conn.Pull(context.Background(), models.EntityTypeContact, nil)
	require.NoError(t, err)
	thumbnail = "b.png"
	second, err := conn.Pull(context.Background(), models.EntityTypeContact, nil)
	require.NoError(t, err)

	assert.Equal(t, first[0].Fingerprint, second[0].Fingerprint)
}

func TestPull_Conversations(t *testing.T) {
	conn := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/accounts/7/conversations", r.URL.Path)
		assert.Equal(t, "all", r.URL.Query().Get("status"))
		writeJSON(w, map[string]any{"data": map[string]any{"payload": []any{
			map[string]any{"id": 10, "status": "resolved", "meta": map[string]any{"sender": map[string]any{"id": 1}}},
		}}})
	})

	records, err := conn.Pull(context.Background(), models.EntityTypeConversation, nil)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "10", records[0].ExternalID)
}

func TestPull_StopsAtPageLimit(t *testing.T) {
	var pages atomic.Int32
	conn := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		page := int(pages.Add(1))
		payload := make([]any, conversationPageSize)
		for i := range payload {
			payload[i] = map[string]any{"id": page*1000 + i + 1, "status": "open"}
		}
		writeJSON(w, map[string]any{"data": map[string]any{"payload": payload}})
	})

	records, err := conn.Pull(context.Background(), models.EntityTypeConversation, nil)

	var truncated *connectors.TruncatedError
	require.ErrorAs(t, err, &truncated)
	assert.Equal(t, maxPages, truncated.Pages)
	assert.Equal(t, int32(maxPages), pages.Load())
	assert.Len(t, records, maxPages*conversationPageSize)
}

func TestPull_ItemWithoutIDHasNoExternalID(t *testing.T) {
	conn := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"payload": []any{
			map[string]any{"name": "No id"},
			map[string]any{"id": 0, "name": "Zero"},
			map[string]any{"id": 3, "name": "Ana"},
		}})
	})

	records, err := conn.Pull(context.Background(), models.EntityTypeContact, nil)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Empty(t, records[0].ExternalID)
	assert.Empty(t, records[1].ExternalID)
	assert.Equal(t, "3", records[2].ExternalID)
}

func TestPull_UnsupportedEntityType(t *testing.T) {
	conn := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {})
	_, err := conn.Pull(context.Background(), models.EntityTypeDeal, nil)
	assert.True(t, apperrors.IsValidation(err))
}

func TestToInternal_Contact(t *testing.T) {
	conn := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {})

	fields, err := conn.ToInternal(models.EntityTypeContact, map[string]any{
		"id":                    float64(42),
		"email":                 "ana@x.com",
		"phone_number":          "+5511999990000",
		"identifier":            "crm-42",
		"additional_attributes": map[string]any{"company_name": "Acme", "position": "CTO"},
	})
	require.NoError(t, err)

	assert.Equal(t, "ana@x.com", fields.Name)
	assert.Equal(t, "Acme", fields.Organization)
	assert.Equal(t, "CTO", fields.Position)
	id, ok := fields.CustomFields.Get("source.chatwoot.id")
	require.True(t, ok)
	assert.Equal(t, "42", id)
	company, ok := fields.CustomFields.Get("source.chatwoot.additional_attributes.company_name")
	require.True(t, ok)
	assert.Equal(t, "Acme", company)
}

func TestToInternal_RejectsInvalidPayload(t *testing.T) {
	conn := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {})

	_, err := conn.ToInternal(models.EntityTypeContact, map[string]any{"id": float64(1), "email": "not-an-email"})
	assert.True(t, apperrors.IsValidation(err))

	_, err = conn.ToInternal(models.EntityTypeContact, map[string]any{"name": "no id"})
	assert.True(t, apperrors.IsValidation(err))
}

func TestToInternal_Conversation(t *testing.T) {
	conn := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {})

	tests := []struct {
		status   string
		expected string
	}{
		{"open", "active"},
		{"pending", "active"},
		{"resolved", "completed"},
		{"snoozed", "snoozed"},
		{"unknown", "active"},
	}
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			fields, err := conn.ToInternal(models.EntityTypeConversation, map[string]any{
				"id":     float64(10),
				"status": tt.status,
				"labels": []any{"vip"},
				"meta":   map[string]any{"sender": map[string]any{"id": float64(5), "name": "Ana"}},
			})
			require.NoError(t, err)
			assert.Equal(t, tt.expected, fields.CustomFields["status"])
			assert.Equal(t, []string{"vip"}, fields.Tags)
			require.Len(t, fields.Links, 1)
			assert.Equal(t, models.ExternalLink{Kind: "conversation", EntityType: "contact", ExternalID: "5"}, fields.Links[0])
		})
	}
}

func TestPush_CreateAndUpdate(t *testing.T) {
	var methods []string
	conn := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		methods = append(methods, r.Method+" "+r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Ana", body["name"])
		writeJSON(w, map[string]any{"payload": map[string]any{"contact": map[string]any{"id": 99}}})
	})

	payload, err := conn.ToExternal(models.EntityTypeContact, &models.Entity{Name: "Ana", Organization: "Acme"})
	require.NoError(t, err)

	id, err := conn.Push(context.Background(), models.EntityTypeContact, "", payload)
	require.NoError(t, err)
	assert.Equal(t, "99", id)

	id, err = conn.Push(context.Background(), models.EntityTypeContact, "99", payload)
	require.NoError(t, err)
	assert.Equal(t, "99", id)

	assert.Equal(t, []string{"POST /api/v1/accounts/7/contacts", "PUT /api/v1/accounts/7/contacts/99"}, methods)
}

func TestTestConnection(t *testing.T) {
	ok := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"payload": []any{}})
	})
	valid, err := ok.TestConnection(context.Background())
	require.NoError(t, err)
	assert.True(t, valid)

	unauthorized := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	valid, err = unauthorized.TestConnection(context.Background())
	require.NoError(t, err)
	assert.False(t, valid)
}
