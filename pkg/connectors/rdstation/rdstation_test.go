package rdstation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

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
	conn, err := New(models.Connection{
		Provider: Provider,
		Config:   database.NewJSONB(models.ConnectionConfig{APIURL: server.URL, APIKey: "secret"}),
	}, connectors.Deps{HTTP: httpclient.NewClient(cfg, getTestLogger()), Logger: getTestLogger()})
	require.NoError(t, err)
	return conn
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestPull_SendsIncrementalFilter(t *testing.T) {
	since := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	conn := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "/platform/contacts", r.URL.Path)
		assert.Equal(t, "2024-05-01T12:00:00Z", r.URL.Query().Get("updated_since"))
		writeJSON(w, map[string]any{"contacts": []any{
			map[string]any{"uuid": "u-1", "name": "Ana", "email": "ana@x.com"},
		}})
	})

	records, err := conn.Pull(context.Background(), models.EntityTypeContact, &since)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "u-1", records[0].ExternalID)
}

func TestToInternal(t *testing.T) {
	conn := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {})

	fields, err := conn.ToInternal(models.EntityTypeContact, map[string]any{
		"uuid":           "u-1",
		"email":          "ana@x.com",
		"personal_phone": "11 3333-4444",
		"tags":           []any{"lead"},
		"cf":             map[string]any{"cf_plan": "pro"},
	})
	require.NoError(t, err)

	assert.Equal(t, "ana@x.com", fields.Name)
	assert.Equal(t, "11 3333-4444", fields.Phone)
	assert.Equal(t, []string{"lead"}, fields.Tags)
	plan, ok := fields.CustomFields.Get("source.rdstation.cf.cf_plan")
	require.True(t, ok)
	assert.Equal(t, "pro", plan)

	_, err = conn.ToInternal(models.EntityTypeContact, map[string]any{"email": "ana@x.com"})
	assert.True(t, apperrors.IsValidation(err))
}

func TestToExternal_RequiresEmail(t *testing.T) {
	conn := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {})
	_, err := conn.ToExternal(models.EntityTypeContact, &models.Entity{Name: "Ana"})
	assert.True(t, apperrors.IsValidation(err))
}

func TestPush(t *testing.T) {
	var calls []string
	conn := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Method+" "+r.URL.Path)
		writeJSON(w, map[string]any{"uuid": "u-9"})
	})

	payload, err := conn.ToExternal(models.EntityTypeContact, &models.Entity{Name: "Ana", Email: "ana@x.com"})
	require.NoError(t, err)

	id, err := conn.Push(context.Background(), models.EntityTypeContact, "", payload)
	require.NoError(t, err)
	assert.Equal(t, "u-9", id)

	_, err = conn.Push(context.Background(), models.EntityTypeContact, "u-9", payload)
	require.NoError(t, err)

	assert.Equal(t, []string{"POST /platform/contacts", "PATCH /platform/contacts/uuid:u-9"}, calls)
}

func TestPull_ProviderRejection(t *testing.T) {
	conn := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	_, err := conn.Pull(context.Background(), models.EntityTypeContact, nil)
	var statusErr *httpclient.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusForbidden, statusErr.StatusCode)
}
