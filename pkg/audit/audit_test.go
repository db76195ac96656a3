package audit

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gevidence-labs/gevidence/core/pkg/auth"
	"github.com/gevidence-labs/gevidence/core/pkg/eventlog"
)

func TestLoggerWritesStructuredJSON(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerWithWriter(&buf)

	ctx := auth.WithIdentity(context.Background(), auth.Identity{Principal: "0xcompany"})
	err := l.Record(ctx, EventMutation, "POST", "/v1/evidence", map[string]interface{}{"title": "solar farm"})
	require.NoError(t, err)

	line := buf.String()
	require.True(t, strings.HasPrefix(line, "AUDIT: "))

	var evt Event
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(line), "AUDIT: ")), &evt))
	require.Equal(t, "0xcompany", evt.ActorID)
	require.Equal(t, EventMutation, evt.Type)
	require.Equal(t, "/v1/evidence", evt.Resource)
	require.NotEmpty(t, evt.ID)
}

func TestLoggerDefaultsActorToSystem(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerWithWriter(&buf)

	require.NoError(t, l.Record(context.Background(), EventSystem, "startup", "gevd", nil))

	var evt Event
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(buf.String()), "AUDIT: ")), &evt))
	require.Equal(t, "system", evt.ActorID)
}

func TestChainLoggerAppendsToAuditScope(t *testing.T) {
	log := eventlog.New()
	l := NewChainLogger(log)

	ctx := auth.WithIdentity(context.Background(), auth.Identity{Principal: "0xverifier"})
	require.NoError(t, l.Record(ctx, EventFunding, "contribute", "/v1/campaigns/1/contribute", map[string]interface{}{
		"value_wei": "1200000000000000000",
	}))

	entries := log.Entries(AuditScope, 0)
	require.Len(t, entries, 1)
	require.Equal(t, "contribute", entries[0].Kind)
	require.Equal(t, "0xverifier", entries[0].Actor)
	require.Equal(t, "FUNDING", entries[0].Fields["type"])
	require.Equal(t, "1200000000000000000", entries[0].Fields["meta.value_wei"])

	ok, _ := log.Verify(AuditScope)
	require.True(t, ok)
}

func TestChainLoggerFailsClosedWithoutLog(t *testing.T) {
	l := NewChainLogger(nil)
	require.Error(t, l.Record(context.Background(), EventSystem, "startup", "gevd", nil))
}

func TestExporterGeneratesVerifiedPack(t *testing.T) {
	log := eventlog.New()
	_, err := log.Append("campaign/1", "Contributed", "0xbacker", map[string]any{"value_wei": "500"})
	require.NoError(t, err)
	_, err = log.Append("campaign/1", "CampaignFinalized", "0xcompany", map[string]any{"successful": true})
	require.NoError(t, err)

	e := NewExporter(log)
	pack, checksum, err := e.GeneratePack(context.Background(), ExportRequest{Scope: "campaign/1"})
	require.NoError(t, err)
	require.Len(t, checksum, 64)

	zr, err := zip.NewReader(bytes.NewReader(pack), int64(len(pack)))
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range zr.File {
		names[f.Name] = true
	}
	require.True(t, names["entries.json"])
	require.True(t, names["manifest.json"])
	require.True(t, names["README.txt"])

	mf, err := zr.Open("manifest.json")
	require.NoError(t, err)
	defer mf.Close()
	var manifest map[string]interface{}
	require.NoError(t, json.NewDecoder(mf).Decode(&manifest))
	require.Equal(t, "campaign/1", manifest["scope"])
	require.Equal(t, float64(2), manifest["entry_count"])
	require.Equal(t, log.Head("campaign/1"), manifest["chain_head"])
}

func TestExporterValidation(t *testing.T) {
	e := NewExporter(eventlog.New())
	_, _, err := e.GeneratePack(context.Background(), ExportRequest{})
	require.ErrorIs(t, err, ErrEmptyScope)

	nilExp := NewExporter(nil)
	_, _, err = nilExp.GeneratePack(context.Background(), ExportRequest{Scope: "reward"})
	require.ErrorIs(t, err, ErrLogNotConfigured)
}

func TestMiddlewareRecordsMutationsOnly(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerWithWriter(&buf)

	handler := Middleware(l)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/campaigns", nil))
	require.Empty(t, buf.String())

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/campaigns", nil))
	require.Contains(t, buf.String(), "/v1/campaigns")
	require.Contains(t, buf.String(), string(EventMutation))
}
