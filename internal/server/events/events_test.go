package events

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/letterflow/internal/logging"
)

func TestCloudEventsPublisher_Publish(t *testing.T) {
	var gotType, gotSource, gotSubject string
	var got StepEscalated

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotType = r.Header.Get("Ce-Type")
		gotSource = r.Header.Get("Ce-Source")
		gotSubject = r.Header.Get("Ce-Subject")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	p, err := NewCloudEventsPublisher(srv.URL)
	require.NoError(t, err)

	at := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	err = p.Publish(context.Background(), TypeStepEscalated, "l-1", StepEscalated{
		LetterID: "l-1", Step: 2, Role: "hr", SLA: "24h0m0s", PendingSince: at, DetectedAt: at.Add(25 * time.Hour),
	})
	require.NoError(t, err)

	assert.Equal(t, TypeStepEscalated, gotType)
	assert.Equal(t, Source, gotSource)
	assert.Equal(t, "l-1", gotSubject)
	assert.Equal(t, 2, got.Step)
	assert.Equal(t, "hr", got.Role)
}

func TestCloudEventsPublisher_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, err := NewCloudEventsPublisher(srv.URL)
	require.NoError(t, err)
	err = p.Publish(context.Background(), TypeLetterIssued, "l-1", LetterIssued{LetterID: "l-1"})
	assert.Error(t, err)

	srv.Close()
	err = p.Publish(context.Background(), TypeLetterIssued, "l-1", LetterIssued{LetterID: "l-1"})
	assert.Error(t, err)
}

func TestLogPublisher(t *testing.T) {
	var buf bytes.Buffer
	log := logging.NewSlogLogger(slog.New(slog.NewTextHandler(&buf, nil)))

	p := NewLogPublisher(log)
	require.NoError(t, p.Publish(context.Background(), TypeLetterIssued, "l-9", map[string]string{"serial": "HR-2026-000009"}))

	out := buf.String()
	for _, s := range []string{"module=events", "type=" + TypeLetterIssued, "subject=l-9"} {
		assert.True(t, strings.Contains(out, s), "missing %q in %s", s, out)
	}
}

type plainPublisher struct{}

func (plainPublisher) Publish(context.Context, string, string, any) error { return nil }

func TestChannelOf(t *testing.T) {
	ce, err := NewCloudEventsPublisher("http://127.0.0.1:1")
	require.NoError(t, err)

	assert.Equal(t, ChannelCloudEvents, ChannelOf(ce))
	assert.Equal(t, ChannelLog, ChannelOf(NewLogPublisher(logging.Nop{})))
	assert.Equal(t, ChannelCustom, ChannelOf(plainPublisher{}))
}
