package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscord_SendsEmbed(t *testing.T) {
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDiscord(srv.URL, "dca-bot")
	d.now = func() time.Time { return time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC) }

	long := strings.Repeat("x", 2000)
	err := d.Info(context.Background(), "KRW-BTC take profit", "cycle closed",
		Field{Name: "profit", Value: "12.3%", Inline: true},
		Field{Name: "details", Value: long},
	)
	require.NoError(t, err)

	assert.Equal(t, "dca-bot", got.Username)
	require.Len(t, got.Embeds, 1)
	e := got.Embeds[0]
	assert.Equal(t, "ℹ️ KRW-BTC take profit", e.Title)
	assert.Equal(t, colorInfo, e.Color)
	assert.Equal(t, "2026-05-01T12:00:00Z", e.Timestamp)
	require.Len(t, e.Fields, 2)
	assert.True(t, e.Fields[0].Inline)
	assert.Len(t, e.Fields[1].Value, maxFieldValue)
	assert.True(t, strings.HasSuffix(e.Fields[1].Value, "..."))
}

func TestDiscord_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewDiscord(srv.URL, "").Error(context.Background(), "failure", "boom")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestNop(t *testing.T) {
	var n Notifier = Nop{}
	assert.NoError(t, n.Info(context.Background(), "t", "m"))
	assert.NoError(t, n.Error(context.Background(), "t", "m"))
}
