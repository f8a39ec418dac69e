package cloudflare_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/staticdeploy/internal/adapter/driven/cloudflare"
)

func TestPurge(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any

	mux := http.NewServeMux()
	mux.HandleFunc("POST /zones/zone-1/purge_cache", func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"errors":[],"messages":[],"result":{"id":"purge-9"}}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	edge := cloudflare.NewEdgeCache(cloudflare.WithBaseURL(srv.URL), cloudflare.WithHTTPClient(srv.Client()))

	require.NoError(t, edge.Purge(context.Background(), "zone-1", "cf-token"))
	assert.Equal(t, "Bearer cf-token", gotAuth)
	assert.Equal(t, true, gotBody["purge_everything"])
}

func TestPurge_Forbidden(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"success":false,"errors":[{"code":10000,"message":"Authentication error"}],"messages":[],"result":null}`))
	}))
	defer srv.Close()

	edge := cloudflare.NewEdgeCache(cloudflare.WithBaseURL(srv.URL), cloudflare.WithHTTPClient(srv.Client()))

	err := edge.Purge(context.Background(), "zone-1", "bad-token")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "zone-1")
}
