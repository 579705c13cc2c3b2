package tavily

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/sentinelmesh/core"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := New("test-key", func(o *Options) {
		o.APIURL = srv.URL
		o.TrustedDomains = []string{"cisa.gov", "nist.gov"}
	})
	require.NoError(t, err)
	return client
}

func TestSearchFiltersUntrustedDomains(t *testing.T) {
	var gotReq searchRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{
				{"title": "Advisory", "url": "https://www.cisa.gov/alert", "content": "patch now", "score": 0.9},
				{"title": "Blog", "url": "https://random.example.com/post", "content": "hot take", "score": 0.95},
			},
		})
	})

	results, err := client.Search(context.Background(), "Log4Shell mitigation", core.AgentPrevention)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, core.SourceWeb, results[0].Source)
	assert.Equal(t, "https://www.cisa.gov/alert", results[0].Provenance)
	assert.Equal(t, "patch now", results[0].Content)

	assert.Equal(t, "security hardening Log4Shell mitigation", gotReq.Query)
	assert.Equal(t, []string{"cisa.gov", "nist.gov"}, gotReq.IncludeDomains)
}

func TestSearchSubdomainIsTrusted(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{
				{"title": "CVE", "url": "https://nvd.nist.gov/vuln/detail/CVE-2024-1234", "content": "details", "score": 0.8},
			},
		})
	})

	results, err := client.Search(context.Background(), "CVE-2024-1234", core.AgentThreatIntelligence)
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestSearchUpstreamError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := client.Search(context.Background(), "anything", core.AgentIncidentResponse)
	assert.ErrorContains(t, err, "status 502")
}

func TestNewRequiresAPIKey(t *testing.T) {
	_, err := New("  ")
	assert.Error(t, err)
}

func TestEnhanceQueryPerAgent(t *testing.T) {
	assert.Equal(t, "incident response q", enhanceQuery("q", core.AgentIncidentResponse))
	assert.Equal(t, "threat intelligence q", enhanceQuery("q", core.AgentThreatIntelligence))
	assert.Equal(t, "security hardening q", enhanceQuery("q", core.AgentPrevention))
	assert.Equal(t, "cybersecurity q", enhanceQuery("q", core.AgentAuto))
}
