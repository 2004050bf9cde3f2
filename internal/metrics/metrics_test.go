package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

func TestServerEndpoints(t *testing.T) {
	srv := NewServer("127.0.0.1:0", zerolog.Nop())

	DecisionsTotal.WithLabelValues("BLOCK_QUOTA", "quota").Inc()

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Fatalf("unexpected health response: %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "braintrap_decisions_total") {
		t.Fatal("expected decisions counter in exposition")
	}
}

func TestCountersAreRegistered(t *testing.T) {
	before := testutil.ToFloat64(ChallengesTotal.WithLabelValues("completed"))
	ChallengesTotal.WithLabelValues("completed").Inc()
	if got := testutil.ToFloat64(ChallengesTotal.WithLabelValues("completed")); got != before+1 {
		t.Fatalf("expected %v, got %v", before+1, got)
	}
}
