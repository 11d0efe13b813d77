package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/medguardian/adherence-engine/adherence/store"
	"github.com/medguardian/adherence-engine/care"
	"github.com/medguardian/adherence-engine/factory"
	"github.com/medguardian/adherence-engine/logging"
)

// testTokenTTL outlives the day-crossing tests.
const testTokenTTL = 7 * 24 * time.Hour

// testServer runs the full router over memory stores. The clock starts on
// Wednesday 2025-03-12 at 09:00 UTC.
type testServer struct {
	t      *testing.T
	h      *Handler
	router http.Handler
	mem    *store.Memory
	now    time.Time
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{
		t:   t,
		mem: store.NewMemory(),
		now: time.Date(2025, time.March, 12, 9, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return ts.now }

	auth := NewAuthenticator("test-secret", testTokenTTL)
	auth.Now = clock

	ts.h = NewHandler(Deps{
		Store: ts.mem,
		Runs:  ts.mem,
		Users: care.NewMemory(),
		Auth:  auth,
		Log:   logging.Discard(),
		Now:   clock,

		PasswordCost: bcrypt.MinCost,
	})
	ts.router = NewRouter(ts.h, RouterOptions{Scenarios: true})
	return ts
}

func (ts *testServer) do(method, path, token string, body any) *httptest.ResponseRecorder {
	ts.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(ts.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

const testPassword = "secret-pass"

// register creates a user and returns its session.
func (ts *testServer) register(username string) RegisterResponse {
	ts.t.Helper()
	rec := ts.do(http.MethodPost, "/api/users", "", RegisterRequest{Username: username, Password: testPassword})
	require.Equal(ts.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeAs[RegisterResponse](ts.t, rec)
}

func (ts *testServer) createMedication(token string, jsonStr string) MedicationDTO {
	ts.t.Helper()
	var body factory.MedicationJSON
	require.NoError(ts.t, json.Unmarshal([]byte(jsonStr), &body))
	rec := ts.do(http.MethodPost, "/api/medications", token, body)
	require.Equal(ts.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeAs[MedicationDTO](ts.t, rec)
}

func (ts *testServer) plans(token, path string) []PlanDTO {
	ts.t.Helper()
	rec := ts.do(http.MethodGet, path, token, nil)
	require.Equal(ts.t, http.StatusOK, rec.Code, rec.Body.String())
	return decodeAs[[]PlanDTO](ts.t, rec)
}

func decodeAs[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func scheduled(plans []PlanDTO) []string {
	out := make([]string, len(plans))
	for i, p := range plans {
		out[i] = p.ScheduledTime
	}
	return out
}
