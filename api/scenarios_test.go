package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListScenarios(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(http.MethodGet, "/api/scenarios", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeAs[[]ScenarioDTO](t, rec), len(scenarios))
}

func TestLoadScenario_DailyRoutine(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/api/scenarios/load", "", LoadScenarioRequest{ScenarioID: "daily-routine"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	loaded := decodeAs[ScenarioLoadedDTO](t, rec)
	require.Len(t, loaded.Users, 1)
	alex := loaded.Users[0]

	// Wednesday: Vitamin D once, Metformin twice, no weekend Omega-3
	today := ts.plans(alex.Token, "/api/plans/today")
	assert.Len(t, today, 3)
	for _, p := range today {
		assert.False(t, p.IsTaken)
	}

	// The six previous days are all taken; Sat 03-08 and Sun 03-09 add Omega-3
	past := ts.plans(alex.Token, "/api/plans?from=2025-03-06&to=2025-03-11")
	assert.Len(t, past, 6*3+2)
	for _, p := range past {
		assert.True(t, p.IsTaken, "%s %s %s", p.PlanDate, p.ScheduledTime, p.MedicationName)
	}
	assert.Equal(t, 6*3+2+3, loaded.Plans)

	rec = ts.do(http.MethodGet, "/api/scenarios/current", "", nil)
	assert.Equal(t, "daily-routine", decodeAs[ScenarioDTO](t, rec).ID)

	// scenario users can log in with the demo password
	rec = ts.do(http.MethodPost, "/api/login", "", LoginRequest{Username: "alex", Password: DemoPassword})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, alex.User.ID, decodeAs[RegisterResponse](t, rec).User.ID)
}

func TestLoadScenario_FamilyCare(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/api/scenarios/load", "", LoadScenarioRequest{ScenarioID: "family-care"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	loaded := decodeAs[ScenarioLoadedDTO](t, rec)
	require.Len(t, loaded.Users, 2)
	rosa, sam := loaded.Users[0], loaded.Users[1]

	// Wednesday: Lisinopril daily and Atorvastatin Mon/Wed/Fri
	plans := ts.plans(sam.Token, "/api/care/"+rosa.User.ID+"/plans")
	assert.Equal(t, []string{"07:30", "21:00"}, scheduled(plans))
}

func TestLoadScenario_MakeupDose(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/api/scenarios/load", "", LoadScenarioRequest{ScenarioID: "makeup-dose"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	jordan := decodeAs[ScenarioLoadedDTO](t, rec).Users[0]

	rec = ts.do(http.MethodGet, "/api/checkins", jordan.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decodeAs[[]CheckinDTO](t, rec)
	require.Len(t, history, 1)
	assert.True(t, history[0].IsMakeup)
	assert.Equal(t, "forgot before leaving for work", history[0].MakeupReason)
	assert.Equal(t, "2025-03-11T12:15:00Z", history[0].ActualAt)
}

func TestLoadScenario_ReplacesPreviousData(t *testing.T) {
	ts := newTestServer(t)
	ts.register("leftover")

	rec := ts.do(http.MethodPost, "/api/scenarios/load", "", LoadScenarioRequest{ScenarioID: "makeup-dose"})
	require.Equal(t, http.StatusOK, rec.Code)

	// the earlier user is gone, so the name is free again
	ts.register("leftover")

	rec = ts.do(http.MethodPost, "/api/scenarios/load", "", LoadScenarioRequest{ScenarioID: "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResetDatabase(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(http.MethodPost, "/api/scenarios/load", "", LoadScenarioRequest{ScenarioID: "family-care"})
	require.Equal(t, http.StatusOK, rec.Code)
	rosa := decodeAs[ScenarioLoadedDTO](t, rec).Users[0]

	rec = ts.do(http.MethodPost, "/api/scenarios/reset", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// the token still verifies but its user no longer exists
	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodGet, "/api/me", rosa.Token, nil).Code)
	rec = ts.do(http.MethodGet, "/api/scenarios/current", "", nil)
	assert.Equal(t, "null\n", rec.Body.String())
}
