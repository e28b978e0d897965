package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"colorlogic/internal/catalog"
	"colorlogic/internal/control"
	"colorlogic/internal/ha"
	"colorlogic/internal/planner"
	"colorlogic/internal/plugins/lights"
	"colorlogic/internal/shadowstate"
	"colorlogic/internal/state"
	"colorlogic/internal/tracker"
)

type fakeController struct {
	mu     sync.Mutex
	status tracker.Status

	modeErr  error
	colorErr error
	nextErr  error
	resetErr error
	powerErr error

	modeCalls  []string
	colorCalls [][3]uint8
	nextCalls  int
	resetCalls int
	powerCalls []bool
}

func (f *fakeController) SetMode(modeKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.modeErr != nil {
		return f.modeErr
	}
	f.modeCalls = append(f.modeCalls, modeKey)
	return nil
}

func (f *fakeController) SetColor(r, g, b uint8) (catalog.Mode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.colorErr != nil {
		return catalog.Mode{}, f.colorErr
	}
	f.colorCalls = append(f.colorCalls, [3]uint8{r, g, b})
	mode, err := catalog.Find("emerald")
	if err != nil {
		return catalog.Mode{}, err
	}
	return mode, nil
}

func (f *fakeController) NextMode() (catalog.Mode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.nextErr != nil {
		return catalog.Mode{}, f.nextErr
	}
	f.nextCalls++
	mode, err := catalog.Find("cloud_white")
	if err != nil {
		return catalog.Mode{}, err
	}
	return mode, nil
}

func (f *fakeController) Reset() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resetErr != nil {
		return f.resetErr
	}
	f.resetCalls++
	return nil
}

func (f *fakeController) SetPower(on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.powerErr != nil {
		return f.powerErr
	}
	f.powerCalls = append(f.powerCalls, on)
	return nil
}

func (f *fakeController) Status() tracker.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func idleStatus(t *testing.T, modeKey string) tracker.Status {
	t.Helper()
	mode, err := catalog.Find(modeKey)
	require.NoError(t, err)
	return tracker.Status{
		Light:      "pool",
		Believed:   &mode,
		Power:      true,
		PowerKnown: true,
		State:      tracker.StateIdle,
		Operation:  tracker.OpNone,
	}
}

func newLightsFixture(t *testing.T) (*Server, *fakeController) {
	t.Helper()

	mockClient := ha.NewMockClient()
	mockClient.SetState("input_boolean.pool_lights_enabled", "on", nil)
	mockClient.SetState("input_boolean.colorlogic_resync", "off", nil)
	require.NoError(t, mockClient.Connect())

	stateManager := state.NewManager(mockClient, zap.NewNop(), false)
	require.NoError(t, stateManager.SyncFromHA())

	registry := control.NewRegistry()
	fake := &fakeController{status: idleStatus(t, "emerald")}
	require.NoError(t, registry.Register("pool", fake))

	server := NewServer(stateManager, registry, shadowstate.NewSubscriptionRegistry(), zap.NewNop(), 8081)
	return server, fake
}

func TestListLights(t *testing.T) {
	server, _ := newLightsFixture(t)

	w := doRequest(t, server, http.MethodGet, "/api/lights", "", nil)

	require.Equal(t, http.StatusOK, w.Code)

	var response map[string][]LightStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))

	lightList := response["lights"]
	require.Len(t, lightList, 1)
	assert.Equal(t, "pool", lightList[0].Name)
	assert.Equal(t, "emerald", lightList[0].Mode)
	assert.Equal(t, 6, lightList[0].ModeIndex)
	assert.Equal(t, "idle", lightList[0].State)
	require.NotNil(t, lightList[0].Power)
	assert.True(t, *lightList[0].Power)
}

func TestGetLight(t *testing.T) {
	server, _ := newLightsFixture(t)

	w := doRequest(t, server, http.MethodGet, "/api/lights/pool", "", nil)

	require.Equal(t, http.StatusOK, w.Code)

	var status LightStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
	assert.Equal(t, "pool", status.Name)
	assert.Equal(t, "emerald", status.Mode)
	assert.Empty(t, status.Operation, "idle lights report no operation")
}

func TestGetLightUnknown(t *testing.T) {
	server, _ := newLightsFixture(t)

	w := doRequest(t, server, http.MethodGet, "/api/lights/fountain", "", nil)

	require.Equal(t, http.StatusNotFound, w.Code)

	var response map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Contains(t, response["error"], "fountain")
}

func TestGetLightDesynced(t *testing.T) {
	server, fake := newLightsFixture(t)
	fake.status = tracker.Status{
		Light:     "pool",
		State:     tracker.StateDesynced,
		Operation: tracker.OpNone,
		LastError: "confirmation timed out",
	}

	w := doRequest(t, server, http.MethodGet, "/api/lights/pool", "", nil)

	require.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	var status LightStatus
	require.NoError(t, json.Unmarshal([]byte(body), &status))
	assert.Equal(t, "desynced", status.State)
	assert.Equal(t, "confirmation timed out", status.LastError)
	assert.NotContains(t, body, `"mode"`, "unknown mode is omitted")
	assert.NotContains(t, body, `"power"`, "unknown relay state is omitted")
}

func TestSetModeByKey(t *testing.T) {
	server, fake := newLightsFixture(t)

	w := doRequest(t, server, http.MethodPost, "/api/lights/pool/mode", `{"mode": "Deep Blue Sea"}`, nil)

	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, []string{"deep_blue_sea"}, fake.modeCalls)

	var status LightStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
	assert.Equal(t, "pool", status.Name)
}

func TestSetModeByIndex(t *testing.T) {
	server, fake := newLightsFixture(t)

	w := doRequest(t, server, http.MethodPost, "/api/lights/pool/mode", `{"index": 3}`, nil)

	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, []string{"royal_blue"}, fake.modeCalls)
}

func TestSetModeUnknown(t *testing.T) {
	server, fake := newLightsFixture(t)

	w := doRequest(t, server, http.MethodPost, "/api/lights/pool/mode", `{"mode": "disco_inferno"}`, nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Empty(t, fake.modeCalls)
}

func TestSetModeIndexOutOfRange(t *testing.T) {
	server, fake := newLightsFixture(t)

	w := doRequest(t, server, http.MethodPost, "/api/lights/pool/mode", `{"index": 23}`, nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Empty(t, fake.modeCalls)
}

func TestSetModeBadRequests(t *testing.T) {
	server, _ := newLightsFixture(t)

	tests := []struct {
		name string
		body string
	}{
		{name: "empty body", body: ""},
		{name: "malformed json", body: `{"mode": `},
		{name: "neither mode nor index", body: `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(t, server, http.MethodPost, "/api/lights/pool/mode", tt.body, nil)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestSetModeBusyConflicts(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "operation in progress", err: tracker.ErrOperationInProgress},
		{name: "lights disabled", err: lights.ErrLightsDisabled},
		{name: "indeterminate state", err: planner.ErrIndeterminateState},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, fake := newLightsFixture(t)
			fake.modeErr = tt.err

			w := doRequest(t, server, http.MethodPost, "/api/lights/pool/mode", `{"mode": "emerald"}`, nil)

			assert.Equal(t, http.StatusConflict, w.Code)
		})
	}
}

func TestSetModeStoppedController(t *testing.T) {
	server, fake := newLightsFixture(t)
	fake.modeErr = tracker.ErrStopped

	w := doRequest(t, server, http.MethodPost, "/api/lights/pool/mode", `{"mode": "emerald"}`, nil)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestSetColor(t *testing.T) {
	server, fake := newLightsFixture(t)

	w := doRequest(t, server, http.MethodPost, "/api/lights/pool/color", `{"r": 0, "g": 201, "b": 87}`, nil)

	require.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, fake.colorCalls, 1)
	assert.Equal(t, [3]uint8{0, 201, 87}, fake.colorCalls[0])
}

func TestSetColorZeroChannelIsValid(t *testing.T) {
	server, fake := newLightsFixture(t)

	w := doRequest(t, server, http.MethodPost, "/api/lights/pool/color", `{"r": 0, "g": 0, "b": 0}`, nil)

	require.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, fake.colorCalls, 1)
	assert.Equal(t, [3]uint8{0, 0, 0}, fake.colorCalls[0])
}

func TestSetColorMissingChannel(t *testing.T) {
	server, fake := newLightsFixture(t)

	w := doRequest(t, server, http.MethodPost, "/api/lights/pool/color", `{"r": 255, "g": 20}`, nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, fake.colorCalls)
}

func TestNextMode(t *testing.T) {
	server, fake := newLightsFixture(t)

	w := doRequest(t, server, http.MethodPost, "/api/lights/pool/next", "", nil)

	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, 1, fake.nextCalls)
}

func TestReset(t *testing.T) {
	server, fake := newLightsFixture(t)

	w := doRequest(t, server, http.MethodPost, "/api/lights/pool/reset", "", nil)

	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, 1, fake.resetCalls)
}

func TestResetWhileBusy(t *testing.T) {
	server, fake := newLightsFixture(t)
	fake.resetErr = tracker.ErrOperationInProgress

	w := doRequest(t, server, http.MethodPost, "/api/lights/pool/reset", "", nil)

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestSetPower(t *testing.T) {
	server, fake := newLightsFixture(t)

	w := doRequest(t, server, http.MethodPost, "/api/lights/pool/power", `{"on": false}`, nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []bool{false}, fake.powerCalls)
}

func TestSetPowerMissingField(t *testing.T) {
	server, fake := newLightsFixture(t)

	w := doRequest(t, server, http.MethodPost, "/api/lights/pool/power", `{}`, nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, fake.powerCalls)
}

func TestCommandMethodNotAllowed(t *testing.T) {
	server, _ := newLightsFixture(t)

	w := doRequest(t, server, http.MethodGet, "/api/lights/pool/mode", "", nil)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestProtectedUntilSerialization(t *testing.T) {
	server, fake := newLightsFixture(t)
	until := time.Date(2025, 6, 15, 12, 0, 45, 0, time.UTC)
	fake.status.ProtectedUntil = until
	fake.status.State = tracker.StateAwaitingConfirmation
	fake.status.Operation = tracker.OpSettingMode
	fake.status.PendingPulses = 2

	w := doRequest(t, server, http.MethodGet, "/api/lights/pool", "", nil)

	require.Equal(t, http.StatusOK, w.Code)

	var status LightStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
	assert.Equal(t, "2025-06-15T12:00:45Z", status.ProtectedUntil)
	assert.Equal(t, "setting_mode", status.Operation)
	assert.Equal(t, 2, status.PendingPulses)
}
