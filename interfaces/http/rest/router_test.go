package rest

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/framefield/tooll-sub003/application/commands"
	"github.com/framefield/tooll-sub003/application/history"
	"github.com/framefield/tooll-sub003/domain/config"
	"github.com/framefield/tooll-sub003/domain/core/aggregates"
	"github.com/framefield/tooll-sub003/domain/core/entities"
	"github.com/framefield/tooll-sub003/domain/core/valueobjects"
	"github.com/framefield/tooll-sub003/infrastructure/catalog"
	"github.com/framefield/tooll-sub003/pkg/errors"
	"github.com/framefield/tooll-sub003/pkg/observability"
)

const testCatalog = `
root: user.Project
definitions:
  - name: Value
    namespace: lib.math
    inputs:
      - {name: In, type: float, default: 1}
    outputs:
      - {name: Out, type: float}
  - name: Project
    namespace: user
`

type testServer struct {
	handler http.Handler
	stack   *history.Stack
	reg     *aggregates.Registry
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	f, err := catalog.Parse(strings.NewReader(testCatalog))
	require.NoError(t, err)
	reg, err := f.Build(config.DefaultDomainConfig(), nil)
	require.NoError(t, err)

	collector := observability.NewCollector("test")
	stack := history.NewStack(reg, history.WithMetrics(collector))
	rt := NewRouter(stack, nil, errors.NewErrorHandler(nil, false), collector, "")
	return &testServer{handler: rt.Setup(), stack: stack, reg: reg}
}

func (s *testServer) do(t *testing.T, method, path string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, httptest.NewRequest(method, path, body))
	return rec
}

func (s *testServer) definition(t *testing.T, name string) *entities.Definition {
	t.Helper()
	def, err := s.reg.DefinitionByName(name)
	require.NoError(t, err)
	return def
}

func intentBody(t *testing.T, operation string, params interface{}) []byte {
	t.Helper()
	raw, err := json.Marshal(params)
	require.NoError(t, err)
	body, err := json.Marshal(commands.Intent{Operation: operation, Params: raw})
	require.NoError(t, err)
	return body
}

func (s *testServer) addOperatorIntent(t *testing.T) []byte {
	t.Helper()
	return intentBody(t, "AddOperator", map[string]interface{}{
		"definition": s.definition(t, "lib.math.Value").ID,
		"position":   valueobjects.NewPosition(100, 100),
	})
}

// placeValue adds a Value operator through the API and returns its ID.
func (s *testServer) placeValue(t *testing.T) uuid.UUID {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/v1/commands", bytes.NewReader(s.addOperatorIntent(t)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	root, err := s.reg.ResolveComposition(s.reg.RootScope())
	require.NoError(t, err)
	require.Len(t, root.Children, 1)
	return root.ChildIDs()[0]
}

func decodeView(t *testing.T, rec *httptest.ResponseRecorder) history.View {
	t.Helper()
	var v history.View
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func TestRouter_CommandUndoRedo(t *testing.T) {
	// Arrange
	srv := newTestServer(t)

	// Act
	created := srv.do(t, http.MethodPost, "/api/v1/commands", bytes.NewReader(srv.addOperatorIntent(t)))

	// Assert
	require.Equal(t, http.StatusCreated, created.Code, created.Body.String())
	view := decodeView(t, created)
	assert.True(t, view.CanUndo)
	assert.Equal(t, []string{"Add Operator"}, view.Undo)

	steps := []struct {
		path     string
		wantDone bool
		wantUndo bool
		wantRedo bool
	}{
		{path: "/api/v1/history/undo", wantDone: true, wantUndo: false, wantRedo: true},
		{path: "/api/v1/history/undo", wantDone: false, wantUndo: false, wantRedo: true},
		{path: "/api/v1/history/redo", wantDone: true, wantUndo: true, wantRedo: false},
		{path: "/api/v1/history/redo", wantDone: false, wantUndo: true, wantRedo: false},
	}
	for _, step := range steps {
		rec := srv.do(t, http.MethodPost, step.path, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var resp ActionResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, step.wantDone, resp.Done, step.path)
		assert.Equal(t, step.wantUndo, resp.History.CanUndo, step.path)
		assert.Equal(t, step.wantRedo, resp.History.CanRedo, step.path)
	}
}

func TestRouter_RejectsBadCommands(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{name: "not json", body: "{", wantStatus: http.StatusBadRequest},
		{name: "missing operation", body: `{"params":{}}`, wantStatus: http.StatusBadRequest},
		{name: "unknown operation", body: `{"operation":"Teleport","params":{}}`, wantStatus: http.StatusBadRequest},
		{name: "captured record", body: `{"type":"AddOperator","version":1,"payload":{"instance":null}}`, wantStatus: http.StatusBadRequest},
		{name: "null params", body: `{"operation":"AddOperator","params":null}`, wantStatus: http.StatusBadRequest},
		{name: "unknown definition", body: `{"operation":"AddOperator","params":{"definition":"` + uuid.NewString() + `"}}`, wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t)

			rec := srv.do(t, http.MethodPost, "/api/v1/commands", strings.NewReader(tt.body))

			assert.Equal(t, tt.wantStatus, rec.Code)
			var body errors.ErrorResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.NotEmpty(t, body.Type)
			assert.False(t, srv.stack.CanUndo())
		})
	}
}

func TestRouter_GraphAndClear(t *testing.T) {
	srv := newTestServer(t)
	require.Equal(t, http.StatusCreated, srv.do(t, http.MethodPost, "/api/v1/commands", bytes.NewReader(srv.addOperatorIntent(t))).Code)

	graph := srv.do(t, http.MethodGet, "/api/v1/graph", nil)
	require.Equal(t, http.StatusOK, graph.Code)
	var snap aggregates.Snapshot
	require.NoError(t, json.NewDecoder(graph.Body).Decode(&snap))
	assert.Equal(t, srv.reg.RootID(), snap.Root)
	assert.Len(t, snap.Definitions[snap.Root].Children, 1)

	cleared := srv.do(t, http.MethodDelete, "/api/v1/history", nil)
	require.Equal(t, http.StatusOK, cleared.Code)
	view := decodeView(t, cleared)
	assert.False(t, view.CanUndo)
	assert.Empty(t, view.Undo)
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	srv := newTestServer(t)

	health := srv.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, health.Code)

	metrics := srv.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, metrics.Code)
	assert.Contains(t, metrics.Body.String(), `test_http_requests_total{method="GET",route="/health",status="200"} 1`)
}

func TestRouter_SetValueIsCapturedOnServer(t *testing.T) {
	// Arrange
	srv := newTestServer(t)
	id := srv.placeValue(t)
	in, _ := srv.definition(t, "lib.math.Value").InputByName("In")
	require.NotNil(t, in)
	before := srv.stack.Snapshot()

	// Act: previous is not a parameter and must be ignored
	body := intentBody(t, "SetValue", map[string]interface{}{
		"instance": id,
		"input":    in.ID,
		"value":    valueobjects.Float(5),
		"previous": valueobjects.Float(42),
	})
	created := srv.do(t, http.MethodPost, "/api/v1/commands", bytes.NewReader(body))
	undone := srv.do(t, http.MethodPost, "/api/v1/history/undo", nil)

	// Assert
	require.Equal(t, http.StatusCreated, created.Code, created.Body.String())
	require.Equal(t, http.StatusOK, undone.Code)
	assert.Equal(t, before, srv.stack.Snapshot())
}

func TestRouter_RejectsValueOfWrongKind(t *testing.T) {
	srv := newTestServer(t)
	id := srv.placeValue(t)
	in, _ := srv.definition(t, "lib.math.Value").InputByName("In")
	require.NotNil(t, in)
	before := srv.stack.Snapshot()

	body := intentBody(t, "SetValue", map[string]interface{}{
		"instance": id,
		"input":    in.ID,
		"value":    valueobjects.Text("hello"),
	})
	rec := srv.do(t, http.MethodPost, "/api/v1/commands", bytes.NewReader(body))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, before, srv.stack.Snapshot())
	assert.Equal(t, []string{"Add Operator"}, srv.stack.UndoNames())
}

func TestRouter_ListOperations(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodGet, "/api/v1/commands", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string][]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Contains(t, body["operations"], "SetValue")
	assert.Contains(t, body["operations"], "UngroupOperator")
}
