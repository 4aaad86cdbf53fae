package engine

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"transfer/internal/api/models"
	"transfer/internal/api/service"
	"transfer/internal/connector"
	"transfer/internal/query"
	"transfer/internal/store"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfigurationDocument = `{
	"configurationRecords": [
		{"id": "pipeline1", "type": "pipeline", "description": "Flickr transfer", "steps": [
			{"type": "mappingConfiguration", "forId": "M1", "output": {"result": "out.ttl", "provenanceResult": "prov.ttl"}}
		]},
		{"id": "queryPipeline", "type": "pipeline", "description": "Image query", "steps": [
			{"type": "queryConfiguration", "forId": "Q1", "output": {"result": "answer.json", "provenanceResult": "answer-prov.json"}, "input": ["out.ttl"]}
		]},
		{"id": "danglingPipeline", "type": "pipeline", "steps": [
			{"type": "mappingConfiguration", "forId": "ghost", "output": {"result": "out.ttl"}}
		]},
		{"id": "M1", "type": "mapping", "provider": "flickr", "file": "/rml/flickr/m1.ttl"},
		{"id": "Q1", "type": "query", "file": "/sparql/q1.rq"},
		{"id": "solid1", "type": "solidConfiguration", "storageDirectory": "private"},
		{"id": "auth1", "type": "authorizationFlowConfiguration", "maximumAuthorizationAttempts": 3}
	]
}`

type fakeBackend struct {
	connected    bool
	connectURL   string
	connectCalls int

	mapping      connector.MappingResult
	mappingErr   error
	mappingCalls int

	texts      map[string]string
	loggedOut  bool
	logoutErr  error
}

func (f *fakeBackend) ExecuteMapping(_ context.Context, provider, file string) (connector.MappingResult, error) {
	f.mappingCalls++
	return f.mapping, f.mappingErr
}

func (f *fakeBackend) Connected(_ context.Context, provider string) bool {
	return f.connected
}

func (f *fakeBackend) ConnectionURL(_ context.Context, provider string) (string, error) {
	f.connectCalls++
	return f.connectURL, nil
}

func (f *fakeBackend) Logout(_ context.Context) error {
	f.loggedOut = true
	return f.logoutErr
}

func (f *fakeBackend) FetchText(_ context.Context, path string) (string, error) {
	text, ok := f.texts[path]
	if !ok {
		return "", errors.New("no such file: " + path)
	}
	return text, nil
}

type fakeSolid struct {
	loggedIn   bool
	origin     string
	loginURL   string
	loginCalls int

	appended map[string]string
	puts     map[string]string
	readData string
	cleared  []string
}

func newFakeSolid(loggedIn bool) *fakeSolid {
	return &fakeSolid{
		loggedIn: loggedIn,
		origin:   "https://alice.pod.example",
		loginURL: "https://idp.example/authorize",
		appended: map[string]string{},
		puts:     map[string]string{},
	}
}

func (f *fakeSolid) LoggedIn() bool { return f.loggedIn }

func (f *fakeSolid) AuthorizationURL() (string, error) {
	f.loginCalls++
	return f.loginURL, nil
}

func (f *fakeSolid) PodOrigin() (string, error) {
	if !f.loggedIn {
		return "", errors.New("no active solid session")
	}
	return f.origin, nil
}

func (f *fakeSolid) Logout() { f.loggedIn = false }

func (f *fakeSolid) Append(_ context.Context, url, data string) error {
	f.appended[url] = data
	return nil
}

func (f *fakeSolid) Put(_ context.Context, url, _, content string) error {
	f.puts[url] = content
	return nil
}

func (f *fakeSolid) Read(_ context.Context, url string) (string, error) {
	return f.readData, nil
}

func (f *fakeSolid) Clear(_ context.Context, url string) error {
	f.cleared = append(f.cleared, url)
	return nil
}

type fakeQueries struct {
	result     string
	metadata   string
	err        error
	gotQuery   string
	gotSources []string
}

func (f *fakeQueries) Execute(_ context.Context, queryText string, sources []string, hooks query.Hooks) {
	f.gotQuery = queryText
	f.gotSources = sources
	if f.err != nil {
		hooks.OnError(f.err)
		return
	}
	if f.metadata != "" && hooks.OnMetadata != nil {
		hooks.OnMetadata(f.metadata)
	}
	hooks.OnResult(f.result)
}

func newTestMachine(t *testing.T, backend *fakeBackend, solid *fakeSolid, queries query.Engine) (*Machine, *store.Slots) {
	t.Helper()
	return newTestMachineWithConfig(t, backend, solid, queries, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(testConfigurationDocument))
	}))
}

func newTestMachineWithConfig(t *testing.T, backend *fakeBackend, solid *fakeSolid, queries query.Engine, configHandler http.Handler) (*Machine, *store.Slots) {
	t.Helper()

	srv := httptest.NewServer(configHandler)
	t.Cleanup(srv.Close)

	slots := store.NewSlots(store.NewMemoryStore())
	machine := NewMachine(Config{
		SessionID:      "session-1",
		Slots:          slots,
		Configurations: service.NewConfigurationService(srv.URL, slots),
		Backend:        backend,
		Solid:          solid,
		Queries:        queries,
		Logger:         zerolog.Nop(),
	})
	return machine, slots
}

// drain dispatches queued events until the queue is empty. All posting in
// the machine is synchronous when RetryDelay is zero, so this settles the
// machine completely.
func drain(ctx context.Context, m *Machine) {
	for {
		select {
		case ev := <-m.events:
			m.dispatch(ctx, ev)
		default:
			return
		}
	}
}

func selectAndDrain(ctx context.Context, m *Machine, pipelineID string) {
	m.SelectPipeline(pipelineID)
	drain(ctx, m)
}

func executeAndDrain(ctx context.Context, m *Machine) {
	m.Execute()
	drain(ctx, m)
}

func TestPreconditionsFor_DependsOnlyOnReferentType(t *testing.T) {
	m, _ := newTestMachine(t, &fakeBackend{}, newFakeSolid(false), &fakeQueries{})

	mappingPreconditions, err := m.preconditionsFor(models.ConfigurationRecord{Type: models.RecordTypeMapping, Provider: "flickr"})
	require.NoError(t, err)
	require.Len(t, mappingPreconditions, 2)
	assert.Equal(t, "solid session", mappingPreconditions[0].Name)
	assert.Equal(t, "provider authorization", mappingPreconditions[1].Name)

	queryPreconditions, err := m.preconditionsFor(models.ConfigurationRecord{Type: models.RecordTypeQuery})
	require.NoError(t, err)
	require.Len(t, queryPreconditions, 1)
	assert.Equal(t, "solid session", queryPreconditions[0].Name)

	_, err = m.preconditionsFor(models.ConfigurationRecord{Type: models.RecordTypeSolidConfiguration})
	assert.ErrorContains(t, err, "no precondition policy")
}

func TestExecute_RetryBoundOnUnsatisfiedPrecondition(t *testing.T) {
	ctx := context.Background()
	backend := &fakeBackend{texts: map[string]string{"/rml/flickr/m1.ttl": "mapping content"}}
	solid := newFakeSolid(false)
	m, slots := newTestMachine(t, backend, solid, &fakeQueries{})

	selectAndDrain(ctx, m, "pipeline1")
	executeAndDrain(ctx, m)

	// maximumAuthorizationAttempts is 3: exactly 3 establish calls, then the
	// attempt parks with a warning, still in PRECONDITION_CHECKS.
	assert.Equal(t, 3, solid.loginCalls)
	assert.Equal(t, models.StatusPreconditionChecks, m.State().ExecutionStatus)
	require.NotNil(t, m.State().Alert)
	assert.Equal(t, models.AlertWarning, m.State().Alert.Variant)
	assert.Contains(t, m.State().Alert.Message, "Maximum number of authorization attempts reached")
	assert.Equal(t, "https://idp.example/authorize", m.State().SolidLoginURL)

	// The index never advanced without a satisfied check.
	iteration, found, err := slots.PreconditionCheckIteration.Get(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, models.Iteration{Index: 0, Retries: 3}, iteration)

	// The step was never dispatched.
	assert.Zero(t, backend.mappingCalls)
}

func TestExecute_ReExecuteInvalidatesEarlierAttemptTicks(t *testing.T) {
	ctx := context.Background()
	backend := &fakeBackend{texts: map[string]string{"/rml/flickr/m1.ttl": "mapping content"}}
	solid := newFakeSolid(false)
	m, slots := newTestMachine(t, backend, solid, &fakeQueries{})

	selectAndDrain(ctx, m, "pipeline1")

	// Step through the first attempt one event at a time: the execute
	// request, then two retry ticks.
	m.Execute()
	for i := 0; i < 3; i++ {
		m.dispatch(ctx, <-m.events)
	}
	require.Equal(t, 2, solid.loginCalls)

	// Hold the pending tick back, as the retry timer would in production,
	// and re-execute while the first attempt is still mid-loop.
	stale := <-m.events
	executeAndDrain(ctx, m)

	// The fresh attempt consumed exactly its own budget of 3.
	assert.Equal(t, 5, solid.loginCalls)
	assert.Equal(t, models.StatusPreconditionChecks, m.State().ExecutionStatus)

	// The first attempt's tick arrives late and is dropped.
	m.dispatch(ctx, stale)
	drain(ctx, m)
	assert.Equal(t, 5, solid.loginCalls)

	iteration, _, err := slots.PreconditionCheckIteration.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.Iteration{Index: 0, Retries: 3}, iteration)
}

func TestPostCursor_RetriesOnFullQueue(t *testing.T) {
	m, _ := newTestMachine(t, &fakeBackend{}, newFakeSolid(false), &fakeQueries{})

	m.events = make(chan event, 1)
	m.events <- executeRequested{}
	m.postCursor(cursorChanged{attemptID: "a1", iteration: models.Iteration{Index: 2}})

	// The tick parked on the retry timer. Free a slot and wait for it.
	<-m.events
	select {
	case ev := <-m.events:
		tick, ok := ev.(cursorChanged)
		require.True(t, ok)
		assert.Equal(t, 2, tick.iteration.Index)
	case <-time.After(time.Second):
		t.Fatal("precondition tick was dropped")
	}
}

func TestRestore_ResumesFromPersistedCursor(t *testing.T) {
	ctx := context.Background()
	backend := &fakeBackend{connected: false, connectURL: "https://flickr.example/oauth", texts: map[string]string{"/rml/flickr/m1.ttl": "mapping content"}}
	solid := newFakeSolid(true)
	m, slots := newTestMachine(t, backend, solid, &fakeQueries{})

	require.NoError(t, slots.SelectedPipelineID.Set(ctx, "pipeline1"))
	require.NoError(t, slots.ExecutionStatus.Set(ctx, string(models.StatusPreconditionChecks)))
	require.NoError(t, slots.PreconditionCheckIteration.Set(ctx, models.Iteration{Index: 1, Retries: 2}))

	m.restore(ctx)
	drain(ctx, m)

	// Item 0 (solid session) is not re-checked; item 1 resumes with 2 of 3
	// retries already consumed, so exactly 1 establish call remains.
	assert.Zero(t, solid.loginCalls)
	assert.Equal(t, 1, backend.connectCalls)
	assert.Equal(t, models.StatusPreconditionChecks, m.State().ExecutionStatus)

	iteration, _, err := slots.PreconditionCheckIteration.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.Iteration{Index: 1, Retries: 3}, iteration)
}

func TestRestore_ReRunsInterruptedStepDispatch(t *testing.T) {
	ctx := context.Background()
	backend := &fakeBackend{
		connected: true,
		mapping:   connector.MappingResult{RDF: "<a> <b> <c> .", Prov: "prov data"},
		texts:     map[string]string{"/rml/flickr/m1.ttl": "mapping content"},
	}
	solid := newFakeSolid(true)
	m, slots := newTestMachine(t, backend, solid, &fakeQueries{})

	require.NoError(t, slots.SelectedPipelineID.Set(ctx, "pipeline1"))
	require.NoError(t, slots.ExecutionStatus.Set(ctx, string(models.StatusInitExecution)))

	m.restore(ctx)
	drain(ctx, m)

	assert.Equal(t, 1, backend.mappingCalls)
	assert.Equal(t, models.StatusDone, m.State().ExecutionStatus)
}

func TestMappingStep_PartialResult(t *testing.T) {
	ctx := context.Background()
	backend := &fakeBackend{
		connected: true,
		mapping:   connector.MappingResult{RDF: "<a> <b> <c> .", Prov: ""},
		texts:     map[string]string{"/rml/flickr/m1.ttl": "mapping content"},
	}
	solid := newFakeSolid(true)
	m, _ := newTestMachine(t, backend, solid, &fakeQueries{})

	selectAndDrain(ctx, m, "pipeline1")
	executeAndDrain(ctx, m)

	state := m.State()
	assert.Equal(t, models.StatusDone, state.ExecutionStatus)
	assert.Equal(t, "<a> <b> <c> .", state.GeneratedOutput)
	assert.Empty(t, state.Provenance)

	// Only the RDF artifact was stored.
	assert.Equal(t, "<a> <b> <c> .", solid.appended["https://alice.pod.example/private/out.ttl"])
	_, provenanceStored := solid.appended["https://alice.pod.example/private/prov.ttl"]
	assert.False(t, provenanceStored)

	require.NotNil(t, state.Alert)
	assert.Equal(t, models.AlertWarning, state.Alert.Variant)
	assert.Equal(t, "Provenance data is empty", state.Alert.Message)
}

func TestSelectionChanged_DefaultResetsContext(t *testing.T) {
	ctx := context.Background()
	backend := &fakeBackend{
		connected: true,
		mapping:   connector.MappingResult{RDF: "<a> <b> <c> .", Prov: "prov data"},
		texts:     map[string]string{"/rml/flickr/m1.ttl": "mapping content"},
	}
	solid := newFakeSolid(true)
	m, slots := newTestMachine(t, backend, solid, &fakeQueries{})

	selectAndDrain(ctx, m, "pipeline1")
	executeAndDrain(ctx, m)
	require.Equal(t, models.StatusDone, m.State().ExecutionStatus)

	selectAndDrain(ctx, m, "")

	state := m.State()
	assert.Equal(t, models.StatusIdle, state.ExecutionStatus)
	assert.Empty(t, state.SelectedPipelineID)
	assert.Empty(t, state.MappingContent)
	assert.Empty(t, state.GeneratedOutput)
	assert.Empty(t, state.Provenance)
	assert.Nil(t, state.Alert)

	for _, present := range []func(context.Context) (bool, error){
		func(ctx context.Context) (bool, error) { _, ok, err := slots.SelectedPipelineID.Get(ctx); return ok, err },
		func(ctx context.Context) (bool, error) { _, ok, err := slots.CurrentPipelineStepIndex.Get(ctx); return ok, err },
		func(ctx context.Context) (bool, error) { _, ok, err := slots.ExecutionStatus.Get(ctx); return ok, err },
		func(ctx context.Context) (bool, error) { _, ok, err := slots.MappingProvider.Get(ctx); return ok, err },
	} {
		ok, err := present(ctx)
		require.NoError(t, err)
		assert.False(t, ok)
	}
}

func TestSelectionChanged_UnknownIdClearsPreviousSelection(t *testing.T) {
	ctx := context.Background()
	backend := &fakeBackend{texts: map[string]string{"/rml/flickr/m1.ttl": "mapping content"}}
	solid := newFakeSolid(true)
	m, slots := newTestMachine(t, backend, solid, &fakeQueries{})

	selectAndDrain(ctx, m, "pipeline1")
	_, found, err := slots.SelectedPipelineID.Get(ctx)
	require.NoError(t, err)
	require.True(t, found)

	selectAndDrain(ctx, m, "nope")

	state := m.State()
	require.NotNil(t, state.Alert)
	assert.Equal(t, models.AlertDanger, state.Alert.Variant)
	assert.Empty(t, state.SelectedPipelineID)
	assert.Empty(t, state.MappingContent)

	_, found, err = slots.SelectedPipelineID.Get(ctx)
	require.NoError(t, err)
	assert.False(t, found)

	// An execute after the rejected selection must not run the old pipeline.
	executeAndDrain(ctx, m)
	require.NotNil(t, m.State().Alert)
	assert.Equal(t, "No pipeline selected", m.State().Alert.Message)
	assert.Zero(t, backend.mappingCalls)
}

func TestRestore_ParksWhenConfigurationUnavailable(t *testing.T) {
	ctx := context.Background()
	backend := &fakeBackend{}
	solid := newFakeSolid(false)
	m, slots := newTestMachineWithConfig(t, backend, solid, &fakeQueries{}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	require.NoError(t, slots.SelectedPipelineID.Set(ctx, "pipeline1"))
	require.NoError(t, slots.ExecutionStatus.Set(ctx, string(models.StatusPreconditionChecks)))
	require.NoError(t, slots.PreconditionCheckIteration.Set(ctx, models.Iteration{Index: 0, Retries: 1}))

	m.restore(ctx)
	drain(ctx, m)

	// The attempt stays parked instead of degrading to FAILED; a later
	// execute request restarts it once the document is reachable again.
	state := m.State()
	assert.Equal(t, models.StatusPreconditionChecks, state.ExecutionStatus)
	assert.Nil(t, state.Alert)
	assert.Zero(t, solid.loginCalls)
}

func TestExecute_DanglingReferentFailsBeforeDispatch(t *testing.T) {
	ctx := context.Background()
	backend := &fakeBackend{connected: true}
	solid := newFakeSolid(true)
	m, slots := newTestMachine(t, backend, solid, &fakeQueries{})

	// Selection of the broken pipeline already surfaces the error; force the
	// slot anyway to prove Execute fails on its own.
	require.NoError(t, slots.SelectedPipelineID.Set(ctx, "danglingPipeline"))

	executeAndDrain(ctx, m)

	state := m.State()
	assert.Equal(t, models.StatusFailed, state.ExecutionStatus)
	require.NotNil(t, state.Alert)
	assert.Equal(t, models.AlertDanger, state.Alert.Variant)
	assert.Contains(t, state.Alert.Message, "unknown record")
	assert.Zero(t, backend.mappingCalls)
}

func TestExecute_EndToEndMappingScenario(t *testing.T) {
	ctx := context.Background()
	backend := &fakeBackend{
		connected: true,
		mapping:   connector.MappingResult{RDF: "<a> <b> <c> .", Prov: "prov data"},
		texts:     map[string]string{"/rml/flickr/m1.ttl": "mapping content"},
	}
	solid := newFakeSolid(true)
	m, _ := newTestMachine(t, backend, solid, &fakeQueries{})

	selectAndDrain(ctx, m, "pipeline1")
	assert.Equal(t, "mapping content", m.State().MappingContent)

	executeAndDrain(ctx, m)

	state := m.State()
	assert.Equal(t, models.StatusDone, state.ExecutionStatus)
	assert.Nil(t, state.Alert)
	assert.Equal(t, "<a> <b> <c> .", solid.appended["https://alice.pod.example/private/out.ttl"])
	assert.Equal(t, "prov data", solid.appended["https://alice.pod.example/private/prov.ttl"])
}

func TestExecute_QueryStep(t *testing.T) {
	ctx := context.Background()
	backend := &fakeBackend{texts: map[string]string{"/sparql/q1.rq": "CONSTRUCT { ?s ?p ?o } WHERE { ?s ?p ?o }"}}
	solid := newFakeSolid(true)
	queries := &fakeQueries{result: `{"rows": []}`, metadata: `{"observationRecords": []}`}
	m, _ := newTestMachine(t, backend, solid, queries)

	selectAndDrain(ctx, m, "queryPipeline")
	executeAndDrain(ctx, m)

	state := m.State()
	assert.Equal(t, models.StatusDone, state.ExecutionStatus)
	assert.Equal(t, `{"rows": []}`, state.QueryResult)
	assert.Equal(t, `{"observationRecords": []}`, state.QueryProvenance)
	assert.Equal(t, []string{"https://alice.pod.example/private/out.ttl"}, queries.gotSources)
	assert.Equal(t, `{"rows": []}`, solid.puts["https://alice.pod.example/private/answer.json"])
	assert.Equal(t, `{"observationRecords": []}`, solid.puts["https://alice.pod.example/private/answer-prov.json"])
}

func TestExecute_QueryStepError(t *testing.T) {
	ctx := context.Background()
	backend := &fakeBackend{texts: map[string]string{"/sparql/q1.rq": "CONSTRUCT { ?s ?p ?o } WHERE { ?s ?p ?o }"}}
	solid := newFakeSolid(true)
	queries := &fakeQueries{err: errors.New("engine exploded")}
	m, _ := newTestMachine(t, backend, solid, queries)

	selectAndDrain(ctx, m, "queryPipeline")
	executeAndDrain(ctx, m)

	state := m.State()
	assert.Equal(t, models.StatusFailed, state.ExecutionStatus)
	require.NotNil(t, state.Alert)
	assert.Contains(t, state.Alert.Message, "Q1")
}

func TestSolidFetchAndClear(t *testing.T) {
	ctx := context.Background()
	backend := &fakeBackend{texts: map[string]string{"/rml/flickr/m1.ttl": "mapping content"}}
	solid := newFakeSolid(true)
	solid.readData = "<a> <b> <c> ."
	m, _ := newTestMachine(t, backend, solid, &fakeQueries{})

	selectAndDrain(ctx, m, "pipeline1")

	data, err := m.SolidFetch(ctx)
	require.NoError(t, err)
	assert.Equal(t, "<a> <b> <c> .", data)
	assert.Equal(t, "<a> <b> <c> .", m.State().SolidData)

	require.NoError(t, m.SolidClear(ctx))
	assert.Equal(t, []string{"https://alice.pod.example/private/out.ttl"}, solid.cleared)
	assert.Empty(t, m.State().SolidData)
}

func TestLogout(t *testing.T) {
	ctx := context.Background()
	backend := &fakeBackend{}
	solid := newFakeSolid(true)
	m, _ := newTestMachine(t, backend, solid, &fakeQueries{})

	require.NoError(t, m.Logout(ctx))
	assert.True(t, backend.loggedOut)
	assert.False(t, solid.loggedIn)
}
