package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"transfer/internal/api/models"
	"transfer/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const configurationDocument = `{
	"configurationRecords": [
		{"id": "pipeline1", "type": "pipeline", "description": "Flickr to pod", "steps": [
			{"type": "mappingConfiguration", "forId": "mapping1", "output": {"result": "flickr.ttl", "provenanceResult": "flickr-prov.ttl"}},
			{"type": "queryConfiguration", "forId": "query1", "output": {"result": "answer.json"}, "input": ["flickr.ttl"]}
		]},
		{"id": "mapping1", "type": "mapping", "provider": "flickr", "file": "/rml/flickr/m1.ttl"},
		{"id": "query1", "type": "query", "file": "/sparql/q1.rq"},
		{"id": "solid1", "type": "solidConfiguration", "storageDirectory": "/private/"},
		{"id": "auth1", "type": "authorizationFlowConfiguration", "maximumAuthorizationAttempts": 3}
	]
}`

func newConfigurationFixture(t *testing.T, handler http.HandlerFunc) (*ConfigurationService, *store.Slots) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	slots := store.NewSlots(store.NewMemoryStore())
	return NewConfigurationService(srv.URL, slots), slots
}

func TestConfigurationService_Records_FetchesAndCaches(t *testing.T) {
	calls := 0
	svc, slots := newConfigurationFixture(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(configurationDocument))
	})

	records, err := svc.Records(context.Background())
	require.NoError(t, err)
	assert.Len(t, records, 5)

	cached, ok, err := slots.ConfigurationRecords.Get(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, cached, 5)

	// Second call is served from the cache.
	_, err = svc.Records(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestConfigurationService_Fetch_EmptyOnServerError(t *testing.T) {
	svc, _ := newConfigurationFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	assert.Empty(t, svc.Fetch(context.Background()))
}

func TestConfigurationService_Fetch_EmptyOnMalformedBody(t *testing.T) {
	svc, _ := newConfigurationFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>not json</html>"))
	})

	assert.Empty(t, svc.Fetch(context.Background()))
}

func TestConfigurationService_StepAndReferent(t *testing.T) {
	svc, _ := newConfigurationFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(configurationDocument))
	})
	records, err := svc.Records(context.Background())
	require.NoError(t, err)

	step, referent, err := svc.StepAndReferent(records, "pipeline1", 0)
	require.NoError(t, err)
	assert.Equal(t, models.StepTypeMapping, step.Type)
	assert.Equal(t, "mapping1", referent.ID)
	assert.Equal(t, "flickr", referent.Provider)

	step, referent, err = svc.StepAndReferent(records, "pipeline1", 1)
	require.NoError(t, err)
	assert.Equal(t, models.StepTypeQuery, step.Type)
	assert.Equal(t, "query1", referent.ID)
}

func TestConfigurationService_StepAndReferent_UnknownPipeline(t *testing.T) {
	svc, _ := newConfigurationFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(configurationDocument))
	})
	records, _ := svc.Records(context.Background())

	_, _, err := svc.StepAndReferent(records, "nope", 0)
	assert.ErrorContains(t, err, "not found")
}

func TestConfigurationService_StepAndReferent_IndexOutOfRange(t *testing.T) {
	svc, _ := newConfigurationFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(configurationDocument))
	})
	records, _ := svc.Records(context.Background())

	_, _, err := svc.StepAndReferent(records, "pipeline1", 2)
	assert.ErrorContains(t, err, "out of range")
}

func TestConfigurationService_StepAndReferent_DanglingForID(t *testing.T) {
	svc, _ := newConfigurationFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"configurationRecords": [
			{"id": "p", "type": "pipeline", "steps": [
				{"type": "mappingConfiguration", "forId": "ghost", "output": {"result": "/r"}}
			]}
		]}`))
	})
	records, _ := svc.Records(context.Background())

	_, _, err := svc.StepAndReferent(records, "p", 0)
	assert.ErrorContains(t, err, "unknown record")
}

func TestConfigurationService_PipelineOptions(t *testing.T) {
	svc, _ := newConfigurationFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(configurationDocument))
	})
	records, _ := svc.Records(context.Background())

	options := svc.PipelineOptions(records)
	require.Len(t, options, 1)
	assert.Equal(t, "pipeline1", options[0].ID)
	assert.Equal(t, "Flickr to pod", options[0].Description)
}
