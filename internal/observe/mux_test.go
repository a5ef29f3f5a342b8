package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"

	"github.com/stretchr/testify/assert"
)

func TestHandleRouteTag(t *testing.T) {
	router := mux.NewRouter()
	m := NewMux(router)

	var routeLabels []attribute.KeyValue

	testHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// the otel handler middleware adds the labeler, so this is also
		// indirectly testing the presence of that middleware configuration in
		// the observe muxer
		labels, _ := otelhttp.LabelerFromContext(r.Context())

		routeLabels = labels.Get()
	})
	m.Handle("/test", testHandler)

	recorder := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/test", nil)
	req = req.WithContext(context.Background())

	m.ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusOK, recorder.Code, "Expected HTTP status OK")
	assert.Equal(t, []attribute.KeyValue{attribute.String("http.route", "/test")}, routeLabels)
}

func TestHandleRouteTag_Template(t *testing.T) {
	router := mux.NewRouter()
	m := NewMux(router)

	var routeLabels []attribute.KeyValue

	testHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		labels, _ := otelhttp.LabelerFromContext(r.Context())
		routeLabels = labels.Get()
	})
	router.PathPrefix("/tenant/{tenant}/chat/").Handler(testHandler)

	recorder := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/tenant/acme/chat/rooms", nil)

	m.ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, []attribute.KeyValue{attribute.String("http.route", "/tenant/{tenant}/chat")}, routeLabels)
}

func TestHandleRouteTag_Unmatched(t *testing.T) {
	router := mux.NewRouter()
	m := NewMux(router)

	called := false
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusNotFound)
	})

	recorder := httptest.NewRecorder()
	m.ServeHTTP(recorder, httptest.NewRequest("GET", "/nowhere", nil))

	assert.True(t, called)
	assert.Equal(t, http.StatusNotFound, recorder.Code)
}
