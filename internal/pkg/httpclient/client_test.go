package httpclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestPostJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var in map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		if in["fail"] == "yes" {
			http.Error(w, "boom", http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"echo": in["msg"]})
	}))
	defer srv.Close()

	c := NewClient(noop.NewTracerProvider().Tracer("test"), 0)

	var out map[string]string
	require.NoError(t, c.PostJSON(context.Background(), srv.URL, map[string]string{"msg": "hi"}, &out))
	assert.Equal(t, "hi", out["echo"])

	err := c.PostJSON(context.Background(), srv.URL, map[string]string{"fail": "yes"}, &out)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadGateway, se.StatusCode)
	assert.Equal(t, "boom", se.Body)
}
