package redcap

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(handler))
	t.Cleanup(srv.Close)
	c, err := NewClient(ClientConfig{URL: srv.URL, Token: "secret"})
	require.NoError(t, err)
	return c
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(ClientConfig{Token: "x"})
	assert.Error(t, err)
	_, err = NewClient(ClientConfig{URL: "http://localhost"})
	assert.Error(t, err)
}

func TestClient_Metadata(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "secret", r.PostForm.Get("token"))
		assert.Equal(t, "metadata", r.PostForm.Get("content"))
		assert.Equal(t, "json", r.PostForm.Get("format"))
		_, _ = w.Write([]byte(`[{"field_name":"record_id","form_name":"demo","field_type":"text"}]`))
	})

	meta, err := c.Metadata(context.Background())
	require.NoError(t, err)
	require.Len(t, meta, 1)
	assert.Equal(t, "demo", meta[0].FormName)
}

func TestClient_RecordIDs(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "record_id", r.PostForm.Get("fields[0]"))
		assert.Equal(t, "[age] > 30", r.PostForm.Get("filterLogic"))
		_, _ = w.Write([]byte(`[{"record_id":"1"},{"record_id":"1"},{"record_id":2}]`))
	})

	ids, err := c.RecordIDs(context.Background(), "record_id", "[age] > 30")
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, ids)
}

func TestClient_Records(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "a", r.PostForm.Get("records[0]"))
		assert.Equal(t, "b", r.PostForm.Get("records[1]"))
		_, _ = w.Write([]byte(`[{"record_id":"a","redcap_repeat_instance":2}]`))
	})

	rows, err := c.Records(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "2", rows[0].RepeatInstance())
}

func TestClient_APIError(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"You do not have permissions to use the API"}`))
	})

	_, err := c.ProjectInfo(context.Background())
	require.Error(t, err)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "permissions")
}
