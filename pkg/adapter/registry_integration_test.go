package adapter_test

import (
	"context"
	"testing"

	"github.com/leapstack-labs/redcapetl/pkg/adapter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	// Register every target via init()
	_ "github.com/leapstack-labs/redcapetl/pkg/adapters/all"
)

func TestListAdapters(t *testing.T) {
	adapters := adapter.ListAdapters()
	for _, name := range []string{"csv", "duckdb", "mysql", "postgres", "sqlite", "sqlserver"} {
		assert.Contains(t, adapters, name)
	}
}

func TestIsRegistered(t *testing.T) {
	tests := []struct {
		name        string
		adapterName string
		expected    bool
	}{
		{"sqlite registered", "sqlite", true},
		{"postgres registered", "postgres", true},
		{"unknown not registered", "unknown_db", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, adapter.IsRegistered(tt.adapterName))
		})
	}
}

func TestOpen_SQLite(t *testing.T) {
	conn, err := adapter.Open(context.Background(), adapter.Config{Type: "sqlite", Path: ":memory:"}, nil)
	require.NoError(t, err)
	require.NotNil(t, conn)
	assert.Equal(t, "sqlite::memory:", conn.Identity())
	assert.NoError(t, conn.Close())
}

func TestOpen_UnknownTypeListsTargets(t *testing.T) {
	_, err := adapter.Open(context.Background(), adapter.Config{Type: "unknown_adapter"}, nil)
	require.Error(t, err)

	var unknownErr *adapter.UnknownAdapterError
	require.ErrorAs(t, err, &unknownErr)
	assert.Contains(t, unknownErr.Available, "sqlite")
}
