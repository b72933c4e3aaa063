package mysql

import (
	"context"
	"log/slog"

	"github.com/leapstack-labs/redcapetl/pkg/adapter"
)

func init() {
	adapter.Register("mysql", func(ctx context.Context, cfg adapter.Config, logger *slog.Logger) (adapter.Connection, error) {
		conn, err := Open(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return conn, nil
	})
}
