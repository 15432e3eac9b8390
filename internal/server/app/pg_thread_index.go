package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"strand/internal/logging"
)

// PostgresThreadIndex lists thread ids straight from a Postgres checkpoint
// store, skipping the generic checkpointer enumeration. It assumes the
// standard checkpoints table layout (thread_id, checkpoint_ns,
// checkpoint_id columns).
type PostgresThreadIndex struct {
	pool   *pgxpool.Pool
	logger logging.Logger
}

// NewPostgresThreadIndex constructs the indexed listing over a shared pool.
func NewPostgresThreadIndex(pool *pgxpool.Pool) *PostgresThreadIndex {
	return &PostgresThreadIndex{
		pool:   pool,
		logger: logging.NewComponentLogger("ThreadIndex"),
	}
}

// DistinctThreadIDs returns distinct thread ids ordered by their newest
// root-namespace checkpoint id.
func (s *PostgresThreadIndex) DistinctThreadIDs(ctx context.Context, limit, offset int) ([]string, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("thread index not initialized")
	}

	const query = `
SELECT DISTINCT ON (thread_id) thread_id
FROM checkpoints
WHERE checkpoint_ns = ''
ORDER BY thread_id, checkpoint_id DESC
LIMIT $1 OFFSET $2`

	rows, err := s.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query thread ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan thread id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate thread ids: %w", err)
	}
	return ids, nil
}

var _ ThreadIndexer = (*PostgresThreadIndex)(nil)
