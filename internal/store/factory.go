package store

import (
	"github.com/jackc/pgx/v5/pgxpool"
)

// Stores bundles the concrete Postgres-backed store implementations.
type Stores struct {
	pool *pgxpool.Pool
}

func NewStores(pool *pgxpool.Pool) *Stores {
	return &Stores{pool: pool}
}

func (s *Stores) Runs() PipelineRunStore {
	return &pipelineRunStore{pool: s.pool}
}

func (s *Stores) Queue() EventQueueStore {
	return &eventQueueStore{pool: s.pool}
}

func (s *Stores) Conversations() ConversationStore {
	return &conversationStore{pool: s.pool}
}
