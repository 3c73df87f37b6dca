package memory

import (
	"context"
	"sync"

	"realm-wallet/internal/core/domain"
)

// AuditRepo keeps audit entries in memory.
type AuditRepo struct {
	mu      sync.Mutex
	entries []domain.AuditLog
}

func NewAuditRepo() *AuditRepo {
	return &AuditRepo{}
}

func (r *AuditRepo) Create(_ context.Context, log *domain.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, *log)
	return nil
}

// Entries returns a copy of everything recorded so far.
func (r *AuditRepo) Entries() []domain.AuditLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.AuditLog, len(r.entries))
	copy(out, r.entries)
	return out
}
