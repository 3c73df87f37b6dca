package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"realm-wallet/internal/core/domain"
	"realm-wallet/internal/core/ports"

	"github.com/google/uuid"
)

// AccountRepo is an in-process ports.AccountRepository. Emails compare case-insensitively.
type AccountRepo struct {
	mu      sync.RWMutex
	byID    map[uuid.UUID]domain.Account
	byEmail map[string]uuid.UUID
}

func NewAccountRepo() *AccountRepo {
	return &AccountRepo{
		byID:    make(map[uuid.UUID]domain.Account),
		byEmail: make(map[string]uuid.UUID),
	}
}

func (r *AccountRepo) Create(_ context.Context, a *domain.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	email := strings.ToLower(a.Email)
	if _, ok := r.byEmail[email]; ok {
		return ports.ErrEmailTaken
	}
	r.byID[a.ID] = *a
	r.byEmail[email] = a.ID
	return nil
}

func (r *AccountRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (r *AccountRepo) GetByEmail(ctx context.Context, email string) (*domain.Account, error) {
	r.mu.RLock()
	id, ok := r.byEmail[strings.ToLower(email)]
	r.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return r.GetByID(ctx, id)
}

func (r *AccountRepo) UpdateProfile(_ context.Context, id uuid.UUID, displayName, avatarURL string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("account not found: %s", id)
	}
	a.DisplayName = displayName
	a.AvatarURL = avatarURL
	a.UpdatedAt = time.Now().UTC()
	r.byID[id] = a
	return nil
}
