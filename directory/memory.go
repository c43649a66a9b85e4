package directory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mikey73/onecareer/apierr"
)

// MemoryRepository keeps accounts in process. It backs dev mode and tests.
type MemoryRepository struct {
	mu       sync.RWMutex
	nextID   int64
	accounts map[int64]*Account
	byEmail  map[string]int64
}

var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository constructs an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		nextID:   1,
		accounts: make(map[int64]*Account),
		byEmail:  make(map[string]int64),
	}
}

func emailKey(clientID, email string) string {
	return clientID + "\x00" + email
}

func (r *MemoryRepository) AccountByEmail(_ context.Context, email, clientID string) (*Account, error) {
	const op = "directory.memory.AccountByEmail"

	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byEmail[emailKey(clientID, email)]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	cp := *r.accounts[id]
	return &cp, nil
}

func (r *MemoryRepository) AccountByID(_ context.Context, id int64) (*Account, error) {
	const op = "directory.memory.AccountByID"

	r.mu.RLock()
	defer r.mu.RUnlock()
	acc, ok := r.accounts[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	cp := *acc
	return &cp, nil
}

// CreateAccount assigns acc.ID unless it is already set.
func (r *MemoryRepository) CreateAccount(_ context.Context, acc *Account) error {
	const op = "directory.memory.CreateAccount"

	r.mu.Lock()
	defer r.mu.Unlock()
	key := emailKey(acc.ClientID, acc.Email)
	if _, exists := r.byEmail[key]; exists {
		return fmt.Errorf("%s: %w", op, apierr.ErrEmailExists)
	}
	if acc.ID == 0 {
		acc.ID = r.nextID
	}
	if _, exists := r.accounts[acc.ID]; exists {
		return fmt.Errorf("%s: %w", op, apierr.ErrEmailExists)
	}
	if acc.ID >= r.nextID {
		r.nextID = acc.ID + 1
	}
	if acc.CreatedAt.IsZero() {
		acc.CreatedAt = time.Now().UTC()
	}
	cp := *acc
	r.accounts[acc.ID] = &cp
	r.byEmail[key] = acc.ID
	return nil
}

func (r *MemoryRepository) SetVerified(_ context.Context, id int64, verified bool) error {
	const op = "directory.memory.SetVerified"

	r.mu.Lock()
	defer r.mu.Unlock()
	acc, ok := r.accounts[id]
	if !ok {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	acc.Verified = verified
	return nil
}

func (r *MemoryRepository) SetPassword(_ context.Context, id int64, hash string) error {
	const op = "directory.memory.SetPassword"

	r.mu.Lock()
	defer r.mu.Unlock()
	acc, ok := r.accounts[id]
	if !ok {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	acc.PasswordHash = hash
	acc.Verified = true
	return nil
}

func (r *MemoryRepository) Close() {}
