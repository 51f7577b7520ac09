package identity

import (
	"context"
	"sync"
	"time"

	"github.com/sharevest/sharevest/internal/apperr"
)

// MemoryRepository is a concurrency-safe in-memory user store for tests and
// DB-less development mode.
type MemoryRepository struct {
	mu      sync.RWMutex
	users   map[string]User
	byEmail map[string]string
	byCode  map[string]string
	order   []string
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		users:   make(map[string]User),
		byEmail: make(map[string]string),
		byCode:  make(map[string]string),
	}
}

func (r *MemoryRepository) Create(_ context.Context, user User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byEmail[user.Email]; ok {
		return apperr.Duplicate("email already registered")
	}
	if _, ok := r.byCode[user.ReferralCode]; ok {
		return apperr.Duplicate("referral code collision")
	}
	r.users[user.ID] = user
	r.byEmail[user.Email] = user.ID
	r.byCode[user.ReferralCode] = user.ID
	r.order = append(r.order, user.ID)
	return nil
}

func (r *MemoryRepository) FindByID(_ context.Context, id string) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.users[id]
	if !ok {
		return User{}, apperr.NotFound("user %s", id)
	}
	return user, nil
}

func (r *MemoryRepository) FindByEmail(_ context.Context, email string) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byEmail[email]
	if !ok {
		return User{}, apperr.NotFound("user %s", email)
	}
	return r.users[id], nil
}

func (r *MemoryRepository) FindByReferralCode(_ context.Context, code string) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byCode[code]
	if !ok {
		return User{}, apperr.NotFound("referral code %s", code)
	}
	return r.users[id], nil
}

func (r *MemoryRepository) ListByReferredBy(_ context.Context, code string) ([]User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []User
	for _, id := range r.order {
		if u := r.users[id]; u.ReferredBy == code {
			out = append(out, u)
		}
	}
	return out, nil
}

func (r *MemoryRepository) Update(_ context.Context, user User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.users[user.ID]
	if !ok {
		return apperr.NotFound("user %s", user.ID)
	}
	current.Name = user.Name
	current.IsAdmin = user.IsAdmin
	current.IsBanned = user.IsBanned
	current.KYC = user.KYC
	current.UpdatedAt = time.Now().UTC()
	r.users[user.ID] = current
	return nil
}

func (r *MemoryRepository) CountByKYC(_ context.Context, status KYCStatus) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var n int64
	for _, u := range r.users {
		if u.KYC == status {
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) ListByKYC(_ context.Context, status KYCStatus, limit int) ([]User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if limit <= 0 {
		limit = 100
	}
	var out []User
	for _, id := range r.order {
		if u := r.users[id]; u.KYC == status {
			out = append(out, u)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}
