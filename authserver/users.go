package authserver

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-auth-pipeline/internal/errors"
)

type User struct {
	ID         string    `json:"id"`
	Identifier string    `json:"identifier"` // Phone number or email the user signs in with
	DateJoined time.Time `json:"date_joined"`
	LastLogin  time.Time `json:"last_login"`
}

// UserRepo is an in-memory user directory keyed by ID and by identifier.
type UserRepo struct {
	users       map[string]*User
	identifiers map[string]string // identifier to user ID
	lock        sync.RWMutex
}

func NewUserRepo() *UserRepo {
	return &UserRepo{
		users:       make(map[string]*User),
		identifiers: make(map[string]string),
	}
}

// Login returns the user for identifier, creating it on first sign-in.
func (r *UserRepo) Login(identifier string, now time.Time) *User {
	identifier = normaliseIdentifier(identifier)

	r.lock.Lock()
	defer r.lock.Unlock()

	if id, ok := r.identifiers[identifier]; ok {
		u := r.users[id]
		u.LastLogin = now
		copied := *u
		return &copied
	}

	u := &User{
		ID:         uuid.New().String(),
		Identifier: identifier,
		DateJoined: now,
		LastLogin:  now,
	}
	r.users[u.ID] = u
	r.identifiers[identifier] = u.ID
	copied := *u
	return &copied
}

func (r *UserRepo) Get(id string) (*User, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	u, ok := r.users[id]
	if !ok {
		return nil, errors.ErrNotFound
	}
	copied := *u
	return &copied, nil
}
