// Package fake provides in-memory implementations of all authcore
// collaborator contracts for testing.
//
// Use fake.NewStore() in unit tests to avoid a real database. The store
// enforces the same uniqueness constraints the contracts require, one user
// per (issuer, subject), one credential per normalized email, and reports
// violations as authcore.ErrDuplicate, so race-resolution paths are
// exercisable without a database.
package fake

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	authcore "github.com/openloom/authcore"
)

// Store is an in-memory implementation of UserRepository, RoleRepository,
// LocalAuthRepository, AdminCredentialStore, and UnitOfWork.
type Store struct {
	mu sync.Mutex

	users      map[string]*authcore.User             // userID → user
	identities map[identityKey]string                // (issuer, subject) → userID
	idMeta     map[identityKey]authcore.ExternalIdentity
	roles      map[string][]string                   // userID → roles
	creds      map[string]*authcore.LocalCredential  // normalized email → credential
	sessions   map[string]*authcore.LocalSession     // sessionID → session
	adminHash  string

	now func() time.Time
}

type identityKey struct {
	issuer  string
	subject string
}

// Option seeds the fake store.
type Option func(*Store)

// WithUser adds a user linked to the given external identity.
func WithUser(issuer, subject string, u authcore.User) Option {
	return func(s *Store) {
		if u.ID == "" {
			u.ID = uuid.NewString()
		}
		s.users[u.ID] = &u
		s.identities[identityKey{issuer, subject}] = u.ID
	}
}

// WithRoles seeds durable role assignments for a user.
func WithRoles(userID string, roles ...string) Option {
	return func(s *Store) { s.roles[userID] = roles }
}

// WithAdminHash seeds a rotated administrator password hash.
func WithAdminHash(hash string) Option {
	return func(s *Store) { s.adminHash = hash }
}

// WithClock overrides the clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates an empty fake store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		users:      make(map[string]*authcore.User),
		identities: make(map[identityKey]string),
		idMeta:     make(map[identityKey]authcore.ExternalIdentity),
		roles:      make(map[string][]string),
		creds:      make(map[string]*authcore.LocalCredential),
		sessions:   make(map[string]*authcore.LocalSession),
		now:        time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// compile-time checks
var (
	_ authcore.UserRepository       = (*Store)(nil)
	_ authcore.RoleRepository       = (*Store)(nil)
	_ authcore.LocalAuthRepository  = (*Store)(nil)
	_ authcore.AdminCredentialStore = (*Store)(nil)
	_ authcore.UnitOfWork           = (*Store)(nil)
)

// Transact runs fn with every repository bound to this store. State is
// snapshotted first and restored when fn fails, mirroring a real store's
// rollback, in particular after a uniqueness violation.
func (s *Store) Transact(ctx context.Context, fn func(ctx context.Context, r authcore.Repositories) error) error {
	snap := s.snapshot()
	if err := fn(ctx, authcore.Repositories{Users: s, Roles: s, LocalAuth: s}); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

type snapshot struct {
	users      map[string]*authcore.User
	identities map[identityKey]string
	idMeta     map[identityKey]authcore.ExternalIdentity
	roles      map[string][]string
	creds      map[string]*authcore.LocalCredential
	sessions   map[string]*authcore.LocalSession
	adminHash  string
}

func (s *Store) snapshot() snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := snapshot{
		users:      make(map[string]*authcore.User, len(s.users)),
		identities: make(map[identityKey]string, len(s.identities)),
		idMeta:     make(map[identityKey]authcore.ExternalIdentity, len(s.idMeta)),
		roles:      make(map[string][]string, len(s.roles)),
		creds:      make(map[string]*authcore.LocalCredential, len(s.creds)),
		sessions:   make(map[string]*authcore.LocalSession, len(s.sessions)),
		adminHash:  s.adminHash,
	}
	for k, v := range s.users {
		cp := *v
		snap.users[k] = &cp
	}
	for k, v := range s.identities {
		snap.identities[k] = v
	}
	for k, v := range s.idMeta {
		snap.idMeta[k] = v
	}
	for k, v := range s.roles {
		snap.roles[k] = append([]string(nil), v...)
	}
	for k, v := range s.creds {
		cp := *v
		snap.creds[k] = &cp
	}
	for k, v := range s.sessions {
		cp := *v
		snap.sessions[k] = &cp
	}
	return snap
}

func (s *Store) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = snap.users
	s.identities = snap.identities
	s.idMeta = snap.idMeta
	s.roles = snap.roles
	s.creds = snap.creds
	s.sessions = snap.sessions
	s.adminHash = snap.adminHash
}

// UserRepository

func (s *Store) ByID(_ context.Context, id string) (*authcore.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, authcore.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *Store) ByExternalIdentity(_ context.Context, issuer, subject string) (*authcore.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.identities[identityKey{issuer, subject}]
	if !ok {
		return nil, authcore.ErrNotFound
	}
	u := *s.users[id]
	return &u, nil
}

func (s *Store) Create(_ context.Context, u *authcore.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[u.ID]; exists {
		return authcore.ErrDuplicate
	}
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *Store) UpdateProfile(_ context.Context, userID string, patch authcore.ProfilePatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return authcore.ErrNotFound
	}
	if patch.Email != nil {
		u.Email = *patch.Email
	}
	if patch.Name != nil {
		u.Name = *patch.Name
	}
	return nil
}

func (s *Store) LinkIdentity(_ context.Context, userID string, ident authcore.ExternalIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := identityKey{ident.Issuer, ident.Subject}
	if owner, exists := s.identities[key]; exists && owner != userID {
		return authcore.ErrDuplicate
	}
	s.identities[key] = userID
	s.idMeta[key] = ident
	return nil
}

func (s *Store) TouchLastSeen(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return authcore.ErrNotFound
	}
	u.LastSeenAt = s.now()
	return nil
}

// RoleRepository

func (s *Store) Assign(_ context.Context, userID, role string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.roles[userID] {
		if r == role {
			return nil
		}
	}
	s.roles[userID] = append(s.roles[userID], role)
	return nil
}

func (s *Store) List(_ context.Context, userID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	roles := s.roles[userID]
	out := make([]string, len(roles))
	copy(out, roles)
	return out, nil
}

// LocalAuthRepository

func (s *Store) CredentialByEmail(_ context.Context, email string) (*authcore.LocalCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.creds[email]
	if !ok {
		return nil, authcore.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *Store) CreateCredential(_ context.Context, c *authcore.LocalCredential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.creds[c.Email]; exists {
		return authcore.ErrDuplicate
	}
	cp := *c
	s.creds[c.Email] = &cp
	return nil
}

func (s *Store) SessionByID(_ context.Context, id string) (*authcore.LocalSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, authcore.ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s *Store) CreateSession(_ context.Context, sess *authcore.LocalSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[sess.ID]; exists {
		return authcore.ErrDuplicate
	}
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

func (s *Store) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

// AdminCredentialStore

func (s *Store) PasswordHash(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.adminHash == "" {
		return "", authcore.ErrNotFound
	}
	return s.adminHash, nil
}

func (s *Store) SetPasswordHash(_ context.Context, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adminHash = hash
	return nil
}

// Test inspection helpers.

// UserCount returns the number of stored users.
func (s *Store) UserCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users)
}

// UserByID returns a copy of the stored user, or nil.
func (s *Store) UserByID(id string) *authcore.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil
	}
	cp := *u
	return &cp
}

// IdentityMeta returns the stored link metadata for an external identity.
func (s *Store) IdentityMeta(issuer, subject string) (authcore.ExternalIdentity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.idMeta[identityKey{issuer, subject}]
	return m, ok
}

// SessionCount returns the number of live local sessions.
func (s *Store) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
