// Package provision resolves verified external identities to local user
// records, creating or updating them just in time.
package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	authcore "github.com/openloom/authcore"
	"github.com/openloom/authcore/audit"
	"github.com/openloom/authcore/metrics"
)

// Provisioner implements authcore.IdentityProvisioner on top of the injected
// unit of work. Every Resolve runs as one transaction so a concurrent
// first-sighting of the same identity is detected, not duplicated.
type Provisioner struct {
	uow         authcore.UnitOfWork
	defaultRole string
	logger      *slog.Logger
	auditor     *audit.Logger
	metrics     *metrics.Metrics
	now         func() time.Time
}

// compile-time check
var _ authcore.IdentityProvisioner = (*Provisioner)(nil)

// Option configures the Provisioner.
type Option func(*Provisioner)

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Provisioner) { p.logger = l }
}

// WithAudit mirrors resolution outcomes into an audit trail.
func WithAudit(a *audit.Logger) Option {
	return func(p *Provisioner) { p.auditor = a }
}

// WithMetrics records resolution outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Provisioner) { p.metrics = m }
}

// WithClock overrides the clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Provisioner) { p.now = now }
}

// New creates a provisioner. defaultRole is assigned to every newly created
// user.
func New(uow authcore.UnitOfWork, defaultRole string, opts ...Option) *Provisioner {
	p := &Provisioner{
		uow:         uow,
		defaultRole: defaultRole,
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Resolve returns a copy of the principal with UserID set. Whether the user
// was found or newly created is not distinguishable from the result; the
// caller learns nothing useful for account enumeration.
//
// Two simultaneous first-sightings of the same (issuer, subject) race to
// create the user. The store's uniqueness constraint aborts the losing
// transaction with ErrDuplicate; the loser re-runs once in lookup-only mode
// and adopts the row the winner committed.
func (p *Provisioner) Resolve(ctx context.Context, principal *authcore.Principal) (*authcore.Principal, error) {
	if principal == nil || principal.Issuer == "" || principal.Subject == "" {
		return nil, fmt.Errorf("authcore/provision: principal missing issuer or subject")
	}

	out, created, err := p.attempt(ctx, principal, true)
	retried := false
	if errors.Is(err, authcore.ErrDuplicate) {
		p.logger.Debug("lost identity creation race, re-fetching",
			"issuer", principal.Issuer, "subject", principal.Subject)
		retried = true
		out, created, err = p.attempt(ctx, principal, false)
	}
	p.metrics.RecordProvision(outcomeLabel(created, retried, err))

	event := audit.Event{
		RequestID: authcore.RequestIDFromContext(ctx),
		Subject:   principal.Subject,
		Issuer:    principal.Issuer,
		Action:    audit.ActionProvision,
		Result:    audit.ResultSuccess,
	}
	if err != nil {
		event.Result = audit.ResultFailure
		event.Error = err.Error()
	} else {
		event.UserID = out.UserID
	}
	p.auditor.Log(event)

	return out, err
}

// outcomeLabel tags a resolution for the provision counter.
func outcomeLabel(created, retried bool, err error) string {
	switch {
	case err != nil:
		return "failed"
	case retried:
		return "retried"
	case created:
		return "created"
	default:
		return "existing"
	}
}

// attempt runs one transactional resolution. When mayCreate is false a
// missing user is an error instead of a creation. The second result reports
// whether the user was created in this attempt.
func (p *Provisioner) attempt(ctx context.Context, principal *authcore.Principal, mayCreate bool) (*authcore.Principal, bool, error) {
	out := *principal
	created := false
	err := p.uow.Transact(ctx, func(ctx context.Context, r authcore.Repositories) error {
		user, madeNew, err := p.resolveUser(ctx, r, principal, mayCreate)
		if err != nil {
			return err
		}
		created = madeNew

		// Identity metadata is upserted unconditionally so the link always
		// reflects the latest authentication.
		if err := r.Users.LinkIdentity(ctx, user.ID, authcore.ExternalIdentity{
			Issuer:              principal.Issuer,
			Subject:             principal.Subject,
			ProviderName:        principal.ProviderName,
			RawClaims:           principal.RawClaims,
			LastAuthenticatedAt: p.now(),
		}); err != nil {
			return err
		}
		if err := r.Users.TouchLastSeen(ctx, user.ID); err != nil {
			return err
		}

		// Durable role assignments win; the token's own roles are only a
		// fallback while the store has none recorded.
		roles, err := r.Roles.List(ctx, user.ID)
		if err != nil {
			return err
		}
		if len(roles) > 0 {
			out.Roles = roles
		}
		out.UserID = user.ID
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return &out, created, nil
}

// resolveUser finds the linked user, creating one on first sighting when
// permitted. A uniqueness violation during creation propagates so the whole
// transaction can be retried in lookup-only mode.
func (p *Provisioner) resolveUser(ctx context.Context, r authcore.Repositories, principal *authcore.Principal, mayCreate bool) (*authcore.User, bool, error) {
	user, err := r.Users.ByExternalIdentity(ctx, principal.Issuer, principal.Subject)
	switch {
	case err == nil:
		patched, err := p.patchExisting(ctx, r, user, principal)
		return patched, false, err
	case errors.Is(err, authcore.ErrNotFound) && mayCreate:
		fresh, err := p.createUser(ctx, r, principal)
		return fresh, true, err
	default:
		return nil, false, err
	}
}

func (p *Provisioner) createUser(ctx context.Context, r authcore.Repositories, principal *authcore.Principal) (*authcore.User, error) {
	user := &authcore.User{
		ID:        uuid.NewString(),
		Email:     principal.Email,
		Name:      principal.Name,
		CreatedAt: p.now(),
	}
	if err := r.Users.Create(ctx, user); err != nil {
		return nil, err
	}
	if err := r.Users.LinkIdentity(ctx, user.ID, authcore.ExternalIdentity{
		Issuer:       principal.Issuer,
		Subject:      principal.Subject,
		ProviderName: principal.ProviderName,
	}); err != nil {
		return nil, err
	}
	if p.defaultRole != "" {
		if err := r.Roles.Assign(ctx, user.ID, p.defaultRole); err != nil {
			return nil, err
		}
	}
	return user, nil
}

// patchExisting applies the update rules for a returning identity: email
// only when it changed, name only when the stored name is empty; a
// user-set display name is never overwritten by a token.
func (p *Provisioner) patchExisting(ctx context.Context, r authcore.Repositories, user *authcore.User, principal *authcore.Principal) (*authcore.User, error) {
	var patch authcore.ProfilePatch
	if principal.Email != "" && principal.Email != user.Email {
		patch.Email = &principal.Email
		user.Email = principal.Email
	}
	if user.Name == "" && principal.Name != "" {
		patch.Name = &principal.Name
		user.Name = principal.Name
	}
	if patch.Email != nil || patch.Name != nil {
		if err := r.Users.UpdateProfile(ctx, user.ID, patch); err != nil {
			return nil, err
		}
	}
	return user, nil
}
