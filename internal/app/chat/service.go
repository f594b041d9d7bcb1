package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"chatgate/internal/app/outbox"
	domainchat "chatgate/internal/domain/chat"
	"chatgate/internal/domain/identity"
	"chatgate/internal/domain/shared/events"
)

// DropRecorder counts members the identity directory could not resolve.
type DropRecorder interface {
	MembersDropped(n int)
}

// Service runs conversation resolution, message mutations and the contact
// list aggregation on top of a Repository and an identity Directory.
type Service struct {
	Repo            domainchat.Repository
	Directory       identity.Directory
	Outbox          outbox.Outbox
	Encoder         outbox.EventEncoder
	Metrics         DropRecorder
	Logger          *slog.Logger
	StoreTimeout    time.Duration
	IdentityTimeout time.Duration
	Now             func() time.Time
	NewID           func() string
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Service) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.NewString()
}

func (s *Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.New(slog.DiscardHandler)
}

func (s *Service) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.StoreTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.StoreTimeout)
}

func (s *Service) identityCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.IdentityTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.IdentityTimeout)
}

// hydrate resolves refs with a single directory call.
func (s *Service) hydrate(ctx context.Context, refs []domainchat.MemberRef) (identity.Index, error) {
	refs = domainchat.Dedupe(refs)
	if len(refs) == 0 {
		return identity.Index{}, nil
	}
	if s.Directory == nil {
		return nil, fmt.Errorf("%w: identity directory not configured", domainchat.ErrUpstream)
	}
	ictx, cancel := s.identityCtx(ctx)
	defer cancel()
	profiles, err := s.Directory.Hydrate(ictx, refs)
	if err != nil {
		return nil, upstream("identity hydrate", err)
	}
	return identity.NewIndex(profiles), nil
}

func (s *Service) record(ctx context.Context, evs ...events.DomainEvent) {
	if s.Outbox == nil {
		return
	}
	if err := outbox.RecordDomainEvents(ctx, s.Outbox, s.Encoder, evs...); err != nil {
		s.logger().ErrorContext(ctx, "record domain events", "error", err)
	}
}

// upstream wraps infrastructure failures. Domain sentinels pass through.
func upstream(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{
		domainchat.ErrValidation,
		domainchat.ErrNotFound,
		domainchat.ErrConsistency,
		domainchat.ErrUpstream,
	} {
		if errors.Is(err, known) {
			return err
		}
	}
	return fmt.Errorf("%w: %s: %w", domainchat.ErrUpstream, op, err)
}
