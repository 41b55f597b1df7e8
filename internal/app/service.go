package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/Hiplitehehe/redesigned-octo-telegram/internal/auth"
	"github.com/Hiplitehehe/redesigned-octo-telegram/internal/config"
	"github.com/Hiplitehehe/redesigned-octo-telegram/internal/contents"
	"github.com/Hiplitehehe/redesigned-octo-telegram/internal/notes"
	"github.com/Hiplitehehe/redesigned-octo-telegram/internal/rbac"
	"github.com/Hiplitehehe/redesigned-octo-telegram/internal/store"
)

const (
	msgMissingTitle     = "Missing note title"
	msgUnauthorized     = "Unauthorized"
	msgInvalidToken     = "Invalid token"
	msgPermissionDenied = "Permission denied: You cannot approve notes."
	msgApproveFailed    = "Failed to approve note"
	msgFetchFailed      = "Failed to fetch notes"
)

type identityVerifier interface {
	Verify(ctx context.Context, credential string) (auth.Identity, error)
}

type auditLog interface {
	RecordApproval(ctx context.Context, approval store.Approval) error
}

// ApprovedNote is the outcome of a successful approval.
type ApprovedNote struct {
	Title    string
	Approver string
	Version  contents.Version
	Attempts int
}

type Service struct {
	verifier  identityVerifier
	policy    rbac.Policy
	docs      contents.Store
	queue     contents.Location
	published contents.Location

	maxRetries   int
	retryInitial time.Duration
	retryMax     time.Duration

	audit  auditLog
	logger *zap.Logger
	now    func() time.Time
}

type Option func(*Service)

// WithAuditLog records every successful approval. Audit failures are logged
// and never fail the approval.
func WithAuditLog(log auditLog) Option {
	return func(s *Service) { s.audit = log }
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func New(cfg config.Config, verifier identityVerifier, docs contents.Store, opts ...Option) *Service {
	s := &Service{
		verifier:     verifier,
		policy:       rbac.NewPolicy(cfg.AllowedUsers),
		docs:         docs,
		queue:        cfg.Queue,
		published:    cfg.Published,
		maxRetries:   cfg.MaxConflictRetries,
		retryInitial: cfg.RetryInitial,
		retryMax:     cfg.RetryMax,
		logger:       zap.NewNop(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.maxRetries < 0 {
		s.maxRetries = 0
	}
	if s.retryInitial <= 0 {
		s.retryInitial = 50 * time.Millisecond
	}
	if s.retryMax < s.retryInitial {
		s.retryMax = s.retryInitial
	}
	return s
}

// Approvers reports how many handles may approve.
func (s *Service) Approvers() int {
	return s.policy.Len()
}

// Approve appends {title, approved: true} to the moderation queue on behalf of
// the identity behind credential. Version conflicts re-read and retry with
// exponential backoff; anything else aborts.
func (s *Service) Approve(ctx context.Context, credential, title string) (ApprovedNote, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return ApprovedNote{}, domainError(http.StatusBadRequest, CodeInvalidInput, msgMissingTitle, nil)
	}

	identity, err := s.verifier.Verify(ctx, credential)
	if err != nil {
		message := msgInvalidToken
		if errors.Is(err, auth.ErrMissingCredential) {
			message = msgUnauthorized
		}
		return ApprovedNote{}, domainError(http.StatusUnauthorized, CodeUnauthenticated, message, err)
	}

	if !s.policy.Can(identity.Login, rbac.ActionApprove) {
		s.logger.Info("approval denied", zap.String("login", identity.Login), zap.String("title", title))
		return ApprovedNote{}, domainError(http.StatusForbidden, CodeForbidden, msgPermissionDenied, nil)
	}

	result := ApprovedNote{Title: title, Approver: identity.Login}
	message := fmt.Sprintf("Approved note: %s", title)
	entry := notes.Entry{Title: title, Approved: true}

	attempt := func() error {
		result.Attempts++
		snapshot, err := s.readOrEmpty(ctx, s.queue)
		if err != nil {
			return backoff.Permanent(err)
		}
		version, err := s.docs.Write(ctx, s.queue, notes.Append(snapshot.Entries, entry), snapshot.Version, message)
		if errors.Is(err, contents.ErrVersionConflict) {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		result.Version = version
		return nil
	}
	onConflict := func(err error, wait time.Duration) {
		s.logger.Warn("queue changed during approval, retrying",
			zap.String("title", title),
			zap.Int("attempt", result.Attempts),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}

	if err := backoff.RetryNotify(attempt, s.retryPolicy(ctx), onConflict); err != nil {
		if errors.Is(err, contents.ErrVersionConflict) {
			s.logger.Error("approval gave up after repeated conflicts",
				zap.String("title", title),
				zap.Int("attempts", result.Attempts),
			)
			return ApprovedNote{}, domainError(http.StatusInternalServerError, CodeConflictExhausted, msgApproveFailed, err)
		}
		s.logger.Error("approval failed", zap.String("title", title), zap.Error(err))
		return ApprovedNote{}, domainError(http.StatusInternalServerError, CodeStoreError, msgApproveFailed, err)
	}

	if result.Version == "" {
		s.logger.Warn("commit landed without a reported version",
			zap.String("title", title),
			zap.Stringer("location", s.queue),
		)
	}
	s.logger.Info("note approved",
		zap.String("title", title),
		zap.String("approver", identity.Login),
		zap.String("version", string(result.Version)),
		zap.Int("attempts", result.Attempts),
	)
	s.recordAudit(ctx, result)
	return result, nil
}

// ListApproved returns the approved entries of the published view in
// document order. A missing document is an empty list.
func (s *Service) ListApproved(ctx context.Context) ([]notes.Entry, error) {
	snapshot, err := s.readOrEmpty(ctx, s.published)
	if err != nil {
		s.logger.Error("read published notes", zap.Error(err))
		return nil, domainError(http.StatusInternalServerError, CodeStoreError, msgFetchFailed, err)
	}
	return notes.Approved(snapshot.Entries), nil
}

func (s *Service) readOrEmpty(ctx context.Context, loc contents.Location) (contents.Snapshot, error) {
	snapshot, err := s.docs.Read(ctx, loc)
	if errors.Is(err, contents.ErrNotFound) {
		return contents.Snapshot{Entries: []notes.Entry{}}, nil
	}
	return snapshot, err
}

func (s *Service) retryPolicy(ctx context.Context) backoff.BackOffContext {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = s.retryInitial
	expo.MaxInterval = s.retryMax
	expo.MaxElapsedTime = 0
	expo.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(expo, uint64(s.maxRetries)), ctx)
}

func (s *Service) recordAudit(ctx context.Context, note ApprovedNote) {
	if s.audit == nil {
		return
	}
	// Detached from request cancellation: the commit has already landed.
	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
	defer cancel()
	err := s.audit.RecordApproval(auditCtx, store.Approval{
		Title:      note.Title,
		Approver:   note.Approver,
		Repo:       s.queue.Repo,
		Path:       s.queue.Path,
		Branch:     s.queue.Branch,
		Version:    string(note.Version),
		Attempts:   note.Attempts,
		ApprovedAt: s.now().UTC(),
	})
	if err != nil {
		s.logger.Warn("audit log write failed", zap.String("title", note.Title), zap.Error(err))
	}
}
