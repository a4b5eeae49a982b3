package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/KetaVip/license-bot/internal/clock"
	"github.com/KetaVip/license-bot/internal/domain"
	"github.com/KetaVip/license-bot/internal/observability"
	"github.com/KetaVip/license-bot/internal/repository"

	"github.com/google/uuid"
)

// maxHWIDAttempts bounds the collision retry loop. Collisions on 32 hex
// chars are birthday-bound improbable but still verified against the table.
const maxHWIDAttempts = 5

// LicenseStore is the single owner of the license table. Every read and
// write, including the bind-on-first-use check-and-set in Validate and the
// full scan in SweepExpired, runs under one mutex so cross-field invariants
// are checked atomically. Nothing under the lock touches the network.
type LicenseStore struct {
	mu              sync.Mutex
	repo            repository.LicenseRepository
	clock           clock.Clock
	maxResetsPerDay int
	warningWindow   time.Duration
	hwidGen         func() string
}

func NewLicenseStore(repo repository.LicenseRepository, clk clock.Clock, maxResetsPerDay int, warningWindow time.Duration) *LicenseStore {
	return &LicenseStore{
		repo:            repo,
		clock:           clk,
		maxResetsPerDay: maxResetsPerDay,
		warningWindow:   warningWindow,
		hwidGen:         newHWID,
	}
}

func newHWID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Issue creates a fresh entitlement for the subject, replacing any prior
// record. The old hwid, if any, becomes unreachable.
func (s *LicenseStore) Issue(ctx context.Context, subjectID uint64, ttl time.Duration) (*domain.LicenseRecord, error) {
	if ttl <= 0 {
		observability.RecordLicenseMutation(ctx, "issue", "invalid_ttl")
		return nil, domain.ErrInvalidTTL
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	hwid, err := s.freshHWID(ctx)
	if err != nil {
		observability.RecordLicenseMutation(ctx, "issue", "error")
		return nil, err
	}
	rec := &domain.LicenseRecord{
		SubjectID: subjectID,
		HWID:      hwid,
		ExpiresAt: s.clock.Now().Add(ttl),
	}
	if err := s.repo.Replace(ctx, rec); err != nil {
		observability.RecordLicenseMutation(ctx, "issue", "error")
		return nil, fmt.Errorf("insert license: %w", err)
	}
	observability.RecordLicenseMutation(ctx, "issue", "success")
	return rec, nil
}

func (s *LicenseStore) freshHWID(ctx context.Context) (string, error) {
	for i := 0; i < maxHWIDAttempts; i++ {
		hwid := s.hwidGen()
		exists, err := s.repo.HWIDExists(ctx, hwid)
		if err != nil {
			return "", fmt.Errorf("check hwid collision: %w", err)
		}
		if !exists {
			return hwid, nil
		}
	}
	return "", errors.New("could not generate a unique hwid")
}

// Renew extends the subject's entitlement by delta. An expired-but-unswept
// record restarts from now rather than the stale expiry, so the new expiry
// is always in the future. Clears the pending warning flag.
func (s *LicenseStore) Renew(ctx context.Context, subjectID uint64, delta time.Duration) (time.Time, error) {
	if delta <= 0 {
		observability.RecordLicenseMutation(ctx, "renew", "invalid_ttl")
		return time.Time{}, domain.ErrInvalidTTL
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.repo.FindBySubject(ctx, subjectID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			observability.RecordLicenseMutation(ctx, "renew", "not_found")
			return time.Time{}, domain.ErrNotFound
		}
		observability.RecordLicenseMutation(ctx, "renew", "error")
		return time.Time{}, err
	}
	base := rec.ExpiresAt
	if now := s.clock.Now(); base.Before(now) {
		base = now
	}
	rec.ExpiresAt = base.Add(delta)
	rec.NoticeSent = false
	if err := s.repo.Save(ctx, rec); err != nil {
		observability.RecordLicenseMutation(ctx, "renew", "error")
		return time.Time{}, fmt.Errorf("save renewal: %w", err)
	}
	observability.RecordLicenseMutation(ctx, "renew", "success")
	return rec.ExpiresAt, nil
}

// Revoke deletes the subject's record. Deleting an absent record is not an
// error.
func (s *LicenseStore) Revoke(ctx context.Context, subjectID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.repo.DeleteBySubject(ctx, subjectID); err != nil {
		observability.RecordLicenseMutation(ctx, "revoke", "error")
		return fmt.Errorf("delete license: %w", err)
	}
	observability.RecordLicenseMutation(ctx, "revoke", "success")
	return nil
}

// Validate resolves a hwid check. The first valid check on an unbound record
// pins the record to sourceIP; the check and the set happen under the store
// lock so concurrent first requests cannot both win the bind. Expired
// records are reported but never deleted here; eviction belongs to the
// sweeper alone.
func (s *LicenseStore) Validate(ctx context.Context, hwid, sourceIP string) (domain.ValidationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.repo.FindByHWID(ctx, hwid)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.ValidationResult{Status: domain.StatusInvalid}, nil
	}
	if err != nil {
		return domain.ValidationResult{}, err
	}

	if rec.Expired(s.clock.Now()) {
		return domain.ValidationResult{Status: domain.StatusExpired, ExpiresAt: rec.ExpiresAt}, nil
	}
	if rec.BoundIP == nil {
		rec.BoundIP = &sourceIP
		if err := s.repo.Save(ctx, rec); err != nil {
			return domain.ValidationResult{}, fmt.Errorf("bind ip: %w", err)
		}
		return domain.ValidationResult{Status: domain.StatusValid, ExpiresAt: rec.ExpiresAt}, nil
	}
	if *rec.BoundIP != sourceIP {
		return domain.ValidationResult{Status: domain.StatusIPMismatch, ExpiresAt: rec.ExpiresAt}, nil
	}
	return domain.ValidationResult{Status: domain.StatusValid, ExpiresAt: rec.ExpiresAt}, nil
}

// ResetBinding clears the subject's bound IP. Owners bypass the cap; for the
// subject itself the clear counts against a daily allowance that rolls over
// at UTC midnight.
func (s *LicenseStore) ResetBinding(ctx context.Context, subjectID uint64, actorIsOwner bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.repo.FindBySubject(ctx, subjectID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			observability.RecordLicenseMutation(ctx, "reset_binding", "not_found")
			return domain.ErrNotFound
		}
		observability.RecordLicenseMutation(ctx, "reset_binding", "error")
		return err
	}

	if !actorIsOwner {
		today := dateOf(s.clock.Now())
		if rec.ResetWindowStart == nil || !rec.ResetWindowStart.Equal(today) {
			rec.ResetCount = 0
			rec.ResetWindowStart = &today
		}
		if rec.ResetCount >= s.maxResetsPerDay {
			observability.RecordLicenseMutation(ctx, "reset_binding", "rate_limited")
			return domain.ErrRateLimited
		}
		rec.ResetCount++
	}

	rec.BoundIP = nil
	if err := s.repo.Save(ctx, rec); err != nil {
		observability.RecordLicenseMutation(ctx, "reset_binding", "error")
		return fmt.Errorf("save reset: %w", err)
	}
	observability.RecordLicenseMutation(ctx, "reset_binding", "success")
	return nil
}

// SweepEvent is one record transition observed by a sweep pass. Expired and
// JustWarned are mutually exclusive: a record past its expiry is evicted
// without ever emitting a warning in the same pass.
type SweepEvent struct {
	SubjectID  uint64
	Expired    bool
	JustWarned bool
}

// SweepExpired scans every record once, evicting expired ones and flagging
// the first entry into the warning window. The NoticeSent flag keeps each
// warning to exactly one event per expiry value.
func (s *LicenseStore) SweepExpired(ctx context.Context, now time.Time) ([]SweepEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs, err := s.repo.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan licenses: %w", err)
	}

	var events []SweepEvent
	for i := range recs {
		rec := &recs[i]
		if rec.Expired(now) {
			if _, err := s.repo.DeleteBySubject(ctx, rec.SubjectID); err != nil {
				return events, fmt.Errorf("evict expired license: %w", err)
			}
			events = append(events, SweepEvent{SubjectID: rec.SubjectID, Expired: true})
			continue
		}
		if !rec.NoticeSent && rec.ExpiresAt.Sub(now) <= s.warningWindow {
			rec.NoticeSent = true
			if err := s.repo.Save(ctx, rec); err != nil {
				return events, fmt.Errorf("mark warned: %w", err)
			}
			events = append(events, SweepEvent{SubjectID: rec.SubjectID, JustWarned: true})
		}
	}
	return events, nil
}

// ListActive returns all records that have not yet expired.
func (s *LicenseStore) ListActive(ctx context.Context) ([]domain.LicenseRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repo.ListActive(ctx, s.clock.Now())
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
