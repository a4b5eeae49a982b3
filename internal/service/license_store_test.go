package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/KetaVip/license-bot/internal/clock"
	"github.com/KetaVip/license-bot/internal/domain"
	"github.com/KetaVip/license-bot/internal/repository"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestValidateUnknownHWIDIsInvalid(t *testing.T) {
	store, _, _ := newStoreForTest(t)
	ctx := context.Background()

	res, err := store.Validate(ctx, "never-issued", "1.2.3.4")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if res.Status != domain.StatusInvalid {
		t.Fatalf("expected invalid, got %s", res.Status)
	}
}

func TestValidateBindsFirstIPOnly(t *testing.T) {
	store, repo, _ := newStoreForTest(t)
	ctx := context.Background()

	rec, err := store.Issue(ctx, 1, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	res, err := store.Validate(ctx, rec.HWID, "10.0.0.1")
	if err != nil {
		t.Fatalf("first validate: %v", err)
	}
	if res.Status != domain.StatusValid {
		t.Fatalf("expected valid on first use, got %s", res.Status)
	}

	res, err = store.Validate(ctx, rec.HWID, "10.0.0.2")
	if err != nil {
		t.Fatalf("second validate: %v", err)
	}
	if res.Status != domain.StatusIPMismatch {
		t.Fatalf("expected ip_mismatch from second address, got %s", res.Status)
	}

	res, err = store.Validate(ctx, rec.HWID, "10.0.0.1")
	if err != nil {
		t.Fatalf("third validate: %v", err)
	}
	if res.Status != domain.StatusValid {
		t.Fatalf("expected valid from bound address, got %s", res.Status)
	}

	stored, err := repo.FindByHWID(ctx, rec.HWID)
	if err != nil {
		t.Fatalf("reload record: %v", err)
	}
	if stored.BoundIP == nil || *stored.BoundIP != "10.0.0.1" {
		t.Fatalf("binding mutated: %+v", stored.BoundIP)
	}
}

func TestValidateExpiredNeverBindsOrDeletes(t *testing.T) {
	store, repo, clk := newStoreForTest(t)
	ctx := context.Background()

	rec, err := store.Issue(ctx, 1, time.Second)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	clk.Advance(5 * time.Second)

	res, err := store.Validate(ctx, rec.HWID, "10.0.0.1")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if res.Status != domain.StatusExpired {
		t.Fatalf("expected expired, got %s", res.Status)
	}

	stored, err := repo.FindByHWID(ctx, rec.HWID)
	if err != nil {
		t.Fatalf("expected expired record to survive until the sweep: %v", err)
	}
	if stored.BoundIP != nil {
		t.Fatalf("expired validate must not bind, got %v", *stored.BoundIP)
	}
}

func TestValidateAtExactExpiryIsStillValid(t *testing.T) {
	store, _, clk := newStoreForTest(t)
	ctx := context.Background()

	rec, err := store.Issue(ctx, 1, time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	clk.Advance(time.Minute)

	res, err := store.Validate(ctx, rec.HWID, "10.0.0.1")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if res.Status != domain.StatusValid {
		t.Fatalf("record should be valid through its expiry instant, got %s", res.Status)
	}
}

func TestIssueRejectsNonPositiveTTL(t *testing.T) {
	store, _, _ := newStoreForTest(t)
	for _, ttl := range []time.Duration{0, -time.Hour} {
		if _, err := store.Issue(context.Background(), 1, ttl); !errors.Is(err, domain.ErrInvalidTTL) {
			t.Fatalf("ttl=%v: expected ErrInvalidTTL, got %v", ttl, err)
		}
	}
}

func TestIssueReplacesAndInvalidatesOldHWID(t *testing.T) {
	store, _, _ := newStoreForTest(t)
	ctx := context.Background()

	first, err := store.Issue(ctx, 1, time.Hour)
	if err != nil {
		t.Fatalf("first issue: %v", err)
	}
	second, err := store.Issue(ctx, 1, time.Hour)
	if err != nil {
		t.Fatalf("second issue: %v", err)
	}
	if first.HWID == second.HWID {
		t.Fatal("reissue must generate a fresh hwid")
	}

	res, err := store.Validate(ctx, first.HWID, "10.0.0.1")
	if err != nil {
		t.Fatalf("validate old hwid: %v", err)
	}
	if res.Status != domain.StatusInvalid {
		t.Fatalf("old hwid must be invalid after reissue, got %s", res.Status)
	}
}

func TestIssueRetriesOnHWIDCollision(t *testing.T) {
	store, _, _ := newStoreForTest(t)
	ctx := context.Background()

	existing, err := store.Issue(ctx, 1, time.Hour)
	if err != nil {
		t.Fatalf("seed issue: %v", err)
	}

	calls := 0
	store.hwidGen = func() string {
		calls++
		if calls == 1 {
			return existing.HWID
		}
		return fmt.Sprintf("fresh-%d", calls)
	}

	rec, err := store.Issue(ctx, 2, time.Hour)
	if err != nil {
		t.Fatalf("issue with colliding generator: %v", err)
	}
	if rec.HWID == existing.HWID {
		t.Fatal("collision was not retried")
	}
	if calls < 2 {
		t.Fatalf("expected at least 2 generator calls, got %d", calls)
	}
}

func TestRenewExpiredRestartsFromNow(t *testing.T) {
	store, _, clk := newStoreForTest(t)
	ctx := context.Background()

	if _, err := store.Issue(ctx, 1, time.Second); err != nil {
		t.Fatalf("issue: %v", err)
	}
	clk.Advance(5 * time.Second)

	expiry, err := store.Renew(ctx, 1, 10*time.Second)
	if err != nil {
		t.Fatalf("renew: %v", err)
	}
	want := clk.Now().Add(10 * time.Second)
	if !expiry.Equal(want) {
		t.Fatalf("expired renewal must restart from now: got %v want %v", expiry, want)
	}
}

func TestRenewExtendsLiveExpiryAndClearsNotice(t *testing.T) {
	store, repo, clk := newStoreForTest(t)
	ctx := context.Background()

	rec, err := store.Issue(ctx, 1, 48*time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	// Put the record inside the warning window and mark it warned.
	if _, err := store.SweepExpired(ctx, clk.Now()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	warned, err := repo.FindBySubject(ctx, 1)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !warned.NoticeSent {
		t.Fatal("expected record inside the warning window to be marked warned")
	}

	expiry, err := store.Renew(ctx, 1, 24*time.Hour)
	if err != nil {
		t.Fatalf("renew: %v", err)
	}
	if want := rec.ExpiresAt.Add(24 * time.Hour); !expiry.Equal(want) {
		t.Fatalf("live renewal must extend the current expiry: got %v want %v", expiry, want)
	}

	renewed, err := repo.FindBySubject(ctx, 1)
	if err != nil {
		t.Fatalf("reload renewed: %v", err)
	}
	if renewed.NoticeSent {
		t.Fatal("renewal must clear the warned flag")
	}
}

func TestRenewMissingSubject(t *testing.T) {
	store, _, _ := newStoreForTest(t)
	if _, err := store.Renew(context.Background(), 404, time.Hour); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRevokeIsTerminalAndIdempotent(t *testing.T) {
	store, _, _ := newStoreForTest(t)
	ctx := context.Background()

	rec, err := store.Issue(ctx, 1, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if err := store.Revoke(ctx, 1); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if err := store.Revoke(ctx, 1); err != nil {
		t.Fatalf("revoke of absent subject must be a no-op: %v", err)
	}

	res, err := store.Validate(ctx, rec.HWID, "10.0.0.1")
	if err != nil {
		t.Fatalf("validate after revoke: %v", err)
	}
	if res.Status != domain.StatusInvalid {
		t.Fatalf("expected invalid after revoke, got %s", res.Status)
	}
}

func TestResetBindingDailyCapAndRollover(t *testing.T) {
	store, repo, clk := newStoreForTest(t)
	ctx := context.Background()

	rec, err := store.Issue(ctx, 1, 30*24*time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := store.Validate(ctx, rec.HWID, "10.0.0.1"); err != nil {
			t.Fatalf("bind %d: %v", i, err)
		}
		if err := store.ResetBinding(ctx, 1, false); err != nil {
			t.Fatalf("reset %d within the cap: %v", i+1, err)
		}
	}

	if err := store.ResetBinding(ctx, 1, false); !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited on 4th reset, got %v", err)
	}

	// The owner bypass works regardless of the cap and does not consume it.
	if err := store.ResetBinding(ctx, 1, true); err != nil {
		t.Fatalf("owner reset: %v", err)
	}
	stored, err := repo.FindBySubject(ctx, 1)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if stored.ResetCount != 3 {
		t.Fatalf("owner reset must not touch the counter, got %d", stored.ResetCount)
	}
	if stored.BoundIP != nil {
		t.Fatal("reset must clear the binding")
	}

	clk.Advance(24 * time.Hour)
	if err := store.ResetBinding(ctx, 1, false); err != nil {
		t.Fatalf("reset after day rollover: %v", err)
	}
	stored, err = repo.FindBySubject(ctx, 1)
	if err != nil {
		t.Fatalf("reload after rollover: %v", err)
	}
	if stored.ResetCount != 1 {
		t.Fatalf("counter must restart at the new day, got %d", stored.ResetCount)
	}
}

func TestResetBindingMissingSubject(t *testing.T) {
	store, _, _ := newStoreForTest(t)
	if err := store.ResetBinding(context.Background(), 404, false); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSweepEvictsExpiredAndWarnsOnce(t *testing.T) {
	store, _, clk := newStoreForTest(t)
	ctx := context.Background()

	// Subject 1 expires before the first sweep; subject 2 sits inside the
	// warning window; subject 3 is comfortably in the future.
	if _, err := store.Issue(ctx, 1, time.Second); err != nil {
		t.Fatalf("issue 1: %v", err)
	}
	if _, err := store.Issue(ctx, 2, 48*time.Hour); err != nil {
		t.Fatalf("issue 2: %v", err)
	}
	if _, err := store.Issue(ctx, 3, 300*time.Hour); err != nil {
		t.Fatalf("issue 3: %v", err)
	}
	clk.Advance(2 * time.Second)

	events, err := store.SweepExpired(ctx, clk.Now())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %+v", events)
	}
	byID := map[uint64]SweepEvent{}
	for _, ev := range events {
		if ev.Expired && ev.JustWarned {
			t.Fatalf("event must not be both expiry and warning: %+v", ev)
		}
		byID[ev.SubjectID] = ev
	}
	if !byID[1].Expired {
		t.Fatalf("subject 1 should have expired: %+v", byID[1])
	}
	if !byID[2].JustWarned {
		t.Fatalf("subject 2 should have been warned: %+v", byID[2])
	}

	// A second pass neither re-warns nor resurrects the evicted record.
	events, err = store.SweepExpired(ctx, clk.Now())
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("second pass must be quiet, got %+v", events)
	}

	active, err := store.ListActive(ctx)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("expected subjects 2 and 3 to remain, got %+v", active)
	}
}

func TestSweepExpiryWinsOverWarning(t *testing.T) {
	store, _, clk := newStoreForTest(t)
	ctx := context.Background()

	// Expired and inside the warning window at once: only the eviction may
	// be reported.
	if _, err := store.Issue(ctx, 1, time.Hour); err != nil {
		t.Fatalf("issue: %v", err)
	}
	clk.Advance(2 * time.Hour)

	events, err := store.SweepExpired(ctx, clk.Now())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(events) != 1 || !events[0].Expired || events[0].JustWarned {
		t.Fatalf("expected a single expiry event, got %+v", events)
	}
}

func TestConcurrentFirstUseBindHasOneWinner(t *testing.T) {
	store, repo, _ := newStoreForTest(t)
	ctx := context.Background()

	rec, err := store.Issue(ctx, 1, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	const n = 16
	statuses := make([]domain.ValidationStatus, n)
	ips := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		ips[i] = fmt.Sprintf("10.0.0.%d", i+1)
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := store.Validate(ctx, rec.HWID, ips[i])
			if err != nil {
				t.Errorf("validate %s: %v", ips[i], err)
				return
			}
			statuses[i] = res.Status
		}(i)
	}
	wg.Wait()

	var winner string
	valid := 0
	for i, st := range statuses {
		switch st {
		case domain.StatusValid:
			valid++
			winner = ips[i]
		case domain.StatusIPMismatch:
		default:
			t.Fatalf("unexpected status %q for %s", st, ips[i])
		}
	}
	if valid != 1 {
		t.Fatalf("expected exactly one winning bind, got %d", valid)
	}

	stored, err := repo.FindByHWID(ctx, rec.HWID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if stored.BoundIP == nil || *stored.BoundIP != winner {
		t.Fatalf("bound ip %v does not match winner %s", stored.BoundIP, winner)
	}
}

func newStoreForTest(t *testing.T) (*LicenseStore, repository.LicenseRepository, *clock.Fixed) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&domain.LicenseRecord{}); err != nil {
		t.Fatalf("migrate license: %v", err)
	}
	repo := repository.NewLicenseRepository(db)
	clk := clock.NewFixed(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	store := NewLicenseStore(repo, clk, 3, 72*time.Hour)
	return store, repo, clk
}
