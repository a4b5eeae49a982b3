package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/KetaVip/license-bot/internal/domain"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestLicenseRepositoryReplaceOverwritesSubjectRow(t *testing.T) {
	repo := newLicenseRepoForTest(t)
	ctx := context.Background()

	first := &domain.LicenseRecord{SubjectID: 1, HWID: "hwid-a", ExpiresAt: time.Now().UTC().Add(time.Hour)}
	if err := repo.Replace(ctx, first); err != nil {
		t.Fatalf("replace first: %v", err)
	}

	second := &domain.LicenseRecord{SubjectID: 1, HWID: "hwid-b", ExpiresAt: time.Now().UTC().Add(2 * time.Hour)}
	if err := repo.Replace(ctx, second); err != nil {
		t.Fatalf("replace second: %v", err)
	}

	got, err := repo.FindBySubject(ctx, 1)
	if err != nil {
		t.Fatalf("find by subject: %v", err)
	}
	if got.HWID != "hwid-b" {
		t.Fatalf("expected replacement hwid, got %q", got.HWID)
	}

	if _, err := repo.FindByHWID(ctx, "hwid-a"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected old hwid to be unreachable, got %v", err)
	}
	if _, err := repo.FindByHWID(ctx, "hwid-b"); err != nil {
		t.Fatalf("find by new hwid: %v", err)
	}
}

func TestLicenseRepositoryHWIDExists(t *testing.T) {
	repo := newLicenseRepoForTest(t)
	ctx := context.Background()

	if err := repo.Replace(ctx, &domain.LicenseRecord{SubjectID: 7, HWID: "known", ExpiresAt: time.Now().UTC().Add(time.Hour)}); err != nil {
		t.Fatalf("replace: %v", err)
	}

	exists, err := repo.HWIDExists(ctx, "known")
	if err != nil || !exists {
		t.Fatalf("expected known hwid to exist, exists=%v err=%v", exists, err)
	}
	exists, err = repo.HWIDExists(ctx, "unknown")
	if err != nil || exists {
		t.Fatalf("expected unknown hwid to not exist, exists=%v err=%v", exists, err)
	}
}

func TestLicenseRepositoryDeleteBySubject(t *testing.T) {
	repo := newLicenseRepoForTest(t)
	ctx := context.Background()

	if err := repo.Replace(ctx, &domain.LicenseRecord{SubjectID: 3, HWID: "h3", ExpiresAt: time.Now().UTC().Add(time.Hour)}); err != nil {
		t.Fatalf("replace: %v", err)
	}

	deleted, err := repo.DeleteBySubject(ctx, 3)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !deleted {
		t.Fatal("expected deleted=true on first delete")
	}

	deleted, err = repo.DeleteBySubject(ctx, 3)
	if err != nil {
		t.Fatalf("idempotent delete: %v", err)
	}
	if deleted {
		t.Fatal("expected deleted=false when row is gone")
	}
}

func TestLicenseRepositoryListActiveExcludesExpired(t *testing.T) {
	repo := newLicenseRepoForTest(t)
	ctx := context.Background()
	now := time.Now().UTC()

	live := &domain.LicenseRecord{SubjectID: 1, HWID: "live", ExpiresAt: now.Add(time.Hour)}
	dead := &domain.LicenseRecord{SubjectID: 2, HWID: "dead", ExpiresAt: now.Add(-time.Hour)}
	for _, rec := range []*domain.LicenseRecord{live, dead} {
		if err := repo.Replace(ctx, rec); err != nil {
			t.Fatalf("replace %s: %v", rec.HWID, err)
		}
	}

	active, err := repo.ListActive(ctx, now)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 1 || active[0].HWID != "live" {
		t.Fatalf("unexpected active set: %+v", active)
	}

	all, err := repo.ListAll(ctx)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 rows total, got %d", len(all))
	}
}

func newLicenseRepoForTest(t *testing.T) LicenseRepository {
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
	return NewLicenseRepository(db)
}
