package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jordanhubbard/guardian/pkg/config"
	"github.com/jordanhubbard/guardian/pkg/models"
)

// newTestDB returns a fresh SQLite database in a temp directory.
func newTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := NewSQLite(filepath.Join(t.TempDir(), "guardian.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// pgParams returns connection parameters from environment variables.
func pgParams() (host, port, user, password string) {
	host = os.Getenv("POSTGRES_HOST")
	if host == "" {
		host = "localhost"
	}
	port = os.Getenv("POSTGRES_PORT")
	if port == "" {
		port = "5432"
	}
	user = os.Getenv("POSTGRES_USER")
	if user == "" {
		user = "guardian"
	}
	password = os.Getenv("POSTGRES_PASSWORD")
	if password == "" {
		password = "guardian"
	}
	return
}

// newPostgresTestDB creates a throwaway PostgreSQL database.
// Skips the test if postgres is not available.
func newPostgresTestDB(t *testing.T) *Database {
	t.Helper()

	host, port, user, password := pgParams()
	admDSN := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=postgres sslmode=disable connect_timeout=2",
		host, port, user, password,
	)
	adminDB, err := sql.Open("postgres", admDSN)
	if err != nil {
		t.Skipf("Skipping: postgres not available: %v", err)
	}
	defer adminDB.Close()
	if err := adminDB.Ping(); err != nil {
		t.Skipf("Skipping: postgres not reachable: %v", err)
	}

	name := fmt.Sprintf("guardian_test_%d", time.Now().UnixNano())
	if _, err := adminDB.Exec(`CREATE DATABASE "` + name + `"`); err != nil {
		t.Skipf("Skipping: cannot create test database %q: %v", name, err)
	}
	t.Cleanup(func() {
		if a, e := sql.Open("postgres", admDSN); e == nil {
			a.Exec(`DROP DATABASE IF EXISTS "` + name + `"`)
			a.Close()
		}
	})

	db, err := NewPostgres(fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable connect_timeout=2",
		host, port, user, password, name,
	))
	if err != nil {
		t.Fatalf("NewPostgres: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func sampleSkills() []models.Skill {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return []models.Skill{
		{
			ID:        models.SkillID("impulse", "Ask what the purchase replaces"),
			Section:   "impulse",
			Content:   "Ask what the purchase replaces",
			Helpful:   2,
			Status:    models.SkillStatusActive,
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
}

// ---------------------------------------------------------------------------
// Core
// ---------------------------------------------------------------------------

func TestNew_SQLite(t *testing.T) {
	db, err := New(config.DatabaseConfig{Type: "sqlite", Path: filepath.Join(t.TempDir(), "sub", "g.db")})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer db.Close()

	if db.Dialect() != DialectSQLite {
		t.Errorf("Dialect() = %q, want %q", db.Dialect(), DialectSQLite)
	}
	if err := db.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
	if db.DB() == nil {
		t.Error("DB() returned nil")
	}
}

func TestNew_UnsupportedType(t *testing.T) {
	if _, err := New(config.DatabaseConfig{Type: "mysql"}); err == nil {
		t.Fatal("expected error for unsupported type")
	}
}

func TestNewPostgres_InvalidDSN(t *testing.T) {
	_, err := NewPostgres("postgres://invalid-host/db?connect_timeout=1")
	if err == nil {
		t.Fatal("Expected error for invalid DSN, got nil")
	}
}

func TestInitSchema_Idempotent(t *testing.T) {
	db := newTestDB(t)
	if err := db.initSchema(); err != nil {
		t.Fatalf("second initSchema: %v", err)
	}
}

func TestRebind(t *testing.T) {
	got := rebind("UPDATE t SET a = ? WHERE b = ? AND c = ?")
	want := "UPDATE t SET a = $1 WHERE b = $2 AND c = $3"
	if got != want {
		t.Errorf("rebind = %q, want %q", got, want)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	if isUniqueViolation(nil) {
		t.Error("nil is not a violation")
	}
	if isUniqueViolation(errors.New("connection refused")) {
		t.Error("unrelated error classified as violation")
	}
	if !isUniqueViolation(errors.New("constraint failed: UNIQUE constraint failed: skillbooks.user_id (1555)")) {
		t.Error("sqlite unique failure not recognized")
	}
}

// ---------------------------------------------------------------------------
// Skillbooks
// ---------------------------------------------------------------------------

func testSkillbookLifecycle(t *testing.T, db *Database) {
	ctx := context.Background()

	sb, err := db.LoadSkillbook(ctx, "u1")
	if err != nil {
		t.Fatalf("LoadSkillbook(missing): %v", err)
	}
	if sb.Version != 0 || len(sb.Skills) != 0 || sb.UserID != "u1" {
		t.Fatalf("missing row should load empty at version 0, got %+v", sb)
	}

	skills := sampleSkills()
	if err := db.InsertSkillbookRow(ctx, "u1", skills, 1); err != nil {
		t.Fatalf("InsertSkillbookRow: %v", err)
	}

	err = db.InsertSkillbookRow(ctx, "u1", skills, 1)
	if !errors.Is(err, ErrSkillbookExists) {
		t.Fatalf("second insert: expected ErrSkillbookExists, got %v", err)
	}

	sb, err = db.LoadSkillbook(ctx, "u1")
	if err != nil {
		t.Fatalf("LoadSkillbook: %v", err)
	}
	if sb.Version != 1 || len(sb.Skills) != 1 {
		t.Fatalf("got version %d with %d skills", sb.Version, len(sb.Skills))
	}
	if sb.Skills[0].ID != skills[0].ID || sb.Skills[0].Helpful != 2 {
		t.Errorf("skill did not round-trip: %+v", sb.Skills[0])
	}

	// Stale version writes nothing.
	rows, err := db.UpdateSkillbookRow(ctx, "u1", 0, nil, 1)
	if err != nil {
		t.Fatalf("UpdateSkillbookRow(stale): %v", err)
	}
	if rows != 0 {
		t.Errorf("stale update affected %d rows", rows)
	}

	updated := append(skills, models.Skill{ID: "x-1", Section: "x", Content: "c", Status: models.SkillStatusActive})
	rows, err = db.UpdateSkillbookRow(ctx, "u1", 1, updated, 2)
	if err != nil {
		t.Fatalf("UpdateSkillbookRow: %v", err)
	}
	if rows != 1 {
		t.Fatalf("update affected %d rows, want 1", rows)
	}

	sb, err = db.LoadSkillbook(ctx, "u1")
	if err != nil {
		t.Fatalf("LoadSkillbook: %v", err)
	}
	if sb.Version != 2 || len(sb.Skills) != 2 {
		t.Errorf("got version %d with %d skills", sb.Version, len(sb.Skills))
	}
}

func TestSkillbookLifecycle_SQLite(t *testing.T) {
	testSkillbookLifecycle(t, newTestDB(t))
}

func TestSkillbookLifecycle_Postgres(t *testing.T) {
	testSkillbookLifecycle(t, newPostgresTestDB(t))
}

func TestUpdateSkillbookRow_MissingRow(t *testing.T) {
	db := newTestDB(t)
	rows, err := db.UpdateSkillbookRow(context.Background(), "nobody", 0, sampleSkills(), 1)
	if err != nil {
		t.Fatalf("UpdateSkillbookRow: %v", err)
	}
	if rows != 0 {
		t.Errorf("update of missing row affected %d rows", rows)
	}
}

func TestInsertSkillbookRow_NilSkillsStoredAsEmpty(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	if err := db.InsertSkillbookRow(ctx, "u1", nil, 1); err != nil {
		t.Fatalf("InsertSkillbookRow: %v", err)
	}
	sb, err := db.LoadSkillbook(ctx, "u1")
	if err != nil {
		t.Fatalf("LoadSkillbook: %v", err)
	}
	if sb.Skills == nil || len(sb.Skills) != 0 {
		t.Errorf("expected empty non-nil skills, got %#v", sb.Skills)
	}
}

func TestInsertSkillbookRow_ConcurrentFirstWrite(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	const writers = 8
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = db.InsertSkillbookRow(ctx, "race", sampleSkills(), 1)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrSkillbookExists):
		default:
			t.Errorf("unexpected insert error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Errorf("%d inserts succeeded, want exactly 1", succeeded)
	}

	var count, version int
	if err := db.DB().QueryRow(`SELECT COUNT(*), MAX(version) FROM skillbooks WHERE user_id = 'race'`).Scan(&count, &version); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 || version != 1 {
		t.Errorf("got %d rows at version %d, want 1 row at version 1", count, version)
	}
}

// ---------------------------------------------------------------------------
// Interactions and ghost cards
// ---------------------------------------------------------------------------

func TestInteractions(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	in := &models.Interaction{
		ID:       "int-1",
		UserID:   "u1",
		Tier:     "high",
		Outcome:  models.OutcomeOverridden,
		Question: "new headphones?",
		Metadata: map[string]string{"traceparent": "00-0af7651916cd43dd8448eb211c80319c-b7ad6b7169203331-01"},
	}
	if err := db.CreateInteraction(ctx, in); err != nil {
		t.Fatalf("CreateInteraction: %v", err)
	}

	got, err := db.FindInteraction(ctx, "int-1")
	if err != nil {
		t.Fatalf("FindInteraction: %v", err)
	}
	if got.LearningStatus != models.LearningStatusPending {
		t.Errorf("new interaction status = %q, want pending", got.LearningStatus)
	}
	if got.Outcome != models.OutcomeOverridden || got.Tier != "high" {
		t.Errorf("interaction did not round-trip: %+v", got)
	}
	if got.Metadata["traceparent"] != in.Metadata["traceparent"] {
		t.Errorf("metadata did not round-trip: %v", got.Metadata)
	}

	if err := db.SetInteractionStatus(ctx, "int-1", models.LearningStatusLearned); err != nil {
		t.Fatalf("SetInteractionStatus: %v", err)
	}
	got, _ = db.FindInteraction(ctx, "int-1")
	if got.LearningStatus != models.LearningStatusLearned {
		t.Errorf("status = %q, want learned", got.LearningStatus)
	}

	if err := db.SetInteractionStatus(ctx, "missing", models.LearningStatusLearned); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := db.FindInteraction(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := db.CreateInteraction(ctx, nil); err == nil {
		t.Error("expected error for nil interaction")
	}
}

func TestGhostCards(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	card := &models.GhostCard{ID: "g1", InteractionID: "int-1", UserID: "u1"}
	if err := db.CreateGhostCard(ctx, card); err != nil {
		t.Fatalf("CreateGhostCard: %v", err)
	}
	if err := db.CreateGhostCard(ctx, card); err != nil {
		t.Fatalf("duplicate CreateGhostCard should be a no-op: %v", err)
	}

	got, err := db.FindGhostCard(ctx, "g1")
	if err != nil {
		t.Fatalf("FindGhostCard: %v", err)
	}
	if got.InteractionID != "int-1" || got.UserID != "u1" {
		t.Errorf("ghost card did not round-trip: %+v", got)
	}

	if _, err := db.FindGhostCard(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
