package storage

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/evalite/evalite/internal/core"
)

// testDB creates an in-memory database for testing
func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(Config{InMemory: true})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate test database: %v", err)
	}
	return db
}

func testUser(t *testing.T, db *DB, id int64) {
	t.Helper()
	if _, err := NewUserStore(db).Ensure(context.Background(), id, "", ""); err != nil {
		t.Fatalf("Ensure(%d) error = %v", id, err)
	}
}

// =============================================================================
// DB Tests
// =============================================================================

func TestConfigFromURL(t *testing.T) {
	tests := []struct {
		url     string
		want    Config
		wantErr bool
	}{
		{url: "sqlite:///./eva_lite.db", want: Config{Dialect: DialectSQLite, Path: "./eva_lite.db"}},
		{url: "sqlite:////var/lib/eva.db", want: Config{Dialect: DialectSQLite, Path: "/var/lib/eva.db"}},
		{url: "sqlite:///:memory:", want: Config{Dialect: DialectSQLite, InMemory: true}},
		{url: "postgres://u:p@localhost/eva", want: Config{Dialect: DialectPostgres, DSN: "postgres://u:p@localhost/eva"}},
		{url: "postgresql://localhost/eva", want: Config{Dialect: DialectPostgres, DSN: "postgresql://localhost/eva"}},
		{url: "mysql://localhost/eva", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			got, err := ConfigFromURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ConfigFromURL() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ConfigFromURL() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestDB_Open_InMemory(t *testing.T) {
	db, err := Open(Config{InMemory: true})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close()

	if !db.isMemory {
		t.Error("db.isMemory should be true for in-memory database")
	}
	if db.Dialect() != DialectSQLite {
		t.Errorf("Dialect() = %v, want %v", db.Dialect(), DialectSQLite)
	}
}

func TestDB_Open_File(t *testing.T) {
	path := t.TempDir() + "/data/test.db"

	db, err := Open(Config{Path: path})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close()

	if db.isMemory {
		t.Error("db.isMemory should be false for file database")
	}
	if db.path != path {
		t.Errorf("db.path = %v, want %v", db.path, path)
	}
	if err := db.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}

func TestDB_Transaction_Rollback(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	err := db.Transaction(ctx, func(tx *sql.Tx) error {
		tx.ExecContext(ctx, "INSERT INTO users (id, name, created_at) VALUES (?, ?, ?)", 9, "user-9", now())
		return sql.ErrNoRows
	})
	if err == nil {
		t.Error("Transaction() should return error when function returns error")
	}

	if _, err := NewUserStore(db).Get(ctx, 9); !errors.Is(err, core.ErrUserNotFound) {
		t.Errorf("Get() after rollback error = %v, want ErrUserNotFound", err)
	}
}

func TestDB_Migrate(t *testing.T) {
	db, err := Open(Config{InMemory: true})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close()
	ctx := context.Background()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	// Running migrate again should be idempotent
	if err := db.Migrate(ctx); err != nil {
		t.Errorf("Migrate() second run error = %v", err)
	}

	for _, table := range []string{"users", "checkins", "notifications", "follow_ups", "_migrations"} {
		var count int
		err := db.conn.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
		if err != nil {
			t.Errorf("checking table %s: %v", table, err)
		}
		if count == 0 {
			t.Errorf("table %s should exist after migration", table)
		}
	}
}

func TestDB_Rebind(t *testing.T) {
	pg := &DB{dialect: DialectPostgres}
	if got := pg.rebind("SELECT ? , ?"); got != "SELECT $1 , $2" {
		t.Errorf("rebind() = %q", got)
	}
	lite := &DB{dialect: DialectSQLite}
	if got := lite.rebind("SELECT ?"); got != "SELECT ?" {
		t.Errorf("rebind() = %q", got)
	}
}

// =============================================================================
// UserStore Tests
// =============================================================================

func TestUserStore_Ensure(t *testing.T) {
	db := testDB(t)
	store := NewUserStore(db)
	ctx := context.Background()

	u, err := store.Ensure(ctx, 42, "+15551234567", "")
	if err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	if u.Name != "user-42" || u.Phone != "+15551234567" {
		t.Errorf("Ensure() = %+v", u)
	}

	// Empty values keep what is stored; new values replace it.
	u, err = store.Ensure(ctx, 42, "", "a@example.com")
	if err != nil {
		t.Fatalf("Ensure() second call error = %v", err)
	}
	if u.Phone != "+15551234567" || u.Email != "a@example.com" {
		t.Errorf("Ensure() contact = %q/%q", u.Phone, u.Email)
	}
	if u.CreatedAt.Location() != time.UTC {
		t.Errorf("CreatedAt location = %v, want UTC", u.CreatedAt.Location())
	}
}

func TestUserStore_Get_NotFound(t *testing.T) {
	db := testDB(t)
	_, err := NewUserStore(db).Get(context.Background(), 404)
	if !errors.Is(err, core.ErrUserNotFound) {
		t.Errorf("Get() error = %v, want ErrUserNotFound", err)
	}
}

// =============================================================================
// CheckInStore Tests
// =============================================================================

func TestCheckInStore_AppendAndGet(t *testing.T) {
	db := testDB(t)
	testUser(t, db, 1)
	store := NewCheckInStore(db)
	ctx := context.Background()

	analysis := core.AnalysisResult{
		Mood:         -0.4,
		Priority:     core.PriorityMedium,
		Suggestions:  []string{"Take a walk", "Call a friend"},
		FollowUpDays: 3,
		Explanation:  "Some stress mentioned.",
	}
	rec, err := store.Append(ctx, core.CheckIn{UserID: 1, Text: "rough day", ContactEmail: "a@example.com"},
		analysis, core.SourceAI, core.ProviderOpenAI)
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if rec.ID == 0 {
		t.Error("Append() should assign an ID")
	}
	if rec.CreatedAt.IsZero() {
		t.Error("Append() should set CreatedAt")
	}

	got, err := store.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Text != "rough day" || got.ContactEmail != "a@example.com" {
		t.Errorf("Get() check-in = %+v", got.CheckIn)
	}
	if got.Analysis.Priority != core.PriorityMedium || got.Analysis.FollowUpDays != 3 {
		t.Errorf("Get() analysis = %+v", got.Analysis)
	}
	if len(got.Analysis.Suggestions) != 2 || got.Analysis.Suggestions[1] != "Call a friend" {
		t.Errorf("Suggestions = %v", got.Analysis.Suggestions)
	}
	if got.Source != core.SourceAI || got.Provider != core.ProviderOpenAI {
		t.Errorf("Source/Provider = %v/%v", got.Source, got.Provider)
	}
	if !got.CreatedAt.Equal(rec.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, rec.CreatedAt)
	}
}

func TestCheckInStore_Append_NilSuggestions(t *testing.T) {
	db := testDB(t)
	testUser(t, db, 1)
	store := NewCheckInStore(db)
	ctx := context.Background()

	rec, err := store.Append(ctx, core.CheckIn{UserID: 1, Text: "ok"},
		core.AnalysisResult{Priority: core.PriorityLow}, core.SourceHeuristic, core.ProviderNone)
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	got, err := store.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Analysis.Suggestions == nil || len(got.Analysis.Suggestions) != 0 {
		t.Errorf("Suggestions = %#v, want empty slice", got.Analysis.Suggestions)
	}
}

func TestCheckInStore_Append_UnknownUser(t *testing.T) {
	db := testDB(t)
	_, err := NewCheckInStore(db).Append(context.Background(), core.CheckIn{UserID: 77, Text: "x"},
		core.AnalysisResult{Priority: core.PriorityLow}, core.SourceHeuristic, core.ProviderNone)

	var perr *core.PersistenceError
	if !errors.As(err, &perr) {
		t.Fatalf("Append() error = %v, want *PersistenceError", err)
	}
	if perr.Op != "append_checkin" {
		t.Errorf("Op = %q", perr.Op)
	}
}

func TestCheckInStore_Get_NotFound(t *testing.T) {
	db := testDB(t)
	_, err := NewCheckInStore(db).Get(context.Background(), 999)
	if !errors.Is(err, core.ErrRecordNotFound) {
		t.Errorf("Get() error = %v, want ErrRecordNotFound", err)
	}
}

func TestCheckInStore_Recent(t *testing.T) {
	db := testDB(t)
	testUser(t, db, 1)
	testUser(t, db, 2)
	store := NewCheckInStore(db)
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 5; i++ {
		rec, err := store.Append(ctx, core.CheckIn{UserID: 1, Text: "entry"},
			core.AnalysisResult{Priority: core.PriorityLow}, core.SourceHeuristic, core.ProviderNone)
		if err != nil {
			t.Fatalf("Append() error = %v", err)
		}
		ids = append(ids, rec.ID)
	}
	if _, err := store.Append(ctx, core.CheckIn{UserID: 2, Text: "other"},
		core.AnalysisResult{Priority: core.PriorityLow}, core.SourceHeuristic, core.ProviderNone); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	got, err := store.Recent(ctx, 1, 3)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Recent() returned %d records, want 3", len(got))
	}
	// Newest first
	for i, rec := range got {
		if rec.ID != ids[len(ids)-1-i] {
			t.Errorf("Recent()[%d].ID = %d, want %d", i, rec.ID, ids[len(ids)-1-i])
		}
		if rec.UserID != 1 {
			t.Errorf("Recent()[%d].UserID = %d, want 1", i, rec.UserID)
		}
	}

	all, err := store.Recent(ctx, 1, 0)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(all) != 5 {
		t.Errorf("Recent() default limit returned %d, want 5", len(all))
	}

	count, err := store.Count(ctx, 1)
	if err != nil || count != 5 {
		t.Errorf("Count() = %d, %v", count, err)
	}
}

func TestCheckInStore_Recent_Empty(t *testing.T) {
	db := testDB(t)
	got, err := NewCheckInStore(db).Recent(context.Background(), 123, 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("Recent() = %#v, want empty slice", got)
	}
}

// =============================================================================
// NotificationStore Tests
// =============================================================================

func TestNotificationStore_SaveAndList(t *testing.T) {
	db := testDB(t)
	store := NewNotificationStore(db)
	ctx := context.Background()

	first := &core.Notification{
		UserID: 1, CheckInID: 10, Kind: core.KindSuggestions, Channel: core.ChannelEmail,
		Recipient: "a@example.com", Subject: "EVA-Lite suggestions", Body: "- rest", Status: core.StatusSent,
	}
	if err := store.Save(ctx, first); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if first.ID == "" || first.CreatedAt.IsZero() {
		t.Errorf("Save() should fill ID and CreatedAt, got %+v", first)
	}

	second := &core.Notification{
		UserID: 1, Kind: core.KindFollowUp, Channel: core.ChannelSMS, Recipient: "+15551234567",
		Body: "reminder", Status: core.StatusFailed, Error: "twilio down",
		CreatedAt: first.CreatedAt.Add(time.Second),
	}
	if err := store.Save(ctx, second); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := store.ListByUser(ctx, 1, 10)
	if err != nil {
		t.Fatalf("ListByUser() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ListByUser() returned %d, want 2", len(got))
	}
	if got[0].ID != second.ID {
		t.Errorf("ListByUser()[0] = %s, want newest %s", got[0].ID, second.ID)
	}
	if got[0].Status != core.StatusFailed || got[0].Error != "twilio down" {
		t.Errorf("ListByUser()[0] = %+v", got[0])
	}
	if got[1].Channel != core.ChannelEmail || got[1].Subject != "EVA-Lite suggestions" {
		t.Errorf("ListByUser()[1] = %+v", got[1])
	}
}

// =============================================================================
// FollowUpStore Tests
// =============================================================================

func TestFollowUpStore_Lifecycle(t *testing.T) {
	db := testDB(t)
	store := NewFollowUpStore(db)
	ctx := context.Background()
	base := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)

	due := &core.FollowUp{UserID: 1, CheckInID: 3, Phone: "+15551234567", DueAt: base}
	later := &core.FollowUp{UserID: 2, CheckInID: 4, Email: "b@example.com", DueAt: base.Add(48 * time.Hour)}
	for _, f := range []*core.FollowUp{due, later} {
		if err := store.Create(ctx, f); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if f.ID == "" || f.Status != core.FollowUpPending {
			t.Errorf("Create() = %+v", f)
		}
	}

	got, err := store.Due(ctx, base.Add(time.Hour), 10)
	if err != nil {
		t.Fatalf("Due() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != due.ID {
		t.Fatalf("Due() = %+v, want only %s", got, due.ID)
	}
	if !got[0].DueAt.Equal(base) || got[0].Phone != "+15551234567" {
		t.Errorf("Due()[0] = %+v", got[0])
	}

	if err := store.MarkSent(ctx, due.ID); err != nil {
		t.Fatalf("MarkSent() error = %v", err)
	}
	sent, err := store.Get(ctx, due.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if sent.Status != core.FollowUpSent || sent.SentAt == nil {
		t.Errorf("after MarkSent: %+v", sent)
	}
	// Only pending follow-ups can be marked.
	if err := store.MarkFailed(ctx, due.ID); !errors.Is(err, core.ErrRecordNotFound) {
		t.Errorf("MarkFailed() on sent follow-up error = %v, want ErrRecordNotFound", err)
	}

	got, err = store.Due(ctx, base.Add(72*time.Hour), 10)
	if err != nil {
		t.Fatalf("Due() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != later.ID {
		t.Errorf("Due() = %+v, want only %s", got, later.ID)
	}
}

func TestFollowUpStore_CancelPending(t *testing.T) {
	db := testDB(t)
	store := NewFollowUpStore(db)
	ctx := context.Background()
	at := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 2; i++ {
		if err := store.Create(ctx, &core.FollowUp{UserID: 5, DueAt: at, Phone: "+15551234567"}); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}
	if err := store.Create(ctx, &core.FollowUp{UserID: 6, DueAt: at, Phone: "+15551234567"}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	n, err := store.CancelPending(ctx, 5)
	if err != nil {
		t.Fatalf("CancelPending() error = %v", err)
	}
	if n != 2 {
		t.Errorf("CancelPending() = %d, want 2", n)
	}

	got, err := store.Due(ctx, at, 10)
	if err != nil {
		t.Fatalf("Due() error = %v", err)
	}
	if len(got) != 1 || got[0].UserID != 6 {
		t.Errorf("Due() = %+v, want only user 6", got)
	}
}
