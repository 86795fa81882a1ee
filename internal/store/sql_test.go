package store

import (
	"context"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/gridforge/gridforge/internal/application"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open in-memory sqlite: %v", err)
	}
	return db
}

func TestSQLStoreSaveLoadRoundTrip(t *testing.T) {
	db := newTestDB(t)
	st, err := NewSQLStore(db, DefaultRegistry())
	if err != nil {
		t.Fatalf("NewSQLStore: %v", err)
	}
	ctx := context.Background()

	a := newApp(t, "sql-round-trip")
	id, err := st.Save(ctx, a)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := st.Load(ctx, id)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	la, ok := loaded.(*application.Application)
	if !ok {
		t.Fatalf("loaded type = %T, want *application.Application", loaded)
	}
	if la.JobName() != "sql-round-trip" {
		t.Errorf("JobName() = %q, want sql-round-trip", la.JobName())
	}
}

func TestSQLStoreIDsAreMonotonicAcrossSaves(t *testing.T) {
	db := newTestDB(t)
	st, err := NewSQLStore(db, DefaultRegistry())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	a1 := newApp(t, "first")
	a2 := newApp(t, "second")
	id1, err := st.Save(ctx, a1)
	if err != nil {
		t.Fatal(err)
	}
	id2, err := st.Save(ctx, a2)
	if err != nil {
		t.Fatal(err)
	}
	if id1 == id2 {
		t.Fatalf("two distinct saves minted the same id %q", id1)
	}
}

func TestSQLStoreRemoveAndList(t *testing.T) {
	db := newTestDB(t)
	st, err := NewSQLStore(db, DefaultRegistry())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	a := newApp(t, "removable")
	id, err := st.Save(ctx, a)
	if err != nil {
		t.Fatal(err)
	}
	ids, err := st.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != id {
		t.Fatalf("List() = %v, want [%s]", ids, id)
	}
	if err := st.Remove(ctx, id); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if ids, err = st.List(ctx); err != nil || len(ids) != 0 {
		t.Errorf("List() after Remove = %v, %v, want empty", ids, err)
	}
}
