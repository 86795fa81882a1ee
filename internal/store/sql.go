package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/gridforge/gridforge/internal/griderr"
	"github.com/gridforge/gridforge/internal/persist"
	"github.com/gridforge/gridforge/internal/task"
)

// storeRow is SQLStore's object table, matching spec.md §6's SQL schema:
// id, a tagged-variant JSON blob, and a denormalized state column kept in
// sync for cheap status queries. Id reservation uses a second table,
// idCounterRow.
type storeRow struct {
	ID        string `gorm:"primaryKey"`
	Type      string `gorm:"index"`
	State     string `gorm:"index"`
	Data      datatypes.JSON
	UpdatedAt time.Time
}

func (storeRow) TableName() string { return "store" }

type idCounterRow struct {
	Prefix string `gorm:"primaryKey"`
	Next   int64
}

func (idCounterRow) TableName() string { return "store_id_seq" }

// SQLReservation backs persist.Factory with a database row per prefix,
// incremented inside a transaction so concurrent Engines sharing one
// database never mint the same id twice.
type SQLReservation struct {
	db *gorm.DB
}

func NewSQLReservation(db *gorm.DB) (*SQLReservation, error) {
	if err := db.AutoMigrate(&idCounterRow{}); err != nil {
		return nil, fmt.Errorf("store: migrate id sequence table: %w", err)
	}
	return &SQLReservation{db: db}, nil
}

func (r *SQLReservation) Next(prefix string) (int64, error) {
	var next int64
	err := r.db.Transaction(func(tx *gorm.DB) error {
		row := idCounterRow{Prefix: prefix, Next: 1}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "prefix"}},
			DoNothing: true,
		}).Create(&row).Error; err != nil {
			return err
		}
		if err := tx.Model(&idCounterRow{}).Where("prefix = ?", prefix).
			Update("next", gorm.Expr("next + 1")).Error; err != nil {
			return err
		}
		return tx.Model(&idCounterRow{}).Where("prefix = ?", prefix).
			Pluck("next", &next).Error
	})
	if err != nil {
		return 0, err
	}
	return next - 1, nil
}

// SQLStore implements Store over a gorm.DB, for the postgres/sqlite drivers
// named in SPEC_FULL.md's domain stack. Its shared-subobject handling and
// weak-reference cache mirror FilesystemStore exactly; only persistence of
// the envelope differs (one row instead of one file).
type SQLStore struct {
	db       *gorm.DB
	factory  *persist.Factory
	registry *persist.Registry

	mu    sync.Mutex
	cache map[persist.ID]weakRef
}

func NewSQLStore(db *gorm.DB, registry *persist.Registry) (*SQLStore, error) {
	if err := db.AutoMigrate(&storeRow{}); err != nil {
		return nil, fmt.Errorf("store: migrate store table: %w", err)
	}
	res, err := NewSQLReservation(db)
	if err != nil {
		return nil, err
	}
	return &SQLStore{
		db:       db,
		factory:  persist.NewFactory(res),
		registry: registry,
		cache:    make(map[persist.ID]weakRef),
	}, nil
}

func (s *SQLStore) Save(ctx context.Context, obj persist.Coder) (persist.ID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(ctx, obj, make(map[persist.Coder]persist.ID))
}

func (s *SQLStore) saveLocked(ctx context.Context, obj persist.Coder, seen map[persist.Coder]persist.ID) (persist.ID, error) {
	if id, ok := seen[obj]; ok {
		return id, nil
	}
	id := obj.PersistentID()
	if id.Empty() {
		newID, err := s.factory.New(obj.TypeTag())
		if err != nil {
			return "", err
		}
		obj.SetPersistentID(newID)
		id = newID
	}
	seen[obj] = id

	body, err := obj.EncodeBody(func(child persist.Persistable) (persist.ID, error) {
		coder, ok := child.(persist.Coder)
		if !ok {
			return "", fmt.Errorf("store: %T does not implement Coder", child)
		}
		return s.saveLocked(ctx, coder, seen)
	})
	if err != nil {
		return "", fmt.Errorf("store: encode %s: %w", id, err)
	}

	row := storeRow{
		ID:        string(id),
		Type:      obj.TypeTag(),
		State:     "",
		Data:      datatypes.JSON(body),
		UpdatedAt: time.Now(),
	}
	if runner, ok := obj.(interface{ Run() *task.Run }); ok {
		row.State = string(runner.Run().State())
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"type", "state", "data", "updated_at"}),
	}).Create(&row).Error; err != nil {
		return "", fmt.Errorf("store: upsert %s: %w", id, err)
	}
	obj.SetChanged(false)
	s.cache[id] = newWeakRef(obj)
	return id, nil
}

func (s *SQLStore) Load(ctx context.Context, id persist.ID) (persist.Coder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(ctx, id, make(map[persist.ID]persist.Coder))
}

func (s *SQLStore) loadLocked(ctx context.Context, id persist.ID, inProgress map[persist.ID]persist.Coder) (persist.Coder, error) {
	if obj, ok := inProgress[id]; ok {
		return obj, nil
	}
	if ref, ok := s.cache[id]; ok {
		if v := ref.Value(); v != nil {
			return v, nil
		}
		delete(s.cache, id)
	}

	var row storeRow
	if err := s.db.WithContext(ctx).Where("id = ?", string(id)).First(&row).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, griderr.ErrNotFound
		}
		return nil, fmt.Errorf("store: load %s: %w", id, err)
	}

	obj, ok := s.registry.New(row.Type)
	if !ok {
		return nil, fmt.Errorf("store: no constructor registered for type tag %q", row.Type)
	}
	obj.SetPersistentID(persist.ID(row.ID))
	inProgress[id] = obj

	if err := obj.DecodeBody(json.RawMessage(row.Data), func(childID persist.ID) (persist.Persistable, error) {
		return s.loadLocked(ctx, childID, inProgress)
	}); err != nil {
		return nil, fmt.Errorf("store: decode %s: %w", id, err)
	}
	obj.SetChanged(false)
	s.cache[persist.ID(row.ID)] = newWeakRef(obj)
	return obj, nil
}

func (s *SQLStore) Replace(ctx context.Context, id persist.ID, obj persist.Coder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj.SetPersistentID(id)
	_, err := s.saveLocked(ctx, obj, make(map[persist.Coder]persist.ID))
	return err
}

func (s *SQLStore) Remove(ctx context.Context, id persist.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cache, id)
	if err := s.db.WithContext(ctx).Where("id = ?", string(id)).Delete(&storeRow{}).Error; err != nil {
		return fmt.Errorf("store: remove %s: %w", id, err)
	}
	return nil
}

func (s *SQLStore) List(ctx context.Context) ([]persist.ID, error) {
	var rows []storeRow
	if err := s.db.WithContext(ctx).Select("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	ids := make([]persist.ID, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, persist.ID(r.ID))
	}
	return ids, nil
}

// PreFork closes the pooled SQL connection before a fork, since
// pgx/database-sql connections do not survive fork(2) cleanly. PostFork
// does not reopen it.
func (s *SQLStore) PreFork() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *SQLStore) PostFork() error {
	return nil // caller is expected to construct a fresh *gorm.DB post-fork
}
