package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ondrasimku/file-intake/internal/domain"
	"github.com/ondrasimku/file-intake/internal/storage"
)

// DefaultListKey is the list used when none is configured.
const DefaultListKey = "km:files"

// fileRow is one element of an ordered list. Seq grows with every push, so
// descending Seq is recency order.
type fileRow struct {
	Seq        uint64    `gorm:"primaryKey;autoIncrement"`
	ListKey    string    `gorm:"type:varchar(128);not null;index"`
	ID         uuid.UUID `gorm:"type:uuid;not null"`
	Name       string    `gorm:"type:varchar(1024);not null;index"`
	Size       int64     `gorm:"not null"`
	MediaType  string    `gorm:"type:varchar(255);not null"`
	UploadedAt time.Time `gorm:"not null"`
}

func (fileRow) TableName() string {
	return "file_records"
}

// listLock is a single row per list. Mutations lock it first, which
// serializes writers across every instance sharing the database.
type listLock struct {
	ListKey   string `gorm:"type:varchar(128);primaryKey"`
	UpdatedAt time.Time
}

func (listLock) TableName() string {
	return "file_record_locks"
}

func toRow(key string, rec domain.FileRecord) fileRow {
	return fileRow{
		ListKey:    key,
		ID:         rec.ID,
		Name:       rec.Name,
		Size:       rec.Size,
		MediaType:  rec.MediaType,
		UploadedAt: rec.UploadedAt.UTC(),
	}
}

func (r fileRow) record() domain.FileRecord {
	return domain.FileRecord{
		ID:         r.ID,
		Name:       r.Name,
		Size:       r.Size,
		MediaType:  r.MediaType,
		UploadedAt: r.UploadedAt.UTC(),
	}
}

// SQLBackend stores the list in a relational database through gorm.
type SQLBackend struct {
	db  *gorm.DB
	key string
}

var _ storage.Backend = (*SQLBackend)(nil)

// New migrates the schema and makes sure the lock row for listKey exists.
func New(db *gorm.DB, listKey string) (*SQLBackend, error) {
	if db == nil {
		return nil, fmt.Errorf("database cannot be nil")
	}
	if listKey == "" {
		listKey = DefaultListKey
	}

	if err := db.AutoMigrate(&fileRow{}, &listLock{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	lock := listLock{ListKey: listKey, UpdatedAt: time.Now().UTC()}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&lock).Error; err != nil {
		return nil, fmt.Errorf("failed to create list lock: %w", err)
	}

	return &SQLBackend{db: db, key: listKey}, nil
}

// locked runs fn in a transaction holding the list's row lock.
func (b *SQLBackend) locked(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var lock listLock
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("list_key = ?", b.key).
			First(&lock).Error
		if err != nil {
			return fmt.Errorf("failed to lock list %s: %w", b.key, err)
		}
		return fn(tx)
	})
}

func (b *SQLBackend) PushTrim(ctx context.Context, rec domain.FileRecord, opts storage.PushOptions) (int, error) {
	evicted := 0
	err := b.locked(ctx, func(tx *gorm.DB) error {
		if opts.ReplaceName {
			if err := tx.Where("list_key = ? AND name = ?", b.key, rec.Name).Delete(&fileRow{}).Error; err != nil {
				return fmt.Errorf("failed to replace records named %q: %w", rec.Name, err)
			}
		}

		row := toRow(b.key, rec)
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("failed to push record: %w", err)
		}

		if opts.Capacity <= 0 {
			return nil
		}

		keep := tx.Model(&fileRow{}).
			Select("seq").
			Where("list_key = ?", b.key).
			Order("seq DESC").
			Limit(opts.Capacity)
		res := tx.Where("list_key = ? AND seq NOT IN (?)", b.key, keep).Delete(&fileRow{})
		if res.Error != nil {
			return fmt.Errorf("failed to trim list: %w", res.Error)
		}
		evicted = int(res.RowsAffected)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return evicted, nil
}

func (b *SQLBackend) Range(ctx context.Context, limit int) ([]domain.FileRecord, error) {
	q := b.db.WithContext(ctx).Where("list_key = ?", b.key).Order("seq DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var rows []fileRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to read list: %w", err)
	}

	out := make([]domain.FileRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.record())
	}
	return out, nil
}

func (b *SQLBackend) RemoveFirst(ctx context.Context, name string) (bool, error) {
	found := false
	err := b.locked(ctx, func(tx *gorm.DB) error {
		var rows []fileRow
		err := tx.Where("list_key = ? AND name = ?", b.key, name).
			Order("seq DESC").
			Limit(1).
			Find(&rows).Error
		if err != nil {
			return fmt.Errorf("failed to find record %q: %w", name, err)
		}
		if len(rows) == 0 {
			return nil
		}
		if err := tx.Delete(&fileRow{}, "seq = ?", rows[0].Seq).Error; err != nil {
			return fmt.Errorf("failed to remove record %q: %w", name, err)
		}
		found = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return found, nil
}

func (b *SQLBackend) Clear(ctx context.Context) error {
	return b.locked(ctx, func(tx *gorm.DB) error {
		if err := tx.Where("list_key = ?", b.key).Delete(&fileRow{}).Error; err != nil {
			return fmt.Errorf("failed to clear list: %w", err)
		}
		return nil
	})
}

func (b *SQLBackend) Close() error {
	sqlDB, err := b.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying database: %w", err)
	}
	return sqlDB.Close()
}
