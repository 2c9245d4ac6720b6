package kvstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type KVEntry struct {
	Key       string `gorm:"column:item_key;primaryKey"`
	Value     []byte
	ExpiresAt *time.Time `gorm:"index"`
	UpdatedAt time.Time
}

func (KVEntry) TableName() string {
	return "kv_entries"
}

// Store backed by a SQL database (sqlite or postgres). Expired rows are filtered on read, and deleted when encountered by Get.
type SQLStore struct {
	db *gorm.DB
	// clock used for TTLs; defaults to time.Now
	Now func() time.Time
}

var _ Store = (*SQLStore)(nil)

// Wraps an existing database handle, creating the table if needed.
func NewSQLStore(db *gorm.DB) (*SQLStore, error) {
	if err := db.AutoMigrate(&KVEntry{}); err != nil {
		return nil, err
	}
	return &SQLStore{db: db, Now: time.Now}, nil
}

func (s *SQLStore) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

func (s *SQLStore) Get(ctx context.Context, key string) ([]byte, error) {
	var row KVEntry
	err := s.db.WithContext(ctx).Where("item_key = ?", key).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, err
	}
	now := s.now()
	if row.ExpiresAt != nil && !now.Before(*row.ExpiresAt) {
		if err := s.db.WithContext(ctx).Where("item_key = ? AND expires_at <= ?", key, now).Delete(&KVEntry{}).Error; err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	return row.Value, nil
}

func (s *SQLStore) Put(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	now := s.now()
	row := KVEntry{
		Key:       key,
		Value:     val,
		UpdatedAt: now,
	}
	if ttl > 0 {
		exp := now.Add(ttl)
		row.ExpiresAt = &exp
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
}

func (s *SQLStore) Delete(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Where("item_key = ?", key).Delete(&KVEntry{}).Error
}

func (s *SQLStore) List(ctx context.Context, prefix string, limit int) ([]Entry, error) {
	q := s.db.WithContext(ctx).
		Where(`item_key LIKE ? ESCAPE '\'`, escapeLike(prefix)+"%").
		Where("(expires_at IS NULL OR expires_at > ?)", s.now()).
		Order("item_key ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []KVEntry
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(rows))
	for _, r := range rows {
		out = append(out, Entry{Key: r.Key, Value: r.Value})
	}
	return out, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
