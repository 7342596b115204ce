package cache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// SQLiteStorage persists partitions in a SQLite database through GORM
type SQLiteStorage struct {
	db *gorm.DB
}

var _ Storage = (*SQLiteStorage)(nil)

// OpenSQLite opens (and migrates) the database at dsn
func OpenSQLite(dsn string) (*SQLiteStorage, error) {
	if err := ensureSQLiteDirectory(dsn); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access sqlite pool: %w", err)
	}
	// SQLite allows a single writer; serialize through one connection
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&partitionRow{}, &entryRow{}, &metaRow{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate cache schema: %w", err)
	}

	logrus.Debugf("Opened partition store %s", dsn)
	return &SQLiteStorage{db: db}, nil
}

func ensureSQLiteDirectory(dsn string) error {
	candidate := strings.TrimSpace(dsn)
	if candidate == "" || candidate == ":memory:" || strings.Contains(candidate, "mode=memory") {
		return nil
	}

	candidate = strings.TrimPrefix(candidate, "file:")
	if idx := strings.Index(candidate, "?"); idx >= 0 {
		candidate = candidate[:idx]
	}

	dir := filepath.Dir(candidate)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0755)
}

func (s *SQLiteStorage) Open(ctx context.Context, name string) (Partition, error) {
	row := partitionRow{Name: name, CreatedAt: time.Now().UTC().Format(time.RFC3339Nano)}
	err := s.db.WithContext(ctx).Where("name = ?", name).FirstOrCreate(&row).Error
	if err != nil {
		return nil, fmt.Errorf("failed to open partition %s: %w", name, err)
	}
	return &sqlitePartition{db: s.db, name: name}, nil
}

func (s *SQLiteStorage) Lookup(ctx context.Context, name string) (Partition, bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&partitionRow{}).Where("name = ?", name).Count(&count).Error
	if err != nil {
		return nil, false, fmt.Errorf("failed to look up partition %s: %w", name, err)
	}
	if count == 0 {
		return nil, false, nil
	}
	return &sqlitePartition{db: s.db, name: name}, true, nil
}

func (s *SQLiteStorage) Names(ctx context.Context) ([]string, error) {
	var names []string
	err := s.db.WithContext(ctx).Model(&partitionRow{}).Order("id").Pluck("name", &names).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list partitions: %w", err)
	}
	return names, nil
}

func (s *SQLiteStorage) Delete(ctx context.Context, name string) (bool, error) {
	existed := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("partition_name = ?", name).Delete(&entryRow{}).Error; err != nil {
			return err
		}
		res := tx.Where("name = ?", name).Delete(&partitionRow{})
		if res.Error != nil {
			return res.Error
		}
		existed = res.RowsAffected > 0
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete partition %s: %w", name, err)
	}
	return existed, nil
}

func (s *SQLiteStorage) Meta(ctx context.Context, key string) (string, error) {
	var row metaRow
	err := s.db.WithContext(ctx).Where("meta_key = ?", key).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read %s: %w", key, err)
	}
	return row.Value, nil
}

func (s *SQLiteStorage) SetMeta(ctx context.Context, key, value string) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "meta_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"meta_value"}),
	}).Create(&metaRow{Key: key, Value: value}).Error
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStorage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type sqlitePartition struct {
	db   *gorm.DB
	name string
}

func (p *sqlitePartition) Name() string {
	return p.name
}

func (p *sqlitePartition) Match(ctx context.Context, req *http.Request) (*http.Response, error) {
	key, err := Key(req)
	if err != nil {
		return nil, err
	}
	resp, err := p.Get(ctx, key)
	if resp != nil {
		resp.Request = req
	}
	return resp, err
}

func (p *sqlitePartition) Get(ctx context.Context, key string) (*http.Response, error) {
	var row entryRow
	err := p.db.WithContext(ctx).
		Where("partition_name = ? AND entry_key = ?", p.name, key).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query entry %s: %w", key, err)
	}

	resp, err := Deserialize(row.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize entry %s: %w", key, err)
	}
	return resp, nil
}

func (p *sqlitePartition) Put(ctx context.Context, req *http.Request, resp *http.Response) error {
	key, err := Key(req)
	if err != nil {
		return err
	}

	data, err := Serialize(resp)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	row := entryRow{
		PartitionName: p.name,
		Key:           key,
		Data:          data,
		StoredAt:      time.Now().UTC().Format(time.RFC3339Nano),
	}

	err = p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&partitionRow{}).Where("name = ?", p.name).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			// partition was deleted after this handle was opened
			logrus.Debugf("Dropping write to deleted partition %s: %s", p.name, key)
			return nil
		}
		if err := tx.Where("partition_name = ? AND entry_key = ?", p.name, key).Delete(&entryRow{}).Error; err != nil {
			return err
		}
		return tx.Create(&row).Error
	})
	if err != nil {
		return fmt.Errorf("failed to store entry %s: %w", key, err)
	}
	return nil
}

func (p *sqlitePartition) Delete(ctx context.Context, key string) (bool, error) {
	res := p.db.WithContext(ctx).Where("partition_name = ? AND entry_key = ?", p.name, key).Delete(&entryRow{})
	if res.Error != nil {
		return false, fmt.Errorf("failed to delete entry %s: %w", key, res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (p *sqlitePartition) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	err := p.db.WithContext(ctx).Model(&entryRow{}).
		Where("partition_name = ?", p.name).
		Order("seq").
		Pluck("entry_key", &keys).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list keys of %s: %w", p.name, err)
	}
	return keys, nil
}

func (p *sqlitePartition) Len(ctx context.Context) (int, error) {
	var count int64
	err := p.db.WithContext(ctx).Model(&entryRow{}).Where("partition_name = ?", p.name).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count entries of %s: %w", p.name, err)
	}
	return int(count), nil
}
