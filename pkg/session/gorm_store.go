package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	apperrors "github.com/kagent-dev/jamf-agent/pkg/errors"
)

// record is the row layout of the sessions table.
type record struct {
	SessionID    string    `gorm:"column:session_id;primaryKey"`
	UserID       string    `gorm:"column:user_id;index"`
	ChannelID    string    `gorm:"column:channel_id"`
	CreatedAt    time.Time `gorm:"column:created_at"`
	LastAccessed time.Time `gorm:"column:last_accessed;index"`
}

func (r *record) toSession() *Session {
	return &Session{
		ID:           r.SessionID,
		UserID:       r.UserID,
		ChannelID:    r.ChannelID,
		CreatedAt:    r.CreatedAt.UTC(),
		LastAccessed: r.LastAccessed.UTC(),
	}
}

// GormStore persists sessions in a SQL table through gorm
type GormStore struct {
	db    *gorm.DB
	table string
}

var _ Store = (*GormStore)(nil)

// OpenGormStore opens a store for driver ("sqlite" or "postgres") and
// migrates the sessions table.
func OpenGormStore(driver, dsn, table string) (*GormStore, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, apperrors.New(apperrors.ErrCodeInvalidInput, fmt.Sprintf("unsupported session driver %q", driver), nil)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeSessionStoreUnavailable, "failed to open session store", err)
	}
	return NewGormStore(db, table)
}

// NewGormStore wraps an open gorm handle.
func NewGormStore(db *gorm.DB, table string) (*GormStore, error) {
	s := &GormStore{db: db, table: table}
	if err := db.Table(table).AutoMigrate(&record{}); err != nil {
		return nil, apperrors.New(apperrors.ErrCodeSessionStoreUnavailable, "failed to migrate session table", err)
	}
	return s, nil
}

func (s *GormStore) scoped(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).Table(s.table)
}

func (s *GormStore) Get(ctx context.Context, id string) (*Session, error) {
	var rec record
	err := s.scoped(ctx).Where("session_id = ?", id).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeSessionStoreUnavailable, "failed to read session", err)
	}
	return rec.toSession(), nil
}

func (s *GormStore) Create(ctx context.Context, sess *Session) error {
	rec := record{
		SessionID:    sess.ID,
		UserID:       sess.UserID,
		ChannelID:    sess.ChannelID,
		CreatedAt:    sess.CreatedAt,
		LastAccessed: sess.LastAccessed,
	}
	// A concurrent first contact may have inserted the row already.
	err := s.scoped(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rec).Error
	if err != nil {
		return apperrors.New(apperrors.ErrCodeSessionStoreUnavailable, "failed to create session", err)
	}
	return nil
}

func (s *GormStore) Touch(ctx context.Context, id string, at time.Time) error {
	err := s.scoped(ctx).Where("session_id = ?", id).Update("last_accessed", at).Error
	if err != nil {
		return apperrors.New(apperrors.ErrCodeSessionStoreUnavailable, "failed to touch session", err)
	}
	return nil
}

func (s *GormStore) List(ctx context.Context, limit int) ([]*Session, error) {
	var recs []record
	q := s.scoped(ctx).Order("last_accessed desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&recs).Error; err != nil {
		return nil, apperrors.New(apperrors.ErrCodeSessionStoreUnavailable, "failed to list sessions", err)
	}

	out := make([]*Session, 0, len(recs))
	for i := range recs {
		out = append(out, recs[i].toSession())
	}
	return out, nil
}

func (s *GormStore) DeleteIdleSince(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.scoped(ctx).Where("last_accessed < ?", cutoff).Delete(&record{})
	if res.Error != nil {
		return 0, apperrors.New(apperrors.ErrCodeSessionStoreUnavailable, "failed to prune sessions", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
