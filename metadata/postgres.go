package metadata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/imgrevise/imgrevise/config"
	apperrors "github.com/imgrevise/imgrevise/errors"
)

// PostgresStore implements Store on top of gorm.io/gorm + the postgres
// driver. Per-image serialization is done with a SELECT ... FOR UPDATE on
// the Image row inside a transaction, giving with_image_lock semantics
// without a separate lock table.
type PostgresStore struct {
	db *gorm.DB
}

// NewPostgresStore wraps an already-connected *gorm.DB.
func NewPostgresStore(db *gorm.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Connect opens a new gorm.DB against the Postgres described by cfg and
// auto-migrates the Image/Revision schema.
func Connect(cfg config.PostgresConfig) (*PostgresStore, error) {
	dsn := wrapDSN(cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, apperrors.New(apperrors.CategoryMetadata, "metadata.Connect", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, apperrors.New(apperrors.CategoryMetadata, "metadata.Connect", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxConns)

	if err := db.AutoMigrate(&Image{}, &Revision{}); err != nil {
		return nil, apperrors.New(apperrors.CategoryMetadata, "metadata.Connect", err)
	}

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) CreateImage(ctx context.Context, img *Image) error {
	if err := s.db.WithContext(ctx).Create(img).Error; err != nil {
		return apperrors.New(apperrors.CategoryMetadata, "metadata.CreateImage", err)
	}
	return nil
}

func (s *PostgresStore) GetImage(ctx context.Context, id uuid.UUID) (*Image, error) {
	var img Image
	err := s.db.WithContext(ctx).First(&img, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.New(apperrors.CategoryNotFound, "metadata.GetImage", apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, apperrors.New(apperrors.CategoryMetadata, "metadata.GetImage", err)
	}
	return &img, nil
}

func (s *PostgresStore) DeleteImage(ctx context.Context, id uuid.UUID) error {
	result := s.db.WithContext(ctx).Select(clause.Associations).Delete(&Image{ID: id})
	if result.Error != nil {
		return apperrors.New(apperrors.CategoryMetadata, "metadata.DeleteImage", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.New(apperrors.CategoryNotFound, "metadata.DeleteImage", apperrors.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) CreateRevision(ctx context.Context, rev *Revision) error {
	if err := s.db.WithContext(ctx).Create(rev).Error; err != nil {
		return apperrors.New(apperrors.CategoryMetadata, "metadata.CreateRevision", err)
	}
	return nil
}

func (s *PostgresStore) GetRevision(ctx context.Context, id uuid.UUID) (*Revision, error) {
	var rev Revision
	err := s.db.WithContext(ctx).First(&rev, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.New(apperrors.CategoryNotFound, "metadata.GetRevision", apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, apperrors.New(apperrors.CategoryMetadata, "metadata.GetRevision", err)
	}
	return &rev, nil
}

func (s *PostgresStore) TombstoneRevision(ctx context.Context, id uuid.UUID, at time.Time) error {
	result := s.db.WithContext(ctx).Model(&Revision{}).Where("id = ?", id).Update("tombstoned_at", at)
	if result.Error != nil {
		return apperrors.New(apperrors.CategoryMetadata, "metadata.TombstoneRevision", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.New(apperrors.CategoryNotFound, "metadata.TombstoneRevision", apperrors.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) GetLatestRevision(ctx context.Context, imageID uuid.UUID) (*Revision, error) {
	var rev Revision
	err := s.db.WithContext(ctx).
		Where("image_id = ? AND tombstoned_at IS NULL", imageID).
		Order("created_at DESC").
		First(&rev).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.New(apperrors.CategoryMetadata, "metadata.GetLatestRevision", err)
	}
	return &rev, nil
}

func (s *PostgresStore) GetHistory(ctx context.Context, imageID uuid.UUID) ([]Revision, error) {
	var revs []Revision
	err := s.db.WithContext(ctx).
		Where("image_id = ? AND tombstoned_at IS NULL", imageID).
		Order("created_at ASC").
		Find(&revs).Error
	if err != nil {
		return nil, apperrors.New(apperrors.CategoryMetadata, "metadata.GetHistory", err)
	}
	return revs, nil
}

func (s *PostgresStore) WithImageLock(ctx context.Context, imageID uuid.UUID, fn func(ctx context.Context) error) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var img Image
		lockErr := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&img, "id = ?", imageID).Error
		if errors.Is(lockErr, gorm.ErrRecordNotFound) {
			return apperrors.New(apperrors.CategoryNotFound, "metadata.WithImageLock", apperrors.ErrNotFound)
		}
		if lockErr != nil {
			return apperrors.New(apperrors.CategoryConcurrency, "metadata.WithImageLock", lockErr)
		}

		txStore := &PostgresStore{db: tx}
		return fn(context.WithValue(ctx, txStoreKey{}, txStore))
	})
	if err != nil {
		var pe *apperrors.ProcessingError
		if errors.As(err, &pe) {
			return err
		}
		return apperrors.New(apperrors.CategoryConcurrency, "metadata.WithImageLock", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return apperrors.New(apperrors.CategoryMetadata, "metadata.Ping", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return apperrors.New(apperrors.CategoryMetadata, "metadata.Ping", err)
	}
	return nil
}

// txStoreKey is the context key under which WithImageLock stashes a
// transaction-scoped Store so callers can read/write the same row they just
// locked without re-dialing a new connection.
type txStoreKey struct{}

// StoreFromContext returns the transaction-scoped Store set up by
// WithImageLock, falling back to fallback when none is present (e.g. in
// tests that call a method directly without going through the lock).
func StoreFromContext(ctx context.Context, fallback Store) Store {
	if s, ok := ctx.Value(txStoreKey{}).(Store); ok {
		return s
	}
	return fallback
}

var _ Store = (*PostgresStore)(nil)

func wrapDSN(host string, port int, user, password, dbname, sslmode string) string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		host, port, user, password, dbname, sslmode)
}
