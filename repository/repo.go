package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/glebarez/sqlite"
	_ "github.com/lib/pq"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"iris/entities"
	"iris/errs"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	Driver    string
	DSN       string
	Workspace string
	Debug     bool
}

// RecordStore persists the two record collections. Every method is one atomic operation;
// callers filter in memory.
type RecordStore interface {
	Transaction(ctx context.Context, callback func(ctx context.Context) error) error
	Migrate(ctx context.Context) error
	PutMeeting(ctx context.Context, meeting *entities.Meeting) error
	GetAllMeetings(ctx context.Context) ([]*entities.Meeting, error)
	DeleteMeeting(ctx context.Context, id string) error
	PutTask(ctx context.Context, task *entities.Task) error
	GetAllTasks(ctx context.Context) ([]*entities.Task, error)
	DeleteTask(ctx context.Context, id string) error
	Close() error
}

type txKey struct{}

type repo struct {
	db *gorm.DB
}

func Open(cfg Config) (RecordStore, error) {
	logLevel := logger.Warn
	if cfg.Debug {
		logLevel = logger.Info
	}
	gormCfg := &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	}

	var dialector gorm.Dialector
	switch cfg.Driver {
	case DriverPostgres:
		db, err := sql.Open("postgres", cfg.DSN)
		if err != nil {
			return nil, errs.Storage(err)
		}
		dialector = postgres.New(postgres.Config{Conn: db})
	case DriverSQLite, "":
		dsn := cfg.DSN
		if dsn == "" {
			path, err := ensureWorkspace(cfg.Workspace)
			if err != nil {
				return nil, errs.Storage(err)
			}
			dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
		}
		dialector = sqlite.Open(dsn)
	default:
		return nil, errs.Invalid("unsupported store driver %q", cfg.Driver)
	}

	gormDB, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return nil, errs.Storage(err)
	}
	return &repo{db: gormDB}, nil
}

func New(db *gorm.DB) RecordStore {
	return &repo{db: db}
}

func ensureWorkspace(workspace string) (string, error) {
	if workspace == "" {
		workspace = "."
	}
	dir := filepath.Join(workspace, ".iris")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return filepath.Join(dir, "iris.db"), nil
}

func (r *repo) GetDB(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx
	}
	return r.db.WithContext(ctx)
}

func (r *repo) Transaction(ctx context.Context, callback func(ctx context.Context) error) error {
	var callbackErr error
	err := r.GetDB(ctx).Transaction(func(tx *gorm.DB) error {
		callbackErr = callback(context.WithValue(ctx, txKey{}, tx))
		return callbackErr
	})
	if err != nil && !errors.Is(err, callbackErr) {
		// begin or commit failed
		return errs.Storage(err)
	}
	return err
}

func (r *repo) Migrate(ctx context.Context) error {
	if err := r.GetDB(ctx).AutoMigrate(&entities.Meeting{}, &entities.Task{}); err != nil {
		return errs.Storage(err)
	}
	return nil
}

func (r *repo) PutMeeting(ctx context.Context, meeting *entities.Meeting) error {
	if meeting == nil || meeting.ID == "" {
		return errs.Invalid("meeting id is required")
	}
	if len(meeting.ID) > entities.IDLength {
		return errs.Invalid("meeting id %q exceeds %d characters", meeting.ID, entities.IDLength)
	}
	if err := r.GetDB(ctx).Save(meeting).Error; err != nil {
		return errs.Storage(err)
	}
	return nil
}

func (r *repo) GetAllMeetings(ctx context.Context) ([]*entities.Meeting, error) {
	var meetings []*entities.Meeting
	err := r.GetDB(ctx).Order("created_at ASC").Find(&meetings).Error
	if err != nil {
		return nil, errs.Storage(err)
	}
	return meetings, nil
}

func (r *repo) DeleteMeeting(ctx context.Context, id string) error {
	result := r.GetDB(ctx).Delete(&entities.Meeting{}, "id = ?", id)
	if result.Error != nil {
		return errs.Storage(result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("meeting %s: %w", id, errs.ErrNotFound)
	}
	return nil
}

func (r *repo) PutTask(ctx context.Context, task *entities.Task) error {
	if task == nil || task.ID == "" {
		return errs.Invalid("task id is required")
	}
	if len(task.ID) > entities.IDLength {
		return errs.Invalid("task id %q exceeds %d characters", task.ID, entities.IDLength)
	}
	if err := r.GetDB(ctx).Save(task).Error; err != nil {
		return errs.Storage(err)
	}
	return nil
}

func (r *repo) GetAllTasks(ctx context.Context) ([]*entities.Task, error) {
	var tasks []*entities.Task
	err := r.GetDB(ctx).Order("created_at ASC").Find(&tasks).Error
	if err != nil {
		return nil, errs.Storage(err)
	}
	return tasks, nil
}

func (r *repo) DeleteTask(ctx context.Context, id string) error {
	result := r.GetDB(ctx).Delete(&entities.Task{}, "id = ?", id)
	if result.Error != nil {
		return errs.Storage(result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("task %s: %w", id, errs.ErrNotFound)
	}
	return nil
}

func (r *repo) Close() error {
	db, err := r.db.DB()
	if err != nil {
		return err
	}
	return db.Close()
}
