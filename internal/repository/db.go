package repository

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"careplanner/internal/model"
)

// ErrNotFound is returned when a template or record does not exist.
var ErrNotFound = errors.New("not found")

// legacyTable is the single-table schema used before templates and daily records were split.
const legacyTable = "tasks"

// NewDB opens the local store, runs migrations and installs the change feed.
// DSNs starting with postgres:// or postgresql:// use Postgres, anything else is a SQLite path.
func NewDB(dsn string, feed *Feed) (*gorm.DB, error) {
	if dsn == "" {
		dsn = "careplanner.db"
	}

	dbLogger := logger.New(
		log.New(os.Stdout, "", log.LstdFlags),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	isPostgres := strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")

	var dialector gorm.Dialector
	if isPostgres {
		dialector = postgres.Open(dsn)
	} else {
		if err := ensureDirForSQLite(dsn); err != nil {
			return nil, err
		}
		dialector = sqlite.Open(sqliteDSN(dsn))
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: dbLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if !isPostgres {
		// One writer at a time; the unique (template_id, date) index does the rest.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("sql db: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(&model.TaskTemplate{}, &model.DailyTaskRecord{}); err != nil {
		return nil, fmt.Errorf("migrate db: %w", err)
	}

	if err := migrateLegacy(db, time.Now()); err != nil {
		return nil, fmt.Errorf("migrate legacy tasks: %w", err)
	}

	if feed != nil {
		if err := feed.register(db); err != nil {
			return nil, fmt.Errorf("register change feed: %w", err)
		}
	}

	return db, nil
}

// migrateLegacy copies rows of the old single-table schema into task_templates
// as active templates created at the migration time, then drops the old table.
func migrateLegacy(db *gorm.DB, now time.Time) error {
	if !db.Migrator().HasTable(legacyTable) {
		return nil
	}

	return db.Transaction(func(tx *gorm.DB) error {
		res := tx.Exec(`INSERT INTO task_templates
			(title, description, time_block, time, category, priority, is_active, created_at, updated_at, sync_state)
			SELECT title, COALESCE(description, ''), COALESCE(time_block, ''), COALESCE(time, ''),
				COALESCE(category, 'GENERAL'), ?, ?, ?, ?, ?
			FROM `+legacyTable+` ORDER BY id`,
			model.PriorityMedium, true, now, now, model.SyncLocalOnly)
		if res.Error != nil {
			return fmt.Errorf("copy legacy rows: %w", res.Error)
		}
		if err := tx.Migrator().DropTable(legacyTable); err != nil {
			return fmt.Errorf("drop legacy table: %w", err)
		}
		log.Printf("[info] migrated %d legacy tasks into templates", res.RowsAffected)
		return nil
	})
}

// sqliteDSN turns on foreign keys and a busy timeout unless the caller already chose.
func sqliteDSN(dsn string) string {
	var params []string
	if !strings.Contains(dsn, "_foreign_keys") && !strings.Contains(dsn, "_fk") {
		params = append(params, "_foreign_keys=on")
	}
	if !strings.Contains(dsn, "_busy_timeout") {
		params = append(params, "_busy_timeout=5000")
	}
	if len(params) == 0 {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(params, "&")
}

// ensureDirForSQLite creates parent dir for SQLite file if needed.
func ensureDirForSQLite(dsn string) error {
	if strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory") {
		return nil
	}
	clean := strings.TrimPrefix(dsn, "file:")
	clean = strings.Split(clean, "?")[0]
	dir := filepath.Dir(clean)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create db dir %q: %w", dir, err)
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// localMutationState moves a synced row to stale; rows never pushed stay local_only.
func localMutationState() interface{} {
	return gorm.Expr("CASE WHEN remote_id IS NULL THEN ? ELSE ? END", model.SyncLocalOnly, model.SyncStale)
}

// nextRevision is set alongside localMutationState on every local write.
func nextRevision(table string) interface{} {
	return gorm.Expr(table + ".revision + 1")
}

// syncedIfUnchanged marks the row synced only when no local write happened
// after the pushed snapshot was read. Otherwise it stays due for another push.
func syncedIfUnchanged(revision int64) interface{} {
	return gorm.Expr("CASE WHEN revision = ? THEN ? ELSE ? END", revision, model.SyncSynced, model.SyncStale)
}
