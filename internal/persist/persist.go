package persist

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/poisonednumber/scanner-map-client/pkg/core"
)

// CallRow is the local cache row for one call; the full payload rides
// along as JSON so schema changes in Call never need a migration.
type CallRow struct {
	ID        int64 `gorm:"primaryKey"`
	Timestamp int64 `gorm:"index"`
	Payload   datatypes.JSON
}

func (CallRow) TableName() string { return "calls" }

// SnapshotRow holds the single purge-undo snapshot. At most one row.
type SnapshotRow struct {
	ID      int64 `gorm:"primaryKey"`
	TakenAt int64
	Payload datatypes.JSON
}

func (SnapshotRow) TableName() string { return "purge_snapshots" }

// Manager handles the local persistence connection and operations. A dead
// database degrades the client to memory-only; nothing here is required
// for the map to work, only for warm starts and undo across restarts.
type Manager struct {
	DB      *gorm.DB
	SqlDB   *sql.DB
	IsValid bool
	Logger  zerolog.Logger
}

// NewManager creates a new persistence manager.
func NewManager(log zerolog.Logger) *Manager {
	return &Manager{
		IsValid: false,
		Logger:  log,
	}
}

// Connect opens the configured database. Postgres is optional; SQLite at
// persist.sqlitePath is the default, an empty path means in-memory.
func (m *Manager) Connect() error {
	var err error

	if viper.GetString("persist.driver") == "postgres" {
		m.DB, err = m.getPostgresDB()
		if err != nil {
			m.Logger.Error().Err(err).Msg("Failed to connect to Postgres, falling back to SQLite")
			m.DB = nil
		}
	}

	if m.DB == nil {
		m.DB, err = m.getSqliteDB(viper.GetString("persist.sqlitePath"))
		if err != nil || m.DB == nil {
			m.IsValid = false
			return fmt.Errorf("failed to open local SQLite DB: %w", err)
		}
	}

	m.SqlDB, err = m.DB.DB()
	if err != nil {
		m.IsValid = false
		return fmt.Errorf("failed to access sql interface: %w", err)
	}
	if err = m.SqlDB.Ping(); err != nil {
		m.IsValid = false
		return fmt.Errorf("failed to validate connection: %w", err)
	}

	if err = m.DB.AutoMigrate(&CallRow{}, &SnapshotRow{}); err != nil {
		m.IsValid = false
		return fmt.Errorf("migrating local cache schema: %w", err)
	}

	m.IsValid = true
	m.Logger.Info().Msg("Local call cache ready")
	return nil
}

func (m *Manager) getPostgresDB() (*gorm.DB, error) {
	dsn := fmt.Sprintf(`host=%s port=%s user=%s password=%s dbname=%s sslmode=disable`,
		viper.GetString("persist.db.host"),
		viper.GetString("persist.db.port"),
		viper.GetString("persist.db.username"),
		viper.GetString("persist.db.password"),
		viper.GetString("persist.db.database"),
	)

	return gorm.Open(postgres.New(postgres.Config{
		DSN:                  dsn,
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		SkipDefaultTransaction: true,
		CreateBatchSize:        1000,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
}

func (m *Manager) getSqliteDB(path string) (*gorm.DB, error) {
	dsn := "file::memory:?cache=shared"
	if path != "" {
		dsn = path
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		PrepareStmt:            true,
		SkipDefaultTransaction: true,
		CreateBatchSize:        1000,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
		"PRAGMA temp_store = MEMORY;",
	}
	for _, pragma := range pragmas {
		if err := db.Exec(pragma).Error; err != nil {
			return nil, fmt.Errorf("error setting PRAGMA: %w", err)
		}
	}

	if path != "" {
		m.Logger.Info().Str("path", path).Msg("Using local SQLite cache")
	} else {
		m.Logger.Info().Msg("Using in-memory SQLite cache")
	}
	return db, nil
}

// Close closes the underlying connection.
func (m *Manager) Close() error {
	if m.SqlDB == nil {
		return nil
	}
	return m.SqlDB.Close()
}

// SaveCalls upserts calls into the cache.
func (m *Manager) SaveCalls(calls []core.Call) error {
	if !m.IsValid || len(calls) == 0 {
		return nil
	}

	rows := make([]CallRow, 0, len(calls))
	for _, call := range calls {
		payload, err := json.Marshal(call)
		if err != nil {
			return fmt.Errorf("encoding call %d: %w", call.ID, err)
		}
		rows = append(rows, CallRow{ID: call.ID, Timestamp: call.Timestamp, Payload: payload})
	}

	return m.DB.Save(&rows).Error
}

// LoadCalls returns every cached call with a timestamp at or after cutoff.
func (m *Manager) LoadCalls(cutoff int64) ([]core.Call, error) {
	if !m.IsValid {
		return nil, nil
	}

	var rows []CallRow
	if err := m.DB.Where("timestamp >= ?", cutoff).Order("timestamp desc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("loading cached calls: %w", err)
	}

	calls := make([]core.Call, 0, len(rows))
	for _, row := range rows {
		var call core.Call
		if err := json.Unmarshal(row.Payload, &call); err != nil {
			m.Logger.Warn().Err(err).Int64("id", row.ID).Msg("Dropping undecodable cached call")
			continue
		}
		calls = append(calls, call)
	}
	return calls, nil
}

// DeleteCalls removes the given ids from the cache.
func (m *Manager) DeleteCalls(ids []int64) error {
	if !m.IsValid || len(ids) == 0 {
		return nil
	}
	return m.DB.Delete(&CallRow{}, ids).Error
}

// ReplaceCalls rebuilds the cache from a fresh window fetch.
func (m *Manager) ReplaceCalls(calls []core.Call) error {
	if !m.IsValid {
		return nil
	}

	return m.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&CallRow{}).Error; err != nil {
			return err
		}
		for _, call := range calls {
			payload, err := json.Marshal(call)
			if err != nil {
				return fmt.Errorf("encoding call %d: %w", call.ID, err)
			}
			row := CallRow{ID: call.ID, Timestamp: call.Timestamp, Payload: payload}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// SaveSnapshot stores the purge-undo snapshot, replacing any prior one.
func (m *Manager) SaveSnapshot(snap core.PurgeSnapshot) error {
	if !m.IsValid {
		return nil
	}

	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encoding purge snapshot: %w", err)
	}
	row := SnapshotRow{ID: 1, TakenAt: snap.TakenAt.Unix(), Payload: payload}
	return m.DB.Save(&row).Error
}

// LoadSnapshot returns the stored purge-undo snapshot, if any.
func (m *Manager) LoadSnapshot() (core.PurgeSnapshot, bool, error) {
	if !m.IsValid {
		return core.PurgeSnapshot{}, false, nil
	}

	var row SnapshotRow
	err := m.DB.First(&row, 1).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return core.PurgeSnapshot{}, false, nil
	}
	if err != nil {
		return core.PurgeSnapshot{}, false, fmt.Errorf("loading purge snapshot: %w", err)
	}

	var snap core.PurgeSnapshot
	if err := json.Unmarshal(row.Payload, &snap); err != nil {
		return core.PurgeSnapshot{}, false, fmt.Errorf("decoding purge snapshot: %w", err)
	}
	if snap.TakenAt.IsZero() {
		snap.TakenAt = time.Unix(row.TakenAt, 0)
	}
	return snap, true, nil
}

// ClearSnapshot removes the stored snapshot.
func (m *Manager) ClearSnapshot() error {
	if !m.IsValid {
		return nil
	}
	return m.DB.Delete(&SnapshotRow{}, 1).Error
}
