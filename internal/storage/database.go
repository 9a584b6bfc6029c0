package storage

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"supportchat/internal/config"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

const sqliteBusyTimeoutMS = 5000

// DriverName maps a configured database type onto the registered sql driver.
func DriverName(dbType string) (string, error) {
	switch strings.ToLower(dbType) {
	case "sqlite", "sqlite3":
		return "sqlite3", nil
	case "mysql":
		return "mysql", nil
	case "postgres", "postgresql", "pgx":
		return "pgx", nil
	default:
		return "", fmt.Errorf("unsupported driver: %s", dbType)
	}
}

// Open connects to the database selected by dbType and sizes its pool.
func Open(dbType string, cfg *config.Config) (*sqlx.DB, error) {
	dbCfg, ok := cfg.Databases[dbType]
	if !ok {
		return nil, fmt.Errorf("database config for %s not found", dbType)
	}
	driver, err := DriverName(dbType)
	if err != nil {
		return nil, err
	}

	var dsn string
	switch driver {
	case "sqlite3":
		if dbCfg.DSN == "" {
			return nil, fmt.Errorf("sqlite dsn must be provided")
		}
		dsn = withParam(dbCfg.DSN, "_foreign_keys", "on")
		// writers take the lock at BEGIN so busy_timeout applies instead of an instant SQLITE_BUSY
		dsn = withParam(dsn, "_txlock", "immediate")
		dsn = withParam(dsn, "_busy_timeout", strconv.Itoa(sqliteBusyTimeoutMS))
		if !strings.Contains(dsn, ":memory:") && !strings.Contains(dsn, "mode=memory") {
			dsn = withParam(dsn, "_journal_mode", "WAL")
		}
	case "mysql":
		dsn = dbCfg.DSN
		if dsn == "" {
			dsn = fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
				dbCfg.Username,
				dbCfg.Password,
				dbCfg.Host,
				dbCfg.Port,
				dbCfg.DBName,
				dbCfg.Params,
			)
		}
		// touch relies on matched (not changed) row counts
		dsn = withParam(dsn, "parseTime", "true")
		dsn = withParam(dsn, "clientFoundRows", "true")
	case "pgx":
		dsn = dbCfg.DSN
		if dsn == "" {
			dsn = fmt.Sprintf("postgres://%s:%s@%s:%d/%s?%s",
				dbCfg.Username,
				dbCfg.Password,
				dbCfg.Host,
				dbCfg.Port,
				dbCfg.DBName,
				dbCfg.Params,
			)
		}
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}
	configurePool(db, driver, dsn, dbCfg)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

func configurePool(db *sqlx.DB, driver, dsn string, dbCfg config.DatabaseConfig) {
	if driver == "sqlite3" && strings.Contains(dsn, ":memory:") {
		// every new connection would see a fresh empty database
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxIdleTime(0)
		return
	}
	db.SetMaxOpenConns(dbCfg.MaxOpenConns)
	db.SetMaxIdleConns(dbCfg.MaxIdleConns)
	db.SetConnMaxIdleTime(time.Duration(dbCfg.ConnIdleTimeout) * time.Second)
}

func withParam(dsn, key, value string) string {
	if strings.Contains(dsn, key+"=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
		if strings.HasSuffix(dsn, "?") || strings.HasSuffix(dsn, "&") {
			sep = ""
		}
	}
	return dsn + sep + key + "=" + value
}

// Migrate ensures the required tables are present.
func Migrate(db *sqlx.DB) error {
	driver := db.DriverName()
	var stmts []string
	switch driver {
	case "sqlite3":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS conversations (
				id TEXT PRIMARY KEY,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS messages (
				id TEXT PRIMARY KEY,
				conversation_id TEXT NOT NULL,
				sender TEXT NOT NULL CHECK (sender IN ('user', 'ai')),
				text TEXT NOT NULL,
				timestamp DATETIME NOT NULL,
				seq INTEGER NOT NULL,
				UNIQUE(conversation_id, seq),
				FOREIGN KEY(conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
			)`,
			`CREATE INDEX IF NOT EXISTS idx_messages_conversation_ts ON messages(conversation_id, timestamp, seq)`,
			`CREATE INDEX IF NOT EXISTS idx_conversations_updated_at ON conversations(updated_at DESC)`,
		}
	case "mysql":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS conversations (
				id CHAR(36) NOT NULL,
				created_at DATETIME(6) NOT NULL,
				updated_at DATETIME(6) NOT NULL,
				PRIMARY KEY (id),
				INDEX idx_conversations_updated_at (updated_at)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS messages (
				id CHAR(36) NOT NULL,
				conversation_id CHAR(36) NOT NULL,
				sender ENUM('user', 'ai') NOT NULL,
				text MEDIUMTEXT NOT NULL,
				timestamp DATETIME(6) NOT NULL,
				seq BIGINT NOT NULL,
				PRIMARY KEY (id),
				UNIQUE KEY uniq_messages_conversation_seq (conversation_id, seq),
				INDEX idx_messages_conversation_ts (conversation_id, timestamp, seq),
				CONSTRAINT fk_messages_conversation FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		}
	case "pgx":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS conversations (
				id UUID PRIMARY KEY,
				created_at TIMESTAMPTZ NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS messages (
				id UUID PRIMARY KEY,
				conversation_id UUID NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
				sender VARCHAR(10) NOT NULL CHECK (sender IN ('user', 'ai')),
				text TEXT NOT NULL,
				timestamp TIMESTAMPTZ NOT NULL,
				seq BIGINT NOT NULL,
				UNIQUE (conversation_id, seq)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_messages_conversation_ts ON messages(conversation_id, timestamp, seq)`,
			`CREATE INDEX IF NOT EXISTS idx_conversations_updated_at ON conversations(updated_at DESC)`,
		}
	default:
		return fmt.Errorf("unsupported driver for migration: %s", driver)
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate (%s): %w", driver, err)
		}
	}
	return nil
}
