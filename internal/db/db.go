package db

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/selimerdinc/VeloxCase/internal/crypto"
	"github.com/selimerdinc/VeloxCase/internal/models"
)

// Setting keys whose values are encrypted at rest
var sensitiveKeys = map[string]bool{
	"JIRA_API_TOKEN": true,
	"TESTMO_API_KEY": true,
	"AI_API_KEY":     true,
}

// DB represents the database connection
type DB struct {
	*sql.DB
	cipher *crypto.Cipher
}

// New creates a new database connection. The cipher protects sensitive
// setting values.
func New(dbPath string, cipher *crypto.Cipher) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{DB: db, cipher: cipher}, nil
}

// Initialize creates the database schema if it doesn't exist
func (db *DB) Initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS settings (
		user_id INTEGER NOT NULL,
		key TEXT NOT NULL,
		value TEXT,
		PRIMARY KEY (user_id, key),
		FOREIGN KEY (user_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		date TIMESTAMP NOT NULL,
		task TEXT NOT NULL,
		repo_id INTEGER,
		folder_id INTEGER,
		cases_count INTEGER,
		images_count INTEGER,
		status TEXT,
		case_name TEXT,
		user_id INTEGER NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id)
	);
	`

	_, err := db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

// CreateUser creates a new user with a pre-hashed password
func (db *DB) CreateUser(username, passwordHash string) (int64, error) {
	res, err := db.Exec(
		`INSERT INTO users (username, password_hash) VALUES (?, ?)`,
		username, passwordHash,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to create user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read user id: %w", err)
	}
	return id, nil
}

// GetUserByUsername gets a user by username, or nil when absent
func (db *DB) GetUserByUsername(username string) (*models.User, error) {
	query := `SELECT id, username, password_hash FROM users WHERE username = ?`

	var user models.User
	err := db.QueryRow(query, username).Scan(&user.ID, &user.Username, &user.PasswordHash)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return &user, nil
}

// UpdatePassword replaces a user's password hash
func (db *DB) UpdatePassword(userID int64, passwordHash string) error {
	_, err := db.Exec(`UPDATE users SET password_hash = ? WHERE id = ?`, passwordHash, userID)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	return nil
}

// SaveSetting upserts a per-user setting, encrypting sensitive values
func (db *DB) SaveSetting(userID int64, key, value string) error {
	if sensitiveKeys[key] && value != "" {
		enc, err := db.cipher.Encrypt(value)
		if err != nil {
			return fmt.Errorf("failed to encrypt setting %s: %w", key, err)
		}
		value = enc
	}

	query := `
	INSERT INTO settings (user_id, key, value)
	VALUES (?, ?, ?)
	ON CONFLICT(user_id, key) DO UPDATE SET
		value = excluded.value
	`

	_, err := db.Exec(query, userID, key, value)
	if err != nil {
		return fmt.Errorf("failed to save setting %s: %w", key, err)
	}

	return nil
}

// GetSetting reads a per-user setting, decrypting sensitive values. Missing
// settings read as empty strings; the sync pipeline treats absent
// configuration as a soft condition.
func (db *DB) GetSetting(userID int64, key string) string {
	var value sql.NullString
	err := db.QueryRow(`SELECT value FROM settings WHERE user_id = ? AND key = ?`, userID, key).Scan(&value)
	if err != nil || !value.Valid {
		return ""
	}
	if sensitiveKeys[key] {
		return db.cipher.Decrypt(value.String)
	}
	return value.String
}

// GetSettings returns all settings for a user. Sensitive values stay
// encrypted; callers that need plaintext go through GetSetting.
func (db *DB) GetSettings(userID int64) (map[string]string, error) {
	rows, err := db.Query(`SELECT key, value FROM settings WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list settings: %w", err)
	}
	defer rows.Close()

	settings := make(map[string]string)
	for rows.Next() {
		var key string
		var value sql.NullString
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan setting: %w", err)
		}
		settings[key] = value.String
	}
	return settings, rows.Err()
}

// IsSensitiveKey reports whether a setting key is stored encrypted
func IsSensitiveKey(key string) bool {
	return sensitiveKeys[key]
}

// RecordSync appends one sync outcome to the history
func (db *DB) RecordSync(rec *models.SyncRecord) error {
	query := `
	INSERT INTO history (date, task, repo_id, folder_id, cases_count, images_count, status, case_name, user_id)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := db.Exec(
		query,
		rec.Date,
		rec.Task,
		rec.RepoID,
		rec.FolderID,
		rec.Cases,
		rec.Images,
		rec.Status,
		rec.CaseName,
		rec.UserID,
	)
	if err != nil {
		return fmt.Errorf("failed to record sync: %w", err)
	}

	return nil
}

// ListHistory returns the most recent sync records for a user
func (db *DB) ListHistory(userID int64, limit int) ([]models.SyncRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
	SELECT id, date, task, repo_id, folder_id, cases_count, images_count, status, case_name, user_id
	FROM history WHERE user_id = ? ORDER BY id DESC LIMIT ?
	`

	rows, err := db.Query(query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	defer rows.Close()

	var records []models.SyncRecord
	for rows.Next() {
		var rec models.SyncRecord
		if err := rows.Scan(&rec.ID, &rec.Date, &rec.Task, &rec.RepoID, &rec.FolderID,
			&rec.Cases, &rec.Images, &rec.Status, &rec.CaseName, &rec.UserID); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Stats summarizes a user's sync history
type Stats struct {
	TotalSyncs  int       `json:"total_syncs"`
	TotalCases  int       `json:"total_cases"`
	TotalImages int       `json:"total_images"`
	LastSync    time.Time `json:"last_sync"`
}

// GetStats computes summary stats for a user
func (db *DB) GetStats(userID int64) (*Stats, error) {
	query := `
	SELECT COUNT(*), COALESCE(SUM(cases_count), 0), COALESCE(SUM(images_count), 0), MAX(date)
	FROM history WHERE user_id = ?
	`

	var stats Stats
	var last sql.NullTime
	err := db.QueryRow(query, userID).Scan(&stats.TotalSyncs, &stats.TotalCases, &stats.TotalImages, &last)
	if err != nil {
		return nil, fmt.Errorf("failed to compute stats: %w", err)
	}
	if last.Valid {
		stats.LastSync = last.Time
	}
	return &stats, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}
