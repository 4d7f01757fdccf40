package storage

import (
	"database/sql"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/raine/telegram-nutrition-bot/internal/nutrition"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// UserSettings is the persisted per-user configuration.
type UserSettings struct {
	TelegramID      int64
	MultiSample     bool
	ReferenceObject nutrition.ReferenceObject
	APICredential   string // plaintext in memory, encrypted at rest
	UpdatedAt       time.Time
}

// Settings converts to the configuration surface used by estimation runs.
func (u *UserSettings) Settings() nutrition.Settings {
	return nutrition.Settings{
		APICredential:   u.APICredential,
		MultiSampleMode: u.MultiSample,
		ReferenceObject: u.ReferenceObject,
	}
}

// AllowedUser represents a user in the whitelist.
type AllowedUser struct {
	TelegramID int64
	AddedAt    time.Time
	AddedBy    int64
}

// Store defines the persistence used by the bot.
type Store interface {
	// Settings methods. GetSettings returns nil, nil for unknown users.
	GetSettings(telegramID int64) (*UserSettings, error)
	SaveSettings(settings *UserSettings) error

	// Blob methods back the per-user history.
	GetBlob(key string) ([]byte, error)
	PutBlob(key string, data []byte) error

	// Allowed users methods
	IsUserAllowed(telegramID int64) (bool, error)
	AddAllowedUser(telegramID, addedBy int64) error
	RemoveAllowedUser(telegramID int64) error
	GetAllowedUsers() ([]AllowedUser, error)

	Close() error
}

// SQLiteStore implements Store using SQLite. API credentials are encrypted
// with encryptionKey.
type SQLiteStore struct {
	db            *sql.DB
	encryptionKey []byte
	mu            sync.RWMutex
}

// NewSQLiteStore opens (and creates if needed) the database at dbPath.
func NewSQLiteStore(dbPath string, encryptionKey []byte) (*SQLiteStore, error) {
	// Configure SQLite with WAL mode and busy timeout for better concurrency
	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &SQLiteStore{
		db:            db,
		encryptionKey: encryptionKey,
	}

	if err := store.init(); err != nil {
		db.Close()
		return nil, err
	}

	// The file exists once the schema is created
	if err := os.Chmod(dbPath, 0600); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Str("dbPath", dbPath).Msg("failed to restrict database permissions")
	}

	return store, nil
}

func (s *SQLiteStore) init() error {
	userSettingsQuery := `
	CREATE TABLE IF NOT EXISTS user_settings (
		telegram_id INTEGER PRIMARY KEY,
		multi_sample INTEGER NOT NULL DEFAULT 0,
		reference_object TEXT NOT NULL DEFAULT 'none',
		encrypted_api_key TEXT,
		updated_at DATETIME NOT NULL
	);
	`
	if _, err := s.db.Exec(userSettingsQuery); err != nil {
		return fmt.Errorf("failed to create user_settings table: %w", err)
	}

	blobsQuery := `
	CREATE TABLE IF NOT EXISTS blobs (
		key TEXT PRIMARY KEY,
		data BLOB NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	if _, err := s.db.Exec(blobsQuery); err != nil {
		return fmt.Errorf("failed to create blobs table: %w", err)
	}

	allowedUsersQuery := `
	CREATE TABLE IF NOT EXISTS allowed_users (
		telegram_id INTEGER PRIMARY KEY,
		added_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		added_by INTEGER
	);
	`
	if _, err := s.db.Exec(allowedUsersQuery); err != nil {
		return fmt.Errorf("failed to create allowed_users table: %w", err)
	}

	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// GetSettings retrieves a user's settings.
// Returns nil, nil if the user has none stored.
func (s *SQLiteStore) GetSettings(telegramID int64) (*UserSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	settings := UserSettings{TelegramID: telegramID}
	var ref string
	var encryptedKey sql.NullString
	err := s.db.QueryRow(
		"SELECT multi_sample, reference_object, encrypted_api_key, updated_at FROM user_settings WHERE telegram_id = ?",
		telegramID,
	).Scan(&settings.MultiSample, &ref, &encryptedKey, &settings.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query settings: %w", err)
	}

	settings.ReferenceObject = nutrition.ReferenceObject(ref)
	if !settings.ReferenceObject.Valid() {
		log.Warn().Int64("telegramId", telegramID).Str("ref", ref).Msg("unknown stored reference object, using none")
		settings.ReferenceObject = nutrition.ReferenceNone
	}

	if encryptedKey.Valid && encryptedKey.String != "" {
		key, err := Decrypt(encryptedKey.String, s.encryptionKey)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt api key: %w", err)
		}
		settings.APICredential = string(key)
	}

	return &settings, nil
}

// SaveSettings creates or replaces a user's settings.
func (s *SQLiteStore) SaveSettings(settings *UserSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var encryptedKey sql.NullString
	if settings.APICredential != "" {
		enc, err := Encrypt([]byte(settings.APICredential), s.encryptionKey)
		if err != nil {
			return fmt.Errorf("failed to encrypt api key: %w", err)
		}
		encryptedKey = sql.NullString{String: enc, Valid: true}
	}

	ref := settings.ReferenceObject
	if ref == "" {
		ref = nutrition.ReferenceNone
	}

	_, err := s.db.Exec(`
		INSERT INTO user_settings (telegram_id, multi_sample, reference_object, encrypted_api_key, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(telegram_id) DO UPDATE SET
			multi_sample = excluded.multi_sample,
			reference_object = excluded.reference_object,
			encrypted_api_key = excluded.encrypted_api_key,
			updated_at = excluded.updated_at
	`, settings.TelegramID, settings.MultiSample, string(ref), encryptedKey, time.Now())

	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

// GetBlob returns the value stored under key, or nil if there is none.
func (s *SQLiteStore) GetBlob(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var data []byte
	err := s.db.QueryRow("SELECT data FROM blobs WHERE key = ?", key).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query blob: %w", err)
	}
	return data, nil
}

// PutBlob stores data under key, replacing any previous value.
func (s *SQLiteStore) PutBlob(key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO blobs (key, data)
		VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET
			data = excluded.data,
			updated_at = CURRENT_TIMESTAMP
	`, key, data)

	if err != nil {
		return fmt.Errorf("failed to save blob: %w", err)
	}
	return nil
}

// IsUserAllowed checks if a user is in the whitelist.
func (s *SQLiteStore) IsUserAllowed(telegramID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM allowed_users WHERE telegram_id = ?",
		telegramID,
	).Scan(&count)

	if err != nil {
		return false, fmt.Errorf("failed to check allowed user: %w", err)
	}

	return count > 0, nil
}

// AddAllowedUser adds a user to the whitelist.
func (s *SQLiteStore) AddAllowedUser(telegramID, addedBy int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO allowed_users (telegram_id, added_by)
		VALUES (?, ?)
		ON CONFLICT(telegram_id) DO UPDATE SET
			added_by = excluded.added_by,
			added_at = CURRENT_TIMESTAMP
	`, telegramID, addedBy)

	if err != nil {
		return fmt.Errorf("failed to add allowed user: %w", err)
	}
	return nil
}

// RemoveAllowedUser removes a user from the whitelist.
func (s *SQLiteStore) RemoveAllowedUser(telegramID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec("DELETE FROM allowed_users WHERE telegram_id = ?", telegramID)
	if err != nil {
		return fmt.Errorf("failed to remove allowed user: %w", err)
	}
	return nil
}

// GetAllowedUsers returns all users in the whitelist.
func (s *SQLiteStore) GetAllowedUsers() ([]AllowedUser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query("SELECT telegram_id, added_at, added_by FROM allowed_users ORDER BY added_at")
	if err != nil {
		return nil, fmt.Errorf("failed to query allowed users: %w", err)
	}
	defer rows.Close()

	var users []AllowedUser
	for rows.Next() {
		var user AllowedUser
		if err := rows.Scan(&user.TelegramID, &user.AddedAt, &user.AddedBy); err != nil {
			return nil, fmt.Errorf("failed to scan allowed user: %w", err)
		}
		users = append(users, user)
	}

	return users, rows.Err()
}
