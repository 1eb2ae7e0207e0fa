package infra

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlcipher "github.com/mutecomm/go-sqlcipher/v4"

	"github.com/eliteGoblin/rmgrab/internal/domain"
)

// Ensure sqlcipher driver is registered.
var _ = sqlcipher.ErrBusy

const (
	catalogDBName  = "captures.db"
	catalogKeyName = ".catalog.key"
	catalogKeySize = 32 // 256-bit SQLCipher key
)

// EncryptedCatalog implements domain.CaptureCatalog on a SQLCipher database.
// Captured screens are personal notes, so the journal is encrypted at rest.
type EncryptedCatalog struct {
	db     *sql.DB
	dbPath string
}

// CatalogOptions locates the catalog database and its key.
type CatalogOptions struct {
	DataDir string
	// KeyFile holds the hex-encoded database key. Defaults to
	// .catalog.key inside DataDir.
	KeyFile string
}

// Exists reports whether the catalog database has been created.
func (o CatalogOptions) Exists() bool {
	_, err := os.Stat(filepath.Join(o.DataDir, catalogDBName))
	return err == nil
}

func (o CatalogOptions) keyFile() string {
	if o.KeyFile != "" {
		return o.KeyFile
	}
	return filepath.Join(o.DataDir, catalogKeyName)
}

// OpenCatalog opens the catalog, generating its key on first use.
func OpenCatalog(opts CatalogOptions) (*EncryptedCatalog, error) {
	if opts.DataDir == "" {
		return nil, errors.New("catalog data directory is required")
	}
	key, err := loadOrCreateKey(opts.keyFile())
	if err != nil {
		return nil, err
	}
	return openEncryptedCatalog(filepath.Join(opts.DataDir, catalogDBName), key)
}

// openEncryptedCatalog opens (or creates) the database at dbPath with key.
func openEncryptedCatalog(dbPath string, key []byte) (*EncryptedCatalog, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096", dbPath, hex.EncodeToString(key))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}

	// A wrong key only shows up on first query
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to catalog: %w", err)
	}

	c := &EncryptedCatalog{db: db, dbPath: dbPath}
	if err := c.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create catalog tables: %w", err)
	}
	return c, nil
}

func (c *EncryptedCatalog) createTables() error {
	_, err := c.db.Exec(`
	CREATE TABLE IF NOT EXISTS captures (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		captured_at INTEGER NOT NULL,
		device TEXT NOT NULL,
		pid INTEGER NOT NULL,
		base_address INTEGER NOT NULL,
		width INTEGER NOT NULL,
		height INTEGER NOT NULL,
		box_min_x INTEGER NOT NULL,
		box_min_y INTEGER NOT NULL,
		box_max_x INTEGER NOT NULL,
		box_max_y INTEGER NOT NULL,
		fallback INTEGER NOT NULL,
		full_path TEXT NOT NULL,
		cropped_path TEXT NOT NULL,
		full_sha256 TEXT NOT NULL,
		crop_sha256 TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_captures_time ON captures (captured_at);
	`)
	return err
}

// Record appends a capture.
func (c *EncryptedCatalog) Record(ctx context.Context, rec domain.CaptureRecord) (int64, error) {
	fallback := 0
	if rec.Box.Fallback {
		fallback = 1
	}
	res, err := c.db.ExecContext(ctx, `
		INSERT INTO captures (captured_at, device, pid, base_address, width, height,
			box_min_x, box_min_y, box_max_x, box_max_y, fallback,
			full_path, cropped_path, full_sha256, crop_sha256)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.CapturedAt.Unix(), rec.Device, rec.PID, int64(rec.BaseAddress), rec.Width, rec.Height,
		rec.Box.MinX, rec.Box.MinY, rec.Box.MaxX, rec.Box.MaxY, fallback,
		rec.FullPath, rec.CroppedPath, rec.FullSHA256, rec.CropSHA256,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// List returns newest captures first.
func (c *EncryptedCatalog) List(ctx context.Context, limit int) ([]domain.CaptureRecord, error) {
	query := `SELECT id, captured_at, device, pid, base_address, width, height,
		box_min_x, box_min_y, box_max_x, box_max_y, fallback,
		full_path, cropped_path, full_sha256, crop_sha256
		FROM captures ORDER BY captured_at DESC, id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.CaptureRecord
	for rows.Next() {
		var rec domain.CaptureRecord
		var capturedAt, base int64
		var fallback int
		if err := rows.Scan(&rec.ID, &capturedAt, &rec.Device, &rec.PID, &base, &rec.Width, &rec.Height,
			&rec.Box.MinX, &rec.Box.MinY, &rec.Box.MaxX, &rec.Box.MaxY, &fallback,
			&rec.FullPath, &rec.CroppedPath, &rec.FullSHA256, &rec.CropSHA256); err != nil {
			return nil, err
		}
		rec.CapturedAt = time.Unix(capturedAt, 0)
		rec.BaseAddress = uint64(base)
		rec.Box.Fallback = fallback != 0
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Path returns the database file path.
func (c *EncryptedCatalog) Path() string {
	return c.dbPath
}

// Close releases the database connection.
func (c *EncryptedCatalog) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// loadOrCreateKey reads the hex key at path. A missing file gets a fresh
// random key; O_EXCL keeps two first runs from writing different keys.
func loadOrCreateKey(path string) ([]byte, error) {
	key, err := readCatalogKey(path)
	if !errors.Is(err, fs.ErrNotExist) {
		return key, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create key directory: %w", err)
	}
	key = make([]byte, catalogKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate catalog key: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if errors.Is(err, fs.ErrExist) {
		return readCatalogKey(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create catalog key: %w", err)
	}
	if _, err := f.WriteString(hex.EncodeToString(key) + "\n"); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write catalog key: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to write catalog key: %w", err)
	}
	return key, nil
}

func readCatalogKey(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog key: %w", err)
	}
	key, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("catalog key %s: %w", path, err)
	}
	if len(key) != catalogKeySize {
		return nil, fmt.Errorf("catalog key %s: got %d bytes, want %d", path, len(key), catalogKeySize)
	}
	return key, nil
}

// Ensure EncryptedCatalog implements domain.CaptureCatalog.
var _ domain.CaptureCatalog = (*EncryptedCatalog)(nil)
