// Package backup implements database backup, restore, and retention for the
// node's sqlite file: timestamped snapshots before migrations, a bounded
// retention policy, and filename-safety validation on any path derived from
// user input (delete/fetch by filename).
package backup

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/cspellhq/hivenode/internal/apperr"
	"github.com/cspellhq/hivenode/internal/models"
)

// DefaultRetention is the number of backups kept when no override is given.
const DefaultRetention = 5

var filenamePattern = regexp.MustCompile(`^db_backup_.*\.sqlite$`)

// ValidateFilename enforces the filename-safety rule: must match
// db_backup_*.sqlite, and must contain no path separators or ".." segments.
func ValidateFilename(name string) error {
	if strings.Contains(name, "/") || strings.Contains(name, "\\") || strings.Contains(name, "..") {
		return &apperr.InvalidBackupFilename{Name: name}
	}
	if !filenamePattern.MatchString(name) {
		return &apperr.InvalidBackupFilename{Name: name}
	}
	return nil
}

// Dir resolves the backup directory for dbPath: VK_BACKUP_DIR if set,
// otherwise a "backups" sibling of the database file.
func Dir(dbPath string) string {
	if override := os.Getenv("VK_BACKUP_DIR"); override != "" {
		return override
	}
	return filepath.Join(filepath.Dir(dbPath), "backups")
}

// BackupBeforeMigration copies dbPath (plus -wal/-shm sidecars, if present)
// into the backup directory as db_backup_<timestamp>.sqlite[-wal|-shm].
// Returns ("", nil) if dbPath does not yet exist (nothing to back up).
func BackupBeforeMigration(dbPath string) (string, error) {
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		slog.Info("[BACKUP] no existing database, skipping pre-migration backup")
		return "", nil
	}

	dir := Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}

	stamp := time.Now().UTC().Format("20060102_150405")
	name := fmt.Sprintf("db_backup_%s.sqlite", stamp)
	dest := filepath.Join(dir, name)

	if err := copyFile(dbPath, dest); err != nil {
		return "", fmt.Errorf("copy database: %w", err)
	}
	for _, ext := range []string{"-wal", "-shm"} {
		src := dbPath + ext
		if _, err := os.Stat(src); err == nil {
			_ = copyFile(src, filepath.Join(dir, name+ext))
		}
	}

	slog.Info("[BACKUP] pre-migration backup created", "path", dest)
	return dest, nil
}

// List returns the backups currently in dir, newest first.
func List(dir string) ([]models.BackupInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var infos []models.BackupInfo
	for _, e := range entries {
		if e.IsDir() || !filenamePattern.MatchString(e.Name()) {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		infos = append(infos, models.BackupInfo{
			Filename:  e.Name(),
			CreatedAt: fi.ModTime().Unix(),
			SizeBytes: fi.Size(),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].CreatedAt > infos[j].CreatedAt })
	return infos, nil
}

// CleanupOldBackups keeps only the newest `retention` backups in dir,
// deleting the rest (and their -wal/-shm sidecars).
func CleanupOldBackups(dir string, retention int) error {
	infos, err := List(dir)
	if err != nil {
		return err
	}
	if len(infos) <= retention {
		return nil
	}
	for _, old := range infos[retention:] {
		path := filepath.Join(dir, old.Filename)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			slog.Warn("[BACKUP] failed to remove old backup", "path", path, "error", err)
			continue
		}
		for _, ext := range []string{"-wal", "-shm"} {
			_ = os.Remove(path + ext)
		}
	}
	return nil
}

// Restore validates filename, checks a 16-byte sqlite magic header, then
// overwrites dbPath with the backup's contents and removes any stale
// -wal/-shm sidecars of the destination so the next open starts clean.
func Restore(dir, filename, dbPath string) error {
	if err := ValidateFilename(filename); err != nil {
		return err
	}
	src := filepath.Join(dir, filename)

	if err := validateSQLiteHeader(src); err != nil {
		return err
	}

	if err := copyFile(src, dbPath); err != nil {
		return fmt.Errorf("restore database: %w", err)
	}
	for _, ext := range []string{"-wal", "-shm"} {
		_ = os.Remove(dbPath + ext)
	}
	slog.Info("[BACKUP] restored database", "from", filename)
	return nil
}

// sqliteMagicHeader is the fixed 16-byte header every valid SQLite 3 file
// begins with.
const sqliteMagicHeader = "SQLite format 3\x00"

func validateSQLiteHeader(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open backup file: %w", err)
	}
	defer f.Close()

	header := make([]byte, 16)
	if _, err := io.ReadFull(f, header); err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	if string(header) != sqliteMagicHeader {
		return fmt.Errorf("not a sqlite database: invalid magic header")
	}
	return nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
