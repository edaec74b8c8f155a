package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"emberon/internal/domain"
	"emberon/internal/storage/migrations"
	logx "emberon/pkg/logx"
)

const supplementCols = `s.id, s.owner_id, s.name, s.form, s.reason, s.day, s.time, s.status, s.last_status_update, s.created_at`

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background(), migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	log.Debug("sqlite storage opened", logx.String("path", path))
	return st, nil
}

// migrate applies every NNN_name.up.sql newer than the recorded version.
func (s *sqliteStore) migrate(ctx context.Context, fsys fs.FS) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var current int
	if err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	var upFiles []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".up.sql") {
			upFiles = append(upFiles, e.Name())
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= current {
			continue
		}
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, string(content)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations(version) VALUES(?)", version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		s.log.Debug("migration applied", logx.String("file", name))
	}
	return nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) FindSupplement(ctx context.Context, id string) (domain.Supplement, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+supplementCols+` FROM supplements s WHERE s.id = ?`, id)
	sup, err := scanSupplement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Supplement{}, false, nil
	}
	if err != nil {
		return domain.Supplement{}, false, fmt.Errorf("find supplement %s: %w", id, err)
	}
	return sup, true, nil
}

func (s *sqliteStore) FindSupplements(ctx context.Context, f Filter) ([]domain.Supplement, error) {
	var (
		where []string
		args  []any
	)
	if f.Day != nil {
		where = append(where, "s.day = ?")
		args = append(args, *f.Day)
	}
	if f.OwnerID != "" {
		where = append(where, "s.owner_id = ?")
		args = append(args, f.OwnerID)
	}
	if len(f.Statuses) > 0 {
		ph := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			ph[i] = "?"
			args = append(args, string(st))
		}
		where = append(where, "s.status IN ("+strings.Join(ph, ",")+")")
	}

	q := `SELECT ` + supplementCols
	if f.WithOwner {
		q += `, o.id, o.name, o.chat_id, o.push_enabled, o.missed_enabled FROM supplements s LEFT JOIN owners o ON o.id = s.owner_id`
	} else {
		q += ` FROM supplements s`
	}
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY s.created_at, s.rowid"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list supplements: %w", err)
	}
	defer rows.Close()

	var out []domain.Supplement
	for rows.Next() {
		var (
			sup domain.Supplement
			err error
		)
		if f.WithOwner {
			sup, err = scanSupplementWithOwner(rows)
		} else {
			sup, err = scanSupplement(rows)
		}
		if err != nil {
			return nil, fmt.Errorf("list supplements: %w", err)
		}
		out = append(out, sup)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list supplements: %w", err)
	}
	return out, nil
}

func (s *sqliteStore) UpdateSupplement(ctx context.Context, id string, p domain.Patch) (domain.Supplement, error) {
	var (
		sets []string
		args []any
	)
	if p.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*p.Status))
	}
	if p.LastStatusUpdate != nil {
		sets = append(sets, "last_status_update = ?")
		args = append(args, nullTime(*p.LastStatusUpdate))
	}
	if len(sets) > 0 {
		args = append(args, id)
		res, err := s.db.ExecContext(ctx, `UPDATE supplements SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
		if err != nil {
			return domain.Supplement{}, fmt.Errorf("update supplement %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return domain.Supplement{}, ErrNotFound
		}
	}
	sup, ok, err := s.FindSupplement(ctx, id)
	if err != nil {
		return domain.Supplement{}, err
	}
	if !ok {
		return domain.Supplement{}, ErrNotFound
	}
	return sup, nil
}

func (s *sqliteStore) PutSupplement(ctx context.Context, sup domain.Supplement) error {
	if err := sup.Validate(); err != nil {
		return err
	}
	if sup.Status == "" {
		sup.Status = domain.StatusPending
	}
	if sup.CreatedAt.IsZero() {
		sup.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO supplements (id, owner_id, name, form, reason, day, time, status, last_status_update, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			owner_id = excluded.owner_id,
			name = excluded.name,
			form = excluded.form,
			reason = excluded.reason,
			day = excluded.day,
			time = excluded.time,
			status = excluded.status,
			last_status_update = excluded.last_status_update`,
		sup.ID, sup.OwnerID, sup.Name, sup.Form, sup.Reason, sup.Day, sup.Time, string(sup.Status),
		nullTime(sup.LastStatusUpdate), formatTime(sup.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("put supplement %s: %w", sup.ID, err)
	}
	return nil
}

func (s *sqliteStore) DeleteSupplement(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM supplements WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete supplement %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *sqliteStore) FindOwner(ctx context.Context, id string) (domain.Owner, bool, error) {
	var o domain.Owner
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, chat_id, push_enabled, missed_enabled FROM owners WHERE id = ?`, id,
	).Scan(&o.ID, &o.Name, &o.ChatID, &o.PushEnabled, &o.MissedEnabled)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Owner{}, false, nil
	}
	if err != nil {
		return domain.Owner{}, false, fmt.Errorf("find owner %s: %w", id, err)
	}
	return o, true, nil
}

func (s *sqliteStore) PutOwner(ctx context.Context, o domain.Owner) error {
	if strings.TrimSpace(o.ID) == "" {
		return errors.New("owner id required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO owners (id, name, chat_id, push_enabled, missed_enabled) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			chat_id = excluded.chat_id,
			push_enabled = excluded.push_enabled,
			missed_enabled = excluded.missed_enabled`,
		o.ID, o.Name, o.ChatID, o.PushEnabled, o.MissedEnabled,
	)
	if err != nil {
		return fmt.Errorf("put owner %s: %w", o.ID, err)
	}
	return nil
}

func (s *sqliteStore) AppendNotification(ctx context.Context, n Notification) (string, error) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.SentAt.IsZero() {
		n.SentAt = time.Now()
	}
	var data any
	if len(n.Data) > 0 {
		b, err := json.Marshal(n.Data)
		if err != nil {
			return "", fmt.Errorf("marshalling notification data: %w", err)
		}
		data = string(b)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, owner_id, title, body, type, supplement_id, data, sent_at, delivered)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.OwnerID, n.Title, n.Body, n.Type, nullStr(n.SupplementID), data, formatTime(n.SentAt), n.Delivered,
	)
	if err != nil {
		return "", fmt.Errorf("append notification: %w", err)
	}
	return n.ID, nil
}

func (s *sqliteStore) ListNotifications(ctx context.Context, ownerID string, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, title, body, type, supplement_id, data, sent_at, delivered
		FROM notifications WHERE owner_id = ? ORDER BY sent_at DESC, rowid DESC LIMIT ?`, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		var (
			n      Notification
			supID  sql.NullString
			data   sql.NullString
			sentAt string
		)
		if err := rows.Scan(&n.ID, &n.OwnerID, &n.Title, &n.Body, &n.Type, &supID, &data, &sentAt, &n.Delivered); err != nil {
			return nil, fmt.Errorf("list notifications: %w", err)
		}
		n.SupplementID = supID.String
		n.SentAt = parseTime(sentAt)
		if data.Valid && data.String != "" {
			if err := json.Unmarshal([]byte(data.String), &n.Data); err != nil {
				s.log.Warn("notification data unreadable", logx.String("id", n.ID), logx.Err(err))
			}
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSupplement(r rowScanner) (domain.Supplement, error) {
	var (
		sup       domain.Supplement
		status    string
		lastUpd   sql.NullString
		createdAt string
	)
	if err := r.Scan(&sup.ID, &sup.OwnerID, &sup.Name, &sup.Form, &sup.Reason, &sup.Day, &sup.Time, &status, &lastUpd, &createdAt); err != nil {
		return domain.Supplement{}, err
	}
	sup.Status = domain.Status(status)
	if lastUpd.Valid {
		sup.LastStatusUpdate = parseTime(lastUpd.String)
	}
	sup.CreatedAt = parseTime(createdAt)
	return sup, nil
}

func scanSupplementWithOwner(r rowScanner) (domain.Supplement, error) {
	var (
		sup       domain.Supplement
		status    string
		lastUpd   sql.NullString
		createdAt string

		oID, oName          sql.NullString
		oChat               sql.NullInt64
		oPush, oMissedNotif sql.NullBool
	)
	err := r.Scan(&sup.ID, &sup.OwnerID, &sup.Name, &sup.Form, &sup.Reason, &sup.Day, &sup.Time, &status, &lastUpd, &createdAt,
		&oID, &oName, &oChat, &oPush, &oMissedNotif)
	if err != nil {
		return domain.Supplement{}, err
	}
	sup.Status = domain.Status(status)
	if lastUpd.Valid {
		sup.LastStatusUpdate = parseTime(lastUpd.String)
	}
	sup.CreatedAt = parseTime(createdAt)
	if oID.Valid {
		sup.Owner = &domain.Owner{
			ID:            oID.String,
			Name:          oName.String,
			ChatID:        oChat.Int64,
			PushEnabled:   oPush.Bool,
			MissedEnabled: oMissedNotif.Bool,
		}
	}
	return sup, nil
}

// timeLayout is fixed width so text order in SQL matches time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(v string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return formatTime(t)
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
