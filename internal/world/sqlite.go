package world

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is the SQLite-backed world store.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the world database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "loreweave.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Single connection avoids "database is locked" under concurrent writes.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}
	return nil
}

// parseMigrationVersion extracts the numeric prefix from "0001_name.sql".
func parseMigrationVersion(name string) (int, error) {
	idx := strings.Index(name, "_")
	if idx < 1 {
		return 0, fmt.Errorf("migration %s: missing numeric prefix", name)
	}
	version, err := strconv.Atoi(name[:idx])
	if err != nil {
		return 0, fmt.Errorf("migration %s: %w", name, err)
	}
	return version, nil
}

// CreateEntity inserts an entity, generating an id when absent, and
// returns the id.
func (s *Store) CreateEntity(ctx context.Context, e Entity) (string, error) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	attrs, err := json.Marshal(e.Attributes)
	if err != nil {
		return "", fmt.Errorf("marshaling attributes: %w", err)
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `INSERT INTO entities
		(id, kind, name, room_id, attributes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Kind, e.Name, e.RoomID, string(attrs), now, now)
	if err != nil {
		return "", fmt.Errorf("inserting entity: %w", err)
	}
	return e.ID, nil
}

// GetEntity returns the entity with the given id, or ErrNotFound.
func (s *Store) GetEntity(ctx context.Context, id string) (Entity, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, kind, name, room_id, attributes, created_at, updated_at
		FROM entities WHERE id = ?`, id)
	return scanEntity(row)
}

// GetObject returns the entity with the given id when it is an object.
func (s *Store) GetObject(ctx context.Context, id string) (Entity, error) {
	return s.getKind(ctx, id, KindObject)
}

// GetPlayer returns the entity with the given id when it is a player.
func (s *Store) GetPlayer(ctx context.Context, id string) (Entity, error) {
	return s.getKind(ctx, id, KindPlayer)
}

func (s *Store) getKind(ctx context.Context, id, kind string) (Entity, error) {
	e, err := s.GetEntity(ctx, id)
	if err != nil {
		return Entity{}, err
	}
	if e.Kind != kind {
		return Entity{}, fmt.Errorf("entity %s is a %s, not a %s: %w", id, e.Kind, kind, ErrNotFound)
	}
	return e, nil
}

// ObjectsInRoom lists objects whose room_id matches.
func (s *Store) ObjectsInRoom(ctx context.Context, roomID string) ([]Entity, error) {
	return s.listInRoom(ctx, roomID, KindObject)
}

// PlayersInRoom lists players whose room_id matches.
func (s *Store) PlayersInRoom(ctx context.Context, roomID string) ([]Entity, error) {
	return s.listInRoom(ctx, roomID, KindPlayer)
}

func (s *Store) listInRoom(ctx context.Context, roomID, kind string) ([]Entity, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, kind, name, room_id, attributes, created_at, updated_at
		FROM entities WHERE room_id = ? AND kind = ? ORDER BY name`, roomID, kind)
	if err != nil {
		return nil, fmt.Errorf("listing %ss in room %s: %w", kind, roomID, err)
	}
	defer rows.Close()

	var out []Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// UpdateEntity merges patch into the entity's attributes. The reserved keys
// "name" and "room_id" update the corresponding columns instead.
func (s *Store) UpdateEntity(ctx context.Context, id string, patch map[string]any) error {
	e, err := s.GetEntity(ctx, id)
	if err != nil {
		return err
	}

	if e.Attributes == nil {
		e.Attributes = make(map[string]any)
	}
	for k, v := range patch {
		switch k {
		case "name":
			if name, ok := v.(string); ok {
				e.Name = name
			}
		case "room_id":
			if roomID, ok := v.(string); ok {
				e.RoomID = roomID
			}
		default:
			e.Attributes[k] = v
		}
	}

	attrs, err := json.Marshal(e.Attributes)
	if err != nil {
		return fmt.Errorf("marshaling attributes: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `UPDATE entities SET name = ?, room_id = ?, attributes = ?, updated_at = ?
		WHERE id = ?`, e.Name, e.RoomID, string(attrs), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("updating entity %s: %w", id, err)
	}
	return nil
}

// UpdateObject patches an object; a kind mismatch is ErrNotFound.
func (s *Store) UpdateObject(ctx context.Context, id string, patch map[string]any) error {
	if _, err := s.getKind(ctx, id, KindObject); err != nil {
		return err
	}
	return s.UpdateEntity(ctx, id, patch)
}

// UpdatePlayer patches a player; a kind mismatch is ErrNotFound.
func (s *Store) UpdatePlayer(ctx context.Context, id string, patch map[string]any) error {
	if _, err := s.getKind(ctx, id, KindPlayer); err != nil {
		return err
	}
	return s.UpdateEntity(ctx, id, patch)
}

// LinkSpatial records a spatial relation between two entities.
func (s *Store) LinkSpatial(ctx context.Context, link SpatialLink) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO spatial_links (from_id, to_id, relation)
		VALUES (?, ?, ?)`, link.FromID, link.ToID, link.Relation)
	if err != nil {
		return fmt.Errorf("linking %s -> %s: %w", link.FromID, link.ToID, err)
	}
	return nil
}

// SpatialRelationships lists links touching the given entity, either side.
func (s *Store) SpatialRelationships(ctx context.Context, objectID string) ([]SpatialLink, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT from_id, to_id, relation FROM spatial_links
		WHERE from_id = ? OR to_id = ? ORDER BY relation`, objectID, objectID)
	if err != nil {
		return nil, fmt.Errorf("listing spatial links for %s: %w", objectID, err)
	}
	defer rows.Close()

	var out []SpatialLink
	for rows.Next() {
		var l SpatialLink
		if err := rows.Scan(&l.FromID, &l.ToID, &l.Relation); err != nil {
			return nil, fmt.Errorf("scanning spatial link: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(row rowScanner) (Entity, error) {
	var e Entity
	var attrs string
	err := row.Scan(&e.ID, &e.Kind, &e.Name, &e.RoomID, &attrs, &e.CreatedAt, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return Entity{}, ErrNotFound
	}
	if err != nil {
		return Entity{}, fmt.Errorf("scanning entity: %w", err)
	}
	if attrs != "" {
		if err := json.Unmarshal([]byte(attrs), &e.Attributes); err != nil {
			return Entity{}, fmt.Errorf("parsing attributes of %s: %w", e.ID, err)
		}
	}
	return e, nil
}
