package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/rawsym/symdex-engine/internal/slug"
	"github.com/rawsym/symdex-engine/pkg/models"
)

// slugAttempts bounds the collision retry loop. At 5 chars over 62 symbols a
// handful of retries is already astronomically safe.
const slugAttempts = 16

// SourceIngest carries the metadata for one source ingestion.
type SourceIngest struct {
	ProjectName string
	ProjectRepo string
	SourceName  string
	VersionName string // optional
	Platform    int
	Upstream    string // optional
	ObjectHash  string
	DiskPath    string
}

// SymbolIngest is one fingerprinted symbol ready for insertion.
type SymbolIngest struct {
	Name         string
	Idx          int
	Len          int
	IsDecompiled bool
	Fingerprints models.FingerprintSet
	Windows      []models.Window
}

// InsertSource atomically creates the source, its deduplicated object, and
// every symbol with its full window set. Readers never observe a symbol
// without its windows: everything commits in one transaction. Returns the
// new source's slug.
func (s *PostgresStore) InsertSource(ctx context.Context, src SourceIngest, symbols []SymbolIngest) (string, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrBackingStoreUnavailable, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// 1. Project (upsert by name; keep an existing repo URL unless a new
	// one is supplied).
	var projectID int64
	err = tx.QueryRow(ctx, `
		INSERT INTO projects (name, repo) VALUES ($1, NULLIF($2, ''))
		ON CONFLICT (name) DO UPDATE
		SET repo = COALESCE(NULLIF(EXCLUDED.repo, ''), projects.repo)
		RETURNING id
	`, src.ProjectName, src.ProjectRepo).Scan(&projectID)
	if err != nil {
		return "", mapError(err)
	}

	// 2. Optional version.
	var versionID *int64
	if src.VersionName != "" {
		var id int64
		err = tx.QueryRow(ctx, `
			INSERT INTO versions (name, platform, project_id) VALUES ($1, $2, $3)
			ON CONFLICT (project_id, name) DO UPDATE SET platform = EXCLUDED.platform
			RETURNING id
		`, src.VersionName, src.Platform, projectID).Scan(&id)
		if err != nil {
			return "", mapError(err)
		}
		versionID = &id
	}

	// 3. Object, deduplicated by content hash. The no-op update makes
	// RETURNING yield the row on conflict.
	var objectID int64
	err = tx.QueryRow(ctx, `
		INSERT INTO objects (hash, disk_path) VALUES ($1, $2)
		ON CONFLICT (hash) DO UPDATE SET disk_path = objects.disk_path
		RETURNING id
	`, src.ObjectHash, src.DiskPath).Scan(&objectID)
	if err != nil {
		return "", mapError(err)
	}

	// 4. The same object under a different source name in this project is a
	// conflicting identity, not a re-ingestion.
	var existingName string
	err = tx.QueryRow(ctx, `
		SELECT name FROM sources
		WHERE project_id = $1 AND object_id = $2 AND name <> $3
		LIMIT 1
	`, projectID, objectID, src.SourceName).Scan(&existingName)
	if err == nil {
		return "", fmt.Errorf("%w: object %s already registered as source %q",
			models.ErrConflict, src.ObjectHash, existingName)
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", mapError(err)
	}

	// 5. Source row, retrying slug generation until unique. A duplicate
	// (project, object, name) triple surfaces as Conflict from the unique
	// constraint.
	sourceSlug, sourceID, err := insertWithSlug(func(sl string) (int64, error) {
		var id int64
		err := tx.QueryRow(ctx, `
			INSERT INTO sources (slug, name, project_id, object_id, version_id, upstream)
			VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''))
			ON CONFLICT (slug) DO NOTHING
			RETURNING id
		`, sl, src.SourceName, projectID, objectID, versionID, src.Upstream).Scan(&id)
		return id, err
	})
	if err != nil {
		return "", err
	}

	// 6. Symbols, then their windows. Windows go in bulk via CopyFrom — a
	// symbol of n instructions carries n−W+1 rows.
	for _, sym := range symbols {
		_, symbolID, err := insertWithSlug(func(sl string) (int64, error) {
			var id int64
			err := tx.QueryRow(ctx, `
				INSERT INTO symbols
					(slug, name, len, symbol_idx, is_decompiled, opcode_hash, equiv_hash, exact_hash, source_id)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
				ON CONFLICT (slug) DO NOTHING
				RETURNING id
			`, sl, sym.Name, sym.Len, sym.Idx, sym.IsDecompiled,
				int64(sym.Fingerprints.Opcode), int64(sym.Fingerprints.Equiv), int64(sym.Fingerprints.Exact),
				sourceID).Scan(&id)
			return id, err
		})
		if err != nil {
			return "", err
		}

		if len(sym.Windows) == 0 {
			continue
		}
		windows := sym.Windows
		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"windows"},
			[]string{"symbol_id", "pos", "hash"},
			pgx.CopyFromSlice(len(windows), func(i int) ([]any, error) {
				return []any{symbolID, windows[i].Pos, int64(windows[i].Hash)}, nil
			}),
		)
		if err != nil {
			return "", mapError(err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return "", mapError(err)
	}
	return sourceSlug, nil
}

// insertWithSlug runs an ON CONFLICT (slug) DO NOTHING insert, regenerating
// the slug until the row lands. Any error other than the swallowed slug
// collision aborts.
func insertWithSlug(insert func(sl string) (int64, error)) (string, int64, error) {
	for attempt := 0; attempt < slugAttempts; attempt++ {
		sl, err := slug.New()
		if err != nil {
			return "", 0, err
		}
		id, err := insert(sl)
		if err == nil {
			return sl, id, nil
		}
		if errors.Is(err, pgx.ErrNoRows) {
			continue // slug collision, retry
		}
		return "", 0, mapError(err)
	}
	return "", 0, fmt.Errorf("%w: slug space exhausted after %d attempts", models.ErrIntegrity, slugAttempts)
}

// DeleteSource removes a source; symbols and windows follow by cascade.
func (s *PostgresStore) DeleteSource(ctx context.Context, sourceSlug string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sources WHERE slug = $1`, sourceSlug)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}
