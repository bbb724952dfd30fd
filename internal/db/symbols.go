package db

import (
	"context"

	"github.com/rawsym/symdex-engine/pkg/models"
)

// symbolSelect is the shared projection for symbol rows with their owning
// context. Callers append WHERE/ORDER clauses.
const symbolSelect = `
	SELECT s.id, s.slug, s.name, s.len, s.symbol_idx, s.is_decompiled,
	       s.opcode_hash, s.equiv_hash, s.exact_hash,
	       src.id, src.name, v.id, v.name, COALESCE(v.platform, 0),
	       p.id, p.name, COALESCE(p.repo, '')
	FROM symbols s
	JOIN sources src ON src.id = s.source_id
	JOIN projects p  ON p.id = src.project_id
	LEFT JOIN versions v ON v.id = src.version_id
`

// scanSymbol scans one symbolSelect row.
func scanSymbol(row interface{ Scan(...any) error }) (models.SymbolFull, error) {
	var (
		sym                              models.SymbolFull
		opcodeHash, equivHash, exactHash int64
		versionID                        *int64
		versionName                      *string
		platform                         int
	)
	err := row.Scan(
		&sym.ID, &sym.Slug, &sym.Name, &sym.Len, &sym.SymbolIdx, &sym.IsDecompiled,
		&opcodeHash, &equivHash, &exactHash,
		&sym.SourceID, &sym.SourceName, &versionID, &versionName, &platform,
		&sym.ProjectID, &sym.ProjectName, &sym.ProjectRepo,
	)
	if err != nil {
		return models.SymbolFull{}, err
	}
	sym.Fingerprints = models.FingerprintSet{
		Opcode: uint64(opcodeHash),
		Equiv:  uint64(equivHash),
		Exact:  uint64(exactHash),
	}
	sym.VersionID = versionID
	if versionName != nil {
		sym.VersionName = *versionName
	}
	sym.Platform = models.PlatformName(platform)
	return sym, nil
}

// GetSymbol returns a symbol with full owning context by slug.
func (s *PostgresStore) GetSymbol(ctx context.Context, symbolSlug string) (models.SymbolFull, error) {
	row := s.pool.QueryRow(ctx, symbolSelect+` WHERE s.slug = $1`, symbolSlug)
	sym, err := scanSymbol(row)
	if err != nil {
		return models.SymbolFull{}, mapError(err)
	}
	return sym, nil
}

// ObjectRef resolves a symbol to the disk path of its owning object blob
// and the symbol's ordinal within it, for instruction rehydration.
func (s *PostgresStore) ObjectRef(ctx context.Context, symbolSlug string) (diskPath string, symbolIdx int, err error) {
	err = s.pool.QueryRow(ctx, `
		SELECT o.disk_path, s.symbol_idx
		FROM symbols s
		JOIN sources src ON src.id = s.source_id
		JOIN objects o   ON o.id = src.object_id
		WHERE s.slug = $1
	`, symbolSlug).Scan(&diskPath, &symbolIdx)
	if err != nil {
		return "", 0, mapError(err)
	}
	return diskPath, symbolIdx, nil
}

// FindByName is the best-effort substring search backing the search UI.
func (s *PostgresStore) FindByName(ctx context.Context, fragment string, limit int) ([]models.SymbolMeta, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, symbolSelect+`
		WHERE s.name ILIKE '%' || $1 || '%'
		ORDER BY s.name, p.id, src.id, s.symbol_idx
		LIMIT $2
	`, fragment, limit)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	metas := []models.SymbolMeta{}
	for rows.Next() {
		sym, err := scanSymbol(rows)
		if err != nil {
			return nil, mapError(err)
		}
		metas = append(metas, sym.SymbolMeta)
	}
	return metas, mapError(rows.Err())
}

// GetSource returns a source's metadata by slug.
func (s *PostgresStore) GetSource(ctx context.Context, sourceSlug string) (models.SourceMeta, error) {
	var (
		meta        models.SourceMeta
		versionName *string
		upstream    *string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT src.slug, src.name, p.id, p.name, v.name, o.hash, src.upstream,
		       (SELECT COUNT(*) FROM symbols s WHERE s.source_id = src.id)
		FROM sources src
		JOIN projects p ON p.id = src.project_id
		JOIN objects o  ON o.id = src.object_id
		LEFT JOIN versions v ON v.id = src.version_id
		WHERE src.slug = $1
	`, sourceSlug).Scan(&meta.Slug, &meta.Name, &meta.ProjectID, &meta.ProjectName,
		&versionName, &meta.ObjectHash, &upstream, &meta.NumSymbols)
	if err != nil {
		return models.SourceMeta{}, mapError(err)
	}
	if versionName != nil {
		meta.VersionName = *versionName
	}
	if upstream != nil {
		meta.Upstream = *upstream
	}
	return meta, nil
}

// SourceID resolves a source slug to its id.
func (s *PostgresStore) SourceID(ctx context.Context, sourceSlug string) (int64, error) {
	var id int64
	if err := s.pool.QueryRow(ctx, `SELECT id FROM sources WHERE slug = $1`, sourceSlug).Scan(&id); err != nil {
		return 0, mapError(err)
	}
	return id, nil
}

// ListProjects returns every project.
func (s *PostgresStore) ListProjects(ctx context.Context) ([]models.ProjectMeta, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, COALESCE(repo, '') FROM projects ORDER BY name`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	projects := []models.ProjectMeta{}
	for rows.Next() {
		var p models.ProjectMeta
		if err := rows.Scan(&p.ID, &p.Name, &p.Repo); err != nil {
			return nil, mapError(err)
		}
		projects = append(projects, p)
	}
	return projects, mapError(rows.Err())
}

// WindowCount returns the number of indexed windows for a symbol; the
// auditor checks it against len − W + 1.
func (s *PostgresStore) WindowCount(ctx context.Context, symbolID int64) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM windows WHERE symbol_id = $1`, symbolID).Scan(&n); err != nil {
		return 0, mapError(err)
	}
	return n, nil
}

// SourceSymbols returns every symbol of a source in symbol_idx order.
func (s *PostgresStore) SourceSymbols(ctx context.Context, sourceID int64) ([]models.SymbolFull, error) {
	rows, err := s.pool.Query(ctx, symbolSelect+`
		WHERE s.source_id = $1
		ORDER BY s.symbol_idx
	`, sourceID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	symbols := []models.SymbolFull{}
	for rows.Next() {
		sym, err := scanSymbol(rows)
		if err != nil {
			return nil, mapError(err)
		}
		symbols = append(symbols, sym)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	if len(symbols) == 0 {
		// Distinguish an empty source from a missing one.
		var exists bool
		if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM sources WHERE id = $1)`, sourceID).Scan(&exists); err != nil {
			return nil, mapError(err)
		}
		if !exists {
			return nil, models.ErrNotFound
		}
	}
	return symbols, nil
}
