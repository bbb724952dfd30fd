package db

import (
	"context"
	"fmt"

	"github.com/rawsym/symdex-engine/internal/match"
	"github.com/rawsym/symdex-engine/pkg/models"
)

// FullMatches runs the three fingerprint point lookups. Each bucket is
// computed independently against its own indexed column and returned
// without cross-bucket deduplication; equiv- or opcode-level hash equality
// does not imply exact equality, so no containment is assumed.
func (s *PostgresStore) FullMatches(ctx context.Context, sym models.SymbolFull) (models.FullMatches, error) {
	bucket := func(column string, hash uint64) ([]models.SymbolMeta, error) {
		rows, err := s.pool.Query(ctx, symbolSelect+
			fmt.Sprintf(` WHERE s.%s = $1 AND s.id <> $2 ORDER BY p.id, src.id, s.symbol_idx`, column),
			int64(hash), sym.ID)
		if err != nil {
			return nil, mapError(err)
		}
		defer rows.Close()

		metas := []models.SymbolMeta{}
		for rows.Next() {
			m, err := scanSymbol(rows)
			if err != nil {
				return nil, mapError(err)
			}
			metas = append(metas, m.SymbolMeta)
		}
		return metas, mapError(rows.Err())
	}

	var out models.FullMatches
	var err error
	if out.Exact, err = bucket("exact_hash", sym.Fingerprints.Exact); err != nil {
		return models.FullMatches{}, err
	}
	if out.Equivalent, err = bucket("equiv_hash", sym.Fingerprints.Equiv); err != nil {
		return models.FullMatches{}, err
	}
	if out.Opcode, err = bucket("opcode_hash", sym.Fingerprints.Opcode); err != nil {
		return models.FullMatches{}, err
	}
	return out, nil
}

// Anchors runs the window self-join for a submatch query: every window of
// the query symbol with start position in [startPos, endPos] joined against
// every equal-hash window of every other symbol. Rows come back in
// (symbol, diagonal, query pos) order — the order Reconstruct expects.
// maxAnchors caps the fan-out; exceeding it returns ResourceExhausted.
func (s *PostgresStore) Anchors(ctx context.Context, symbolID int64, startPos, endPos, maxAnchors int) ([]match.Anchor, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT b.symbol_id, a.pos, b.pos
		FROM windows a
		JOIN windows b ON a.hash = b.hash
		WHERE a.symbol_id = $1
		  AND b.symbol_id <> $1
		  AND a.pos BETWEEN $2 AND $3
		ORDER BY b.symbol_id, a.pos - b.pos, a.pos
		LIMIT $4
	`, symbolID, startPos, endPos, maxAnchors+1)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	anchors := []match.Anchor{}
	for rows.Next() {
		var a match.Anchor
		if err := rows.Scan(&a.SymbolID, &a.QPos, &a.MPos); err != nil {
			return nil, mapError(err)
		}
		anchors = append(anchors, a)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	if len(anchors) > maxAnchors {
		return nil, fmt.Errorf("%w: anchor fan-out above %d", models.ErrResourceExhausted, maxAnchors)
	}
	return anchors, nil
}

// SymbolRefs returns the tiebreak context for a set of symbol ids.
func (s *PostgresStore) SymbolRefs(ctx context.Context, ids []int64) (map[int64]match.SymbolRef, error) {
	refs := make(map[int64]match.SymbolRef, len(ids))
	if len(ids) == 0 {
		return refs, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT s.id, p.id, src.id
		FROM symbols s
		JOIN sources src ON src.id = s.source_id
		JOIN projects p  ON p.id = src.project_id
		WHERE s.id = ANY($1)
	`, ids)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var ref match.SymbolRef
		if err := rows.Scan(&id, &ref.ProjectID, &ref.SourceID); err != nil {
			return nil, mapError(err)
		}
		refs[id] = ref
	}
	return refs, mapError(rows.Err())
}

// SymbolMetas returns API metadata for a set of symbol ids.
func (s *PostgresStore) SymbolMetas(ctx context.Context, ids []int64) (map[int64]models.SymbolMeta, error) {
	metas := make(map[int64]models.SymbolMeta, len(ids))
	if len(ids) == 0 {
		return metas, nil
	}
	rows, err := s.pool.Query(ctx, symbolSelect+` WHERE s.id = ANY($1)`, ids)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	for rows.Next() {
		sym, err := scanSymbol(rows)
		if err != nil {
			return nil, mapError(err)
		}
		metas[sym.ID] = sym.SymbolMeta
	}
	return metas, mapError(rows.Err())
}
