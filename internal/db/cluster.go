package db

import (
	"context"
	"sort"

	"github.com/rawsym/symdex-engine/pkg/models"
)

// Clusters groups symbols by exact fingerprint and returns the groups with
// cardinality ≥ minSize, largest first. Scope is one source by default;
// global widens to every symbol sharing a fingerprint with that source,
// which can inflate cardinality with version duplicates — callers opt in.
func (s *PostgresStore) Clusters(ctx context.Context, sourceID int64, minSize int, global bool) ([]models.Cluster, error) {
	if minSize < 2 {
		minSize = 2
	}

	scope := `s.source_id = $1`
	if global {
		scope = `s.exact_hash IN (SELECT exact_hash FROM symbols WHERE source_id = $1)`
	}
	rows, err := s.pool.Query(ctx, symbolSelect+`
		WHERE `+scope+`
		ORDER BY s.exact_hash, p.id, src.id, s.symbol_idx
	`, sourceID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	clusters := []models.Cluster{}
	var cur *models.Cluster
	for rows.Next() {
		sym, err := scanSymbol(rows)
		if err != nil {
			return nil, mapError(err)
		}
		if cur == nil || cur.ExactHash != sym.Fingerprints.Exact {
			clusters = append(clusters, models.Cluster{ExactHash: sym.Fingerprints.Exact})
			cur = &clusters[len(clusters)-1]
		}
		cur.Members = append(cur.Members, sym.SymbolMeta)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}

	out := clusters[:0]
	for _, c := range clusters {
		if len(c.Members) >= minSize {
			c.Size = len(c.Members)
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Size > out[j].Size })
	return out, nil
}

// SourcePartition maps a source's symbol names to their exact fingerprints,
// the raw material for cluster-agreement metrics between two sources. When
// a name repeats within the source the first occurrence wins.
func (s *PostgresStore) SourcePartition(ctx context.Context, sourceID int64) (map[string]uint64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT name, exact_hash FROM symbols
		WHERE source_id = $1
		ORDER BY symbol_idx
	`, sourceID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	partition := make(map[string]uint64)
	for rows.Next() {
		var name string
		var hash int64
		if err := rows.Scan(&name, &hash); err != nil {
			return nil, mapError(err)
		}
		if _, seen := partition[name]; !seen {
			partition[name] = uint64(hash)
		}
	}
	return partition, mapError(rows.Err())
}
