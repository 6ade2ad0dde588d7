package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/arc-self/sanctions-watch/internal/domain"
	"github.com/arc-self/sanctions-watch/internal/repository"
)

// EntityRepo persists sanctioned entities. All statements filter on source;
// nothing here ever scans across sources.
type EntityRepo struct {
	db DBTX
}

// NewEntityRepo binds the repository to a pool or transaction.
func NewEntityRepo(db DBTX) *EntityRepo { return &EntityRepo{db: db} }

const upsertEntity = `
INSERT INTO sanctioned_entities (
	uid, source, entity_type, name, programs, aliases, addresses,
	personal_info, nationalities, remarks, content_hash, is_active,
	created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, TRUE, now(), now())
ON CONFLICT (source, uid) DO UPDATE SET
	entity_type   = EXCLUDED.entity_type,
	name          = EXCLUDED.name,
	programs      = EXCLUDED.programs,
	aliases       = EXCLUDED.aliases,
	addresses     = EXCLUDED.addresses,
	personal_info = EXCLUDED.personal_info,
	nationalities = EXCLUDED.nationalities,
	remarks       = EXCLUDED.remarks,
	content_hash  = EXCLUDED.content_hash,
	is_active     = TRUE,
	updated_at    = now()
RETURNING (xmax = 0) AS inserted`

const deactivateAbsent = `
UPDATE sanctioned_entities
SET is_active = FALSE, updated_at = now()
WHERE source = $1 AND is_active AND NOT (uid = ANY($2))`

// ReplaceSourceData upserts the provided entities for one source and
// soft-deletes whatever was active before but is absent now. Must run inside
// a unit of work so the replacement is atomic with the rest of the run.
func (r *EntityRepo) ReplaceSourceData(ctx context.Context, source domain.Source, entities []domain.SanctionedEntity) (repository.ReplaceCounts, error) {
	var counts repository.ReplaceCounts

	uids := make([]string, 0, len(entities))
	if len(entities) > 0 {
		batch := newEntityBatch(entities)
		results := r.db.SendBatch(ctx, batch)
		for _, e := range entities {
			uids = append(uids, e.UID)
			var inserted bool
			if err := results.QueryRow().Scan(&inserted); err != nil {
				_ = results.Close()
				return counts, fmt.Errorf("upsert entity %s: %w", e.UID, err)
			}
			if inserted {
				counts.Added++
			} else {
				counts.Updated++
			}
		}
		if err := results.Close(); err != nil {
			return counts, fmt.Errorf("entity upsert batch: %w", err)
		}
	}

	tag, err := r.db.Exec(ctx, deactivateAbsent, string(source), uids)
	if err != nil {
		return counts, fmt.Errorf("deactivate absent entities for %s: %w", source, err)
	}
	counts.Removed = int(tag.RowsAffected())
	return counts, nil
}

const selectActiveEntities = `
SELECT uid, source, entity_type, name, programs, aliases, addresses,
       personal_info, nationalities, remarks, content_hash
FROM sanctioned_entities
WHERE source = $1 AND is_active
ORDER BY uid`

// GetAllForChangeDetection loads the active entity set for one source.
func (r *EntityRepo) GetAllForChangeDetection(ctx context.Context, source domain.Source) ([]domain.SanctionedEntity, error) {
	rows, err := r.db.Query(ctx, selectActiveEntities, string(source))
	if err != nil {
		return nil, fmt.Errorf("select active entities for %s: %w", source, err)
	}
	defer rows.Close()

	var out []domain.SanctionedEntity
	for rows.Next() {
		var (
			e            domain.SanctionedEntity
			addresses    []byte
			personalInfo []byte
		)
		if err := rows.Scan(&e.UID, &e.Source, &e.EntityType, &e.Name,
			&e.Programs, &e.Aliases, &addresses, &personalInfo,
			&e.Nationalities, &e.Remarks, &e.ContentHash); err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		if len(addresses) > 0 {
			if err := json.Unmarshal(addresses, &e.Addresses); err != nil {
				return nil, fmt.Errorf("decode addresses for %s: %w", e.UID, err)
			}
		}
		if len(personalInfo) > 0 {
			if err := json.Unmarshal(personalInfo, &e.PersonalInfo); err != nil {
				return nil, fmt.Errorf("decode personal_info for %s: %w", e.UID, err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *EntityRepo) Health(ctx context.Context) error { return ping(ctx, r.db) }

func newEntityBatch(entities []domain.SanctionedEntity) *pgx.Batch {
	b := &pgx.Batch{}
	for _, e := range entities {
		addresses := mustJSON(e.Addresses)
		var personalInfo []byte
		if e.PersonalInfo != nil {
			personalInfo = mustJSON(e.PersonalInfo)
		}
		b.Queue(upsertEntity,
			e.UID, string(e.Source), string(e.EntityType), e.Name,
			e.Programs, e.Aliases, addresses, personalInfo,
			e.Nationalities, e.Remarks, e.ContentHash)
	}
	return b
}

// mustJSON marshals values that are plain structs and slices of strings;
// failure would be a programmer error.
func mustJSON(v any) []byte {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("marshal %T: %v", v, err))
	}
	return raw
}
