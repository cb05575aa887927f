package relational

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/stevenjjobson/mcp-chromadb-memory/internal/breaker"
	"github.com/stevenjjobson/mcp-chromadb-memory/internal/domain"
	"github.com/stevenjjobson/mcp-chromadb-memory/internal/merr"
)

// jsonb is a driver.Valuer/sql.Scanner pair that round-trips a metadata
// map through Postgres's jsonb column type via sqlx struct tags.
type jsonb map[string]any

func (j jsonb) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *jsonb) Scan(value any) error {
	if value == nil {
		*j = nil
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into jsonb", value)
	}
	return json.Unmarshal(b, j)
}

// row is the sqlx scan target for the memories table.
type row struct {
	ID               string    `db:"id"`
	Content          string    `db:"content"`
	ContentHash      string    `db:"content_hash"`
	Context          string    `db:"context"`
	Importance       float64   `db:"importance"`
	Tier             string    `db:"tier"`
	CreatedAt        time.Time `db:"created_at"`
	LastAccessedAt   time.Time `db:"last_accessed_at"`
	AccessCount      int64     `db:"access_count"`
	Metadata         jsonb     `db:"metadata"`
	VaultScope       string    `db:"vault_scope"`
	PendingEmbedding bool      `db:"pending_embedding"`
	Quarantined      bool      `db:"quarantined"`
}

func (r row) toDomain() *domain.Memory {
	return &domain.Memory{
		ID:               r.ID,
		Content:          r.Content,
		ContentHash:      r.ContentHash,
		Context:          r.Context,
		Importance:       r.Importance,
		Tier:             domain.Tier(r.Tier),
		CreatedAt:        r.CreatedAt,
		LastAccessedAt:   r.LastAccessedAt,
		AccessCount:      r.AccessCount,
		Metadata:         map[string]any(r.Metadata),
		VaultScope:       domain.VaultScope(r.VaultScope),
		PendingEmbedding: r.PendingEmbedding,
		Quarantined:      r.Quarantined,
	}
}

func fromDomain(m *domain.Memory) row {
	return row{
		ID:               m.ID,
		Content:          m.Content,
		ContentHash:      m.ContentHash,
		Context:          m.Context,
		Importance:       m.Importance,
		Tier:             string(m.Tier),
		CreatedAt:        m.CreatedAt,
		LastAccessedAt:   m.LastAccessedAt,
		AccessCount:      m.AccessCount,
		Metadata:         jsonb(m.Metadata),
		VaultScope:       string(m.VaultScope),
		PendingEmbedding: m.PendingEmbedding,
		Quarantined:      m.Quarantined,
	}
}

// schemaDDL creates the memories table and its indexes: primary key, a
// (tier, created_at) index for the sweeper's pagination, a content_hash
// index for dedup lookups, a (vault_scope, context) index for filtered
// retrieval, and a full-text index on content.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS memories (
	id                TEXT PRIMARY KEY,
	content           TEXT NOT NULL,
	content_hash      TEXT NOT NULL,
	context           TEXT NOT NULL,
	importance        REAL NOT NULL,
	tier              TEXT NOT NULL,
	created_at        TIMESTAMPTZ NOT NULL,
	last_accessed_at  TIMESTAMPTZ NOT NULL,
	access_count      BIGINT NOT NULL DEFAULT 0,
	metadata          JSONB NOT NULL DEFAULT '{}',
	vault_scope       TEXT NOT NULL,
	pending_embedding BOOLEAN NOT NULL DEFAULT FALSE,
	quarantined       BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS idx_memories_tier_created ON memories (tier, created_at);
CREATE INDEX IF NOT EXISTS idx_memories_content_hash ON memories (content_hash);
CREATE INDEX IF NOT EXISTS idx_memories_scope_context ON memories (vault_scope, context);
CREATE INDEX IF NOT EXISTS idx_memories_content_fts ON memories USING GIN (to_tsvector('english', content));
`

// Postgres is the production Store, wired through pgx/v5's stdlib
// adapter so sqlx gets struct-scanning convenience over a pgx
// connection pool.
type Postgres struct {
	db      *sqlx.DB
	pool    *pgxpool.Pool
	logger  *zap.Logger
	breaker *breaker.CircuitBreaker
}

// PostgresConfig configures the connection pool.
type PostgresConfig struct {
	DSN             string
	MaxConnections  int
	IdleConnections int
}

// NewPostgres opens a connection pool against cfg.DSN, verifies
// connectivity, and ensures the schema exists.
func NewPostgres(ctx context.Context, cfg PostgresConfig, logger *zap.Logger) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("%w: open pool: %v", merr.ErrStoreUnavailable, err)
	}

	sqlDB := stdlib.OpenDBFromPool(pool)
	if cfg.MaxConnections > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxConnections)
	}
	if cfg.IdleConnections > 0 {
		sqlDB.SetMaxIdleConns(cfg.IdleConnections)
	}

	dbx := sqlx.NewDb(sqlDB, "pgx")

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := dbx.PingContext(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: ping: %v", merr.ErrStoreUnavailable, err)
	}

	if _, err := dbx.ExecContext(ctx, schemaDDL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: migrate schema: %v", merr.ErrStoreUnavailable, err)
	}

	logger.Info("relational store connected",
		zap.Int("max_connections", cfg.MaxConnections))

	return &Postgres{
		db:      dbx,
		pool:    pool,
		logger:  logger,
		breaker: breaker.New("relational-store", breaker.DefaultConfig()),
	}, nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}

func (p *Postgres) guard(ctx context.Context, fn func(ctx context.Context) error) error {
	return p.breaker.Execute(ctx, fn)
}

func (p *Postgres) Put(ctx context.Context, m *domain.Memory) error {
	return p.guard(ctx, func(ctx context.Context) error {
		r := fromDomain(m)
		_, err := p.db.NamedExecContext(ctx, `
			INSERT INTO memories
				(id, content, content_hash, context, importance, tier, created_at,
				 last_accessed_at, access_count, metadata, vault_scope, pending_embedding, quarantined)
			VALUES
				(:id, :content, :content_hash, :context, :importance, :tier, :created_at,
				 :last_accessed_at, :access_count, :metadata, :vault_scope, :pending_embedding, :quarantined)
		`, r)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("id %s: %w", m.ID, merr.ErrConflict)
			}
			return fmt.Errorf("%w: insert: %v", merr.ErrStoreUnavailable, err)
		}
		return nil
	})
}

func (p *Postgres) Get(ctx context.Context, id string) (*domain.Memory, error) {
	var out *domain.Memory
	err := p.guard(ctx, func(ctx context.Context) error {
		var r row
		err := p.db.GetContext(ctx, &r, `SELECT * FROM memories WHERE id = $1`, id)
		if err == sql.ErrNoRows {
			return fmt.Errorf("id %s: %w", id, merr.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("%w: get: %v", merr.ErrStoreUnavailable, err)
		}
		out = r.toDomain()
		return nil
	})
	return out, err
}

func (p *Postgres) Delete(ctx context.Context, id string) error {
	return p.guard(ctx, func(ctx context.Context) error {
		_, err := p.db.ExecContext(ctx, `DELETE FROM memories WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("%w: delete: %v", merr.ErrStoreUnavailable, err)
		}
		return nil
	})
}

func (p *Postgres) UpdateTier(ctx context.Context, id string, tier domain.Tier) error {
	return p.guard(ctx, func(ctx context.Context) error {
		res, err := p.db.ExecContext(ctx, `UPDATE memories SET tier = $2 WHERE id = $1`, id, string(tier))
		if err != nil {
			return fmt.Errorf("%w: update tier: %v", merr.ErrStoreUnavailable, err)
		}
		return rowsAffectedOrNotFound(res, id)
	})
}

func (p *Postgres) SetPendingEmbedding(ctx context.Context, id string, pending bool) error {
	return p.guard(ctx, func(ctx context.Context) error {
		res, err := p.db.ExecContext(ctx, `UPDATE memories SET pending_embedding = $2 WHERE id = $1`, id, pending)
		if err != nil {
			return fmt.Errorf("%w: set pending: %v", merr.ErrStoreUnavailable, err)
		}
		return rowsAffectedOrNotFound(res, id)
	})
}

func (p *Postgres) SetQuarantined(ctx context.Context, id string, quarantined bool) error {
	return p.guard(ctx, func(ctx context.Context) error {
		res, err := p.db.ExecContext(ctx, `UPDATE memories SET quarantined = $2 WHERE id = $1`, id, quarantined)
		if err != nil {
			return fmt.Errorf("%w: set quarantined: %v", merr.ErrStoreUnavailable, err)
		}
		return rowsAffectedOrNotFound(res, id)
	})
}

func (p *Postgres) Touch(ctx context.Context, id string, when time.Time, delta int64) error {
	return p.guard(ctx, func(ctx context.Context) error {
		res, err := p.db.ExecContext(ctx, `
			UPDATE memories
			SET last_accessed_at = GREATEST(last_accessed_at, $2),
			    access_count = access_count + $3
			WHERE id = $1
		`, id, when, delta)
		if err != nil {
			return fmt.Errorf("%w: touch: %v", merr.ErrStoreUnavailable, err)
		}
		return rowsAffectedOrNotFound(res, id)
	})
}

func (p *Postgres) ExactSearch(ctx context.Context, query string, filter Filter, limit int) ([]Candidate, error) {
	var out []Candidate
	err := p.guard(ctx, func(ctx context.Context) error {
		sqlQuery := `
			SELECT * FROM memories
			WHERE quarantined = FALSE
			  AND content ILIKE '%' || $1 || '%'
			  AND ($2 = '' OR context = $2)
			  AND ($3 = '' OR tier = $3)
			  AND ($4 = '' OR vault_scope = $4)
			  AND ($6::jsonb IS NULL OR metadata @> $6::jsonb)
			ORDER BY position(lower($1) in lower(content))
			LIMIT $5
		`
		var rows []row
		err := p.db.SelectContext(ctx, &rows, sqlQuery,
			query, filter.Context, string(filter.Tier), string(filter.VaultScope), limit, jsonb(filter.Metadata))
		if err != nil {
			return fmt.Errorf("%w: exact search: %v", merr.ErrStoreUnavailable, err)
		}
		needle := strings.ToLower(query)
		for _, r := range rows {
			m := r.toDomain()
			haystack := strings.ToLower(m.Content)
			pos := strings.Index(haystack, needle)
			out = append(out, Candidate{
				Memory:      m,
				MatchPos:    pos,
				WholeWord:   pos >= 0 && isWholeWordMatch(haystack, needle, pos),
				ExactPhrase: haystack == needle,
			})
		}
		return nil
	})
	return out, err
}

func (p *Postgres) ListByTierPage(ctx context.Context, tier domain.Tier, after time.Time, limit int) ([]*domain.Memory, error) {
	var out []*domain.Memory
	err := p.guard(ctx, func(ctx context.Context) error {
		var rows []row
		err := p.db.SelectContext(ctx, &rows, `
			SELECT * FROM memories
			WHERE tier = $1 AND quarantined = FALSE AND created_at > $2
			ORDER BY created_at
			LIMIT $3
		`, string(tier), after, limit)
		if err != nil {
			return fmt.Errorf("%w: list tier page: %v", merr.ErrStoreUnavailable, err)
		}
		for _, r := range rows {
			out = append(out, r.toDomain())
		}
		return nil
	})
	return out, err
}

func (p *Postgres) ListByContentHash(ctx context.Context, contentHash string, scope domain.VaultScope, tiers []domain.Tier) ([]*domain.Memory, error) {
	var out []*domain.Memory
	err := p.guard(ctx, func(ctx context.Context) error {
		tierStrs := make([]string, len(tiers))
		for i, t := range tiers {
			tierStrs[i] = string(t)
		}
		var rows []row
		err := p.db.SelectContext(ctx, &rows, `
			SELECT * FROM memories
			WHERE content_hash = $1 AND vault_scope = $2 AND quarantined = FALSE AND tier = ANY($3)
		`, contentHash, string(scope), tierStrs)
		if err != nil {
			return fmt.Errorf("%w: list by content hash: %v", merr.ErrStoreUnavailable, err)
		}
		for _, r := range rows {
			out = append(out, r.toDomain())
		}
		return nil
	})
	return out, err
}

func (p *Postgres) MergeInto(ctx context.Context, keeper *domain.Memory, discardIDs []string) error {
	return p.guard(ctx, func(ctx context.Context) error {
		tx, err := p.db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("%w: begin merge tx: %v", merr.ErrStoreUnavailable, err)
		}
		defer tx.Rollback()

		r := fromDomain(keeper)
		_, err = tx.ExecContext(ctx, `
			UPDATE memories
			SET access_count = $2, last_accessed_at = $3, importance = $4, metadata = $5
			WHERE id = $1
		`, r.ID, r.AccessCount, r.LastAccessedAt, r.Importance, r.Metadata)
		if err != nil {
			return fmt.Errorf("%w: merge update: %v", merr.ErrStoreUnavailable, err)
		}

		if len(discardIDs) > 0 {
			_, err = tx.ExecContext(ctx, `DELETE FROM memories WHERE id = ANY($1)`, discardIDs)
			if err != nil {
				return fmt.Errorf("%w: merge delete: %v", merr.ErrStoreUnavailable, err)
			}
		}
		return tx.Commit()
	})
}

func (p *Postgres) ListPendingEmbedding(ctx context.Context, limit int) ([]*domain.Memory, error) {
	var out []*domain.Memory
	err := p.guard(ctx, func(ctx context.Context) error {
		var rows []row
		err := p.db.SelectContext(ctx, &rows, `
			SELECT * FROM memories
			WHERE pending_embedding = TRUE AND quarantined = FALSE
			ORDER BY created_at
			LIMIT $1
		`, limit)
		if err != nil {
			return fmt.Errorf("%w: list pending: %v", merr.ErrStoreUnavailable, err)
		}
		for _, r := range rows {
			out = append(out, r.toDomain())
		}
		return nil
	})
	return out, err
}

func (p *Postgres) Stats(ctx context.Context) (Stats, error) {
	var out Stats
	err := p.guard(ctx, func(ctx context.Context) error {
		type aggRow struct {
			Tier   string    `db:"tier"`
			Count  int       `db:"count"`
			AvgImp float64   `db:"avg_importance"`
			Oldest time.Time `db:"oldest"`
			Newest time.Time `db:"newest"`
		}
		var aggs []aggRow
		err := p.db.SelectContext(ctx, &aggs, `
			SELECT tier, COUNT(*) AS count, COALESCE(AVG(importance), 0) AS avg_importance,
			       MIN(created_at) AS oldest, MAX(created_at) AS newest
			FROM memories
			GROUP BY tier
		`)
		if err != nil {
			return fmt.Errorf("%w: stats: %v", merr.ErrStoreUnavailable, err)
		}
		byTier := make(map[domain.Tier]TierStats, len(aggs))
		for _, a := range aggs {
			byTier[domain.Tier(a.Tier)] = TierStats{
				Count:         a.Count,
				AvgImportance: a.AvgImp,
				Oldest:        a.Oldest,
				Newest:        a.Newest,
			}
		}
		var pending, quarantined int
		if err := p.db.GetContext(ctx, &pending, `SELECT COUNT(*) FROM memories WHERE pending_embedding = TRUE`); err != nil {
			return fmt.Errorf("%w: stats pending: %v", merr.ErrStoreUnavailable, err)
		}
		if err := p.db.GetContext(ctx, &quarantined, `SELECT COUNT(*) FROM memories WHERE quarantined = TRUE`); err != nil {
			return fmt.Errorf("%w: stats quarantined: %v", merr.ErrStoreUnavailable, err)
		}
		out = Stats{ByTier: byTier, PendingEmbeddings: pending, Quarantined: quarantined}
		return nil
	})
	return out, err
}

func (p *Postgres) Ping(ctx context.Context) error {
	if s := p.breaker.State(); s != breaker.StateClosed {
		p.logger.Warn("relational store circuit not closed", zap.String("state", s.String()))
	}
	return p.guard(ctx, func(ctx context.Context) error {
		if err := p.db.PingContext(ctx); err != nil {
			return fmt.Errorf("%w: ping: %v", merr.ErrStoreUnavailable, err)
		}
		return nil
	})
}

func rowsAffectedOrNotFound(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected: %v", merr.ErrStoreUnavailable, err)
	}
	if n == 0 {
		return fmt.Errorf("id %s: %w", id, merr.ErrNotFound)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
