package vectorstore

import (
	"context"
	"fmt"
	"sort"

	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"

	"github.com/stevenjjobson/mcp-chromadb-memory/internal/breaker"
	"github.com/stevenjjobson/mcp-chromadb-memory/internal/domain"
	"github.com/stevenjjobson/mcp-chromadb-memory/internal/ids"
	"github.com/stevenjjobson/mcp-chromadb-memory/internal/merr"
)

// memoryIDPayloadKey is the payload field that carries the originating
// ULID memory id, since Qdrant point ids must be UUIDs or integers (see
// internal/ids.QdrantPointID) and results must be mapped back to it.
const memoryIDPayloadKey = "memory_id"

// Qdrant is the production Store, holding one collection per tier so a
// migration can keep a point visible in both the old and new collection
// until it completes.
type Qdrant struct {
	client  *qdrant.Client
	logger  *zap.Logger
	breaker *breaker.CircuitBreaker
}

// QdrantConfig configures the gRPC connection to a Qdrant instance.
type QdrantConfig struct {
	Host   string
	Port   int
	UseTLS bool
}

func NewQdrant(cfg QdrantConfig, logger *zap.Logger) (*Qdrant, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: connect qdrant: %v", merr.ErrStoreUnavailable, err)
	}
	return &Qdrant{
		client:  client,
		logger:  logger,
		breaker: breaker.New("vector-store", breaker.DefaultConfig()),
	}, nil
}

func (q *Qdrant) guard(ctx context.Context, fn func(ctx context.Context) error) error {
	return q.breaker.Execute(ctx, fn)
}

func (q *Qdrant) EnsureCollections(ctx context.Context, dims int) error {
	return q.guard(ctx, func(ctx context.Context) error {
		for _, tier := range []domain.Tier{domain.TierWorking, domain.TierSession, domain.TierLongTerm} {
			name := CollectionName(tier)
			exists, err := q.client.CollectionExists(ctx, name)
			if err != nil {
				return fmt.Errorf("check collection %s: %w", name, err)
			}
			if exists {
				continue
			}
			err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
				CollectionName: name,
				VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
					Size:     uint64(dims),
					Distance: qdrant.Distance_Cosine,
				}),
			})
			if err != nil {
				return fmt.Errorf("create collection %s: %w", name, err)
			}
			q.logger.Info("created vector collection", zap.String("collection", name))
		}
		return nil
	})
}

func (q *Qdrant) Upsert(ctx context.Context, tier domain.Tier, id string, vec []float64) error {
	return q.guard(ctx, func(ctx context.Context) error {
		point, err := q.buildPoint(id, vec)
		if err != nil {
			return err
		}
		_, err = q.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: CollectionName(tier),
			Points:         []*qdrant.PointStruct{point},
		})
		if err != nil {
			return fmt.Errorf("upsert %s into %s: %w", id, CollectionName(tier), err)
		}
		return nil
	})
}

func (q *Qdrant) buildPoint(id string, vec []float64) (*qdrant.PointStruct, error) {
	f32 := make([]float32, len(vec))
	for i, v := range vec {
		f32[i] = float32(v)
	}

	payload, err := qdrant.TryValueMap(map[string]any{memoryIDPayloadKey: id})
	if err != nil {
		return nil, fmt.Errorf("build payload for %s: %w", id, err)
	}

	return &qdrant.PointStruct{
		Id:      qdrant.NewID(ids.QdrantPointID(id).String()),
		Vectors: qdrant.NewVectors(f32...),
		Payload: payload,
	}, nil
}

func (q *Qdrant) Get(ctx context.Context, tier domain.Tier, id string) ([]float64, bool, error) {
	var vec []float64
	var found bool
	err := q.guard(ctx, func(ctx context.Context) error {
		pointID := qdrant.NewID(ids.QdrantPointID(id).String())
		points, err := q.client.Get(ctx, &qdrant.GetPoints{
			CollectionName: CollectionName(tier),
			Ids:            []*qdrant.PointId{pointID},
			WithVectors:    qdrant.NewWithVectors(true),
		})
		if err != nil {
			return fmt.Errorf("get %s from %s: %w", id, CollectionName(tier), err)
		}
		if len(points) == 0 {
			return nil
		}
		found = true
		vec = toFloat64(points[0].GetVectors().GetVector().GetData())
		return nil
	})
	return vec, found, err
}

func (q *Qdrant) Delete(ctx context.Context, tier domain.Tier, id string) error {
	return q.guard(ctx, func(ctx context.Context) error {
		pointID := qdrant.NewID(ids.QdrantPointID(id).String())
		_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: CollectionName(tier),
			Points:         qdrant.NewPointsSelector(pointID),
		})
		if err != nil {
			return fmt.Errorf("delete %s from %s: %w", id, CollectionName(tier), err)
		}
		return nil
	})
}

func (q *Qdrant) Search(ctx context.Context, tiers []domain.Tier, vec []float64, limit int, minScore float64) ([]Hit, error) {
	f32 := make([]float32, len(vec))
	for i, v := range vec {
		f32[i] = float32(v)
	}

	var all []Hit
	err := q.guard(ctx, func(ctx context.Context) error {
		for _, tier := range tiers {
			scored, err := q.client.Query(ctx, &qdrant.QueryPoints{
				CollectionName: CollectionName(tier),
				Query:          qdrant.NewQuery(f32...),
				Limit:          u64ptr(uint64(limit)),
				ScoreThreshold: f32ptr(float32(minScore)),
				WithPayload:    qdrant.NewWithPayload(true),
			})
			if err != nil {
				return fmt.Errorf("query %s: %w", CollectionName(tier), err)
			}
			for _, p := range scored {
				memID := ""
				if payload := p.GetPayload(); payload != nil {
					if v, ok := payload[memoryIDPayloadKey]; ok {
						memID = v.GetStringValue()
					}
				}
				if memID == "" {
					continue
				}
				all = append(all, Hit{ID: memID, Score: float64(p.GetScore())})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sortHitsDesc(all)
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (q *Qdrant) Ping(ctx context.Context) error {
	if s := q.breaker.State(); s != breaker.StateClosed {
		q.logger.Warn("vector store circuit not closed", zap.String("state", s.String()))
	}
	return q.guard(ctx, func(ctx context.Context) error {
		_, err := q.client.HealthCheck(ctx)
		if err != nil {
			return fmt.Errorf("health check: %w", err)
		}
		return nil
	})
}

func (q *Qdrant) Close() error {
	return q.client.Close()
}

func toFloat64(f32 []float32) []float64 {
	out := make([]float64, len(f32))
	for i, f := range f32 {
		out[i] = float64(f)
	}
	return out
}

func sortHitsDesc(hits []Hit) {
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
}

func u64ptr(v uint64) *uint64 { return &v }
func f32ptr(v float32) *float32 { return &v }
