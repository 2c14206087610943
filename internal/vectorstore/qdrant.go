package vectorstore

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"
)

const (
	// maxSearchCandidates caps the HNSW candidate pool per query.
	maxSearchCandidates = 200
	// candidatesPerResult scales the candidate pool with the requested k.
	candidatesPerResult = 20
)

// QdrantIndex implements Index on a single Qdrant collection. Tenant
// isolation is enforced with an indexed tenant_id payload field matched
// inside every query.
type QdrantIndex struct {
	client     *qdrant.Client
	collection string
}

// NewQdrantIndex connects to Qdrant over gRPC. url is "host:port"
// (default port 6334).
func NewQdrantIndex(url, collection string) (*QdrantIndex, error) {
	host, portStr, err := net.SplitHostPort(url)
	if err != nil {
		// If no port specified, assume default
		host = url
		portStr = "6334"
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid port in qdrant url: %w", err)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host: host,
		Port: port,
		GrpcOptions: []grpc.DialOption{
			grpc.WithKeepaliveParams(keepalive.ClientParameters{
				Time:    30 * time.Second,
				Timeout: 10 * time.Second,
			}),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	return &QdrantIndex{client: client, collection: collection}, nil
}

// Close closes the Qdrant client connection.
func (s *QdrantIndex) Close() error {
	return s.client.Close()
}

// EnsureCollection creates the collection and the payload indexes used
// for filtering if they do not exist yet.
func (s *QdrantIndex) EnsureCollection(ctx context.Context, dimension int) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection existence: %w", err)
	}
	if !exists {
		err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: s.collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(dimension),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return fmt.Errorf("failed to create collection: %w", err)
		}
	}

	for _, field := range []string{"tenant_id", "source_ref"} {
		_, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: s.collection,
			FieldName:      field,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		})
		if err != nil {
			return fmt.Errorf("failed to index payload field %s: %w", field, err)
		}
	}
	return nil
}

// Upsert inserts or replaces points.
func (s *QdrantIndex) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	qp := make([]*qdrant.PointStruct, len(points))
	for i, p := range points {
		qp[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(p.ChunkID),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: map[string]*qdrant.Value{
				"tenant_id":   qdrant.NewValueString(p.TenantID),
				"source_ref":  qdrant.NewValueString(p.Payload.SourceRef),
				"source_kind": qdrant.NewValueString(p.Payload.SourceKind),
				"title":       qdrant.NewValueString(p.Payload.Title),
				"chunk_index": qdrant.NewValueInt(int64(p.Payload.ChunkIndex)),
			},
		}
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Points:         qp,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert points: %w", err)
	}
	return nil
}

// Delete removes points by chunk id, constrained to the tenant so a
// reused id can never remove another tenant's point.
func (s *QdrantIndex) Delete(ctx context.Context, tenantID string, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}

	ids := make([]*qdrant.PointId, len(chunkIDs))
	for i, id := range chunkIDs {
		ids[i] = qdrant.NewIDUUID(id)
	}

	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: &qdrant.Filter{
					Must: []*qdrant.Condition{
						qdrant.NewMatch("tenant_id", tenantID),
						qdrant.NewHasID(ids...),
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete points: %w", err)
	}
	return nil
}

// DeleteBySource removes all points of one tenant's source.
func (s *QdrantIndex) DeleteBySource(ctx context.Context, tenantID, sourceRef string) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: &qdrant.Filter{
					Must: []*qdrant.Condition{
						qdrant.NewMatch("tenant_id", tenantID),
						qdrant.NewMatch("source_ref", sourceRef),
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete by source: %w", err)
	}
	return nil
}

// Search queries the top k nearest points among the tenant's points with
// score >= minScore. The candidate pool is min(k*20, 200).
func (s *QdrantIndex) Search(ctx context.Context, tenantID string, vector []float32, k int, minScore float32) ([]Hit, error) {
	candidates := uint64(k * candidatesPerResult)
	if candidates > maxSearchCandidates {
		candidates = maxSearchCandidates
	}

	response, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vector...),
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("tenant_id", tenantID),
			},
		},
		Limit:          qdrant.PtrOf(uint64(k)),
		WithPayload:    qdrant.NewWithPayload(true),
		ScoreThreshold: qdrant.PtrOf(minScore),
		Params: &qdrant.SearchParams{
			HnswEf: qdrant.PtrOf(candidates),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	hits := make([]Hit, 0, len(response))
	for _, point := range response {
		hit := Hit{
			ChunkID: point.Id.GetUuid(),
			Score:   point.Score,
		}
		if payload := point.Payload; payload != nil {
			hit.Payload = Payload{
				SourceRef:  payload["source_ref"].GetStringValue(),
				SourceKind: payload["source_kind"].GetStringValue(),
				Title:      payload["title"].GetStringValue(),
				ChunkIndex: int(payload["chunk_index"].GetIntegerValue()),
			}
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

var _ Index = (*QdrantIndex)(nil)
