package vectorstore

import (
	"context"
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/kestrel-ai/banter/internal/memory"
)

// Collection is where memory vectors live.
const Collection = "memories"

// Config holds connection settings for a Qdrant instance.
type Config struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Index is a cosine ANN index over memory embeddings, backed by
// Qdrant's gRPC API. It satisfies memory.Index.
type Index struct {
	conn        *grpc.ClientConn
	collections pb.CollectionsClient
	points      pb.PointsClient
}

// NewIndex dials the Qdrant gRPC endpoint.
func NewIndex(cfg Config) (*Index, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect %s: %w", addr, err)
	}
	return &Index{
		conn:        conn,
		collections: pb.NewCollectionsClient(conn),
		points:      pb.NewPointsClient(conn),
	}, nil
}

// EnsureCollection creates the memories collection if it does not
// already exist. Distance is cosine, so scores come back as cosine
// similarity directly.
func (x *Index) EnsureCollection(ctx context.Context, dimension uint64) error {
	_, err := x.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: Collection})
	if err == nil {
		return nil
	}
	_, err = x.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: Collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     dimension,
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("create collection %s: %w", Collection, err)
	}
	return nil
}

// Upsert writes one memory vector with its payload.
func (x *Index) Upsert(ctx context.Context, id string, vector []float32, payload map[string]any) error {
	payloadMap := make(map[string]*pb.Value, len(payload))
	for k, v := range payload {
		if s, ok := v.(string); ok {
			payloadMap[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
		}
	}
	_, err := x.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: Collection,
		Points: []*pb.PointStruct{
			{
				Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: id}},
				Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: vector}}},
				Payload: payloadMap,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("qdrant upsert %s: %w", id, err)
	}
	return nil
}

// Search returns the nearest memory ids with their cosine similarity.
func (x *Index) Search(ctx context.Context, vector []float32, limit int) ([]memory.IndexHit, error) {
	if limit <= 0 {
		limit = memory.DefaultSearchLimit
	}
	resp, err := x.points.Search(ctx, &pb.SearchPoints{
		CollectionName: Collection,
		Vector:         vector,
		Limit:          uint64(limit),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant search: %w", err)
	}
	hits := make([]memory.IndexHit, 0, len(resp.Result))
	for _, r := range resp.Result {
		hits = append(hits, memory.IndexHit{
			ID:         r.Id.GetUuid(),
			Similarity: float64(r.Score),
		})
	}
	return hits, nil
}

// Close tears down the underlying gRPC connection.
func (x *Index) Close() error {
	return x.conn.Close()
}
