package vector

import (
	"context"
	"crypto/tls"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"github.com/hyperjump/kotae/internal/config"
)

const (
	payloadChunkID = "chunk_id"
	payloadSeq     = "seq"
	upsertBatch    = 256
)

// QdrantClient owns the gRPC connection shared by every QdrantIndex.
type QdrantClient struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	apiKey      string
	prefix      string
	instance    string
}

// NewQdrantClient connects lazily to qdrant's gRPC endpoint; no request is
// made until the first index is created. Each client gets a random instance
// tag so processes sharing one qdrant never address each other's collections.
func NewQdrantClient(cfg config.QdrantConfig) (*QdrantClient, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	creds := insecure.NewCredentials()
	if cfg.UseTLS {
		creds = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("dial qdrant %s: %w", addr, err)
	}
	return &QdrantClient{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		apiKey:      cfg.APIKey,
		prefix:      cfg.CollectionPrefix,
		instance:    strings.ReplaceAll(uuid.NewString(), "-", "")[:12],
	}, nil
}

// Close closes the underlying gRPC connection.
func (c *QdrantClient) Close() error {
	return c.conn.Close()
}

func (c *QdrantClient) outgoing(ctx context.Context) context.Context {
	if c.apiKey == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, "api-key", c.apiKey)
}

// NewIndex creates a fresh collection for one build.
func (c *QdrantClient) NewIndex(ctx context.Context, name string, dimensions int) (*QdrantIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	collection := c.collectionFor(name)
	_, err := c.collections.Create(c.outgoing(ctx), &pb.CreateCollection{
		CollectionName: collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dimensions),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create collection %s: %w", collection, err)
	}
	return &QdrantIndex{client: c, collection: collection, dimensions: dimensions}, nil
}

func (c *QdrantClient) collectionFor(name string) string {
	collection := c.instance + "_" + name
	if c.prefix != "" {
		collection = c.prefix + "_" + collection
	}
	return collection
}

// QdrantIndex is a VectorIndex backed by a single qdrant collection.
// Point ids are name-based UUIDs of the chunk ids; the chunk id and its
// insertion sequence travel in the payload.
type QdrantIndex struct {
	client     *QdrantClient
	collection string
	dimensions int

	mu   sync.Mutex
	size int
}

// Add upserts vectors in batches and waits for them to be searchable.
func (q *QdrantIndex) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	octx := q.client.outgoing(ctx)
	wait := true
	for start := 0; start < len(ids); start += upsertBatch {
		end := start + upsertBatch
		if end > len(ids) {
			end = len(ids)
		}
		points := make([]*pb.PointStruct, 0, end-start)
		for i := start; i < end; i++ {
			if len(vectors[i]) != q.dimensions {
				return fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(vectors[i]), q.dimensions)
			}
			points = append(points, &pb.PointStruct{
				Id: &pb.PointId{
					PointIdOptions: &pb.PointId_Uuid{Uuid: pointID(ids[i])},
				},
				Vectors: &pb.Vectors{
					VectorsOptions: &pb.Vectors_Vector{
						Vector: &pb.Vector{Data: vectors[i]},
					},
				},
				Payload: map[string]*pb.Value{
					payloadChunkID: {Kind: &pb.Value_StringValue{StringValue: ids[i]}},
					payloadSeq:     {Kind: &pb.Value_IntegerValue{IntegerValue: int64(q.size + i - start)}},
				},
			})
		}
		_, err := q.client.points.Upsert(octx, &pb.UpsertPoints{
			CollectionName: q.collection,
			Wait:           &wait,
			Points:         points,
		})
		if err != nil {
			return fmt.Errorf("upsert %d points into %s: %w", len(points), q.collection, err)
		}
		q.size += len(points)
	}
	return nil
}

// Search runs a cosine k-NN query. Ties are ordered by insertion sequence so
// results match the in-memory backend.
func (q *QdrantIndex) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	if len(query) != q.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), q.dimensions)
	}
	if k <= 0 || q.Size() == 0 {
		return nil, nil
	}
	resp, err := q.client.points.Search(q.client.outgoing(ctx), &pb.SearchPoints{
		CollectionName: q.collection,
		Vector:         query,
		Limit:          uint64(k),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", q.collection, err)
	}
	type hit struct {
		res *VectorResult
		seq int64
	}
	hits := make([]hit, 0, len(resp.GetResult()))
	for _, r := range resp.GetResult() {
		payload := r.GetPayload()
		id := payload[payloadChunkID].GetStringValue()
		if id == "" {
			id = r.GetId().GetUuid()
		}
		hits = append(hits, hit{
			res: &VectorResult{ID: id, Score: float64(r.GetScore())},
			seq: payload[payloadSeq].GetIntegerValue(),
		})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].res.Score != hits[j].res.Score {
			return hits[i].res.Score > hits[j].res.Score
		}
		return hits[i].seq < hits[j].seq
	})
	out := make([]*VectorResult, len(hits))
	for i, h := range hits {
		out[i] = h.res
	}
	return out, nil
}

// Size returns the number of points added through this index.
func (q *QdrantIndex) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Close drops the collection. The shared connection stays open.
func (q *QdrantIndex) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := q.client.collections.Delete(q.client.outgoing(ctx), &pb.DeleteCollection{CollectionName: q.collection})
	if err != nil {
		return fmt.Errorf("delete collection %s: %w", q.collection, err)
	}
	return nil
}

// pointID maps a chunk id to a stable UUID, since qdrant only accepts
// UUIDs or unsigned integers as point ids.
func pointID(chunkID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("kotae:chunk:"+chunkID)).String()
}

// CollectionName builds a qdrant-safe collection name for a scope build.
func CollectionName(scope string, generation uint64) string {
	return scope + "_g" + strconv.FormatUint(generation, 10)
}
