// Package semantic mirrors discovered item vectors into Qdrant for
// similarity search with source and recency filters.
package semantic

import (
	"context"
	"fmt"
	"time"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/WessleyAI/leadsignal/engine/domain"
)

type pointsClient interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeletePoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
}

type collectionsClient interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeleteCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// ItemIndex is the sole owner of all Qdrant operations.
type ItemIndex struct {
	conn        *grpc.ClientConn
	points      pointsClient
	collections collectionsClient
	collection  string
}

// New creates an ItemIndex connected to Qdrant at the given gRPC address.
func New(addr string, collection string) (*ItemIndex, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w", addr, err)
	}
	return &ItemIndex{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
	}, nil
}

// NewWithClients creates an ItemIndex over existing clients.
func NewWithClients(points pointsClient, collections collectionsClient, collection string) *ItemIndex {
	return &ItemIndex{points: points, collections: collections, collection: collection}
}

// Close closes the underlying gRPC connection.
func (x *ItemIndex) Close() error {
	if x.conn == nil {
		return nil
	}
	return x.conn.Close()
}

// EnsureCollection creates the collection if it doesn't exist.
func (x *ItemIndex) EnsureCollection(ctx context.Context, dims int) error {
	list, err := x.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("semantic: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == x.collection {
			return nil
		}
	}

	_, err = x.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: x.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dims),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: create collection %s: %w", x.collection, err)
	}
	return nil
}

// DeleteCollection deletes the collection.
func (x *ItemIndex) DeleteCollection(ctx context.Context) error {
	_, err := x.collections.Delete(ctx, &pb.DeleteCollection{
		CollectionName: x.collection,
	})
	if err != nil {
		return fmt.Errorf("semantic: delete collection %s: %w", x.collection, err)
	}
	return nil
}

// Upsert indexes the items that carry an embedding and returns how many were
// written. Items without a vector are skipped.
func (x *ItemIndex) Upsert(ctx context.Context, items []domain.DiscoveredItem) (int, error) {
	points := make([]*pb.PointStruct, 0, len(items))
	for _, it := range items {
		if len(it.Embedding) == 0 {
			continue
		}
		points = append(points, &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(it.ID)},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: it.Embedding},
				},
			},
			Payload: payloadFor(it),
		})
	}
	if len(points) == 0 {
		return 0, nil
	}

	wait := true
	_, err := x.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: x.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return 0, fmt.Errorf("semantic: upsert %d points: %w", len(points), err)
	}
	return len(points), nil
}

// Search returns the indexed items nearest to vec, restricted by f.
func (x *ItemIndex) Search(ctx context.Context, vec []float32, f domain.ItemFilter) ([]domain.ItemMatch, error) {
	if len(vec) == 0 {
		return nil, domain.NewValidationError("embedding", "", domain.ErrInvalid)
	}
	if f.Limit <= 0 {
		f.Limit = 10
	}
	req := &pb.SearchPoints{
		CollectionName: x.collection,
		Vector:         vec,
		Limit:          uint64(f.Limit),
		Filter:         filterFor(f),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}

	resp, err := x.points.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("semantic: search: %w", err)
	}

	out := make([]domain.ItemMatch, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		out[i] = domain.ItemMatch{
			Item:       itemFromPayload(r.GetPayload()),
			Similarity: float64(r.GetScore()),
		}
	}
	return out, nil
}

// DeleteOlderThan removes points for items created before cutoff.
func (x *ItemIndex) DeleteOlderThan(ctx context.Context, cutoff time.Time) error {
	lt := float64(cutoff.Unix())
	wait := true
	_, err := x.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: x.collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{
				Filter: &pb.Filter{
					Must: []*pb.Condition{fieldRange(keyCreatedAt, &pb.Range{Lt: &lt})},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: delete before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return nil
}

// filterFor translates an ItemFilter into Qdrant conditions, or nil.
func filterFor(f domain.ItemFilter) *pb.Filter {
	var must []*pb.Condition
	if len(f.SourceIDs) > 0 {
		must = append(must, fieldAnyOf(keySourceID, f.SourceIDs))
	}
	if !f.Since.IsZero() {
		gte := float64(f.Since.Unix())
		must = append(must, fieldRange(keyCreatedAt, &pb.Range{Gte: &gte}))
	}
	if len(must) == 0 {
		return nil
	}
	return &pb.Filter{Must: must}
}

func fieldAnyOf(key string, values []string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key: key,
				Match: &pb.Match{
					MatchValue: &pb.Match_Keywords{Keywords: &pb.RepeatedStrings{Strings: values}},
				},
			},
		},
	}
}

func fieldRange(key string, r *pb.Range) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{Key: key, Range: r},
		},
	}
}
