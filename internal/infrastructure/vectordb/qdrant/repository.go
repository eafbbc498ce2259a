// Package qdrant provides a FactIndex implementation using Qdrant.
package qdrant

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"github.com/ersonp/continuity/internal/domain/entities"
	"github.com/ersonp/continuity/internal/domain/ports"
	"github.com/ersonp/continuity/internal/infrastructure/config"
)

// pointNamespace derives stable point UUIDs from book and fact IDs.
var pointNamespace = uuid.MustParse("6f1c3c1e-6a52-4c1e-9a43-2a7f0d7c9b10")

// Repository implements FactIndex and CollectionManager using Qdrant.
// All books share one collection; points carry their book ID in the payload.
type Repository struct {
	client     pb.CollectionsClient
	points     pb.PointsClient
	collection string
	conn       *grpc.ClientConn
}

var (
	_ ports.FactIndex         = (*Repository)(nil)
	_ ports.CollectionManager = (*Repository)(nil)
)

// NewRepository creates a new Qdrant repository.
func NewRepository(cfg config.QdrantConfig) (*Repository, error) {
	if cfg.Host == "" {
		return nil, errors.New("qdrant host is required")
	}
	if cfg.Collection == "" {
		return nil, errors.New("qdrant collection is required")
	}
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	opts := []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	if cfg.APIKey != "" {
		opts = append(opts, grpc.WithUnaryInterceptor(apiKeyInterceptor(cfg.APIKey)))
	}

	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to qdrant: %w", err)
	}

	r := newRepository(pb.NewCollectionsClient(conn), pb.NewPointsClient(conn), cfg.Collection)
	r.conn = conn
	return r, nil
}

func newRepository(collections pb.CollectionsClient, points pb.PointsClient, collection string) *Repository {
	return &Repository{
		client:     collections,
		points:     points,
		collection: collection,
	}
}

// apiKeyInterceptor attaches the Qdrant API key to every call.
func apiKeyInterceptor(key string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = metadata.AppendToOutgoingContext(ctx, "api-key", key)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// Close closes the gRPC connection.
func (r *Repository) Close() error {
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}

// EnsureCollection creates the collection and its book_id index if they don't exist.
func (r *Repository) EnsureCollection(ctx context.Context, vectorSize uint64) error {
	_, err := r.client.Get(ctx, &pb.GetCollectionInfoRequest{
		CollectionName: r.collection,
	})
	if err == nil {
		return nil
	}

	_, err = r.client.Create(ctx, &pb.CreateCollection{
		CollectionName: r.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     vectorSize,
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("creating collection: %w", err)
	}

	_, err = r.points.CreateFieldIndex(ctx, &pb.CreateFieldIndexCollection{
		CollectionName: r.collection,
		FieldName:      "book_id",
		FieldType:      pb.PtrOf(pb.FieldType_FieldTypeKeyword),
	})
	if err != nil {
		return fmt.Errorf("creating book_id index: %w", err)
	}

	return nil
}

// DeleteCollection removes the collection and all its data.
func (r *Repository) DeleteCollection(ctx context.Context) error {
	_, err := r.client.Delete(ctx, &pb.DeleteCollection{
		CollectionName: r.collection,
	})
	if err != nil {
		return fmt.Errorf("deleting collection: %w", err)
	}
	return nil
}

// PointID returns the Qdrant point ID of a fact.
func PointID(bookID, factID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(bookID+"/"+factID)).String()
}

// Upsert stores facts with their embeddings.
func (r *Repository) Upsert(ctx context.Context, bookID string, facts []entities.StoryFact, embeddings [][]float32) error {
	if len(facts) != len(embeddings) {
		return fmt.Errorf("upserting points: %d facts but %d embeddings", len(facts), len(embeddings))
	}
	if len(facts) == 0 {
		return nil
	}

	points := make([]*pb.PointStruct, 0, len(facts))
	for i := range facts {
		fact := &facts[i]
		point := &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{
					Uuid: PointID(bookID, fact.ID),
				},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{
						Data: embeddings[i],
					},
				},
			},
			Payload: map[string]*pb.Value{
				"book_id":    {Kind: &pb.Value_StringValue{StringValue: bookID}},
				"fact_id":    {Kind: &pb.Value_StringValue{StringValue: fact.ID}},
				"subject":    {Kind: &pb.Value_StringValue{StringValue: fact.Subject}},
				"attribute":  {Kind: &pb.Value_StringValue{StringValue: fact.Attribute}},
				"value":      {Kind: &pb.Value_StringValue{StringValue: fact.Value}},
				"category":   {Kind: &pb.Value_StringValue{StringValue: string(fact.Category)}},
				"chapter_id": {Kind: &pb.Value_StringValue{StringValue: fact.EstablishedIn.ChapterID}},
			},
		}
		points = append(points, point)
	}

	// Wait so that searches issued right after a commit see the points.
	_, err := r.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: r.collection,
		Wait:           pb.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("upserting points: %w", err)
	}

	return nil
}

// Search returns the IDs of the book's facts closest to embedding.
func (r *Repository) Search(ctx context.Context, bookID string, embedding []float32, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}
	resp, err := r.points.Search(ctx, &pb.SearchPoints{
		CollectionName: r.collection,
		Vector:         embedding,
		Limit:          uint64(limit),
		Filter:         bookFilter(bookID),
		WithPayload: &pb.WithPayloadSelector{
			SelectorOptions: &pb.WithPayloadSelector_Include{
				Include: &pb.PayloadIncludeSelector{Fields: []string{"fact_id"}},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("searching points: %w", err)
	}

	ids := make([]string, 0, len(resp.GetResult()))
	for _, point := range resp.GetResult() {
		if id := getStringValue(point.GetPayload(), "fact_id"); id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// DeleteBook removes every indexed fact of a book.
func (r *Repository) DeleteBook(ctx context.Context, bookID string) error {
	_, err := r.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: r.collection,
		Wait:           pb.PtrOf(true),
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{
				Filter: bookFilter(bookID),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("deleting points of book %s: %w", bookID, err)
	}

	return nil
}

// Count returns the number of indexed facts of a book.
func (r *Repository) Count(ctx context.Context, bookID string) (uint64, error) {
	resp, err := r.points.Count(ctx, &pb.CountPoints{
		CollectionName: r.collection,
		Filter:         bookFilter(bookID),
		Exact:          pb.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("counting points: %w", err)
	}
	return resp.GetResult().GetCount(), nil
}

func bookFilter(bookID string) *pb.Filter {
	return &pb.Filter{
		Must: []*pb.Condition{
			{
				ConditionOneOf: &pb.Condition_Field{
					Field: &pb.FieldCondition{
						Key: "book_id",
						Match: &pb.Match{
							MatchValue: &pb.Match_Keyword{
								Keyword: bookID,
							},
						},
					},
				},
			},
		},
	}
}

func getStringValue(payload map[string]*pb.Value, key string) string {
	if v, ok := payload[key]; ok {
		return v.GetStringValue()
	}
	return ""
}
