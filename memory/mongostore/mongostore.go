// Package mongostore persists the Memory Bus's Shared and Semantic tiers as
// canonical documents in MongoDB (spec §4.8: "Shared and Semantic are
// persisted as canonical JSON-like documents after every mutation"),
// matching spec §6's shared.json/semantic.json conceptual layout.
package mongostore

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const (
	defaultSharedCollection   = "shared_memory"
	defaultSemanticCollection = "semantic_memory"
	defaultTimeout            = 5 * time.Second
)

// SharedDocument is the canonical Shared-tier record (spec §6 shared.json:
// `{ key: {value, version, source, created_at, updated_at} }`).
type SharedDocument struct {
	Key       string    `bson:"_id"`
	Value     any       `bson:"value"`
	Version   int       `bson:"version"`
	Source    string    `bson:"source"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// SemanticDocument is the canonical Semantic-tier record (spec §6
// semantic.json).
type SemanticDocument struct {
	ID                 string    `bson:"_id"`
	PatternType        string    `bson:"pattern_type"`
	Description        string    `bson:"description"`
	InputSignature     string    `bson:"input_signature"`
	RecommendedAction  string    `bson:"recommended_action"`
	Confidence         float64   `bson:"confidence"`
	EvidenceIDs        []string  `bson:"evidence_ids"`
	CreatedAt          time.Time `bson:"created_at"`
	LastStrengthenedAt time.Time `bson:"last_strengthened_at"`
}

// Options configures the Store.
type Options struct {
	Client             *mongodriver.Client
	Database           string
	SharedCollection   string
	SemanticCollection string
	Timeout            time.Duration
}

// Store persists canonical Shared/Semantic documents to MongoDB.
type Store struct {
	shared   *mongodriver.Collection
	semantic *mongodriver.Collection
	timeout  time.Duration
}

// New builds a Store from an injected Mongo client, mirroring the teacher's
// Mongo memory store wiring (features/memory/mongo).
func New(opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("mongostore: client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("mongostore: database name is required")
	}
	sharedColl := opts.SharedCollection
	if sharedColl == "" {
		sharedColl = defaultSharedCollection
	}
	semanticColl := opts.SemanticCollection
	if semanticColl == "" {
		semanticColl = defaultSemanticCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	db := opts.Client.Database(opts.Database)
	return &Store{
		shared:   db.Collection(sharedColl),
		semantic: db.Collection(semanticColl),
		timeout:  timeout,
	}, nil
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, s.timeout)
}

// PutShared upserts the canonical document for key.
func (s *Store) PutShared(ctx context.Context, doc SharedDocument) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	filter := bson.M{"_id": doc.Key}
	update := bson.M{"$set": doc}
	_, err := s.shared.UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true))
	return err
}

// GetShared loads the canonical document for key.
func (s *Store) GetShared(ctx context.Context, key string) (SharedDocument, bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var doc SharedDocument
	err := s.shared.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if errors.Is(err, mongodriver.ErrNoDocuments) {
		return SharedDocument{}, false, nil
	}
	if err != nil {
		return SharedDocument{}, false, err
	}
	return doc, true, nil
}

// PutSemantic upserts the canonical document for a pattern record.
func (s *Store) PutSemantic(ctx context.Context, doc SemanticDocument) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	filter := bson.M{"_id": doc.ID}
	update := bson.M{"$set": doc}
	_, err := s.semantic.UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true))
	return err
}

// GetSemantic loads the canonical document for a pattern id.
func (s *Store) GetSemantic(ctx context.Context, id string) (SemanticDocument, bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var doc SemanticDocument
	err := s.semantic.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongodriver.ErrNoDocuments) {
		return SemanticDocument{}, false, nil
	}
	if err != nil {
		return SemanticDocument{}, false, err
	}
	return doc, true, nil
}
