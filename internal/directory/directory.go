// Package directory implements Mongo-backed reference implementations of
// the UserDirectory and LiveTVCatalog collaborator ports, following the
// collection-wrapper pattern used throughout
// services/torrent-engine/internal/repository/mongo (a thin struct around
// one *mongo.Collection, bson-tagged document types, ErrNotFound mapped
// from mongo.ErrNoDocuments).
package directory

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/discoduckasaurus/duckflix-lite-sub001/internal/domain"
	"github.com/discoduckasaurus/duckflix-lite-sub001/internal/domain/ports"
)

// Connect dials Mongo with the given client options, mirroring the
// teacher's own repository.Connect helper.
func Connect(ctx context.Context, uri string, extra ...*options.ClientOptions) (*mongo.Client, error) {
	opts := append([]*options.ClientOptions{options.Client().ApplyURI(uri)}, extra...)
	return mongo.Connect(ctx, opts...)
}

// userDoc is the persisted shape of one user's debrid key, last bandwidth
// measurement, and sub-account parent linkage.
type userDoc struct {
	ID            string    `bson:"_id"`
	DebridKey     string    `bson:"debridKey"`
	BandwidthMbps float64   `bson:"bandwidthMbps"`
	BandwidthAt   time.Time `bson:"bandwidthAt"`
	ParentUserID  string    `bson:"parentUserId,omitempty"`
}

// UserRepository implements ports.UserDirectory.
type UserRepository struct {
	collection *mongo.Collection
}

var _ ports.UserDirectory = (*UserRepository)(nil)

func NewUserRepository(client *mongo.Client, dbName string) *UserRepository {
	return &UserRepository{collection: client.Database(dbName).Collection("users")}
}

func (r *UserRepository) DebridKey(ctx context.Context, userID string) (string, error) {
	var doc userDoc
	if err := r.collection.FindOne(ctx, bson.M{"_id": userID}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return "", domain.ErrNotFound
		}
		return "", err
	}
	return doc.DebridKey, nil
}

// Bandwidth returns the user's own stored measurement; the parent
// account's measurement is not consulted.
func (r *UserRepository) Bandwidth(ctx context.Context, userID string) (ports.BandwidthMeasurement, error) {
	var doc userDoc
	if err := r.collection.FindOne(ctx, bson.M{"_id": userID}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return ports.BandwidthMeasurement{}, domain.ErrNotFound
		}
		return ports.BandwidthMeasurement{}, err
	}
	return ports.BandwidthMeasurement{Mbps: doc.BandwidthMbps, MeasuredAt: doc.BandwidthAt}, nil
}

func (r *UserRepository) ParentOf(ctx context.Context, userID string) (string, bool, error) {
	var doc userDoc
	if err := r.collection.FindOne(ctx, bson.M{"_id": userID}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return "", false, domain.ErrNotFound
		}
		return "", false, err
	}
	return doc.ParentUserID, doc.ParentUserID != "", nil
}

// channelDoc is the persisted shape of one live-TV channel's ordered
// upstream source URLs.
type channelDoc struct {
	ID      string   `bson:"_id"`
	Sources []string `bson:"sources"`
}

// ChannelRepository implements ports.LiveTVCatalog.
type ChannelRepository struct {
	collection *mongo.Collection
}

var _ ports.LiveTVCatalog = (*ChannelRepository)(nil)

func NewChannelRepository(client *mongo.Client, dbName string) *ChannelRepository {
	return &ChannelRepository{collection: client.Database(dbName).Collection("liveTvChannels")}
}

func (r *ChannelRepository) SourceURLs(ctx context.Context, channelID string) ([]string, error) {
	var doc channelDoc
	if err := r.collection.FindOne(ctx, bson.M{"_id": channelID}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return doc.Sources, nil
}

// EnsureIndexes builds the indexes both repositories rely on.
func EnsureIndexes(ctx context.Context, userRepo *UserRepository, channelRepo *ChannelRepository) error {
	if _, err := userRepo.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "parentUserId", Value: 1}},
	}); err != nil {
		return err
	}
	_, err := channelRepo.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "_id", Value: 1}},
	})
	return err
}
