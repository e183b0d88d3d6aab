package probe

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/melih/lighthouse-stack/internal/errdefs"
)

// MongoProber checks that the external database answers on the configured
// connection string before the API is started against it.
type MongoProber struct {
	Timeout time.Duration
}

func NewMongoProber(timeout time.Duration) *MongoProber {
	return &MongoProber{Timeout: timeout}
}

// ValidateURI rejects a connection string the driver cannot parse, without
// touching the network.
func ValidateURI(uri string) error {
	opts := options.Client().ApplyURI(uri)
	if err := opts.Validate(); err != nil {
		return fmt.Errorf("%w: %w", errdefs.ErrPreflightFailed, err)
	}
	return nil
}

// Ping connects with uri and pings the primary.
func (p *MongoProber) Ping(ctx context.Context, uri string) error {
	if err := ValidateURI(uri); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri).SetServerSelectionTimeout(p.Timeout))
	if err != nil {
		return fmt.Errorf("%w: %w", errdefs.ErrPreflightFailed, err)
	}
	defer func() { _ = client.Disconnect(context.Background()) }()

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("%w: %w", errdefs.ErrPreflightFailed, err)
	}
	return nil
}
