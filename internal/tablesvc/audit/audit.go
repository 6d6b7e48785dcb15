// Package audit archives terminal session outcomes and admin resolutions
// to MongoDB for after-the-fact review. Archiving is best effort: a
// failed write is logged by the caller and never fails the core
// transaction.
package audit

import (
	"context"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cuehall/venue-services/internal/tablesvc/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const collectionName = "session_audit"

type Archiver struct {
	client *mongo.Client
	col    *mongo.Collection
}

type record struct {
	SessionID  string    `bson:"session_id"`
	TableID    int64     `bson:"table_id"`
	VenueID    int64     `bson:"venue_id"`
	Player1    int64     `bson:"player1"`
	Player2    int64     `bson:"player2,omitempty"`
	Status     string    `bson:"status"`
	Type       string    `bson:"type"`
	WinnerID   int64     `bson:"winner_id,omitempty"`
	ClaimantID int64     `bson:"claimant_id,omitempty"`
	Cost       string    `bson:"cost"`
	Note       string    `bson:"note,omitempty"`
	CreatedAt  time.Time `bson:"created_at"`
}

// Connect opens the audit database from MONGODB_URI and ensures the TTL
// index that expires records after AUDIT_TTL_DAYS (default 90).
func Connect(ctx context.Context) (*Archiver, error) {
	mongoURI := os.Getenv("MONGODB_URI")

	uri, err := url.Parse(mongoURI)
	if err != nil {
		return nil, err
	}
	dbName := strings.TrimPrefix(uri.Path, "/")

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(mongoURI))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, err
	}

	col := client.Database(dbName).Collection(collectionName)

	ttlDays := 90
	if s := os.Getenv("AUDIT_TTL_DAYS"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			ttlDays = n
		}
	}
	ttl := int32(ttlDays * 24 * 3600)
	_, err = col.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "created_at", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(ttl),
	})
	if err != nil {
		return nil, err
	}

	return &Archiver{client: client, col: col}, nil
}

func (a *Archiver) Close(ctx context.Context) error {
	return a.client.Disconnect(ctx)
}

// ArchiveSession stores the terminal state of a session with an optional
// admin note.
func (a *Archiver) ArchiveSession(ctx context.Context, g *models.GameSession, note string) error {
	_, err := a.col.InsertOne(ctx, record{
		SessionID:  g.ID,
		TableID:    g.TableID,
		VenueID:    g.VenueID,
		Player1:    g.Player1,
		Player2:    g.Player2,
		Status:     string(g.Status),
		Type:       string(g.Type),
		WinnerID:   g.WinnerID,
		ClaimantID: g.ClaimantID,
		Cost:       g.Cost.StringFixed(2),
		Note:       note,
		CreatedAt:  time.Now().UTC(),
	})
	return err
}
