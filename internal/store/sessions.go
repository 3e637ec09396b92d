package store

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Sessions is the repository for per-device presence records.
type Sessions struct {
	col *mongo.Collection
}

func NewSessions(db *mongo.Database) *Sessions {
	return &Sessions{col: db.Collection("device_sessions")}
}

// Upsert records a device's online flag and activity timestamps. One
// document per (user, device) pair.
func (s *Sessions) Upsert(ctx context.Context, userID, deviceID string, online bool) error {
	if deviceID == "" {
		deviceID = "default"
	}
	now := time.Now().UTC()

	set := bson.M{
		"online":        online,
		"last_activity": now,
	}
	if !online {
		set["last_seen"] = now
	}

	_, err := s.col.UpdateOne(ctx,
		bson.M{"user_id": userID, "device_id": deviceID},
		bson.M{
			"$set":         set,
			"$setOnInsert": bson.M{"user_id": userID, "device_id": deviceID},
		},
		options.Update().SetUpsert(true),
	)
	return err
}
