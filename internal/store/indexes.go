package store

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// EnsureIndexes configures collection indexes. Called on startup from main
// after Mongo has connected. The unique index on messages.message_id is what
// backs idempotent storage under concurrent redelivery.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	messageIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "message_id", Value: 1}},
			Options: options.Index().SetName("idx_message_id").SetUnique(true),
		},
		{
			Keys: bson.D{
				{Key: "chat_id", Value: 1},
				{Key: "created_at", Value: -1},
			},
			Options: options.Index().SetName("idx_chat_created"),
		},
	}
	if _, err := db.Collection("messages").Indexes().CreateMany(ctx, messageIndexes); err != nil {
		return err
	}

	if _, err := db.Collection("conversations").Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "chat_id", Value: 1}},
		Options: options.Index().SetName("idx_conversation_chat").SetUnique(true),
	}); err != nil {
		return err
	}

	_, err := db.Collection("device_sessions").Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "user_id", Value: 1},
			{Key: "device_id", Value: 1},
		},
		Options: options.Index().SetName("idx_user_device").SetUnique(true),
	})
	return err
}
