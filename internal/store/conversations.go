package store

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Conversations is the repository for chat aggregates.
type Conversations struct {
	col *mongo.Collection
}

func NewConversations(db *mongo.Database) *Conversations {
	return &Conversations{col: db.Collection("conversations")}
}

// FindByChatID returns the conversation for a chat, or ErrNotFound.
func (c *Conversations) FindByChatID(ctx context.Context, chatID string) (*Conversation, error) {
	var conv Conversation
	err := c.col.FindOne(ctx, bson.M{"chat_id": chatID}).Decode(&conv)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &conv, nil
}

// ApplyMessage folds a newly stored message into the conversation aggregate:
// appends the message id if absent, advances lastMessage/lastMessageAt, and
// increments the unread count for every participant except the sender.
// Upserts so a conversation created elsewhere but not yet synced still gets
// its aggregate.
func (c *Conversations) ApplyMessage(ctx context.Context, chatID string, participants []string, msg *Message) error {
	inc := bson.M{}
	for _, p := range participants {
		if p == "" || p == msg.SenderID {
			continue
		}
		inc["unread_count."+p] = 1
	}

	update := bson.M{
		"$addToSet": bson.M{"message_ids": msg.MessageID},
		"$set": bson.M{
			"last_message_id": msg.MessageID,
			"last_message_at": msg.DeliveredAt,
		},
		"$setOnInsert": bson.M{
			"chat_id":      chatID,
			"participants": participants,
			"created_at":   time.Now().UTC(),
		},
	}
	if len(inc) > 0 {
		update["$inc"] = inc
	}

	_, err := c.col.UpdateOne(ctx, bson.M{"chat_id": chatID}, update, options.Update().SetUpsert(true))
	return err
}

// MarkRead resets a participant's unread count to zero. Called when the
// participant has read the conversation, never from the storage path.
func (c *Conversations) MarkRead(ctx context.Context, chatID, userID string) error {
	_, err := c.col.UpdateOne(ctx,
		bson.M{"chat_id": chatID},
		bson.M{"$set": bson.M{"unread_count." + userID: 0}},
	)
	return err
}
