package store

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Messages is the repository for persisted message documents.
type Messages struct {
	col  *mongo.Collection
	logs *mongo.Collection
}

func NewMessages(db *mongo.Database) *Messages {
	return &Messages{
		col:  db.Collection("messages"),
		logs: db.Collection("message_logs"),
	}
}

// FindByMessageID returns the message with the given producer-assigned id,
// or ErrNotFound.
func (m *Messages) FindByMessageID(ctx context.Context, messageID string) (*Message, error) {
	var msg Message
	err := m.col.FindOne(ctx, bson.M{"message_id": messageID}).Decode(&msg)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &msg, nil
}

// Insert creates a message document. The unique index on message_id turns a
// concurrent duplicate insert into a duplicate-key error; IsDuplicate lets
// callers treat that as already-stored.
func (m *Messages) Insert(ctx context.Context, msg *Message) error {
	if msg.ReadBy == nil {
		msg.ReadBy = []ReadEntry{}
	}
	_, err := m.col.InsertOne(ctx, msg)
	return err
}

// IsDuplicate reports whether err is a unique-index violation.
func IsDuplicate(err error) bool {
	return mongo.IsDuplicateKeyError(err)
}

// AppendReadBy adds a read entry for the user unless one already exists.
// Returns false when the user had already read the message (idempotent
// no-op) and ErrNotFound when the message does not exist.
func (m *Messages) AppendReadBy(ctx context.Context, messageID string, entry ReadEntry) (bool, error) {
	res, err := m.col.UpdateOne(ctx,
		bson.M{
			"message_id":      messageID,
			"read_by.user_id": bson.M{"$ne": entry.UserID},
		},
		bson.M{"$push": bson.M{"read_by": entry}},
	)
	if err != nil {
		return false, err
	}
	if res.ModifiedCount > 0 {
		return true, nil
	}
	// Either the message is gone or the user already read it.
	count, err := m.col.CountDocuments(ctx, bson.M{"message_id": messageID}, options.Count().SetLimit(1))
	if err != nil {
		return false, err
	}
	if count == 0 {
		return false, ErrNotFound
	}
	return false, nil
}

// InsertLog writes the analytics side-record for a stored message.
func (m *Messages) InsertLog(ctx context.Context, msg *Message) error {
	_, err := m.logs.InsertOne(ctx, MessageLog{
		MessageID: msg.MessageID,
		ChatID:    msg.ChatID,
		SenderID:  msg.SenderID,
		Type:      msg.Type,
		LoggedAt:  time.Now().UTC(),
	})
	return err
}
