package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	domainchat "marketchat/internal/domain/chat"
)

type MessageRepository struct {
	col *mongo.Collection
}

func NewMessageRepository(db *mongo.Database) *MessageRepository {
	col := db.Collection("chat_messages")
	_, _ = col.Indexes().CreateOne(context.Background(), mongo.IndexModel{
		Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "created_at", Value: 1}, {Key: "_id", Value: 1}},
	})
	_, _ = col.Indexes().CreateOne(context.Background(), mongo.IndexModel{
		Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "receiver_id", Value: 1}, {Key: "is_read", Value: 1}},
	})
	return &MessageRepository{col: col}
}

func (r *MessageRepository) Insert(ctx context.Context, msg *domainchat.Message) error {
	_, err := r.col.InsertOne(ctx, newMessageDocument(msg))
	return err
}

func (r *MessageRepository) ListPage(ctx context.Context, conversationID domainchat.ConversationID, cursor string, limit int) (domainchat.MessagePage, error) {
	at, id, err := domainchat.ParseCursor(cursor)
	if err != nil {
		return domainchat.MessagePage{}, err
	}
	filter := bson.M{"conversation_id": string(conversationID)}
	if cursor != "" {
		// Rows strictly after the cursor position in (created_at, _id) order.
		nanos := at.UnixNano()
		filter["$or"] = bson.A{
			bson.M{"created_at": bson.M{"$gt": nanos}},
			bson.M{"created_at": nanos, "_id": bson.M{"$gt": id}},
		}
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}).
		SetLimit(int64(limit))
	cur, err := r.col.Find(ctx, filter, opts)
	if err != nil {
		return domainchat.MessagePage{}, err
	}
	defer cur.Close(ctx)
	var page domainchat.MessagePage
	for cur.Next(ctx) {
		var doc messageDocument
		if err := cur.Decode(&doc); err != nil {
			return domainchat.MessagePage{}, err
		}
		page.Items = append(page.Items, doc.toAggregate())
	}
	if err := cur.Err(); err != nil {
		return domainchat.MessagePage{}, err
	}
	if limit > 0 && len(page.Items) == limit {
		last := page.Items[len(page.Items)-1]
		page.NextCursor = domainchat.EncodeCursor(last.CreatedAt, string(last.ID))
	}
	return page, nil
}

func (r *MessageRepository) MarkRead(ctx context.Context, conversationID domainchat.ConversationID, readerID string, at time.Time) (int64, error) {
	filter := bson.M{
		"conversation_id": string(conversationID),
		"receiver_id":     readerID,
		"is_read":         false,
	}
	update := bson.M{"$set": bson.M{"is_read": true, "read_at": at.UTC().UnixNano()}}
	res, err := r.col.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

func (r *MessageRepository) CountUnread(ctx context.Context, userID string, conversationID domainchat.ConversationID) (int64, error) {
	return r.col.CountDocuments(ctx, bson.M{
		"conversation_id": string(conversationID),
		"receiver_id":     userID,
		"is_read":         false,
	})
}

func (r *MessageRepository) UnreadByConversation(ctx context.Context, userID string) (map[domainchat.ConversationID]int64, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"receiver_id": userID, "is_read": false}}},
		{{Key: "$group", Value: bson.M{"_id": "$conversation_id", "count": bson.M{"$sum": 1}}}},
	}
	cur, err := r.col.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	out := map[domainchat.ConversationID]int64{}
	for cur.Next(ctx) {
		var row struct {
			ID    string `bson:"_id"`
			Count int64  `bson:"count"`
		}
		if err := cur.Decode(&row); err != nil {
			return nil, err
		}
		out[domainchat.ConversationID(row.ID)] = row.Count
	}
	return out, cur.Err()
}

type messageDocument struct {
	ID             string `bson:"_id"`
	ConversationID string `bson:"conversation_id"`
	SenderID       string `bson:"sender_id"`
	ReceiverID     string `bson:"receiver_id"`
	ListingID      string `bson:"listing_id"`
	Body           string `bson:"body"`
	IsRead         bool   `bson:"is_read"`
	CreatedAt      int64  `bson:"created_at"`
}

func newMessageDocument(m *domainchat.Message) messageDocument {
	return messageDocument{
		ID:             string(m.ID),
		ConversationID: string(m.ConversationID),
		SenderID:       m.SenderID,
		ReceiverID:     m.ReceiverID,
		ListingID:      string(m.ListingID),
		Body:           m.Body,
		IsRead:         m.IsRead,
		CreatedAt:      m.CreatedAt.UTC().UnixNano(),
	}
}

func (d messageDocument) toAggregate() *domainchat.Message {
	return &domainchat.Message{
		ID:             domainchat.MessageID(d.ID),
		ConversationID: domainchat.ConversationID(d.ConversationID),
		SenderID:       d.SenderID,
		ReceiverID:     d.ReceiverID,
		ListingID:      domainchat.ListingID(d.ListingID),
		Body:           d.Body,
		IsRead:         d.IsRead,
		CreatedAt:      nanosToTime(d.CreatedAt),
	}
}
