package mongo

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	domainchat "marketchat/internal/domain/chat"
)

// UnreadRepository keeps one counter document per (user, conversation)
// pair. Counters are maintained incrementally and can drift if a write
// slips outside its transaction, so Replace lets the reconciliation pass
// overwrite them with values recomputed from the message store.
type UnreadRepository struct {
	col *mongo.Collection
}

func NewUnreadRepository(db *mongo.Database) *UnreadRepository {
	col := db.Collection("chat_unread")
	_, _ = col.Indexes().CreateOne(context.Background(), mongo.IndexModel{
		Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "conversation_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return &UnreadRepository{col: col}
}

func (r *UnreadRepository) Increment(ctx context.Context, userID string, conversationID domainchat.ConversationID, delta int64) error {
	filter := bson.M{"user_id": userID, "conversation_id": string(conversationID)}
	update := bson.M{
		"$inc":         bson.M{"count": delta},
		"$setOnInsert": counterKey(userID, conversationID),
	}
	_, err := r.col.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	return err
}

func (r *UnreadRepository) Zero(ctx context.Context, userID string, conversationID domainchat.ConversationID) error {
	_, err := r.col.DeleteOne(ctx, bson.M{"user_id": userID, "conversation_id": string(conversationID)})
	return err
}

func (r *UnreadRepository) Count(ctx context.Context, userID string, conversationID domainchat.ConversationID) (int64, error) {
	var doc counterDocument
	err := r.col.FindOne(ctx, bson.M{"user_id": userID, "conversation_id": string(conversationID)}).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return 0, nil
		}
		return 0, err
	}
	if doc.Count < 0 {
		return 0, nil
	}
	return doc.Count, nil
}

func (r *UnreadRepository) CountAll(ctx context.Context, userID string) (map[domainchat.ConversationID]int64, error) {
	cur, err := r.col.Find(ctx, bson.M{"user_id": userID})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	out := map[domainchat.ConversationID]int64{}
	for cur.Next(ctx) {
		var doc counterDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		if doc.Count <= 0 {
			continue
		}
		out[domainchat.ConversationID(doc.ConversationID)] = doc.Count
	}
	return out, cur.Err()
}

func (r *UnreadRepository) Aggregate(ctx context.Context, userID string) (int64, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"user_id": userID, "count": bson.M{"$gt": 0}}}},
		{{Key: "$group", Value: bson.M{"_id": nil, "total": bson.M{"$sum": "$count"}}}},
	}
	cur, err := r.col.Aggregate(ctx, pipeline)
	if err != nil {
		return 0, err
	}
	defer cur.Close(ctx)
	if cur.Next(ctx) {
		var row struct {
			Total int64 `bson:"total"`
		}
		if err := cur.Decode(&row); err != nil {
			return 0, err
		}
		return row.Total, nil
	}
	return 0, cur.Err()
}

func (r *UnreadRepository) Replace(ctx context.Context, userID string, counts map[domainchat.ConversationID]int64) error {
	if _, err := r.col.DeleteMany(ctx, bson.M{"user_id": userID}); err != nil {
		return err
	}
	var docs []any
	for conv, count := range counts {
		if count <= 0 {
			continue
		}
		docs = append(docs, counterDocument{
			UserID:         userID,
			ConversationID: string(conv),
			Count:          count,
		})
	}
	if len(docs) == 0 {
		return nil
	}
	_, err := r.col.InsertMany(ctx, docs)
	return err
}

type counterDocument struct {
	UserID         string `bson:"user_id"`
	ConversationID string `bson:"conversation_id"`
	Count          int64  `bson:"count"`
}

func counterKey(userID string, conversationID domainchat.ConversationID) bson.M {
	return bson.M{"user_id": userID, "conversation_id": string(conversationID)}
}
