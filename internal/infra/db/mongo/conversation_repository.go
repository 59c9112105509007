package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"go.mongodb.org/mongo-driver/mongo/options"

	domainchat "marketchat/internal/domain/chat"
)

type ConversationRepository struct {
	col *mongo.Collection
}

// NewConversationRepository prepares the registry collection. The unique
// index on pair_key is what makes concurrent open calls for the same
// listing and pair converge on a single thread: the loser gets a duplicate
// key error which surfaces as ErrConversationExists.
func NewConversationRepository(db *mongo.Database) *ConversationRepository {
	col := db.Collection("chat_conversations")
	_, _ = col.Indexes().CreateOne(context.Background(), mongo.IndexModel{
		Keys:    bson.D{{Key: "pair_key", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	_, _ = col.Indexes().CreateOne(context.Background(), mongo.IndexModel{
		Keys: bson.D{{Key: "participants", Value: 1}, {Key: "last_message_at", Value: -1}},
	})
	return &ConversationRepository{col: col}
}

func (r *ConversationRepository) ByID(ctx context.Context, id domainchat.ConversationID) (*domainchat.Conversation, error) {
	var doc conversationDocument
	if err := r.col.FindOne(ctx, bson.M{"_id": string(id)}).Decode(&doc); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, domainchat.ErrConversationNotFound
		}
		return nil, err
	}
	return doc.toAggregate(), nil
}

func (r *ConversationRepository) ByPairKey(ctx context.Context, key string) (*domainchat.Conversation, error) {
	var doc conversationDocument
	if err := r.col.FindOne(ctx, bson.M{"pair_key": key}).Decode(&doc); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, domainchat.ErrConversationNotFound
		}
		return nil, err
	}
	return doc.toAggregate(), nil
}

func (r *ConversationRepository) Create(ctx context.Context, conv *domainchat.Conversation) error {
	_, err := r.col.InsertOne(ctx, newConversationDocument(conv))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domainchat.ErrConversationExists
		}
		return err
	}
	return nil
}

func (r *ConversationRepository) Save(ctx context.Context, conv *domainchat.Conversation) error {
	doc := newConversationDocument(conv)
	_, err := r.col.UpdateByID(ctx, doc.ID, bson.M{"$set": doc})
	return err
}

func (r *ConversationRepository) ListForUser(ctx context.Context, userID string) ([]*domainchat.Conversation, error) {
	opts := options.Find().SetSort(bson.D{{Key: "last_message_at", Value: -1}})
	cur, err := r.col.Find(ctx, bson.M{"participants": userID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []*domainchat.Conversation
	for cur.Next(ctx) {
		var doc conversationDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.toAggregate())
	}
	return out, cur.Err()
}

type conversationDocument struct {
	ID                 string   `bson:"_id"`
	PairKey            string   `bson:"pair_key"`
	ListingID          string   `bson:"listing_id"`
	Initiator          string   `bson:"initiator"`
	Owner              string   `bson:"owner"`
	Participants       []string `bson:"participants"`
	BlockedByInitiator bool     `bson:"blocked_by_initiator"`
	BlockedByOwner     bool     `bson:"blocked_by_owner"`
	LastMessageAt      int64    `bson:"last_message_at"`
	LastMessageText    string   `bson:"last_message_text"`
	LastSenderID       string   `bson:"last_sender_id"`
	CreatedAt          int64    `bson:"created_at"`
}

func newConversationDocument(c *domainchat.Conversation) conversationDocument {
	return conversationDocument{
		ID:                 string(c.ID),
		PairKey:            c.PairKey(),
		ListingID:          string(c.ListingID),
		Initiator:          c.Initiator,
		Owner:              c.Owner,
		Participants:       c.Participants(),
		BlockedByInitiator: c.BlockedByInitiator,
		BlockedByOwner:     c.BlockedByOwner,
		LastMessageAt:      c.LastMessageAt.UTC().UnixNano(),
		LastMessageText:    c.LastMessageText,
		LastSenderID:       c.LastSenderID,
		CreatedAt:          c.CreatedAt.UTC().UnixNano(),
	}
}

func (d conversationDocument) toAggregate() *domainchat.Conversation {
	return &domainchat.Conversation{
		ID:                 domainchat.ConversationID(d.ID),
		ListingID:          domainchat.ListingID(d.ListingID),
		Initiator:          d.Initiator,
		Owner:              d.Owner,
		BlockedByInitiator: d.BlockedByInitiator,
		BlockedByOwner:     d.BlockedByOwner,
		LastMessageAt:      nanosToTime(d.LastMessageAt),
		LastMessageText:    d.LastMessageText,
		LastSenderID:       d.LastSenderID,
		CreatedAt:          nanosToTime(d.CreatedAt),
	}
}

func nanosToTime(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
