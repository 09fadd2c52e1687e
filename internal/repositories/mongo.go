package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/kindred/backend/internal/models"
)

const (
	connectionsCollection = "connections"
	meetingsCollection    = "meetings"
	messagesCollection    = "messages"
	reviewsCollection     = "reviews"
)

type connectionDocument struct {
	ID        string    `bson:"_id"`
	Requester string    `bson:"requester"`
	Recipient string    `bson:"recipient"`
	PairKey   string    `bson:"pairKey"`
	Status    string    `bson:"status"`
	CreatedAt time.Time `bson:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt"`
}

func (d connectionDocument) model() models.Connection {
	return models.Connection{
		ID:        d.ID,
		Requester: d.Requester,
		Recipient: d.Recipient,
		Status:    models.ConnectionStatus(d.Status),
		CreatedAt: d.CreatedAt.UTC(),
		UpdatedAt: d.UpdatedAt.UTC(),
	}
}

type acceptanceDocument struct {
	User       string    `bson:"user"`
	AcceptedAt time.Time `bson:"acceptedAt"`
}

type meetingDocument struct {
	ID           string               `bson:"_id"`
	ConnectionID string               `bson:"connectionId"`
	ProposedBy   string               `bson:"proposedBy"`
	DateTime     time.Time            `bson:"dateTime"`
	Location     string               `bson:"location"`
	Details      string               `bson:"details,omitempty"`
	Status       string               `bson:"status"`
	AcceptedBy   []acceptanceDocument `bson:"acceptedBy"`
	CreatedAt    time.Time            `bson:"createdAt"`
	UpdatedAt    time.Time            `bson:"updatedAt"`
}

func newMeetingDocument(m models.Meeting) meetingDocument {
	doc := meetingDocument{
		ID:           m.ID,
		ConnectionID: m.ConnectionID,
		ProposedBy:   m.ProposedBy,
		DateTime:     m.DateTime,
		Location:     m.Location,
		Details:      m.Details,
		Status:       string(m.Status),
		AcceptedBy:   []acceptanceDocument{},
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
	for _, a := range m.AcceptedBy.Entries() {
		doc.AcceptedBy = append(doc.AcceptedBy, acceptanceDocument{User: a.UserID, AcceptedAt: a.AcceptedAt})
	}
	return doc
}

func (d meetingDocument) model() models.Meeting {
	acceptances := make([]models.Acceptance, 0, len(d.AcceptedBy))
	for _, a := range d.AcceptedBy {
		acceptances = append(acceptances, models.Acceptance{UserID: a.User, AcceptedAt: a.AcceptedAt.UTC()})
	}
	return models.Meeting{
		ID:           d.ID,
		ConnectionID: d.ConnectionID,
		ProposedBy:   d.ProposedBy,
		DateTime:     d.DateTime.UTC(),
		Location:     d.Location,
		Details:      d.Details,
		Status:       models.MeetingStatus(d.Status),
		AcceptedBy:   models.NewAcceptanceSet(acceptances...),
		CreatedAt:    d.CreatedAt.UTC(),
		UpdatedAt:    d.UpdatedAt.UTC(),
	}
}

// EnsureMongoIndexes creates the indexes the Mongo stores rely on. The unique
// pairKey index is what makes connection creation race-safe.
func EnsureMongoIndexes(ctx context.Context, database *mongo.Database) error {
	_, err := database.Collection(connectionsCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "pairKey", Value: 1}}, Options: options.Index().SetUnique(true).SetName("pair_key_unique")},
		{Keys: bson.D{{Key: "requester", Value: 1}, {Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "recipient", Value: 1}, {Key: "createdAt", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("create connection indexes: %w", err)
	}

	_, err = database.Collection(meetingsCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "connectionId", Value: 1}, {Key: "dateTime", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("create meeting indexes: %w", err)
	}

	_, err = database.Collection(messagesCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "connectionId", Value: 1}, {Key: "createdAt", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("create message indexes: %w", err)
	}

	_, err = database.Collection(reviewsCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "reviewer", Value: 1}, {Key: "reviewed", Value: 1}}, Options: options.Index().SetUnique(true).SetName("reviewer_reviewed_unique")},
		{Keys: bson.D{{Key: "reviewed", Value: 1}, {Key: "createdAt", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("create review indexes: %w", err)
	}

	return nil
}

// MongoConnectionStore keeps connections as documents in MongoDB.
type MongoConnectionStore struct {
	collection *mongo.Collection
}

// NewMongoConnectionStore constructs a connection store over the given database.
func NewMongoConnectionStore(database *mongo.Database) *MongoConnectionStore {
	return &MongoConnectionStore{collection: database.Collection(connectionsCollection)}
}

// Create inserts the connection, mapping a pairKey collision to ErrConflict.
func (s *MongoConnectionStore) Create(ctx context.Context, conn models.Connection) error {
	_, err := s.collection.InsertOne(ctx, connectionDocument{
		ID:        conn.ID,
		Requester: conn.Requester,
		Recipient: conn.Recipient,
		PairKey:   models.PairKey(conn.Requester, conn.Recipient),
		Status:    string(conn.Status),
		CreatedAt: conn.CreatedAt,
		UpdatedAt: conn.UpdatedAt,
	})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert connection: %w", err)
	}
	return nil
}

// FindByID loads a connection by identifier.
func (s *MongoConnectionStore) FindByID(ctx context.Context, id string) (models.Connection, error) {
	return s.findOne(ctx, bson.M{"_id": id})
}

// FindByPair loads the connection for the unordered pair {a, b}.
func (s *MongoConnectionStore) FindByPair(ctx context.Context, a, b string) (models.Connection, error) {
	return s.findOne(ctx, bson.M{"pairKey": models.PairKey(a, b)})
}

func (s *MongoConnectionStore) findOne(ctx context.Context, filter bson.M) (models.Connection, error) {
	var doc connectionDocument
	if err := s.collection.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return models.Connection{}, ErrNotFound
		}
		return models.Connection{}, fmt.Errorf("find connection: %w", err)
	}
	return doc.model(), nil
}

// ListForUser returns the user's connections, optionally filtered by status, newest first.
func (s *MongoConnectionStore) ListForUser(ctx context.Context, userID string, statuses ...models.ConnectionStatus) ([]models.Connection, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{"requester": userID},
		bson.M{"recipient": userID},
	}}
	if len(statuses) > 0 {
		filter["status"] = bson.M{"$in": connectionStatusStrings(statuses)}
	}

	cursor, err := s.collection.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find connections: %w", err)
	}

	var docs []connectionDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode connections: %w", err)
	}

	out := make([]models.Connection, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.model())
	}
	return out, nil
}

// TransitionStatus updates the status only when the stored value is one of from.
func (s *MongoConnectionStore) TransitionStatus(ctx context.Context, id string, from []models.ConnectionStatus, to models.ConnectionStatus, at time.Time) (models.Connection, error) {
	filter := bson.M{"_id": id}
	if from != nil {
		filter["status"] = bson.M{"$in": connectionStatusStrings(from)}
	}
	update := bson.M{"$set": bson.M{"status": string(to), "updatedAt": at}}

	var doc connectionDocument
	err := s.collection.FindOneAndUpdate(ctx, filter, update, options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&doc)
	if err == nil {
		return doc.model(), nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return models.Connection{}, fmt.Errorf("update connection status: %w", err)
	}

	if _, err := s.FindByID(ctx, id); err != nil {
		return models.Connection{}, err
	}
	return models.Connection{}, ErrPreconditionFailed
}

// MongoMeetingStore keeps meetings, with their embedded acceptances, in MongoDB.
type MongoMeetingStore struct {
	collection *mongo.Collection
}

// NewMongoMeetingStore constructs a meeting store over the given database.
func NewMongoMeetingStore(database *mongo.Database) *MongoMeetingStore {
	return &MongoMeetingStore{collection: database.Collection(meetingsCollection)}
}

// Create inserts a new meeting document.
func (s *MongoMeetingStore) Create(ctx context.Context, meeting models.Meeting) error {
	if _, err := s.collection.InsertOne(ctx, newMeetingDocument(meeting)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert meeting: %w", err)
	}
	return nil
}

// FindByID loads a meeting by identifier.
func (s *MongoMeetingStore) FindByID(ctx context.Context, id string) (models.Meeting, error) {
	var doc meetingDocument
	if err := s.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return models.Meeting{}, ErrNotFound
		}
		return models.Meeting{}, fmt.Errorf("find meeting: %w", err)
	}
	return doc.model(), nil
}

// AddAcceptance pushes the acceptance in a single conditional update so that two
// concurrent accepts by the same user cannot both land.
func (s *MongoMeetingStore) AddAcceptance(ctx context.Context, meetingID string, acceptance models.Acceptance, allowed []models.MeetingStatus) (models.Meeting, error) {
	filter := bson.M{
		"_id":             meetingID,
		"acceptedBy.user": bson.M{"$ne": acceptance.UserID},
	}
	if allowed != nil {
		filter["status"] = bson.M{"$in": meetingStatusStrings(allowed)}
	}
	update := bson.M{
		"$push": bson.M{"acceptedBy": acceptanceDocument{User: acceptance.UserID, AcceptedAt: acceptance.AcceptedAt}},
		"$set":  bson.M{"updatedAt": acceptance.AcceptedAt},
	}

	var doc meetingDocument
	err := s.collection.FindOneAndUpdate(ctx, filter, update, options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&doc)
	if err == nil {
		return doc.model(), nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return models.Meeting{}, fmt.Errorf("add meeting acceptance: %w", err)
	}

	current, err := s.FindByID(ctx, meetingID)
	if err != nil {
		return models.Meeting{}, err
	}
	if current.AcceptedBy.Has(acceptance.UserID) {
		return models.Meeting{}, ErrConflict
	}
	return models.Meeting{}, ErrPreconditionFailed
}

// TransitionStatus updates the meeting status, guarded by from unless from is nil.
func (s *MongoMeetingStore) TransitionStatus(ctx context.Context, id string, from []models.MeetingStatus, to models.MeetingStatus, at time.Time) (models.Meeting, error) {
	filter := bson.M{"_id": id}
	if from != nil {
		filter["status"] = bson.M{"$in": meetingStatusStrings(from)}
	}
	update := bson.M{"$set": bson.M{"status": string(to), "updatedAt": at}}

	var doc meetingDocument
	err := s.collection.FindOneAndUpdate(ctx, filter, update, options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&doc)
	if err == nil {
		return doc.model(), nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return models.Meeting{}, fmt.Errorf("update meeting status: %w", err)
	}

	if _, err := s.FindByID(ctx, id); err != nil {
		return models.Meeting{}, err
	}
	return models.Meeting{}, ErrPreconditionFailed
}

// ListByConnections returns meetings on the given connections ordered by date.
func (s *MongoMeetingStore) ListByConnections(ctx context.Context, connectionIDs []string) ([]models.Meeting, error) {
	if len(connectionIDs) == 0 {
		return nil, nil
	}

	cursor, err := s.collection.Find(ctx,
		bson.M{"connectionId": bson.M{"$in": connectionIDs}},
		options.Find().SetSort(bson.D{{Key: "dateTime", Value: 1}, {Key: "createdAt", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("find meetings: %w", err)
	}

	var docs []meetingDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode meetings: %w", err)
	}

	out := make([]models.Meeting, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.model())
	}
	return out, nil
}

type messageDocument struct {
	ID           string    `bson:"_id"`
	ConnectionID string    `bson:"connectionId"`
	Sender       string    `bson:"sender"`
	MessageType  string    `bson:"messageType"`
	Content      string    `bson:"content"`
	IsRead       bool      `bson:"isRead"`
	CreatedAt    time.Time `bson:"createdAt"`
}

func (d messageDocument) model() models.Message {
	return models.Message{
		ID:           d.ID,
		ConnectionID: d.ConnectionID,
		SenderID:     d.Sender,
		Type:         models.MessageType(d.MessageType),
		Content:      d.Content,
		Read:         d.IsRead,
		CreatedAt:    d.CreatedAt.UTC(),
	}
}

// MongoMessageStore keeps messages as documents in MongoDB.
type MongoMessageStore struct {
	collection *mongo.Collection
}

// NewMongoMessageStore constructs a message store over the given database.
func NewMongoMessageStore(database *mongo.Database) *MongoMessageStore {
	return &MongoMessageStore{collection: database.Collection(messagesCollection)}
}

// Create inserts a new message document.
func (s *MongoMessageStore) Create(ctx context.Context, msg models.Message) error {
	_, err := s.collection.InsertOne(ctx, messageDocument{
		ID:           msg.ID,
		ConnectionID: msg.ConnectionID,
		Sender:       msg.SenderID,
		MessageType:  string(msg.Type),
		Content:      msg.Content,
		IsRead:       msg.Read,
		CreatedAt:    msg.CreatedAt,
	})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// ListByConnection returns the connection's messages oldest first.
func (s *MongoMessageStore) ListByConnection(ctx context.Context, connectionID string) ([]models.Message, error) {
	cursor, err := s.collection.Find(ctx,
		bson.M{"connectionId": connectionID},
		options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("find messages: %w", err)
	}

	var docs []messageDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}

	out := make([]models.Message, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.model())
	}
	return out, nil
}

// MarkRead flags unread messages from the other party as read.
func (s *MongoMessageStore) MarkRead(ctx context.Context, connectionID, readerID string) (int64, error) {
	result, err := s.collection.UpdateMany(ctx,
		bson.M{"connectionId": connectionID, "sender": bson.M{"$ne": readerID}, "isRead": false},
		bson.M{"$set": bson.M{"isRead": true}},
	)
	if err != nil {
		return 0, fmt.Errorf("mark messages read: %w", err)
	}
	return result.ModifiedCount, nil
}

type reviewDocument struct {
	ID        string    `bson:"_id"`
	Reviewer  string    `bson:"reviewer"`
	Reviewed  string    `bson:"reviewed"`
	MeetingID string    `bson:"meetingId,omitempty"`
	Rating    int       `bson:"rating"`
	Feedback  string    `bson:"feedback,omitempty"`
	IsPublic  bool      `bson:"isPublic"`
	CreatedAt time.Time `bson:"createdAt"`
}

func (d reviewDocument) model() models.Review {
	return models.Review{
		ID:         d.ID,
		ReviewerID: d.Reviewer,
		ReviewedID: d.Reviewed,
		MeetingID:  d.MeetingID,
		Rating:     d.Rating,
		Feedback:   d.Feedback,
		Public:     d.IsPublic,
		CreatedAt:  d.CreatedAt.UTC(),
	}
}

// MongoReviewStore keeps reviews as documents in MongoDB. The unique
// reviewer/reviewed index enforces one review per pair.
type MongoReviewStore struct {
	collection *mongo.Collection
}

// NewMongoReviewStore constructs a review store over the given database.
func NewMongoReviewStore(database *mongo.Database) *MongoReviewStore {
	return &MongoReviewStore{collection: database.Collection(reviewsCollection)}
}

// Create inserts the review, mapping an index collision to ErrConflict.
func (s *MongoReviewStore) Create(ctx context.Context, review models.Review) error {
	_, err := s.collection.InsertOne(ctx, reviewDocument{
		ID:        review.ID,
		Reviewer:  review.ReviewerID,
		Reviewed:  review.ReviewedID,
		MeetingID: review.MeetingID,
		Rating:    review.Rating,
		Feedback:  review.Feedback,
		IsPublic:  review.Public,
		CreatedAt: review.CreatedAt,
	})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert review: %w", err)
	}
	return nil
}

// ListByReviewed returns reviews about userID, newest first.
func (s *MongoReviewStore) ListByReviewed(ctx context.Context, userID string) ([]models.Review, error) {
	return s.list(ctx, bson.M{"reviewed": userID})
}

// ListByReviewer returns reviews written by userID, newest first.
func (s *MongoReviewStore) ListByReviewer(ctx context.Context, userID string) ([]models.Review, error) {
	return s.list(ctx, bson.M{"reviewer": userID})
}

func (s *MongoReviewStore) list(ctx context.Context, filter bson.M) ([]models.Review, error) {
	cursor, err := s.collection.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find reviews: %w", err)
	}

	var docs []reviewDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode reviews: %w", err)
	}

	out := make([]models.Review, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.model())
	}
	return out, nil
}

var _ ConnectionRepository = (*MongoConnectionStore)(nil)
var _ MeetingRepository = (*MongoMeetingStore)(nil)
var _ MessageRepository = (*MongoMessageStore)(nil)
var _ ReviewRepository = (*MongoReviewStore)(nil)
