package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/arklim/storefront-signup/internal/core/domain"
	"github.com/arklim/storefront-signup/internal/core/port"
	"github.com/arklim/storefront-signup/internal/repository"
)

const (
	defaultCollection = "pending_registrations"
	defaultRetention  = 24 * time.Hour
)

// pendingDocument is the stored shape; the normalized email is the document id.
type pendingDocument struct {
	Email             string    `bson:"_id"`
	Name              string    `bson:"name"`
	PasswordHash      string    `bson:"password_hash"`
	OTP               string    `bson:"otp"`
	OTPExpiresAt      time.Time `bson:"otp_expires_at"`
	ResendAvailableAt time.Time `bson:"resend_available_at"`
	Attempts          int       `bson:"attempts"`
	IPAddress         string    `bson:"ip_address,omitempty"`
	UserAgent         string    `bson:"user_agent,omitempty"`
	CreatedAt         time.Time `bson:"created_at"`
	UpdatedAt         time.Time `bson:"updated_at"`
}

func toDocument(p domain.PendingRegistration) pendingDocument {
	return pendingDocument{
		Email:             domain.NormalizeEmail(p.Email),
		Name:              p.Name,
		PasswordHash:      p.PasswordHash,
		OTP:               p.OTP,
		OTPExpiresAt:      p.OTPExpiresAt.UTC(),
		ResendAvailableAt: p.ResendAvailableAt.UTC(),
		Attempts:          p.Attempts,
		IPAddress:         p.IPAddress,
		UserAgent:         p.UserAgent,
		CreatedAt:         p.CreatedAt.UTC(),
		UpdatedAt:         p.UpdatedAt.UTC(),
	}
}

func (d pendingDocument) toDomain() *domain.PendingRegistration {
	return &domain.PendingRegistration{
		Email:             d.Email,
		Name:              d.Name,
		PasswordHash:      d.PasswordHash,
		OTP:               d.OTP,
		OTPExpiresAt:      d.OTPExpiresAt.UTC(),
		ResendAvailableAt: d.ResendAvailableAt.UTC(),
		Attempts:          d.Attempts,
		IPAddress:         d.IPAddress,
		UserAgent:         d.UserAgent,
		CreatedAt:         d.CreatedAt.UTC(),
		UpdatedAt:         d.UpdatedAt.UTC(),
	}
}

// PendingRegistrationRepository stores pending sign-ups as MongoDB documents.
type PendingRegistrationRepository struct {
	collection *mongo.Collection
	retention  time.Duration
}

// NewPendingRegistrationRepository binds the repository to a collection of db.
func NewPendingRegistrationRepository(db *mongo.Database, collection string, retention time.Duration) *PendingRegistrationRepository {
	if collection == "" {
		collection = defaultCollection
	}
	if retention <= 0 {
		retention = defaultRetention
	}
	return &PendingRegistrationRepository{
		collection: db.Collection(collection),
		retention:  retention,
	}
}

// EnsureIndexes creates the TTL index that lets MongoDB reap records once their OTP
// has been expired for longer than the retention period.
func (r *PendingRegistrationRepository) EnsureIndexes(ctx context.Context) error {
	model := mongo.IndexModel{
		Keys: bson.D{{Key: "otp_expires_at", Value: 1}},
		Options: options.Index().
			SetName("otp_expires_at_ttl").
			SetExpireAfterSeconds(int32(r.retention / time.Second)),
	}

	if _, err := r.collection.Indexes().CreateOne(ctx, model); err != nil {
		return fmt.Errorf("create pending registration ttl index: %w", err)
	}
	return nil
}

// Upsert replaces the whole document for the email in one ReplaceOne call.
func (r *PendingRegistrationRepository) Upsert(ctx context.Context, pending domain.PendingRegistration) error {
	doc := toDocument(pending)
	if doc.Email == "" {
		return errors.New("email is required")
	}

	opts := options.Replace().SetUpsert(true)
	_, err := r.collection.ReplaceOne(ctx, bson.M{"_id": doc.Email}, doc, opts)
	if mongo.IsDuplicateKeyError(err) {
		// Two upserts raced to insert the same id; the loser retries as a plain replace.
		_, err = r.collection.ReplaceOne(ctx, bson.M{"_id": doc.Email}, doc, opts)
	}
	if err != nil {
		return fmt.Errorf("mongo upsert pending registration: %w", err)
	}

	return nil
}

// Get returns the pending registration for the email.
func (r *PendingRegistrationRepository) Get(ctx context.Context, email string) (*domain.PendingRegistration, error) {
	var doc pendingDocument
	err := r.collection.FindOne(ctx, bson.M{"_id": domain.NormalizeEmail(email)}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("mongo find pending registration: %w", err)
	}

	return doc.toDomain(), nil
}

// RotateOTP replaces the code and timers of an existing document.
func (r *PendingRegistrationRepository) RotateOTP(ctx context.Context, email string, rotation port.OTPRotation) error {
	update := bson.M{"$set": bson.M{
		"otp":                 rotation.OTP,
		"otp_expires_at":      rotation.OTPExpiresAt.UTC(),
		"resend_available_at": rotation.ResendAvailableAt.UTC(),
		"updated_at":          rotation.UpdatedAt.UTC(),
	}}

	res, err := r.collection.UpdateOne(ctx, bson.M{"_id": domain.NormalizeEmail(email)}, update)
	if err != nil {
		return fmt.Errorf("mongo rotate otp: %w", err)
	}
	if res.MatchedCount == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// ReserveAttempt adds one to the attempt counter only while it is below max,
// using a filtered $inc so concurrent callers cannot overshoot the ceiling.
func (r *PendingRegistrationRepository) ReserveAttempt(ctx context.Context, email string, max int) (int, error) {
	id := domain.NormalizeEmail(email)
	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetProjection(bson.M{"attempts": 1})

	var doc struct {
		Attempts int `bson:"attempts"`
	}
	err := r.collection.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "attempts": bson.M{"$lt": max}},
		bson.M{"$inc": bson.M{"attempts": 1}},
		opts,
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		n, cerr := r.collection.CountDocuments(ctx, bson.M{"_id": id}, options.Count().SetLimit(1))
		if cerr != nil {
			return 0, fmt.Errorf("mongo count pending registration: %w", cerr)
		}
		if n == 0 {
			return 0, repository.ErrNotFound
		}
		return max, repository.ErrLimitReached
	}
	if err != nil {
		return 0, fmt.Errorf("mongo reserve attempt: %w", err)
	}

	return doc.Attempts, nil
}

// Delete removes the document; a missing document is not an error.
func (r *PendingRegistrationRepository) Delete(ctx context.Context, email string) error {
	if _, err := r.collection.DeleteOne(ctx, bson.M{"_id": domain.NormalizeEmail(email)}); err != nil {
		return fmt.Errorf("mongo delete pending registration: %w", err)
	}
	return nil
}

var _ port.PendingRegistrationRepository = (*PendingRegistrationRepository)(nil)
