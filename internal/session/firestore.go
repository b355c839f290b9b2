package session

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/dgellow/authguard/internal/crypto"
	"github.com/dgellow/authguard/internal/log"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreStore keeps one document per session, keyed by session ID.
// Firestore has no per-document TTL in the client API, so expired documents
// are removed by DeleteExpired.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
	codec      codec
	now        func() time.Time
}

var (
	_ Store   = (*FirestoreStore)(nil)
	_ Sweeper = (*FirestoreStore)(nil)
)

// NewFirestoreStore connects to the given project and database
func NewFirestoreStore(ctx context.Context, projectID, database, collection string, encryptor crypto.Encryptor) (*FirestoreStore, error) {
	if encryptor == nil {
		return nil, fmt.Errorf("encryptor is required")
	}
	if projectID == "" {
		return nil, fmt.Errorf("projectID is required")
	}
	if collection == "" {
		return nil, fmt.Errorf("collection is required")
	}
	c, err := newCodec(encryptor)
	if err != nil {
		return nil, err
	}

	var client *firestore.Client
	if database != "" && database != "(default)" {
		client, err = firestore.NewClientWithDatabase(ctx, projectID, database)
	} else {
		client, err = firestore.NewClient(ctx, projectID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	log.LogInfoWithFields("session", "Using Firestore session store", map[string]any{
		"project":    projectID,
		"database":   database,
		"collection": collection,
	})

	return &FirestoreStore{
		client:     client,
		collection: collection,
		codec:      c,
		now:        time.Now,
	}, nil
}

func (s *FirestoreStore) doc(id string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(id)
}

func (s *FirestoreStore) Get(ctx context.Context, id string) (*Record, error) {
	snap, err := s.doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session from Firestore: %w", err)
	}

	var stored storedRecord
	if err := snap.DataTo(&stored); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	r, err := s.codec.decode(&stored)
	if err != nil {
		return nil, err
	}
	if r.Expired(s.now()) {
		return nil, ErrNotFound
	}
	return r, nil
}

func (s *FirestoreStore) Save(ctx context.Context, r *Record) error {
	stored, err := s.codec.encode(r)
	if err != nil {
		return err
	}
	if _, err := s.doc(r.ID).Set(ctx, stored); err != nil {
		return fmt.Errorf("failed to save session to Firestore: %w", err)
	}
	return nil
}

// Delete removes the document. Firestore treats deleting a missing document
// as success.
func (s *FirestoreStore) Delete(ctx context.Context, id string) error {
	if _, err := s.doc(id).Delete(ctx); err != nil {
		if status.Code(err) == codes.NotFound {
			return nil
		}
		return fmt.Errorf("failed to delete session from Firestore: %w", err)
	}
	return nil
}

// DeleteExpired removes every document whose expires_at is before now
func (s *FirestoreStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	iter := s.client.Collection(s.collection).Where("expires_at", "<", now).Documents(ctx)
	defer iter.Stop()

	count := 0
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return count, fmt.Errorf("error iterating expired sessions: %w", err)
		}
		if _, err := doc.Ref.Delete(ctx); err != nil {
			log.LogErrorWithFields("session", "Failed to delete expired session", map[string]any{
				"id":    doc.Ref.ID,
				"error": err.Error(),
			})
			continue
		}
		count++
	}
	return count, nil
}

func (s *FirestoreStore) Close() error {
	return s.client.Close()
}
