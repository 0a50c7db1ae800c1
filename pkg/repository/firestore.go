package repository

import (
	"context"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/nutriguide/pkg/model"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const collectionProfiles = "profiles"

// Firestore implements Repository with one document per user
type Firestore struct {
	client *firestore.Client
}

// New creates a Firestore repository
func New(ctx context.Context, projectID, databaseID string, opts ...option.ClientOption) (*Firestore, error) {
	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID, opts...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client",
			goerr.V("project", projectID), goerr.V("database", databaseID))
	}
	return &Firestore{client: client}, nil
}

// Close releases the client
func (r *Firestore) Close() error {
	return r.client.Close()
}

func (r *Firestore) GetProfile(ctx context.Context, userID model.UserID) (*model.Profile, error) {
	snap, err := r.client.Collection(collectionProfiles).Doc(string(userID)).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, goerr.Wrap(model.ErrProfileNotFound, "profile document not found", goerr.V("user_id", userID))
		}
		return nil, goerr.Wrap(err, "failed to get profile", goerr.V("user_id", userID))
	}

	var profile model.Profile
	if err := snap.DataTo(&profile); err != nil {
		return nil, goerr.Wrap(err, "failed to decode profile", goerr.V("user_id", userID))
	}
	return &profile, nil
}

func (r *Firestore) PutProfile(ctx context.Context, profile *model.Profile) error {
	if _, err := r.client.Collection(collectionProfiles).Doc(string(profile.UserID)).Set(ctx, profile); err != nil {
		return goerr.Wrap(err, "failed to put profile", goerr.V("user_id", profile.UserID))
	}
	return nil
}
