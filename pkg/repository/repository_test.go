package repository_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/nutriguide/pkg/model"
	"github.com/m-mizutani/nutriguide/pkg/repository"
)

func newProfile(userID model.UserID) *model.Profile {
	now := time.Now().UTC().Truncate(time.Second)
	return &model.Profile{
		UserID:        userID,
		Age:           30,
		HeightCM:      170,
		WeightKG:      70,
		Goal:          model.GoalLoseWeight,
		Sex:           model.SexUnspecified,
		ActivityLevel: model.ActivityLight,
		Preferences:   []string{"vegetarian"},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func testRepository(t *testing.T, repo repository.Repository) {
	ctx := context.Background()

	t.Run("not found", func(t *testing.T) {
		_, err := repo.GetProfile(ctx, "missing-user")
		gt.Error(t, err)
		gt.True(t, errors.Is(err, model.ErrProfileNotFound))
	})

	t.Run("put and get", func(t *testing.T) {
		p := newProfile("user-1")
		gt.NoError(t, repo.PutProfile(ctx, p))

		got, err := repo.GetProfile(ctx, "user-1")
		gt.NoError(t, err)
		gt.Equal(t, got.UserID, p.UserID)
		gt.Equal(t, got.Age, 30)
		gt.Equal(t, got.HeightCM, 170.0)
		gt.Equal(t, got.Goal, model.GoalLoseWeight)
		gt.A(t, got.Preferences).Length(1)
		gt.True(t, got.UpdatedAt.Equal(p.UpdatedAt))
	})

	t.Run("overwrite", func(t *testing.T) {
		p := newProfile("user-2")
		gt.NoError(t, repo.PutProfile(ctx, p))
		p.WeightKG = 68
		gt.NoError(t, repo.PutProfile(ctx, p))

		got, err := repo.GetProfile(ctx, "user-2")
		gt.NoError(t, err)
		gt.Equal(t, got.WeightKG, 68.0)
	})
}

func TestMemory(t *testing.T) {
	testRepository(t, repository.NewMemory())
}

func TestFile(t *testing.T) {
	repo, err := repository.NewFile(t.TempDir())
	gt.NoError(t, err)
	testRepository(t, repo)
}

func TestFileRejectsPathLikeUserID(t *testing.T) {
	repo, err := repository.NewFile(t.TempDir())
	gt.NoError(t, err)

	_, err = repo.GetProfile(context.Background(), "../etc/passwd")
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrInvalidProfileField))
}

func TestFirestore(t *testing.T) {
	projectID := os.Getenv("TEST_FIRESTORE_PROJECT_ID")
	databaseID := os.Getenv("TEST_FIRESTORE_DATABASE_ID")
	if projectID == "" || databaseID == "" {
		t.Skip("TEST_FIRESTORE_PROJECT_ID and TEST_FIRESTORE_DATABASE_ID must be set to run Firestore tests")
	}

	repo, err := repository.New(context.Background(), projectID, databaseID)
	gt.NoError(t, err)
	defer repo.Close()

	testRepository(t, repo)
}
