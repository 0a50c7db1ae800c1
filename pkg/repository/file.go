package repository

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/nutriguide/pkg/model"
)

// File implements Repository with one JSON file per user under a directory
type File struct {
	dir string
}

// NewFile creates a file repository, creating dir when missing
func NewFile(dir string) (*File, error) {
	if dir == "" {
		return nil, goerr.New("profile directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, goerr.Wrap(err, "failed to create profile directory", goerr.V("dir", dir))
	}
	return &File{dir: dir}, nil
}

func (r *File) path(userID model.UserID) (string, error) {
	id := string(userID)
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return "", goerr.Wrap(model.ErrInvalidProfileField, "user id cannot be used as file name", goerr.V("user_id", userID))
	}
	return filepath.Join(r.dir, id+".json"), nil
}

func (r *File) GetProfile(ctx context.Context, userID model.UserID) (*model.Profile, error) {
	path, err := r.path(userID)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, goerr.Wrap(model.ErrProfileNotFound, "profile file not found", goerr.V("user_id", userID))
		}
		return nil, goerr.Wrap(err, "failed to read profile file", goerr.V("path", path))
	}

	var profile model.Profile
	if err := json.Unmarshal(data, &profile); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal profile", goerr.V("path", path))
	}
	return &profile, nil
}

// PutProfile writes to a temporary file, syncs it and renames it over the old record
func (r *File) PutProfile(ctx context.Context, profile *model.Profile) error {
	path, err := r.path(profile.UserID)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(profile, "", "  ")
	if err != nil {
		return goerr.Wrap(err, "failed to marshal profile")
	}

	tmp, err := os.CreateTemp(r.dir, "."+string(profile.UserID)+".*.tmp")
	if err != nil {
		return goerr.Wrap(err, "failed to create temporary profile file", goerr.V("dir", r.dir))
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return goerr.Wrap(err, "failed to write profile", goerr.V("path", tmp.Name()))
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return goerr.Wrap(err, "failed to sync profile", goerr.V("path", tmp.Name()))
	}
	if err := tmp.Close(); err != nil {
		return goerr.Wrap(err, "failed to close profile file", goerr.V("path", tmp.Name()))
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return goerr.Wrap(err, "failed to replace profile file", goerr.V("path", path))
	}
	return nil
}
