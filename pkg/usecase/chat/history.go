package chat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/url"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/nutriguide/pkg/adapter"
	"github.com/m-mizutani/nutriguide/pkg/interfaces"
	"github.com/m-mizutani/nutriguide/pkg/model"
)

// StorageHistory keeps the turns of each user as one JSON object in Storage
type StorageHistory struct {
	storage adapter.Storage
}

var _ interfaces.HistoryStore = (*StorageHistory)(nil)

func NewStorageHistory(storage adapter.Storage) *StorageHistory {
	return &StorageHistory{storage: storage}
}

func historyKey(userID model.UserID) string {
	return "histories/" + url.PathEscape(string(userID)) + ".json"
}

// LoadTurns returns no turns for a user without history
func (h *StorageHistory) LoadTurns(ctx context.Context, userID model.UserID) ([]*model.Turn, error) {
	reader, err := h.storage.Get(ctx, historyKey(userID))
	if err != nil {
		if errors.Is(err, adapter.ErrObjectNotFound) {
			return nil, nil
		}
		return nil, goerr.Wrap(err, "failed to get history from storage", goerr.V("user_id", userID))
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read history data", goerr.V("user_id", userID))
	}

	var turns []*model.Turn
	if err := json.Unmarshal(data, &turns); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal history", goerr.V("user_id", userID))
	}
	return turns, nil
}

func (h *StorageHistory) SaveTurns(ctx context.Context, userID model.UserID, turns []*model.Turn) error {
	data, err := json.Marshal(turns)
	if err != nil {
		return goerr.Wrap(err, "failed to marshal history", goerr.V("user_id", userID))
	}

	writer, err := h.storage.Put(ctx, historyKey(userID))
	if err != nil {
		return goerr.Wrap(err, "failed to create storage writer", goerr.V("user_id", userID))
	}

	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return goerr.Wrap(err, "failed to write history to storage", goerr.V("user_id", userID))
	}

	if err := writer.Close(); err != nil {
		return goerr.Wrap(err, "failed to close storage writer", goerr.V("user_id", userID))
	}

	return nil
}
