package adapter_test

import (
	"context"
	"os"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/nutriguide/pkg/adapter"
)

func TestBigQueryReadTable(t *testing.T) {
	projectID := os.Getenv("TEST_BIGQUERY_PROJECT")
	datasetID := os.Getenv("TEST_BIGQUERY_DATASET")
	table := os.Getenv("TEST_BIGQUERY_TABLE")
	if projectID == "" || datasetID == "" || table == "" {
		t.Skip("TEST_BIGQUERY_PROJECT, TEST_BIGQUERY_DATASET and TEST_BIGQUERY_TABLE must be set")
	}

	ctx := context.Background()
	client, err := adapter.NewBigQuery(ctx, projectID)
	gt.NoError(t, err)

	rows, err := client.ReadTable(ctx, projectID, datasetID, table)
	gt.NoError(t, err)
	gt.A(t, rows).Longer(0)
	t.Logf("rows: %d, first: %v", len(rows), rows[0])
}
