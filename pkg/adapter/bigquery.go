package adapter

import (
	"context"

	"cloud.google.com/go/bigquery"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// BigQuery reads tabular nutrition data
type BigQuery interface {
	// ReadTable returns all rows of project.dataset.table keyed by column name
	ReadTable(ctx context.Context, project, datasetID, table string) ([]map[string]any, error)

	// Query runs a SQL query and returns its rows
	Query(ctx context.Context, query string) ([]map[string]any, error)
}

type bigqueryClient struct {
	client *bigquery.Client
}

// NewBigQuery creates a new BigQuery client
func NewBigQuery(ctx context.Context, projectID string, opts ...option.ClientOption) (BigQuery, error) {
	client, err := bigquery.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create BigQuery client", goerr.V("project", projectID))
	}

	return &bigqueryClient{client: client}, nil
}

func (bq *bigqueryClient) ReadTable(ctx context.Context, project, datasetID, table string) ([]map[string]any, error) {
	it := bq.client.DatasetInProject(project, datasetID).Table(table).Read(ctx)
	rows, err := readRows(it)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read table",
			goerr.V("project", project), goerr.V("dataset", datasetID), goerr.V("table", table))
	}
	return rows, nil
}

func (bq *bigqueryClient) Query(ctx context.Context, query string) ([]map[string]any, error) {
	job, err := bq.client.Query(query).Run(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to run query")
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to wait for query completion")
	}
	if status.Err() != nil {
		return nil, goerr.Wrap(status.Err(), "query execution failed")
	}

	it, err := job.Read(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read query result")
	}
	rows, err := readRows(it)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to iterate query result")
	}
	return rows, nil
}

func readRows(it *bigquery.RowIterator) ([]map[string]any, error) {
	var results []map[string]any
	for {
		var row map[string]bigquery.Value
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}

		rowMap := make(map[string]any, len(row))
		for k, v := range row {
			rowMap[k] = v
		}
		results = append(results, rowMap)
	}
	return results, nil
}
