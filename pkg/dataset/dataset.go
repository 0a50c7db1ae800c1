package dataset

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/nutriguide/pkg/adapter"
	"github.com/m-mizutani/nutriguide/pkg/model"
)

//go:embed data/sample.csv
var sampleCSV []byte

const defaultServingUnit = "100g"

var columnAliases = map[string]string{
	"name":         "food_name",
	"carbohydrate": "carbs",
}

var requiredColumns = []string{"food_name", "calories", "protein", "fat", "carbs"}

var knownColumns = map[string]bool{
	"food_name":    true,
	"category":     true,
	"serving_unit": true,
	"calories":     true,
	"protein":      true,
	"fat":          true,
	"carbs":        true,
	"fiber":        true,
	"vitamin_c":    true,
	"calcium":      true,
	"iron":         true,
}

// Sample returns the built-in dataset of common foods
func Sample() ([]*model.NutritionRecord, error) {
	records, err := ReadCSV(bytes.NewReader(sampleCSV))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to parse built-in sample dataset")
	}
	return records, nil
}

// LoadCSV reads records from a CSV file with a header row
func LoadCSV(path string) ([]*model.NutritionRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open dataset", goerr.V("path", path))
	}
	defer f.Close()

	records, err := ReadCSV(f)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load dataset", goerr.V("path", path))
	}
	return records, nil
}

// ReadCSV parses header-named CSV. Unknown numeric columns are kept in Extra.
func ReadCSV(r io.Reader) ([]*model.NutritionRecord, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read CSV header")
	}
	columns := make([]string, len(header))
	for i, h := range header {
		columns[i] = normalizeColumn(h)
	}

	var rows []map[string]any
	for line := 2; ; line++ {
		values, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to read CSV row", goerr.V("line", line))
		}

		row := make(map[string]any, len(columns))
		for i, col := range columns {
			if i < len(values) {
				row[col] = values[i]
			}
		}
		rows = append(rows, row)
	}

	return FromRows(rows)
}

// LoadBigQuery reads records from a BigQuery table whose columns follow the CSV layout
func LoadBigQuery(ctx context.Context, bq adapter.BigQuery, project, datasetID, table string) ([]*model.NutritionRecord, error) {
	rows, err := bq.ReadTable(ctx, project, datasetID, table)
	if err != nil {
		return nil, err
	}

	normalized := make([]map[string]any, len(rows))
	for i, row := range rows {
		n := make(map[string]any, len(row))
		for k, v := range row {
			n[normalizeColumn(k)] = v
		}
		normalized[i] = n
	}

	records, err := FromRows(normalized)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to convert BigQuery rows",
			goerr.V("project", project), goerr.V("dataset", datasetID), goerr.V("table", table))
	}
	return records, nil
}

// FromRows converts column-keyed rows into records. Duplicate names keep the first occurrence.
func FromRows(rows []map[string]any) ([]*model.NutritionRecord, error) {
	if len(rows) > 0 {
		for _, col := range requiredColumns {
			if _, ok := rows[0][col]; !ok {
				return nil, goerr.New("required column is missing", goerr.V("column", col))
			}
		}
	}

	seen := make(map[string]bool, len(rows))
	records := make([]*model.NutritionRecord, 0, len(rows))
	for i, row := range rows {
		rec, err := toRecord(row)
		if err != nil {
			return nil, goerr.Wrap(err, "invalid row", goerr.V("row", i+1))
		}
		if seen[rec.Key()] {
			continue
		}
		seen[rec.Key()] = true
		records = append(records, rec)
	}

	return records, nil
}

func toRecord(row map[string]any) (*model.NutritionRecord, error) {
	name := strings.TrimSpace(toString(row["food_name"]))
	if model.NormalizeFoodName(name) == "" {
		return nil, goerr.New("food name is empty")
	}

	rec := &model.NutritionRecord{
		Name:        name,
		Category:    strings.ToLower(strings.TrimSpace(toString(row["category"]))),
		ServingUnit: strings.TrimSpace(toString(row["serving_unit"])),
	}
	if rec.ServingUnit == "" {
		rec.ServingUnit = defaultServingUnit
	}

	fields := []struct {
		column   string
		dst      *float64
		required bool
	}{
		{"calories", &rec.Calories, true},
		{"protein", &rec.Protein, true},
		{"fat", &rec.Fat, true},
		{"carbs", &rec.Carbohydrate, true},
		{"fiber", &rec.Fiber, false},
		{"vitamin_c", &rec.VitaminC, false},
		{"calcium", &rec.Calcium, false},
		{"iron", &rec.Iron, false},
	}
	for _, f := range fields {
		v, ok, err := toFloat(row[f.column])
		if err != nil {
			return nil, goerr.Wrap(err, "invalid numeric value", goerr.V("column", f.column), goerr.V("food", name))
		}
		if !ok && f.required {
			return nil, goerr.New("required value is empty", goerr.V("column", f.column), goerr.V("food", name))
		}
		*f.dst = v
	}

	keys := make([]string, 0, len(row))
	for k := range row {
		if !knownColumns[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		// Non-numeric extras are descriptive columns the index has no use for.
		v, ok, err := toFloat(row[k])
		if err != nil || !ok {
			continue
		}
		if rec.Extra == nil {
			rec.Extra = make(map[string]float64)
		}
		rec.Extra[k] = v
	}

	return rec, nil
}

func normalizeColumn(name string) string {
	n := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
	n = strings.ReplaceAll(n, " ", "_")
	if alias, ok := columnAliases[n]; ok {
		return alias
	}
	return n
}

func toString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return fmt.Sprint(s)
	}
}

func toFloat(v any) (float64, bool, error) {
	var f float64
	switch n := v.(type) {
	case nil:
		return 0, false, nil
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int64:
		f = float64(n)
	case int:
		f = float64(n)
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return 0, false, nil
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false, goerr.Wrap(err, "not a number", goerr.V("value", s))
		}
		f = parsed
	default:
		return 0, false, goerr.New("unsupported value type", goerr.V("value", v))
	}

	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0, false, goerr.New("value must be a finite non-negative number", goerr.V("value", f))
	}
	return f, true, nil
}
