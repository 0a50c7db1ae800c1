package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/nutriguide/pkg/adapter"
	"github.com/m-mizutani/nutriguide/pkg/dataset"
	"github.com/m-mizutani/nutriguide/pkg/index"
	"github.com/m-mizutani/nutriguide/pkg/interfaces"
	"github.com/m-mizutani/nutriguide/pkg/model"
	"github.com/m-mizutani/nutriguide/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

func indexCommand() *cli.Command {
	return &cli.Command{
		Name:  "index",
		Usage: "Build and query the nutrition index",
		Commands: []*cli.Command{
			indexBuildCommand(),
			indexSearchCommand(),
		},
	}
}

func indexStoreFlags(cfg *config) []cli.Flag {
	var flags []cli.Flag
	flags = append(flags, globalFlags(cfg)...)
	flags = append(flags, cloudFlags(cfg)...)
	flags = append(flags, llmFlags(cfg)...)
	flags = append(flags, storageFlags(cfg)...)
	flags = append(flags, indexFlags(cfg)...)
	return flags
}

// newIndexEmbedder creates the embedder, connecting to Gemini only when it is needed
func (cfg *config) newIndexEmbedder(ctx context.Context) (interfaces.Embedder, error) {
	var gemini adapter.Gemini
	if cfg.embedder == embedderGemini {
		client, err := cfg.newGemini(ctx)
		if err != nil {
			return nil, err
		}
		gemini = client
	}
	return cfg.newEmbedder(gemini)
}

func indexBuildCommand() *cli.Command {
	var (
		cfg       config
		csvPath   string
		bqDataset string
		bqTable   string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "csv",
			Usage:       "Nutrition dataset CSV file",
			Sources:     cli.EnvVars("NUTRIGUIDE_DATASET_CSV"),
			Destination: &csvPath,
		},
		&cli.StringFlag{
			Name:        "bigquery-dataset",
			Usage:       "BigQuery dataset of the nutrition table; the project flag selects the project",
			Sources:     cli.EnvVars("NUTRIGUIDE_BIGQUERY_DATASET"),
			Destination: &bqDataset,
		},
		&cli.StringFlag{
			Name:        "bigquery-table",
			Usage:       "BigQuery nutrition table",
			Sources:     cli.EnvVars("NUTRIGUIDE_BIGQUERY_TABLE"),
			Destination: &bqTable,
		},
	}
	flags = append(flags, indexStoreFlags(&cfg)...)

	return &cli.Command{
		Name:  "build",
		Usage: "Embed the nutrition dataset and store the index. The bundled sample is used when no source is given.",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, err := cfg.setup(ctx, c)
			if err != nil {
				return err
			}
			defer cfg.close()

			records, err := loadDataset(ctx, &cfg, csvPath, bqDataset, bqTable)
			if err != nil {
				return err
			}
			logging.From(ctx).Info("dataset loaded", "records", len(records))

			embedder, err := cfg.newIndexEmbedder(ctx)
			if err != nil {
				return err
			}

			switch cfg.indexBackend {
			case backendMemory:
				opts, err := cfg.indexOptions()
				if err != nil {
					return err
				}
				idx, err := index.Build(ctx, embedder, records, opts...)
				if err != nil {
					return goerr.Wrap(err, "failed to build index")
				}
				storage, err := cfg.newStorage(ctx)
				if err != nil {
					return err
				}
				if err := index.Save(ctx, storage, cfg.indexKey, idx); err != nil {
					return err
				}
				fmt.Fprintf(c.Root().Writer, "Indexed %d foods into %s\n", idx.Len(), cfg.indexKey)

			case backendFirestore:
				idx, err := cfg.newFirestoreIndex(ctx, embedder)
				if err != nil {
					return err
				}
				if err := idx.Put(ctx, records); err != nil {
					return goerr.Wrap(err, "failed to store index")
				}
				fmt.Fprintf(c.Root().Writer, "Indexed %d foods into collection %s\n", len(records), cfg.indexCollection)

			default:
				return goerr.New("unsupported index backend",
					goerr.V("backend", cfg.indexBackend),
					goerr.V("supported", []string{backendMemory, backendFirestore}))
			}
			return nil
		},
	}
}

func loadDataset(ctx context.Context, cfg *config, csvPath, bqDataset, bqTable string) ([]*model.NutritionRecord, error) {
	useBQ := bqDataset != "" || bqTable != ""
	switch {
	case csvPath != "" && useBQ:
		return nil, goerr.New("csv and bigquery sources are exclusive")

	case csvPath != "":
		return dataset.LoadCSV(csvPath)

	case useBQ:
		if cfg.project == "" || bqDataset == "" || bqTable == "" {
			return nil, goerr.New("project, bigquery-dataset and bigquery-table are required for a BigQuery source")
		}
		bq, err := adapter.NewBigQuery(ctx, cfg.project, cfg.clientOptions()...)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create bigquery client")
		}
		return dataset.LoadBigQuery(ctx, bq, cfg.project, bqDataset, bqTable)

	default:
		return dataset.Sample()
	}
}

func indexSearchCommand() *cli.Command {
	var (
		cfg      config
		k        int64
		category string
	)

	flags := []cli.Flag{
		&cli.IntFlag{
			Name:        "k",
			Usage:       "Maximum number of hits",
			Value:       5,
			Destination: &k,
		},
		&cli.StringFlag{
			Name:        "category",
			Usage:       "List the foods of a category instead of searching",
			Destination: &category,
		},
	}
	flags = append(flags, indexStoreFlags(&cfg)...)

	return &cli.Command{
		Name:      "search",
		Usage:     "Search the nutrition index",
		ArgsUsage: "<query>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			query := strings.Join(c.Args().Slice(), " ")
			if query == "" && category == "" {
				return goerr.New("query or category is required")
			}

			ctx, err := cfg.setup(ctx, c)
			if err != nil {
				return err
			}
			defer cfg.close()

			embedder, err := cfg.newIndexEmbedder(ctx)
			if err != nil {
				return err
			}
			storage, err := cfg.newStorage(ctx)
			if err != nil {
				return err
			}
			idx, err := cfg.newIndex(ctx, storage, embedder)
			if err != nil {
				return err
			}

			if category != "" {
				records, err := idx.ListByCategory(ctx, category)
				if err != nil {
					return err
				}
				return printJSON(c.Root().Writer, records)
			}

			hits, err := idx.Search(ctx, query, int(k))
			if err != nil {
				return err
			}
			for _, hit := range hits {
				fmt.Fprintf(c.Root().Writer, "%.3f  %-24s %6.0f kcal / %s\n", hit.Score, hit.Record.Name, hit.Record.Calories, hit.Record.ServingUnit)
			}
			return nil
		},
	}
}
