package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/nutriguide/pkg/adapter"
	"github.com/m-mizutani/nutriguide/pkg/index"
	"github.com/m-mizutani/nutriguide/pkg/interfaces"
	"github.com/m-mizutani/nutriguide/pkg/policy"
	"github.com/m-mizutani/nutriguide/pkg/repository"
	"github.com/m-mizutani/nutriguide/pkg/tool"
	"github.com/m-mizutani/nutriguide/pkg/tool/diet"
	"github.com/m-mizutani/nutriguide/pkg/tool/food"
	profiletool "github.com/m-mizutani/nutriguide/pkg/tool/profile"
	"github.com/m-mizutani/nutriguide/pkg/tool/qa"
	"github.com/m-mizutani/nutriguide/pkg/usecase/chat"
	"github.com/m-mizutani/nutriguide/pkg/usecase/profile"
	"github.com/m-mizutani/nutriguide/pkg/utils/logging"
	"github.com/urfave/cli/v3"
	"google.golang.org/api/option"
	"gopkg.in/yaml.v3"
)

const (
	backendFile      = "file"
	backendFirestore = "firestore"
	backendMemory    = "memory"

	embedderGemini = "gemini"
	embedderHash   = "hash"
)

// config holds configuration values
type config struct {
	// Global
	configFile string
	logLevel   string
	logFormat  string

	// Google Cloud
	project     string
	database    string
	credentials string

	// Gemini
	geminiAPIKey   string
	geminiProject  string
	geminiLocation string
	geminiModel    string
	embeddingModel string
	llmMaxRetries  int64

	// Profile store
	profileBackend string
	profileDir     string

	// Storage for index snapshots and histories
	storageDir    string
	storageBucket string

	// Nutrition index
	indexBackend    string
	indexKey        string
	indexCollection string
	embedder        string
	embeddingDim    int64
	minScore        float64
	minScoreSet     bool
	indexTimeout    time.Duration

	// Agent
	lookupTopK       int64
	adviceTopK       int64
	maxContextTurns  int64
	routingTimeout   time.Duration
	synthesisTimeout time.Duration
	defaultProfile   bool
	policyDir        string

	closers []func() error
}

// globalFlags returns flags shared by every command
func globalFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Usage:       "YAML settings file; keys are flag names, explicit flags and env vars take precedence",
			Sources:     cli.EnvVars("NUTRIGUIDE_CONFIG"),
			Destination: &cfg.configFile,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "Log level (debug, info, warn, error)",
			Value:       "info",
			Sources:     cli.EnvVars("NUTRIGUIDE_LOG_LEVEL"),
			Destination: &cfg.logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "Log format (console, json)",
			Value:       string(logging.FormatConsole),
			Sources:     cli.EnvVars("NUTRIGUIDE_LOG_FORMAT"),
			Destination: &cfg.logFormat,
		},
	}
}

// cloudFlags returns flags for Google Cloud backends
func cloudFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "project",
			Aliases:     []string{"p"},
			Usage:       "Google Cloud project ID for Firestore and BigQuery",
			Sources:     cli.EnvVars("GOOGLE_CLOUD_PROJECT"),
			Destination: &cfg.project,
		},
		&cli.StringFlag{
			Name:        "database",
			Aliases:     []string{"d"},
			Usage:       "Firestore database ID",
			Value:       "(default)",
			Sources:     cli.EnvVars("FIRESTORE_DATABASE_ID"),
			Destination: &cfg.database,
		},
		&cli.StringFlag{
			Name:        "credentials",
			Usage:       "Service account key file for Google Cloud clients",
			Sources:     cli.EnvVars("NUTRIGUIDE_CREDENTIALS"),
			Destination: &cfg.credentials,
		},
	}
}

// llmFlags returns flags for Gemini
func llmFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "gemini-api-key",
			Usage:       "Gemini API key; Vertex AI is used when empty",
			Sources:     cli.EnvVars("GEMINI_API_KEY"),
			Destination: &cfg.geminiAPIKey,
		},
		&cli.StringFlag{
			Name:        "gemini-project",
			Usage:       "Google Cloud project ID for Gemini on Vertex AI",
			Sources:     cli.EnvVars("GEMINI_PROJECT_ID"),
			Destination: &cfg.geminiProject,
		},
		&cli.StringFlag{
			Name:        "gemini-location",
			Usage:       "Google Cloud location for Gemini on Vertex AI",
			Value:       "us-central1",
			Sources:     cli.EnvVars("GEMINI_LOCATION"),
			Destination: &cfg.geminiLocation,
		},
		&cli.StringFlag{
			Name:        "gemini-model",
			Usage:       "Generative model for routing and replies",
			Value:       "gemini-2.5-flash",
			Sources:     cli.EnvVars("GEMINI_MODEL"),
			Destination: &cfg.geminiModel,
		},
		&cli.StringFlag{
			Name:        "embedding-model",
			Usage:       "Embedding model for the nutrition index",
			Value:       "gemini-embedding-001",
			Sources:     cli.EnvVars("GEMINI_EMBEDDING_MODEL"),
			Destination: &cfg.embeddingModel,
		},
		&cli.IntFlag{
			Name:        "llm-max-retries",
			Usage:       "Retries of a failed Gemini call",
			Value:       2,
			Sources:     cli.EnvVars("NUTRIGUIDE_LLM_MAX_RETRIES"),
			Destination: &cfg.llmMaxRetries,
		},
	}
}

// profileFlags returns flags for the profile store
func profileFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "profile-backend",
			Usage:       "Profile store backend (file, firestore)",
			Value:       backendFile,
			Sources:     cli.EnvVars("NUTRIGUIDE_PROFILE_BACKEND"),
			Destination: &cfg.profileBackend,
		},
		&cli.StringFlag{
			Name:        "profile-dir",
			Usage:       "Directory of profile files for the file backend",
			Value:       "data/profiles",
			Sources:     cli.EnvVars("NUTRIGUIDE_PROFILE_DIR"),
			Destination: &cfg.profileDir,
		},
	}
}

// storageFlags returns flags for the object storage holding index snapshots and histories
func storageFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "storage-dir",
			Usage:       "Local directory for index snapshots and conversation histories",
			Value:       "data",
			Sources:     cli.EnvVars("NUTRIGUIDE_STORAGE_DIR"),
			Destination: &cfg.storageDir,
		},
		&cli.StringFlag{
			Name:        "storage-bucket",
			Usage:       "Cloud Storage bucket; overrides storage-dir when set",
			Sources:     cli.EnvVars("NUTRIGUIDE_STORAGE_BUCKET"),
			Destination: &cfg.storageBucket,
		},
	}
}

// indexFlags returns flags for the nutrition index
func indexFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "index-backend",
			Usage:       "Nutrition index backend (memory, firestore)",
			Value:       backendMemory,
			Sources:     cli.EnvVars("NUTRIGUIDE_INDEX_BACKEND"),
			Destination: &cfg.indexBackend,
		},
		&cli.StringFlag{
			Name:        "index-key",
			Usage:       "Object key of the index snapshot for the memory backend",
			Value:       index.DefaultSnapshotKey,
			Sources:     cli.EnvVars("NUTRIGUIDE_INDEX_KEY"),
			Destination: &cfg.indexKey,
		},
		&cli.StringFlag{
			Name:        "index-collection",
			Usage:       "Firestore collection for the firestore backend",
			Value:       index.DefaultCollection,
			Sources:     cli.EnvVars("NUTRIGUIDE_INDEX_COLLECTION"),
			Destination: &cfg.indexCollection,
		},
		&cli.StringFlag{
			Name:        "embedder",
			Usage:       "Embedder for the index (gemini, hash)",
			Value:       embedderGemini,
			Sources:     cli.EnvVars("NUTRIGUIDE_EMBEDDER"),
			Destination: &cfg.embedder,
		},
		&cli.IntFlag{
			Name:        "embedding-dimension",
			Usage:       "Dimension of embedding vectors",
			Value:       768,
			Sources:     cli.EnvVars("NUTRIGUIDE_EMBEDDING_DIMENSION"),
			Destination: &cfg.embeddingDim,
		},
		&cli.FloatFlag{
			Name:        "min-score",
			Usage:       "Minimum cosine similarity of a search hit; each embedder has its own default",
			Sources:     cli.EnvVars("NUTRIGUIDE_MIN_SCORE"),
			Destination: &cfg.minScore,
		},
		&cli.DurationFlag{
			Name:        "index-timeout",
			Usage:       "Timeout of a single index query",
			Value:       10 * time.Second,
			Sources:     cli.EnvVars("NUTRIGUIDE_INDEX_TIMEOUT"),
			Destination: &cfg.indexTimeout,
		},
	}
}

// agentFlags returns flags for the conversation agent and its tools
func agentFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:        "lookup-top-k",
			Usage:       "Number of foods returned by lookups and used as Q&A grounding",
			Value:       food.DefaultTopK,
			Sources:     cli.EnvVars("NUTRIGUIDE_LOOKUP_TOP_K"),
			Destination: &cfg.lookupTopK,
		},
		&cli.IntFlag{
			Name:        "advice-top-k",
			Usage:       "Number of foods suggested by diet advice",
			Value:       diet.DefaultTopK,
			Sources:     cli.EnvVars("NUTRIGUIDE_ADVICE_TOP_K"),
			Destination: &cfg.adviceTopK,
		},
		&cli.IntFlag{
			Name:        "max-context-turns",
			Usage:       "Number of recent turns given to the model",
			Value:       chat.DefaultMaxContextTurns,
			Sources:     cli.EnvVars("NUTRIGUIDE_MAX_CONTEXT_TURNS"),
			Destination: &cfg.maxContextTurns,
		},
		&cli.DurationFlag{
			Name:        "routing-timeout",
			Usage:       "Timeout of tool routing; no tool is used when it expires",
			Value:       chat.DefaultRoutingTimeout,
			Sources:     cli.EnvVars("NUTRIGUIDE_ROUTING_TIMEOUT"),
			Destination: &cfg.routingTimeout,
		},
		&cli.DurationFlag{
			Name:        "synthesis-timeout",
			Usage:       "Timeout of reply generation",
			Value:       chat.DefaultSynthesisTimeout,
			Sources:     cli.EnvVars("NUTRIGUIDE_SYNTHESIS_TIMEOUT"),
			Destination: &cfg.synthesisTimeout,
		},
		&cli.BoolFlag{
			Name:        "create-default-profile",
			Usage:       "Create a default profile for users who have none; --create-default-profile=false disables it",
			Value:       true,
			Sources:     cli.EnvVars("NUTRIGUIDE_CREATE_DEFAULT_PROFILE"),
			Destination: &cfg.defaultProfile,
		},
		&cli.StringFlag{
			Name:        "policy-dir",
			Usage:       "Directory of .rego dietary restriction policies; built-in policies are used when empty",
			Sources:     cli.EnvVars("NUTRIGUIDE_POLICY_DIR"),
			Destination: &cfg.policyDir,
		},
	}
}

// setup applies the settings file and installs the logger. It must run first in every action.
func (cfg *config) setup(ctx context.Context, c *cli.Command) (context.Context, error) {
	if cfg.configFile != "" {
		if err := cfg.applySettingsFile(c, cfg.configFile); err != nil {
			return ctx, err
		}
	}

	cfg.minScoreSet = c.IsSet("min-score")

	format := logging.Format(cfg.logFormat)
	if format != logging.FormatConsole && format != logging.FormatJSON {
		return ctx, goerr.New("invalid log format", goerr.V("format", cfg.logFormat))
	}

	logger := logging.New(cfg.logLevel, c.Root().ErrWriter, logging.WithFormat(format))
	logging.SetDefault(logger)
	return logging.With(ctx, logger), nil
}

// applySettingsFile sets every flag named in the YAML file unless the flag was given explicitly
func (cfg *config) applySettingsFile(c *cli.Command, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return goerr.Wrap(err, "failed to read settings file", goerr.V("path", path))
	}

	var settings map[string]any
	if err := yaml.Unmarshal(raw, &settings); err != nil {
		return goerr.Wrap(err, "failed to parse settings file", goerr.V("path", path))
	}

	known := map[string]bool{}
	for _, flag := range c.Flags {
		for _, name := range flag.Names() {
			known[name] = true
		}
	}

	for name, value := range settings {
		if name == "config" || !known[name] {
			return goerr.New("unknown setting", goerr.V("name", name), goerr.V("path", path))
		}
		if c.IsSet(name) {
			continue
		}

		values := []any{value}
		if list, ok := value.([]any); ok {
			values = list
		}
		for _, v := range values {
			if err := c.Set(name, fmt.Sprint(v)); err != nil {
				return goerr.Wrap(err, "invalid setting", goerr.V("name", name), goerr.V("value", v))
			}
		}
	}
	return nil
}

func (cfg *config) close() {
	for i := len(cfg.closers) - 1; i >= 0; i-- {
		if err := cfg.closers[i](); err != nil {
			logging.Default().Warn("failed to close client", "error", err)
		}
	}
	cfg.closers = nil
}

func (cfg *config) clientOptions() []option.ClientOption {
	if cfg.credentials == "" {
		return nil
	}
	return []option.ClientOption{option.WithCredentialsFile(cfg.credentials)}
}

// newGemini creates a new Gemini adapter instance
func (cfg *config) newGemini(ctx context.Context) (adapter.Gemini, error) {
	if cfg.geminiAPIKey == "" {
		if cfg.geminiProject == "" {
			return nil, goerr.New("gemini-api-key or gemini-project is required")
		}
		if cfg.geminiLocation == "" {
			return nil, goerr.New("gemini-location is required")
		}
	}
	if cfg.llmMaxRetries < 0 {
		return nil, goerr.New("llm-max-retries must not be negative", goerr.V("value", cfg.llmMaxRetries))
	}

	client, err := adapter.NewGemini(ctx, adapter.GeminiConfig{
		APIKey:   cfg.geminiAPIKey,
		Project:  cfg.geminiProject,
		Location: cfg.geminiLocation,
	},
		adapter.WithGenerativeModel(cfg.geminiModel),
		adapter.WithEmbeddingModel(cfg.embeddingModel),
		adapter.WithMaxRetries(uint64(cfg.llmMaxRetries)),
	)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create gemini client")
	}
	return client, nil
}

// newRepository creates the profile repository selected by profile-backend
func (cfg *config) newRepository(ctx context.Context) (repository.Repository, error) {
	switch cfg.profileBackend {
	case backendFile:
		if cfg.profileDir == "" {
			return nil, goerr.New("profile-dir is required")
		}
		repo, err := repository.NewFile(cfg.profileDir)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create file repository")
		}
		return repo, nil

	case backendFirestore:
		if cfg.project == "" {
			return nil, goerr.New("project is required")
		}
		if cfg.database == "" {
			return nil, goerr.New("database is required")
		}
		repo, err := repository.New(ctx, cfg.project, cfg.database, cfg.clientOptions()...)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create repository")
		}
		cfg.closers = append(cfg.closers, repo.Close)
		return repo, nil

	default:
		return nil, goerr.New("unsupported profile backend",
			goerr.V("backend", cfg.profileBackend),
			goerr.V("supported", []string{backendFile, backendFirestore}))
	}
}

// newProfiles creates the profile store
func (cfg *config) newProfiles(ctx context.Context) (*profile.UseCase, error) {
	repo, err := cfg.newRepository(ctx)
	if err != nil {
		return nil, err
	}
	return profile.New(repo), nil
}

// newStorage creates a new Storage adapter instance
func (cfg *config) newStorage(ctx context.Context) (adapter.Storage, error) {
	if cfg.storageBucket != "" {
		storage, err := adapter.NewStorage(ctx, cfg.storageBucket, cfg.clientOptions()...)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create storage")
		}
		return storage, nil
	}

	if cfg.storageDir == "" {
		return nil, goerr.New("storage-dir or storage-bucket is required")
	}
	storage, err := adapter.NewLocalStorage(cfg.storageDir)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create local storage")
	}
	return storage, nil
}

// newEmbedder creates the embedder selected by the embedder flag. gemini may be nil for the hash embedder.
func (cfg *config) newEmbedder(gemini adapter.Gemini) (interfaces.Embedder, error) {
	if cfg.embeddingDim <= 0 {
		return nil, goerr.New("embedding-dimension must be positive", goerr.V("value", cfg.embeddingDim))
	}

	switch cfg.embedder {
	case embedderGemini:
		if gemini == nil {
			return nil, goerr.New("gemini embedder requires a gemini client")
		}
		return index.NewGeminiEmbedder(gemini, int(cfg.embeddingDim)), nil
	case embedderHash:
		return index.NewHashEmbedder(int(cfg.embeddingDim)), nil
	default:
		return nil, goerr.New("unsupported embedder",
			goerr.V("embedder", cfg.embedder),
			goerr.V("supported", []string{embedderGemini, embedderHash}))
	}
}

func (cfg *config) indexOptions() ([]index.Option, error) {
	opts := []index.Option{index.WithTimeout(cfg.indexTimeout)}
	if !cfg.minScoreSet {
		return opts, nil
	}

	if cfg.minScore < -1 || cfg.minScore > 1 {
		return nil, goerr.New("min-score must be within [-1, 1]", goerr.V("value", cfg.minScore))
	}
	return append(opts, index.WithMinScore(cfg.minScore)), nil
}

// newFirestoreIndex creates the Firestore vector index
func (cfg *config) newFirestoreIndex(ctx context.Context, embedder interfaces.Embedder) (*index.Firestore, error) {
	if cfg.project == "" {
		return nil, goerr.New("project is required for the firestore index")
	}
	opts, err := cfg.indexOptions()
	if err != nil {
		return nil, err
	}

	idx, err := index.NewFirestoreWithOptions(ctx, cfg.project, cfg.database, cfg.indexCollection, embedder, cfg.clientOptions(), opts...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore index")
	}
	cfg.closers = append(cfg.closers, idx.Close)
	return idx, nil
}

// newIndex opens the nutrition index selected by index-backend
func (cfg *config) newIndex(ctx context.Context, storage adapter.Storage, embedder interfaces.Embedder) (interfaces.NutritionIndex, error) {
	switch cfg.indexBackend {
	case backendMemory:
		opts, err := cfg.indexOptions()
		if err != nil {
			return nil, err
		}
		idx, err := index.Load(ctx, storage, cfg.indexKey, embedder, opts...)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to load index snapshot; run `index build` first", goerr.V("key", cfg.indexKey))
		}
		logging.From(ctx).Debug("index loaded", "records", idx.Len(), "embedder", embedder.Name())
		return idx, nil

	case backendFirestore:
		return cfg.newFirestoreIndex(ctx, embedder)

	default:
		return nil, goerr.New("unsupported index backend",
			goerr.V("backend", cfg.indexBackend),
			goerr.V("supported", []string{backendMemory, backendFirestore}))
	}
}

// newRegistry creates the tool set
func (cfg *config) newRegistry(ctx context.Context) (*tool.Registry, error) {
	var opts []policy.Option
	if cfg.policyDir != "" {
		opts = append(opts, policy.WithPolicyDir(cfg.policyDir))
	}
	filter, err := policy.New(ctx, opts...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load dietary policies")
	}

	registry, err := tool.New(
		food.NewLookup(food.WithTopK(int(cfg.lookupTopK))),
		food.NewCategorySearch(),
		diet.New(filter, diet.WithTopK(int(cfg.adviceTopK))),
		qa.New(qa.WithTopK(int(cfg.lookupTopK))),
		profiletool.New(),
	)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create tool registry")
	}
	return registry, nil
}

// newAgent wires the conversation agent with every backend
func (cfg *config) newAgent(ctx context.Context) (*chat.Agent, error) {
	if cfg.maxContextTurns <= 0 {
		return nil, goerr.New("max-context-turns must be positive", goerr.V("value", cfg.maxContextTurns))
	}

	gemini, err := cfg.newGemini(ctx)
	if err != nil {
		return nil, err
	}
	profiles, err := cfg.newProfiles(ctx)
	if err != nil {
		return nil, err
	}
	storage, err := cfg.newStorage(ctx)
	if err != nil {
		return nil, err
	}
	embedder, err := cfg.newEmbedder(gemini)
	if err != nil {
		return nil, err
	}
	idx, err := cfg.newIndex(ctx, storage, embedder)
	if err != nil {
		return nil, err
	}
	registry, err := cfg.newRegistry(ctx)
	if err != nil {
		return nil, err
	}

	return chat.New(gemini, registry, profiles, idx,
		chat.WithHistoryStore(chat.NewStorageHistory(storage)),
		chat.WithMaxContextTurns(int(cfg.maxContextTurns)),
		chat.WithRoutingTimeout(cfg.routingTimeout),
		chat.WithSynthesisTimeout(cfg.synthesisTimeout),
		chat.WithCreateDefaultProfile(cfg.defaultProfile),
	), nil
}

// agentCommandFlags is the flag set of commands that run the agent
func agentCommandFlags(cfg *config) []cli.Flag {
	var flags []cli.Flag
	flags = append(flags, globalFlags(cfg)...)
	flags = append(flags, cloudFlags(cfg)...)
	flags = append(flags, llmFlags(cfg)...)
	flags = append(flags, profileFlags(cfg)...)
	flags = append(flags, storageFlags(cfg)...)
	flags = append(flags, indexFlags(cfg)...)
	flags = append(flags, agentFlags(cfg)...)
	return flags
}
