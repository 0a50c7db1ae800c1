package policy

import (
	"context"
	"embed"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/m-mizutani/goerr/v2"
	"github.com/open-policy-agent/opa/v1/rego"
)

//go:embed policies/*.rego
var defaultPolicies embed.FS

// loadModules reads every .rego file in policyDir, or the built-in policies when policyDir is empty
func loadModules(policyDir string) ([]func(*rego.Rego), error) {
	if policyDir == "" {
		return loadEmbedded()
	}

	files, err := filepath.Glob(filepath.Join(policyDir, "*.rego"))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to glob policy files", goerr.V("dir", policyDir))
	}
	if len(files) == 0 {
		return nil, goerr.New("no policy file found", goerr.V("dir", policyDir))
	}

	modules := make([]func(*rego.Rego), 0, len(files))
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to read policy file", goerr.V("path", file))
		}
		modules = append(modules, rego.Module(file, string(data)))
	}
	return modules, nil
}

func loadEmbedded() ([]func(*rego.Rego), error) {
	files, err := fs.Glob(defaultPolicies, "policies/*.rego")
	if err != nil {
		return nil, goerr.Wrap(err, "failed to glob built-in policies")
	}

	modules := make([]func(*rego.Rego), 0, len(files))
	for _, file := range files {
		data, err := defaultPolicies.ReadFile(file)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to read built-in policy", goerr.V("path", file))
		}
		modules = append(modules, rego.Module(file, string(data)))
	}
	return modules, nil
}

// prepareQuery prepares a Rego query with all loaded modules
func prepareQuery(ctx context.Context, modules []func(*rego.Rego), query string) (*rego.PreparedEvalQuery, error) {
	options := make([]func(*rego.Rego), 0, len(modules)+1)
	options = append(options, rego.Query(query))
	options = append(options, modules...)

	prepared, err := rego.New(options...).PrepareForEval(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to prepare query", goerr.V("query", query))
	}

	return &prepared, nil
}
