package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

// Version is reported to MCP clients
var Version = "dev"

type Error struct {
	Code    int
	Message string
}

func Run(ctx context.Context, argv []string) *Error {
	return run(ctx, argv, os.Stdout, os.Stderr)
}

// RunForTest runs the command line with captured output
func RunForTest(ctx context.Context, argv []string, stdout, stderr io.Writer) *Error {
	return run(ctx, argv, stdout, stderr)
}

func run(ctx context.Context, argv []string, stdout, stderr io.Writer) *Error {
	cmd := &cli.Command{
		Name:  "nutriguide",
		Usage: "Nutrition guidance agent backed by a food database and Gemini",
		Commands: []*cli.Command{
			chatCommand(),
			askCommand(),
			profileCommand(),
			indexCommand(),
			mcpCommand(),
		},
		Writer:    stdout,
		ErrWriter: stderr,
	}

	if err := cmd.Run(ctx, argv); err != nil {
		return &Error{
			Code:    1,
			Message: err.Error(),
		}
	}

	return nil
}

func userFlag(userID *string) cli.Flag {
	return &cli.StringFlag{
		Name:        "user",
		Aliases:     []string{"u"},
		Usage:       "User ID",
		Sources:     cli.EnvVars("NUTRIGUIDE_USER_ID"),
		Destination: userID,
		Required:    true,
	}
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return goerr.Wrap(err, "failed to marshal output")
	}
	fmt.Fprintf(w, "%s\n", string(data))
	return nil
}
