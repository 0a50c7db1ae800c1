package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/nutriguide/pkg/model"
	"github.com/urfave/cli/v3"
)

func askCommand() *cli.Command {
	var (
		cfg     config
		userID  string
		verbose bool
	)

	flags := []cli.Flag{
		userFlag(&userID),
		&cli.BoolFlag{
			Name:        "verbose",
			Aliases:     []string{"v"},
			Usage:       "Print tool results and dropped routing decisions as JSON",
			Destination: &verbose,
		},
	}
	flags = append(flags, agentCommandFlags(&cfg)...)

	return &cli.Command{
		Name:      "ask",
		Usage:     "Send a single message and print the reply",
		ArgsUsage: "<message>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			message := strings.Join(c.Args().Slice(), " ")
			if strings.TrimSpace(message) == "" {
				return goerr.New("message is required")
			}

			ctx, err := cfg.setup(ctx, c)
			if err != nil {
				return err
			}
			defer cfg.close()

			agent, err := cfg.newAgent(ctx)
			if err != nil {
				return err
			}

			result, err := agent.SendTurnDetail(ctx, model.UserID(userID), message)
			if err != nil {
				return goerr.Wrap(err, "failed to answer", goerr.V("code", model.ErrorCode(err)))
			}

			if verbose {
				return printJSON(c.Root().Writer, result)
			}
			fmt.Fprintf(c.Root().Writer, "%s\n", result.Reply)
			return nil
		},
	}
}
