package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/chzyer/readline"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/nutriguide/pkg/model"
	"github.com/m-mizutani/nutriguide/pkg/usecase/chat"
	"github.com/urfave/cli/v3"
)

const chatHelp = `Commands:
  /profile  show your profile
  /history  show the conversation so far
  /reset    forget the conversation
  exit      quit`

func chatCommand() *cli.Command {
	var (
		cfg         config
		userID      string
		historyFile string
	)

	flags := []cli.Flag{
		userFlag(&userID),
		&cli.StringFlag{
			Name:        "input-history",
			Usage:       "File that keeps typed lines across runs",
			Sources:     cli.EnvVars("NUTRIGUIDE_INPUT_HISTORY"),
			Destination: &historyFile,
		},
	}
	flags = append(flags, agentCommandFlags(&cfg)...)

	return &cli.Command{
		Name:  "chat",
		Usage: "Talk with the nutrition assistant",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, err := cfg.setup(ctx, c)
			if err != nil {
				return err
			}
			defer cfg.close()

			agent, err := cfg.newAgent(ctx)
			if err != nil {
				return err
			}

			rl, err := readline.NewEx(&readline.Config{
				Prompt:          "> ",
				HistoryFile:     historyFile,
				InterruptPrompt: "^C",
				EOFPrompt:       "exit",
				Stdout:          c.Root().Writer,
				Stderr:          c.Root().ErrWriter,
			})
			if err != nil {
				return goerr.Wrap(err, "failed to initialize line editor")
			}
			defer rl.Close()

			w := c.Root().Writer
			fmt.Fprintf(w, "Chat started as %s. Type /help for commands.\n", userID)

			for {
				line, err := rl.Readline()
				if errors.Is(err, readline.ErrInterrupt) {
					if line == "" {
						break
					}
					continue
				}
				if errors.Is(err, io.EOF) {
					break
				}
				if err != nil {
					return goerr.Wrap(err, "failed to read input")
				}

				message := strings.TrimSpace(line)
				switch message {
				case "":
					continue
				case "exit", "quit":
					return nil
				case "/help":
					fmt.Fprintln(w, chatHelp)
					continue
				}

				if err := chatTurn(ctx, c, agent, model.UserID(userID), message); err != nil {
					fmt.Fprintf(c.Root().ErrWriter, "error: %v\n", err)
				}
			}

			fmt.Fprintf(w, "\nChat session completed\n")
			return nil
		},
	}
}

func chatTurn(ctx context.Context, c *cli.Command, agent *chat.Agent, userID model.UserID, message string) error {
	w := c.Root().Writer

	switch message {
	case "/profile":
		profile, err := agent.Profile(ctx, userID)
		if errors.Is(err, model.ErrProfileNotFound) {
			fmt.Fprintln(w, "No profile yet. Tell me your age, height, weight and goal, or use `profile set`.")
			return nil
		}
		if err != nil {
			return err
		}
		return printJSON(w, profile)

	case "/history":
		turns, err := agent.Turns(ctx, userID)
		if err != nil {
			return err
		}
		for _, turn := range turns {
			fmt.Fprintf(w, "[%d] %s: %s\n", turn.Ordinal, turn.Role, turn.Text)
		}
		return nil

	case "/reset":
		if err := agent.Reset(ctx, userID); err != nil {
			return err
		}
		fmt.Fprintln(w, "Conversation cleared.")
		return nil
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(c.Root().ErrWriter))
	s.Suffix = " thinking..."
	s.Start()
	reply, err := agent.SendTurn(ctx, userID, message)
	s.Stop()
	if err != nil {
		return goerr.Wrap(err, "failed to answer", goerr.V("code", model.ErrorCode(err)))
	}

	fmt.Fprintf(w, "%s\n", reply)
	return nil
}
