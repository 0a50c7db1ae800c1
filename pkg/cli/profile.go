package cli

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/nutriguide/pkg/model"
	"github.com/urfave/cli/v3"
)

func profileCommand() *cli.Command {
	return &cli.Command{
		Name:  "profile",
		Usage: "Manage user health profiles",
		Commands: []*cli.Command{
			profileSetCommand(),
			profileShowCommand(),
		},
	}
}

func profileStoreFlags(cfg *config) []cli.Flag {
	var flags []cli.Flag
	flags = append(flags, globalFlags(cfg)...)
	flags = append(flags, cloudFlags(cfg)...)
	flags = append(flags, profileFlags(cfg)...)
	return flags
}

func profileSetCommand() *cli.Command {
	var (
		cfg         config
		userID      string
		age         int64
		height      float64
		weight      float64
		goal        string
		sex         string
		activity    string
		preferences []string
	)

	flags := []cli.Flag{
		userFlag(&userID),
		&cli.IntFlag{Name: "age", Usage: "Age in years", Destination: &age},
		&cli.FloatFlag{Name: "height", Usage: "Height in centimeters", Destination: &height},
		&cli.FloatFlag{Name: "weight", Usage: "Weight in kilograms", Destination: &weight},
		&cli.StringFlag{Name: "goal", Usage: "Health goal (lose-weight, gain-muscle, improve-health, maintain, gain-weight)", Destination: &goal},
		&cli.StringFlag{Name: "sex", Usage: "male, female or unspecified", Destination: &sex},
		&cli.StringFlag{Name: "activity", Usage: "Activity level (sedentary, light, moderate, active)", Destination: &activity},
		&cli.StringSliceFlag{Name: "preference", Usage: "Dietary preference or restriction; replaces the stored list", Destination: &preferences},
	}
	flags = append(flags, profileStoreFlags(&cfg)...)

	return &cli.Command{
		Name:  "set",
		Usage: "Create or update a profile. Only the given fields change.",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, err := cfg.setup(ctx, c)
			if err != nil {
				return err
			}
			defer cfg.close()

			var update model.ProfileUpdate
			if c.IsSet("age") {
				v := int(age)
				update.Age = &v
			}
			if c.IsSet("height") {
				update.HeightCM = &height
			}
			if c.IsSet("weight") {
				update.WeightKG = &weight
			}
			if c.IsSet("goal") {
				v := model.Goal(goal)
				update.Goal = &v
			}
			if c.IsSet("sex") {
				v := model.Sex(sex)
				update.Sex = &v
			}
			if c.IsSet("activity") {
				v := model.ActivityLevel(activity)
				update.ActivityLevel = &v
			}
			if c.IsSet("preference") {
				update.Preferences = preferences
			}
			if update.IsEmpty() {
				return goerr.New("no profile field is given")
			}

			profiles, err := cfg.newProfiles(ctx)
			if err != nil {
				return err
			}

			profile, err := profiles.Upsert(ctx, model.UserID(userID), update)
			if err != nil {
				return goerr.Wrap(err, "failed to update profile", goerr.V("user_id", userID))
			}
			return printJSON(c.Root().Writer, profile)
		},
	}
}

func profileShowCommand() *cli.Command {
	var (
		cfg    config
		userID string
	)

	flags := []cli.Flag{userFlag(&userID)}
	flags = append(flags, profileStoreFlags(&cfg)...)

	return &cli.Command{
		Name:  "show",
		Usage: "Show a profile",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, err := cfg.setup(ctx, c)
			if err != nil {
				return err
			}
			defer cfg.close()

			profiles, err := cfg.newProfiles(ctx)
			if err != nil {
				return err
			}

			profile, err := profiles.Get(ctx, model.UserID(userID))
			if err != nil {
				return goerr.Wrap(err, "failed to get profile", goerr.V("user_id", userID))
			}
			return printJSON(c.Root().Writer, profile)
		},
	}
}
