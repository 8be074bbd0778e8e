package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/paperlogin/paperlogin/internal/command"
	"github.com/paperlogin/paperlogin/internal/identity"
	"github.com/paperlogin/paperlogin/internal/routes"
)

// playerFlags identify the player a command runs as.
type playerFlags struct {
	id   string
	name string
	op   bool
}

func (f *playerFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.id, "uuid", "", "player UUID (required)")
	cmd.Flags().StringVar(&f.name, "name", "", "player display name")
	cmd.Flags().BoolVar(&f.op, "op", false, "player has operator privileges")
	_ = cmd.MarkFlagRequired("uuid")
}

func (f *playerFlags) toIdentity() (identity.Identity, error) {
	parsed, err := uuid.Parse(f.id)
	if err != nil {
		return identity.Identity{}, fmt.Errorf("invalid --uuid %q: %w", f.id, err)
	}
	return identity.Identity{ID: parsed.String(), DisplayName: f.name, Privileged: f.op}, nil
}

func newLoginCmd() *cobra.Command {
	flags := &playerFlags{}
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Run /login for a player and print the reply",
		Long:  `Issue or reuse the player's login code exactly as the in-game /login command does.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPlayerCommand(cmd, flags, "/"+command.NameLogin)
		},
	}
	flags.register(cmd)
	return cmd
}

func newVerifyCmd() *cobra.Command {
	flags := &playerFlags{}
	cmd := &cobra.Command{
		Use:   "verify <code>",
		Short: "Run /verify <code> for a player and print the reply",
		Long:  `Claim a web verification code for the player exactly as the in-game /verify command does.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlayerCommand(cmd, flags, "/"+command.NameVerify+" "+args[0])
		},
	}
	flags.register(cmd)
	return cmd
}

func runPlayerCommand(cmd *cobra.Command, flags *playerFlags, line string) error {
	id, err := flags.toIdentity()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	rt, err := openEnv(ctx, loggerTo(cmd.ErrOrStderr()))
	if err != nil {
		return err
	}
	defer rt.Close()

	login, web := routes.Managers(rt.deps)
	dispatcher := command.NewDispatcher(login, web, rt.logger)
	return dispatcher.Dispatch(ctx, command.Player(id), line, cmd.OutOrStdout())
}

func newConsumeCmd() *cobra.Command {
	flags := &playerFlags{}
	cmd := &cobra.Command{
		Use:   "consume <code>",
		Short: "Consume a web code on behalf of the website",
		Long: `Consume a web verification code if it is bound to the given player, as the
website does once the player has verified. Prints consumed or rejected.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := flags.toIdentity()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			rt, err := openEnv(ctx, loggerTo(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			defer rt.Close()

			_, web := routes.Managers(rt.deps)
			consumed, err := web.ConsumeIfBoundTo(ctx, id, args[0])
			if err != nil {
				return err
			}
			result := "rejected"
			if consumed {
				result = "consumed"
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), result)
			return err
		},
	}
	flags.register(cmd)
	return cmd
}
