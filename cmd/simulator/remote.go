package main

import (
	"context"
	"encoding/json"
	"io"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"consensus-simulator/internal/client"
)

func newRemoteCmd(a *app) *cobra.Command {
	var serverURL string

	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Drive a running simulator service over HTTP",
	}
	cmd.PersistentFlags().StringVar(&serverURL, "server", "", "simulator service URL (overrides client.server_url)")

	newClient := func() *client.Client {
		url := a.cfg.Client.ServerURL
		if serverURL != "" {
			url = serverURL
		}
		return client.New(url, a.cfg.Client.Timeout, a.cfg.Client.Retries)
	}

	simple := func(use, short string, call func(ctx context.Context, c *client.Client) (any, error)) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				out, err := call(cmd.Context(), newClient())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), out)
			},
		}
	}

	cmd.AddCommand(
		simple("mine", "Run one PoW mining round", func(ctx context.Context, c *client.Client) (any, error) {
			return c.Mine(ctx)
		}),
		simple("blockchain", "Print the PoW chain", func(ctx context.Context, c *client.Client) (any, error) {
			return c.Blockchain(ctx)
		}),
		simple("miners", "List PoW miners", func(ctx context.Context, c *client.Client) (any, error) {
			return c.Miners(ctx)
		}),
		simple("validators", "Print PoS validator statistics", func(ctx context.Context, c *client.Client) (any, error) {
			return c.Validators(ctx)
		}),
		simple("fork", "Create a fork", func(ctx context.Context, c *client.Client) (any, error) {
			return c.CreateFork(ctx)
		}),
		simple("resolve", "Resolve the current fork with the longest chain rule", func(ctx context.Context, c *client.Client) (any, error) {
			return c.ResolveFork(ctx)
		}),
		simple("chains", "List fork branches", func(ctx context.Context, c *client.Client) (any, error) {
			return c.Chains(ctx)
		}),
		newRemoteValidateCmd(newClient),
		newRemoteTreeCmd(newClient),
		newRemoteResetCmd(newClient),
	)

	return cmd
}

func newRemoteValidateCmd(newClient func() *client.Client) *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Select PoS validators",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient()
			if count == 1 {
				res, err := c.Validate(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			}

			summary, err := c.ValidateMany(cmd.Context(), count)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), summary)
		},
	}

	cmd.Flags().IntVar(&count, "count", 1, "number of selections to run")
	return cmd
}

func newRemoteTreeCmd(newClient func() *client.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "tree",
		Short: "Print the fork tree",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tree, err := newClient().ForkTree(cmd.Context())
			if err != nil {
				return err
			}
			fprintf(cmd.OutOrStdout(), "%s", tree)
			return nil
		},
	}
}

func newRemoteResetCmd(newClient func() *client.Client) *cobra.Command {
	return &cobra.Command{
		Use:       "reset {pow|pos|fork}",
		Short:     "Reset one simulator to its initial state",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"pow", "pos", "fork"},
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient()
			ctx := cmd.Context()

			var err error
			switch args[0] {
			case "pow":
				err = c.ResetPoW(ctx)
			case "pos":
				err = c.ResetPoS(ctx)
			case "fork":
				err = c.ResetFork(ctx)
			default:
				return errors.Errorf("unknown simulator %q, want pow, pos or fork", args[0])
			}
			if err != nil {
				return err
			}

			fprintf(cmd.OutOrStdout(), "%s simulator has been reset\n", args[0])
			return nil
		},
	}
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode response")
	}
	fprintf(w, "%s\n", data)
	return nil
}
