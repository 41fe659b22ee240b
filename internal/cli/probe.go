package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/nodepool/internal/control"
	"github.com/vietddude/nodepool/internal/core/domain"
)

var callTimeout time.Duration

var probeCmd = &cobra.Command{
	Use:   "probe [group]",
	Short: "Probe the nodes of a group once and store the result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		group := domain.GroupID(args[0])
		return withApp(cmd, func(ctx context.Context, app *control.App) error {
			if err := app.Check(ctx, group); err != nil {
				return err
			}
			printNodes(cmd.OutOrStdout(), filterGroup(app.Registry().NodesWithGroups(), group))
			return nil
		})
	},
}

var callCmd = &cobra.Command{
	Use:   "call [group] [method] [params...]",
	Short: "Send a JSON-RPC call through the pool",
	Long: `Send a JSON-RPC call to the best allowed node of a group. Each param is
decoded as JSON, falling back to a plain string.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		group := domain.GroupID(args[0])
		params := parseParams(args[2:])
		return withApp(cmd, func(ctx context.Context, app *control.App) error {
			app.StartControllers()
			ctx, cancel := context.WithTimeout(ctx, callTimeout)
			defer cancel()

			res, err := app.Call(ctx, group, args[1], params)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(res))
			return nil
		})
	},
}

func init() {
	callCmd.Flags().DurationVar(&callTimeout, "timeout", time.Minute, "how long to wait for an allowed node")
	rootCmd.AddCommand(probeCmd, callCmd)
}

func withApp(cmd *cobra.Command, fn func(ctx context.Context, app *control.App) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	app, err := control.New(ctx, cfg)
	if err != nil {
		return err
	}

	fnErr := fn(ctx, app)
	stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := app.Stop(stopCtx); err != nil && fnErr == nil {
		return err
	}
	return fnErr
}

func parseParams(args []string) []any {
	params := make([]any, 0, len(args))
	for _, a := range args {
		var v any
		if err := json.Unmarshal([]byte(a), &v); err != nil {
			v = a
		}
		params = append(params, v)
	}
	return params
}
