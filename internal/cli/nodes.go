package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vietddude/nodepool/internal/control"
	"github.com/vietddude/nodepool/internal/core/domain"
	"github.com/vietddude/nodepool/internal/nodes"
	"github.com/vietddude/nodepool/internal/server"
)

var (
	listGroup   string
	addService  string
	addDisabled bool
)

var nodesCmd = &cobra.Command{
	Use:   "nodes",
	Short: "Inspect and edit the stored node list",
}

var nodesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List nodes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRegistry(cmd, func(r *nodes.Registry) error {
			pairs := r.NodesWithGroups()
			if listGroup != "" {
				pairs = filterGroup(pairs, domain.GroupID(listGroup))
			}
			printNodes(cmd.OutOrStdout(), pairs)
			return nil
		})
	},
}

var nodesAddCmd = &cobra.Command{
	Use:   "add [group] [url]",
	Short: "Add a node to a group",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		node, err := newNode(args[1], addService, !addDisabled)
		if err != nil {
			return err
		}
		return withRegistry(cmd, func(r *nodes.Registry) error {
			added, err := r.AddNode(node, domain.GroupID(args[0]))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), added.ID)
			return nil
		})
	},
}

var nodesRemoveCmd = &cobra.Command{
	Use:   "remove [id]",
	Short: "Remove a node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRegistry(cmd, func(r *nodes.Registry) error {
			return r.RemoveNode(args[0])
		})
	},
}

var nodesEnableCmd = &cobra.Command{
	Use:   "enable [id]",
	Short: "Enable a node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setEnabled(cmd, args[0], true)
	},
}

var nodesDisableCmd = &cobra.Command{
	Use:   "disable [id]",
	Short: "Disable a node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setEnabled(cmd, args[0], false)
	},
}

var nodesResetCmd = &cobra.Command{
	Use:   "reset [group]",
	Short: "Replace the nodes of a group with its defaults",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRegistry(cmd, func(r *nodes.Registry) error {
			return r.ResetNodes(domain.GroupID(args[0]))
		})
	},
}

func init() {
	nodesListCmd.Flags().StringVar(&listGroup, "group", "", "only list nodes of this group")
	nodesAddCmd.Flags().StringVar(&addService, "service", "", "alternative service origin")
	nodesAddCmd.Flags().BoolVar(&addDisabled, "disabled", false, "add the node disabled")

	nodesCmd.AddCommand(nodesListCmd, nodesAddCmd, nodesRemoveCmd, nodesEnableCmd, nodesDisableCmd, nodesResetCmd)
	rootCmd.AddCommand(nodesCmd)
}

// withRegistry loads the registry, runs fn and saves the result.
func withRegistry(cmd *cobra.Command, fn func(r *nodes.Registry) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := context.Background()
	registry, store, err := control.OpenRegistry(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = store.Close()
	}()

	fnErr := fn(registry)
	if err := registry.Close(); err != nil && fnErr == nil {
		return err
	}
	return fnErr
}

func setEnabled(cmd *cobra.Command, id string, enabled bool) error {
	return withRegistry(cmd, func(r *nodes.Registry) error {
		_, err := r.UpdateNode(id, func(n *domain.Node) {
			n.IsEnabled = enabled
		})
		return err
	})
}

func newNode(mainURL, serviceURL string, enabled bool) (domain.Node, error) {
	main, err := domain.ParseOrigin(mainURL)
	if err != nil {
		return domain.Node{}, err
	}
	node := domain.Node{Main: main, IsEnabled: enabled, Status: domain.StatusUnknown}
	if serviceURL != "" {
		service, err := domain.ParseOrigin(serviceURL)
		if err != nil {
			return domain.Node{}, err
		}
		node.Service = &service
	}
	return node, nil
}

func filterGroup(pairs []domain.NodeWithGroup, group domain.GroupID) []domain.NodeWithGroup {
	var out []domain.NodeWithGroup
	for _, p := range pairs {
		if p.Group == group {
			out = append(out, p)
		}
	}
	return out
}

func printNodes(out io.Writer, pairs []domain.NodeWithGroup) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintln(w, "GROUP\tID\tORIGIN\tENABLED\tSTATUS\tHEIGHT\tVERSION\tPING")
	for _, p := range pairs {
		v := server.View(p)
		height, ping := "-", "-"
		if v.Height != nil {
			height = fmt.Sprint(*v.Height)
		}
		if v.PingMs != nil {
			ping = fmt.Sprintf("%dms", *v.PingMs)
		}
		version := v.Version
		if version == "" {
			version = "-"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\t%s\t%s\t%s\n",
			v.Group, v.ID, v.Origin, v.Enabled, v.Status, height, version, ping)
	}
	_ = w.Flush()
}
