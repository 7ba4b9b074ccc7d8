package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/charmbracelet/lipgloss/tree"
	"github.com/hylla/blockenv/internal/adapters/server/common"
	"github.com/hylla/blockenv/internal/app"
	"github.com/hylla/blockenv/internal/domain"
	"github.com/spf13/cobra"
)

var (
	typeKeyStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("69")).Bold(true)
	blockIDStyle = lipgloss.NewStyle().Faint(true)
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)

func newLayoutCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "layout",
		Short: "Create and inspect layouts",
	}

	var organisationID string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an empty layout at version 0",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			state, err := openRuntime(cmd, opts, nil)
			if err != nil {
				return err
			}
			defer state.Close()
			layout, err := state.env.CreateLayout(cmd.Context(), organisationID)
			if err != nil {
				return fmt.Errorf("create layout: %w", err)
			}
			return writeIndentedJSON(cmd.OutOrStdout(), common.NewLayoutView(layout))
		},
	}
	create.Flags().StringVar(&organisationID, "org", "", "organisation owning the layout")
	_ = create.MarkFlagRequired("org")

	show := &cobra.Command{
		Use:   "show <layout-id>",
		Short: "Print one layout and its version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := openRuntime(cmd, opts, nil)
			if err != nil {
				return err
			}
			defer state.Close()
			layout, err := state.env.GetLayout(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("get layout: %w", err)
			}
			return writeIndentedJSON(cmd.OutOrStdout(), common.NewLayoutView(layout))
		},
	}
	cmd.AddCommand(create, show)
	return cmd
}

func newApplyCommand(opts *globalOptions) *cobra.Command {
	var (
		layoutID       string
		organisationID string
		layoutVersion  int64
	)
	cmd := &cobra.Command{
		Use:   "apply <file|->",
		Short: "Apply one JSON batch of operations to a layout",
		Long: "apply reads {layout_id, organisation_id, version, operations} from a file " +
			"or stdin and saves it as one batch. Flags override the file's header fields.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := readSaveRequest(cmd, args[0])
			if err != nil {
				return err
			}
			if layoutID != "" {
				req.LayoutID = layoutID
			}
			if organisationID != "" {
				req.OrganisationID = organisationID
			}
			if layoutVersion > 0 {
				req.Version = layoutVersion
			}

			state, err := openRuntime(cmd, opts, nil)
			if err != nil {
				return err
			}
			defer state.Close()

			state.logger.Info("command flow start", "command", "apply", "layout_id", req.LayoutID, "operations", len(req.Operations))
			result, err := state.env.Save(cmd.Context(), req)
			if err != nil {
				state.logger.Error("command flow failed", "command", "apply", "err", err)
				return fmt.Errorf("apply batch: %w", err)
			}
			if err := writeIndentedJSON(cmd.OutOrStdout(), result); err != nil {
				return err
			}
			if result.Conflict {
				return fmt.Errorf("%w: layout %s is at version %d", app.ErrVersionConflict, req.LayoutID, result.LatestVersion)
			}
			state.logger.Info("command flow complete", "command", "apply", "version", result.LatestVersion)
			return nil
		},
	}
	cmd.Flags().StringVar(&layoutID, "layout", "", "layout id (overrides the file)")
	cmd.Flags().StringVar(&organisationID, "org", "", "organisation id (overrides the file)")
	cmd.Flags().Int64Var(&layoutVersion, "layout-version", 0, "client layout version (overrides the file)")
	return cmd
}

// readSaveRequest decodes one batch file; "-" reads stdin.
func readSaveRequest(cmd *cobra.Command, path string) (app.SaveRequest, error) {
	var (
		raw []byte
		err error
	)
	if path == "-" {
		raw, err = io.ReadAll(cmd.InOrStdin())
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return app.SaveRequest{}, fmt.Errorf("read batch %q: %w", path, err)
	}
	var req app.SaveRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return app.SaveRequest{}, fmt.Errorf("decode batch %q: %w", path, err)
	}
	return req, nil
}

func newTreeCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tree <layout-id>",
		Short: "Render the block tree of a layout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := openRuntime(cmd, opts, nil)
			if err != nil {
				return err
			}
			defer state.Close()
			layout, err := state.env.GetLayout(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("get layout: %w", err)
			}
			nodes, err := state.env.LayoutTree(cmd.Context(), layout.ID)
			if err != nil {
				return fmt.Errorf("load layout tree: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), renderLayoutTree(layout, nodes))
			return err
		},
	}
}

// renderLayoutTree renders nodes under a layout heading.
func renderLayoutTree(layout domain.Layout, nodes []app.BlockNode) string {
	root := tree.Root(fmt.Sprintf("layout %s (v%d)", layout.ID, layout.Version)).
		Enumerator(tree.RoundedEnumerator)
	for _, node := range nodes {
		root.Child(blockSubtree(node))
	}
	return root.String()
}

func blockSubtree(node app.BlockNode) any {
	label := blockLabel(node.Block)
	if len(node.Children) == 0 {
		return label
	}
	sub := tree.Root(label)
	for _, child := range node.Children {
		sub.Child(blockSubtree(child))
	}
	return sub
}

func blockLabel(b domain.Block) string {
	parts := []string{typeKeyStyle.Render(b.Type.Key)}
	if name := strings.TrimSpace(b.Name); name != "" {
		parts = append(parts, name)
	}
	parts = append(parts, blockIDStyle.Render(b.ID))
	return strings.Join(parts, " ")
}

func newRefsCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "refs <block-id>",
		Short: "List the resolved references of one block",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := openRuntime(cmd, opts, nil)
			if err != nil {
				return err
			}
			defer state.Close()
			refs, err := state.env.ResolveReferences(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("resolve references: %w", err)
			}
			if len(refs) == 0 {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), "no references")
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), renderReferences(refs))
			return err
		},
	}
}

// renderReferences renders one row per resolved reference.
func renderReferences(refs []domain.ResolvedReference) string {
	rows := make([][]string, 0, len(refs))
	for _, ref := range refs {
		label := ""
		if ref.Entity != nil {
			label = ref.Entity.Label
		}
		order := ""
		if ref.OrderIndex != nil {
			order = strconv.Itoa(*ref.OrderIndex)
		}
		warning := ""
		if ref.Warning != domain.ReferenceWarningNone {
			warning = warningStyle.Render(string(ref.Warning))
		}
		rows = append(rows, []string{ref.Path, order, string(ref.EntityType), ref.EntityID, label, warning})
	}
	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers("PATH", "ORDER", "TYPE", "ENTITY", "LABEL", "WARNING").
		Rows(rows...).
		String()
}

func newActivityCommand(opts *globalOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "activity <layout-id>",
		Short: "List the newest activity rows of a layout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := openRuntime(cmd, opts, nil)
			if err != nil {
				return err
			}
			defer state.Close()
			rows, err := state.env.ListActivity(cmd.Context(), args[0], limit)
			if err != nil {
				return fmt.Errorf("list activity: %w", err)
			}
			out := make([][]string, 0, len(rows))
			for _, row := range rows {
				out = append(out, []string{
					row.OccurredAt.Format(time.RFC3339),
					string(row.Operation),
					row.BlockID,
					string(row.ActorType) + ":" + row.ActorID,
				})
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), table.New().
				Border(lipgloss.NormalBorder()).
				Headers("AT", "OPERATION", "BLOCK", "ACTOR").
				Rows(out...).
				String())
			return err
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum rows (default 50)")
	return cmd
}

func writeIndentedJSON(w io.Writer, v any) error {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(encoded))
	return err
}
