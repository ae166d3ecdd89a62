package cmd

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/XuanZiK/V-knowledge/internal/output"
	"github.com/XuanZiK/V-knowledge/internal/store"
)

func newCollectionCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "collection",
		Aliases: []string{"collections", "kb"},
		Short:   "Manage knowledge base collections",
	}
	cmd.AddCommand(newCollectionCreateCmd(opts))
	cmd.AddCommand(newCollectionListCmd(opts))
	cmd.AddCommand(newCollectionInfoCmd(opts))
	cmd.AddCommand(newCollectionDeleteCmd(opts))
	cmd.AddCommand(newCollectionReconcileCmd(opts))
	return cmd
}

func newCollectionCreateCmd(opts *rootOptions) *cobra.Command {
	var vectorSize int

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a collection and make it current",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			size := vectorSize
			if size <= 0 {
				size = a.vectorSize()
			}
			if err := a.store.CreateCollection(cmd.Context(), args[0], size); err != nil {
				return err
			}
			output.New(cmd.OutOrStdout()).Successf("Created collection %s (vector size %d)", args[0], size)
			return nil
		},
	}
	cmd.Flags().IntVar(&vectorSize, "vector-size", 0, "Vector dimension (default: active embedding model's)")
	return cmd
}

func newCollectionListCmd(opts *rootOptions) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List collections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			names, err := a.store.ListCollections(cmd.Context())
			if err != nil {
				return err
			}
			infos := make([]store.CollectionInfo, 0, len(names))
			for _, name := range names {
				infos = append(infos, a.store.CollectionInfo(cmd.Context(), name))
			}

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(infos)
			}
			output.New(cmd.OutOrStdout()).Collections(infos)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newCollectionInfoCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "info <name>",
		Short: "Show document count, creation time and status of a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(a.store.CollectionInfo(cmd.Context(), args[0]))
		},
	}
}

func newCollectionDeleteCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a collection and its vectors",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			if err := a.store.DeleteCollection(cmd.Context(), args[0]); err != nil {
				return err
			}
			a.coordinator.Forget(args[0])
			output.New(cmd.OutOrStdout()).Successf("Deleted collection %s", args[0])
			return nil
		},
	}
}

func newCollectionReconcileCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Align the collection registry with the backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			// openApp already reconciled; run again so the command is explicit
			// about what it reports.
			if err := a.store.Reconcile(cmd.Context()); err != nil {
				return err
			}
			output.New(cmd.OutOrStdout()).Successf("Registry has %d collections", len(a.store.Registry().Names()))
			return nil
		},
	}
}
