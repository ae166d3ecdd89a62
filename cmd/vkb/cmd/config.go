package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/XuanZiK/V-knowledge/configs"
	"github.com/XuanZiK/V-knowledge/internal/config"
	vkberrors "github.com/XuanZiK/V-knowledge/internal/errors"
	"github.com/XuanZiK/V-knowledge/internal/output"
)

func newConfigCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or edit settings",
	}
	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd(opts))
	cmd.AddCommand(newConfigSetBackendCmd(opts))
	return cmd
}

func newConfigShowCmd(opts *rootOptions) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := opts.loadEnv()
			if err != nil {
				return err
			}
			source := e.settingsPath
			if source == "" {
				source = "defaults"
			}
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "# source: %s\n# data dir: %s\n", source, e.paths.DataDir)

			switch format {
			case "json":
				return e.settings.WriteJSON(cmd.OutOrStdout())
			case "yaml", "yml":
				return e.settings.WriteYAML(cmd.OutOrStdout())
			default:
				return vkberrors.ValidationError(fmt.Sprintf("unknown format %q", format), nil).
					WithSuggestion("use --format json or --format yaml")
			}
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "yaml", "Output format: yaml, json")
	return cmd
}

func newConfigSetBackendCmd(opts *rootOptions) *cobra.Command {
	var mode, host, apiKey string
	var port, timeout int

	cmd := &cobra.Command{
		Use:   "set-backend",
		Short: "Choose the embedded store or a Qdrant server",
		Long: `Persist the vector backend settings.

Examples:
  vkb config set-backend --mode local
  vkb config set-backend --mode server --host qdrant.internal --port 6333`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := opts.loadEnv()
			if err != nil {
				return err
			}
			s := e.settings
			flags := cmd.Flags()
			if flags.Changed("mode") {
				s.Qdrant.Mode = mode
			}
			if flags.Changed("host") {
				s.Qdrant.Host = host
			}
			if flags.Changed("port") {
				s.Qdrant.Port = port
			}
			if flags.Changed("api-key") {
				s.Qdrant.APIKey = apiKey
			}
			if flags.Changed("timeout") {
				s.Qdrant.TimeoutSeconds = timeout
			}
			if err := s.Validate(); err != nil {
				return vkberrors.ValidationError(err.Error(), nil)
			}

			path := e.savePath()
			s.DataDir = e.savedDataDir
			if err := s.Save(path); err != nil {
				return vkberrors.New(vkberrors.ErrCodeFilePermission, fmt.Sprintf("cannot save settings to %s", path), err)
			}
			out := output.New(cmd.OutOrStdout())
			if s.Qdrant.Mode == config.ModeServer {
				out.Successf("Backend set to server %s:%d (%s)", s.Qdrant.Host, s.Qdrant.Port, path)
			} else {
				out.Successf("Backend set to local storage (%s)", path)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", config.ModeLocal, "Backend mode: local, server")
	cmd.Flags().StringVar(&host, "host", "", "Qdrant server host")
	cmd.Flags().IntVar(&port, "port", 6333, "Qdrant server port")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "Qdrant API key")
	cmd.Flags().IntVar(&timeout, "timeout", 10, "Request timeout in seconds")
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write an annotated settings template",
		Long: `Write the commented YAML settings template to path, or to stdout when no
path is given. Point vkb at it with --settings.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				_, err := fmt.Fprint(cmd.OutOrStdout(), configs.SettingsTemplate)
				return err
			}
			path := args[0]
			if _, err := os.Stat(path); err == nil && !force {
				return vkberrors.ValidationError(fmt.Sprintf("%s already exists", path), nil).
					WithSuggestion("pass --force to overwrite")
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return vkberrors.New(vkberrors.ErrCodeFilePermission, "cannot create settings directory", err)
			}
			if err := config.WriteFileAtomic(path, []byte(configs.SettingsTemplate), 0o644); err != nil {
				return vkberrors.New(vkberrors.ErrCodeFilePermission, "cannot write settings", err)
			}
			output.New(cmd.OutOrStdout()).Successf("Wrote %s", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	return cmd
}
