package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/shana/internal/backend"
	"github.com/jmylchreest/shana/internal/config"
)

var configOpts struct {
	output string
	force  bool
}

// configCmd represents the config command group.
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or create the routing configuration",
	Long: `Inspect or create the routing configuration.

Use 'config path' to print where the configuration is read from.
Use 'config show' to print the routing the router would use right now.
Use 'config check' to validate a configuration file.
Use 'config init' to write a configuration file with the defaults.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun(cmd, args)
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the configuration file path",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath()
		if path == "" {
			return errors.New("unable to determine config path: neither XDG_CONFIG_HOME nor HOME is set")
		}
		_, err := fmt.Fprintln(cmd.OutOrStdout(), path)
		return err
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the resolved routing",
	Long: `Show the backend used for each file chooser operation.

Missing or malformed configuration files resolve to the defaults, exactly
as the running router would.`,
	Args: cobra.NoArgs,
	RunE: configShowRun,
}

var configCheckCmd = &cobra.Command{
	Use:   "check [file]",
	Short: "Validate a configuration file",
	Long: `Parse a configuration file strictly and report problems.

The router itself never fails on a bad file; it falls back to the defaults.
This command tells you when that would happen.`,
	Args: cobra.MaximumNArgs(1),
	RunE: configCheckRun,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a configuration file with the default routing",
	Args:  cobra.NoArgs,
	RunE:  configInitRun,
}

func init() {
	configShowCmd.Flags().StringVarP(&configOpts.output, "output", "o", "table",
		"Output format: table, toml, yaml")
	configCmd.Flags().AddFlagSet(configShowCmd.Flags())
	configInitCmd.Flags().BoolVarP(&configOpts.force, "force", "f", false,
		"Overwrite an existing configuration file")

	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configCheckCmd)
	configCmd.AddCommand(configInitCmd)

	rootCmd.AddCommand(configCmd)
}

func configPath() string {
	if globalOpts.configPath != "" {
		return globalOpts.configPath
	}
	return config.ConfigPath()
}

func configShowRun(cmd *cobra.Command, args []string) error {
	path := configPath()
	return renderRouting(cmd.OutOrStdout(), configOpts.output, path, config.Load(path))
}

func configCheckRun(cmd *cobra.Command, args []string) error {
	path := configPath()
	if len(args) == 1 {
		path = args[0]
	}

	f, err := config.LoadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%s does not exist (the default routing applies)", path)
		}
		return fmt.Errorf("%s: %w (the default routing applies)", path, err)
	}

	out := cmd.OutOrStdout()
	routing := config.NewRouting(f)
	for _, r := range routes(routing) {
		if r.Selection.Kind() == backend.KindOther {
			fmt.Fprintf(out, "note: %s uses unknown backend %q, forwarded to that bus name verbatim\n",
				r.Operation, r.Selection.String())
		}
	}
	fmt.Fprintf(out, "%s is valid\n", path)
	return nil
}

func configInitRun(cmd *cobra.Command, args []string) error {
	path := configPath()
	if path == "" {
		return errors.New("unable to determine config path: neither XDG_CONFIG_HOME nor HOME is set")
	}

	if _, err := os.Stat(path); err == nil && !configOpts.force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	if err := config.DefaultRouting().File().Save(path); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
	return nil
}

// route is one row of the routing table.
type route struct {
	Operation string
	Selection backend.Selection
}

func routes(r config.Routing) []route {
	return []route{
		{"open_file", r.OpenFile},
		{"open_file_when_directory", r.OpenFileWhenDirectory},
		{"save_file", r.SaveFile},
		{"save_files", r.SaveFiles},
	}
}

// shownRoute is the yaml form of a route.
type shownRoute struct {
	Operation   string `yaml:"operation"`
	Backend     string `yaml:"backend"`
	Destination string `yaml:"destination"`
}

// shownConfig is the yaml form of config show.
type shownConfig struct {
	Path   string       `yaml:"path"`
	Exists bool         `yaml:"exists"`
	Routes []shownRoute `yaml:"routes"`
}

func renderRouting(w io.Writer, format, path string, routing config.Routing) error {
	switch format {
	case "toml":
		data, err := toml.Marshal(routing.File())
		if err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		_, err = w.Write(data)
		return err

	case "yaml":
		shown := shownConfig{Path: path}
		if _, err := os.Stat(path); err == nil {
			shown.Exists = true
		}
		for _, r := range routes(routing) {
			shown.Routes = append(shown.Routes, shownRoute{
				Operation:   r.Operation,
				Backend:     r.Selection.String(),
				Destination: r.Selection.ServiceName(),
			})
		}
		data, err := yaml.Marshal(shown)
		if err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		_, err = w.Write(data)
		return err

	case "table", "":
		_, err := io.WriteString(w, renderTable(path, routing))
		return err

	default:
		return fmt.Errorf("unknown output format %q (use table, toml or yaml)", format)
	}
}

func renderTable(path string, routing config.Routing) string {
	headerStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12"))
	labelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("8"))
	opStyle := lipgloss.NewStyle().Width(26)
	backendStyle := lipgloss.NewStyle().Width(22)

	var b strings.Builder
	b.WriteString(headerStyle.Render("Configuration"))
	b.WriteString("\n")

	source := path
	if path == "" {
		source = "(unknown, HOME not set)"
	}
	b.WriteString(labelStyle.Render("  file:  ") + source + "\n")

	if info, err := os.Stat(path); err == nil {
		b.WriteString(labelStyle.Render("  state: ") + fmt.Sprintf("modified %s, %s",
			humanize.Time(info.ModTime()), humanize.Bytes(uint64(info.Size()))) + "\n")
	} else {
		b.WriteString(labelStyle.Render("  state: ") + "not found, defaults apply\n")
	}

	b.WriteString("\n")
	b.WriteString(headerStyle.Render(opStyle.Render("OPERATION") + backendStyle.Render("BACKEND") + "DESTINATION"))
	b.WriteString("\n")
	for _, r := range routes(routing) {
		b.WriteString(opStyle.Render(r.Operation))
		b.WriteString(backendStyle.Render(r.Selection.String()))
		b.WriteString(labelStyle.Render(r.Selection.ServiceName()))
		b.WriteString("\n")
	}
	return b.String()
}
