package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
)

var configKeys = []string{"server", "timeout", "json", "token", "owner"}

func (c *cli) newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage hookctl configuration",
		Long:  `Manage hookctl configuration settings.`,
	}
	cmd.AddCommand(c.newConfigViewCmd(), c.newConfigSetCmd(), c.newConfigInitCmd())
	return cmd
}

func (c *cli) newConfigViewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "view",
		Short: "View current configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			token := ""
			if c.token != "" {
				token = "(set)"
			}
			if c.outputJSON {
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"server":  c.server,
					"timeout": c.timeout.String(),
					"json":    c.outputJSON,
					"token":   token,
					"owner":   c.owner,
					"file":    c.v.ConfigFileUsed(),
				})
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Current configuration:")
			fmt.Fprintf(out, "  Server: %s\n", c.server)
			fmt.Fprintf(out, "  Timeout: %s\n", c.timeout)
			fmt.Fprintf(out, "  JSON Output: %v\n", c.outputJSON)
			if token != "" {
				fmt.Fprintf(out, "  Token: %s\n", token)
			}
			if c.owner > 0 {
				fmt.Fprintf(out, "  Owner header: %d\n", c.owner)
			}
			if f := c.v.ConfigFileUsed(); f != "" {
				fmt.Fprintf(out, "  Config file: %s\n", f)
			} else {
				fmt.Fprintln(out, "  Config file: none (using defaults)")
			}
			return nil
		},
	}
}

func (c *cli) newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set [key] [value]",
		Short: "Set a configuration value",
		Long: `Set a configuration value and save it to the config file.

Examples:
  hookctl config set server http://localhost:8080
  hookctl config set timeout 60s
  hookctl config set owner 42`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, value := args[0], args[1]

			switch key {
			case "json":
				switch value {
				case "true", "1", "yes", "on":
					c.v.Set(key, true)
				case "false", "0", "no", "off":
					c.v.Set(key, false)
				default:
					return fmt.Errorf("invalid boolean value for %s: %s (use true/false)", key, value)
				}
			case "timeout":
				d, err := time.ParseDuration(value)
				if err != nil {
					return fmt.Errorf("invalid duration for timeout: %w", err)
				}
				c.v.Set(key, d.String())
			case "owner":
				id, err := parseID(value)
				if err != nil {
					return err
				}
				c.v.Set(key, id)
			case "server", "token":
				c.v.Set(key, value)
			default:
				return fmt.Errorf("invalid configuration key: %s. Valid keys are: %v", key, configKeys)
			}

			path, err := c.configPath()
			if err != nil {
				return err
			}
			if err := c.v.WriteConfigAs(path); err != nil {
				return fmt.Errorf("failed to write config file: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %s\n", key, value)
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration saved to: %s\n", path)
			return nil
		},
	}
}

func (c *cli) newConfigInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := c.configPath()
			if err != nil {
				return err
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
			}

			c.v.Set("server", defaultServer)
			c.v.Set("timeout", "30s")
			c.v.Set("json", false)

			if err := c.v.WriteConfigAs(path); err != nil {
				return fmt.Errorf("failed to create config file: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration file created: %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

// configPath is --config when given, otherwise $HOME/.hookctl.yaml
func (c *cli) configPath() (string, error) {
	if c.cfgFile != "" {
		return c.cfgFile, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".hookctl.yaml"), nil
}
