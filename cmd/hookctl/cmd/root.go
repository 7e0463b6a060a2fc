package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const defaultServer = "http://localhost:8080"

// cli holds the resolved global settings shared by every subcommand
type cli struct {
	v          *viper.Viper
	cfgFile    string
	server     string
	timeout    time.Duration
	outputJSON bool
	token      string
	owner      int64
}

// Execute runs hookctl with os.Args
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	c := &cli{v: viper.New()}

	root := &cobra.Command{
		Use:   "hookctl",
		Short: "hookrelay CLI - manage webhook endpoints and trigger dispatches",
		Long: `hookctl is a command line tool for the hookrelay webhook service.

Use it to register subscriber endpoints, change their event subscriptions,
remove them, and trigger dispatches during development.`,
		SilenceUsage: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return c.initConfig()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&c.cfgFile, "config", "", "config file (default is $HOME/.hookctl.yaml)")
	flags.StringVar(&c.server, "server", defaultServer, "API base URL")
	flags.DurationVar(&c.timeout, "timeout", 30*time.Second, "request timeout")
	flags.BoolVar(&c.outputJSON, "json", false, "output in JSON format")
	flags.StringVar(&c.token, "token", "", "JWT bearer token (overrides HOOKCTL_TOKEN)")
	flags.Int64Var(&c.owner, "owner", 0, "send X-Owner-Id instead of a token (API must trust the header)")

	for _, name := range []string{"server", "timeout", "json", "token", "owner"} {
		_ = c.v.BindPFlag(name, flags.Lookup(name))
	}

	root.AddCommand(
		c.newWebhookCmd(),
		c.newDispatchCmd(),
		c.newHealthCmd(),
		c.newConfigCmd(),
		newVersionCmd(c),
		newCompletionCmd(),
	)
	return root
}

// initConfig layers flags over HOOKCTL_* env vars over the config file
func (c *cli) initConfig() error {
	if c.cfgFile != "" {
		c.v.SetConfigFile(c.cfgFile)
	} else if home, err := os.UserHomeDir(); err == nil {
		c.v.AddConfigPath(home)
		c.v.SetConfigType("yaml")
		c.v.SetConfigName(".hookctl")
	}

	c.v.SetEnvPrefix("HOOKCTL")
	c.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	c.v.AutomaticEnv()

	_ = c.v.BindEnv("token", "HOOKCTL_TOKEN", "JWT_TOKEN")

	if err := c.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("read config: %w", err)
		}
	}

	c.server = strings.TrimRight(c.v.GetString("server"), "/")
	c.timeout = c.v.GetDuration("timeout")
	c.outputJSON = c.v.GetBool("json")
	c.token = c.v.GetString("token")
	c.owner = c.v.GetInt64("owner")
	if c.timeout <= 0 {
		c.timeout = 30 * time.Second
	}
	return nil
}
