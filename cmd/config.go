package main

import (
	"io"
	"net/url"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/fsds-cli/internal/config"
)

const redacted = "REDACTED"

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long:  "Prints the merged defaults, config.yaml and FSDS_* environment values as YAML with secrets redacted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return writeConfig(cmd.OutOrStdout(), cfg)
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func writeConfig(out io.Writer, c *config.Config) error {
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(redactConfig(*c)); err != nil {
		return eris.Wrap(err, "config: encode")
	}
	return enc.Close()
}

// redactConfig blanks credentials and the warehouse password.
func redactConfig(c config.Config) config.Config {
	if c.Storage.SecretAccessKey != "" {
		c.Storage.SecretAccessKey = redacted
	}
	if c.Warehouse.DatabaseURL != "" {
		if u, err := url.Parse(c.Warehouse.DatabaseURL); err == nil && u.User != nil {
			if _, ok := u.User.Password(); ok {
				u.User = url.UserPassword(u.User.Username(), redacted)
				c.Warehouse.DatabaseURL = u.String()
			}
		} else if err != nil {
			c.Warehouse.DatabaseURL = redacted
		}
	}
	return c
}
