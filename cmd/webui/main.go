// Command webui serves the flavor editor web API.
package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/spf13/cobra"

	"webui/cmd/identity"
	"webui/cmd/internal/app"
	"webui/cmd/security/password"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Fatal(err)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "webui",
		Short: "Serve the flavor editor web API",
		Long: `Serve the flavor editor web API.

All settings are read from WEBUI_* environment variables. Running webui
without a subcommand is the same as "webui serve".
`,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return app.Run()
		},
	}
	root.AddCommand(serveCmd(), reapCmd(), passwdCmd())
	return root
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return app.Run()
		},
	}
}

func reapCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reap",
		Short: "Remove expired sessions and exit",
		Long: `Remove expired sessions and exit.

The server reaps on its own schedule; this is for hosts that prefer cron.
`,
		Args: cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			n, err := app.ReapOnce()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(c.OutOrStdout(), "removed %d sessions\n", n)
			return err
		},
	}
}

func passwdCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "passwd USER",
		Short: "Print a credentials file line for USER",
		Long: `Print a credentials file line for USER.

The password is read from the first line of standard input. Hash cost and
password policy follow the WEBUI_ARGON2_* and WEBUI_PASSWORD_* variables.
`,
		Example: `# add bob to the credentials file
printf '%s\n' "$PASSWORD" | webui passwd bob >> credentials`,
		Args: cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			pass, err := readPassword(c.InOrStdin())
			if err != nil {
				return err
			}
			cfg, err := password.FromEnv()
			if err != nil {
				return err
			}
			line, err := identity.CredentialLine(cfg, args[0], pass)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(c.OutOrStdout(), line)
			return err
		},
	}
}

func readPassword(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("passwd: empty password on stdin")
	}
	return line, nil
}
