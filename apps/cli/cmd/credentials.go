package cmd

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/abdul-hamid-achik/courier/packages/db"
	"github.com/abdul-hamid-achik/courier/packages/engine"
	courierhttp "github.com/abdul-hamid-achik/courier/packages/http"
)

var (
	credDBFlag       string
	credUserFlag     string
	credPasswordFlag string
	credRealmFlag    string
	credDefaultFlag  bool
)

var credentialsCmd = &cobra.Command{
	Use:     "credentials",
	Aliases: []string{"creds"},
	Short:   "Manage stored credentials used to answer authentication challenges",
	Long: `Credentials are stored per protection space: scheme, host, port and
realm. When a server challenges a request, the session answers with the
credential attached to the request, or else the default credential stored
for the challenged space. An entry stored without a realm applies to every
realm of its host.`,
}

var credentialsAddCmd = &cobra.Command{
	Use:   "add <url>",
	Short: "Store a credential",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if credUserFlag == "" {
			return withExitCode(ExitUsageError, fmt.Errorf("--user is required"))
		}
		return withStore(func(store *db.CredentialStore, space engine.ProtectionSpace) error {
			if err := store.Set(space, engine.NewCredential(credUserFlag, credPasswordFlag)); err != nil {
				return err
			}
			if credDefaultFlag {
				if err := store.SetDefault(space, credUserFlag); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stored %s for %s\n", credUserFlag, describeSpace(space))
			return nil
		}, args[0])
	},
}

var credentialsRemoveCmd = &cobra.Command{
	Use:   "remove <url>",
	Short: "Delete a stored credential",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if credUserFlag == "" {
			return withExitCode(ExitUsageError, fmt.Errorf("--user is required"))
		}
		return withStore(func(store *db.CredentialStore, space engine.ProtectionSpace) error {
			if err := store.Remove(space, credUserFlag); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s from %s\n", credUserFlag, describeSpace(space))
			return nil
		}, args[0])
	},
}

var credentialsDefaultCmd = &cobra.Command{
	Use:   "default <url>",
	Short: "Make a stored credential the default for its space",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if credUserFlag == "" {
			return withExitCode(ExitUsageError, fmt.Errorf("--user is required"))
		}
		return withStore(func(store *db.CredentialStore, space engine.ProtectionSpace) error {
			if err := store.SetDefault(space, credUserFlag); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is now the default for %s\n", credUserFlag, describeSpace(space))
			return nil
		}, args[0])
	},
}

var credentialsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored credentials",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(store *db.CredentialStore, _ engine.ProtectionSpace) error {
			entries, err := store.List()
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No stored credentials")
				return nil
			}

			bold := color.New(color.Bold).SprintFunc()
			green := color.New(color.FgGreen).SprintFunc()
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", bold("SPACE"), bold("REALM"), bold("USER"), bold("DEFAULT"))
			for _, e := range entries {
				def := ""
				if e.Default {
					def = green("yes")
				}
				fmt.Fprintf(w, "%s://%s:%d\t%s\t%s\t%s\n", e.Space.Scheme, e.Space.Host, e.Space.Port, e.Space.Realm, e.Credential.User, def)
			}
			return w.Flush()
		}, "")
	},
}

func init() {
	credentialsCmd.PersistentFlags().StringVar(&credDBFlag, "db", getEnvString("COURIER_CREDENTIALS_DB", ""), "Credential database (default from config, then the user config dir) (env: COURIER_CREDENTIALS_DB)")
	for _, c := range []*cobra.Command{credentialsAddCmd, credentialsRemoveCmd, credentialsDefaultCmd} {
		c.Flags().StringVar(&credUserFlag, "user", "", "User name")
		c.Flags().StringVar(&credRealmFlag, "realm", "", "Realm the credential is limited to")
	}
	credentialsAddCmd.Flags().StringVar(&credPasswordFlag, "password", getEnvString("COURIER_PASSWORD", ""), "Password (env: COURIER_PASSWORD)")
	credentialsAddCmd.Flags().BoolVar(&credDefaultFlag, "default", false, "Make this the default credential for the space")

	credentialsCmd.AddCommand(credentialsAddCmd)
	credentialsCmd.AddCommand(credentialsRemoveCmd)
	credentialsCmd.AddCommand(credentialsDefaultCmd)
	credentialsCmd.AddCommand(credentialsListCmd)
}

// withStore opens the credential database and passes it to fn together
// with the protection space of rawURL, when one is given.
func withStore(fn func(*db.CredentialStore, engine.ProtectionSpace) error, rawURL string) error {
	var space engine.ProtectionSpace
	if rawURL != "" {
		if err := courierhttp.ValidateURL(rawURL); err != nil {
			return withExitCode(ExitUsageError, err)
		}
		u, err := url.Parse(rawURL)
		if err != nil {
			return withExitCode(ExitUsageError, err)
		}
		space = courierhttp.ProtectionSpaceFor(u, credRealmFlag)
	}

	path, err := credentialsPath()
	if err != nil {
		return err
	}
	store, err := db.Open(path)
	if err != nil {
		return withExitCode(ExitConfigError, err)
	}
	defer store.Close()
	return fn(store, space)
}

func credentialsPath() (string, error) {
	if credDBFlag != "" {
		return credDBFlag, nil
	}
	cfg, err := loadConfig()
	if err != nil {
		return "", err
	}
	if cfg.CredentialsDB != "" {
		return cfg.CredentialsDB, nil
	}
	if p := defaultCredentialsDB(); p != "" {
		if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
			return "", withExitCode(ExitConfigError, err)
		}
		return p, nil
	}
	return "", withExitCode(ExitConfigError, fmt.Errorf("no credential database configured, use --db"))
}

func describeSpace(space engine.ProtectionSpace) string {
	s := fmt.Sprintf("%s://%s:%d", space.Scheme, space.Host, space.Port)
	if space.Realm != "" {
		s += fmt.Sprintf(" (realm %q)", space.Realm)
	}
	return s
}
