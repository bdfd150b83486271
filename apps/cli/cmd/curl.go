package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var curlFlags requestFlags

var curlCmd = &cobra.Command{
	Use:   "curl [url]",
	Short: "Print the curl command for a request without sending it",
	Long: `Build the request exactly as fetch would, including credentials from
the credential store and cookies from the cookie file, and print the
equivalent curl command line.

Examples:
  courier curl https://api.example.com/users -X POST -d '{"name":"ada"}'
  courier curl -f requests/create-user.yaml --var host=localhost:8080`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := curlFlags.apply(cfg); err != nil {
			return err
		}
		// adapters only run on submission, so oauth2 and aws are left out
		c, err := newClient(cfg, clientOptions{})
		if err != nil {
			return err
		}
		defer c.Close()

		resolver, err := curlFlags.resolver(c.logger)
		if err != nil {
			return err
		}
		built, err := curlFlags.build(args, resolver)
		if err != nil {
			return err
		}

		r := c.session.Request(built.Request)
		if built.User != "" {
			r.Authenticate(built.User, built.Password)
		}
		fmt.Fprintln(cmd.OutOrStdout(), r.CURL())
		return nil
	},
}

func init() {
	curlFlags.register(curlCmd)
}
