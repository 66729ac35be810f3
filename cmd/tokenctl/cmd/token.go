package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newTokenCmd(root *rootOptions) *cobra.Command {
	var (
		params map[string]string
		force  bool
	)

	cmd := &cobra.Command{
		Use:   "token <client>",
		Short: "Print an access token for a registered client",
		Long: `Print an access token for a registered client. A cached token is reused
until it comes within the configured expiry buffer; --force always requests a
new one.`,
		Example: `  tokenctl token billing
  tokenctl token billing --param audience=https://api.example.com --force`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := root.open(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer s.Close()

			token, err := s.manager.GetToken(cmd.Context(), tokenKey(args[0], params), force)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "type:    %s\n", token.Type)
			fmt.Fprintf(out, "expires: %s\n", expiryString(token))
			if token.Scope != "" {
				fmt.Fprintf(out, "scope:   %s\n", token.Scope)
			}
			fmt.Fprintf(out, "token:   %s\n", token.Value)
			return nil
		},
	}

	cmd.Flags().StringToStringVarP(&params, "param", "p", nil, "Extra token request parameter (key=value, repeatable)")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Bypass the cache and request a new token")
	return cmd
}
