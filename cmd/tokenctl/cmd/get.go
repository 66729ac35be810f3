package cmd

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/AmmannChristian/go-tokenflow/httpclient"
)

func newGetCmd(root *rootOptions) *cobra.Command {
	var (
		params  map[string]string
		headers map[string]string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "get <client> <url>",
		Short: "Send an authenticated GET request",
		Long: `Send a GET request authenticated as a registered client and print the
response status and body. DPoP clients sign the request; nonce challenges and
401 answers are retried the same way as in library use.`,
		Example: `  tokenctl get billing https://api.example.com/invoices
  tokenctl get billing https://api.example.com/invoices -H Accept=application/json`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := root.open(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer s.Close()

			var stages []httpclient.Stage
			for k, v := range headers {
				stages = append(stages, httpclient.SetHeader(k, v))
			}

			client, err := httpclient.NewBuilder().
				WithTokenManager(s.manager, args[0]).
				WithTokenKey(tokenKey(args[0], params)).
				WithStages(stages...).
				WithLogger(s.logger).
				WithTimeout(timeout).
				Build()
			if err != nil {
				return err
			}

			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, args[1], nil)
			if err != nil {
				return fmt.Errorf("invalid url: %w", err)
			}

			resp, err := client.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, resp.Status)
			if _, err := io.Copy(out, resp.Body); err != nil {
				return fmt.Errorf("read response: %w", err)
			}
			if resp.StatusCode >= http.StatusBadRequest {
				return fmt.Errorf("request failed: %s", resp.Status)
			}
			return nil
		},
	}

	cmd.Flags().StringToStringVarP(&params, "param", "p", nil, "Extra token request parameter (key=value, repeatable)")
	cmd.Flags().StringToStringVarP(&headers, "header", "H", nil, "Request header (name=value, repeatable)")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Request timeout")
	return cmd
}
