// Package cmd implements the tokenctl CLI commands.
package cmd

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/AmmannChristian/go-tokenflow/config"
	"github.com/AmmannChristian/go-tokenflow/oauth2client"
)

// Version is set at build time.
var Version = "0.1.0"

type rootOptions struct {
	configPath string
	verbose    bool
}

// NewRootCmd returns the tokenctl command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "tokenctl",
		Short: "Obtain OAuth2 client-credentials tokens and call protected APIs",
		Long: `tokenctl reads a tokenflow configuration (clients, cache, exchange settings)
and obtains access tokens for the registered clients. Tokens are cached in
Redis when cache.redis.addrs is configured, so repeated invocations reuse them.`,
		Version:      Version,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Config file (default: ./tokenflow.yaml or ./configs/tokenflow.yaml)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log token requests and retries to stderr")

	root.AddCommand(newTokenCmd(opts), newGetCmd(opts))
	return root
}

// session is the token manager built from the configuration of one invocation.
type session struct {
	manager *oauth2client.TokenManager
	logger  *slog.Logger
	closer  io.Closer
}

func (o *rootOptions) open(ctx context.Context, stderr io.Writer) (*session, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}

	registry, err := cfg.Registry()
	if err != nil {
		return nil, err
	}

	backend, err := cfg.Backend(ctx)
	if err != nil {
		return nil, err
	}

	logger := slog.New(slog.DiscardHandler)
	if o.verbose {
		logger = slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	s := &session{logger: logger}
	s.manager = oauth2client.NewTokenManager(registry,
		append(cfg.ManagerOptions(),
			oauth2client.WithBackend(backend),
			oauth2client.WithLogger(logger),
		)...,
	)
	if c, ok := backend.(io.Closer); ok {
		s.closer = c
	}
	return s, nil
}

func (s *session) Close() {
	if s.closer != nil {
		_ = s.closer.Close()
	}
}

func tokenKey(client string, params map[string]string) oauth2client.TokenKey {
	if len(params) == 0 {
		return oauth2client.ClientKey(client)
	}
	return oauth2client.TokenKey{Client: client, Parameters: oauth2client.Parameters(params)}
}

func expiryString(token *oauth2client.AccessToken) string {
	if token.Expiry.IsZero() {
		return "never"
	}
	return token.Expiry.Format(time.RFC3339)
}
