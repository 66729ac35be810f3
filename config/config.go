// Package config loads a client registry and cache settings from a YAML file
// and TOKENFLOW_* environment variables.
//
//	clients:
//	  - name: billing
//	    client_id: billing-svc
//	    client_secret_env: BILLING_SECRET
//	    token_url: https://auth.example.com/oauth/v2/token
//	    scope: invoices:read
//	    dpop_key_file: /etc/tokenflow/dpop.pem
//	cache:
//	  expiry_buffer: 30s
//	  redis:
//	    addrs: ["redis:6379"]
//	exchange:
//	  timeout: 30s
package config

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/viper"
	"golang.org/x/oauth2"

	"github.com/AmmannChristian/go-tokenflow/dpop"
	"github.com/AmmannChristian/go-tokenflow/oauth2client"
	"github.com/AmmannChristian/go-tokenflow/redisstore"
)

// EnvPrefix prefixes environment overrides, e.g. TOKENFLOW_CACHE_EXPIRY_BUFFER.
const EnvPrefix = "TOKENFLOW"

// File is the decoded configuration.
type File struct {
	Clients  []Client `mapstructure:"clients"  validate:"required,min=1,unique=Name,dive"`
	Cache    Cache    `mapstructure:"cache"`
	Exchange Exchange `mapstructure:"exchange"`
}

// Client is one registered OAuth2 client. The secret comes from
// client_secret, the variable named by client_secret_env, or is replaced by a
// private_key_jwt assertion signed with assertion_key_file.
type Client struct {
	Name               string            `mapstructure:"name"                validate:"required"`
	ClientID           string            `mapstructure:"client_id"           validate:"required"`
	ClientSecret       string            `mapstructure:"client_secret"       validate:"required_without_all=ClientSecretEnv AssertionKeyFile"`
	ClientSecretEnv    string            `mapstructure:"client_secret_env"`
	AuthStyle          string            `mapstructure:"auth_style"          validate:"omitempty,oneof=body header"`
	TokenURL           string            `mapstructure:"token_url"           validate:"required,url"`
	Scope              string            `mapstructure:"scope"`
	Parameters         map[string]string `mapstructure:"parameters"`
	AssertionKeyFile   string            `mapstructure:"assertion_key_file"`
	AssertionKeyID     string            `mapstructure:"assertion_key_id"`
	AssertionAlgorithm string            `mapstructure:"assertion_algorithm" validate:"omitempty,oneof=RS256 RS384 RS512 PS256 PS384 PS512 ES256 ES384 ES512 EdDSA"`
	DPoPKeyFile        string            `mapstructure:"dpop_key_file"`
}

type Cache struct {
	ExpiryBuffer time.Duration `mapstructure:"expiry_buffer" validate:"gte=0"`
	Redis        Redis         `mapstructure:"redis"`
}

type Redis struct {
	Addrs      []string `mapstructure:"addrs"`
	MasterName string   `mapstructure:"master_name"`
	Username   string   `mapstructure:"username"`
	Password   string   `mapstructure:"password"`
	DB         int      `mapstructure:"db"         validate:"gte=0"`
	KeyPrefix  string   `mapstructure:"key_prefix"`
}

type Exchange struct {
	Timeout time.Duration `mapstructure:"timeout" validate:"gte=0"`
}

// Load reads path (or ./tokenflow.yaml, ./configs/tokenflow.yaml when empty),
// applies environment overrides and validates the result.
func Load(path string) (*File, error) {
	vip := viper.New()
	if path != "" {
		vip.SetConfigFile(path)
	} else {
		vip.SetConfigName("tokenflow")
		vip.AddConfigPath("./configs")
		vip.AddConfigPath(".")
	}

	vip.SetConfigType("yaml")
	vip.SetEnvPrefix(EnvPrefix)
	vip.AutomaticEnv()
	vip.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	vip.SetDefault("cache.expiry_buffer", oauth2client.DefaultExpiryBuffer)
	vip.SetDefault("cache.redis.addrs", []string{})
	vip.SetDefault("cache.redis.master_name", "")
	vip.SetDefault("cache.redis.username", "")
	vip.SetDefault("cache.redis.password", "")
	vip.SetDefault("cache.redis.key_prefix", "")
	vip.SetDefault("exchange.timeout", time.Duration(0))

	if err := vip.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: failed to read config file: %w", err)
		}
	}

	var cfg File
	if err := vip.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}
	return &cfg, nil
}

// Registry builds the client registry, reading secrets from the environment
// and keys from disk.
func (f *File) Registry() (*oauth2client.StaticRegistry, error) {
	clients := make([]oauth2client.ClientConfig, 0, len(f.Clients))
	for _, c := range f.Clients {
		client, err := c.clientConfig()
		if err != nil {
			return nil, err
		}
		clients = append(clients, client)
	}
	return oauth2client.NewStaticRegistry(clients...)
}

func (c Client) clientConfig() (oauth2client.ClientConfig, error) {
	client := oauth2client.ClientConfig{
		Name:         c.Name,
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		TokenURL:     c.TokenURL,
		Scope:        c.Scope,
		Parameters:   c.Parameters,
	}

	if c.ClientSecretEnv != "" {
		secret, ok := os.LookupEnv(c.ClientSecretEnv)
		if !ok {
			return client, &oauth2client.ConfigurationError{Client: c.Name, Reason: "environment variable " + c.ClientSecretEnv + " is not set"}
		}
		client.ClientSecret = secret
	}

	if c.AuthStyle == "header" {
		client.AuthStyle = oauth2.AuthStyleInHeader
	} else {
		client.AuthStyle = oauth2.AuthStyleInParams
	}

	if c.AssertionKeyFile != "" {
		key, err := loadKey(c.AssertionKeyFile)
		if err != nil {
			return client, &oauth2client.ConfigurationError{Client: c.Name, Reason: "assertion key: " + err.Error()}
		}
		method, err := signingMethod(key, c.AssertionAlgorithm)
		if err != nil {
			return client, &oauth2client.ConfigurationError{Client: c.Name, Reason: "assertion key: " + err.Error()}
		}
		assertion, err := oauth2client.NewJWTAssertion(key, method, c.AssertionKeyID)
		if err != nil {
			return client, err
		}
		client.Assertion = assertion
	}

	if c.DPoPKeyFile != "" {
		private, err := loadKey(c.DPoPKeyFile)
		if err != nil {
			return client, &oauth2client.ConfigurationError{Client: c.Name, Reason: "dpop key: " + err.Error()}
		}
		key, err := dpop.NewKey(private)
		if err != nil {
			return client, &oauth2client.ConfigurationError{Client: c.Name, Reason: "dpop key: " + err.Error()}
		}
		client.DPoPKey = key
	}

	return client, nil
}

func loadKey(path string) (crypto.Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return dpop.LoadPrivateKeyPEM(data)
}

// signingMethod returns the named JWS method, or the conventional one for the
// key type when name is empty.
func signingMethod(key crypto.Signer, name string) (jwt.SigningMethod, error) {
	if name != "" {
		method := jwt.GetSigningMethod(name)
		if method == nil {
			return nil, fmt.Errorf("unknown algorithm %q", name)
		}
		return method, nil
	}

	switch k := key.(type) {
	case *rsa.PrivateKey:
		return jwt.SigningMethodRS256, nil
	case *ecdsa.PrivateKey:
		switch k.Curve {
		case elliptic.P256():
			return jwt.SigningMethodES256, nil
		case elliptic.P384():
			return jwt.SigningMethodES384, nil
		case elliptic.P521():
			return jwt.SigningMethodES512, nil
		}
	case ed25519.PrivateKey:
		return jwt.SigningMethodEdDSA, nil
	}
	return nil, fmt.Errorf("unsupported key type %T", key)
}

// Backend returns a Redis backend when cache.redis.addrs is set, otherwise
// an in-memory backend.
func (f *File) Backend(ctx context.Context) (oauth2client.Backend, error) {
	r := f.Cache.Redis
	if len(r.Addrs) == 0 {
		return oauth2client.NewMemoryBackend(), nil
	}
	return redisstore.New(ctx, redisstore.Options{
		Addrs:      r.Addrs,
		MasterName: r.MasterName,
		Username:   r.Username,
		Password:   r.Password,
		DB:         r.DB,
		KeyPrefix:  r.KeyPrefix,
	})
}

// ManagerOptions maps the cache and exchange settings to TokenManager options.
func (f *File) ManagerOptions() []oauth2client.Option {
	opts := []oauth2client.Option{oauth2client.WithExpiryBuffer(f.Cache.ExpiryBuffer)}
	if f.Exchange.Timeout > 0 {
		opts = append(opts, oauth2client.WithExchangeTimeout(f.Exchange.Timeout))
	}
	return opts
}
