// Package config resolves node settings from defaults, an optional .env
// file, PUPPYCLOUD_* environment variables and command-line flags, in that
// order of increasing precedence.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"net"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix prefixes every environment variable the node reads.
const EnvPrefix = "PUPPYCLOUD"

// Config holds the node settings.
type Config struct {
	HTTPBind  string   `envconfig:"HTTP_BIND" default:"0.0.0.0:9090" validate:"required,bindaddr"`
	DataDir   string   `envconfig:"DATA" default:"./data" validate:"required"`
	DBPath    string   `envconfig:"DB" default:"puppycloud.db" validate:"required"`
	Peers     []string `envconfig:"PEERS"`
	LogLevel  string   `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn warning error DEBUG INFO WARN WARNING ERROR"`
	P2PListen string   `envconfig:"P2P_LISTEN" default:"/ip4/0.0.0.0/tcp/0" validate:"required"`
	MDNS      bool     `envconfig:"MDNS" default:"true"`
}

// Load reads .env from the working directory (if present), the environment
// and args.
func Load(args []string) (*Config, error) {
	return LoadFrom(".env", args, io.Discard)
}

// LoadFrom is Load with an explicit env file. Usage text for bad flags goes
// to usage.
func LoadFrom(envFile string, args []string, usage io.Writer) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}

	fset := flag.NewFlagSet("puppycloud", flag.ContinueOnError)
	fset.SetOutput(usage)
	fset.StringVar(&cfg.HTTPBind, "http-bind", cfg.HTTPBind, "HTTP listen address")
	fset.StringVar(&cfg.DataDir, "data", cfg.DataDir, "chunk data directory")
	fset.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database file")
	fset.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	fset.StringVar(&cfg.P2PListen, "p2p-listen", cfg.P2PListen, "libp2p listen multiaddr")
	fset.BoolVar(&cfg.MDNS, "mdns", cfg.MDNS, "enable mDNS discovery")
	fset.Func("peer", "bootstrap multiaddr to dial (repeatable)", func(s string) error {
		s = strings.TrimSpace(s)
		if s == "" {
			return errors.New("empty peer address")
		}
		cfg.Peers = append(cfg.Peers, s)
		return nil
	})
	if err := fset.Parse(args); err != nil {
		return nil, err
	}
	if fset.NArg() > 0 {
		return nil, fmt.Errorf("unexpected argument %q", fset.Arg(0))
	}

	cfg.Peers = compact(cfg.Peers)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	v := validator.New()
	// hostname_port rejects port 0 and bracketed IPv6 hosts, both valid binds.
	v.RegisterValidation("bindaddr", func(fl validator.FieldLevel) bool {
		_, _, err := net.SplitHostPort(fl.Field().String())
		return err == nil
	})
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// compact trims entries and drops empty ones left by stray commas.
func compact(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
