package main

import (
	"os"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config holds the seeder configuration, loadable from environment variables
// (KASTOMA_ prefix), flags, or YAML config files.
type Config struct {
	DatabaseURL  string `usage:"PostgreSQL connection URL (KASTOMA_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	ProductsFile string `default:"db/seed/products.json" usage:"path to products JSON file" flag:"products-file"`
	CouponsFile  string `default:"db/seed/coupons.json" usage:"path to coupons JSON file" flag:"coupons-file"`
}

// LoadConfig loads configuration from flags, environment variables, and YAML
// config files, then applies platform defaults for standard variable names.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "KASTOMA",
		Files:     []string{"config.yaml", "/etc/kastoma/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}

	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set KASTOMA_DATABASE_URL or DATABASE_URL")
	}

	return &cfg, nil
}
