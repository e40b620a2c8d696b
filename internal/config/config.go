package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"sqlledger/internal/ledger"
)

// Engines lists the accepted backend names.
var Engines = []string{"sqlite", "postgres", "mysql", "oracle"}

var engineAliases = map[string]string{
	"sqlite3":    "sqlite",
	"postgresql": "postgres",
	"pg":         "postgres",
}

// Config holds the application configuration.
type Config struct {
	Engine string `mapstructure:"engine"`
	// Connection is the backend connection descriptor: a sqlite path, a
	// JSON/YAML mapping or URL for postgres and mysql, an EZConnect string for
	// oracle. A mapping in the config file is re-serialised to YAML text.
	Connection string   `mapstructure:"-"`
	Path       string   `mapstructure:"path"`
	Table      string   `mapstructure:"table"`
	SQLPlus    string   `mapstructure:"sqlplus"`
	Exclude    []string `mapstructure:"exclude"`
	LogLevel   string   `mapstructure:"log_level"`
	LogFormat  string   `mapstructure:"log_format"`
}

func Default() Config {
	return Config{
		Engine:    "sqlite",
		Path:      "./migrations",
		Table:     ledger.DefaultTable,
		SQLPlus:   "sqlplus",
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Load reads the configuration from file, environment and flags, in
// increasing order of precedence.
func Load(flags *pflag.FlagSet, configFile string) (Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("SQLLEDGER")
	v.AutomaticEnv()

	def := Default()
	// connection and exclude have no default: a default of another type
	// would stop a mapping or list in the file from being merged.
	_ = v.MergeConfigMap(map[string]any{
		"engine":     def.Engine,
		"path":       def.Path,
		"table":      def.Table,
		"sqlplus":    def.SQLPlus,
		"log_level":  def.LogLevel,
		"log_format": def.LogFormat,
	})

	var fileConn any
	var err error
	if configFile != "" {
		v.SetConfigFile(configFile)
		if fileConn, err = readAndExpandFile(v, configFile); err != nil {
			return Config{}, err
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if fileConn, err = tryReadAndExpand(v); err != nil {
			return Config{}, err
		}
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, err
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, err
	}
	raw := v.Get("connection")
	// viper lower-cases nested keys; a mapping can only come from the file,
	// so take it from there with its keys as written.
	if _, isMap := raw.(map[string]any); isMap && fileConn != nil {
		raw = fileConn
	}
	conn, err := connection(raw)
	if err != nil {
		return Config{}, err
	}
	c.Connection = conn

	c.Engine = strings.ToLower(strings.TrimSpace(c.Engine))
	if alias, ok := engineAliases[c.Engine]; ok {
		c.Engine = alias
	}
	if !validEngine(c.Engine) {
		return Config{}, fmt.Errorf("unknown engine %q (want one of %s)", c.Engine, strings.Join(Engines, ", "))
	}
	if strings.TrimSpace(c.Connection) == "" {
		return Config{}, fmt.Errorf("connection is required (env SQLLEDGER_CONNECTION or config connection)")
	}
	if c.Path == "" {
		c.Path = def.Path
	}
	if !filepath.IsAbs(c.Path) {
		if p, err := filepath.Abs(c.Path); err == nil {
			c.Path = p
		}
	}
	if c.Table == "" {
		c.Table = def.Table
	}
	if err := ledger.ValidateIdentifier(c.Table); err != nil {
		return Config{}, fmt.Errorf("table: %w", err)
	}
	if c.SQLPlus == "" {
		c.SQLPlus = def.SQLPlus
	}
	return c, nil
}

func validEngine(name string) bool {
	for _, e := range Engines {
		if e == name {
			return true
		}
	}
	return false
}

func connection(raw any) (string, error) {
	switch t := raw.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case map[string]any:
		b, err := yaml.Marshal(t)
		if err != nil {
			return "", fmt.Errorf("connection: %w", err)
		}
		return string(b), nil
	}
	return fmt.Sprint(raw), nil
}

// readAndExpandFile merges the env-expanded file into v and returns its
// connection value decoded as written.
func readAndExpandFile(v *viper.Viper, path string) (any, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	expanded := os.ExpandEnv(string(b))
	if err := v.MergeConfig(strings.NewReader(expanded)); err != nil {
		return nil, err
	}
	var raw struct {
		Connection any `yaml:"connection"`
	}
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, err
	}
	return raw.Connection, nil
}

func tryReadAndExpand(v *viper.Viper) (any, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, nil
		}
		return nil, err
	}
	path := v.ConfigFileUsed()
	if path == "" {
		return nil, nil
	}
	return readAndExpandFile(v, path)
}
