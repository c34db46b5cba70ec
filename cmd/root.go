package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile      string
	storeBackend string
	dbPath       string
	redisURL     string
	logLevel     string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "ctiwatch",
	Short: "Threat intelligence ingestion and asset correlation pipeline",
	Long: `ctiwatch pulls threat intelligence from MISP, NVD, and security RSS
feeds, normalizes and deduplicates it, and correlates it against asset
inventories to generate alerts.

Features:
- MISP, NVD, and RSS/Atom source adapters
- Hash-based duplicate suppression across sources
- Static or LLM-backed enrichment (MITRE tactics, targets, controls)
- Asset technology fingerprinting and per-organization alerting
- Redis Streams publishing for downstream notification consumers`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.ctiwatch.yaml)")
	rootCmd.PersistentFlags().StringVar(&storeBackend, "store", "sqlite", "Storage backend (sqlite, memory)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "./data/ctiwatch.db", "SQLite database path")
	rootCmd.PersistentFlags().StringVar(&redisURL, "redis", "", "Redis connection URL (empty disables the bus)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	// Bind flags to viper
	viper.BindPFlag("store.backend", rootCmd.PersistentFlags().Lookup("store"))
	viper.BindPFlag("store.path", rootCmd.PersistentFlags().Lookup("db"))
	viper.BindPFlag("redis.url", rootCmd.PersistentFlags().Lookup("redis"))
	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		// Search config in home directory with name ".ctiwatch" (without extension).
		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".ctiwatch")
	}

	viper.SetEnvPrefix("CTIWATCH")
	viper.AutomaticEnv() // read in environment variables that match

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}

	// Set defaults
	viper.SetDefault("store.backend", "sqlite")
	viper.SetDefault("store.path", "./data/ctiwatch.db")
	viper.SetDefault("redis.url", "")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("misp.verify_tls", true)
	viper.SetDefault("nvd.enabled", true)
	viper.SetDefault("nvd.base_url", "")
	viper.SetDefault("rss.enabled", true)
	viper.SetDefault("rss.max_items", 50)
	viper.SetDefault("dedup.capacity", 10000)
	viper.SetDefault("enrichment.provider", "static")
	viper.SetDefault("watch.interval", "15m")
}

// GetConfig returns the current configuration values
func GetConfig() Config {
	return Config{
		Store: StoreConfig{
			Backend: viper.GetString("store.backend"),
			Path:    viper.GetString("store.path"),
		},
		Redis: RedisConfig{
			URL: viper.GetString("redis.url"),
		},
		Log: LogConfig{
			Level: viper.GetString("log.level"),
		},
		MISP: MISPConfig{
			URL:       viper.GetString("misp.url"),
			APIKey:    viper.GetString("misp.api_key"),
			VerifyTLS: viper.GetBool("misp.verify_tls"),
		},
		NVD: NVDConfig{
			APIKey:  viper.GetString("nvd.api_key"),
			BaseURL: viper.GetString("nvd.base_url"),
			Enabled: viper.GetBool("nvd.enabled"),
		},
		RSS: RSSConfig{
			Feeds:     viper.GetStringSlice("rss.feeds"),
			FeedsFile: viper.GetString("rss.feeds_file"),
			MaxItems:  viper.GetInt("rss.max_items"),
			Enabled:   viper.GetBool("rss.enabled"),
		},
		Dedup: DedupConfig{
			Capacity: viper.GetInt("dedup.capacity"),
		},
		Enrichment: EnrichmentConfig{
			Provider: viper.GetString("enrichment.provider"),
			Endpoint: viper.GetString("enrichment.endpoint"),
			Model:    viper.GetString("enrichment.model"),
		},
		Watch: WatchConfig{
			Interval: viper.GetString("watch.interval"),
		},
	}
}

// Config represents the application configuration
type Config struct {
	Store      StoreConfig      `mapstructure:"store"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Log        LogConfig        `mapstructure:"log"`
	MISP       MISPConfig       `mapstructure:"misp"`
	NVD        NVDConfig        `mapstructure:"nvd"`
	RSS        RSSConfig        `mapstructure:"rss"`
	Dedup      DedupConfig      `mapstructure:"dedup"`
	Enrichment EnrichmentConfig `mapstructure:"enrichment"`
	Watch      WatchConfig      `mapstructure:"watch"`
}

type StoreConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type MISPConfig struct {
	URL       string `mapstructure:"url"`
	APIKey    string `mapstructure:"api_key"`
	VerifyTLS bool   `mapstructure:"verify_tls"`
}

type NVDConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Enabled bool   `mapstructure:"enabled"`
}

type RSSConfig struct {
	Feeds     []string `mapstructure:"feeds"`
	FeedsFile string   `mapstructure:"feeds_file"`
	MaxItems  int      `mapstructure:"max_items"`
	Enabled   bool     `mapstructure:"enabled"`
}

type DedupConfig struct {
	Capacity int `mapstructure:"capacity"`
}

type EnrichmentConfig struct {
	Provider string `mapstructure:"provider"`
	Endpoint string `mapstructure:"endpoint"`
	Model    string `mapstructure:"model"`
}

type WatchConfig struct {
	Interval string `mapstructure:"interval"`
}
