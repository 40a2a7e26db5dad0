// Package config loads evonet settings from YAML or INI files.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"

	"evonet/internal/evo"
	"evonet/internal/mlp"
)

type Config struct {
	Run        RunConfig        `yaml:"run"`
	Genome     GenomeConfig     `yaml:"genome"`
	Scape      ScapeConfig      `yaml:"scape"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Cluster    ClusterConfig    `yaml:"cluster"`
	Store      StoreConfig      `yaml:"store"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// RunConfig controls the generational loop.
type RunConfig struct {
	PopulationSize  int     `yaml:"population_size" ini:"population_size"`
	EliteFraction   float64 `yaml:"elite_fraction" ini:"elite_fraction"`
	Generations     int     `yaml:"generations" ini:"generations"` // 0 runs until interrupted
	Workers         int     `yaml:"workers" ini:"workers"`
	Seed            int64   `yaml:"seed" ini:"seed"`
	ExchangeFitness bool    `yaml:"exchange_fitness" ini:"exchange_fitness"`
}

// GenomeConfig describes the hidden layers and variation operators. Input
// and output widths come from the scape.
type GenomeConfig struct {
	Hidden         []int   `yaml:"hidden" ini:"hidden" delim:","`
	InitRange      float64 `yaml:"init_range" ini:"init_range"`
	ConnectionProb float64 `yaml:"connection_prob" ini:"connection_prob"`
	MutationRate   float64 `yaml:"mutation_rate" ini:"mutation_rate"`
	MutationPower  float64 `yaml:"mutation_power" ini:"mutation_power"`
	FlipRate       float64 `yaml:"flip_rate" ini:"flip_rate"`
}

func (g GenomeConfig) Params() mlp.Params {
	return mlp.Params{
		InitRange:      g.InitRange,
		ConnectionProb: g.ConnectionProb,
		MutationRate:   g.MutationRate,
		MutationPower:  g.MutationPower,
		FlipRate:       g.FlipRate,
	}
}

type ScapeConfig struct {
	Name string `yaml:"name" ini:"name"`
}

type CheckpointConfig struct {
	Path  string `yaml:"path" ini:"path"`
	Every int    `yaml:"every" ini:"every"`
}

const (
	ClusterLocal     = "local"
	ClusterWebsocket = "websocket"
)

// ClusterConfig selects the process group. In local mode Ranks goroutines
// share one process; in websocket mode this process is Rank of Ranks and
// rank 0 listens on Addr.
type ClusterConfig struct {
	Mode        string        `yaml:"mode" ini:"mode"`
	Ranks       int           `yaml:"ranks" ini:"ranks"`
	Rank        int           `yaml:"rank" ini:"rank"`
	Addr        string        `yaml:"addr" ini:"addr"`
	JoinTimeout time.Duration `yaml:"join_timeout" ini:"join_timeout"`
}

type StoreConfig struct {
	Backend string `yaml:"backend" ini:"backend"`
	Path    string `yaml:"path" ini:"path"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" ini:"level"`
	Format string `yaml:"format" ini:"format"`
}

// MetricsConfig enables the Prometheus endpoint on rank 0 when Addr is set.
type MetricsConfig struct {
	Addr string `yaml:"addr" ini:"addr"`
}

func Default() *Config {
	params := mlp.DefaultParams()
	return &Config{
		Run: RunConfig{
			PopulationSize:  100,
			EliteFraction:   0.2,
			Generations:     100,
			Workers:         4,
			Seed:            1,
			ExchangeFitness: false,
		},
		Genome: GenomeConfig{
			Hidden:         []int{4},
			InitRange:      params.InitRange,
			ConnectionProb: params.ConnectionProb,
			MutationRate:   params.MutationRate,
			MutationPower:  params.MutationPower,
			FlipRate:       params.FlipRate,
		},
		Scape: ScapeConfig{Name: "xor"},
		Checkpoint: CheckpointConfig{
			Path:  "evonet.ckpt",
			Every: 10,
		},
		Cluster: ClusterConfig{
			Mode:        ClusterLocal,
			Ranks:       1,
			Addr:        "127.0.0.1:7946",
			JoinTimeout: 30 * time.Second,
		},
		Store: StoreConfig{
			Backend: "memory",
			Path:    "evonet.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// Load reads path over the defaults. The format follows the extension:
// .yaml/.yml or .ini/.cfg. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		var err error
		switch ext := strings.ToLower(filepath.Ext(path)); ext {
		case ".yaml", ".yml":
			err = loadYAML(path, cfg)
		case ".ini", ".cfg":
			err = loadINI(path, cfg)
		default:
			err = fmt.Errorf("unsupported config format %q", ext)
		}
		if err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadYAML(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

func loadINI(path string, cfg *Config) error {
	file, err := ini.LoadSources(ini.LoadOptions{
		IgnoreInlineComment:         true,
		UnescapeValueCommentSymbols: true,
	}, path)
	if err != nil {
		return fmt.Errorf("failed to load config file '%s': %w", path, err)
	}

	sections := []struct {
		name   string
		target any
	}{
		{"run", &cfg.Run},
		{"genome", &cfg.Genome},
		{"scape", &cfg.Scape},
		{"checkpoint", &cfg.Checkpoint},
		{"cluster", &cfg.Cluster},
		{"store", &cfg.Store},
		{"logging", &cfg.Logging},
		{"metrics", &cfg.Metrics},
	}
	for _, s := range sections {
		if !file.HasSection(s.name) {
			continue
		}
		if err := file.Section(s.name).MapTo(s.target); err != nil {
			return fmt.Errorf("failed to map [%s] section: %w", s.name, err)
		}
	}
	return nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides lets a launcher start identical processes that differ
// only in rank.
func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv("EVONET_RANK"); v != "" {
		rank, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid EVONET_RANK %q: %w", v, err)
		}
		c.Cluster.Rank = rank
	}
	if v := os.Getenv("EVONET_RANKS"); v != "" {
		ranks, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid EVONET_RANKS %q: %w", v, err)
		}
		c.Cluster.Ranks = ranks
	}
	if v := os.Getenv("EVONET_ADDR"); v != "" {
		c.Cluster.Addr = v
	}
	return nil
}

func (c *Config) Validate() error {
	if err := evo.ValidateSizes(c.Run.PopulationSize, c.Run.EliteFraction); err != nil {
		return fmt.Errorf("run: %w", err)
	}
	if c.Run.Generations < 0 {
		return fmt.Errorf("run.generations must be >= 0")
	}
	if c.Run.Workers < 1 {
		return fmt.Errorf("run.workers must be >= 1")
	}
	if err := c.Genome.Params().Validate(); err != nil {
		return fmt.Errorf("genome: %w", err)
	}
	for i, h := range c.Genome.Hidden {
		if h <= 0 {
			return fmt.Errorf("genome.hidden[%d] must be > 0", i)
		}
	}
	if c.Scape.Name == "" {
		return fmt.Errorf("scape.name is required")
	}
	if c.Checkpoint.Every < 0 {
		return fmt.Errorf("checkpoint.every must be >= 0")
	}
	switch c.Cluster.Mode {
	case ClusterLocal, ClusterWebsocket:
	default:
		return fmt.Errorf("invalid cluster.mode: %s (valid: %s, %s)", c.Cluster.Mode, ClusterLocal, ClusterWebsocket)
	}
	if c.Cluster.Ranks < 1 {
		return fmt.Errorf("cluster.ranks must be >= 1")
	}
	if c.Cluster.Ranks > c.Run.PopulationSize {
		return fmt.Errorf("cluster.ranks %d exceeds run.population_size %d", c.Cluster.Ranks, c.Run.PopulationSize)
	}
	if c.Cluster.Rank < 0 || c.Cluster.Rank >= c.Cluster.Ranks {
		return fmt.Errorf("cluster.rank %d outside [0, %d)", c.Cluster.Rank, c.Cluster.Ranks)
	}
	if c.Cluster.Mode == ClusterWebsocket && c.Cluster.Addr == "" {
		return fmt.Errorf("cluster.addr is required in websocket mode")
	}
	switch c.Store.Backend {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("invalid store.backend: %s", c.Store.Backend)
	}
	switch c.Logging.Format {
	case "auto", "json", "console":
	default:
		return fmt.Errorf("invalid logging.format: %s", c.Logging.Format)
	}
	return nil
}
