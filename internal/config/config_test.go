package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evonet/internal/evo"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestDefaultKeepsFitnessExchangeOff(t *testing.T) {
	assert.False(t, Default().Run.ExchangeFitness)
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := writeFile(t, "evonet.yaml", `
run:
  population_size: 40
  generations: 7
  exchange_fitness: true
genome:
  hidden: [8, 4]
scape:
  name: sine
cluster:
  mode: websocket
  ranks: 3
  rank: 2
  join_timeout: 5s
store:
  backend: sqlite
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 40, cfg.Run.PopulationSize)
	assert.Equal(t, 7, cfg.Run.Generations)
	assert.True(t, cfg.Run.ExchangeFitness)
	assert.Equal(t, 0.2, cfg.Run.EliteFraction)
	assert.Equal(t, []int{8, 4}, cfg.Genome.Hidden)
	assert.Equal(t, "sine", cfg.Scape.Name)
	assert.Equal(t, ClusterWebsocket, cfg.Cluster.Mode)
	assert.Equal(t, 2, cfg.Cluster.Rank)
	assert.Equal(t, 5*time.Second, cfg.Cluster.JoinTimeout)
	assert.Equal(t, "sqlite", cfg.Store.Backend)
	assert.Equal(t, "evonet.ckpt", cfg.Checkpoint.Path)
}

func TestLoadINISections(t *testing.T) {
	path := writeFile(t, "evonet.ini", `
[run]
population_size = 30
seed = 42
exchange_fitness = true

[genome]
hidden = 6, 3
mutation_rate = 0.25

[checkpoint]
path = /tmp/run.ckpt
every = 5

[cluster]
ranks = 3
join_timeout = 2s

[metrics]
addr = :9100
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 30, cfg.Run.PopulationSize)
	assert.Equal(t, int64(42), cfg.Run.Seed)
	assert.True(t, cfg.Run.ExchangeFitness)
	assert.Equal(t, []int{6, 3}, cfg.Genome.Hidden)
	assert.Equal(t, 0.25, cfg.Genome.MutationRate)
	assert.Equal(t, 0.9, cfg.Genome.ConnectionProb)
	assert.Equal(t, "/tmp/run.ckpt", cfg.Checkpoint.Path)
	assert.Equal(t, 5, cfg.Checkpoint.Every)
	assert.Equal(t, 3, cfg.Cluster.Ranks)
	assert.Equal(t, 2*time.Second, cfg.Cluster.JoinTimeout)
	assert.Equal(t, ":9100", cfg.Metrics.Addr)
	assert.Equal(t, "xor", cfg.Scape.Name)
}

func TestLoadRejectsUnknownExtension(t *testing.T) {
	_, err := Load(writeFile(t, "evonet.toml", "x = 1"))
	require.ErrorContains(t, err, "unsupported config format")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestEnvOverridesRank(t *testing.T) {
	t.Setenv("EVONET_RANK", "1")
	t.Setenv("EVONET_RANKS", "4")
	t.Setenv("EVONET_ADDR", "10.0.0.1:9000")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.Cluster.Rank)
	assert.Equal(t, 4, cfg.Cluster.Ranks)
	assert.Equal(t, "10.0.0.1:9000", cfg.Cluster.Addr)
}

func TestEnvOverridesRejectMalformedRank(t *testing.T) {
	for _, name := range []string{"EVONET_RANK", "EVONET_RANKS"} {
		t.Run(name, func(t *testing.T) {
			t.Setenv(name, "one")
			_, err := Load("")
			require.Error(t, err)
			assert.Contains(t, err.Error(), name)
		})
	}
}

func TestValidateRejectsBadSettings(t *testing.T) {
	cases := map[string]func(*Config){
		"tiny population": func(c *Config) { c.Run.PopulationSize = 5 },
		"no workers":      func(c *Config) { c.Run.Workers = 0 },
		"bad mode":        func(c *Config) { c.Cluster.Mode = "mpi" },
		"rank range":      func(c *Config) { c.Cluster.Rank = 1 },
		"too many ranks":  func(c *Config) { c.Cluster.Ranks = 101; c.Cluster.Rank = 0 },
		"bad backend":     func(c *Config) { c.Store.Backend = "postgres" },
		"bad format":      func(c *Config) { c.Logging.Format = "xml" },
		"bad hidden":      func(c *Config) { c.Genome.Hidden = []int{0} },
		"bad flip rate":   func(c *Config) { c.Genome.FlipRate = 1.5 },
		"no scape":        func(c *Config) { c.Scape.Name = "" },
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(cfg)
		assert.Error(t, cfg.Validate(), name)
	}

	cfg := Default()
	cfg.Run.PopulationSize = 9
	require.ErrorIs(t, cfg.Validate(), evo.ErrDegeneratePopulation)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "evonet.yaml")
	cfg := Default()
	cfg.Run.Seed = 77
	cfg.Genome.Hidden = []int{3, 3}
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}
