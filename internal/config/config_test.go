package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name      string
		filePath  string
		wantErr   bool
		errString string
	}{
		{
			name:     "valid config file",
			filePath: "testdata/valid_config.yaml",
			wantErr:  false,
		},
		{
			name:      "non-existent file",
			filePath:  "testdata/nonexistent.yaml",
			wantErr:   true,
			errString: "failed to read config file",
		},
		{
			name:      "malformed yaml",
			filePath:  "testdata/malformed.yaml",
			wantErr:   true,
			errString: "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.filePath)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, cfg)
			} else {
				require.NoError(t, err)
				require.NotNil(t, cfg)

				// Verify some key fields are populated
				assert.Equal(t, 8080, cfg.Server.Port)
				assert.Equal(t, "localhost", cfg.Database.Host)
				assert.Equal(t, 5432, cfg.Database.Port)
				assert.Equal(t, "playbook_db", cfg.Database.Database)
				assert.Equal(t, "playbook_exchange", cfg.RabbitMQ.Exchange.Name)
				assert.Equal(t, "playbook_jobs", cfg.RabbitMQ.Queue.Name)
				assert.Equal(t, "playbook-api-service", cfg.App.Name)
				assert.Equal(t, 25*time.Minute, cfg.Agent.WallClockBudget)
				assert.Equal(t, []string{"/tmp/playbook-runs"}, cfg.Agent.WorkDirs)
				assert.Equal(t, "playbooks.example.invalid", cfg.Publisher.Domain)
			}
		})
	}
}

// workerConfig returns a config that passes ValidateWorkerConfig; tests
// break one field at a time.
func workerConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080},
		API:    APIConfig{AuthToken: "token"},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			Database: "playbook_db",
		},
		RabbitMQ: RabbitMQConfig{
			Host: "localhost",
			Port: 5672,
			Exchange: ExchangeConfig{
				Name: "playbook_exchange",
			},
			Queue: QueueConfig{
				Name: "playbook_jobs",
			},
		},
		Worker: WorkerConfig{
			Concurrency:  3,
			PollInterval: 30 * time.Second,
			StaleAfter:   45 * time.Minute,
		},
		Agent: AgentConfig{
			RunnerURL:       "http://localhost:9100",
			WallClockBudget: 25 * time.Minute,
			WorkDirs:        []string{"/tmp/playbook-runs"},
		},
		Publisher: PublisherConfig{
			Endpoint: "https://hosting.example.invalid/deploy",
			Domain:   "playbooks.example.invalid",
		},
		Billing: BillingConfig{
			CaptureURL: "https://billing.example.invalid/capture",
		},
	}
}

func TestConfig_ValidateAPIConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantErr   bool
		errString string
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:      "invalid server port - too low",
			mutate:    func(c *Config) { c.Server.Port = 0 },
			wantErr:   true,
			errString: "invalid server port",
		},
		{
			name:      "invalid server port - too high",
			mutate:    func(c *Config) { c.Server.Port = 70000 },
			wantErr:   true,
			errString: "invalid server port",
		},
		{
			name:      "missing auth token",
			mutate:    func(c *Config) { c.API.AuthToken = "" },
			wantErr:   true,
			errString: "auth_token is required",
		},
		{
			name:      "empty database host",
			mutate:    func(c *Config) { c.Database.Host = "" },
			wantErr:   true,
			errString: "database host is required",
		},
		{
			name:      "empty database name",
			mutate:    func(c *Config) { c.Database.Database = "" },
			wantErr:   true,
			errString: "database name is required",
		},
		{
			name:      "empty rabbitmq host",
			mutate:    func(c *Config) { c.RabbitMQ.Host = "" },
			wantErr:   true,
			errString: "rabbitmq host is required",
		},
		{
			name:      "empty exchange name",
			mutate:    func(c *Config) { c.RabbitMQ.Exchange.Name = "" },
			wantErr:   true,
			errString: "rabbitmq exchange name is required",
		},
		{
			name:      "empty queue name",
			mutate:    func(c *Config) { c.RabbitMQ.Queue.Name = "" },
			wantErr:   true,
			errString: "rabbitmq queue name is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := workerConfig()
			tt.mutate(cfg)

			err := cfg.ValidateAPIConfig()

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestConfig_ValidateWorkerConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantErr   bool
		errString string
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:      "zero concurrency",
			mutate:    func(c *Config) { c.Worker.Concurrency = 0 },
			wantErr:   true,
			errString: "concurrency must be greater than 0",
		},
		{
			name:      "zero poll interval",
			mutate:    func(c *Config) { c.Worker.PollInterval = 0 },
			wantErr:   true,
			errString: "poll_interval must be greater than 0",
		},
		{
			name:      "zero stale threshold",
			mutate:    func(c *Config) { c.Worker.StaleAfter = 0 },
			wantErr:   true,
			errString: "stale_after must be greater than 0",
		},
		{
			name:      "missing runner url",
			mutate:    func(c *Config) { c.Agent.RunnerURL = "" },
			wantErr:   true,
			errString: "runner_url is required",
		},
		{
			name:      "zero wall clock budget",
			mutate:    func(c *Config) { c.Agent.WallClockBudget = 0 },
			wantErr:   true,
			errString: "wall_clock_budget must be greater than 0",
		},
		{
			name:      "no work dirs",
			mutate:    func(c *Config) { c.Agent.WorkDirs = nil },
			wantErr:   true,
			errString: "work_dirs must list at least one candidate root",
		},
		{
			name:      "missing publisher endpoint",
			mutate:    func(c *Config) { c.Publisher.Endpoint = "" },
			wantErr:   true,
			errString: "publisher endpoint is required",
		},
		{
			name:      "missing publisher domain",
			mutate:    func(c *Config) { c.Publisher.Domain = "" },
			wantErr:   true,
			errString: "publisher domain is required",
		},
		{
			name:      "missing capture url",
			mutate:    func(c *Config) { c.Billing.CaptureURL = "" },
			wantErr:   true,
			errString: "capture_url is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := workerConfig()
			tt.mutate(cfg)

			err := cfg.ValidateWorkerConfig()

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestLoad_ValidateIntegration(t *testing.T) {
	t.Run("load and validate valid config", func(t *testing.T) {
		cfg, err := Load("testdata/valid_config.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		require.NoError(t, cfg.ValidateAPIConfig())
		require.NoError(t, cfg.ValidateWorkerConfig())
	})

	t.Run("load config with invalid port", func(t *testing.T) {
		cfg, err := Load("testdata/invalid_port.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		err = cfg.ValidateAPIConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid server port")
	})

	t.Run("load config with missing database", func(t *testing.T) {
		cfg, err := Load("testdata/missing_database.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		err = cfg.ValidateAPIConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database name is required")
	})
}

func TestPortConstants(t *testing.T) {
	t.Run("port constants are correct", func(t *testing.T) {
		assert.Equal(t, 1, MinPort)
		assert.Equal(t, 65535, MaxPort)
	})

	t.Run("invalid port range", func(t *testing.T) {
		invalidPorts := []int{0, -1, 65536, 70000}
		for _, port := range invalidPorts {
			valid := port >= MinPort && port <= MaxPort
			assert.False(t, valid, "port %d should be invalid", port)
		}
	})
}
