package infra

import (
	"fmt"
	"os"
	"time"

	"dex_go/internal/domain"
	"dex_go/internal/fee"

	"gopkg.in/yaml.v3"
)

// Config는 애플리케이션의 모든 설정을 담습니다.
// LoadConfig로 로드된 후에 환경 변수를 통해 민감 내용을 덮어씁니다.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Server struct {
		ListenAddr string `yaml:"listen_addr"`
		WSPath     string `yaml:"ws_path"`
		PprofAddr  string `yaml:"pprof_addr"`
	} `yaml:"server"`

	Storage struct {
		DBPath        string `yaml:"db_path"`
		JournalPath   string `yaml:"journal_path"`
		SnapshotDir   string `yaml:"snapshot_dir"`
		SnapshotEvery uint64 `yaml:"snapshot_every"`
		KeepSnapshots int    `yaml:"keep_snapshots"`
	} `yaml:"storage"`

	Engine struct {
		QueueCapacity  int                 `yaml:"queue_capacity"`
		MatchLimit     int                 `yaml:"match_limit"`
		RebatePolicy   domain.RebatePolicy `yaml:"rebate_policy"`
		LockTimeout    time.Duration       `yaml:"lock_timeout"`
		InboxSize      int                 `yaml:"inbox_size"`
		SweepAuthority domain.Key          `yaml:"sweep_authority"`
	} `yaml:"engine"`

	Fees fee.Schedule `yaml:"fees"`

	Logging struct {
		Level string `yaml:"level"`
		Dir   string `yaml:"dir"`
	} `yaml:"logging"`
}

// LoadConfig는 설정 파일을 읽고 파싱합니다.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML config bytes, applies env overrides and defaults
// and validates the result.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// 4원칙: 보안 우선 - 환경 변수 오버라이드 지원
	if err := overrideWithEnv(&cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	// 5원칙: 설정 유효성 검사
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = "127.0.0.1:8900"
	}
	if c.Server.WSPath == "" {
		c.Server.WSPath = "/ws"
	}
	if c.Engine.QueueCapacity == 0 {
		c.Engine.QueueCapacity = 1024
	}
	if c.Engine.MatchLimit == 0 {
		c.Engine.MatchLimit = 64
	}
	if c.Engine.InboxSize == 0 {
		c.Engine.InboxSize = 1024
	}
	if c.Engine.LockTimeout == 0 {
		c.Engine.LockTimeout = time.Second
	}
	if len(c.Fees.Tiers) == 0 {
		c.Fees = fee.DefaultSchedule()
	}
	if c.Storage.JournalPath == "" {
		c.Storage.JournalPath = "data/journal.db"
	}
	if c.Storage.SnapshotDir == "" {
		c.Storage.SnapshotDir = "data/snapshots"
	}
	if c.Storage.KeepSnapshots == 0 {
		c.Storage.KeepSnapshots = 3
	}
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	// Server
	if !hasPrefix(c.Server.WSPath, "/") {
		return fmt.Errorf("ws path must start with '/': %s", c.Server.WSPath)
	}

	// Engine
	q := c.Engine.QueueCapacity
	if q <= 0 || q&(q-1) != 0 {
		return fmt.Errorf("queue capacity must be a positive power of two: %d", q)
	}
	if c.Engine.MatchLimit <= 0 {
		return fmt.Errorf("match limit must be positive")
	}
	if c.Engine.InboxSize <= 0 {
		return fmt.Errorf("inbox size must be positive")
	}
	if c.Engine.SweepAuthority.IsZero() {
		return fmt.Errorf("sweep authority is required (set DEX_SWEEP_AUTHORITY)")
	}

	// Fees
	if err := c.Fees.Validate(); err != nil {
		return err
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level: %s", c.Logging.Level)
	}
	return nil
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[0:len(prefix)] == prefix
}

// overrideWithEnv는 환경 변수가 존재할 경우 설정 값을 덮어씁니다.
func overrideWithEnv(cfg *Config) error {
	if auth := os.Getenv("DEX_SWEEP_AUTHORITY"); auth != "" {
		k, err := domain.ParseKey(auth)
		if err != nil {
			return fmt.Errorf("DEX_SWEEP_AUTHORITY: %w", err)
		}
		cfg.Engine.SweepAuthority = k
	}
	if path := os.Getenv("DEX_DB_PATH"); path != "" {
		cfg.Storage.DBPath = path
	}
	if addr := os.Getenv("DEX_LISTEN_ADDR"); addr != "" {
		cfg.Server.ListenAddr = addr
	}
	if level := os.Getenv("DEX_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	return nil
}
