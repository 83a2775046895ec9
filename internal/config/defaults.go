package config

import "time"

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address:         "127.0.0.1:8080",
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(60 * time.Second),
			ShutdownTimeout: Duration(10 * time.Second),
		},
		PHP: PHPConfig{
			Version: "auto",
			INI: map[string]string{
				"memory_limit": "256M",
			},
		},
		App: AppConfig{
			Root:  ".",
			Entry: "auto",
		},
		Worker: WorkerConfig{
			MaxJobs:        10000,
			RequestTimeout: Duration(30 * time.Second),
		},
		WebSocket: WebSocketConfig{
			Enabled:        false,
			Path:           "/ws",
			MaxConnections: 1000,
			PingInterval:   Duration(30 * time.Second),
		},
		Logging: LogConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Watch: WatchConfig{
			Enabled:  false,
			Dirs:     []string{},
			Interval: Duration(2 * time.Second),
		},
	}
}
