package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads variables from the given .env files into the process
// environment without overriding variables that are already set. Missing
// files are ignored.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overrides c with any of the supported environment variables.
func ApplyEnv(c Config) Config {
	c.Sink = getEnv("SINK", c.Sink)

	c.TopicID = getEnv("CLS_TOPIC_ID", c.TopicID)
	c.Host = getEnv("CLS_HOST", c.Host)
	c.SecretID = getEnv("CLS_SECRET_ID", c.SecretID)
	c.SecretKey = getEnv("CLS_SECRET_KEY", c.SecretKey)
	c.Source = getEnv("CLS_SOURCE", c.Source)

	c.LokiURL = getEnv("LOKI_URL", c.LokiURL)
	c.LokiTenant = getEnv("LOKI_TENANT", c.LokiTenant)

	c.TotalSizeBytes = getEnvAsInt("TOTAL_SIZE_BYTES", c.TotalSizeBytes)
	c.MaxSendWorkers = getEnvAsInt("MAX_SEND_WORKERS", c.MaxSendWorkers)
	c.MaxBlockSec = getEnvAsInt("MAX_BLOCK_SEC", c.MaxBlockSec)
	c.MaxBatchSize = getEnvAsInt("MAX_BATCH_SIZE", c.MaxBatchSize)
	c.MaxBatchCount = getEnvAsInt("MAX_BATCH_COUNT", c.MaxBatchCount)
	c.LingerMs = getEnvAsInt("LINGER_MS", c.LingerMs)
	c.Retries = getEnvAsInt("RETRIES", c.Retries)

	c.LogPath = getEnv("LOG_PATH", c.LogPath)
	c.NodeName = getEnv("NODE_NAME", c.NodeName)
	c.ScanInterval = getEnvAsDuration("SCAN_INTERVAL", c.ScanInterval)
	c.IdleTimeout = getEnvAsDuration("FILE_IDLE_TIMEOUT", c.IdleTimeout)
	c.MaxFiles = getEnvAsInt("MAX_FILES", c.MaxFiles)
	c.StatsAddr = getEnv("STATS_ADDR", c.StatsAddr)
	c.CloseTimeout = getEnvAsDuration("CLOSE_TIMEOUT", c.CloseTimeout)
	return c
}

// ResolveSource fills Source with the outbound IP of this host when unset.
func (c Config) ResolveSource() Config {
	if c.Source == "" {
		c.Source = localIP()
	}
	return c
}

// localIP finds the address used for outbound traffic. Dialing UDP sends
// no packets.
func localIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()

	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.IP.String()
	}
	return "127.0.0.1"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if result, err := time.ParseDuration(value); err == nil {
			return result
		}
	}
	return defaultValue
}
