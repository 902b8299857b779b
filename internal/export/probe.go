package export

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisProbeTimeout = 5 * time.Second

// RedisTarget identifies a Redis server to probe.
type RedisTarget struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	DB       int    `json:"db"`
	Password string `json:"password,omitempty"`
}

// Addr returns host:port, defaulting to 127.0.0.1:6379.
func (t RedisTarget) Addr() string {
	host := t.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port := t.Port
	if port == 0 {
		port = 6379
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// RedisProbeResult is the outcome of TestRedis.
type RedisProbeResult struct {
	OK      bool   `json:"ok"`
	Addr    string `json:"addr"`
	Pong    string `json:"pong,omitempty"`
	Version string `json:"redisVersion,omitempty"`
	Role    string `json:"role,omitempty"`
	Error   string `json:"error,omitempty"`
}

// TestRedis opens a short-lived client, sends PING and reads the server
// version and replication role from INFO.
func TestRedis(ctx context.Context, target RedisTarget) RedisProbeResult {
	result := RedisProbeResult{Addr: target.Addr()}

	client := redis.NewClient(&redis.Options{
		Addr:     result.Addr,
		Password: target.Password,
		DB:       target.DB,
	})
	defer client.Close()

	ctx, cancel := context.WithTimeout(ctx, redisProbeTimeout)
	defer cancel()

	pong, err := client.Ping(ctx).Result()
	if err != nil {
		result.Error = fmt.Sprintf("ping: %v", err)
		return result
	}
	result.OK = true
	result.Pong = pong

	info, err := client.Info(ctx, "server", "replication").Result()
	if err != nil {
		return result
	}
	result.Version = infoField(info, "redis_version")
	result.Role = infoField(info, "role")
	return result
}

// infoField extracts key from INFO output ("key:value" lines).
func infoField(info, key string) string {
	for _, line := range strings.Split(info, "\n") {
		if v, ok := strings.CutPrefix(strings.TrimSpace(line), key+":"); ok {
			return v
		}
	}
	return ""
}
