package probe

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/melih/lighthouse-stack/internal/core/domain"
	"github.com/melih/lighthouse-stack/internal/errdefs"
)

// RedisProber sends PING to the published cache port.
type RedisProber struct{}

func NewRedisProber() *RedisProber {
	return &RedisProber{}
}

func (p *RedisProber) Probe(ctx context.Context, host string, svc domain.Service) error {
	if svc.Health == nil {
		return nil
	}
	hostPort, err := publishedPort(svc, svc.Health.Port)
	if err != nil {
		return err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         net.JoinHostPort(host, strconv.Itoa(hostPort)),
		DialTimeout:  svc.Health.Timeout,
		ReadTimeout:  svc.Health.Timeout,
		WriteTimeout: svc.Health.Timeout,
		MaxRetries:   -1, // the probe retry budget is applied by the caller
	})
	defer rdb.Close()

	ctx, cancel := context.WithTimeout(ctx, svc.Health.Timeout)
	defer cancel()

	pong, err := rdb.Ping(ctx).Result()
	if err != nil {
		return fmt.Errorf("%w: %s: %w", errdefs.ErrProbeFailed, svc.Name, err)
	}
	if pong != "PONG" {
		return fmt.Errorf("%w: %s: unexpected reply %q", errdefs.ErrProbeFailed, svc.Name, pong)
	}
	return nil
}
