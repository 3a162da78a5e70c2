package database

import (
	"context"
	"fmt"
)

// Pinger is a backing service that readiness depends on.
type Pinger interface {
	Name() string
	Ping(ctx context.Context) error
}

// PingAll pings each dependency in order and reports the first failure.
func PingAll(ctx context.Context, deps ...Pinger) error {
	for _, d := range deps {
		if err := d.Ping(ctx); err != nil {
			return fmt.Errorf("%s not ready: %w", d.Name(), err)
		}
	}
	return nil
}
