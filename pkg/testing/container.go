package testing

import (
	"context"
	"os"

	"github.com/testcontainers/testcontainers-go"
)

// containerImage lets CI pin a mirror or newer tag without touching the tests.
func containerImage(envKey, fallback string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	return fallback
}

func terminate(ctx context.Context, c testcontainers.Container) error {
	if c == nil {
		return nil
	}
	return testcontainers.TerminateContainer(c, testcontainers.StopContext(ctx))
}
