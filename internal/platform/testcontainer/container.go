// Package testcontainer runs disposable docker containers for integration tests.
package testcontainer

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const defaultReadyTimeout = 60 * time.Second

// Spec describes the container to start.
type Spec struct {
	Image string
	// Port is the container port published on a free host port.
	Port int
	Env  map[string]string
	// Command overrides the image entrypoint arguments.
	Command []string
	// ReadyTimeout bounds the wait for the published port to accept connections.
	ReadyTimeout time.Duration
}

func (s Spec) port() nat.Port {
	return nat.Port(fmt.Sprintf("%d/tcp", s.Port))
}

func (s Spec) request() testcontainers.GenericContainerRequest {
	timeout := s.ReadyTimeout
	if timeout <= 0 {
		timeout = defaultReadyTimeout
	}
	return testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        s.Image,
			ExposedPorts: []string{string(s.port())},
			Env:          s.Env,
			Cmd:          s.Command,
			WaitingFor:   wait.ForListeningPort(s.port()).WithStartupTimeout(timeout),
		},
		Started: true,
	}
}

// Run starts the container and returns the host:port it is reachable on. The test is
// skipped when no docker provider is reachable and the container is removed on cleanup.
func Run(t *testing.T, spec Spec) string {
	t.Helper()
	if spec.Image == "" || spec.Port <= 0 {
		t.Fatalf("testcontainer: image and port are required, got %q:%d", spec.Image, spec.Port)
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, spec.request())
	testcontainers.CleanupContainer(t, container)
	if err != nil {
		t.Fatalf("testcontainer: start %s: %v", spec.Image, err)
	}

	endpoint, err := container.PortEndpoint(ctx, spec.port(), "")
	if err != nil {
		t.Fatalf("testcontainer: resolve %s endpoint: %v", spec.Image, err)
	}
	return endpoint
}
