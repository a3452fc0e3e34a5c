package docker

import (
	"context"
	"fmt"

	"hassnet/internal/network"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
)

// ContainerInspector is the part of the Docker client ResolveContainer uses.
type ContainerInspector interface {
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
}

// ResolveContainer looks up ref, an ID or name, and returns both. A
// container that no longer exists resolves to a name-only reference so its
// stale membership can still be cleaned up.
func ResolveContainer(ctx context.Context, cli ContainerInspector, ref string) (network.ContainerRef, error) {
	resp, err := cli.ContainerInspect(ctx, ref)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return network.ContainerRef{Name: ref}, nil
		}
		return network.ContainerRef{}, fmt.Errorf("inspect container %s: %w", ref, err)
	}
	if resp.ContainerJSONBase == nil {
		return network.ContainerRef{Name: ref}, nil
	}
	return network.ContainerRef{ID: resp.ID, Name: resp.Name}, nil
}
