package runtime

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"go.uber.org/zap"

	"ctf-range/internal/config"
	"ctf-range/internal/logging"
)

// DockerRuntime implements Runtime with the Docker SDK.
type DockerRuntime struct {
	client      *client.Client
	networkName string
	subnet      string
	egressBlock string
}

// NewDockerRuntime connects to the Docker engine.
func NewDockerRuntime(host, networkName, subnet, egressBlock string) (*DockerRuntime, error) {
	cli, err := client.NewClientWithOpts(
		client.FromEnv,
		client.WithHost(host),
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("docker sdk client init failed: %w", err)
	}
	return &DockerRuntime{
		client:      cli,
		networkName: networkName,
		subnet:      subnet,
		egressBlock: egressBlock,
	}, nil
}

// CreateLab creates and starts a lab container with the fixed hardening
// profile, then discovers its address on the isolated bridge.
func (d *DockerRuntime) CreateLab(ctx context.Context, spec LabSpec) (LabHandle, error) {
	if err := d.ensureNetwork(ctx); err != nil {
		return LabHandle{}, err
	}

	tmpfs := map[string]string{"/tmp": "rw,noexec,nosuid"}
	for path, opts := range spec.Tmpfs {
		tmpfs[path] = opts
	}

	pidsLimit := config.ContainerPidLimit
	hostCfg := &container.HostConfig{
		ReadonlyRootfs: true,
		SecurityOpt:    []string{"no-new-privileges:true"},
		CapDrop:        []string{"ALL"},
		CapAdd:         []string{"NET_BIND_SERVICE"},
		NetworkMode:    container.NetworkMode(d.networkName),
		Tmpfs:          tmpfs,
		Resources: container.Resources{
			Memory:     config.ContainerMemoryBytes,
			MemorySwap: config.ContainerMemoryBytes,
			NanoCPUs:   int64(config.ContainerCPUCores * 1_000_000_000),
			PidsLimit:  &pidsLimit,
		},
	}

	created, err := d.client.ContainerCreate(ctx, &container.Config{
		Image: spec.Image,
		Labels: map[string]string{
			"ctf-owner":    spec.Owner,
			"ctf-lab-type": spec.Type,
			"ctf-managed":  "true",
		},
	}, hostCfg, &network.NetworkingConfig{}, nil, spec.Name)
	if err != nil {
		return LabHandle{}, fmt.Errorf("container create failed: %w", err)
	}

	if err := d.client.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		// Best effort: don't leave the created-but-unstarted container around.
		_ = d.client.ContainerRemove(context.Background(), created.ID, container.RemoveOptions{Force: true})
		return LabHandle{}, fmt.Errorf("container start failed: %w", err)
	}

	addr, err := d.containerAddress(ctx, created.ID)
	if err != nil {
		_ = d.client.ContainerRemove(context.Background(), created.ID, container.RemoveOptions{Force: true})
		return LabHandle{}, fmt.Errorf("container started but no address assigned: %w", err)
	}

	return LabHandle{ContainerID: created.ID, Address: addr, Port: spec.Port}, nil
}

// StopAndRemove stops and removes a container. Absent containers are fine.
func (d *DockerRuntime) StopAndRemove(ctx context.Context, containerID string) error {
	stopTimeout := 10
	if err := d.client.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &stopTimeout}); err != nil {
		if !errdefs.IsNotFound(err) {
			logging.L().Warn("container stop failed, forcing removal",
				zap.String("container_id", containerID), zap.Error(err))
		}
	}
	if err := d.client.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		if errdefs.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("container remove failed: %w", err)
	}
	return nil
}

// Stats reports engine-wide resource usage.
func (d *DockerRuntime) Stats(ctx context.Context) (HostStats, error) {
	info, err := d.client.Info(ctx)
	if err != nil {
		return HostStats{}, fmt.Errorf("docker info failed: %w", err)
	}
	return HostStats{
		ContainersRunning: info.ContainersRunning,
		ContainersTotal:   info.Containers,
		Images:            info.Images,
		CPUCores:          info.NCPU,
		MemoryTotalBytes:  info.MemTotal,
		ServerVersion:     info.ServerVersion,
	}, nil
}

// Close releases the Docker client.
func (d *DockerRuntime) Close() error {
	return d.client.Close()
}

// ensureNetwork creates the isolated bridge on first use and installs the
// egress block toward the protected subnet.
func (d *DockerRuntime) ensureNetwork(ctx context.Context) error {
	_, err := d.client.NetworkInspect(ctx, d.networkName, network.InspectOptions{})
	if err == nil {
		return nil
	}
	if !errdefs.IsNotFound(err) {
		return fmt.Errorf("network inspect failed: %w", err)
	}

	_, err = d.client.NetworkCreate(ctx, d.networkName, network.CreateOptions{
		Driver: "bridge",
		IPAM: &network.IPAM{
			Config: []network.IPAMConfig{{Subnet: d.subnet}},
		},
	})
	if err != nil {
		return fmt.Errorf("network create failed: %w", err)
	}

	// Drop lab traffic toward the protected subnet. The rule lives in the
	// host firewall; failure degrades isolation but not lab startup.
	if d.egressBlock != "" {
		cmd := exec.CommandContext(ctx, "iptables", "-I", "DOCKER-USER",
			"-s", d.subnet, "-d", d.egressBlock, "-j", "DROP")
		if out, err := cmd.CombinedOutput(); err != nil {
			logging.L().Warn("egress block rule install failed",
				zap.String("output", string(out)), zap.Error(err))
		}
	}

	logging.L().Info("created isolated lab network",
		zap.String("network", d.networkName), zap.String("subnet", d.subnet))
	return nil
}

// containerAddress returns the container's IP on the isolated network.
func (d *DockerRuntime) containerAddress(ctx context.Context, containerID string) (string, error) {
	inspect, err := d.client.ContainerInspect(ctx, containerID)
	if err != nil {
		return "", err
	}
	if inspect.NetworkSettings == nil {
		return "", fmt.Errorf("no network settings")
	}
	if ep, ok := inspect.NetworkSettings.Networks[d.networkName]; ok && ep.IPAddress != "" {
		return ep.IPAddress, nil
	}
	for _, ep := range inspect.NetworkSettings.Networks {
		if ep.IPAddress != "" {
			return ep.IPAddress, nil
		}
	}
	return "", fmt.Errorf("no address assigned")
}
