// Copyright 2026 The Ttyfarm Authors
// SPDX-License-Identifier: Apache-2.0

package driver

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/strslice"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
)

// workspacePath is where the user's volume is mounted inside the
// sandbox. The terminal starts here and HOME points at it, so
// everything the user saves survives sandbox teardown.
const workspacePath = "/workspace"

// Per-operation deadlines. Creation covers an image-backed container
// start; inspect and destroy are cheap daemon round-trips. A call
// that outlives its deadline surfaces as an error and the caller
// compensates.
const (
	createTimeout  = 30 * time.Second
	inspectTimeout = 5 * time.Second
	destroyTimeout = 10 * time.Second
	volumeTimeout  = 5 * time.Second
)

// DockerConfig configures the Docker driver.
type DockerConfig struct {
	// Image is the terminal sandbox image.
	Image string

	// InternalPort is the port the terminal service listens on
	// inside the sandbox.
	InternalPort int

	// MemoryMB, CPUs, and PidsLimit are per-sandbox ceilings.
	MemoryMB  int64
	CPUs      float64
	PidsLimit int64
}

// DockerDriver implements Driver against the Docker Engine API.
type DockerDriver struct {
	cfg    DockerConfig
	client *client.Client
	logger *slog.Logger
}

// NewDockerDriver creates a driver using the environment's Docker
// endpoint (DOCKER_HOST et al.). Call Ping to verify connectivity
// and EnsureImage to pre-pull the sandbox image before serving.
func NewDockerDriver(cfg DockerConfig, logger *slog.Logger) (*DockerDriver, error) {
	if cfg.Image == "" {
		return nil, fmt.Errorf("driver: image is required")
	}
	if cfg.InternalPort <= 0 {
		return nil, fmt.Errorf("driver: internal port is required")
	}

	dockerClient, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("driver: creating docker client: %w", err)
	}

	return &DockerDriver{cfg: cfg, client: dockerClient, logger: logger}, nil
}

// Ping verifies the Docker daemon is reachable.
func (d *DockerDriver) Ping(ctx context.Context) error {
	if _, err := d.client.Ping(ctx); err != nil {
		return &OpError{Op: "ping", Err: err}
	}
	return nil
}

// EnsureImage pulls the sandbox image if it is not present locally.
func (d *DockerDriver) EnsureImage(ctx context.Context) error {
	if _, _, err := d.client.ImageInspectWithRaw(ctx, d.cfg.Image); err == nil {
		return nil
	} else if !client.IsErrNotFound(err) {
		return &OpError{Op: "image inspect", Err: err}
	}

	d.logger.Info("pulling sandbox image", "image", d.cfg.Image)
	reader, err := d.client.ImagePull(ctx, d.cfg.Image, image.PullOptions{})
	if err != nil {
		return &OpError{Op: "image pull", Err: err}
	}
	defer reader.Close()

	// The pull reports progress as a JSON stream; drain it.
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return &OpError{Op: "image pull", Err: err}
	}
	return nil
}

// Close releases the underlying client.
func (d *DockerDriver) Close() error {
	return d.client.Close()
}

// CreateSandbox ensures the user's volume, then creates and starts a
// locked-down container publishing the terminal on spec.Port.
func (d *DockerDriver) CreateSandbox(ctx context.Context, spec CreateSpec) (string, error) {
	if err := d.ensureVolume(ctx, spec.VolumeName); err != nil {
		return "", err
	}

	createCtx, cancel := context.WithTimeout(ctx, createTimeout)
	defer cancel()

	internal, err := nat.NewPort("tcp", strconv.Itoa(d.cfg.InternalPort))
	if err != nil {
		return "", &OpError{Op: "container create", Err: err}
	}

	containerConfig := &container.Config{
		Image: d.cfg.Image,
		Cmd: strslice.StrSlice{
			"ttyd", "-W",
			"-p", strconv.Itoa(d.cfg.InternalPort),
			// One terminal client per sandbox; a second connection
			// to the same session is refused by ttyd itself.
			"--max-clients", "1",
			"bash",
		},
		Env: []string{
			"HOME=" + workspacePath,
			"USER=user",
			"SHELL=/bin/bash",
		},
		WorkingDir:   workspacePath,
		ExposedPorts: nat.PortSet{internal: struct{}{}},
		Labels: map[string]string{
			"ttyfarm.user_id":  strconv.FormatInt(spec.UserID, 10),
			"ttyfarm.username": spec.Username,
		},
	}

	memoryBytes := d.cfg.MemoryMB << 20
	pidsLimit := d.cfg.PidsLimit

	hostConfig := &container.HostConfig{
		PortBindings: nat.PortMap{
			internal: []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: strconv.Itoa(spec.Port)}},
		},
		Mounts: []mount.Mount{{
			Type:   mount.TypeVolume,
			Source: spec.VolumeName,
			Target: workspacePath,
		}},
		Resources: container.Resources{
			Memory: memoryBytes,
			// Swap ceiling equals the memory ceiling: no swap.
			MemorySwap: memoryBytes,
			NanoCPUs:   int64(d.cfg.CPUs * 1e9),
			PidsLimit:  &pidsLimit,
		},
		// Immutable root filesystem with writable scratch mounts;
		// the only persistent write surface is the workspace volume.
		ReadonlyRootfs: true,
		Tmpfs: map[string]string{
			"/tmp":  "",
			"/home": "",
			"/var":  "",
		},
		SecurityOpt: []string{"no-new-privileges"},
		CapDrop:     strslice.StrSlice{"ALL"},
		CapAdd: strslice.StrSlice{
			"CHOWN", "DAC_OVERRIDE", "FOWNER", "SETGID", "SETUID",
		},
		RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyUnlessStopped},
	}

	created, err := d.client.ContainerCreate(createCtx, containerConfig, hostConfig, nil, nil, spec.Name)
	if err != nil {
		return "", &OpError{Op: "container create", Err: err}
	}

	if err := d.client.ContainerStart(createCtx, created.ID, container.StartOptions{}); err != nil {
		// Don't leave a created-but-never-started container behind.
		removeCtx, removeCancel := context.WithTimeout(context.Background(), destroyTimeout)
		defer removeCancel()
		if removeErr := d.client.ContainerRemove(removeCtx, created.ID, container.RemoveOptions{Force: true}); removeErr != nil && !client.IsErrNotFound(removeErr) {
			d.logger.Warn("removing unstarted container failed",
				"container", spec.Name, "error", removeErr)
		}
		return "", &OpError{Op: "container start", Err: err}
	}

	d.logger.Info("sandbox created",
		"name", spec.Name,
		"handle", created.ID[:12],
		"port", spec.Port,
		"volume", spec.VolumeName,
	)
	return created.ID, nil
}

// InspectStatus reports the sandbox's state, tolerating out-of-band
// removal.
func (d *DockerDriver) InspectStatus(ctx context.Context, handle string) (Status, error) {
	inspectCtx, cancel := context.WithTimeout(ctx, inspectTimeout)
	defer cancel()

	info, err := d.client.ContainerInspect(inspectCtx, handle)
	if err != nil {
		if client.IsErrNotFound(err) {
			return StatusNotFound, nil
		}
		return "", &OpError{Op: "container inspect", Err: err}
	}
	if info.State != nil && info.State.Running {
		return StatusRunning, nil
	}
	return StatusStopped, nil
}

// DestroySandbox stops then removes the container. Absent containers
// are treated as already destroyed. The workspace volume is never
// touched.
func (d *DockerDriver) DestroySandbox(ctx context.Context, handle string) error {
	destroyCtx, cancel := context.WithTimeout(ctx, destroyTimeout)
	defer cancel()

	stopSeconds := 5
	if err := d.client.ContainerStop(destroyCtx, handle, container.StopOptions{Timeout: &stopSeconds}); err != nil {
		if !client.IsErrNotFound(err) {
			return &OpError{Op: "container stop", Err: err}
		}
	}

	if err := d.client.ContainerRemove(destroyCtx, handle, container.RemoveOptions{Force: true}); err != nil {
		if !client.IsErrNotFound(err) {
			return &OpError{Op: "container remove", Err: err}
		}
	}
	return nil
}

// VolumeExists reports whether the named volume exists.
func (d *DockerDriver) VolumeExists(ctx context.Context, name string) (bool, error) {
	_, ok, err := d.VolumeMetadata(ctx, name)
	return ok, err
}

// VolumeMetadata inspects the named volume.
func (d *DockerDriver) VolumeMetadata(ctx context.Context, name string) (VolumeInfo, bool, error) {
	volumeCtx, cancel := context.WithTimeout(ctx, volumeTimeout)
	defer cancel()

	info, err := d.client.VolumeInspect(volumeCtx, name)
	if err != nil {
		if client.IsErrNotFound(err) {
			return VolumeInfo{}, false, nil
		}
		return VolumeInfo{}, false, &OpError{Op: "volume inspect", Err: err}
	}
	return VolumeInfo{CreatedAt: parseVolumeTime(info.CreatedAt)}, true, nil
}

// ensureVolume creates the volume if it does not exist. VolumeCreate
// is idempotent for an existing name, but inspecting first avoids
// touching the metadata of a returning user's volume.
func (d *DockerDriver) ensureVolume(ctx context.Context, name string) error {
	volumeCtx, cancel := context.WithTimeout(ctx, volumeTimeout)
	defer cancel()

	if _, err := d.client.VolumeInspect(volumeCtx, name); err == nil {
		return nil
	} else if !client.IsErrNotFound(err) {
		return &OpError{Op: "volume inspect", Err: err}
	}

	if _, err := d.client.VolumeCreate(volumeCtx, volume.CreateOptions{Name: name}); err != nil {
		return &OpError{Op: "volume create", Err: err}
	}
	d.logger.Info("workspace volume created", "volume", name)
	return nil
}

// parseVolumeTime parses the daemon's volume CreatedAt string. An
// unparsable value yields the zero time rather than an error — the
// timestamp is informational only.
func parseVolumeTime(raw string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t
		}
	}
	return time.Time{}
}
