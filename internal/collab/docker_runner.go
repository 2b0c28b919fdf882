package collab

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

// DockerRunner executes an approved action's prompt inside a throwaway
// container: a fresh client.NewClientWithOpts per call,
// ContainerExecCreate/ContainerExecAttach, reading combined
// stdout/stderr via io.ReadAll(resp.Reader).
type DockerRunner struct {
	image string
	user  string
}

// NewDockerRunner configures the image a prompt is executed inside.
// Containers are created and torn down per Execute call; there is no
// standing pool since dispatch is occasional, not speculative.
func NewDockerRunner(image string) *DockerRunner {
	return &DockerRunner{image: image, user: "ghostuser"}
}

func (r *DockerRunner) Execute(ctx context.Context, prompt string, timeout time.Duration) (RunResult, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return RunResult{}, fmt.Errorf("collab: docker client: %w", err)
	}
	defer cli.Close()

	containerID, err := r.createContainer(cctx, cli)
	if err != nil {
		return RunResult{}, err
	}
	defer cli.ContainerRemove(context.Background(), containerID, types.ContainerRemoveOptions{Force: true})

	if err := cli.ContainerStart(cctx, containerID, types.ContainerStartOptions{}); err != nil {
		return RunResult{}, fmt.Errorf("collab: container start: %w", err)
	}

	execConfig := types.ExecConfig{
		User:         r.user,
		AttachStdout: true,
		AttachStderr: true,
		Cmd:          []string{"sh", "-c", prompt},
	}
	execID, err := cli.ContainerExecCreate(cctx, containerID, execConfig)
	if err != nil {
		return RunResult{}, fmt.Errorf("collab: exec create: %w", err)
	}

	resp, err := cli.ContainerExecAttach(cctx, execID.ID, types.ExecStartCheck{})
	if err != nil {
		return RunResult{}, fmt.Errorf("collab: exec attach: %w", err)
	}
	defer resp.Close()

	output, readErr := io.ReadAll(resp.Reader)
	if readErr != nil {
		return RunResult{Success: false, Error: readErr.Error()}, nil
	}

	inspect, inspectErr := cli.ContainerExecInspect(cctx, execID.ID)
	success := inspectErr == nil && inspect.ExitCode == 0

	result := RunResult{Success: success, Output: string(output)}
	if !success {
		result.Error = fmt.Sprintf("exit code %d", inspect.ExitCode)
	}
	return result, nil
}

func (r *DockerRunner) createContainer(ctx context.Context, cli *client.Client) (string, error) {
	cfg := &container.Config{
		Image: r.image,
		Cmd:   []string{"sleep", "infinity"},
		Tty:   false,
	}
	resp, err := cli.ContainerCreate(ctx, cfg, nil, nil, nil, "")
	if err != nil {
		return "", fmt.Errorf("collab: container create: %w", err)
	}
	return resp.ID, nil
}
