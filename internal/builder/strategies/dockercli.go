package strategies

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/alvesdmateus/image-publisher/internal/publisher"
	"github.com/alvesdmateus/image-publisher/internal/runner"
)

const dockerBinary = "docker"

// DockerCLIStrategy drives the docker command-line tool
type DockerCLIStrategy struct {
	runner runner.CommandRunner
	sudo   bool
}

// NewDockerCLIStrategy creates a strategy that shells out to docker
func NewDockerCLIStrategy(r runner.CommandRunner, sudo bool) *DockerCLIStrategy {
	return &DockerCLIStrategy{runner: r, sudo: sudo}
}

// Name returns the strategy name
func (s *DockerCLIStrategy) Name() string {
	return string(StrategyTypeCLI)
}

// command returns the binary and arguments, wrapped in non-interactive sudo
// when configured. sudo must not prompt: login feeds the token on stdin.
func (s *DockerCLIStrategy) command(args ...string) (string, []string) {
	if s.sudo {
		return "sudo", append([]string{"-n", dockerBinary}, args...)
	}
	return dockerBinary, args
}

// Prune runs `docker system prune -a -f`
func (s *DockerCLIStrategy) Prune(ctx context.Context) error {
	name, args := s.command("system", "prune", "--all", "--force")
	_, err := s.runner.RunOutput(ctx, "", name, args...)
	return err
}

// Build runs `docker build` and reads the image ID from --iidfile
func (s *DockerCLIStrategy) Build(ctx context.Context, req publisher.BuildRequest) (string, error) {
	tmpDir, err := os.MkdirTemp("", "publisher-build-")
	if err != nil {
		return "", fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	iidFile := filepath.Join(tmpDir, "iid")

	buildArgs := []string{"build", "--tag", req.Reference(), "--iidfile", iidFile}
	if req.Dockerfile != "" {
		buildArgs = append(buildArgs, "--file", dockerfilePath(req))
	}
	for _, key := range sortedKeys(req.Labels) {
		buildArgs = append(buildArgs, "--label", key+"="+req.Labels[key])
	}
	buildArgs = append(buildArgs, req.ContextDir)

	name, args := s.command(buildArgs...)
	log.Debug().Str("command", runner.CommandLine(name, args...)).Msg("Running docker build")

	if err := s.runner.Run(ctx, "", name, args...); err != nil {
		return "", fmt.Errorf("docker build: %w", err)
	}

	data, err := os.ReadFile(iidFile)
	if err != nil {
		// Older docker versions may not honor --iidfile; fall back to lookup
		log.Debug().Err(err).Msg("Image ID file not written")
		return "", nil
	}

	return strings.TrimSpace(string(data)), nil
}

// Login pipes the password to `docker login --password-stdin`
func (s *DockerCLIStrategy) Login(ctx context.Context, creds publisher.Credentials) error {
	name, args := s.command("login", "--username", creds.Username, "--password-stdin", creds.ServerAddress)

	if _, err := s.runner.RunInput(ctx, strings.NewReader(creds.Password), "", name, args...); err != nil {
		return fmt.Errorf("docker login: %w", err)
	}
	return nil
}

// ImageID runs `docker images -q --no-trunc` for the reference
func (s *DockerCLIStrategy) ImageID(ctx context.Context, reference string) (string, error) {
	name, args := s.command("images", "--quiet", "--no-trunc", reference)

	output, err := s.runner.RunOutput(ctx, "", name, args...)
	if err != nil {
		return "", fmt.Errorf("docker images: %w", err)
	}

	ids := uniqueLines(string(output))
	switch len(ids) {
	case 0:
		return "", nil
	case 1:
		return ids[0], nil
	default:
		return "", fmt.Errorf("reference %s matches %d images: %s", reference, len(ids), strings.Join(ids, ", "))
	}
}

// Tag runs `docker tag`
func (s *DockerCLIStrategy) Tag(ctx context.Context, imageID, target string) error {
	name, args := s.command("tag", imageID, target)

	if _, err := s.runner.RunOutput(ctx, "", name, args...); err != nil {
		return fmt.Errorf("docker tag: %w", err)
	}
	return nil
}

// Push runs `docker push`
func (s *DockerCLIStrategy) Push(ctx context.Context, target string) error {
	name, args := s.command("push", target)

	if err := s.runner.Run(ctx, "", name, args...); err != nil {
		return fmt.Errorf("docker push: %w", err)
	}
	return nil
}

// dockerfilePath resolves a relative Dockerfile against the build context
func dockerfilePath(req publisher.BuildRequest) string {
	if filepath.IsAbs(req.Dockerfile) {
		return req.Dockerfile
	}
	return filepath.Join(req.ContextDir, req.Dockerfile)
}

func uniqueLines(output string) []string {
	seen := map[string]bool{}
	var lines []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || seen[line] {
			continue
		}
		seen[line] = true
		lines = append(lines, line)
	}
	return lines
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
