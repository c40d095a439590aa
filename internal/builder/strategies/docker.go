package strategies

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/registry"
	"github.com/docker/docker/client"
	"github.com/moby/patternmatcher"
	"github.com/moby/patternmatcher/ignorefile"
	"github.com/rs/zerolog/log"

	"github.com/alvesdmateus/image-publisher/internal/publisher"
)

// DockerStrategy implements Strategy using the Docker Engine API
type DockerStrategy struct {
	client *client.Client

	// registryAuth holds encoded credentials from the last Login, keyed by server
	registryAuth map[string]string
}

// NewDockerStrategy creates a new Docker build strategy
func NewDockerStrategy() (*DockerStrategy, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	return &DockerStrategy{
		client:       cli,
		registryAuth: map[string]string{},
	}, nil
}

// Name returns the strategy name
func (s *DockerStrategy) Name() string {
	return string(StrategyTypeSDK)
}

// Prune removes stopped containers, unused networks and all unused images,
// the equivalent of `docker system prune -a`
func (s *DockerStrategy) Prune(ctx context.Context) error {
	var reclaimed uint64

	containers, err := s.client.ContainersPrune(ctx, filters.NewArgs())
	if err != nil {
		return fmt.Errorf("failed to prune containers: %w", err)
	}
	reclaimed += containers.SpaceReclaimed

	networks, err := s.client.NetworksPrune(ctx, filters.NewArgs())
	if err != nil {
		return fmt.Errorf("failed to prune networks: %w", err)
	}

	images, err := s.client.ImagesPrune(ctx, filters.NewArgs(filters.Arg("dangling", "false")))
	if err != nil {
		return fmt.Errorf("failed to prune images: %w", err)
	}
	reclaimed += images.SpaceReclaimed

	log.Info().
		Int("containers", len(containers.ContainersDeleted)).
		Int("networks", len(networks.NetworksDeleted)).
		Int("images", len(images.ImagesDeleted)).
		Uint64("spaceReclaimed", reclaimed).
		Msg("Pruned local docker artifacts")

	return nil
}

// Build builds a container image using Docker
func (s *DockerStrategy) Build(ctx context.Context, req publisher.BuildRequest) (string, error) {
	startTime := time.Now()

	if err := s.verifyDockerAccess(ctx); err != nil {
		return "", err
	}

	dockerfile := req.Dockerfile
	if dockerfile == "" {
		dockerfile = "Dockerfile"
	}

	buildContextTar, err := createBuildContext(req.ContextDir, dockerfile)
	if err != nil {
		return "", fmt.Errorf("failed to create build context: %w", err)
	}
	defer buildContextTar.Close()

	buildOptions := types.ImageBuildOptions{
		Tags:        []string{req.Reference()},
		Dockerfile:  filepath.ToSlash(dockerfile),
		Remove:      true,
		ForceRemove: true,
		Labels:      req.Labels,
	}

	buildResponse, err := s.client.ImageBuild(ctx, buildContextTar, buildOptions)
	if err != nil {
		return "", fmt.Errorf("docker build failed: %w", err)
	}
	defer buildResponse.Body.Close()

	var buildLog strings.Builder
	imageID, err := streamBuildOutput(ctx, buildResponse.Body, &buildLog)
	if err != nil {
		return "", fmt.Errorf("%w\n%s", err, buildLog.String())
	}

	log.Info().
		Str("reference", req.Reference()).
		Str("imageID", imageID).
		Dur("duration", time.Since(startTime)).
		Msg("Docker build completed")

	return imageID, nil
}

// Login validates credentials with the daemon and keeps them for pushes
func (s *DockerStrategy) Login(ctx context.Context, creds publisher.Credentials) error {
	authConfig := registry.AuthConfig{
		Username:      creds.Username,
		Password:      creds.Password,
		ServerAddress: creds.ServerAddress,
	}

	if _, err := s.client.RegistryLogin(ctx, authConfig); err != nil {
		return fmt.Errorf("registry login failed: %w", err)
	}

	encoded, err := registry.EncodeAuthConfig(authConfig)
	if err != nil {
		return fmt.Errorf("failed to encode auth config: %w", err)
	}
	s.registryAuth[creds.ServerAddress] = encoded

	return nil
}

// ImageID returns the ID of the image matching reference, empty if absent
func (s *DockerStrategy) ImageID(ctx context.Context, reference string) (string, error) {
	images, err := s.client.ImageList(ctx, image.ListOptions{
		Filters: filters.NewArgs(filters.Arg("reference", reference)),
	})
	if err != nil {
		return "", fmt.Errorf("failed to list images: %w", err)
	}

	ids := make([]string, 0, len(images))
	for _, img := range images {
		ids = append(ids, img.ID)
	}
	ids = uniqueLines(strings.Join(ids, "\n"))

	switch len(ids) {
	case 0:
		return "", nil
	case 1:
		return ids[0], nil
	default:
		return "", fmt.Errorf("reference %s matches %d images", reference, len(ids))
	}
}

// Tag tags an existing image with a new reference
func (s *DockerStrategy) Tag(ctx context.Context, imageID, target string) error {
	if err := s.client.ImageTag(ctx, imageID, target); err != nil {
		return fmt.Errorf("failed to tag image: %w", err)
	}
	return nil
}

// Push pushes an image using the credentials from Login
func (s *DockerStrategy) Push(ctx context.Context, target string) error {
	host, _, _ := strings.Cut(target, "/")

	pushResponse, err := s.client.ImagePush(ctx, target, image.PushOptions{
		RegistryAuth: s.registryAuth[host],
	})
	if err != nil {
		return fmt.Errorf("failed to push image: %w", err)
	}
	defer pushResponse.Close()

	if err := streamPushOutput(ctx, pushResponse); err != nil {
		return fmt.Errorf("push failed: %w", err)
	}

	log.Info().Str("imageTag", target).Msg("Image pushed successfully")
	return nil
}

// Close closes the Docker client connection
func (s *DockerStrategy) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// verifyDockerAccess checks if Docker daemon is accessible
func (s *DockerStrategy) verifyDockerAccess(ctx context.Context) error {
	if _, err := s.client.Ping(ctx); err != nil {
		return fmt.Errorf("docker daemon not accessible: %w", err)
	}
	return nil
}

// readDockerignore loads the exclusion patterns of the context's .dockerignore
func readDockerignore(sourcePath string) (*patternmatcher.PatternMatcher, error) {
	f, err := os.Open(filepath.Join(sourcePath, ".dockerignore"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	patterns, err := ignorefile.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read .dockerignore: %w", err)
	}
	if len(patterns) == 0 {
		return nil, nil
	}

	return patternmatcher.New(patterns)
}

// createBuildContext creates a tar archive of the build context honoring
// .dockerignore the way the docker CLI does. The Dockerfile and .dockerignore
// are always sent.
func createBuildContext(sourcePath, dockerfile string) (io.ReadCloser, error) {
	pm, err := readDockerignore(sourcePath)
	if err != nil {
		return nil, err
	}

	keep := map[string]bool{".dockerignore": true}
	if dockerfile != "" && !filepath.IsAbs(dockerfile) {
		keep[filepath.ToSlash(filepath.Clean(dockerfile))] = true
	}

	buf := new(bytes.Buffer)
	tw := tar.NewWriter(buf)

	err = filepath.Walk(sourcePath, func(file string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		relPath, err := filepath.Rel(sourcePath, file)
		if err != nil {
			return err
		}
		if relPath == "." {
			return nil
		}
		name := filepath.ToSlash(relPath)

		if pm != nil && !keep[name] {
			excluded, err := pm.MatchesOrParentMatches(name)
			if err != nil {
				return err
			}
			if excluded {
				// a later "!" pattern may re-include something below this directory
				if fi.IsDir() && !pm.Exclusions() {
					return filepath.SkipDir
				}
				return nil
			}
		}

		var link string
		if fi.Mode()&os.ModeSymlink != 0 {
			if link, err = os.Readlink(file); err != nil {
				return err
			}
		}

		header, err := tar.FileInfoHeader(fi, link)
		if err != nil {
			return err
		}
		header.Name = name

		if err := tw.WriteHeader(header); err != nil {
			return err
		}

		if !fi.Mode().IsRegular() {
			return nil
		}

		data, err := os.Open(file)
		if err != nil {
			return err
		}
		defer data.Close()

		_, err = io.Copy(tw, data)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create tar archive: %w", err)
	}

	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize tar archive: %w", err)
	}

	return io.NopCloser(bytes.NewReader(buf.Bytes())), nil
}

// buildMessage is one JSON line of the build output stream
type buildMessage struct {
	Stream      string `json:"stream"`
	Error       string `json:"error"`
	ErrorDetail struct {
		Message string `json:"message"`
	} `json:"errorDetail"`
	Aux json.RawMessage `json:"aux"`
}

// streamBuildOutput parses Docker build output and returns the built image ID
func streamBuildOutput(ctx context.Context, reader io.Reader, buildLog *strings.Builder) (string, error) {
	decoder := json.NewDecoder(reader)
	var imageID string

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		var msg buildMessage
		if err := decoder.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				return imageID, nil
			}
			return "", fmt.Errorf("failed to decode build output: %w", err)
		}

		if msg.Error != "" {
			buildLog.WriteString(msg.Error)
			detail := msg.ErrorDetail.Message
			if detail == "" {
				detail = msg.Error
			}
			return "", fmt.Errorf("build error: %s", detail)
		}

		if len(msg.Aux) > 0 {
			var aux struct {
				ID string `json:"ID"`
			}
			if err := json.Unmarshal(msg.Aux, &aux); err == nil && aux.ID != "" {
				imageID = aux.ID
			}
		}

		if msg.Stream != "" {
			buildLog.WriteString(msg.Stream)
			log.Debug().Str("output", strings.TrimSpace(msg.Stream)).Msg("Build output")
		}
	}
}

// streamPushOutput streams Docker push output
func streamPushOutput(ctx context.Context, reader io.Reader) error {
	decoder := json.NewDecoder(reader)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		var msg struct {
			Status   string `json:"status"`
			Progress string `json:"progress"`
			Error    string `json:"error"`
		}

		if err := decoder.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("failed to decode push output: %w", err)
		}

		if msg.Error != "" {
			return fmt.Errorf("push error: %s", msg.Error)
		}

		if msg.Status != "" {
			log.Debug().
				Str("status", msg.Status).
				Str("progress", msg.Progress).
				Msg("Push progress")
		}
	}
}
