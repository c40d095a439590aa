package strategies

import (
	"errors"

	"github.com/go-git/go-git/v5"
)

// Label keys applied to every published image
const (
	LabelApp      = "org.opencontainers.image.title"
	LabelVersion  = "org.opencontainers.image.version"
	LabelRevision = "org.opencontainers.image.revision"
)

// SourceRevision returns the HEAD commit of the repository containing dir.
// An empty string is returned when dir is not inside a git repository.
func SourceRevision(dir string) (string, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return "", nil
		}
		return "", err
	}

	head, err := repo.Head()
	if err != nil {
		// Repository without commits
		return "", nil
	}

	return head.Hash().String(), nil
}

// DefaultLabels returns the image labels for an application build
func DefaultLabels(appName, tag, revision string) map[string]string {
	labels := map[string]string{
		LabelApp:     appName,
		LabelVersion: tag,
	}
	if revision != "" {
		labels[LabelRevision] = revision
	}
	return labels
}
