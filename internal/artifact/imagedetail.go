package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ImageDetail is the imageDetail.json document CodePipeline hands to CodeDeploy
type ImageDetail struct {
	ImageURI string `json:"ImageURI"`
}

// WriteImageDetail writes the document to path, replacing any previous file
func WriteImageDetail(path, imageURI string) error {
	data, err := json.Marshal(ImageDetail{ImageURI: imageURI})
	if err != nil {
		return fmt.Errorf("failed to encode image detail: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".imagedetail-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write image detail: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write image detail: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
