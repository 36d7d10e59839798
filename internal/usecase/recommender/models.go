package recommender

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kailas-cloud/bookrec/internal/domain"
)

// Loadable is an artifact that reads itself from a file path.
type Loadable interface {
	Load(path string) error
	Loaded() bool
}

// Artifact names a model file and its in-memory target.
type Artifact struct {
	Name   string
	Path   string
	Target Loadable
}

// Models loads a fixed set of artifacts in order.
type Models struct {
	artifacts []Artifact
	logger    *zap.Logger
}

// NewModels creates a loader over artifacts.
func NewModels(logger *zap.Logger, artifacts ...Artifact) *Models {
	return &Models{artifacts: artifacts, logger: logger}
}

// Load reads every artifact not yet loaded and stops at the first failure.
func (m *Models) Load(ctx context.Context) error {
	for _, a := range m.artifacts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("load %s: %w", a.Name, err)
		}
		if a.Target.Loaded() {
			continue
		}
		if a.Path == "" {
			return fmt.Errorf("load %s: empty path: %w", a.Name, domain.ErrModelLoad)
		}
		if err := a.Target.Load(a.Path); err != nil {
			return fmt.Errorf("load %s: %w", a.Name, err)
		}
		m.logger.Info("model loaded", zap.String("model", a.Name), zap.String("path", a.Path))
	}
	return nil
}

// Loaded reports whether every artifact is in memory.
func (m *Models) Loaded() bool {
	for _, a := range m.artifacts {
		if !a.Target.Loaded() {
			return false
		}
	}
	return true
}
