// Package dataproc will submit the Spark indexing job to Google Cloud
// Dataproc. Actual submission is not wired up yet; Trigger validates
// its settings and hands back a placeholder reference immediately, so
// callers on the request path never block on it.
package dataproc

import (
	"context"
	"errors"
	"log/slog"
)

// PlaceholderJobID marks references returned before real submission
// is implemented.
const PlaceholderJobID = "dataproc-job-not-yet-implemented"

const defaultRegion = "us-central1"

var (
	ErrMissingProject = errors.New("dataproc: project id is not set")
	ErrMissingCluster = errors.New("dataproc: cluster name is not set")
)

// Settings configures job submission. The field layout matches
// config.DataprocConfig so a loaded configuration converts directly.
type Settings struct {
	ProjectID   string
	Region      string
	ClusterName string
	JarURI      string
	MainClass   string
}

// JobRef identifies a submitted batch job.
type JobRef struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Region    string `json:"region"`
	Cluster   string `json:"cluster"`
}

// Trigger submits indexing jobs.
type Trigger struct {
	settings Settings
	logger   *slog.Logger
}

// NewTrigger builds a trigger with the given settings. A nil logger
// falls back to slog.Default().
func NewTrigger(settings Settings, logger *slog.Logger) *Trigger {
	if logger == nil {
		logger = slog.Default()
	}
	if settings.Region == "" {
		settings.Region = defaultRegion
	}
	return &Trigger{settings: settings, logger: logger}
}

// Configured reports whether the required settings are present.
// Callers can skip Submit entirely when they are not.
func (t *Trigger) Configured() bool {
	return t.settings.ProjectID != "" && t.settings.ClusterName != ""
}

// Submit schedules the indexing job for the given source URL. All
// missing settings are reported together. Until real submission
// lands, a placeholder job reference is returned and a warning is
// logged.
func (t *Trigger) Submit(ctx context.Context, sourceURL string) (*JobRef, error) {
	var errs []error
	if t.settings.ProjectID == "" {
		errs = append(errs, ErrMissingProject)
	}
	if t.settings.ClusterName == "" {
		errs = append(errs, ErrMissingCluster)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	t.logger.WarnContext(ctx, "dataproc submission is stubbed, returning placeholder job",
		"project_id", t.settings.ProjectID,
		"region", t.settings.Region,
		"cluster", t.settings.ClusterName,
		"source_url", sourceURL)

	return &JobRef{
		ID:        PlaceholderJobID,
		ProjectID: t.settings.ProjectID,
		Region:    t.settings.Region,
		Cluster:   t.settings.ClusterName,
	}, nil
}
