package config

import "time"

// ExecutorConfig controls the Kubernetes-backed ExecutorClient (internal/data/k8sexecutor).
type ExecutorConfig struct {
	// Kubeconfig is the path to a kubeconfig file; empty uses in-cluster config.
	Kubeconfig string `env:"EXECUTOR_K8S_KUBECONFIG" envDefault:""`

	// Namespace is the namespace batch/v1 Jobs are created in.
	Namespace string `env:"EXECUTOR_K8S_NAMESPACE" envDefault:"jobcore"`

	// JobImage is the container image run for every submitted job, whatever its job type.
	JobImage string `env:"EXECUTOR_K8S_JOB_IMAGE" envDefault:""`

	// ServiceAccount is the Kubernetes service account submitted Jobs run under.
	ServiceAccount string `env:"EXECUTOR_K8S_SERVICE_ACCOUNT" envDefault:"jobcore-runner"`

	// TTLSecondsAfterFinished sets batch/v1 Job.Spec.TTLSecondsAfterFinished so Kubernetes garbage
	// collects finished Jobs independent of cleanUp (belt-and-suspenders against cache/executor
	// divergence after a crash between EXECUTOR_COMPLETE and cleanUpJob).
	TTLSecondsAfterFinished int32 `env:"EXECUTOR_K8S_JOB_TTL_SECONDS" envDefault:"600"`

	// BackoffLimit is the batch/v1 Job retry budget at the Kubernetes layer, independent of the
	// core's own processing-retry limit.
	BackoffLimit int32 `env:"EXECUTOR_K8S_BACKOFF_LIMIT" envDefault:"0"`

	// RequestTimeout bounds individual client-go API calls (submit/poll/fetch/cleanup).
	RequestTimeout time.Duration `env:"EXECUTOR_K8S_REQUEST_TIMEOUT" envDefault:"15s"`
}

// Sanitize applies guardrails to executor configuration values loaded from env.
func (c *ExecutorConfig) Sanitize() {
	if c.Namespace == "" {
		c.Namespace = "jobcore"
	}
	if c.ServiceAccount == "" {
		c.ServiceAccount = "jobcore-runner"
	}
	if c.TTLSecondsAfterFinished < 0 {
		c.TTLSecondsAfterFinished = 600
	}
	if c.BackoffLimit < 0 {
		c.BackoffLimit = 0
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 15 * time.Second
	}
}
