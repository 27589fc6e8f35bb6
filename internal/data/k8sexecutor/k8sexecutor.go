// Package k8sexecutor implements core.ExecutorClient against Kubernetes batch/v1 Jobs via
// k8s.io/client-go, grounded on the batch-job controller shape seen across the pack's
// Kubernetes material (the ttlafterfinished and cronjob controllers, the lib-common job helper):
// submit is an idempotent create, pollMany maps Job status to ExecutorJobInfo, fetchResult reads
// a result manifest the job writes to a well-known ConfigMap, and cleanUp deletes the Job with
// background propagation so Pod garbage collection happens asynchronously.
package k8sexecutor

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/tracorch/jobcore/internal/core"
	"github.com/tracorch/jobcore/internal/domain/model"
	"github.com/tracorch/jobcore/internal/errors"
)

// Client is the Kubernetes-backed core.ExecutorClient.
type Client struct {
	Clientset      kubernetes.Interface
	Namespace      string
	Image          string
	ServiceAccount string
	TTLAfterFinish int32
	BackoffLimit   int32
}

// New constructs a Client from config.ExecutorConfig's resolved fields plus a ready clientset.
func New(clientset kubernetes.Interface, namespace, image, serviceAccount string, ttlAfterFinish, backoffLimit int32) *Client {
	return &Client{
		Clientset:      clientset,
		Namespace:      namespace,
		Image:          image,
		ServiceAccount: serviceAccount,
		TTLAfterFinish: ttlAfterFinish,
		BackoffLimit:   backoffLimit,
	}
}

var _ core.ExecutorClient = (*Client)(nil)

// jobName derives a deterministic, DNS-label-safe Kubernetes Job name from jobKey so Submit is
// idempotent by construction: retrying with the same jobKey always targets the same object.
func jobName(jobKey string) string {
	sum := sha256.Sum256([]byte(jobKey))
	return "jobcore-" + hex.EncodeToString(sum[:])[:32]
}

func resultConfigMapName(batchState string) string {
	return batchState + "-result"
}

func (c *Client) Submit(ctx context.Context, jobKey string, state model.JobState) (string, error) {
	name := jobName(jobKey)

	defJSON, err := json.Marshal(state.Definition)
	if err != nil {
		return "", fmt.Errorf("marshal job definition: %w", err)
	}

	job := &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: c.Namespace,
			Labels: map[string]string{
				"jobcore.io/job-key": sanitizeLabelValue(jobKey),
				"jobcore.io/tenant":  sanitizeLabelValue(state.Tenant),
			},
		},
		Spec: batchv1.JobSpec{
			TTLSecondsAfterFinished: int32Ptr(c.TTLAfterFinish),
			BackoffLimit:            int32Ptr(c.BackoffLimit),
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{
					Labels: map[string]string{"jobcore.io/job-key": sanitizeLabelValue(jobKey)},
				},
				Spec: corev1.PodSpec{
					RestartPolicy:      corev1.RestartPolicyNever,
					ServiceAccountName: c.ServiceAccount,
					Containers: []corev1.Container{
						{
							Name:  "runner",
							Image: c.Image,
							Env: []corev1.EnvVar{
								{Name: "JOBCORE_JOB_KEY", Value: jobKey},
								{Name: "JOBCORE_JOB_TYPE", Value: string(state.JobType)},
								{Name: "JOBCORE_JOB_DEFINITION", Value: base64.StdEncoding.EncodeToString(defJSON)},
								{Name: "JOBCORE_RESULT_CONFIGMAP", Value: resultConfigMapName(name)},
							},
						},
					},
				},
			},
		},
	}

	_, err = c.Clientset.BatchV1().Jobs(c.Namespace).Create(ctx, job, metav1.CreateOptions{})
	if err != nil {
		if apierrors.IsAlreadyExists(err) {
			return name, nil
		}
		return "", errors.Wrap(err, errors.CodeExecutorUnavailable, "create executor job failed")
	}
	return name, nil
}

func (c *Client) PollMany(ctx context.Context, handles []core.ExecutorHandle) ([]model.ExecutorJobInfo, error) {
	out := make([]model.ExecutorJobInfo, len(handles))
	for i, h := range handles {
		job, err := c.Clientset.BatchV1().Jobs(c.Namespace).Get(ctx, h.BatchState, metav1.GetOptions{})
		if err != nil {
			if apierrors.IsNotFound(err) {
				out[i] = model.ExecutorJobInfo{JobKey: h.JobKey, Status: model.ExecutorStatusLost}
				continue
			}
			return nil, errors.Wrap(err, errors.CodeExecutorUnavailable, "poll executor job failed")
		}
		out[i] = model.ExecutorJobInfo{JobKey: h.JobKey, Status: statusFromJob(job), Diagnostics: diagnosticsFromJob(job)}
	}
	return out, nil
}

func statusFromJob(job *batchv1.Job) model.ExecutorStatus {
	switch {
	case job.Status.Succeeded > 0:
		return model.ExecutorStatusSucceeded
	case job.Status.Failed > 0:
		return model.ExecutorStatusFailed
	case job.Status.Active > 0:
		return model.ExecutorStatusRunning
	default:
		return model.ExecutorStatusPending
	}
}

func diagnosticsFromJob(job *batchv1.Job) string {
	for _, cond := range job.Status.Conditions {
		if cond.Type == batchv1.JobFailed && cond.Status == corev1.ConditionTrue {
			return cond.Message
		}
	}
	return ""
}

// resultManifest is the well-known JSON shape the job's container writes to its result ConfigMap
// under the "result.json" key.
type resultManifest struct {
	Outputs map[string]struct {
		ObjectType model.ObjectType  `json:"objectType"`
		Payload    json.RawMessage   `json:"payload"`
		Metadata   map[string]string `json:"metadata"`
	} `json:"outputs"`
}

func (c *Client) FetchResult(ctx context.Context, jobKey, batchState string) (model.RuntimeJobResult, error) {
	cm, err := c.Clientset.CoreV1().ConfigMaps(c.Namespace).Get(ctx, resultConfigMapName(batchState), metav1.GetOptions{})
	if err != nil {
		return model.RuntimeJobResult{}, errors.Wrap(err, errors.CodeExecutorUnavailable, "fetch result configmap failed")
	}

	raw, ok := cm.Data["result.json"]
	if !ok {
		return model.RuntimeJobResult{}, errors.JobFailuref("job %s produced no result.json", jobKey)
	}

	var manifest resultManifest
	if err := json.Unmarshal([]byte(raw), &manifest); err != nil {
		return model.RuntimeJobResult{}, errors.JobFailuref("job %s result.json is malformed: %v", jobKey, err)
	}

	outputs := make(map[string]model.RuntimeOutput, len(manifest.Outputs))
	for name, out := range manifest.Outputs {
		outputs[name] = model.RuntimeOutput{
			ObjectType: out.ObjectType,
			Payload:    out.Payload,
			Metadata:   out.Metadata,
		}
	}
	return model.RuntimeJobResult{Outputs: outputs}, nil
}

func (c *Client) CleanUp(ctx context.Context, jobKey, batchState string) error {
	propagation := metav1.DeletePropagationBackground
	err := c.Clientset.BatchV1().Jobs(c.Namespace).Delete(ctx, batchState, metav1.DeleteOptions{PropagationPolicy: &propagation})
	if err != nil && !apierrors.IsNotFound(err) {
		return errors.Wrap(err, errors.CodeExecutorUnavailable, "delete executor job failed")
	}

	if err := c.Clientset.CoreV1().ConfigMaps(c.Namespace).Delete(ctx, resultConfigMapName(batchState), metav1.DeleteOptions{}); err != nil && !apierrors.IsNotFound(err) {
		return errors.Wrap(err, errors.CodeExecutorUnavailable, "delete result configmap failed")
	}
	return nil
}

func int32Ptr(v int32) *int32 { return &v }

// sanitizeLabelValue truncates to Kubernetes' 63-char label value limit; jobKey/tenant values
// are opaque identifiers here, used only for operational filtering, not lookups.
func sanitizeLabelValue(v string) string {
	if len(v) <= 63 {
		return v
	}
	return v[:63]
}
