package service

import (
	"context"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/tracorch/jobcore/internal/core"
	"github.com/tracorch/jobcore/internal/domain/model"
	"github.com/tracorch/jobcore/internal/errors"
)

var (
	_ core.MetadataClient      = (*fakeMetadata)(nil)
	_ core.ExecutorClient      = (*fakeExecutor)(nil)
	_ core.CredentialRebinder  = (*fakeRebinder)(nil)
)

// fakeMetadata is a hand-rolled core.MetadataClient test double, in the spirit of the teacher's
// stubJobNotifier: a small collaborator is easier to reason about as a direct fake than as a
// generated mock, reserving gomock-style mocks for wide interfaces.
type fakeMetadata struct {
	loadObjects         func(ctx context.Context, tenant string, selectors []model.Selector) ([]model.Object, error)
	saveInitialMetadata func(ctx context.Context, tenant string, jobDef []byte, preallocatedID string) (model.ObjectHeader, error)

	preallocateErr error
	saveResultErr  error

	preallocateCalls []model.PreallocateRequest
	savedWrites      [][]model.WriteRequest
}

func (f *fakeMetadata) LoadObjects(ctx context.Context, tenant string, selectors []model.Selector) ([]model.Object, error) {
	if f.loadObjects != nil {
		return f.loadObjects(ctx, tenant, selectors)
	}
	return nil, nil
}

func (f *fakeMetadata) PreallocateIDs(_ context.Context, _ string, requests []model.PreallocateRequest) ([]model.ObjectHeader, error) {
	f.preallocateCalls = append(f.preallocateCalls, requests...)
	if f.preallocateErr != nil {
		return nil, f.preallocateErr
	}
	headers := make([]model.ObjectHeader, 0)
	for _, req := range requests {
		for i := 0; i < req.Count; i++ {
			headers = append(headers, model.ObjectHeader{ObjectID: uuid.NewString(), ObjectType: req.ObjectType})
		}
	}
	return headers, nil
}

func (f *fakeMetadata) SaveInitialMetadata(ctx context.Context, tenant string, jobDef []byte, preallocatedID string) (model.ObjectHeader, error) {
	if f.saveInitialMetadata != nil {
		return f.saveInitialMetadata(ctx, tenant, jobDef, preallocatedID)
	}
	return model.ObjectHeader{ObjectID: preallocatedID, ObjectType: model.ObjectTypeJob, Version: "1"}, nil
}

func (f *fakeMetadata) SaveResultMetadata(_ context.Context, _ string, writes []model.WriteRequest) ([]model.ObjectHeader, error) {
	f.savedWrites = append(f.savedWrites, writes)
	if f.saveResultErr != nil {
		return nil, f.saveResultErr
	}
	headers := make([]model.ObjectHeader, 0, len(writes))
	for _, w := range writes {
		id := w.PreallocateID
		if id == "" {
			id = uuid.NewString()
		}
		headers = append(headers, model.ObjectHeader{ObjectID: id, ObjectType: w.ObjectType, Version: "1"})
	}
	return headers, nil
}

// fakeExecutor is a hand-rolled core.ExecutorClient test double. submitFn/fetchFn/pollFn let a
// test script a sequence of responses (e.g. ExecutorUnavailable twice then success, S3).
type fakeExecutor struct {
	submitFn  func(ctx context.Context, jobKey string, state model.JobState) (string, error)
	pollFn    func(ctx context.Context, handles []core.ExecutorHandle) ([]model.ExecutorJobInfo, error)
	fetchFn   func(ctx context.Context, jobKey, batchState string) (model.RuntimeJobResult, error)
	cleanUpFn func(ctx context.Context, jobKey, batchState string) error

	submitCalls  int
	fetchCalls   int
	cleanUpCalls int
}

func (f *fakeExecutor) Submit(ctx context.Context, jobKey string, state model.JobState) (string, error) {
	f.submitCalls++
	if f.submitFn != nil {
		return f.submitFn(ctx, jobKey, state)
	}
	return "batch-" + jobKey, nil
}

func (f *fakeExecutor) PollMany(ctx context.Context, handles []core.ExecutorHandle) ([]model.ExecutorJobInfo, error) {
	if f.pollFn != nil {
		return f.pollFn(ctx, handles)
	}
	return nil, nil
}

func (f *fakeExecutor) FetchResult(ctx context.Context, jobKey, batchState string) (model.RuntimeJobResult, error) {
	f.fetchCalls++
	if f.fetchFn != nil {
		return f.fetchFn(ctx, jobKey, batchState)
	}
	return model.RuntimeJobResult{}, nil
}

func (f *fakeExecutor) CleanUp(ctx context.Context, jobKey, batchState string) error {
	f.cleanUpCalls++
	if f.cleanUpFn != nil {
		return f.cleanUpFn(ctx, jobKey, batchState)
	}
	return nil
}

// fakeRebinder is a hand-rolled core.CredentialRebinder test double.
type fakeRebinder struct {
	err   error
	calls []string
}

func (f *fakeRebinder) Rebind(_ context.Context, ownerToken string) (oauth2.TokenSource, error) {
	f.calls = append(f.calls, ownerToken)
	if f.err != nil {
		return nil, f.err
	}
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "rebound-" + ownerToken}), nil
}

// flakySubmit fails the first n calls with a retryable ExecutorUnavailable error, then succeeds.
func flakySubmit(n int, batchState string) func(ctx context.Context, jobKey string, state model.JobState) (string, error) {
	calls := 0
	return func(_ context.Context, _ string, _ model.JobState) (string, error) {
		calls++
		if calls <= n {
			return "", errors.ExecutorUnavailable("executor busy")
		}
		return batchState, nil
	}
}
