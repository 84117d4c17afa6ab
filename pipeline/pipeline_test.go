package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	registry "github.com/leandromet/data-cube-bdc-collection-builder/scene-task-registry"
)

func TestStageOf_MustResolveSuffixedActivityTypes(t *testing.T) {
	cases := map[string]string{
		"downloadLC8":   StageDownload,
		"correctionLC8": StageCorrection,
		"publishLC8":    StagePublish,
		"uploadLC8":     StageUpload,
	}
	for activityType, want := range cases {
		stage, err := StageOf(activityType)
		assert.NoError(t, err)
		assert.Equal(t, want, stage)
	}
}

func TestStageOf_MustRejectUnknownActivityType(t *testing.T) {
	_, err := StageOf("harmonizeLC8")
	assert.Error(t, err)
}

func TestStageOf_MustAcceptBareStageNames(t *testing.T) {
	stage, err := StageOf("download")

	assert.NoError(t, err)
	assert.Equal(t, StageDownload, stage)
}

func TestStageOf_MustNotMatchOnBarePrefix(t *testing.T) {
	// "downloads..." is not the download stage; the collection tag after the
	// stage name must be uppercase.
	_, err := StageOf("downloadsMeta")
	assert.Error(t, err)

	_, err = StageOf("uploading")
	assert.Error(t, err)
}

func TestQueueFor_MustResolveStageQueues(t *testing.T) {
	queue, err := QueueFor("correctionLC8")

	assert.NoError(t, err)
	assert.Equal(t, registry.QueueCorrection, queue)
}

func TestRegistry_MustRejectUnknownAndDuplicateStages(t *testing.T) {
	r := NewRegistry()

	err := r.Register(&Entry{Name: "harmonize"})
	assert.Error(t, err)

	assert.NoError(t, r.Register(&Entry{Name: StageDownload}))
	err = r.Register(&Entry{Name: StageDownload})
	assert.Error(t, err)
}

func TestRegistry_MustDefaultQueueFromStageName(t *testing.T) {
	r := NewRegistry()

	entry := &Entry{Name: StageCorrection}
	assert.NoError(t, r.Register(entry))

	assert.Equal(t, registry.QueueCorrection, entry.Queue)
}

func TestRegistry_Lookup_MustRouteActivityTypeToHandler(t *testing.T) {
	r := NewRegistry()
	handler := StageFunc(func(ctx context.Context, scene *registry.WorkDescriptor) (*registry.WorkDescriptor, error) {
		return scene, nil
	})
	assert.NoError(t, r.Register(&Entry{Name: StagePublish, Handler: handler}))

	entry, err := r.Lookup("publishLC8")
	assert.NoError(t, err)
	assert.Equal(t, StagePublish, entry.Name)

	_, err = r.Lookup("downloadLC8")
	assert.Error(t, err)
}

func TestRegistry_Entries_MustFollowChainOrder(t *testing.T) {
	r := NewRegistry()
	assert.NoError(t, r.Register(&Entry{Name: StageUpload}))
	assert.NoError(t, r.Register(&Entry{Name: StageDownload}))
	assert.NoError(t, r.Register(&Entry{Name: StagePublish}))

	var names []string
	for _, e := range r.Entries() {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{StageDownload, StagePublish, StageUpload}, names)
}

// countingStage fails a fixed number of times before succeeding.
type countingStage struct {
	calls    int
	failures int
	err      error
}

func (s *countingStage) Run(_ context.Context, scene *registry.WorkDescriptor) (*registry.WorkDescriptor, error) {
	s.calls++
	if s.calls <= s.failures {
		return nil, s.err
	}
	return scene, nil
}

func TestRun_MustRetryTransientPersistenceFailures(t *testing.T) {
	// given: a stage failing twice with a transient store error
	stage := &countingStage{
		failures: 2,
		err:      &registry.PersistenceError{Op: "create execution", Transient: true, Err: errors.New("throughput exceeded")},
	}
	entry := &Entry{
		Name:    StagePublish,
		Handler: stage,
		Retry:   RetryPolicy{MaxAttempts: 3, Delay: time.Millisecond, Retryable: registry.IsTransientPersistence},
	}

	// when
	scene := &registry.WorkDescriptor{SceneID: "LC08_L1TP_223067_20200826_X", ActivityType: "publishLC8"}
	out, err := entry.Run(context.Background(), scene)

	// then
	assert.NoError(t, err)
	assert.Equal(t, scene, out)
	assert.Equal(t, 3, stage.calls)
}

func TestRun_MustGiveUpAfterMaxAttempts(t *testing.T) {
	stage := &countingStage{
		failures: 5,
		err:      &registry.PersistenceError{Op: "create execution", Transient: true, Err: errors.New("throughput exceeded")},
	}
	entry := &Entry{
		Name:    StagePublish,
		Handler: stage,
		Retry:   RetryPolicy{MaxAttempts: 3, Delay: time.Millisecond, Retryable: registry.IsTransientPersistence},
	}

	_, err := entry.Run(context.Background(), &registry.WorkDescriptor{SceneID: "s"})

	assert.Error(t, err)
	assert.True(t, registry.IsTransientPersistence(err))
	assert.Equal(t, 3, stage.calls)
}

func TestRun_MustNotRetryNonRetryableFailures(t *testing.T) {
	stage := &countingStage{failures: 5, err: errors.New("bad scene id")}
	entry := &Entry{
		Name:    StagePublish,
		Handler: stage,
		Retry:   RetryPolicy{MaxAttempts: 3, Delay: time.Millisecond, Retryable: registry.IsTransientPersistence},
	}

	_, err := entry.Run(context.Background(), &registry.WorkDescriptor{SceneID: "s"})

	assert.Error(t, err)
	assert.Equal(t, 1, stage.calls)
}

func TestRun_MustSurfaceFailureWhenNoPolicyConfigured(t *testing.T) {
	stage := &countingStage{failures: 5, err: errors.New("boom")}
	entry := &Entry{Name: StageDownload, Handler: stage}

	_, err := entry.Run(context.Background(), &registry.WorkDescriptor{SceneID: "s"})

	assert.Error(t, err)
	assert.Equal(t, 1, stage.calls)
}
