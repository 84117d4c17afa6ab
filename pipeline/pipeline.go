// Package pipeline is the task-chain orchestration core: the Stage contract,
// the explicit stage registry with per-queue retry policy, and the routing of
// activity types onto stages and queues. Concrete handlers live in the
// per-collection packages; the worker binary glues both to the broker.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	registry "github.com/leandromet/data-cube-bdc-collection-builder/scene-task-registry"
)

// Stage is one phase of the pipeline. Run consumes a work descriptor, performs
// the stage's external effect and returns the descriptor for the next stage,
// or nil when the stage is terminal. Handlers must call CreateExecution before
// any external effect so a failed attempt still leaves an audit trail.
type Stage interface {
	Run(ctx context.Context, scene *registry.WorkDescriptor) (*registry.WorkDescriptor, error)
}

// StageFunc adapts a function to the Stage interface.
type StageFunc func(ctx context.Context, scene *registry.WorkDescriptor) (*registry.WorkDescriptor, error)

func (f StageFunc) Run(ctx context.Context, scene *registry.WorkDescriptor) (*registry.WorkDescriptor, error) {
	return f(ctx, scene)
}

// RetryPolicy bounds automatic in-process re-attempts of a stage. Zero value
// means no automatic retry: the failure is surfaced and the broker's
// redelivery takes over. Retryable selects which failures are worth
// re-attempting; when nil, nothing is.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
	Retryable   func(error) bool
}

// Entry binds a stage name to its handler, its queue and its retry policy.
// Built at process start and passed by reference; there is no ambient global
// registration.
type Entry struct {
	Name    string
	Queue   string
	Handler Stage
	Retry   RetryPolicy
}

// Canonical stage names. Activity types are these names with a
// collection-specific suffix (downloadLC8, correctionLC8, ...).
const (
	StageDownload   = "download"
	StageCorrection = "correction"
	StagePublish    = "publish"
	StageUpload     = "upload"
)

var stageQueues = map[string]string{
	StageDownload:   registry.QueueDownload,
	StageCorrection: registry.QueueCorrection,
	StagePublish:    registry.QueuePublish,
	StageUpload:     registry.QueueUpload,
}

// StageOf resolves an activity type to its canonical stage name:
// "correctionLC8" -> "correction". The part after the stage name must be empty
// or an uppercase collection tag, so "downloadsMeta" is not the download stage.
func StageOf(activityType string) (string, error) {
	for _, name := range []string{StageDownload, StageCorrection, StagePublish, StageUpload} {
		suffix, ok := strings.CutPrefix(activityType, name)
		if ok && (suffix == "" || suffix[0] >= 'A' && suffix[0] <= 'Z') {
			return name, nil
		}
	}
	return "", fmt.Errorf("activity type %q does not name a known stage", activityType)
}

// QueueFor resolves an activity type to the dispatch queue of its stage.
func QueueFor(activityType string) (string, error) {
	stage, err := StageOf(activityType)
	if err != nil {
		return "", err
	}
	return stageQueues[stage], nil
}

// Registry maps stage names to their entries.
type Registry struct {
	entries map[string]*Entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*Entry)}
}

func (r *Registry) Register(entry *Entry) error {
	if _, ok := stageQueues[entry.Name]; !ok {
		return fmt.Errorf("unknown stage %q", entry.Name)
	}
	if _, dup := r.entries[entry.Name]; dup {
		return fmt.Errorf("stage %q registered twice", entry.Name)
	}
	if entry.Queue == "" {
		entry.Queue = stageQueues[entry.Name]
	}
	r.entries[entry.Name] = entry
	return nil
}

// Lookup resolves the entry handling the given activity type.
func (r *Registry) Lookup(activityType string) (*Entry, error) {
	stage, err := StageOf(activityType)
	if err != nil {
		return nil, err
	}
	entry, ok := r.entries[stage]
	if !ok {
		return nil, fmt.Errorf("no handler registered for stage %q", stage)
	}
	return entry, nil
}

func (r *Registry) Entries() []*Entry {
	entries := make([]*Entry, 0, len(r.entries))
	for _, name := range []string{StageDownload, StageCorrection, StagePublish, StageUpload} {
		if e, ok := r.entries[name]; ok {
			entries = append(entries, e)
		}
	}
	return entries
}

// Run invokes the entry's handler under its retry policy. Only failures the
// policy marks retryable are re-attempted, with a fixed delay, up to
// MaxAttempts in total; everything else surfaces immediately. Safe to call
// again with the same descriptor after a failure: handlers are required to be
// idempotent in their store writes and filesystem effects.
func (entry *Entry) Run(ctx context.Context, scene *registry.WorkDescriptor) (*registry.WorkDescriptor, error) {
	attempts := entry.Retry.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		out, err := entry.Handler.Run(ctx, scene)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if entry.Retry.Retryable == nil || !entry.Retry.Retryable(err) || attempt == attempts {
			break
		}
		log.Printf("Stage %s failed for scene %s (attempt %d/%d), retrying in %s: %v",
			entry.Name, scene.SceneID, attempt, attempts, entry.Retry.Delay, err)
		if interrupted := registry.SleepInterruptibly(ctx, entry.Retry.Delay); interrupted {
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}
