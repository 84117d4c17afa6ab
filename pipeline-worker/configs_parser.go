package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/leandromet/data-cube-bdc-collection-builder/landsat"
	"github.com/leandromet/data-cube-bdc-collection-builder/pipeline"
	registry "github.com/leandromet/data-cube-bdc-collection-builder/scene-task-registry"
)

type StageYAML struct {
	Stage       string   `yaml:"stage"`
	Queue       string   `yaml:"queue"`
	MaxAttempts int      `yaml:"max_attempts"`
	RetryDelay  string   `yaml:"retry_delay"`
	RetryOn     []string `yaml:"retry_on"`
}

// buildStageRegistry reads the stages YAML and binds each configured stage to
// its Landsat handler, queue and retry policy. Retry is a registration-time
// concern: handlers never retry themselves.
func buildStageRegistry(stagesYamlPath string, tasks *landsat.Tasks) (*pipeline.Registry, error) {
	data, err := os.ReadFile(stagesYamlPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var stagesYAML []StageYAML
	if err = yaml.Unmarshal(data, &stagesYAML); err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	handlers := map[string]pipeline.StageFunc{
		pipeline.StageDownload:   tasks.Download,
		pipeline.StageCorrection: tasks.Correction,
		pipeline.StagePublish:    tasks.Publish,
		pipeline.StageUpload:     tasks.Upload,
	}

	stageRegistry := pipeline.NewRegistry()
	for _, stageYAML := range stagesYAML {
		handler, ok := handlers[stageYAML.Stage]
		if !ok {
			return nil, fmt.Errorf("config references unknown stage %q", stageYAML.Stage)
		}

		retry, err := retryPolicyFromYAML(stageYAML)
		if err != nil {
			return nil, fmt.Errorf("stage %q: %w", stageYAML.Stage, err)
		}

		if err := stageRegistry.Register(&pipeline.Entry{
			Name:    stageYAML.Stage,
			Queue:   stageYAML.Queue,
			Handler: handler,
			Retry:   retry,
		}); err != nil {
			return nil, err
		}
	}

	if len(stageRegistry.Entries()) == 0 {
		return nil, fmt.Errorf("config %q declares no stages", stagesYamlPath)
	}

	return stageRegistry, nil
}

func retryPolicyFromYAML(stageYAML StageYAML) (pipeline.RetryPolicy, error) {
	policy := pipeline.RetryPolicy{MaxAttempts: stageYAML.MaxAttempts}

	if stageYAML.RetryDelay != "" {
		delay, err := time.ParseDuration(stageYAML.RetryDelay)
		if err != nil {
			return policy, fmt.Errorf("invalid retry_delay %q: %w", stageYAML.RetryDelay, err)
		}
		policy.Delay = delay
	}

	if len(stageYAML.RetryOn) > 0 {
		predicates := make([]func(error) bool, 0, len(stageYAML.RetryOn))
		for _, kind := range stageYAML.RetryOn {
			switch kind {
			case "persistence":
				predicates = append(predicates, registry.IsTransientPersistence)
			case "external":
				predicates = append(predicates, pipeline.IsExternalService)
			case "incomplete":
				predicates = append(predicates, pipeline.IsIncompleteResult)
			default:
				return policy, fmt.Errorf("unknown retry_on kind %q", kind)
			}
		}
		policy.Retryable = func(err error) bool {
			for _, matches := range predicates {
				if matches(err) {
					return true
				}
			}
			return false
		}
	}

	return policy, nil
}
