package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/leandromet/data-cube-bdc-collection-builder/landsat"
	"github.com/leandromet/data-cube-bdc-collection-builder/pipeline"
	scene_task_registry "github.com/leandromet/data-cube-bdc-collection-builder/scene-task-registry"
)

func main() {
	dynamoDocApiEndpoint :=
		flag.String("dynamo-docapi-endpoint", "", "DynamoDB Document API endpoint URL for the scene task registry")
	stagesConfigPath :=
		flag.String("stages-config-file", "stages.yaml", "YAML file with stage/queue/retry configuration")
	dataDir :=
		flag.String("data-dir", "", "Root data directory for downloaded and corrected products")
	s3Bucket :=
		flag.String("s3-bucket", "", "S3 bucket name for published assets")
	espaURL :=
		flag.String("espa-url", "", "Base URL of the atmospheric correction service")
	metricsAddr :=
		flag.String("metrics-addr", ":2112", "Listen address for the Prometheus metrics endpoint")
	extractArchives :=
		flag.Bool("extract-archives", false, "Extract downloaded 7z scene archives next to the archive")

	flag.Parse()

	if *dynamoDocApiEndpoint == "" {
		log.Fatal("--dynamo-docapi-endpoint arg is mandatory, this must be DynamoDB Document API endpoint URL for the registry")
	}
	if *dataDir == "" {
		log.Fatal("--data-dir arg is mandatory, this must be the root data directory")
	}
	if *s3Bucket == "" {
		log.Fatal("--s3-bucket arg is mandatory, this must be the assets bucket name")
	}
	if *espaURL == "" {
		log.Fatal("--espa-url arg is mandatory, this must be the correction service base URL")
	}

	taskRegistry, err := scene_task_registry.New(*dynamoDocApiEndpoint)
	if err != nil {
		log.Fatalf("Could not connect to the Scene Task Registry: %s\n", err.Error())
	}
	log.Println("Connected to the Scene Task Registry", *dynamoDocApiEndpoint)

	tasks := &landsat.Tasks{
		Store: taskRegistry,
		Downloader: &landsat.SceneDownloader{
			HTTP:    &landsat.HTTPDownloader{Client: &http.Client{Timeout: 30 * time.Minute}, ExtractArchives: *extractArchives},
			Objects: taskRegistry,
		},
		Espa:       &landsat.EspaClient{BaseURL: *espaURL, HTTPClient: &http.Client{Timeout: 5 * time.Minute}},
		Publisher:  &landsat.ProductPublisher{Store: taskRegistry, Bucket: *s3Bucket, DataDir: *dataDir},
		Uploader:   taskRegistry,
		DataDir:    *dataDir,
		Bucket:     *s3Bucket,
	}

	stageRegistry, err := buildStageRegistry(*stagesConfigPath, tasks)
	if err != nil {
		log.Fatalf("Error building stage registry: %v", err)
	}

	go serveMetrics(*metricsAddr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	for _, entry := range stageRegistry.Entries() {
		wg.Add(1)
		go func(entry *pipeline.Entry) {
			defer wg.Done()
			consumeQueue(ctx, taskRegistry, entry)
		}(entry)
		log.Println("Consuming queue", entry.Queue, "for stage", entry.Name)
	}

	wg.Wait()
	log.Println("All queue consumers stopped")
}

func consumeQueue(
	ctx context.Context,
	taskRegistry *scene_task_registry.SceneTaskRegistry,
	entry *pipeline.Entry,
) {
	for ctx.Err() == nil {
		messages, err := taskRegistry.ReceiveStageMessages(ctx, entry.Queue, 1)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("Error receiving from queue %q (will retry in 5s): %v", entry.Queue, err)
			scene_task_registry.SleepInterruptibly(ctx, 5*time.Second)
			continue
		}
		for _, message := range messages {
			handleMessage(ctx, taskRegistry, entry, message)
		}
	}
}

// handleMessage runs one stage invocation. The SQS message id is the task
// invocation id, so a redelivery of the same message upserts the same history
// row instead of appending a new one. On failure the message is left in the
// queue; the broker's visibility timeout and redrive policy govern
// re-dispatch.
func handleMessage(
	ctx context.Context,
	taskRegistry *scene_task_registry.SceneTaskRegistry,
	entry *pipeline.Entry,
	message sqstypes.Message,
) {
	taskID := *message.MessageId

	var scene scene_task_registry.WorkDescriptor
	if err := json.Unmarshal([]byte(*message.Body), &scene); err != nil {
		log.Printf("Dropping malformed message %s from queue %q: %v", taskID, entry.Queue, err)
		if err := taskRegistry.DeleteStageMessage(ctx, entry.Queue, message.ReceiptHandle); err != nil {
			log.Printf("Error removing malformed message from the queue: %v", err)
		}
		return
	}

	if err := taskRegistry.RecordTaskInvocation(ctx, scene_task_registry.TaskInvocation{
		TaskID:  taskID,
		Queue:   entry.Queue,
		SceneID: scene.SceneID,
	}); err != nil {
		log.Printf("Error recording task invocation %s: %v", taskID, err)
		return
	}

	taskCtx := scene_task_registry.ContextWithTask(ctx, taskID, entry.Queue)

	start := time.Now()
	next, err := entry.Run(taskCtx, &scene)
	stageDurationSeconds.WithLabelValues(entry.Name).Observe(time.Since(start).Seconds())

	if err != nil {
		stageExecutionsTotal.WithLabelValues(entry.Name, "error").Inc()
		log.Printf("Stage %s failed for scene %s (task %s): %v", entry.Name, scene.SceneID, taskID, err)
		return
	}
	stageExecutionsTotal.WithLabelValues(entry.Name, "success").Inc()

	if next != nil {
		queue, err := pipeline.QueueFor(next.ActivityType)
		if err != nil {
			log.Printf("Stage %s produced an unroutable descriptor for scene %s: %v", entry.Name, scene.SceneID, err)
			return
		}
		if err := taskRegistry.DispatchToQueue(ctx, queue, next); err != nil {
			// Not acknowledged: the message comes back and the stage re-runs,
			// which is safe under the upsert semantics.
			log.Printf("Error dispatching scene %s to queue %q: %v", next.SceneID, queue, err)
			return
		}
	} else {
		log.Println("Scene", scene.SceneID, "finished the pipeline at stage", entry.Name)
	}

	if err := taskRegistry.DeleteStageMessage(ctx, entry.Queue, message.ReceiptHandle); err != nil {
		log.Printf("Error removing processed message from queue %q: %v", entry.Queue, err)
	}
}
