package scene_task_registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// DispatchToQueue serializes the work descriptor and enqueues it for the
// stage consuming the named queue. The scheduler side of the hand-off: a
// handler's returned descriptor goes to the queue of its new activity_type.
func (registry *SceneTaskRegistry) DispatchToQueue(ctx context.Context, queueName string, scene *WorkDescriptor) error {
	body, err := json.Marshal(scene)
	if err != nil {
		return fmt.Errorf("unable to marshal work descriptor for scene %s, %w", scene.SceneID, err)
	}
	if err := sendMessageToSQS(ctx, queueName, string(body), registry.sqsClient); err != nil {
		return fmt.Errorf("error sending message to SQS queue %q, %w", queueName, err)
	}
	log.Println("Dispatched scene", scene.SceneID, "to queue", queueName, "as", scene.ActivityType)
	return nil
}

func sendMessageToSQS(ctx context.Context, queueName, messageBody string, svc sqsAPI) error {
	queueUrl, err := getQueueUrl(ctx, queueName, svc)
	if err != nil {
		return fmt.Errorf("error getting SQS queue URL for name %q, %w", queueName, err)
	}
	_, err = svc.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(queueUrl),
		MessageBody: aws.String(messageBody),
	})
	return err
}

func getQueueUrl(ctx context.Context, queueName string, svc sqsAPI) (string, error) {
	result, err := svc.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{
		QueueName: aws.String(queueName),
	})
	if err != nil {
		return "", err
	}
	return *result.QueueUrl, nil
}

// ReceiveStageMessages long-polls the named queue for work. Returns at most
// max messages; an empty slice after the poll timeout is not an error.
func (registry *SceneTaskRegistry) ReceiveStageMessages(ctx context.Context, queueName string, max int32) ([]sqstypes.Message, error) {
	queueURL, err := getQueueUrl(ctx, queueName, registry.sqsClient)
	if err != nil {
		return nil, fmt.Errorf("error getting SQS queue URL for name %q, %w", queueName, err)
	}

	output, err := registry.sqsClient.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(queueURL),
		MaxNumberOfMessages: max,
		WaitTimeSeconds:     20, // Long polling timeout (maximum 20 seconds)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to receive messages from %q, %w", queueName, err)
	}
	return output.Messages, nil
}

// DeleteStageMessage acknowledges a processed message. An unacknowledged
// message reappears after the visibility timeout, which is how failed stage
// invocations get re-dispatched.
func (registry *SceneTaskRegistry) DeleteStageMessage(ctx context.Context, queueName string, receiptHandle *string) error {
	queueURL, err := getQueueUrl(ctx, queueName, registry.sqsClient)
	if err != nil {
		return fmt.Errorf("error getting SQS queue URL for name %q, %w", queueName, err)
	}
	_, err = registry.sqsClient.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(queueURL),
		ReceiptHandle: receiptHandle,
	})
	if err != nil {
		return fmt.Errorf("failed to remove message from queue %q, %w", queueName, err)
	}
	return nil
}

func SleepInterruptibly(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	select {
	case <-ctx.Done():
		t.Stop()
		return true
	case <-t.C:
	}
	return false
}
