package scene_task_registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
)

// PersistenceError wraps a failure of the durable store. Transient marks the
// kinds that are worth re-attempting (throttling, transaction conflicts);
// everything else is surfaced as-is to the scheduler.
type PersistenceError struct {
	Op        string
	Transient bool
	Err       error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsTransientPersistence reports whether err is a persistence failure eligible
// for automatic retry.
func IsTransientPersistence(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe) && pe.Transient
}

func persistenceErr(op string, err error) error {
	return &PersistenceError{Op: op, Transient: isTransientDynamoErr(err), Err: err}
}

func isTransientDynamoErr(err error) bool {
	var throughput *types.ProvisionedThroughputExceededException
	var cancelled *types.TransactionCanceledException
	var conflict *types.TransactionConflictException
	var internal *types.InternalServerError
	var limit *types.RequestLimitExceeded
	return errors.As(err, &throughput) || errors.As(err, &cancelled) ||
		errors.As(err, &conflict) || errors.As(err, &internal) || errors.As(err, &limit)
}

// activityNamespace seeds the UUIDv5 activity ids so the id of an activity is
// a pure function of its natural key and survives re-runs.
var activityNamespace = uuid.MustParse("b5c2e6a0-7d1f-5a7e-9c64-3f0a8d2b91d4")

// ActivityID derives the durable identity of an activity from its natural key
// (collection_id, sceneid, activity_type).
func ActivityID(collectionID, sceneID, activityType string) string {
	key := collectionID + "#" + sceneID + "#" + activityType
	return uuid.NewSHA1(activityNamespace, []byte(key)).String()
}

type taskCtxKey struct{}

type taskCtx struct {
	TaskID string
	Queue  string
}

// ContextWithTask attaches the task-invocation identity under which stage
// handlers run. The worker sets it from the broker message id before invoking
// a handler.
func ContextWithTask(ctx context.Context, taskID, queue string) context.Context {
	return context.WithValue(ctx, taskCtxKey{}, taskCtx{TaskID: taskID, Queue: queue})
}

func taskFromContext(ctx context.Context) (taskCtx, bool) {
	t, ok := ctx.Value(taskCtxKey{}).(taskCtx)
	return t, ok
}

// CreateExecution upserts the Activity Record keyed by (collection_id,
// sceneid, activity_type) and inserts the Execution History row keyed by
// (activity_id, task_id), as a single transaction: either both persist or
// neither does. Re-running with the same descriptor and task id converges to
// the same rows (last-writer-wins on args/tags/updated).
func (registry *SceneTaskRegistry) CreateExecution(ctx context.Context, scene *WorkDescriptor) (*Execution, error) {
	if scene.CollectionID == "" || scene.ActivityType == "" || scene.SceneID == "" {
		return nil, fmt.Errorf("work descriptor must carry collection_id, activity_type and sceneid, got %+v", scene)
	}

	task, ok := taskFromContext(ctx)
	if !ok {
		// Direct invocations (backfills, tests of the wiring) get their own
		// invocation row so the history FK always resolves.
		taskUUID, err := uuid.NewV7()
		if err != nil {
			return nil, fmt.Errorf("unable to mint task invocation id, %w", err)
		}
		task = taskCtx{TaskID: taskUUID.String()}
		if err := registry.RecordTaskInvocation(ctx, TaskInvocation{
			TaskID:  task.TaskID,
			SceneID: scene.SceneID,
		}); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	activityID := ActivityID(scene.CollectionID, scene.SceneID, scene.ActivityType)

	argsAV, err := attributevalue.Marshal(scene.Args)
	if err != nil {
		return nil, fmt.Errorf("unable to marshal activity args, %w", err)
	}
	tagsAV, err := attributevalue.Marshal(scene.Tags)
	if err != nil {
		return nil, fmt.Errorf("unable to marshal activity tags, %w", err)
	}
	envAV, err := attributevalue.Marshal(executionEnv(task.Queue))
	if err != nil {
		return nil, fmt.Errorf("unable to marshal execution env, %w", err)
	}

	nowAV := &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)}
	sceneType := SceneTypeOf(scene.SceneID)

	input := &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Update: &types.Update{
					TableName: aws.String(ActivitiesTable),
					Key: map[string]types.AttributeValue{
						"sceneid":  &types.AttributeValueMemberS{Value: scene.SceneID},
						"type_key": &types.AttributeValueMemberS{Value: scene.CollectionID + "#" + scene.ActivityType},
					},
					UpdateExpression: aws.String("SET #id = if_not_exists(#id, :id), " +
						"collection_id = :collection_id, activity_type = :activity_type, " +
						"args = :args, tags = :tags, scene_type = :scene_type, " +
						"created = if_not_exists(created, :now), updated = :now"),
					ExpressionAttributeNames: map[string]string{
						"#id": "id",
					},
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":id":            &types.AttributeValueMemberS{Value: activityID},
						":collection_id": &types.AttributeValueMemberS{Value: scene.CollectionID},
						":activity_type": &types.AttributeValueMemberS{Value: scene.ActivityType},
						":args":          argsAV,
						":tags":          tagsAV,
						":scene_type":    &types.AttributeValueMemberS{Value: sceneType},
						":now":           nowAV,
					},
				},
			},
			{
				Update: &types.Update{
					TableName: aws.String(ActivityHistoryTable),
					Key: map[string]types.AttributeValue{
						"activity_id": &types.AttributeValueMemberS{Value: activityID},
						"task_id":     &types.AttributeValueMemberS{Value: task.TaskID},
					},
					UpdateExpression: aws.String("SET #start = if_not_exists(#start, :now), env = :env, " +
						"created = if_not_exists(created, :now), updated = :now"),
					ExpressionAttributeNames: map[string]string{
						"#start": "start",
					},
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":env": envAV,
						":now": nowAV,
					},
				},
			},
		},
	}

	if _, err := registry.dynamodbClient.TransactWriteItems(ctx, input); err != nil {
		return nil, persistenceErr(fmt.Sprintf("create execution for activity %s", activityID), err)
	}

	activity := &Activity{
		SceneID:      scene.SceneID,
		TypeKey:      scene.CollectionID + "#" + scene.ActivityType,
		ID:           activityID,
		CollectionID: scene.CollectionID,
		ActivityType: scene.ActivityType,
		Args:         scene.Args,
		Tags:         scene.Tags,
		SceneType:    sceneType,
		Updated:      &now,
	}
	return &Execution{Activity: activity, TaskID: task.TaskID}, nil
}

// SceneTypeOf returns the sensor fragment of a scene id (e.g. "LC08"), the
// only scene-typing information the descriptor carries.
func SceneTypeOf(sceneID string) string {
	for i := 0; i < len(sceneID); i++ {
		if sceneID[i] == '_' {
			return sceneID[:i]
		}
	}
	return sceneID
}

func executionEnv(queue string) map[string]string {
	hostname, _ := os.Hostname()
	env := map[string]string{
		"hostname":   hostname,
		"pid":        strconv.Itoa(os.Getpid()),
		"go_version": runtime.Version(),
	}
	if queue != "" {
		env["queue"] = queue
	}
	return env
}

func (registry *SceneTaskRegistry) GetActivity(ctx context.Context, collectionID, sceneID, activityType string) (*Activity, error) {
	result, err := registry.dynamodbClient.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(ActivitiesTable),
		Key: map[string]types.AttributeValue{
			"sceneid":  &types.AttributeValueMemberS{Value: sceneID},
			"type_key": &types.AttributeValueMemberS{Value: collectionID + "#" + activityType},
		},
	})
	if err != nil {
		return nil, persistenceErr(fmt.Sprintf("get activity for scene %s", sceneID), err)
	}
	if len(result.Item) == 0 {
		return nil, fmt.Errorf("activity (%s, %s, %s) not found", collectionID, sceneID, activityType)
	}

	var activity Activity
	if err := attributevalue.UnmarshalMap(result.Item, &activity); err != nil {
		return nil, fmt.Errorf("unable to unmarshal activity, %w", err)
	}
	return &activity, nil
}

func (registry *SceneTaskRegistry) RecordTaskInvocation(ctx context.Context, invocation TaskInvocation) error {
	now := time.Now().UTC()
	values := map[string]types.AttributeValue{
		":received": &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
		":sceneid":  &types.AttributeValueMemberS{Value: invocation.SceneID},
		":queue":    &types.AttributeValueMemberS{Value: invocation.Queue},
	}

	_, err := registry.dynamodbClient.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(TaskInvocationsTable),
		Key: map[string]types.AttributeValue{
			"task_id": &types.AttributeValueMemberS{Value: invocation.TaskID},
		},
		UpdateExpression: aws.String("SET received = if_not_exists(received, :received), " +
			"sceneid = :sceneid, queue = :queue"),
		ExpressionAttributeValues: values,
	})
	if err != nil {
		return persistenceErr(fmt.Sprintf("record task invocation %s", invocation.TaskID), err)
	}
	return nil
}

// CollectionItem loads the derived-product record for the activity's scene, or
// returns a fresh one when the scene has not produced anything yet.
func (registry *SceneTaskRegistry) CollectionItem(ctx context.Context, activity *Activity) (*CollectionItem, error) {
	result, err := registry.dynamodbClient.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(CollectionItemsTable),
		Key: map[string]types.AttributeValue{
			"collection_id": &types.AttributeValueMemberS{Value: activity.CollectionID},
			"sceneid":       &types.AttributeValueMemberS{Value: activity.SceneID},
		},
	})
	if err != nil {
		return nil, persistenceErr(fmt.Sprintf("get collection item for scene %s", activity.SceneID), err)
	}

	if len(result.Item) == 0 {
		return &CollectionItem{CollectionID: activity.CollectionID, SceneID: activity.SceneID}, nil
	}

	var item CollectionItem
	if err := attributevalue.UnmarshalMap(result.Item, &item); err != nil {
		return nil, fmt.Errorf("unable to unmarshal collection item, %w", err)
	}
	return &item, nil
}

func (registry *SceneTaskRegistry) SaveCollectionItem(ctx context.Context, item *CollectionItem) error {
	now := time.Now().UTC()
	assetsAV, err := attributevalue.Marshal(item.Assets)
	if err != nil {
		return fmt.Errorf("unable to marshal collection item assets, %w", err)
	}

	_, err = registry.dynamodbClient.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(CollectionItemsTable),
		Key: map[string]types.AttributeValue{
			"collection_id": &types.AttributeValueMemberS{Value: item.CollectionID},
			"sceneid":       &types.AttributeValueMemberS{Value: item.SceneID},
		},
		UpdateExpression: aws.String("SET compressed_file = :compressed_file, cloud_cover = :cloud_cover, " +
			"assets = :assets, created = if_not_exists(created, :now), updated = :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":compressed_file": &types.AttributeValueMemberS{Value: item.CompressedFile},
			":cloud_cover":     &types.AttributeValueMemberN{Value: strconv.FormatFloat(item.CloudCover, 'f', -1, 64)},
			":assets":          assetsAV,
			":now":             &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
		},
	})
	if err != nil {
		return persistenceErr(fmt.Sprintf("save collection item for scene %s", item.SceneID), err)
	}
	return nil
}

// ListActivities scans the activities table with optional collection and
// activity-type filters. Used by the exporter.
func (registry *SceneTaskRegistry) ListActivities(ctx context.Context, collectionID, activityType string) ([]Activity, error) {
	input := &dynamodb.ScanInput{TableName: aws.String(ActivitiesTable)}

	filter := ""
	values := map[string]types.AttributeValue{}
	if collectionID != "" {
		filter = "collection_id = :collection_id"
		values[":collection_id"] = &types.AttributeValueMemberS{Value: collectionID}
	}
	if activityType != "" {
		if filter != "" {
			filter += " and "
		}
		filter += "activity_type = :activity_type"
		values[":activity_type"] = &types.AttributeValueMemberS{Value: activityType}
	}
	if filter != "" {
		input.FilterExpression = aws.String(filter)
		input.ExpressionAttributeValues = values
	}

	var activities []Activity
	for {
		result, err := registry.dynamodbClient.Scan(ctx, input)
		if err != nil {
			return nil, persistenceErr("list activities", err)
		}
		var page []Activity
		if err := attributevalue.UnmarshalListOfMaps(result.Items, &page); err != nil {
			return nil, fmt.Errorf("unable to unmarshal activities, %w", err)
		}
		activities = append(activities, page...)
		if result.LastEvaluatedKey == nil {
			break
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}
	return activities, nil
}
