package scene_task_registry

import "time"

// WorkDescriptor is the message passed between pipeline stages. It is JSON on
// the queues; handlers mutate Args and ActivityType in place and return the
// descriptor for re-dispatch.
type WorkDescriptor struct {
	CollectionID string       `json:"collection_id"`
	ActivityType string       `json:"activity_type"`
	SceneID      string       `json:"sceneid"`
	Args         ActivityArgs `json:"args"`
	Tags         []string     `json:"tags,omitempty"`
}

// ActivityArgs is the documented superset of stage parameters. Earlier stages
// inject fields that later stages depend on (download sets File, publish sets
// Assets). Each handler validates the fields it needs at entry.
type ActivityArgs struct {
	Link   string                `json:"link,omitempty" dynamodbav:"link,omitempty"`
	Cloud  float64               `json:"cloud,omitempty" dynamodbav:"cloud,omitempty"`
	File   string                `json:"file,omitempty" dynamodbav:"file,omitempty"`
	Assets map[string]AssetEntry `json:"assets,omitempty" dynamodbav:"assets,omitempty"`
}

// AssetEntry pairs a local file with its remote asset descriptor
// (bucket-prefixed object path), as returned by the publisher.
type AssetEntry struct {
	File  string `json:"file" dynamodbav:"file"`
	Asset string `json:"asset" dynamodbav:"asset"`
}

type Activity struct {
	SceneID      string       `dynamodbav:"sceneid"`  // PK
	TypeKey      string       `dynamodbav:"type_key"` // SK: collection_id + "#" + activity_type
	ID           string       `dynamodbav:"id"`       // SGI PK, UUIDv5 of the natural key
	CollectionID string       `dynamodbav:"collection_id"`
	ActivityType string       `dynamodbav:"activity_type"`
	Args         ActivityArgs `dynamodbav:"args"`
	Tags         []string     `dynamodbav:"tags,omitempty"`
	SceneType    string       `dynamodbav:"scene_type,omitempty"`
	Created      *time.Time   `dynamodbav:"created,omitempty"`
	Updated      *time.Time   `dynamodbav:"updated,omitempty"`
}

// ActivityHistory is one attempt against an activity. A new task invocation
// appends a new row; a redelivery of the same invocation upserts its own row.
type ActivityHistory struct {
	ActivityID string            `dynamodbav:"activity_id"` // PK
	TaskID     string            `dynamodbav:"task_id"`     // SK
	Start      *time.Time        `dynamodbav:"start,omitempty"`
	Env        map[string]string `dynamodbav:"env,omitempty"`
	Created    *time.Time        `dynamodbav:"created,omitempty"`
	Updated    *time.Time        `dynamodbav:"updated,omitempty"`
}

// TaskInvocation is the registry row for one task delivery (the broker-side
// identity that history rows reference).
type TaskInvocation struct {
	TaskID   string     `dynamodbav:"task_id"` // PK
	Queue    string     `dynamodbav:"queue,omitempty"`
	SceneID  string     `dynamodbav:"sceneid,omitempty"`
	Received *time.Time `dynamodbav:"received,omitempty"`
}

// CollectionItem is the per-scene derived-product record enriched by the
// stages: download records the compressed file and cloud cover, publish
// records the generated assets.
type CollectionItem struct {
	CollectionID   string                `dynamodbav:"collection_id"` // PK
	SceneID        string                `dynamodbav:"sceneid"`       // SK
	CompressedFile string                `dynamodbav:"compressed_file,omitempty"`
	CloudCover     float64               `dynamodbav:"cloud_cover,omitempty"`
	Assets         map[string]AssetEntry `dynamodbav:"assets,omitempty"`
	Created        *time.Time            `dynamodbav:"created,omitempty"`
	Updated        *time.Time            `dynamodbav:"updated,omitempty"`
}

// Execution is the handle returned by CreateExecution.
type Execution struct {
	Activity *Activity
	TaskID   string
}

const ActivitiesTable = "activities"
const ActivityHistoryTable = "activity_history"
const TaskInvocationsTable = "task_invocations"
const CollectionItemsTable = "collection_items"

// Dispatch queues, one per pipeline stage.
const (
	QueueDownload   = "download"
	QueueCorrection = "atm-correction"
	QueuePublish    = "publish"
	QueueUpload     = "upload"
)
