package scene_task_registry

import (
	"context"
	"fmt"
	"log"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

func checkTableExists(d dynamoAPI, name string) bool {
	tables, err := d.ListTables(context.TODO(), &dynamodb.ListTablesInput{})
	if err != nil {
		log.Fatal("ListTables failed", err)
	}
	for _, n := range tables.TableNames {
		if n == name {
			return true
		}
	}
	return false
}

func createActivitiesTable(svc dynamoAPI) error {
	if checkTableExists(svc, ActivitiesTable) {
		log.Println(ActivitiesTable, "table already exists")
		return nil
	}

	input := &dynamodb.CreateTableInput{
		TableName: aws.String(ActivitiesTable),
		KeySchema: []types.KeySchemaElement{
			{
				AttributeName: aws.String("sceneid"),
				KeyType:       types.KeyTypeHash, // Partition key
			},
			{
				AttributeName: aws.String("type_key"),
				KeyType:       types.KeyTypeRange, // Sort key: collection_id#activity_type
			},
		},
		GlobalSecondaryIndexes: []types.GlobalSecondaryIndex{
			{
				IndexName: aws.String("ActivityIDIndex"),
				KeySchema: []types.KeySchemaElement{
					{
						AttributeName: aws.String("id"),
						KeyType:       types.KeyTypeHash,
					},
				},
				Projection: &types.Projection{
					ProjectionType: types.ProjectionTypeAll,
				},
			},
		},
		AttributeDefinitions: []types.AttributeDefinition{
			{
				AttributeName: aws.String("sceneid"),
				AttributeType: types.ScalarAttributeTypeS,
			},
			{
				AttributeName: aws.String("type_key"),
				AttributeType: types.ScalarAttributeTypeS,
			},
			{
				AttributeName: aws.String("id"),
				AttributeType: types.ScalarAttributeTypeS, // UUID as string
			},
		},
		BillingMode: types.BillingModePayPerRequest,
	}

	_, err := svc.CreateTable(context.TODO(), input)
	if err == nil {
		log.Println(ActivitiesTable, "table created")
	}
	return err
}

func createActivityHistoryTable(svc dynamoAPI) error {
	if checkTableExists(svc, ActivityHistoryTable) {
		log.Println(ActivityHistoryTable, "table already exists")
		return nil
	}

	// Composite primary key (activity_id, task_id): one row per distinct task
	// invocation of an activity. Referential integrity to activities and
	// task_invocations is by convention — CreateExecution writes the pair
	// transactionally and the worker records the invocation first.
	input := &dynamodb.CreateTableInput{
		TableName: aws.String(ActivityHistoryTable),
		KeySchema: []types.KeySchemaElement{
			{
				AttributeName: aws.String("activity_id"),
				KeyType:       types.KeyTypeHash, // Partition key
			},
			{
				AttributeName: aws.String("task_id"),
				KeyType:       types.KeyTypeRange, // Sort key
			},
		},
		AttributeDefinitions: []types.AttributeDefinition{
			{
				AttributeName: aws.String("activity_id"),
				AttributeType: types.ScalarAttributeTypeS, // UUID as string
			},
			{
				AttributeName: aws.String("task_id"),
				AttributeType: types.ScalarAttributeTypeS,
			},
		},
		BillingMode: types.BillingModePayPerRequest,
	}

	_, err := svc.CreateTable(context.TODO(), input)
	if err == nil {
		log.Println(ActivityHistoryTable, "table created")
	}
	return err
}

func createTaskInvocationsTable(svc dynamoAPI) error {
	if checkTableExists(svc, TaskInvocationsTable) {
		log.Println(TaskInvocationsTable, "table already exists")
		return nil
	}

	input := &dynamodb.CreateTableInput{
		TableName: aws.String(TaskInvocationsTable),
		KeySchema: []types.KeySchemaElement{
			{
				AttributeName: aws.String("task_id"),
				KeyType:       types.KeyTypeHash,
			},
		},
		AttributeDefinitions: []types.AttributeDefinition{
			{
				AttributeName: aws.String("task_id"),
				AttributeType: types.ScalarAttributeTypeS,
			},
		},
		BillingMode: types.BillingModePayPerRequest,
	}

	_, err := svc.CreateTable(context.TODO(), input)
	if err == nil {
		log.Println(TaskInvocationsTable, "table created")
	}
	return err
}

func createCollectionItemsTable(svc dynamoAPI) error {
	if checkTableExists(svc, CollectionItemsTable) {
		log.Println(CollectionItemsTable, "table already exists")
		return nil
	}

	input := &dynamodb.CreateTableInput{
		TableName: aws.String(CollectionItemsTable),
		KeySchema: []types.KeySchemaElement{
			{
				AttributeName: aws.String("collection_id"),
				KeyType:       types.KeyTypeHash,
			},
			{
				AttributeName: aws.String("sceneid"),
				KeyType:       types.KeyTypeRange,
			},
		},
		AttributeDefinitions: []types.AttributeDefinition{
			{
				AttributeName: aws.String("collection_id"),
				AttributeType: types.ScalarAttributeTypeS,
			},
			{
				AttributeName: aws.String("sceneid"),
				AttributeType: types.ScalarAttributeTypeS,
			},
		},
		BillingMode: types.BillingModePayPerRequest,
	}

	_, err := svc.CreateTable(context.TODO(), input)
	if err == nil {
		log.Println(CollectionItemsTable, "table created")
	}
	return err
}

func migrate(svc dynamoAPI) error {
	if err := createActivitiesTable(svc); err != nil {
		return fmt.Errorf("failed to create %q table: %w", ActivitiesTable, err)
	}
	if err := createActivityHistoryTable(svc); err != nil {
		return fmt.Errorf("failed to create %q table: %w", ActivityHistoryTable, err)
	}
	if err := createTaskInvocationsTable(svc); err != nil {
		return fmt.Errorf("failed to create %q table: %w", TaskInvocationsTable, err)
	}
	if err := createCollectionItemsTable(svc); err != nil {
		return fmt.Errorf("failed to create %q table: %w", CollectionItemsTable, err)
	}
	return nil
}
