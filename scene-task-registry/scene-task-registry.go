package scene_task_registry

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// Narrow views of the AWS clients, so data operations can be exercised with
// fakes in tests. *dynamodb.Client etc. satisfy these.
type dynamoAPI interface {
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	ListTables(ctx context.Context, params *dynamodb.ListTablesInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ListTablesOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
}

type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	GetQueueUrl(ctx context.Context, params *sqs.GetQueueUrlInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

type SceneTaskRegistry struct {
	dynamodbClient dynamoAPI
	s3Client       s3API
	sqsClient      sqsAPI
}

func New(dynamoDocApiEndpoint string) (*SceneTaskRegistry, error) {
	configForDynamoDB, err := getAwsConfigForDynamoDB(dynamoDocApiEndpoint)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config for DynamoDB, %w", err)
	}

	configForS3, err := getAwsConfigForS3()
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config for S3, %w", err)
	}

	configForSQS, err := getAwsConfigForSQS()
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config for SQS, %w", err)
	}

	svc := dynamodb.NewFromConfig(configForDynamoDB)
	if err = migrate(svc); err != nil {
		return nil, err
	}

	return &SceneTaskRegistry{
		dynamodbClient: svc,
		s3Client:       s3.NewFromConfig(configForS3),
		sqsClient:      sqs.NewFromConfig(configForSQS),
	}, nil
}

func getAwsConfigForDynamoDB(dynamoDocApiEndpoint string) (aws.Config, error) {
	customResolver := aws.EndpointResolverWithOptionsFunc(
		func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{URL: dynamoDocApiEndpoint}, nil
		},
	)

	cfg, err := config.LoadDefaultConfig(
		context.Background(),
		config.WithEndpointResolverWithOptions(customResolver),
	)
	return cfg, err
}

func getAwsConfigForS3() (aws.Config, error) {
	return config.LoadDefaultConfig(context.Background())
}

func getAwsConfigForSQS() (aws.Config, error) {
	return config.LoadDefaultConfig(context.Background())
}
