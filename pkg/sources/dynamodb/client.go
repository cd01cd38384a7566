// Package dynamodb reads properties from a DynamoDB table holding one
// item per key, with string attributes "key" and "value".
package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/abtreece/propsort/pkg/log"
	"github.com/abtreece/propsort/pkg/sources/internal/awsconfig"
)

type dynamoDBAPI interface {
	GetItem(ctx context.Context, input *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Scan(ctx context.Context, input *dynamodb.ScanInput, opts ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	DescribeTable(ctx context.Context, input *dynamodb.DescribeTableInput, opts ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// Client reads key/value items from one table.
type Client struct {
	api   dynamoDBAPI
	table string
}

// New loads the default AWS configuration and checks that table exists.
// DYNAMODB_LOCAL with DYNAMODB_ENDPOINT_URL points the client at a local
// endpoint.
func New(table string, dialTimeout time.Duration) (*Client, error) {
	if table == "" {
		return nil, errors.New("the dynamodb source requires a table")
	}
	ctx := context.Background()
	cfg, err := awsconfig.Load(ctx, dialTimeout)
	if err != nil {
		return nil, err
	}

	var ddbOpts []func(*dynamodb.Options)
	if endpoint := awsconfig.LocalEndpoint("dynamodb"); endpoint != "" {
		ddbOpts = append(ddbOpts, func(o *dynamodb.Options) {
			o.BaseEndpoint = aws.String(endpoint)
		})
	}
	c := &Client{api: dynamodb.NewFromConfig(cfg, ddbOpts...), table: table}
	if _, err := c.api.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(table)}); err != nil {
		return nil, fmt.Errorf("failed to describe table %s: %w", table, err)
	}
	return c, nil
}

func stringAttr(item map[string]types.AttributeValue, name string) (string, bool) {
	s, ok := item[name].(*types.AttributeValueMemberS)
	if !ok {
		return "", false
	}
	return s.Value, true
}

// GetValues reads the item named by each key, or when there is none,
// scans for the items below it. Items whose value is not a string are
// skipped.
func (c *Client) GetValues(ctx context.Context, keys []string) (map[string]string, error) {
	vars := make(map[string]string)
	for _, key := range keys {
		out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
			TableName: aws.String(c.table),
			Key:       map[string]types.AttributeValue{"key": &types.AttributeValueMemberS{Value: key}},
		})
		if err != nil {
			return vars, fmt.Errorf("failed to get item %s: %w", key, err)
		}
		if out.Item != nil {
			if v, ok := stringAttr(out.Item, "value"); ok {
				vars[key] = v
			} else {
				log.Warning("Skipping key %s: value is not a string", key)
			}
			continue
		}
		if err := c.scan(ctx, key, vars); err != nil {
			return vars, err
		}
	}
	return vars, nil
}

func (c *Client) scan(ctx context.Context, prefix string, vars map[string]string) error {
	dir := strings.TrimSuffix(prefix, "/") + "/"
	paginator := dynamodb.NewScanPaginator(c.api, &dynamodb.ScanInput{
		TableName:            aws.String(c.table),
		FilterExpression:     aws.String("begins_with(#k, :prefix)"),
		ProjectionExpression: aws.String("#k, #v"),
		ExpressionAttributeNames: map[string]string{
			"#k": "key",
			"#v": "value",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":prefix": &types.AttributeValueMemberS{Value: dir},
		},
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("failed to scan items under %s: %w", prefix, err)
		}
		for _, item := range page.Items {
			k, ok := stringAttr(item, "key")
			if !ok {
				continue
			}
			v, ok := stringAttr(item, "value")
			if !ok {
				log.Warning("Skipping key %s: value is not a string", k)
				continue
			}
			vars[k] = v
		}
	}
	return nil
}

// WatchPrefix is unsupported by DynamoDB. It blocks until stopChan fires
// or ctx is done.
func (c *Client) WatchPrefix(ctx context.Context, prefix string, keys []string, waitIndex uint64, stopChan chan bool) (uint64, error) {
	select {
	case <-stopChan:
		return waitIndex, nil
	case <-ctx.Done():
		return waitIndex, ctx.Err()
	}
}

// HealthCheck describes the table.
func (c *Client) HealthCheck(ctx context.Context) error {
	start := time.Now()
	logger := log.With("source", "dynamodb", "table", c.table)
	_, err := c.api.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(c.table)})
	if err != nil {
		logger.ErrorContext(ctx, "Source health check failed",
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err.Error())
		return err
	}
	logger.DebugContext(ctx, "Source health check passed",
		"duration_ms", time.Since(start).Milliseconds())
	return nil
}
