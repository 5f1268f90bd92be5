// Package dynamodb provides a DynamoDB-backed route table.
//
// The table uses tenantId as partition key and serviceId as sort key; the
// destination is stored in the endpoint attribute.
package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/tjfontaine/edge-origin-router/internal/core/domain"
	"github.com/tjfontaine/edge-origin-router/internal/core/ports"
)

const (
	tablePartitionKey = "tenantId"
	tableSortKey      = "serviceId"
	endpointAttr      = "endpoint"
	updatedAtAttr     = "updatedAt"
)

// Client is the subset of the DynamoDB API the store uses.
type Client interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// Store implements ports.RouteStore for DynamoDB.
type Store struct {
	client Client
	table  string
	logger *slog.Logger
}

var _ ports.RouteStore = (*Store)(nil)

// New creates a store using the default AWS credential chain. A non-empty
// endpoint overrides the service URL, e.g. for DynamoDB Local.
func New(ctx context.Context, table, endpoint, region string, logger *slog.Logger) (*Store, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	var optFns []func(*dynamodb.Options)
	if endpoint != "" {
		optFns = append(optFns, func(o *dynamodb.Options) {
			o.EndpointResolver = dynamodb.EndpointResolverFromURL(endpoint)
		})
	}

	store := NewWithClient(dynamodb.NewFromConfig(cfg, optFns...), table, logger)
	store.logger.Info("using dynamodb route table", slog.String("table", table))
	return store, nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client Client, table string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{client: client, table: table, logger: logger}
}

func attrValueOfString(s string) types.AttributeValue {
	return &types.AttributeValueMemberS{Value: s}
}

func stringAttr(item map[string]types.AttributeValue, name string) string {
	if v, ok := item[name].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func (s *Store) itemKey(key domain.SubdomainKey) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		tablePartitionKey: attrValueOfString(key.TenantID),
		tableSortKey:      attrValueOfString(key.ServiceID),
	}
}

func (s *Store) Lookup(ctx context.Context, key domain.SubdomainKey) (string, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:            aws.String(s.table),
		Key:                  s.itemKey(key),
		ProjectionExpression: aws.String("#0"),
		ExpressionAttributeNames: map[string]string{
			"#0": endpointAttr,
		},
	})
	if err != nil {
		return "", fmt.Errorf("dynamodb lookup %s: %w", key, err)
	}
	dest := stringAttr(result.Item, endpointAttr)
	if dest == "" {
		return "", domain.ErrRouteNotFound
	}
	return dest, nil
}

func (s *Store) ListRoutes(ctx context.Context) ([]*domain.Route, error) {
	var routes []*domain.Route

	paginator := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{
		TableName: aws.String(s.table),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("dynamodb scan: %w", err)
		}
		for _, item := range page.Items {
			route := &domain.Route{
				ServiceID:   stringAttr(item, tableSortKey),
				TenantID:    stringAttr(item, tablePartitionKey),
				Destination: stringAttr(item, endpointAttr),
			}
			if ts := stringAttr(item, updatedAtAttr); ts != "" {
				if t, err := time.Parse(time.RFC3339, ts); err == nil {
					route.UpdatedAt = t
				}
			}
			routes = append(routes, route)
		}
	}

	sort.Slice(routes, func(i, j int) bool {
		if routes[i].ServiceID != routes[j].ServiceID {
			return routes[i].ServiceID < routes[j].ServiceID
		}
		return routes[i].TenantID < routes[j].TenantID
	})
	return routes, nil
}

func (s *Store) PutRoute(ctx context.Context, route *domain.Route) error {
	route.UpdatedAt = time.Now().UTC()
	item := s.itemKey(route.Key())
	item[endpointAttr] = attrValueOfString(route.Destination)
	item[updatedAtAttr] = attrValueOfString(route.UpdatedAt.Format(time.RFC3339))

	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("dynamodb put route %s: %w", route.Key(), err)
	}
	return nil
}

func (s *Store) DeleteRoute(ctx context.Context, key domain.SubdomainKey) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(s.table),
		Key:                 s.itemKey(key),
		ConditionExpression: aws.String("attribute_exists(#0)"),
		ExpressionAttributeNames: map[string]string{
			"#0": tablePartitionKey,
		},
	})
	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return domain.ErrRouteNotFound
	}
	if err != nil {
		return fmt.Errorf("dynamodb delete route %s: %w", key, err)
	}
	return nil
}

func (s *Store) Close() error {
	return nil
}
