package aws

import (
	"context"
	"time"

	"cloudwatch-exporter/internal/config"
	"cloudwatch-exporter/internal/utils"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/resourcegroupstaggingapi"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// CloudWatchAPI 采集所需的 CloudWatch 接口子集，*cloudwatch.Client 满足该接口
type CloudWatchAPI interface {
	ListMetrics(ctx context.Context, params *cloudwatch.ListMetricsInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.ListMetricsOutput, error)
	GetMetricStatistics(ctx context.Context, params *cloudwatch.GetMetricStatisticsInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.GetMetricStatisticsOutput, error)
	GetMetricData(ctx context.Context, params *cloudwatch.GetMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.GetMetricDataOutput, error)
}

// TaggingAPI Resource Groups Tagging API 接口子集
type TaggingAPI interface {
	GetResources(ctx context.Context, params *resourcegroupstaggingapi.GetResourcesInput, optFns ...func(*resourcegroupstaggingapi.Options)) (*resourcegroupstaggingapi.GetResourcesOutput, error)
}

// ClientOptions 构建客户端所需的连接参数
type ClientOptions struct {
	Region          string
	RoleARN         string
	AccessKeyID     string
	SecretAccessKey string
	Timeout         time.Duration
	// MaxRetries SDK 层最大尝试次数，0 使用 SDK 默认值
	MaxRetries int
}

// OptionsFromConfig 从全局配置提取客户端参数
func OptionsFromConfig(cfg *config.Config) ClientOptions {
	return ClientOptions{
		Region:          cfg.Region,
		RoleARN:         cfg.RoleARN,
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.SecretAccessKey,
		Timeout:         cfg.GetClientTimeout(),
		MaxRetries:      cfg.MaxRetries,
	}
}

// RoleSessionName AssumeRole 会话名
const RoleSessionName = "cloudwatch_exporter"

type ClientFactory interface {
	NewCloudWatchClient(ctx context.Context, opts ClientOptions) (CloudWatchAPI, error)
	NewTaggingClient(ctx context.Context, opts ClientOptions) (TaggingAPI, error)
}

type defaultClientFactory struct{}

// NewClientFactory 返回基于 aws-sdk-go-v2 的客户端工厂
func NewClientFactory() ClientFactory {
	return &defaultClientFactory{}
}

func (f *defaultClientFactory) loadCfg(ctx context.Context, o ClientOptions) (aws.Config, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithHTTPClient(utils.NewHTTPClient(o.Timeout)),
	}
	if o.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(o.Region))
	}
	if o.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(o.AccessKeyID, o.SecretAccessKey, "")))
	}
	if o.MaxRetries > 0 {
		maxAttempts := o.MaxRetries
		loadOpts = append(loadOpts, awsconfig.WithRetryer(func() aws.Retryer {
			return retry.AddWithMaxAttempts(retry.NewStandard(), maxAttempts)
		}))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return aws.Config{}, utils.WrapError(err, "load aws config")
	}

	if o.RoleARN != "" {
		stsClient := sts.NewFromConfig(cfg)
		cfg.Credentials = aws.NewCredentialsCache(stscreds.NewAssumeRoleProvider(stsClient, o.RoleARN,
			func(ao *stscreds.AssumeRoleOptions) {
				ao.RoleSessionName = RoleSessionName
			}))
	}
	return cfg, nil
}

func (f *defaultClientFactory) NewCloudWatchClient(ctx context.Context, opts ClientOptions) (CloudWatchAPI, error) {
	cfg, err := f.loadCfg(ctx, opts)
	if err != nil {
		return nil, err
	}
	return cloudwatch.NewFromConfig(cfg), nil
}

func (f *defaultClientFactory) NewTaggingClient(ctx context.Context, opts ClientOptions) (TaggingAPI, error) {
	cfg, err := f.loadCfg(ctx, opts)
	if err != nil {
		return nil, err
	}
	return resourcegroupstaggingapi.NewFromConfig(cfg), nil
}
