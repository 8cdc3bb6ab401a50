package common

// 需要特殊处理的 CloudWatch 命名空间
const (
	NamespaceDynamoDB = "AWS/DynamoDB"
	NamespaceELB      = "AWS/ELB"
	NamespaceEC2      = "AWS/EC2"
)

// DimensionGlobalSecondaryIndexName DynamoDB GSI 维度
const DimensionGlobalSecondaryIndexName = "GlobalSecondaryIndexName"

// DynamoDBIndexMetrics 带 GSI 维度时与表级指标同名的 DynamoDB 指标，需要加 _index 后缀区分
var DynamoDBIndexMetrics = map[string]bool{
	"ConsumedReadCapacityUnits":     true,
	"ConsumedWriteCapacityUnits":    true,
	"ProvisionedReadCapacityUnits":  true,
	"ProvisionedWriteCapacityUnits": true,
	"ReadThrottleEvents":            true,
	"WriteThrottleEvents":           true,
}
