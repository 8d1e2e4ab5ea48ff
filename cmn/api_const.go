package cmn

import "time"

// Header key conventions: the identity header follows the original
// system's "X-Lws-*" family name (see spec.md §4.4); management-plane
// paths keep the "_ldk"/"_mock" prefixes spec.md §4.4 and §6 name
// verbatim so the path-gate bypass rule is unambiguous in code, not just
// in docs.
const (
	HeaderIdentity  = "X-Lws-Identity"
	HeaderAmzTarget = "X-Amz-Target"

	ManagementPrefix = "/_ldk"
	MockPrefix       = "/_mock"
)

// Wire families, used to pick the error-envelope shape at the edge.
const (
	FamilyJSON = "json"
	FamilyXML  = "xml"
	FamilyS3   = "s3"
)

// IAM enforcement modes (C1, C14).
const (
	IAMDisabled = "disabled"
	IAMAudit    = "audit"
	IAMEnforce  = "enforce"
)

// Service family names, used as ServiceRegistry keys and ChaosConfig /
// MockRule registry keys.
const (
	ServiceDynamoDB     = "dynamodb"
	ServiceS3           = "s3"
	ServiceSNS          = "sns"
	ServiceEventBridge  = "events"
	ServiceSQS          = "sqs"
	ServiceScheduler    = "scheduler"
	ServiceStepFunc     = "states"
	ServiceIAM          = "iam"
	ServiceSTS          = "sts"
)

// Default timing, matching spec.md §4.15 / §5.
const (
	DefaultDebounce    = 300 * time.Millisecond
	DefaultGraceWindow = 5 * time.Second
	DefaultReadTimeout = 30 * time.Second
)

// AWS region constants synthesized into child-process environments
// (spec.md §6).
const (
	DefaultRegion = "us-east-1"
)
