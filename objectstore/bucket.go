// Package objectstore implements the Object Store (C9): a single-node
// filesystem-backed, S3-shaped blob store with multipart upload
// assembly, website mode, bucket policy, and event notifications
// (spec.md §4.9). It follows aistore's LOM-backed object model in
// spirit — metadata lives alongside the body on disk — generalized from
// a clustered, checksum-verified object layer down to a single-node one.
package objectstore

import "time"

// Bucket is the S3-shaped bucket resource: name, created timestamp,
// optional website config, optional policy document, and a notification
// configuration routing PutObject/DeleteObject events to fan-out
// topics, queues, or compute targets.
type Bucket struct {
	Name         string
	CreatedAt    time.Time
	Website      *WebsiteConfig
	Policy       string
	Notification NotificationConfig
}

// WebsiteConfig configures static-website-style serving: a trailing
// slash or extensionless request resolves against IndexDocument; a miss
// falls back to ErrorDocument when one is configured and present.
type WebsiteConfig struct {
	IndexDocument string
	ErrorDocument string
}

// NotificationConfig lists targets notified after a successful
// PutObject (and DeleteObject, when a target's EventTypes names it).
type NotificationConfig struct {
	Targets []NotificationTarget
}

// NotificationTarget routes one or more S3 event types to an
// ARN-shaped destination: an SNS topic, an SQS queue, or a compute
// function name.
type NotificationTarget struct {
	ARN        string
	EventTypes []string // e.g. "s3:ObjectCreated:*", "s3:ObjectRemoved:*"
}

func (c NotificationConfig) matches(eventType string) []NotificationTarget {
	var out []NotificationTarget
	for _, t := range c.Targets {
		for _, et := range t.EventTypes {
			if et == eventType || wildcardMatch(et, eventType) {
				out = append(out, t)
				break
			}
		}
	}
	return out
}

func wildcardMatch(pattern, s string) bool {
	if len(pattern) == 0 || pattern[len(pattern)-1] != '*' {
		return false
	}
	prefix := pattern[:len(pattern)-1]
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
