package iam

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// PermissionsMap maps "service.operation" to the set of action strings
// that operation requires. An operation absent from the map is allowed
// through without evaluation (spec.md §4.1: "unknown operation => allow-
// through, not an error, to keep forward-compat").
type PermissionsMap struct {
	required map[string][]string
}

type permissionsFile struct {
	Permissions map[string]map[string][]string `yaml:"permissions"` // service -> operation -> actions
}

// NewPermissionsMap merges a bundled default permissions document with
// an optional override file; override entries replace the default entry
// for the same service+operation key.
func NewPermissionsMap(overridePath string) (*PermissionsMap, error) {
	pm := &PermissionsMap{required: defaultPermissions()}
	if overridePath == "" {
		return pm, nil
	}
	if _, err := os.Stat(overridePath); err != nil {
		if os.IsNotExist(err) {
			return pm, nil
		}
		return nil, err
	}
	b, err := os.ReadFile(overridePath)
	if err != nil {
		return nil, errors.Wrapf(err, "reading permissions override %s", overridePath)
	}
	var f permissionsFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, errors.Wrapf(err, "parsing permissions override %s", overridePath)
	}
	for service, ops := range f.Permissions {
		for op, actions := range ops {
			pm.required[key(service, op)] = actions
		}
	}
	return pm, nil
}

func key(service, operation string) string {
	return strings.ToLower(service) + "." + operation
}

// Required returns the action set for a service+operation, and whether
// the operation is known at all.
func (pm *PermissionsMap) Required(service, operation string) ([]string, bool) {
	actions, ok := pm.required[key(service, operation)]
	return actions, ok
}

// defaultPermissions is the bundled baseline: one representative action
// per family, enough to exercise enforce/audit/disabled without
// enumerating every emulated operation (out of scope per spec.md §1).
func defaultPermissions() map[string][]string {
	return map[string][]string{
		key("dynamodb", "PutItem"):      {"dynamodb:PutItem"},
		key("dynamodb", "GetItem"):      {"dynamodb:GetItem"},
		key("dynamodb", "UpdateItem"):   {"dynamodb:UpdateItem"},
		key("dynamodb", "DeleteItem"):   {"dynamodb:DeleteItem"},
		key("dynamodb", "Query"):        {"dynamodb:Query"},
		key("dynamodb", "Scan"):         {"dynamodb:Scan"},
		key("dynamodb", "CreateTable"):  {"dynamodb:CreateTable"},
		key("dynamodb", "DeleteTable"):  {"dynamodb:DeleteTable"},
		key("s3", "get-object"):         {"s3:GetObject"},
		key("s3", "put-object"):         {"s3:PutObject"},
		key("s3", "delete-object"):      {"s3:DeleteObject"},
		key("s3", "list-objects-v2"):    {"s3:ListBucket"},
		key("s3", "create-bucket"):      {"s3:CreateBucket"},
		key("sqs", "SendMessage"):       {"sqs:SendMessage"},
		key("sqs", "ReceiveMessage"):    {"sqs:ReceiveMessage"},
		key("sqs", "DeleteMessage"):     {"sqs:DeleteMessage"},
		key("sns", "Publish"):           {"sns:Publish"},
		key("sns", "Subscribe"):         {"sns:Subscribe"},
		key("events", "PutRule"):        {"events:PutRule"},
		key("events", "PutEvents"):      {"events:PutEvents"},
	}
}
