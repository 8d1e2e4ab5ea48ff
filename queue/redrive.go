package queue

import jsoniter "github.com/json-iterator/go"

// parseRedrivePolicy decodes SQS's RedrivePolicy attribute, a
// JSON-encoded string rather than a nested object (SQS quirk carried
// over from the Query protocol into its JSON API).
func parseRedrivePolicy(raw string) (maxReceiveCount int, dlqARN string) {
	if raw == "" {
		return 0, ""
	}
	var policy struct {
		DeadLetterTargetArn string `json:"deadLetterTargetArn"`
		MaxReceiveCount     int    `json:"maxReceiveCount"`
	}
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.UnmarshalFromString(raw, &policy); err != nil {
		return 0, ""
	}
	return policy.MaxReceiveCount, policy.DeadLetterTargetArn
}
