package fanout

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
)

// parseFilterPolicyForm decodes the FilterPolicy form parameter, which
// carries a JSON-encoded filter policy document as its value (AWS's own
// Subscribe action does the same).
func parseFilterPolicyForm(raw string) (FilterPolicy, error) {
	if raw == "" {
		return nil, nil
	}
	var policy FilterPolicy
	if err := json.Unmarshal([]byte(raw), &policy); err != nil {
		return nil, fmt.Errorf("invalid FilterPolicy: %w", err)
	}
	return policy, nil
}

// parseSubscriptionAttributeForm scans the Query-protocol indexed
// Attributes.entry.N.{key,value} fields for the named attribute, the
// shape Subscribe's optional Attributes parameter uses for things like
// RawMessageDelivery.
func parseSubscriptionAttributeForm(form url.Values, name string) string {
	for i := 1; ; i++ {
		prefix := "Attributes.entry." + strconv.Itoa(i)
		key := form.Get(prefix + ".key")
		if key == "" {
			return ""
		}
		if key == name {
			return form.Get(prefix + ".value")
		}
	}
}

// parseMessageAttributesForm decodes the Query-protocol indexed
// MessageAttributes.entry.N.{Name,Value.DataType,Value.StringValue} form
// fields into the flat map the engine matches filter policies against.
func parseMessageAttributesForm(form url.Values) map[string]MessageAttribute {
	attrs := make(map[string]MessageAttribute)
	for i := 1; ; i++ {
		prefix := "MessageAttributes.entry." + strconv.Itoa(i)
		name := form.Get(prefix + ".Name")
		if name == "" {
			break
		}
		attrs[name] = MessageAttribute{
			DataType: form.Get(prefix + ".Value.DataType"),
			Value:    form.Get(prefix + ".Value.StringValue"),
		}
	}
	return attrs
}
