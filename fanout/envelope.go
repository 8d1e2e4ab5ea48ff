package fanout

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// snsNotification is the Topic -> SQS subscriber envelope (spec.md §4.10).
type snsNotification struct {
	Type              string                      `json:"Type"`
	MessageID         string                      `json:"MessageId"`
	TopicArn          string                      `json:"TopicArn"`
	Message           string                      `json:"Message"`
	Timestamp         string                      `json:"Timestamp"`
	MessageAttributes map[string]MessageAttribute `json:"MessageAttributes,omitempty"`
}

func wrapSQSEnvelope(topicARN, messageID, message, timestamp string, attrs map[string]MessageAttribute, raw bool) []byte {
	if raw {
		return []byte(message)
	}
	body, _ := json.Marshal(snsNotification{
		Type: "Notification", MessageID: messageID, TopicArn: topicARN,
		Message: message, Timestamp: timestamp, MessageAttributes: attrs,
	})
	return body
}

// lambdaRecord is the Topic -> Lambda subscriber envelope shape.
type lambdaRecord struct {
	EventSource string `json:"EventSource"`
	Sns         struct {
		MessageID         string                      `json:"MessageId"`
		TopicArn          string                      `json:"TopicArn"`
		Message           string                      `json:"Message"`
		Timestamp         string                      `json:"Timestamp"`
		MessageAttributes map[string]MessageAttribute `json:"MessageAttributes,omitempty"`
	} `json:"Sns"`
}

func wrapLambdaEnvelope(topicARN, messageID, message, timestamp string, attrs map[string]MessageAttribute) []byte {
	rec := lambdaRecord{EventSource: "aws:sns"}
	rec.Sns.MessageID = messageID
	rec.Sns.TopicArn = topicARN
	rec.Sns.Message = message
	rec.Sns.Timestamp = timestamp
	rec.Sns.MessageAttributes = attrs
	body, _ := json.Marshal(struct {
		Records []lambdaRecord `json:"Records"`
	}{[]lambdaRecord{rec}})
	return body
}

// shapeTargetPayload applies a rule target's InputPath / InputTransformer
// to the matched event, falling back to the event verbatim when neither
// is configured.
func shapeTargetPayload(event map[string]interface{}, target Target) ([]byte, error) {
	switch {
	case target.InputTransformer != nil:
		return applyInputTransformer(event, *target.InputTransformer)
	case target.InputPath != "":
		val, ok := jsonPath(event, target.InputPath)
		if !ok {
			return nil, fmt.Errorf("input path %q did not match event", target.InputPath)
		}
		return json.Marshal(val)
	default:
		return json.Marshal(event)
	}
}

func applyInputTransformer(event map[string]interface{}, t InputTransformer) ([]byte, error) {
	values := make(map[string]string, len(t.InputPathsMap))
	for name, path := range t.InputPathsMap {
		val, ok := jsonPath(event, path)
		if !ok {
			return nil, fmt.Errorf("input path %q for %q did not match event", path, name)
		}
		values[name] = stringifyScalar(val)
	}
	out := placeholderPattern.ReplaceAllStringFunc(t.InputTemplate, func(match string) string {
		name := match[1 : len(match)-1]
		if v, ok := values[name]; ok {
			return v
		}
		return match
	})
	return []byte(out), nil
}

var placeholderPattern = regexp.MustCompile(`<[A-Za-z0-9_.-]+>`)

func stringifyScalar(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		body, _ := json.Marshal(v)
		return string(body)
	}
}

// jsonPath resolves a dotted, optionally "$."-prefixed path (e.g.
// "$.detail.state" or "detail.instance-id[0]") against doc.
func jsonPath(doc interface{}, path string) (interface{}, bool) {
	path = strings.TrimPrefix(path, "$.")
	path = strings.TrimPrefix(path, "$")
	if path == "" {
		return doc, true
	}
	cur := doc
	for _, segment := range strings.Split(path, ".") {
		field, index, hasIndex := splitIndex(segment)
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[field]
		if !ok {
			return nil, false
		}
		if hasIndex {
			arr, ok := cur.([]interface{})
			if !ok || index < 0 || index >= len(arr) {
				return nil, false
			}
			cur = arr[index]
		}
	}
	return cur, true
}

var indexPattern = regexp.MustCompile(`^([A-Za-z0-9_-]+)\[(\d+)\]$`)

func splitIndex(segment string) (field string, index int, hasIndex bool) {
	if m := indexPattern.FindStringSubmatch(segment); m != nil {
		idx, _ := strconv.Atoi(m[2])
		return m[1], idx, true
	}
	return segment, 0, false
}
