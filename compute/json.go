package compute

import jsoniter "github.com/json-iterator/go"

var wireJSON = jsoniter.ConfigCompatibleWithStandardLibrary

func marshalPayload(payload map[string]interface{}) ([]byte, error) {
	if payload == nil {
		return []byte("null"), nil
	}
	return wireJSON.Marshal(payload)
}

func unmarshalEvent(raw []byte) (map[string]interface{}, error) {
	if len(raw) == 0 {
		return map[string]interface{}{}, nil
	}
	var m map[string]interface{}
	if err := wireJSON.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}
