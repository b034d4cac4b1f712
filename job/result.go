package job

import "encoding/json"

func marshalResult(result interface{}) (json.RawMessage, error) {
	if result == nil {
		return nil, nil
	}
	return json.Marshal(result)
}
