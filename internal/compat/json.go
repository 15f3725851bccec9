package compat

import "encoding/json"

func decodeJSON(raw []byte) (map[string]interface{}, error) {
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func encodeJSON(m map[string]interface{}) ([]byte, error) {
	return json.Marshal(m)
}
