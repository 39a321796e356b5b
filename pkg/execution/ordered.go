package execution

import (
	"bytes"
	"encoding/json"
)

// orderedMap is a JSON object that marshals its keys in insertion order.
// encoding/json sorts map keys, which would break the contract that
// response fields appear in the order the operation requested them.
type orderedMap struct {
	keys   []string
	values map[string]interface{}
}

func newOrderedMap(capacity int) *orderedMap {
	return &orderedMap{
		keys:   make([]string, 0, capacity),
		values: make(map[string]interface{}, capacity),
	}
}

func (m *orderedMap) set(key string, value interface{}) {
	if _, exists := m.values[key]; !exists {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
}

func (m *orderedMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range m.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyJSON, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		buf.Write(keyJSON)
		buf.WriteByte(':')
		valueJSON, err := json.Marshal(m.values[key])
		if err != nil {
			return nil, err
		}
		buf.Write(valueJSON)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
