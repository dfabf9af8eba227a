package main

import (
	"encoding/json"
	"fmt"

	eshet "github.com/danmuck/eshet"
)

// jsonToValue parses one JSON document into the generic value form the
// client packs as MessagePack.
func jsonToValue(raw string) (any, error) {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("parse json %q: %w", raw, err)
	}
	return v, nil
}

// jsonArgsToValue parses zero or more JSON arguments into one tuple.
func jsonArgsToValue(raw []string) ([]any, error) {
	args := make([]any, 0, len(raw))
	for _, r := range raw {
		v, err := jsonToValue(r)
		if err != nil {
			return nil, err
		}
		args = append(args, v)
	}
	return args, nil
}

// payloadToJSON renders a MessagePack payload as JSON.
func payloadToJSON(p eshet.Payload) (string, error) {
	v, err := p.Value()
	if err != nil {
		return "", err
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// unknownSentinel is printed for StateValue Unknown, which has no JSON
// rendering of its own.
const unknownSentinel = "unknown"

func stateToJSON(v eshet.StateValue) (string, error) {
	if !v.Known {
		return unknownSentinel, nil
	}
	return payloadToJSON(v.Value)
}
