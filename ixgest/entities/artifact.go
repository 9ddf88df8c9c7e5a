package entities

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/teranos/nex/errors"
)

// Artifact is the extract stage's output: a single-key JSON object whose key is
// the artifact name and whose value maps entities to counts.
//
//	{"parisne": {"Paris": 1, "France": 1}}
type Artifact struct {
	Name     string
	Entities Mapping
}

// MarshalArtifact encodes a into its wire form.
func MarshalArtifact(a Artifact) ([]byte, error) {
	if a.Name == "" {
		return nil, errors.New("artifact name is empty")
	}
	entities := a.Entities
	if entities == nil {
		entities = Mapping{}
	}
	return json.Marshal(map[string]Mapping{a.Name: entities})
}

// ParseArtifact decodes an artifact. Anything other than a one-key object of
// string to non-negative integer is rejected.
func ParseArtifact(body []byte) (Artifact, error) {
	var outer map[string]json.RawMessage
	if err := json.Unmarshal(body, &outer); err != nil {
		return Artifact{}, errors.Wrap(err, "artifact is not a JSON object")
	}
	if outer == nil {
		return Artifact{}, errors.New("artifact is null")
	}
	if len(outer) != 1 {
		return Artifact{}, errors.Newf("artifact must have exactly one key, got %d", len(outer))
	}

	var a Artifact
	for name, raw := range outer {
		a.Name = name
		entities, err := parseEntities(raw)
		if err != nil {
			return Artifact{}, errors.Wrapf(err, "artifact %q", name)
		}
		a.Entities = entities
	}
	return a, nil
}

func parseEntities(raw json.RawMessage) (Mapping, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var values map[string]any
	if err := dec.Decode(&values); err != nil {
		return nil, errors.Wrap(err, "entities are not a JSON object")
	}
	if values == nil {
		return nil, errors.New("entities are null")
	}

	out := make(Mapping, len(values))
	for entity, v := range values {
		num, ok := v.(json.Number)
		if !ok {
			return nil, errors.Newf("count for %q is not a number", entity)
		}
		n, err := strconv.ParseInt(num.String(), 10, 64)
		if err != nil {
			return nil, errors.Newf("count for %q is not an integer: %s", entity, num)
		}
		if n < 0 {
			return nil, errors.Newf("count for %q is negative: %d", entity, n)
		}
		out[entity] = n
	}
	return out, nil
}
