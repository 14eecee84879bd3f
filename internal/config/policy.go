package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/liamcoop/admission/rules"
	"gopkg.in/yaml.v3"
)

// LoadPolicy reads a policy document from path. An empty path yields the default policy.
func LoadPolicy(path string) (rules.Policy, error) {
	if path == "" {
		return rules.DefaultPolicy(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return rules.Policy{}, fmt.Errorf("failed to read policy %s: %w", path, err)
	}
	p, err := PolicyFromYAML(data)
	if err != nil {
		return rules.Policy{}, fmt.Errorf("policy %s: %w", path, err)
	}
	return p, nil
}

// PolicyFromYAML decodes a policy over the defaults so omitted keys keep their
// default values. Unknown keys are rejected.
func PolicyFromYAML(data []byte) (rules.Policy, error) {
	p := rules.DefaultPolicy()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		return rules.Policy{}, fmt.Errorf("failed to parse policy: %w", err)
	}

	if err := p.Validate(); err != nil {
		return rules.Policy{}, err
	}
	return p, nil
}

// PolicyToYAML renders p as a policy document
func PolicyToYAML(p rules.Policy) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(p); err != nil {
		return nil, fmt.Errorf("failed to encode policy: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode policy: %w", err)
	}
	return buf.Bytes(), nil
}
