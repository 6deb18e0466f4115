package rules

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed builtin.yaml
var builtinPack []byte

// Pack is a rule definition file.
type Pack struct {
	Version string `yaml:"version"`
	// Requires is a semver range the engine version must satisfy.
	Requires string       `yaml:"requires"`
	Rules    []Definition `yaml:"rules"`
}

// ParsePack decodes a YAML rule pack. Unknown keys are rejected so typos in
// match parameters surface at load time.
func ParsePack(r io.Reader) (Pack, error) {
	var p Pack
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		if errors.Is(err, io.EOF) {
			return p, &DefinitionError{Problems: []error{errors.New("rule pack is empty")}}
		}
		return p, &DefinitionError{Problems: []error{fmt.Errorf("decode rule pack: %w", err)}}
	}
	return p, nil
}

// ReadPack reads a rule pack from disk.
func ReadPack(path string) (Pack, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Pack{}, err
	}
	p, err := ParsePack(bytes.NewReader(b))
	if err != nil {
		return p, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Builtin returns the embedded default pack.
func Builtin() (Pack, error) {
	return ParsePack(bytes.NewReader(builtinPack))
}
