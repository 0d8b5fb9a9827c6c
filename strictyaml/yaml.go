// Package strictyaml decodes YAML config files, rejecting keys that do not
// correspond to a field of the destination struct.
package strictyaml

import (
	"bytes"
	"errors"
	"io"

	"gopkg.in/yaml.v3"
)

// Unmarshal decodes the first YAML document in b into yamlObj. Unknown keys
// are an error, as is an empty input. A second document in b is an error
// too, so a stray "---" cannot silently hide half of a config.
func Unmarshal(b []byte, yamlObj interface{}) error {
	decoder := yaml.NewDecoder(bytes.NewReader(b))
	decoder.KnownFields(true)

	err := decoder.Decode(yamlObj)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("empty YAML document")
		}
		return err
	}

	var extra yaml.Node
	err = decoder.Decode(&extra)
	if !errors.Is(err, io.EOF) {
		return errors.New("multiple YAML documents, expected one")
	}
	return nil
}
