package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// printFormatted prints data as JSON or YAML.
func printFormatted(w io.Writer, data any, format string) error {
	var out []byte
	var err error

	switch format {
	case "json":
		out, err = json.MarshalIndent(data, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		out = append(out, '\n')
	case "yaml", "":
		out, err = yaml.Marshal(toPlain(data))
		if err != nil {
			return fmt.Errorf("failed to marshal YAML: %w", err)
		}
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
	_, err = w.Write(out)
	return err
}

// toPlain routes data through JSON so YAML output uses the json field
// names instead of lowercased Go names.
func toPlain(data any) any {
	b, err := json.Marshal(data)
	if err != nil {
		return data
	}
	var plain any
	if err := json.Unmarshal(b, &plain); err != nil {
		return data
	}
	return plain
}
