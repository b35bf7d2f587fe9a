// Command generate-schema writes the JSON schema of the DittoFTP config file,
// for editor completion and validation of config.yaml.
//
// Usage:
//
//	generate-schema [-o config.schema.json]
//
// Pass "-o -" to print to stdout.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/invopop/jsonschema"
	"github.com/marmos91/dittoftp/pkg/config"
)

const schemaVersion = "1.0.0"

func main() {
	out := flag.String("o", "config.schema.json", "Output file, or - for stdout")
	flag.Parse()

	// Legacy positional form: generate-schema <file>
	if flag.NArg() > 0 {
		*out = flag.Arg(0)
	}

	if err := run(*out); err != nil {
		fmt.Fprintf(os.Stderr, "generate-schema: %v\n", err)
		os.Exit(1)
	}
}

func run(out string) error {
	data, err := buildSchema()
	if err != nil {
		return err
	}

	if out == "-" {
		_, err = os.Stdout.Write(data)
		return err
	}

	f, err := os.Create(out)
	if err != nil {
		return err
	}
	if err := writeAll(f, data); err != nil {
		return err
	}
	fmt.Printf("Schema for DittoFTP config written to %s\n", out)
	return nil
}

func buildSchema() ([]byte, error) {
	r := jsonschema.Reflector{
		FieldNameTag:              "yaml",
		DoNotReference:            true,
		AllowAdditionalProperties: false,
	}

	s := r.Reflect(&config.Config{})
	s.Title = "DittoFTP Configuration"
	s.Description = "Listeners, users, file system and logging of a DittoFTP server"
	s.Version = schemaVersion

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	return append(data, '\n'), nil
}

func writeAll(f *os.File, data []byte) error {
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
