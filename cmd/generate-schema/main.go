// Command generate-schema writes the JSON schema of the dittovfs config
// file, for editor completion and validation of config.yaml.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/invopop/jsonschema"
	"github.com/marmos91/dittovfs/pkg/config"
)

func main() {
	output := flag.String("o", "config.schema.json", "Output file, or - for standard output")
	flag.Parse()

	r := jsonschema.Reflector{
		ExpandedStruct: true,
		DoNotReference: true,
		// Keys as they appear in config.yaml.
		FieldNameTag: "mapstructure",
	}
	schema := r.Reflect(&config.Config{})
	schema.Title = "DittoVFS Configuration"
	schema.Description = "Providers, shadow store, metrics and views for the dittovfs command"

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	data = append(data, '\n')

	if *output == "-" {
		_, _ = os.Stdout.Write(data)
		return
	}
	if err := os.WriteFile(*output, data, 0644); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "Schema written to %s\n", *output)
}
