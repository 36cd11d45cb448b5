package config

import (
	"github.com/invopop/jsonschema"
)

// GenerateSchema generates a JSON schema for the Config struct. Property names
// follow the mapstructure tags, so the schema validates the YAML config file.
func GenerateSchema() *jsonschema.Schema {
	r := &jsonschema.Reflector{
		FieldNameTag:               "mapstructure",
		AllowAdditionalProperties:  false,
		RequiredFromJSONSchemaTags: true,
		DoNotReference:             true,
	}
	schema := r.Reflect(&Config{})
	schema.Title = "storyline configuration"
	return schema
}
