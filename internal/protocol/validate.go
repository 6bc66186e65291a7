package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

const schemaBaseURL = "https://splogs.io/schemas/"

// Validator checks log lines against the embedded record schemas.
type Validator struct {
	byType map[string]*jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	c := jsonschema.NewCompiler()
	names := map[string]string{
		TypeItem:       "item.schema.json",
		TypeItemRemove: "item_remove.schema.json",
	}
	for _, file := range names {
		b, err := schemaFS.ReadFile("schemas/" + file)
		if err != nil {
			return nil, err
		}
		if err := c.AddResource(schemaBaseURL+file, bytes.NewReader(b)); err != nil {
			return nil, fmt.Errorf("%s: %w", file, err)
		}
	}
	v := &Validator{byType: map[string]*jsonschema.Schema{}}
	for typ, file := range names {
		s, err := c.Compile(schemaBaseURL + file)
		if err != nil {
			return nil, fmt.Errorf("compile %s: %w", file, err)
		}
		v.byType[typ] = s
	}
	return v, nil
}

// ValidateLine decodes one NDJSON line, picks the schema by its type field
// and validates it. The record type is returned even when validation fails.
func (v *Validator) ValidateLine(line []byte) (string, error) {
	var doc any
	if err := json.Unmarshal(line, &doc); err != nil {
		return "", fmt.Errorf("decode: %w", err)
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return "", fmt.Errorf("record is not an object")
	}
	typ, _ := obj["type"].(string)
	s := v.byType[typ]
	if s == nil {
		return typ, fmt.Errorf("unknown record type %q", typ)
	}
	if err := s.Validate(doc); err != nil {
		return typ, err
	}
	return typ, nil
}
