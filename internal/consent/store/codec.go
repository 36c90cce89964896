package store

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/thupa-pro/lipo-sub001/internal/consent/models"
)

//go:embed schema/record.schema.json
var recordSchemaJSON []byte

var recordSchema = mustCompileSchema(recordSchemaJSON)

func mustCompileSchema(raw []byte) *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("parse record schema: %v", err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("record.schema.json", doc); err != nil {
		panic(fmt.Sprintf("add record schema: %v", err))
	}
	schema, err := c.Compile("record.schema.json")
	if err != nil {
		panic(fmt.Sprintf("compile record schema: %v", err))
	}
	return schema
}

func encodeRecord(record models.Record) ([]byte, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("encode consent record: %w", err)
	}
	return data, nil
}

// decodeRecord validates the blob shape before decoding so a tampered or
// foreign value under the key is rejected instead of half-parsed.
func decodeRecord(data []byte) (models.Record, error) {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return models.Record{}, fmt.Errorf("parse consent record: %w", err)
	}
	if err := recordSchema.Validate(inst); err != nil {
		return models.Record{}, fmt.Errorf("consent record shape: %w", err)
	}
	var record models.Record
	if err := json.Unmarshal(data, &record); err != nil {
		return models.Record{}, fmt.Errorf("decode consent record: %w", err)
	}
	return record, nil
}
