package web

import (
	"github.com/xeipuuv/gojsonschema"
)

// envelopeSchema validates events injected through the dev endpoint. The
// real transport is trusted with anything shaped like an envelope; injected
// events get checked so a typo surfaces as a 400 instead of landing in the
// catch-all bucket.
const envelopeSchema = `{
	"type": "object",
	"required": ["type", "data"],
	"properties": {
		"type": {"type": "string", "minLength": 1},
		"data": {"type": "object"}
	}
}`

var envelopeValidator = gojsonschema.NewStringLoader(envelopeSchema)

func validateEnvelope(body []byte) (bool, []string) {
	result, err := gojsonschema.Validate(envelopeValidator, gojsonschema.NewBytesLoader(body))
	if err != nil {
		return false, []string{err.Error()}
	}

	if result.Valid() {
		return true, nil
	}

	details := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		details = append(details, desc.String())
	}

	return false, details
}
