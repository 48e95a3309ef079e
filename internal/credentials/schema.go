package credentials

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/yourorg/payment-gateway/internal/model"
)

// Each gateway has a required credential shape. The schemas intentionally
// allow extra keys so deployments can carry annotations (environment
// labels, rotation timestamps) without tripping validation.
var schemaSources = map[model.ProviderType]string{
	model.ProviderPayPal: `{
		"type": "object",
		"required": ["user", "pwd", "signature"],
		"properties": {
			"user":      {"type": "string", "minLength": 1},
			"pwd":       {"type": "string", "minLength": 1},
			"signature": {"type": "string", "minLength": 1}
		}
	}`,
	model.ProviderAuthorizeNet: `{
		"type": "object",
		"required": ["api_login_id", "transaction_key"],
		"properties": {
			"api_login_id":    {"type": "string", "minLength": 1},
			"transaction_key": {"type": "string", "minLength": 1}
		}
	}`,
	model.ProviderSquare: `{
		"type": "object",
		"required": ["access_token", "location_id"],
		"properties": {
			"access_token": {"type": "string", "minLength": 1},
			"location_id":  {"type": "string", "minLength": 1}
		}
	}`,
	model.ProviderStripe: `{
		"type": "object",
		"required": ["secret_key"],
		"properties": {
			"secret_key":      {"type": "string", "minLength": 1},
			"publishable_key": {"type": "string"}
		}
	}`,
}

var schemas = mustCompileSchemas()

func mustCompileSchemas() map[model.ProviderType]*gojsonschema.Schema {
	out := make(map[model.ProviderType]*gojsonschema.Schema, len(schemaSources))
	for typ, src := range schemaSources {
		s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
		if err != nil {
			panic(fmt.Sprintf("credentials: compiling %s schema: %v", typ, err))
		}
		out[typ] = s
	}
	return out
}

// ValidateShape checks a decrypted credential map against the gateway's
// required shape. Failures come back as a ConfigurationError listing every
// violated constraint.
func ValidateShape(typ model.ProviderType, creds map[string]string) error {
	schema, ok := schemas[typ]
	if !ok {
		return &model.ConfigurationError{Provider: string(typ), Reason: "no credential schema registered"}
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(creds))
	if err != nil {
		return &model.ConfigurationError{Provider: string(typ), Reason: "validating credentials: " + err.Error()}
	}
	if result.Valid() {
		return nil
	}

	descs := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		descs = append(descs, desc.String())
	}
	return &model.ConfigurationError{
		Provider: string(typ),
		Reason:   "invalid credentials: " + strings.Join(descs, "; "),
	}
}
