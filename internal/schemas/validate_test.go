package schemas

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSchema = `{
	"type": "object",
	"required": ["name"],
	"properties": {
		"name": {"type": "string", "minLength": 1},
		"count": {"type": "integer", "minimum": 0}
	}
}`

func TestValidateJSONString(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr bool
	}{
		{"valid document", `{"name": "plan", "count": 2}`, false},
		{"missing required field", `{"count": 2}`, true},
		{"wrong type", `{"name": "plan", "count": "two"}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateJSONString(testSchema, tt.doc)
			if tt.wantErr {
				var ve *ValidationError
				require.Error(t, err)
				assert.ErrorAs(t, err, &ve)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateJSONString_SchemaLoadError(t *testing.T) {
	err := ValidateJSONString(`{not a schema`, `{}`)
	require.Error(t, err)

	var sle *SchemaLoadError
	assert.ErrorAs(t, err, &sle)
}

func TestValidationError_MessageListsFields(t *testing.T) {
	err := ValidateJSONString(testSchema, `{"count": -1}`)
	require.Error(t, err)

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, err.Error(), "validation failed")
	assert.GreaterOrEqual(t, len(ve.Errors), 2)
}

func TestLoadSchema(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "thing.schema.json")
	require.NoError(t, os.WriteFile(path, []byte(testSchema), 0o644))

	schema, err := LoadSchema(path)
	require.NoError(t, err)

	assert.NoError(t, schema.Validate([]byte(`{"name": "ok"}`)))

	err = schema.Validate([]byte(`{}`))
	var ve *ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestLoadSchema_MissingFile(t *testing.T) {
	_, err := LoadSchema(filepath.Join(t.TempDir(), "absent.schema.json"))
	assert.Error(t, err)
}

func TestResolveSchemaPath(t *testing.T) {
	assert.Empty(t, ResolveSchemaPath("does/not/exist.schema.json"))

	dir := t.TempDir()
	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(cwd) })

	require.NoError(t, os.WriteFile(filepath.Join(dir, "local.schema.json"), []byte(testSchema), 0o644))
	resolved := ResolveSchemaPath("local.schema.json")
	assert.NotEmpty(t, resolved)
}
