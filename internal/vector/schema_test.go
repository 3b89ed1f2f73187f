package vector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate/entities/models"
)

type MockSchemaClient struct {
	CreatedClass    *models.Class
	ExistingClass   *models.Class
	AddedProperties []*models.Property
	Deleted         []string
}

func (m *MockSchemaClient) ClassExists(ctx context.Context, className string) (bool, error) {
	return m.ExistingClass != nil, nil
}

func (m *MockSchemaClient) CreateClass(ctx context.Context, class *models.Class) error {
	m.CreatedClass = class
	return nil
}

func (m *MockSchemaClient) GetClass(ctx context.Context, className string) (*models.Class, error) {
	return m.ExistingClass, nil
}

func (m *MockSchemaClient) AddProperty(ctx context.Context, className string, property *models.Property) error {
	m.AddedProperties = append(m.AddedProperties, property)
	return nil
}

func (m *MockSchemaClient) DeleteClass(ctx context.Context, className string) error {
	m.Deleted = append(m.Deleted, className)
	m.ExistingClass = nil
	return nil
}

func TestEnsureSchema_CreatesClass(t *testing.T) {
	client := &MockSchemaClient{}
	require.NoError(t, EnsureSchema(context.Background(), client, "LogContext"))
	require.NotNil(t, client.CreatedClass)

	assert.Equal(t, "LogContext", client.CreatedClass.Class)
	assert.Equal(t, "none", client.CreatedClass.Vectorizer)

	types := map[string]string{}
	for _, p := range client.CreatedClass.Properties {
		types[p.Name] = p.DataType[0]
	}
	assert.Equal(t, "text", types["document"])
	assert.Equal(t, "string", types["snippetId"])
	assert.Equal(t, "string", types["range"])
}

func TestEnsureSchema_AddsMissingProperties(t *testing.T) {
	client := &MockSchemaClient{
		ExistingClass: &models.Class{
			Class: "LogContext",
			Properties: []*models.Property{
				{Name: "document", DataType: []string{"text"}},
				{Name: "snippetId", DataType: []string{"string"}},
			},
		},
	}

	require.NoError(t, EnsureSchema(context.Background(), client, "LogContext"))
	assert.Nil(t, client.CreatedClass, "Should not recreate class if it exists")

	added := map[string]bool{}
	for _, p := range client.AddedProperties {
		added[p.Name] = true
	}
	assert.True(t, added["file"])
	assert.True(t, added["type"])
	assert.False(t, added["document"], "Should not re-add existing 'document' property")
}

func TestClassName(t *testing.T) {
	tests := map[string]string{
		"log_context":   "LogContext",
		"LogContext":    "LogContext",
		"java-snips.v2": "JavaSnipsV2",
		"2024_logs":     "C2024Logs",
		"":              "LogContext",
	}
	for in, want := range tests {
		assert.Equal(t, want, ClassName(in), in)
	}
}
