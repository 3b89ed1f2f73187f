package vector

import (
	"context"
	"strings"
	"unicode"

	"github.com/weaviate/weaviate/entities/models"
)

// SchemaClient defines the interface for Weaviate schema operations
type SchemaClient interface {
	ClassExists(ctx context.Context, className string) (bool, error)
	CreateClass(ctx context.Context, class *models.Class) error
	GetClass(ctx context.Context, className string) (*models.Class, error)
	AddProperty(ctx context.Context, className string, property *models.Property) error
	DeleteClass(ctx context.Context, className string) error
}

// ClassName turns a collection name such as "log_context" into a Weaviate
// class name ("LogContext").
func ClassName(collection string) string {
	parts := strings.FieldsFunc(collection, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	var b strings.Builder
	for _, p := range parts {
		runes := []rune(p)
		runes[0] = unicode.ToUpper(runes[0])
		b.WriteString(string(runes))
	}
	if b.Len() == 0 {
		return "LogContext"
	}
	name := b.String()
	if unicode.IsDigit(rune(name[0])) {
		name = "C" + name
	}
	return name
}

func snippetProperties() []*models.Property {
	return []*models.Property{
		{
			Name:     "document",
			DataType: []string{"text"},
		},
		{
			Name:     "snippetId",
			DataType: []string{"string"}, // sha256 hex (exact match)
		},
		{
			Name:     "file",
			DataType: []string{"string"},
		},
		{
			Name:     "range",
			DataType: []string{"string"},
		},
		{
			Name:     "line",
			DataType: []string{"string"},
		},
		{
			Name:     "type",
			DataType: []string{"string"},
		},
	}
}

// EnsureSchema checks if the snippet class exists and creates it if not
func EnsureSchema(ctx context.Context, client SchemaClient, className string) error {
	exists, err := client.ClassExists(ctx, className)
	if err != nil {
		return err
	}

	properties := snippetProperties()

	if !exists {
		class := &models.Class{
			Class:       className,
			Description: "Source code around a logging call",
			Vectorizer:  "none",
			Properties:  properties,
		}
		return client.CreateClass(ctx, class)
	}

	// Class exists, check for missing properties
	class, err := client.GetClass(ctx, className)
	if err != nil {
		return err
	}

	existingProps := make(map[string]bool)
	for _, p := range class.Properties {
		existingProps[p.Name] = true
	}

	for _, p := range properties {
		if !existingProps[p.Name] {
			if err := client.AddProperty(ctx, className, p); err != nil {
				return err
			}
		}
	}

	return nil
}
