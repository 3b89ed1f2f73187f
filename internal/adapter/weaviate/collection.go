package weaviate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	wfault "github.com/weaviate/weaviate-go-client/v5/weaviate/fault"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"logrca/internal/fault"
	"logrca/internal/vector"
)

// Collection stores snippets as objects of one Weaviate class with
// caller-supplied vectors.
type Collection struct {
	client *weaviate.Client
	schema vector.SchemaClient
	name   string
	class  string
}

var _ vector.Collection = (*Collection)(nil)

func NewCollection(client *weaviate.Client, name string) *Collection {
	return &Collection{
		client: client,
		schema: vector.NewWeaviateClientAdapter(client),
		name:   name,
		class:  vector.ClassName(name),
	}
}

func (c *Collection) Name() string {
	return c.name
}

func (c *Collection) ClassName() string {
	return c.class
}

func (c *Collection) EnsureSchema(ctx context.Context) error {
	return vector.EnsureSchema(ctx, c.schema, c.class)
}

// objectID derives a stable Weaviate UUID from the snippet id.
func objectID(id string) strfmt.UUID {
	return strfmt.UUID(uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String())
}

func (c *Collection) Upsert(ctx context.Context, records []vector.Record) error {
	if len(records) == 0 {
		return nil
	}

	objs := make([]*models.Object, 0, len(records))
	for _, r := range records {
		props := map[string]interface{}{
			"document":  r.Document,
			"snippetId": r.ID,
		}
		for _, k := range []string{"file", "range", "line", "type"} {
			if v, ok := r.Metadata[k]; ok {
				props[k] = v
			}
		}
		objs = append(objs, &models.Object{
			Class:      c.class,
			ID:         objectID(r.ID),
			Properties: props,
			Vector:     models.C11yVector(r.Vector),
		})
	}

	resp, err := c.client.Batch().ObjectsBatcher().WithObjects(objs...).Do(ctx)
	if err != nil {
		return classify("weaviate.upsert", err)
	}
	for _, r := range resp {
		if r.Result == nil || r.Result.Errors == nil {
			continue
		}
		for _, item := range r.Result.Errors.Error {
			if item != nil && item.Message != "" {
				return classifyMessage("weaviate.upsert", item.Message)
			}
		}
	}
	return nil
}

func (c *Collection) Query(ctx context.Context, vectors [][]float32, topK int) ([][]vector.Hit, error) {
	out := make([][]vector.Hit, len(vectors))
	for i := range out {
		out[i] = []vector.Hit{}
	}
	if topK <= 0 {
		return out, nil
	}

	fields := []graphql.Field{
		{Name: "document"},
		{Name: "snippetId"},
		{Name: "file"},
		{Name: "range"},
		{Name: "line"},
		{Name: "type"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "distance"}}},
	}

	for i, vec := range vectors {
		nearVector := c.client.GraphQL().NearVectorArgBuilder().WithVector(vec)
		res, err := c.client.GraphQL().Get().
			WithClassName(c.class).
			WithNearVector(nearVector).
			WithLimit(topK).
			WithFields(fields...).
			Do(ctx)
		if err != nil {
			return nil, classify("weaviate.query", err)
		}
		if len(res.Errors) > 0 {
			msg := res.Errors[0].Message
			if strings.Contains(msg, "Cannot query field") {
				continue
			}
			return nil, classifyMessage("weaviate.query", msg)
		}
		out[i] = parseHits(res.Data, c.class)
	}
	return out, nil
}

func parseHits(data map[string]models.JSONObject, class string) []vector.Hit {
	hits := []vector.Hit{}
	get, ok := data["Get"].(map[string]interface{})
	if !ok {
		return hits
	}
	objs, ok := get[class].([]interface{})
	if !ok {
		return hits
	}
	for _, o := range objs {
		props, ok := o.(map[string]interface{})
		if !ok {
			continue
		}
		hit := vector.Hit{Metadata: map[string]string{}}
		if doc, ok := props["document"].(string); ok {
			hit.Document = doc
		}
		if id, ok := props["snippetId"].(string); ok {
			hit.ID = id
		}
		for _, k := range []string{"file", "range", "line", "type"} {
			if v, ok := props[k].(string); ok {
				hit.Metadata[k] = v
			}
		}
		if additional, ok := props["_additional"].(map[string]interface{}); ok {
			if d, ok := additional["distance"].(float64); ok {
				hit.Distance = float32(d)
			}
		}
		hits = append(hits, hit)
	}
	return hits
}

// Reset drops the class with all its objects and creates it again.
func (c *Collection) Reset(ctx context.Context) error {
	if err := c.schema.DeleteClass(ctx, c.class); err != nil && statusCode(err) != http.StatusNotFound {
		return classify("weaviate.reset", err)
	}
	if err := c.EnsureSchema(ctx); err != nil {
		return classify("weaviate.reset", err)
	}
	return nil
}

func (c *Collection) Count(ctx context.Context) (int, error) {
	res, err := c.client.GraphQL().Aggregate().
		WithClassName(c.class).
		WithFields(graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}}).
		Do(ctx)
	if err != nil {
		return 0, classify("weaviate.count", err)
	}
	if len(res.Errors) > 0 {
		return 0, classifyMessage("weaviate.count", res.Errors[0].Message)
	}

	agg, ok := res.Data["Aggregate"].(map[string]interface{})
	if !ok {
		return 0, nil
	}
	rows, ok := agg[c.class].([]interface{})
	if !ok || len(rows) == 0 {
		return 0, nil
	}
	row, _ := rows[0].(map[string]interface{})
	meta, _ := row["meta"].(map[string]interface{})
	count, _ := meta["count"].(float64)
	return int(count), nil
}

// Close is a no-op; the Weaviate client holds no resources of its own.
func (c *Collection) Close() error {
	return nil
}

func statusCode(err error) int {
	var werr *wfault.WeaviateClientError
	if errors.As(err, &werr) {
		return werr.StatusCode
	}
	return 0
}

func isDimensionMessage(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "vector lengths don't match") ||
		strings.Contains(m, "vector with length") ||
		strings.Contains(m, "dimension")
}

func classifyMessage(op, msg string) error {
	if isDimensionMessage(msg) {
		return fault.New(fault.KindDimension, op, fmt.Errorf("%w: %s", fault.ErrDimensionMismatch, msg))
	}
	return fault.New(fault.KindIO, op, errors.New(msg))
}

func classify(op string, err error) error {
	var werr *wfault.WeaviateClientError
	if errors.As(err, &werr) {
		if isDimensionMessage(werr.Msg) {
			return fault.New(fault.KindDimension, op, fmt.Errorf("%w: %s", fault.ErrDimensionMismatch, werr.Msg))
		}
		if werr.StatusCode != 0 {
			return fault.Status(op, werr.StatusCode, err)
		}
	}
	return fault.Transport(op, err)
}
