package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/starford/convsync/internal/models"
)

// DefaultPageSize is the catalog page size used when none is configured.
const DefaultPageSize = 100

const conventionsPath = "/api/conventions"

// Page is one page of the convention catalog.
type Page struct {
	Items      []models.Convention
	Pagination *models.Pagination
}

// ListPage fetches a single catalog page (1-based).
func (c *Client) ListPage(ctx context.Context, page, pageSize int) (Page, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("pageSize", strconv.Itoa(pageSize))
	body, err := c.do(ctx, request{method: http.MethodGet, path: conventionsPath, query: q})
	if err != nil {
		return Page{}, err
	}
	items, pagination, err := decodeList[models.Convention](body)
	if err != nil {
		return Page{}, err
	}
	return Page{Items: items, Pagination: pagination}, nil
}

// FetchAll walks the catalog and returns every convention in service order.
// Paging stops at the reported totalPages, or, without that metadata, at the
// first page shorter than pageSize.
func (c *Client) FetchAll(ctx context.Context, pageSize int) ([]models.Convention, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	var all []models.Convention
	for page := 1; ; page++ {
		p, err := c.ListPage(ctx, page, pageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, p.Items...)
		if p.Pagination != nil && p.Pagination.TotalPages > 0 {
			if page >= p.Pagination.TotalPages {
				break
			}
			continue
		}
		if len(p.Items) < pageSize {
			break
		}
	}
	return all, nil
}

// FetchBody returns the raw markdown body of a convention.
func (c *Client) FetchBody(ctx context.Context, id string) (string, error) {
	body, err := c.do(ctx, request{
		method: http.MethodGet,
		path:   conventionsPath + "/" + url.PathEscape(id) + "/raw",
		accept: "text/markdown",
	})
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// FetchDetail returns the full metadata of a convention, including the
// current revision token.
func (c *Client) FetchDetail(ctx context.Context, id string) (models.Convention, error) {
	body, err := c.do(ctx, request{
		method: http.MethodGet,
		path:   conventionsPath + "/" + url.PathEscape(id),
	})
	if err != nil {
		return models.Convention{}, err
	}
	doc, err := decodeObject[models.Convention](body)
	if err != nil {
		return models.Convention{}, fmt.Errorf("convention %s: %w", id, err)
	}
	return doc, nil
}

// CreateRequest is the payload for a new convention. Nil metadata fields are
// omitted.
type CreateRequest struct {
	Title            string  `json:"title"`
	Category         string  `json:"category"`
	FileName         string  `json:"fileName"`
	Content          string  `json:"content"`
	Trigger          *string `json:"trigger,omitempty"`
	Description      *string `json:"description,omitempty"`
	AgentInstruction *string `json:"agentInstruction,omitempty"`
}

// Create posts a new convention and returns the stored document.
func (c *Client) Create(ctx context.Context, req CreateRequest) (models.Convention, error) {
	body, err := c.do(ctx, request{method: http.MethodPost, path: conventionsPath, body: req})
	if err != nil {
		return models.Convention{}, err
	}
	return decodeObject[models.Convention](body)
}

// Field is a tri-state optional value for update payloads: untouched,
// explicitly cleared (sent as null), or set.
type Field struct {
	set   bool
	value *string
}

// Keep leaves the field untouched server-side.
func Keep() Field { return Field{} }

// Clear sends an explicit null.
func Clear() Field { return Field{set: true} }

// Set sends v.
func Set(v string) Field { return Field{set: true, value: &v} }

// IsSet reports whether the field is sent at all.
func (f Field) IsSet() bool { return f.set }

// Value returns the value to send; nil with IsSet means an explicit clear.
func (f Field) Value() *string { return f.value }

func (f Field) put(m map[string]any, key string) {
	if !f.set {
		return
	}
	if f.value == nil {
		m[key] = nil
		return
	}
	m[key] = *f.value
}

// UpdateRequest is the payload for replacing a convention body. UpdatedAt is
// the optimistic-concurrency precondition.
type UpdateRequest struct {
	UpdatedAt        string
	Content          string
	Trigger          Field
	Description      Field
	AgentInstruction Field
}

// MarshalJSON emits only the metadata fields that are set, using null for
// explicit clears.
func (r UpdateRequest) MarshalJSON() ([]byte, error) {
	m := map[string]any{
		"updatedAt": r.UpdatedAt,
		"content":   r.Content,
	}
	r.Trigger.put(m, "trigger")
	r.Description.put(m, "description")
	r.AgentInstruction.put(m, "agentInstruction")
	return json.Marshal(m)
}

// Update replaces the body (and any set metadata) of convention id. A stale
// precondition comes back as an *HTTPError matching apperr.ErrConflict.
func (c *Client) Update(ctx context.Context, id string, req UpdateRequest) (models.Convention, error) {
	body, err := c.do(ctx, request{
		method: http.MethodPatch,
		path:   conventionsPath + "/" + url.PathEscape(id),
		body:   req,
	})
	if err != nil {
		return models.Convention{}, err
	}
	return decodeObject[models.Convention](body)
}

// Delete removes convention id.
func (c *Client) Delete(ctx context.Context, id string) error {
	_, err := c.do(ctx, request{
		method: http.MethodDelete,
		path:   conventionsPath + "/" + url.PathEscape(id),
	})
	return err
}
