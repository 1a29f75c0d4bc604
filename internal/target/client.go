// Package target talks to the destination platform's REST API: item
// lookup, create, update and multipart file upload.
package target

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/antonholmquist/jason"

	"github.com/tphakala/cmsbridge/internal/errors"
	"github.com/tphakala/cmsbridge/internal/httpclient"
	"github.com/tphakala/cmsbridge/internal/jsonapi"
	"github.com/tphakala/cmsbridge/internal/logger"
	"github.com/tphakala/cmsbridge/internal/retry"
)

const maxErrorBody = 512

// Config configures a Client.
type Config struct {
	BaseURL string
	Token   string

	// Retry applies to reads only; creates and uploads are not idempotent.
	Retry retry.Policy
}

// Client is the target API client. Safe for concurrent use.
type Client struct {
	cfg  Config
	http *httpclient.Client
	log  logger.Logger
}

// New creates a Client. A nil log uses the global "target" module logger.
func New(cfg Config, hc *httpclient.Client, log logger.Logger) *Client {
	if log == nil {
		log = logger.Global().Module("target")
	}
	return &Client{cfg: cfg, http: hc, log: log}
}

// Query selects items of a collection.
type Query struct {
	// Filter is the target filter object, e.g.
	// {"source_id": {"_eq": "abc-1"}}.
	Filter map[string]any
	Fields []string
	Limit  int
}

func (q Query) values() (url.Values, error) {
	v := url.Values{}
	if len(q.Filter) > 0 {
		f, err := json.Marshal(q.Filter)
		if err != nil {
			return nil, fmt.Errorf("encode filter: %w", err)
		}
		v.Set("filter", string(f))
	}
	if len(q.Fields) > 0 {
		v.Set("fields", strings.Join(q.Fields, ","))
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	return v, nil
}

// Item is one decoded target item.
type Item map[string]any

// ID returns the item's primary key as a string; numeric keys are
// rendered without a fraction.
func (it Item) ID() string {
	return idString(it["id"])
}

// ReadItems runs a query against a collection.
func (c *Client) ReadItems(ctx context.Context, collection string, q Query) ([]Item, error) {
	values, err := q.values()
	if err != nil {
		return nil, errors.New(err).Component("target").Category(errors.CategoryValidation).Build()
	}
	endpoint := c.itemsURL(collection, "") + "?" + values.Encode()

	var items []Item
	err = c.cfg.Retry.Do(ctx, func(ctx context.Context) error {
		obj, err := c.call(ctx, http.MethodGet, endpoint, "", nil, collection)
		if err != nil {
			return err
		}
		if obj == nil {
			items = nil
			return nil
		}
		arr, err := obj.GetObjectArray("data")
		if err != nil {
			return c.decodeError(err, collection)
		}
		items = make([]Item, 0, len(arr))
		for _, o := range arr {
			items = append(items, objectToItem(o))
		}
		return nil
	}, func(err error, attempt int, wait time.Duration) {
		c.log.Warn("retrying target read",
			logger.String("collection", collection),
			logger.Int("attempt", attempt),
			logger.Duration("wait", wait),
			logger.Error(err))
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// FindID returns the id of the first item whose field equals value.
func (c *Client) FindID(ctx context.Context, collection, field string, value any) (string, bool, error) {
	items, err := c.ReadItems(ctx, collection, Query{
		Filter: map[string]any{field: map[string]any{"_eq": value}},
		Fields: []string{"id"},
		Limit:  1,
	})
	if err != nil {
		return "", false, err
	}
	if len(items) == 0 {
		return "", false, nil
	}
	return items[0].ID(), true, nil
}

// CreateItem creates one item and returns its id.
func (c *Client) CreateItem(ctx context.Context, collection string, payload map[string]any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", errors.New(err).Component("target").Category(errors.CategoryValidation).
			Context("collection", collection).Build()
	}
	obj, err := c.call(ctx, http.MethodPost, c.itemsURL(collection, ""), "application/json", body, collection)
	if err != nil {
		return "", err
	}
	return c.dataID(obj, collection)
}

// UpdateItem patches an existing item.
func (c *Client) UpdateItem(ctx context.Context, collection, id string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return errors.New(err).Component("target").Category(errors.CategoryValidation).
			Context("collection", collection).Build()
	}
	_, err = c.call(ctx, http.MethodPatch, c.itemsURL(collection, id), "application/json", body, collection)
	return err
}

func (c *Client) itemsURL(collection, id string) string {
	u := strings.TrimRight(c.cfg.BaseURL, "/") + "/items/" + url.PathEscape(collection)
	if id != "" {
		u += "/" + url.PathEscape(id)
	}
	return u
}

func (c *Client) dataID(obj *jason.Object, collection string) (string, error) {
	if obj == nil {
		return "", c.decodeError(fmt.Errorf("response has no body"), collection)
	}
	v, err := obj.GetValue("data", "id")
	if err != nil {
		return "", c.decodeError(err, collection)
	}
	id := idString(jsonapi.DecodeValue(v))
	if id == "" {
		return "", c.decodeError(fmt.Errorf("response has empty id"), collection)
	}
	return id, nil
}

// call sends a request with the bearer token and decodes the JSON
// response envelope. body may be nil.
func (c *Client) call(ctx context.Context, method, endpoint, contentType string, body []byte, collection string) (*jason.Object, error) {
	var reader io.Reader = http.NoBody
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := c.newRequest(ctx, method, endpoint, contentType, reader)
	if err != nil {
		return nil, err
	}
	return c.send(ctx, req, collection)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint, contentType string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, errors.New(err).Component("target").Category(errors.CategoryValidation).
			Context("url", endpoint).Build()
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	return req, nil
}

func (c *Client) send(ctx context.Context, req *http.Request, collection string) (*jason.Object, error) {
	resp, err := c.http.Do(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.New(err).
			Component("target").
			Category(errors.CategoryNetwork).
			Context("collection", collection).
			NetworkContext(req.URL.Redacted(), 0).
			Build()
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, errors.Newf("target returned status %d: %s", resp.StatusCode, targetMessage(msg)).
			Component("target").
			Category(categoryForStatus(resp.StatusCode)).
			Context("status_code", resp.StatusCode).
			Context("collection", collection).
			Context("method", req.Method).
			Build()
	}

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	obj, err := jason.NewObjectFromReader(resp.Body)
	if err != nil {
		return nil, c.decodeError(err, collection)
	}
	return obj, nil
}

func (c *Client) decodeError(err error, collection string) error {
	return errors.New(err).
		Component("target").
		Category(errors.CategoryFileParsing).
		Context("collection", collection).
		Build()
}

// targetMessage extracts errors[0].message from an error body, falling
// back to the raw text.
func targetMessage(body []byte) string {
	obj, err := jason.NewObjectFromBytes(body)
	if err != nil {
		return strings.TrimSpace(string(body))
	}
	errs, err := obj.GetObjectArray("errors")
	if err != nil || len(errs) == 0 {
		return strings.TrimSpace(string(body))
	}
	msg, err := errs[0].GetString("message")
	if err != nil {
		return strings.TrimSpace(string(body))
	}
	return msg
}

func categoryForStatus(status int) errors.ErrorCategory {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return errors.CategoryConfiguration
	case status == http.StatusNotFound:
		return errors.CategoryNotFound
	case status == http.StatusConflict:
		return errors.CategoryConflict
	case status == http.StatusTooManyRequests:
		return errors.CategoryLimit
	case status >= http.StatusInternalServerError:
		return errors.CategoryNetwork
	default:
		return errors.CategoryValidation
	}
}

func objectToItem(o *jason.Object) Item {
	m := o.Map()
	it := make(Item, len(m))
	for k, v := range m {
		it[k] = jsonapi.DecodeValue(v)
	}
	return it
}

func idString(v any) string {
	switch id := v.(type) {
	case nil:
		return ""
	case string:
		return id
	case json.Number:
		return id.String()
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	default:
		return fmt.Sprint(id)
	}
}
