package target

import (
	"encoding/json"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/cmsbridge/internal/errors"
	"github.com/tphakala/cmsbridge/internal/httpclient"
	"github.com/tphakala/cmsbridge/internal/logger"
	"github.com/tphakala/cmsbridge/internal/retry"
)

const baseURL = "https://target.example"

func newMockedClient(t *testing.T) (*Client, *httpmock.MockTransport) {
	t.Helper()
	hc := httpclient.New(nil)
	mock := httpmock.NewMockTransport()
	hc.HTTPClient().Transport = mock

	c := New(Config{
		BaseURL: baseURL,
		Token:   "static-token",
		Retry:   retry.NewLinear(2, time.Millisecond),
	}, hc, logger.NewSlogLogger(io.Discard, logger.LogLevelError, nil))
	return c, mock
}

func TestFindID_Found(t *testing.T) {
	t.Parallel()

	c, mock := newMockedClient(t)
	mock.RegisterResponder(http.MethodGet, baseURL+"/items/companies",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "Bearer static-token", req.Header.Get("Authorization"))
			assert.JSONEq(t, `{"source_id":{"_eq":"abc-1"}}`, req.URL.Query().Get("filter"))
			assert.Equal(t, "id", req.URL.Query().Get("fields"))
			assert.Equal(t, "1", req.URL.Query().Get("limit"))
			return httpmock.NewStringResponse(http.StatusOK, `{"data":[{"id":17}]}`), nil
		})

	id, found, err := c.FindID(t.Context(), "companies", "source_id", "abc-1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "17", id)
}

func TestFindID_NotFound(t *testing.T) {
	t.Parallel()

	c, mock := newMockedClient(t)
	mock.RegisterResponder(http.MethodGet, baseURL+"/items/companies",
		httpmock.NewStringResponder(http.StatusOK, `{"data":[]}`))

	id, found, err := c.FindID(t.Context(), "companies", "source_id", "abc-1")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, id)
}

func TestReadItems_RetriesServerError(t *testing.T) {
	t.Parallel()

	c, mock := newMockedClient(t)
	mock.RegisterResponder(http.MethodGet, baseURL+"/items/categories",
		httpmock.NewStringResponder(http.StatusBadGateway, `bad gateway`).
			Then(httpmock.NewStringResponder(http.StatusOK, `{"data":[{"id":"uuid-1","name":"Steel"}]}`)))

	items, err := c.ReadItems(t.Context(), "categories", Query{Limit: 5})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "uuid-1", items[0].ID())
	assert.Equal(t, "Steel", items[0]["name"])
	assert.Equal(t, 2, mock.GetTotalCallCount())
}

func TestCreateItem(t *testing.T) {
	t.Parallel()

	c, mock := newMockedClient(t)
	mock.RegisterResponder(http.MethodPost, baseURL+"/items/companies",
		func(req *http.Request) (*http.Response, error) {
			var body map[string]any
			require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
			assert.Equal(t, "abc-1", body["source_id"])
			assert.Nil(t, body["logo"])
			assert.Contains(t, body, "logo")
			return httpmock.NewStringResponse(http.StatusOK, `{"data":{"id":42,"source_id":"abc-1"}}`), nil
		})

	id, err := c.CreateItem(t.Context(), "companies", map[string]any{"source_id": "abc-1", "logo": nil})
	require.NoError(t, err)
	assert.Equal(t, "42", id)
}

func TestCreateItem_NotRetried(t *testing.T) {
	t.Parallel()

	c, mock := newMockedClient(t)
	mock.RegisterResponder(http.MethodPost, baseURL+"/items/companies",
		httpmock.NewStringResponder(http.StatusServiceUnavailable, `{"errors":[{"message":"try later"}]}`))

	_, err := c.CreateItem(t.Context(), "companies", map[string]any{"source_id": "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "try later")
	assert.Equal(t, 1, mock.GetTotalCallCount())
}

func TestCreateItem_ValidationError(t *testing.T) {
	t.Parallel()

	c, mock := newMockedClient(t)
	mock.RegisterResponder(http.MethodPost, baseURL+"/items/companies",
		httpmock.NewStringResponder(http.StatusBadRequest, `{"errors":[{"message":"Value for field \"name\" is required"}]}`))

	_, err := c.CreateItem(t.Context(), "companies", map[string]any{})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))

	var ee *errors.EnhancedError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, http.StatusBadRequest, ee.GetContext()["status_code"])
}

func TestUpdateItem(t *testing.T) {
	t.Parallel()

	c, mock := newMockedClient(t)
	mock.RegisterResponder(http.MethodPatch, baseURL+"/items/projects/7",
		httpmock.NewStringResponder(http.StatusNoContent, ``))

	require.NoError(t, c.UpdateItem(t.Context(), "projects", "7", map[string]any{"cover": "f-1"}))
}

func TestUploadFile(t *testing.T) {
	t.Parallel()

	c, mock := newMockedClient(t)
	uploaded := time.Date(2021, 3, 4, 5, 6, 7, 0, time.UTC)

	mock.RegisterResponder(http.MethodPost, baseURL+"/files",
		func(req *http.Request) (*http.Response, error) {
			mediaType, params, err := mime.ParseMediaType(req.Header.Get("Content-Type"))
			require.NoError(t, err)
			assert.Equal(t, "multipart/form-data", mediaType)

			mr := multipart.NewReader(req.Body, params["boundary"])
			var order []string
			values := map[string]string{}
			for {
				part, err := mr.NextPart()
				if err == io.EOF {
					break
				}
				require.NoError(t, err)
				data, _ := io.ReadAll(part)
				order = append(order, part.FormName())
				values[part.FormName()] = string(data)
				if part.FormName() == "file" {
					assert.Equal(t, "Café logo.png", part.FileName())
					assert.Equal(t, "image/png", part.Header.Get("Content-Type"))
				}
			}

			assert.Equal(t, "file", order[len(order)-1], "file part comes last")
			assert.Equal(t, "Café logo", values["title"])
			assert.Equal(t, "Café logo.png", values["filename_download"])
			assert.Equal(t, "folder-logos", values["folder"])
			assert.Equal(t, "2021-03-04T05:06:07Z", values["uploaded_on"])
			assert.NotContains(t, values, "uploaded_by")
			assert.Equal(t, "PNGDATA", values["file"])
			return httpmock.NewStringResponse(http.StatusOK, `{"data":{"id":"file-uuid"}}`), nil
		})

	id, err := c.UploadFile(t.Context(), FileUpload{
		Data:       []byte("PNGDATA"),
		Filename:   "Café logo.png",
		MimeType:   "image/png",
		Title:      "Café logo",
		Folder:     "folder-logos",
		UploadedOn: uploaded,
	})
	require.NoError(t, err)
	assert.Equal(t, "file-uuid", id)
}

func TestUploadFile_Rejected(t *testing.T) {
	t.Parallel()

	c, mock := newMockedClient(t)
	mock.RegisterResponder(http.MethodPost, baseURL+"/files",
		httpmock.NewStringResponder(http.StatusRequestEntityTooLarge, `too large`))

	_, err := c.UploadFile(t.Context(), FileUpload{Data: []byte("x"), Filename: "big.bin"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "413")
}

func TestItemIDs_NumericAndString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"integer", `12`, "12"},
		{"large integer", `9007199254740993`, "9007199254740993"},
		{"uuid", `"6f1c2b1e-8a4d-4c55-9d0e-3b2a1f7e9c01"`, "6f1c2b1e-8a4d-4c55-9d0e-3b2a1f7e9c01"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c, mock := newMockedClient(t)
			mock.RegisterResponder(http.MethodGet, baseURL+"/items/companies",
				httpmock.NewStringResponder(http.StatusOK, `{"data":[{"id":`+tt.raw+`}]}`))
			mock.RegisterResponder(http.MethodPost, baseURL+"/items/companies",
				httpmock.NewStringResponder(http.StatusOK, `{"data":{"id":`+tt.raw+`,"source_id":"abc-1"}}`))

			id, found, err := c.FindID(t.Context(), "companies", "source_id", "abc-1")
			require.NoError(t, err)
			assert.True(t, found)
			assert.Equal(t, tt.want, id)

			id, err = c.CreateItem(t.Context(), "companies", map[string]any{"source_id": "abc-1"})
			require.NoError(t, err)
			assert.Equal(t, tt.want, id)
		})
	}
}

func TestCreateItem_NullID(t *testing.T) {
	t.Parallel()

	c, mock := newMockedClient(t)
	mock.RegisterResponder(http.MethodPost, baseURL+"/items/companies",
		httpmock.NewStringResponder(http.StatusOK, `{"data":{"id":null}}`))

	_, err := c.CreateItem(t.Context(), "companies", map[string]any{"source_id": "abc-1"})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryFileParsing))
}

func TestIDString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "12", idString(json.Number("12")))
	assert.Equal(t, "12", idString(float64(12)))
	assert.Equal(t, "a", idString("a"))
	assert.Empty(t, idString(nil))
}
