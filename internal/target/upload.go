package target

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/tphakala/cmsbridge/internal/errors"
)

// FileUpload describes an asset to store on the target.
type FileUpload struct {
	Data     []byte
	Filename string
	MimeType string
	Title    string
	Folder   string

	// UploadedBy is the target user id of the original uploader, if known.
	UploadedBy string
	UploadedOn time.Time
	ModifiedOn time.Time
}

// UploadFile posts f as multipart form data to /files and returns the new
// file id. Metadata fields precede the file part because the target reads
// them before streaming the body.
func (c *Client) UploadFile(ctx context.Context, f FileUpload) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fields := []struct{ name, value string }{
		{"title", f.Title},
		{"filename_download", f.Filename},
		{"folder", f.Folder},
		{"uploaded_by", f.UploadedBy},
		{"uploaded_on", formatTime(f.UploadedOn)},
		{"modified_on", formatTime(f.ModifiedOn)},
	}
	for _, field := range fields {
		if field.value == "" {
			continue
		}
		if err := mw.WriteField(field.name, field.value); err != nil {
			return "", c.uploadError(err, f)
		}
	}

	mimeType := f.MimeType
	if mimeType == "" {
		mimeType = http.DetectContentType(f.Data)
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="`+escapeQuotes(f.Filename)+`"`)
	h.Set("Content-Type", mimeType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return "", c.uploadError(err, f)
	}
	if _, err := part.Write(f.Data); err != nil {
		return "", c.uploadError(err, f)
	}
	if err := mw.Close(); err != nil {
		return "", c.uploadError(err, f)
	}

	req, err := c.newRequest(ctx, http.MethodPost, strings.TrimRight(c.cfg.BaseURL, "/")+"/files", mw.FormDataContentType(), &buf)
	if err != nil {
		return "", err
	}
	obj, err := c.send(ctx, req, "files")
	if err != nil {
		return "", err
	}
	return c.dataID(obj, "files")
}

func (c *Client) uploadError(err error, f FileUpload) error {
	return errors.New(err).
		Component("target").
		Category(errors.CategoryMediaUpload).
		Context("filename", f.Filename).
		Build()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
