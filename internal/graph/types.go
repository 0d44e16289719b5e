package graph

import (
	"encoding/base64"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"mailingest-engine/internal/domain"
)

// FileAttachmentType is the only attachment type whose bytes are inlined.
const FileAttachmentType = "#microsoft.graph.fileAttachment"

type EmailAddress struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

type Recipient struct {
	EmailAddress EmailAddress `json:"emailAddress"`
}

// Message is the subset of a Graph message the pipeline needs. Descriptive
// fields are only used for filename templating and logs.
type Message struct {
	ID               string    `json:"id"`
	Subject          string    `json:"subject"`
	HasAttachments   bool      `json:"hasAttachments"`
	ReceivedDateTime time.Time `json:"receivedDateTime"`
	From             Recipient `json:"from"`
}

type Attachment struct {
	ODataType    string `json:"@odata.type"`
	ID           string `json:"id"`
	Name         string `json:"name"`
	ContentType  string `json:"contentType"`
	Size         int64  `json:"size"`
	ContentBytes string `json:"contentBytes"`
}

// IsFile reports whether the attachment carries inline file content.
func (a Attachment) IsFile() bool {
	return a.ODataType == FileAttachmentType && a.ContentBytes != ""
}

// IsHTML reports whether the attachment looks like an HTML document.
func (a Attachment) IsHTML() bool {
	ct := strings.ToLower(a.ContentType)
	if strings.HasPrefix(ct, "text/html") || strings.HasPrefix(ct, "application/xhtml") {
		return true
	}
	switch strings.ToLower(filepath.Ext(a.Name)) {
	case ".htm", ".html":
		return true
	}
	return false
}

// Content decodes the base64 payload.
func (a Attachment) Content() ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(a.ContentBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: decode attachment %q: %v", domain.ErrMalformedAttachment, a.Name, err)
	}
	return b, nil
}

type page[T any] struct {
	Value    []T    `json:"value"`
	NextLink string `json:"@odata.nextLink"`
}
