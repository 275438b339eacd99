package transit

import (
	"bytes"
	"mime"
	"net/http"
	"strings"
)

const (
	FormatAuto = "auto"
	FormatJSON = "json"
	FormatXML  = "xml"
)

// detectFormat picks the decoder for a response body: explicit configuration
// first, then the Content-Type header, then sniffing the body.
func detectFormat(explicit, contentType string, body []byte) string {
	switch explicit {
	case FormatJSON, FormatXML:
		return explicit
	}

	if contentType != "" {
		if mt, _, err := mime.ParseMediaType(contentType); err == nil {
			switch {
			case strings.HasSuffix(mt, "json"):
				return FormatJSON
			case strings.HasSuffix(mt, "xml"):
				return FormatXML
			}
		}
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '<' {
		return FormatXML
	}
	if strings.Contains(http.DetectContentType(trimmed), "xml") {
		return FormatXML
	}
	return FormatJSON
}
