package validation

import (
	"mime"
	"path/filepath"
	"strings"
)

type Reason string

const (
	ReasonTooLarge        Reason = "too-large"
	ReasonUnsupportedType Reason = "unsupported-type"
	ReasonInvalidSize     Reason = "invalid-size"
)

const OctetStream = "application/octet-stream"

// Descriptor is what the client tells us about one submitted file.
type Descriptor struct {
	Name              string
	DeclaredMediaType string
	SizeBytes         int64
}

type Policy struct {
	AllowedMediaTypes map[string]bool
	MaxBytes          int64
	// AllowExtensionFallback lets a file whose declared type is not allowed
	// through when its extension is listed in AllowedExtensions.
	AllowExtensionFallback bool
	// AllowedExtensions maps a lower-case extension including the dot to the
	// media type it implies.
	AllowedExtensions map[string]string
}

// DefaultPolicy accepts PDF, plain text and DOCX up to 10 MiB.
func DefaultPolicy() Policy {
	return Policy{
		AllowedMediaTypes: map[string]bool{
			"application/pdf": true,
			"text/plain":      true,
			"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
		},
		MaxBytes:               10 << 20,
		AllowExtensionFallback: true,
		AllowedExtensions: map[string]string{
			".pdf":  "application/pdf",
			".txt":  "text/plain",
			".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		},
	}
}

type Decision struct {
	Accepted bool
	Reason   Reason
	// MediaType is the type to record for an accepted file.
	MediaType string
}

func accept(mediaType string) Decision {
	return Decision{Accepted: true, MediaType: mediaType}
}

func reject(reason Reason) Decision {
	return Decision{Reason: reason}
}

// Validate classifies d under p. Size is checked before type, so an oversized
// file is always reported as too-large.
func Validate(d Descriptor, p Policy) Decision {
	if d.SizeBytes < 0 {
		return reject(ReasonInvalidSize)
	}
	if d.SizeBytes > p.MaxBytes {
		return reject(ReasonTooLarge)
	}

	declared := NormalizeMediaType(d.DeclaredMediaType)
	if declared != "" && p.AllowedMediaTypes[declared] {
		return accept(declared)
	}

	if p.AllowExtensionFallback {
		ext := strings.ToLower(filepath.Ext(d.Name))
		if mediaType, ok := p.AllowedExtensions[ext]; ok && ext != "" {
			return accept(mediaType)
		}
	}

	return reject(ReasonUnsupportedType)
}

// NormalizeMediaType lower-cases a media type and drops its parameters.
// Unparseable values come back empty.
func NormalizeMediaType(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(v)
	if err != nil && err != mime.ErrInvalidMediaParameter {
		return ""
	}
	return mediaType
}
