package constants

import "strings"

// DocumentFormat is stored in documents.format and ocr_results.format.
type DocumentFormat string

const (
	FormatPDF   DocumentFormat = "PDF"
	FormatImage DocumentFormat = "IMAGE"
	FormatText  DocumentFormat = "TXT"
)

// DocumentFormats holds the allowed values for the format columns.
var DocumentFormats = []DocumentFormat{FormatPDF, FormatImage, FormatText}

// AllowedExtensions holds the default allowed file extensions for prescription ingestion.
var AllowedExtensions = map[string]struct{}{
	"pdf":  {},
	"jpg":  {},
	"jpeg": {},
	"png":  {},
	"heic": {},
	"heif": {},
	"txt":  {},
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// IsHEICExt reports whether ext (with or without dot) is a HEIC/HEIF image.
func IsHEICExt(ext string) bool {
	switch NormalizeExt(ext) {
	case "heic", "heif":
		return true
	}
	return false
}

// MapExtToFormat maps a file extension to its DocumentFormat.
func MapExtToFormat(ext string) (DocumentFormat, bool) {
	switch NormalizeExt(ext) {
	case "pdf":
		return FormatPDF, true
	case "jpg", "jpeg", "png", "heic", "heif":
		return FormatImage, true
	case "txt":
		return FormatText, true
	}
	return "", false
}
