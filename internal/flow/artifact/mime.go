package artifact

import (
	"bytes"
	"path"
	"strings"
)

const genericMIME = "application/octet-stream"

// magic signatures checked in order. RIFF containers need a second probe of
// bytes 8..11 to split WAV from WebP.
var signatures = []struct {
	prefix []byte
	mime   string
}{
	{[]byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, "image/png"},
	{[]byte{0xFF, 0xD8, 0xFF}, "image/jpeg"},
	{[]byte{0x47, 0x49, 0x46, 0x38}, "image/gif"},
	{[]byte{0x25, 0x50, 0x44, 0x46}, "application/pdf"},
}

var extensionMIME = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
	".pdf":  "application/pdf",
	".wav":  "audio/wav",
	".mp3":  "audio/mpeg",
	".json": "application/json",
	".txt":  "text/plain",
	".md":   "text/markdown",
	".html": "text/html",
	".csv":  "text/csv",
}

// DetectMIME resolves the MIME type of a blob. Magic bytes win; a specific
// caller-provided hint (a full MIME type or a filename/extension) is trusted
// next; everything else is application/octet-stream. A hint of the generic
// type is ignored so sniffing still gets a chance.
func DetectMIME(blob []byte, hint string) string {
	if m := sniff(blob); m != "" {
		return m
	}
	hint = strings.TrimSpace(hint)
	if hint == "" {
		return genericMIME
	}
	if strings.Contains(hint, "/") {
		return hint
	}
	ext := strings.ToLower(path.Ext(hint))
	if ext == "" {
		ext = "." + strings.ToLower(hint)
	}
	if m, ok := extensionMIME[ext]; ok {
		return m
	}
	return genericMIME
}

func sniff(blob []byte) string {
	for _, sig := range signatures {
		if bytes.HasPrefix(blob, sig.prefix) {
			return sig.mime
		}
	}
	// RIFF: 52 49 46 46, format tag at bytes 8..11.
	if len(blob) >= 12 && bytes.HasPrefix(blob, []byte{0x52, 0x49, 0x46, 0x46}) {
		switch string(blob[8:12]) {
		case "WAVE":
			return "audio/wav"
		case "WEBP":
			return "image/webp"
		}
	}
	return ""
}
