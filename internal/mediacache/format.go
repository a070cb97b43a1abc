package mediacache

import (
	"bytes"
	"encoding/hex"
	"net/url"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// heifBrands are the ftyp major brands of HEIF/HEIC stills and sequences.
var heifBrands = map[string]struct{}{
	"heic": {}, "heix": {}, "heim": {}, "heis": {},
	"hevc": {}, "hevx": {}, "mif1": {}, "msf1": {},
}

// Format is what the bytes actually are, regardless of URL or headers.
type Format struct {
	MIME string
	Ext  string
	HEIF bool
}

// DetectFormat sniffs the magic bytes of body.
func DetectFormat(body []byte) Format {
	detected := mimetype.Detect(body)
	f := Format{
		MIME: detected.String(),
		Ext:  detected.Extension(),
		HEIF: hasHEIFBrand(body),
	}
	if i := strings.IndexByte(f.MIME, ';'); i >= 0 {
		f.MIME = strings.TrimSpace(f.MIME[:i])
	}
	if f.HEIF {
		f.MIME = "image/heic"
		f.Ext = ".heic"
	}
	return f
}

// hasHEIFBrand checks the ISO-BMFF ftyp box: size(4) "ftyp" brand(4).
func hasHEIFBrand(body []byte) bool {
	if len(body) < 12 || !bytes.Equal(body[4:8], []byte("ftyp")) {
		return false
	}
	_, ok := heifBrands[string(body[8:12])]
	return ok
}

// ImpliesHEIF reports whether the URL extension or the declared content
// type claims the resource is HEIC/HEIF.
func ImpliesHEIF(sourceURL, declaredType string) bool {
	declared := strings.ToLower(strings.TrimSpace(declaredType))
	if strings.HasPrefix(declared, "image/heic") || strings.HasPrefix(declared, "image/heif") {
		return true
	}
	switch urlExt(sourceURL) {
	case ".heic", ".heif":
		return true
	}
	return false
}

func urlExt(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(path.Ext(parsed.Path))
}

// Analysis is the diagnostic snapshot logged for format anomalies.
type Analysis struct {
	Size         int    `json:"size"`
	DetectedMIME string `json:"detectedMime"`
	DetectedExt  string `json:"detectedExt"`
	DeclaredType string `json:"declaredType"`
	URLExt       string `json:"urlExt"`
	HeadHex      string `json:"headHex"`
}

func analyze(body []byte, f Format, sourceURL, declaredType string) Analysis {
	head := body
	if len(head) > 16 {
		head = head[:16]
	}
	return Analysis{
		Size:         len(body),
		DetectedMIME: f.MIME,
		DetectedExt:  f.Ext,
		DeclaredType: declaredType,
		URLExt:       urlExt(sourceURL),
		HeadHex:      hex.EncodeToString(head),
	}
}

func (a Analysis) fields() map[string]any {
	return map[string]any{
		"size":          a.Size,
		"detected_mime": a.DetectedMIME,
		"detected_ext":  a.DetectedExt,
		"declared_type": a.DeclaredType,
		"url_ext":       a.URLExt,
		"head_hex":      a.HeadHex,
	}
}
