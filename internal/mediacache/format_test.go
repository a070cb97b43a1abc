package mediacache

import "testing"

func TestDetectFormat(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")
	if f := DetectFormat(png); f.MIME != "image/png" || f.Ext != ".png" || f.HEIF {
		t.Fatalf("unexpected png detection %+v", f)
	}
	if f := DetectFormat(heifSample); !f.HEIF || f.MIME != "image/heic" {
		t.Fatalf("expected heif detection, got %+v", f)
	}
	avif := append([]byte{0, 0, 0, 0x18}, []byte("ftypavif")...)
	avif = append(avif, make([]byte, 12)...)
	if f := DetectFormat(avif); f.HEIF {
		t.Fatalf("avif is not heif: %+v", f)
	}
}

func TestImpliesHEIF(t *testing.T) {
	cases := []struct {
		url      string
		declared string
		want     bool
	}{
		{"https://cdn.example.com/p/photo.heic?x=1", "", true},
		{"https://cdn.example.com/p/photo.HEIF", "", true},
		{"https://cdn.example.com/p/photo.jpg", "image/heic", true},
		{"https://cdn.example.com/p/photo.jpg", "image/jpeg", false},
		{"https://cdn.example.com/p/heic/photo", "", false},
	}
	for _, tc := range cases {
		if got := ImpliesHEIF(tc.url, tc.declared); got != tc.want {
			t.Fatalf("ImpliesHEIF(%q,%q)=%v want %v", tc.url, tc.declared, got, tc.want)
		}
	}
}
