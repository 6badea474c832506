package identity

import (
	"strings"
	"testing"

	"rescue_scrooper/models"
)

func TestExternalID(t *testing.T) {
	t.Run("keeps source id", func(t *testing.T) {
		got := ExternalID(&models.RawAnimal{ExternalID: "  A-123 ", URL: "https://x.org/a"})
		if got != "A-123" {
			t.Errorf("ExternalID() = %q, want A-123", got)
		}
	})

	t.Run("url variants collapse", func(t *testing.T) {
		a := ExternalID(&models.RawAnimal{URL: "https://Rescue.ORG/dogs/rex/?utm_source=fb#photos"})
		b := ExternalID(&models.RawAnimal{URL: "https://rescue.org/dogs/rex"})
		if a != b {
			t.Errorf("ids differ: %q vs %q", a, b)
		}
		if !strings.HasPrefix(a, "u-") {
			t.Errorf("url-derived id %q missing u- prefix", a)
		}
	})

	t.Run("different urls differ", func(t *testing.T) {
		a := ExternalID(&models.RawAnimal{URL: "https://rescue.org/dogs/rex"})
		b := ExternalID(&models.RawAnimal{URL: "https://rescue.org/dogs/max"})
		if a == b {
			t.Error("different URLs produced the same id")
		}
	})

	t.Run("name fallback", func(t *testing.T) {
		a := ExternalID(&models.RawAnimal{Name: "Rex!", Breed: "Lab Mix"})
		b := ExternalID(&models.RawAnimal{Name: "rex", Breed: "lab  mix"})
		if a != b || !strings.HasPrefix(a, "n-") {
			t.Errorf("name fallback ids = %q, %q", a, b)
		}
	})

	t.Run("empty record", func(t *testing.T) {
		if got := ExternalID(&models.RawAnimal{}); got != "" {
			t.Errorf("ExternalID(empty) = %q, want empty", got)
		}
	})
}

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"  Golden   Retriever ", "golden retriever"},
		{"Husky/Shepherd", "husky shepherd"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeText(tt.in); got != tt.want {
			t.Errorf("NormalizeText(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
