package archive

import (
	"strings"
	"testing"

	"github.com/pranaysuyash/photo-search-sub010/internal/config"
)

func TestNewRequiresEndpoint(t *testing.T) {
	_, err := New(config.Archive{})
	if err == nil {
		t.Fatalf("expected error for missing endpoint")
	}
	if !strings.Contains(err.Error(), "endpoint") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestKeyUsesPrefix(t *testing.T) {
	a, err := New(config.Archive{Endpoint: "localhost:9000", Prefix: "models/"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := a.key("weights.json"); got != "models/weights.json" {
		t.Fatalf("unexpected key: %s", got)
	}

	a, err = New(config.Archive{Endpoint: "localhost:9000"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := a.key("weights.json"); got != "weights.json" {
		t.Fatalf("unexpected key without prefix: %s", got)
	}
}
