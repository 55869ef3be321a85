package command

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultCatalogue_Valid(t *testing.T) {
	if err := DefaultCatalogue().Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestLoadCatalogueFile_OverridesKeepDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persona.yaml")
	data := `
header: "<< {name} >>"
replies:
  refusal: "Nope."
triggers:
  - match: exact
    word: hello
    replies: ["hi"]
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	cat, err := LoadCatalogueFile(path)
	if err != nil {
		t.Fatalf("LoadCatalogueFile: %v", err)
	}
	if cat.Header != "<< {name} >>" {
		t.Errorf("Header = %q", cat.Header)
	}
	if cat.Replies.Refusal != "Nope." {
		t.Errorf("Refusal = %q", cat.Replies.Refusal)
	}
	if cat.Replies.Help != DefaultCatalogue().Replies.Help {
		t.Error("Help lost its default")
	}
	if len(cat.Triggers) != 1 || cat.Triggers[0].Word != "hello" {
		t.Errorf("Triggers = %+v, want replaced list", cat.Triggers)
	}
}

func TestLoadCatalogueFile_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	data := `
header: "no placeholder"
admin_mention: []
triggers:
  - match: fuzzy
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := LoadCatalogueFile(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"header", "admin_mention", "triggers[0]: match", "triggers[0]: word"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

func TestLoadCatalogueFile_Missing(t *testing.T) {
	if _, err := LoadCatalogueFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestExpand(t *testing.T) {
	got := Expand("{a} and {b} and {a}", "a", "x", "b", "y")
	if got != "x and y and x" {
		t.Errorf("Expand = %q", got)
	}
	if got := Expand("{a}"); got != "{a}" {
		t.Errorf("Expand without pairs = %q", got)
	}
}
