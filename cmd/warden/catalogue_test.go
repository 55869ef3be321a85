package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCatalogueCheck(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "np3.txt"), []byte("one\n\ntwo\nthree\n"), 0644); err != nil {
		t.Fatal(err)
	}

	out, err := runRoot(t, "", "catalogue", "check", "3", "--dir", dir)
	if err != nil {
		t.Fatalf("catalogue check: %v", err)
	}
	if !strings.Contains(out, "np3.txt: 3 messages") {
		t.Errorf("output = %q", out)
	}
}

func TestCatalogueCheck_Errors(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "np1.txt"), []byte("\n  \n"), 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing", []string{"catalogue", "check", "9", "-d", dir}, "not found"},
		{"empty", []string{"catalogue", "check", "1", "-d", dir}, "empty"},
		{"not a number", []string{"catalogue", "check", "x", "-d", dir}, "not found"},
		{"no argument", []string{"catalogue", "check"}, "accepts 1 arg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runRoot(t, "", tt.args...)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %q, want %q", err, tt.want)
			}
		})
	}
}

func TestCatalogueReplies_BuiltIn(t *testing.T) {
	out, err := runRoot(t, "", "catalogue", "replies")
	if err != nil {
		t.Fatalf("catalogue replies: %v", err)
	}
	if !strings.HasPrefix(out, "built-in: ") {
		t.Errorf("output = %q", out)
	}
}

func TestCatalogueReplies_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "replies.yaml")
	yaml := "triggers:\n  - match: exact\n    word: ping\n    replies: [\"pong\"]\n"
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}
	out, err := runRoot(t, "", "catalogue", "replies", path)
	if err != nil {
		t.Fatalf("catalogue replies: %v", err)
	}
	if !strings.Contains(out, `exact "ping"`) {
		t.Errorf("output = %q", out)
	}
}

func TestCatalogueReplies_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "replies.yaml")
	if err := os.WriteFile(path, []byte("header: \"no placeholder\"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := runRoot(t, "", "catalogue", "replies", path); err == nil {
		t.Fatal("expected validation error")
	}
}
