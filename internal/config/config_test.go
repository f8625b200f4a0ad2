package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/linyh/webrag/internal/log"
)

// writeFile writes a config file, creating parent directories as needed.
func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// startDir creates root/a/b under a temp dir and returns all three levels.
func startDir(t *testing.T) (root, mid, start string) {
	t.Helper()
	root = t.TempDir()
	mid = filepath.Join(root, "a")
	start = filepath.Join(mid, "b")
	if err := os.MkdirAll(start, 0o755); err != nil {
		t.Fatal(err)
	}
	return root, mid, start
}

func TestLoad_Defaults(t *testing.T) {
	_, _, start := startDir(t)

	r, err := Load(start, log.NewNop())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if got := r.GetString("model_name"); got != "qwen3:8b" {
		t.Errorf("model_name = %q", got)
	}
	if got := r.GetInt("model_port"); got != 11434 {
		t.Errorf("model_port = %d", got)
	}
	if got := r.GetInt("chunk_size"); got != 1000 {
		t.Errorf("chunk_size = %d", got)
	}
	if got := r.GetStringSlice("source_urls"); len(got) != 2 {
		t.Errorf("source_urls = %v", got)
	}
	if err := r.Validate(); err != nil {
		t.Errorf("Validate with defaults: %v", err)
	}
}

func TestLoad_Precedence(t *testing.T) {
	t.Run("parent file overrides defaults", func(t *testing.T) {
		_, mid, start := startDir(t)
		writeFile(t, filepath.Join(mid, "config.json"), `{"model_name": "from-parent"}`)

		r, err := Load(start, log.NewNop())
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if got := r.GetString("model_name"); got != "from-parent" {
			t.Errorf("model_name = %q", got)
		}
	})

	t.Run("nearer parent wins over farther", func(t *testing.T) {
		root, mid, start := startDir(t)
		writeFile(t, filepath.Join(root, "config.json"), `{"model_name": "far", "top_k": 9}`)
		writeFile(t, filepath.Join(mid, "config.json"), `{"model_name": "near"}`)

		r, err := Load(start, log.NewNop())
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if got := r.GetString("model_name"); got != "near" {
			t.Errorf("model_name = %q", got)
		}
		// Non-conflicting keys from the farther file still apply.
		if got := r.GetInt("top_k"); got != 9 {
			t.Errorf("top_k = %d", got)
		}
	})

	t.Run("local file overrides parents", func(t *testing.T) {
		_, mid, start := startDir(t)
		writeFile(t, filepath.Join(mid, "config.json"), `{"model_name": "parent"}`)
		writeFile(t, filepath.Join(start, "config.json"), `{"model_name": "local"}`)

		r, err := Load(start, log.NewNop())
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if got := r.GetString("model_name"); got != "local" {
			t.Errorf("model_name = %q", got)
		}
	})

	t.Run("env overrides everything", func(t *testing.T) {
		_, _, start := startDir(t)
		writeFile(t, filepath.Join(start, "config.json"), `{"model_name": "local"}`)
		t.Setenv("WEBRAG_MODEL_NAME", "from-env")

		r, err := Load(start, log.NewNop())
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if got := r.GetString("model_name"); got != "from-env" {
			t.Errorf("model_name = %q", got)
		}
	})

	t.Run("module section overrides its own file", func(t *testing.T) {
		_, _, start := startDir(t)
		writeFile(t, filepath.Join(start, "config.json"),
			`{"model_name": "top-level", "webrag": {"model_name": "sectioned"}}`)

		r, err := Load(start, log.NewNop())
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if got := r.GetString("model_name"); got != "sectioned" {
			t.Errorf("model_name = %q", got)
		}
	})
}

func TestLoad_LocalCandidates(t *testing.T) {
	t.Run("first candidate wins", func(t *testing.T) {
		_, _, start := startDir(t)
		writeFile(t, filepath.Join(start, "config", "config.json"), `{"model_name": "nested"}`)
		writeFile(t, filepath.Join(start, ".webrag.json"), `{"model_name": "dotfile"}`)

		r, err := Load(start, log.NewNop())
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if got := r.GetString("model_name"); got != "nested" {
			t.Errorf("model_name = %q, want the earlier candidate", got)
		}
	})

	t.Run("malformed candidate is skipped", func(t *testing.T) {
		_, _, start := startDir(t)
		writeFile(t, filepath.Join(start, "config.json"), `{not json`)
		writeFile(t, filepath.Join(start, ".webrag.json"), `{"model_name": "fallback"}`)

		r, err := Load(start, log.NewNop())
		if err != nil {
			t.Fatalf("Load must tolerate malformed files: %v", err)
		}
		if got := r.GetString("model_name"); got != "fallback" {
			t.Errorf("model_name = %q", got)
		}
		for _, src := range r.Sources() {
			if strings.HasSuffix(src, filepath.Join(start, "config.json")) {
				t.Errorf("malformed file listed as a source: %v", r.Sources())
			}
		}
	})
}

func TestValidate_MissingRequired(t *testing.T) {
	_, _, start := startDir(t)
	t.Setenv("WEBRAG_MODEL_NAME", "   ")
	t.Setenv("WEBRAG_MODEL_HOST", "")

	r, err := Load(start, log.NewNop())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	err = r.Validate()
	if !errors.Is(err, ErrMissingRequired) {
		t.Fatalf("err = %v, want ErrMissingRequired", err)
	}
	// Every missing key is named, not just the first.
	if !strings.Contains(err.Error(), "model_name") || !strings.Contains(err.Error(), "model_host") {
		t.Errorf("error does not name all missing keys: %v", err)
	}
	if strings.Contains(err.Error(), "model_port") {
		t.Errorf("error names a present key: %v", err)
	}
}

func TestReload(t *testing.T) {
	_, _, start := startDir(t)
	writeFile(t, filepath.Join(start, "config.json"), `{"model_name": "before"}`)

	r, err := Load(start, log.NewNop())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := r.GetString("model_name"); got != "before" {
		t.Fatalf("model_name = %q", got)
	}

	writeFile(t, filepath.Join(start, "config.json"), `{"model_name": "after"}`)
	merged, err := r.Reload()
	if err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if got := r.GetString("model_name"); got != "after" {
		t.Errorf("model_name = %q after reload", got)
	}
	if merged["model_name"] != "after" {
		t.Errorf("returned map has model_name = %v", merged["model_name"])
	}
}

func TestSafeConfig(t *testing.T) {
	_, _, start := startDir(t)
	t.Setenv("WEBRAG_API_KEY", "supersecret")
	t.Setenv("DATABASE_URL", "postgres://user:realpassword@db:5432/webrag")

	r, err := Load(start, log.NewNop())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	safe := r.SafeConfig()
	if safe["api_key"] != maskedValue {
		t.Errorf("api_key = %v, want masked", safe["api_key"])
	}
	if safe["database_url"] != maskedValue {
		t.Errorf("database_url = %v, want masked", safe["database_url"])
	}
	if safe["model_name"] == maskedValue {
		t.Error("non-sensitive key was masked")
	}

	// Stringer must never leak the real values either.
	s := r.String()
	if strings.Contains(s, "supersecret") || strings.Contains(s, "realpassword") {
		t.Errorf("String() leaks secrets: %s", s)
	}
}
