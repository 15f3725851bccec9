package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, doc string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.json")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

const validDoc = `{
  "server": {"port": 18800, "host": "localhost"},
  "providers": {
    "local": {
      "protocol": "ollama",
      "api_base_url": "http://localhost:11434",
      "api_key": "unused",
      "models": ["llama3"]
    },
    "upstream": {
      "protocol": "openai-compatible",
      "api_base_url": "https://api.example.com/v1",
      "api_key": "${UPSTREAM_API_KEY}",
      "models": ["gpt-test", "gpt-test-mini"]
    }
  },
  "routing": {
    "default": "local,llama3",
    "tooluse": ["upstream,gpt-test", "local,llama3"]
  },
  "debug": {"enabled": false, "logLevel": "info", "logDir": ""}
}`

func TestPreprocess_Success(t *testing.T) {
	t.Setenv("UPSTREAM_API_KEY", "sk-test-123")
	path := writeConfig(t, validDoc)

	table, cat, err := Preprocess(path)
	if err != nil {
		t.Fatalf("Preprocess failed: %v", err)
	}
	if table.DefaultRoute != "default" {
		t.Errorf("expected default route name 'default', got %q", table.DefaultRoute)
	}
	if len(table.Routes["tooluse"]) != 2 {
		t.Fatalf("expected 2 fallback routes for tooluse, got %d", len(table.Routes["tooluse"]))
	}
	if table.Routes["tooluse"][0].Provider != "upstream" || table.Routes["tooluse"][0].Model != "gpt-test" {
		t.Errorf("expected priority-ordered first route upstream/gpt-test, got %+v", table.Routes["tooluse"][0])
	}
	if cat.Providers["upstream"].APIKeys[0] != "sk-test-123" {
		t.Errorf("expected ${UPSTREAM_API_KEY} to resolve, got %q", cat.Providers["upstream"].APIKeys[0])
	}
}

func TestPreprocess_MissingEnvVarFailsClosed(t *testing.T) {
	os.Unsetenv("UPSTREAM_API_KEY")
	path := writeConfig(t, validDoc)

	_, _, err := Preprocess(path)
	if err == nil {
		t.Fatal("expected EnvironmentVariableMissing error, got nil")
	}
	if !strings.Contains(err.Error(), "EnvironmentVariableMissing") {
		t.Errorf("expected EnvironmentVariableMissing error, got: %v", err)
	}
}

func TestPreprocess_MissingFile(t *testing.T) {
	_, _, err := Preprocess(filepath.Join(t.TempDir(), "does-not-exist.json"))
	if err == nil || !strings.Contains(err.Error(), "MissingConfig") {
		t.Errorf("expected MissingConfig error, got: %v", err)
	}
}

func TestPreprocess_UnknownRouteProvider(t *testing.T) {
	t.Setenv("UPSTREAM_API_KEY", "sk-test-123")
	doc := strings.Replace(validDoc, `"default": "local,llama3"`, `"default": "ghost,llama3"`, 1)
	path := writeConfig(t, doc)

	_, _, err := Preprocess(path)
	if err == nil || !strings.Contains(err.Error(), "InvalidConfig") {
		t.Errorf("expected InvalidConfig error for unknown provider, got: %v", err)
	}
}

func TestPreprocess_UnadvertisedModel(t *testing.T) {
	t.Setenv("UPSTREAM_API_KEY", "sk-test-123")
	doc := strings.Replace(validDoc, `"default": "local,llama3"`, `"default": "local,does-not-exist"`, 1)
	path := writeConfig(t, doc)

	_, _, err := Preprocess(path)
	if err == nil || !strings.Contains(err.Error(), "InvalidConfig") {
		t.Errorf("expected InvalidConfig error for unadvertised model, got: %v", err)
	}
}

func TestPreprocess_MissingDefaultRoute(t *testing.T) {
	t.Setenv("UPSTREAM_API_KEY", "sk-test-123")
	doc := strings.Replace(validDoc, `"default": "local,llama3",`, "", 1)
	path := writeConfig(t, doc)

	_, _, err := Preprocess(path)
	if err == nil || !strings.Contains(err.Error(), "routing.default") {
		t.Errorf("expected routing.default validation error, got: %v", err)
	}
}

func TestPreprocess_DistributedRequiresInstanceNameAndRedisAddr(t *testing.T) {
	t.Setenv("UPSTREAM_API_KEY", "sk-test-123")
	doc := strings.Replace(validDoc, `"debug": {"enabled": false, "logLevel": "info", "logDir": ""}`,
		`"debug": {"enabled": false, "logLevel": "info", "logDir": ""},
		 "distributed": {"enabled": true}`, 1)
	path := writeConfig(t, doc)

	if _, _, err := Preprocess(path); err == nil {
		t.Fatal("expected enabling distributed mode without instance_name/redis_addr to fail closed")
	}
}

func TestAPIKeyField_AcceptsStringOrArray(t *testing.T) {
	var single APIKeyField
	if err := single.UnmarshalJSON([]byte(`"sk-one"`)); err != nil {
		t.Fatalf("bare string: %v", err)
	}
	if len(single) != 1 || single[0] != "sk-one" {
		t.Errorf("expected single key, got %v", single)
	}

	var multi APIKeyField
	if err := multi.UnmarshalJSON([]byte(`["sk-one", "sk-two"]`)); err != nil {
		t.Fatalf("array: %v", err)
	}
	if len(multi) != 2 || multi[1] != "sk-two" {
		t.Errorf("expected two keys in order, got %v", multi)
	}
}

func TestRouteTargets_AcceptsStringOrArray(t *testing.T) {
	var single RouteTargets
	if err := single.UnmarshalJSON([]byte(`"local,llama3"`)); err != nil {
		t.Fatalf("bare string: %v", err)
	}
	if len(single) != 1 || single[0] != "local,llama3" {
		t.Errorf("expected single target, got %v", single)
	}

	var multi RouteTargets
	if err := multi.UnmarshalJSON([]byte(`["upstream,gpt-test", "local,llama3"]`)); err != nil {
		t.Fatalf("array: %v", err)
	}
	if len(multi) != 2 || multi[0] != "upstream,gpt-test" {
		t.Errorf("expected priority-ordered targets, got %v", multi)
	}
}
