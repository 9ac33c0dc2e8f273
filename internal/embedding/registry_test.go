package embedding

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/atendai/kbengine/internal/config"
	"github.com/atendai/kbengine/internal/log"
)

func testConfig() *config.Config {
	return &config.Config{
		DefaultBackend:      config.BackendOllama,
		GeminiEmbedderModel: config.DefaultGeminiEmbedderModel,
		OllamaHost:          "http://127.0.0.1:11434",
		OllamaEmbedderModel: config.DefaultOllamaEmbedderModel,
		ProjectBackends:     map[string]string{"prj-bound": config.BackendGemini},
	}
}

func TestResolveUnknownBackend(t *testing.T) {
	r := NewRegistry(testConfig(), nil, nil, false, log.NewNop())
	_, err := r.Resolve("word2vec")
	if !errors.Is(err, ErrUnknownBackend) {
		t.Fatalf("expected ErrUnknownBackend, got %v", err)
	}
	if !strings.Contains(err.Error(), "word2vec") {
		t.Errorf("error should name the rejected backend: %q", err.Error())
	}
}

func TestResolveGeminiPluginNotLoaded(t *testing.T) {
	r := NewRegistry(testConfig(), nil, nil, false, log.NewNop())
	_, err := r.Resolve(BackendGemini)
	if !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
}

func TestResolveGeminiMissingCredential(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")

	r := NewRegistry(testConfig(), nil, nil, true, log.NewNop())
	_, err := r.Resolve(BackendGemini)
	if !errors.Is(err, ErrMissingCredential) {
		t.Fatalf("expected ErrMissingCredential, got %v", err)
	}
	if !strings.Contains(err.Error(), "GEMINI_API_KEY") {
		t.Errorf("error should name the env var to set: %q", err.Error())
	}
}

func TestResolveGeminiWrongProviderKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "sk-proj-abcdef0123456789")
	t.Setenv("GOOGLE_API_KEY", "")

	r := NewRegistry(testConfig(), nil, nil, true, log.NewNop())
	_, err := r.Resolve(BackendGemini)
	if !errors.Is(err, ErrWrongProviderKey) {
		t.Fatalf("expected ErrWrongProviderKey, got %v", err)
	}
	// The diagnostic must say what the key looks like and what was expected.
	if !strings.Contains(err.Error(), "OpenAI") || !strings.Contains(err.Error(), "AIza") {
		t.Errorf("diagnostic should identify the key's provider and the expected shape: %q", err.Error())
	}
}

func TestResolveTEIWrongProviderKey(t *testing.T) {
	cfg := testConfig()
	cfg.TEIBaseURL = "http://127.0.0.1:8080"
	cfg.TEIAPIKey = "AIzaSyD-fake0123456789"

	r := NewRegistry(cfg, nil, nil, false, log.NewNop())
	_, err := r.Resolve(BackendTEI)
	if !errors.Is(err, ErrWrongProviderKey) {
		t.Fatalf("expected ErrWrongProviderKey, got %v", err)
	}
}

func TestResolveTEINotConfigured(t *testing.T) {
	r := NewRegistry(testConfig(), nil, nil, false, log.NewNop())
	_, err := r.Resolve(BackendTEI)
	if !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
}

func TestResolveMemoizes(t *testing.T) {
	cfg := testConfig()
	cfg.TEIBaseURL = "http://127.0.0.1:8080"

	r := NewRegistry(cfg, nil, nil, false, log.NewNop())
	first, err := r.Resolve(BackendTEI)
	if err != nil {
		t.Fatalf("first Resolve failed: %v", err)
	}
	second, err := r.Resolve(BackendTEI)
	if err != nil {
		t.Fatalf("second Resolve failed: %v", err)
	}
	if first != second {
		t.Error("Resolve should return the memoized client on repeat calls")
	}
}

func TestBackendFor(t *testing.T) {
	r := NewRegistry(testConfig(), nil, nil, false, log.NewNop())
	if got := r.BackendFor("prj-bound"); got != BackendGemini {
		t.Errorf("bound project resolved to %q, want gemini", got)
	}
	if got := r.BackendFor("prj-unbound"); got != BackendOllama {
		t.Errorf("unbound project resolved to %q, want the default ollama", got)
	}
	if got := r.BackendFor(""); got != BackendOllama {
		t.Errorf("empty project resolved to %q, want the default ollama", got)
	}
}

func TestListAvailableProbesTEI(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")

	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()

	cfg := testConfig()
	cfg.TEIBaseURL = healthy.URL
	cfg.TEIModel = "bge-m3"

	r := NewRegistry(cfg, nil, nil, false, log.NewNop())
	available := r.ListAvailable(context.Background())

	if len(available) != 1 {
		t.Fatalf("expected only the TEI backend, got %d: %+v", len(available), available)
	}
	d := available[0]
	if d.ID != BackendTEI {
		t.Errorf("descriptor ID = %q, want tei", d.ID)
	}
	if d.Dimensionality != VectorDim {
		t.Errorf("descriptor dims = %d, want %d", d.Dimensionality, VectorDim)
	}
}

func TestListAvailableOmitsUnreachableTEI(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()

	cfg := testConfig()
	cfg.TEIBaseURL = down.URL

	r := NewRegistry(cfg, nil, nil, false, log.NewNop())
	if available := r.ListAvailable(context.Background()); len(available) != 0 {
		t.Errorf("unhealthy backend should be omitted, got %+v", available)
	}
}

func TestValidateTEIKeyAllowsOwnTokens(t *testing.T) {
	for _, key := range []string{"", "hf_abcdef", "some-opaque-token"} {
		if err := validateTEIKey(key); err != nil {
			t.Errorf("key %q should be accepted: %v", key, err)
		}
	}
}
