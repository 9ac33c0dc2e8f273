package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/firebase/genkit/go/plugins/ollama"
	"golang.org/x/time/rate"

	"github.com/atendai/kbengine/internal/config"
)

// availabilityTimeout bounds the per-backend probe in ListAvailable.
const availabilityTimeout = 2 * time.Second

// Registry resolves backend IDs to memoized Embedder clients.
//
// Registry is safe for concurrent use by multiple goroutines.
type Registry struct {
	cfg          *config.Config
	genkit       *genkit.Genkit
	ollamaPlugin *ollama.Ollama

	// geminiEnabled records whether the GoogleAI plugin was loaded at
	// process start; without it the gemini backend cannot be resolved
	// even if a key appears later.
	geminiEnabled bool

	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger

	mu       sync.Mutex
	resolved map[string]Embedder
}

// NewRegistry creates a registry over an initialized Genkit instance.
// ollamaPlugin may be nil when the Ollama plugin was not loaded.
func NewRegistry(cfg *config.Config, g *genkit.Genkit, ollamaPlugin *ollama.Ollama, geminiEnabled bool, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		cfg:           cfg,
		genkit:        g,
		ollamaPlugin:  ollamaPlugin,
		geminiEnabled: geminiEnabled,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		// Embedding endpoints throttle aggressively; pace batch calls.
		limiter:  rate.NewLimiter(rate.Limit(5), 10),
		logger:   logger,
		resolved: make(map[string]Embedder),
	}
}

// Resolve returns the Embedder for a backend ID. The first resolution per
// ID validates credentials and constructs the client; subsequent calls
// return the memoized instance.
func (r *Registry) Resolve(backendID string) (Embedder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if emb, ok := r.resolved[backendID]; ok {
		return emb, nil
	}

	var (
		emb Embedder
		err error
	)
	switch backendID {
	case BackendGemini:
		emb, err = r.resolveGemini()
	case BackendOllama:
		emb, err = r.resolveOllama()
	case BackendTEI:
		emb, err = r.resolveTEI()
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backendID)
	}
	if err != nil {
		return nil, err
	}

	r.resolved[backendID] = emb
	r.logger.Debug("resolved embedding backend", "backend", backendID)
	return emb, nil
}

// BackendFor returns the backend ID bound to a project scope, falling back
// to the configured default. Materialization must embed all chunks of a
// bound project with this backend.
func (r *Registry) BackendFor(projectID string) string {
	return r.cfg.BackendForProject(projectID)
}

// ListAvailable returns descriptors for the backends usable right now.
// A backend whose credential is missing or whose local dependency does not
// answer is omitted rather than listed-then-erroring.
func (r *Registry) ListAvailable(ctx context.Context) []Descriptor {
	var available []Descriptor

	if r.ollamaPlugin != nil && r.probe(ctx, strings.TrimSuffix(r.cfg.OllamaHost, "/")+"/api/tags") {
		available = append(available, Descriptor{
			ID:             BackendOllama,
			DisplayName:    "Ollama (" + r.cfg.OllamaEmbedderModel + ")",
			Dimensionality: VectorDim,
		})
	}

	if r.geminiEnabled && validateGeminiKey() == nil {
		available = append(available, Descriptor{
			ID:             BackendGemini,
			DisplayName:    "Google Gemini (" + r.cfg.GeminiEmbedderModel + ")",
			Dimensionality: VectorDim,
			CredentialEnv:  "GEMINI_API_KEY",
		})
	}

	if r.cfg.TEIBaseURL != "" && r.probe(ctx, strings.TrimSuffix(r.cfg.TEIBaseURL, "/")+"/health") {
		available = append(available, Descriptor{
			ID:             BackendTEI,
			DisplayName:    "Text Embeddings Inference (" + r.cfg.TEIModel + ")",
			Dimensionality: VectorDim,
		})
	}

	return available
}

func (r *Registry) resolveGemini() (Embedder, error) {
	if !r.geminiEnabled {
		return nil, fmt.Errorf("%w: gemini plugin not loaded (set GEMINI_API_KEY and restart)", ErrBackendUnavailable)
	}
	if err := validateGeminiKey(); err != nil {
		return nil, err
	}

	embedder := googlegenai.GoogleAIEmbedder(r.genkit, r.cfg.GeminiEmbedderModel)
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder %q not registered", ErrBackendUnavailable, r.cfg.GeminiEmbedderModel)
	}
	// gemini-embedding-001 emits 3072 dimensions by default; truncate to
	// match the vector column.
	options := map[string]any{"outputDimensionality": VectorDim}
	return newGenkitEmbedder(embedder, r.limiter, options), nil
}

func (r *Registry) resolveOllama() (Embedder, error) {
	if r.ollamaPlugin == nil {
		return nil, fmt.Errorf("%w: ollama plugin not loaded", ErrBackendUnavailable)
	}

	// Ollama requires explicit embedder registration (no auto-discovery).
	r.ollamaPlugin.DefineEmbedder(r.genkit, r.cfg.OllamaHost, r.cfg.OllamaEmbedderModel, nil)
	embedder := ollama.Embedder(r.genkit, r.cfg.OllamaHost)
	if embedder == nil {
		return nil, fmt.Errorf("%w: ollama embedder at %s not registered", ErrBackendUnavailable, r.cfg.OllamaHost)
	}
	return newGenkitEmbedder(embedder, r.limiter, nil), nil
}

func (r *Registry) resolveTEI() (Embedder, error) {
	if r.cfg.TEIBaseURL == "" {
		return nil, fmt.Errorf("%w: tei_base_url is not configured", ErrBackendUnavailable)
	}
	if err := validateTEIKey(r.cfg.TEIAPIKey); err != nil {
		return nil, err
	}
	return newTEIEmbedder(r.cfg.TEIBaseURL, r.cfg.TEIAPIKey, r.httpClient, r.limiter), nil
}

// validateGeminiKey checks the Gemini credential shape before any network
// call. A key issued for another provider is a realistic misconfiguration
// and gets its own diagnostic instead of a generic auth failure downstream.
func validateGeminiKey() error {
	key := os.Getenv("GEMINI_API_KEY")
	if key == "" {
		key = os.Getenv("GOOGLE_API_KEY")
	}
	if key == "" {
		return fmt.Errorf("%w: set GEMINI_API_KEY (or GOOGLE_API_KEY) for the gemini backend", ErrMissingCredential)
	}
	if strings.HasPrefix(key, "sk-") {
		return fmt.Errorf("%w: GEMINI_API_KEY looks like an OpenAI secret key (sk-...); Gemini API keys start with AIza", ErrWrongProviderKey)
	}
	return nil
}

// validateTEIKey rejects a Google API key presented to an OpenAI-compatible
// embedding endpoint.
func validateTEIKey(key string) error {
	if strings.HasPrefix(key, "AIza") {
		return fmt.Errorf("%w: tei_api_key looks like a Google API key (AIza...); the TEI endpoint expects its own bearer token", ErrWrongProviderKey)
	}
	return nil
}

// probe reports whether an HTTP GET against url answers with a 2xx within
// availabilityTimeout.
func (r *Registry) probe(ctx context.Context, url string) bool {
	probeCtx, cancel := context.WithTimeout(ctx, availabilityTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
