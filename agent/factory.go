package agent

import (
	"fmt"
	"sync"

	"github.com/dshills/pathweaver/graph/emit"
	"github.com/dshills/pathweaver/graph/model"
	"github.com/dshills/pathweaver/graph/model/anthropic"
	"github.com/dshills/pathweaver/graph/model/google"
	"github.com/dshills/pathweaver/graph/model/openai"
	"github.com/dshills/pathweaver/graph/tool"
)

// Config selects the LLM backing one agent variant.
type Config struct {
	// Provider is one of "openai", "anthropic", "google".
	Provider string `yaml:"provider" validate:"required,oneof=openai anthropic google"`

	// Model is the provider's model name. Empty uses the provider
	// default.
	Model string `yaml:"model"`

	// Endpoint overrides the provider's API base URL.
	Endpoint string `yaml:"endpoint"`

	// Credential is the provider API key.
	Credential string `yaml:"credential"`
}

// Factory builds agents on demand from per-variant configuration.
//
// Agents are cached: each variant is constructed once per factory. Each
// worker process owns its own factory, alongside its own DB pool.
type Factory struct {
	mu        sync.Mutex
	defaults  Config
	perKind   map[Kind]Config
	tools     []tool.Tool
	emitter   emit.Emitter
	cache     map[Kind]Agent
	overrides map[Kind]model.ChatModel
}

// NewFactory creates an agent factory. defaults apply to variants without
// an entry in perKind. tools (typically the web_search tool) are attached
// to the tool-using variants only; a nil emitter discards events.
func NewFactory(defaults Config, perKind map[Kind]Config, tools []tool.Tool, emitter emit.Emitter) *Factory {
	if emitter == nil {
		emitter = emit.NewNullEmitter()
	}
	return &Factory{
		defaults:  defaults,
		perKind:   perKind,
		tools:     tools,
		emitter:   emitter,
		cache:     make(map[Kind]Agent),
		overrides: make(map[Kind]model.ChatModel),
	}
}

// Override pins a variant to a specific ChatModel, bypassing provider
// construction. Used by tests and evaluation harnesses.
func (f *Factory) Override(kind Kind, chat model.ChatModel) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.overrides[kind] = chat
	delete(f.cache, kind)
}

// Get returns the agent for a variant, constructing it on first use.
func (f *Factory) Get(kind Kind) (Agent, error) {
	if err := kind.validate(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if cached, ok := f.cache[kind]; ok {
		return cached, nil
	}

	chat, err := f.chatFor(kind)
	if err != nil {
		return nil, err
	}

	built := &llmAgent{
		kind:    kind,
		chat:    chat,
		emitter: f.emitter,
	}
	if kind.usesTools() {
		built.tools = f.tools
	}

	f.cache[kind] = built
	return built, nil
}

// chatFor resolves the ChatModel for a variant. Caller holds f.mu.
func (f *Factory) chatFor(kind Kind) (model.ChatModel, error) {
	if override, ok := f.overrides[kind]; ok {
		return override, nil
	}

	cfg, ok := f.perKind[kind]
	if !ok {
		cfg = f.defaults
	}

	switch cfg.Provider {
	case "openai":
		return openai.New(cfg.Credential, cfg.Model, cfg.Endpoint), nil
	case "anthropic":
		return anthropic.New(cfg.Credential, cfg.Model, cfg.Endpoint), nil
	case "google":
		return google.New(cfg.Credential, cfg.Model, cfg.Endpoint), nil
	}
	return nil, fmt.Errorf("agent %s: unknown provider %q", kind, cfg.Provider)
}
