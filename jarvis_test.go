package jarvis

import (
	"testing"
)

func TestNew_NoAddress(t *testing.T) {
	_, err := New(
		WithOpenAI("sk-test", ""),
		WithEmbeddingModel("text-embedding-3-small", 1536),
		WithChatModel("gpt-4o-mini"),
	)
	if err == nil {
		t.Fatal("expected error when no store address provided")
	}
}

func TestNew_MissingCredentials(t *testing.T) {
	_, err := New(WithRedis("localhost:6379", ""))
	if err == nil {
		t.Fatal("expected error when no API key provided")
	}
}

func TestNew_MissingModels(t *testing.T) {
	_, err := New(
		WithRedis("localhost:6379", ""),
		WithOpenAI("sk-test", ""),
	)
	if err == nil {
		t.Fatal("expected error when no embedding model provided")
	}

	_, err = New(
		WithRedis("localhost:6379", ""),
		WithOpenAI("sk-test", ""),
		WithEmbeddingModel("text-embedding-3-small", 1536),
	)
	if err == nil {
		t.Fatal("expected error when no chat model provided")
	}
}

func TestEngineOptions(t *testing.T) {
	cfg := &engineConfig{}

	WithRedis("localhost:6379", "secret")(cfg)
	if cfg.addrs[0] != "localhost:6379" || cfg.password != "secret" {
		t.Errorf("redis option not applied: %+v", cfg)
	}

	WithOpenAI("sk-test", "https://api.example.com/v1")(cfg)
	if cfg.apiKey != "sk-test" || cfg.baseURL != "https://api.example.com/v1" {
		t.Errorf("openai option not applied: %+v", cfg)
	}

	WithEmbeddingModel("text-embedding-3-small", 1536)(cfg)
	if cfg.embeddingModel != "text-embedding-3-small" || cfg.dimensions != 1536 {
		t.Errorf("embedding model option not applied: %+v", cfg)
	}

	WithChatModel("gpt-4o-mini")(cfg)
	if cfg.chatModel != "gpt-4o-mini" {
		t.Errorf("chat model option not applied: %+v", cfg)
	}

	WithChunking(500, 100)(cfg)
	if cfg.chunking.MaxChunkSize != 500 || cfg.chunking.Overlap != 100 {
		t.Errorf("chunking option not applied: %+v", cfg.chunking)
	}

	WithRetrieval(10, 0.3)(cfg)
	if cfg.retrieval.TopK != 10 || cfg.retrieval.MinScore != 0.3 {
		t.Errorf("retrieval option not applied: %+v", cfg.retrieval)
	}

	WithRerank(20, 0.4)(cfg)
	if cfg.retrieval.RerankDepth != 20 || cfg.retrieval.RerankWeight != 0.4 {
		t.Errorf("rerank option not applied: %+v", cfg.retrieval)
	}

	WithContextBudget(4000)(cfg)
	if cfg.contextBudget != 4000 {
		t.Errorf("context budget option not applied: %d", cfg.contextBudget)
	}

	WithInstructions("doc: ", "query: ")(cfg)
	if cfg.documentInstruction != "doc: " || cfg.queryInstruction != "query: " {
		t.Errorf("instructions option not applied: %+v", cfg)
	}
}

func TestEngine_Close_NilStore(t *testing.T) {
	e := &Engine{store: nil}
	e.Close()
}
