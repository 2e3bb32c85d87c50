package tool

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func searchServer(t *testing.T, results []SearchResult) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Query      string `json:"query"`
			MaxResults int    `json:"max_results"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"results": results})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestWebSearch(t *testing.T) {
	ctx := context.Background()

	t.Run("returns results", func(t *testing.T) {
		srv := searchServer(t, []SearchResult{
			{Title: "Go generics", URL: "https://go.dev/doc", Snippet: "type parameters"},
		})
		ws := NewWebSearch(srv.URL, "test-key")

		out, err := ws.Call(ctx, map[string]interface{}{"query": "go generics"})
		if err != nil {
			t.Fatal(err)
		}
		results, ok := out["results"].([]SearchResult)
		if !ok || len(results) != 1 || results[0].Title != "Go generics" {
			t.Errorf("results = %+v", out["results"])
		}
	})

	t.Run("missing query rejected", func(t *testing.T) {
		ws := NewWebSearch("http://unused", "")
		if _, err := ws.Call(ctx, map[string]interface{}{}); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("max_results truncates", func(t *testing.T) {
		many := make([]SearchResult, 10)
		srv := searchServer(t, many)
		ws := NewWebSearch(srv.URL, "")

		out, err := ws.Call(ctx, map[string]interface{}{"query": "x", "max_results": float64(3)})
		if err != nil {
			t.Fatal(err)
		}
		if results := out["results"].([]SearchResult); len(results) != 3 {
			t.Errorf("got %d results", len(results))
		}
	})

	t.Run("breaker opens after consecutive failures", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()
		ws := NewWebSearch(srv.URL, "")

		for i := 0; i < 5; i++ {
			if _, err := ws.Call(ctx, map[string]interface{}{"query": "x"}); err == nil {
				t.Fatalf("call %d unexpectedly succeeded", i)
			}
		}

		_, err := ws.Call(ctx, map[string]interface{}{"query": "x"})
		if !errors.Is(err, ErrSearchUnavailable) {
			t.Errorf("expected ErrSearchUnavailable, got %v", err)
		}
	})
}

func TestSpecs(t *testing.T) {
	tools := []Tool{&MockTool{ToolName: "a"}, &MockTool{ToolName: "b"}}

	specs := Specs(tools)
	if len(specs) != 2 || specs[0].Name != "a" || specs[1].Name != "b" {
		t.Errorf("specs = %+v", specs)
	}

	index := ByName(tools)
	if index["b"] != tools[1] {
		t.Error("ByName index wrong")
	}

	if Specs(nil) != nil {
		t.Error("Specs(nil) should be nil")
	}
}
