package google

import (
	"errors"
	"testing"

	"github.com/google/generative-ai-go/genai"
)

func TestConvertSchema(t *testing.T) {
	t.Run("nil schema", func(t *testing.T) {
		if got := convertSchema(nil); got != nil {
			t.Errorf("got %+v", got)
		}
	})

	t.Run("object with properties and required", func(t *testing.T) {
		schema := convertSchema(map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"query":       map[string]interface{}{"type": "string", "description": "search terms"},
				"max_results": map[string]interface{}{"type": "integer"},
			},
			"required": []interface{}{"query"},
		})

		if schema.Type != genai.TypeObject {
			t.Errorf("Type = %v", schema.Type)
		}
		if schema.Properties["query"].Type != genai.TypeString {
			t.Errorf("query type = %v", schema.Properties["query"].Type)
		}
		if schema.Properties["query"].Description != "search terms" {
			t.Errorf("query description = %q", schema.Properties["query"].Description)
		}
		if schema.Properties["max_results"].Type != genai.TypeInteger {
			t.Errorf("max_results type = %v", schema.Properties["max_results"].Type)
		}
		if len(schema.Required) != 1 || schema.Required[0] != "query" {
			t.Errorf("Required = %v", schema.Required)
		}
	})
}

func TestConvertResponse(t *testing.T) {
	t.Run("text parts concatenated", func(t *testing.T) {
		out, err := convertResponse(&genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{{
				Content: &genai.Content{Parts: []genai.Part{genai.Text("hello "), genai.Text("world")}},
			}},
			UsageMetadata: &genai.UsageMetadata{PromptTokenCount: 7, CandidatesTokenCount: 3},
		})
		if err != nil {
			t.Fatal(err)
		}
		if out.Text != "hello world" {
			t.Errorf("Text = %q", out.Text)
		}
		if out.Usage.InputTokens != 7 || out.Usage.OutputTokens != 3 {
			t.Errorf("Usage = %+v", out.Usage)
		}
	})

	t.Run("function calls extracted", func(t *testing.T) {
		out, err := convertResponse(&genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{{
				Content: &genai.Content{Parts: []genai.Part{
					genai.FunctionCall{Name: "web_search", Args: map[string]interface{}{"query": "go"}},
				}},
			}},
		})
		if err != nil {
			t.Fatal(err)
		}
		if len(out.ToolCalls) != 1 || out.ToolCalls[0].Name != "web_search" {
			t.Fatalf("ToolCalls = %+v", out.ToolCalls)
		}
		if out.ToolCalls[0].Input["query"] != "go" {
			t.Errorf("Input = %+v", out.ToolCalls[0].Input)
		}
	})

	t.Run("safety block surfaces SafetyFilterError", func(t *testing.T) {
		_, err := convertResponse(&genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{{FinishReason: genai.FinishReasonSafety}},
		})

		var safetyErr *SafetyFilterError
		if !errors.As(err, &safetyErr) {
			t.Fatalf("expected SafetyFilterError, got %v", err)
		}
	})

	t.Run("empty candidates without block", func(t *testing.T) {
		out, err := convertResponse(&genai.GenerateContentResponse{})
		if err != nil {
			t.Fatal(err)
		}
		if out.Text != "" {
			t.Errorf("Text = %q", out.Text)
		}
	})
}
