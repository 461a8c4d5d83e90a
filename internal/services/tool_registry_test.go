package services

import (
	"strings"
	"testing"
)

func TestFormatFor(t *testing.T) {
	registry := NewToolRegistry([]string{"qwen", "deepseek-r1"})

	tests := []struct {
		name    string
		modelID string
		want    ToolFormat
	}{
		{"Unlisted model defaults to native", "openai/gpt-4o", ToolFormatNative},
		{"Family substring selects tagged", "qwen/qwen-2.5-72b-instruct", ToolFormatTagged},
		{"Match is case-insensitive", "DeepSeek-R1-Distill", ToolFormatTagged},
		{"Substring anywhere in the id", "someorg/finetuned-qwen-variant", ToolFormatTagged},
		{"Empty model id is native", "", ToolFormatNative},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := registry.FormatFor(tt.modelID); got != tt.want {
				t.Errorf("FormatFor(%q) = %v, want %v", tt.modelID, got, tt.want)
			}
		})
	}
}

func TestFormatForEmptyFamilyTable(t *testing.T) {
	registry := NewToolRegistry(nil)
	if got := registry.FormatFor("qwen/qwen-2.5"); got != ToolFormatNative {
		t.Errorf("With no tag families everything is native, got %v", got)
	}
}

func TestSetTagFamiliesReload(t *testing.T) {
	registry := NewToolRegistry(nil)
	registry.SetTagFamilies([]string{"hermes"})
	if got := registry.FormatFor("nous/hermes-3"); got != ToolFormatTagged {
		t.Errorf("Reloaded family table not applied, got %v", got)
	}
}

func TestNativeToolsShape(t *testing.T) {
	registry := NewToolRegistry(nil)
	tools := registry.NativeTools()

	if len(tools) != len(toolSpecs) {
		t.Fatalf("Expected %d tools, got %d", len(toolSpecs), len(tools))
	}
	for _, tool := range tools {
		if tool["type"] != "function" {
			t.Errorf("Expected type=function, got %v", tool["type"])
		}
		fn, ok := tool["function"].(map[string]interface{})
		if !ok {
			t.Fatal("Missing function object")
		}
		name, _ := fn["name"].(string)
		if !registry.KnownTool(name) {
			t.Errorf("NativeTools produced unknown tool %q", name)
		}
	}
}

func TestTaggedToolsBlock(t *testing.T) {
	registry := NewToolRegistry(nil)
	block := registry.TaggedToolsBlock()

	for _, want := range []string{
		"<tools>",
		"</tools>",
		"<tool_call>",
		ToolSaveFact,
		ToolSearchKnowledge,
		ToolGetLoopState,
	} {
		if !strings.Contains(block, want) {
			t.Errorf("Expected %q in tagged tools block", want)
		}
	}
}

func TestKnownTool(t *testing.T) {
	registry := NewToolRegistry(nil)

	for _, name := range []string{
		ToolSaveFact, ToolSaveSummary, ToolSendNotification,
		ToolLoadKnowledgeByTitle, ToolListKnowledgeFiles,
		ToolSearchKnowledge, ToolGetLoopState,
	} {
		if !registry.KnownTool(name) {
			t.Errorf("Expected %q to be a known tool", name)
		}
	}
	if registry.KnownTool("format_disk") {
		t.Error("Unknown tool reported as known")
	}
	if err := registry.ValidateToolName("format_disk"); err == nil {
		t.Error("ValidateToolName should reject unknown tools")
	}
}
