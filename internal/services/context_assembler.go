package services

import (
	"fmt"
	"sort"
	"strings"

	"companion/internal/models"
)

// blockSeparator joins system-context blocks. The whole context is a single
// system message on purpose: splitting it across several system messages
// defeats some providers' prefix-caching granularity.
const blockSeparator = "\n\n---\n\n"

// recentSummaryCount caps the Recent Summaries block.
const recentSummaryCount = 5

// legacyRecentCount caps the legacy auto-facts block.
const legacyRecentCount = 5

// AssembledContext is the Context Assembler output: the single system-block
// text plus the fact/summary high-water-marks. IncludedMax* reflect what was
// actually rendered (after breakpoint filtering); TrueMax* reflect the full
// memory and are what the tracker records when minting a fresh breakpoint.
type AssembledContext struct {
	SystemPrompt string

	IncludedMaxFactID    int64
	IncludedMaxSummaryID int64
	TrueMaxFactID        int64
	TrueMaxSummaryID     int64
}

// BuildSystemContext turns a persona, its memory and the knowledge selection
// into the ordered system-context blocks. With a valid breakpoint, memory is
// filtered to the ids recorded at anchor time so the rendered prefix stays
// byte-identical across calls while memory grows underneath.
//
// Empty tiers produce no block at all, not an empty-but-present block.
func BuildSystemContext(
	systemPrompt string,
	memory models.Memory,
	catalog []models.KnowledgeFileInfo,
	attached []models.KnowledgeFile,
	bp *Breakpoint,
) AssembledContext {
	out := AssembledContext{
		TrueMaxFactID:    memory.MaxFactID(),
		TrueMaxSummaryID: memory.MaxSummaryID(),
	}

	facts := memory.Facts
	summaries := memory.Summaries
	if bp != nil {
		facts = filterFacts(facts, bp.MaxFactID)
		summaries = filterSummaries(summaries, bp.MaxSummaryID)
	}

	filtered := memory
	filtered.Facts = facts
	filtered.Summaries = summaries
	view := models.MergeLegacyAndCanonical(filtered)

	var blocks []string

	if strings.TrimSpace(systemPrompt) != "" {
		blocks = append(blocks, strings.TrimSpace(systemPrompt))
	}

	if len(view.Facts) > 0 {
		var sb strings.Builder
		sb.WriteString("Facts:\n")
		for _, f := range view.Facts {
			fmt.Fprintf(&sb, "- %s\n", f.Text)
			if f.ID > out.IncludedMaxFactID {
				out.IncludedMaxFactID = f.ID
			}
		}
		blocks = append(blocks, strings.TrimRight(sb.String(), "\n"))
	}

	if len(view.Summaries) > 0 {
		recent := recentSummaries(view.Summaries, recentSummaryCount)
		var sb strings.Builder
		sb.WriteString("Recent Summaries:\n")
		for _, s := range recent {
			fmt.Fprintf(&sb, "- [%s] %s\n", s.Timestamp.Format("2006-01-02"), s.Text)
		}
		blocks = append(blocks, strings.TrimRight(sb.String(), "\n"))

		for _, s := range view.Summaries {
			if s.ID > out.IncludedMaxSummaryID {
				out.IncludedMaxSummaryID = s.ID
			}
		}
	}

	// Legacy tiers, surfaced only when the canonical tier above is empty
	// (MergeLegacyAndCanonical suppresses them otherwise) so the same
	// information is never reported under two schemas.
	if len(view.ManualNotes) > 0 {
		var sb strings.Builder
		sb.WriteString("Manual Notes:\n")
		for _, note := range view.ManualNotes {
			fmt.Fprintf(&sb, "- %s\n", note)
		}
		blocks = append(blocks, strings.TrimRight(sb.String(), "\n"))
	}

	if len(view.LegacyFacts) > 0 {
		recent := view.LegacyFacts
		if len(recent) > legacyRecentCount {
			recent = recent[len(recent)-legacyRecentCount:]
		}
		var sb strings.Builder
		sb.WriteString("Recent (legacy):\n")
		for _, f := range recent {
			fmt.Fprintf(&sb, "- %s\n", f)
		}
		blocks = append(blocks, strings.TrimRight(sb.String(), "\n"))
	}

	if view.LegacySummary != "" {
		blocks = append(blocks, "Previous Summary (legacy):\n"+view.LegacySummary)
	}

	if len(catalog) > 0 {
		var sb strings.Builder
		sb.WriteString("Available Knowledge Files:\n")
		for _, info := range catalog {
			fmt.Fprintf(&sb, "- %s\n", info.Title)
		}
		blocks = append(blocks, strings.TrimRight(sb.String(), "\n"))
	}

	for _, file := range attached {
		blocks = append(blocks, fmt.Sprintf("Knowledge File: %s\n\n%s", file.Title, file.Content))
	}

	out.SystemPrompt = strings.Join(blocks, blockSeparator)
	return out
}

// AppendTimestamp adds the current-time annotation to the last user message
// content. It deliberately lives outside the system block: the cached system
// prefix stays byte-identical across calls while the model still gets a
// notion of "now".
func AppendTimestamp(content, timestamp string) string {
	return content + "\n\n[Current time: " + timestamp + "]"
}

func filterFacts(facts []models.Fact, maxID int64) []models.Fact {
	var out []models.Fact
	for _, f := range facts {
		if f.ID <= maxID {
			out = append(out, f)
		}
	}
	return out
}

func filterSummaries(summaries []models.SummaryEntry, maxID int64) []models.SummaryEntry {
	var out []models.SummaryEntry
	for _, s := range summaries {
		if s.ID <= maxID {
			out = append(out, s)
		}
	}
	return out
}

// recentSummaries returns the n most recently timestamped entries, oldest
// first so the narrative reads forward.
func recentSummaries(summaries []models.SummaryEntry, n int) []models.SummaryEntry {
	sorted := make([]models.SummaryEntry, len(summaries))
	copy(sorted, summaries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.After(sorted[j].Timestamp)
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	// reverse back to chronological order
	for i, j := 0, len(sorted)-1; i < j; i, j = i+1, j-1 {
		sorted[i], sorted[j] = sorted[j], sorted[i]
	}
	return sorted
}
