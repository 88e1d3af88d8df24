package overseer

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

const (
	memoryFile    = "overseer_memory.json"
	maxRecords    = 20
	promptRecords = 6 // recent records included in the model prompt
)

// CycleRecord captures what happened in a single overseer cycle.
type CycleRecord struct {
	Tick        uint64 `json:"tick"`
	Action      string `json:"action"`
	Agent       uint64 `json:"agent,omitempty"`
	Goal        string `json:"goal,omitempty"`
	CrisisLevel string `json:"crisis_level"`
	Rationale   string `json:"rationale,omitempty"`
}

// CycleMemory is a ring of recent cycle records, persisted across runs
// so a restarted overseer does not immediately contradict itself.
type CycleMemory struct {
	Records []CycleRecord `json:"records"`
}

// LoadMemory reads the memory file. Missing or corrupt files yield an
// empty memory.
func LoadMemory() *CycleMemory {
	data, err := os.ReadFile(memoryFile)
	if err != nil {
		return &CycleMemory{}
	}
	var mem CycleMemory
	if err := json.Unmarshal(data, &mem); err != nil {
		slog.Warn("overseer memory corrupted, starting fresh", "error", err)
		return &CycleMemory{}
	}
	return &mem
}

// Save writes the memory to disk.
func (m *CycleMemory) Save() {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		slog.Error("marshal overseer memory failed", "error", err)
		return
	}
	if err := os.WriteFile(memoryFile, data, 0644); err != nil {
		slog.Error("write overseer memory failed", "error", err)
	}
}

// Record adds a cycle record, trimming to maxRecords.
func (m *CycleMemory) Record(r CycleRecord) {
	m.Records = append(m.Records, r)
	if len(m.Records) > maxRecords {
		m.Records = m.Records[len(m.Records)-maxRecords:]
	}
}

// FormatForPrompt summarizes the last few cycles for the model prompt.
func (m *CycleMemory) FormatForPrompt() string {
	if len(m.Records) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("## Recent Overseer Cycles\n")

	start := 0
	if len(m.Records) > promptRecords {
		start = len(m.Records) - promptRecords
	}
	for _, r := range m.Records[start:] {
		fmt.Fprintf(&b, "- Tick %d: action=%s, crisis=%s", r.Tick, r.Action, r.CrisisLevel)
		if r.Agent != 0 {
			fmt.Fprintf(&b, ", agent=%d", r.Agent)
		}
		if r.Goal != "" {
			fmt.Fprintf(&b, ", goal=%s", r.Goal)
		}
		b.WriteString("\n")
	}
	return b.String()
}
