// Package tasks defines the immutable task catalog: what crewmates can do,
// where, and how free-text input is validated step by step.
package tasks

import (
	"math/rand"

	"github.com/crewmates-ai/game-master/internal/v1/shipmap"
)

// MatchMode controls how a step validator compares client input against the
// canonical answer. Input arrives as free text produced by an agent, so
// matching is intentionally forgiving.
type MatchMode string

const (
	// MatchSubstring accepts input containing the answer, case-insensitive.
	MatchSubstring MatchMode = "substring"
	// MatchDigits strips everything but digits from the input and compares
	// against the answer's digits. Used for numeric codes.
	MatchDigits MatchMode = "digits"
)

// Step is one stage of a task. Prompt is surfaced to the client; Answer is
// the canonical expected input.
type Step struct {
	Prompt string    `json:"prompt"`
	Answer string    `json:"answer"`
	Mode   MatchMode `json:"mode"`
}

// Definition describes a task. Definitions are immutable for the lifetime
// of the process.
type Definition struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	DisplayName  string         `json:"displayName"`
	Room         shipmap.RoomID `json:"room"`
	Steps        []Step         `json:"-"`
	Prerequisite string         `json:"prerequisite,omitempty"`
	MultiPart    bool           `json:"multiPart"`
}

// Catalog is the process-wide set of task definitions.
type Catalog struct {
	defs  map[string]Definition
	order []string
}

// NewCatalog builds the default catalog.
func NewCatalog() *Catalog {
	return newCatalog(defaultDefinitions())
}

func newCatalog(defs []Definition) *Catalog {
	c := &Catalog{defs: make(map[string]Definition, len(defs))}
	for _, d := range defs {
		c.defs[d.ID] = d
		c.order = append(c.order, d.ID)
	}
	return c
}

// Get returns the definition for the given task id.
func (c *Catalog) Get(id string) (Definition, bool) {
	d, ok := c.defs[id]
	return d, ok
}

// AllIDs returns every task id in declaration order.
func (c *Catalog) AllIDs() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// StepCount returns the number of steps of a task, or 0 for unknown ids.
func (c *Catalog) StepCount(id string) int {
	return len(c.defs[id].Steps)
}

// AssignRandom returns n task ids chosen uniformly without replacement
// using a Fisher-Yates shuffle over the catalog. If n exceeds the catalog
// size, every id is returned.
func (c *Catalog) AssignRandom(n int, rng *rand.Rand) []string {
	ids := c.AllIDs()
	for i := len(ids) - 1; i > 0; i-- {
		j := rng.Intn(i + 1)
		ids[i], ids[j] = ids[j], ids[i]
	}
	if n > len(ids) {
		n = len(ids)
	}
	return ids[:n]
}

// defaultDefinitions is the production task set. The download/upload pair
// carries the prerequisite ordering constraint.
func defaultDefinitions() []Definition {
	return []Definition{
		{
			ID: "fix-wiring", Type: "wiring", DisplayName: "Fix Wiring",
			Room:      shipmap.Electrical,
			MultiPart: true,
			Steps: []Step{
				{Prompt: "Connect the red wire", Answer: "red", Mode: MatchSubstring},
				{Prompt: "Connect the blue wire", Answer: "blue", Mode: MatchSubstring},
				{Prompt: "Connect the yellow wire", Answer: "yellow", Mode: MatchSubstring},
			},
		},
		{
			ID: "swipe-card", Type: "card", DisplayName: "Swipe Admin Card",
			Room:  shipmap.Admin,
			Steps: []Step{{Prompt: "Swipe your card", Answer: "swipe", Mode: MatchSubstring}},
		},
		{
			ID: "download-data", Type: "data", DisplayName: "Download Data",
			Room:  shipmap.Cafeteria,
			Steps: []Step{{Prompt: "Start the download", Answer: "download", Mode: MatchSubstring}},
		},
		{
			ID: "upload-data", Type: "data", DisplayName: "Upload Data",
			Room:         shipmap.Admin,
			Prerequisite: "download-data",
			Steps:        []Step{{Prompt: "Start the upload", Answer: "upload", Mode: MatchSubstring}},
		},
		{
			ID: "fuel-download", Type: "fuel", DisplayName: "Fill Gas Can",
			Room:  shipmap.Storage,
			Steps: []Step{{Prompt: "Fill the gas can", Answer: "fill", Mode: MatchSubstring}},
		},
		{
			ID: "fuel-upload", Type: "fuel", DisplayName: "Fuel Engines",
			Room:         shipmap.UpperEngine,
			Prerequisite: "fuel-download",
			Steps:        []Step{{Prompt: "Pour fuel into the engine", Answer: "fuel", Mode: MatchSubstring}},
		},
		{
			ID: "prime-shields", Type: "shields", DisplayName: "Prime Shields",
			Room:  shipmap.Shields,
			Steps: []Step{{Prompt: "Enter the shield code", Answer: "7391", Mode: MatchDigits}},
		},
		{
			ID: "chart-course", Type: "navigation", DisplayName: "Chart Course",
			Room:  shipmap.Navigation,
			Steps: []Step{{Prompt: "Plot the course", Answer: "course", Mode: MatchSubstring}},
		},
		{
			ID: "stabilize-steering", Type: "navigation", DisplayName: "Stabilize Steering",
			Room:  shipmap.Navigation,
			Steps: []Step{{Prompt: "Center the crosshair", Answer: "center", Mode: MatchSubstring}},
		},
		{
			ID: "clean-o2-filter", Type: "o2", DisplayName: "Clean O2 Filter",
			Room:  shipmap.O2,
			Steps: []Step{{Prompt: "Clear the leaves", Answer: "clean", Mode: MatchSubstring}},
		},
		{
			ID: "empty-garbage", Type: "garbage", DisplayName: "Empty Garbage",
			Room:  shipmap.Storage,
			Steps: []Step{{Prompt: "Pull the lever", Answer: "lever", Mode: MatchSubstring}},
		},
		{
			ID: "calibrate-distributor", Type: "electrical", DisplayName: "Calibrate Distributor",
			Room:      shipmap.Electrical,
			MultiPart: true,
			Steps: []Step{
				{Prompt: "Calibrate phase one, code 12", Answer: "12", Mode: MatchDigits},
				{Prompt: "Calibrate phase two, code 47", Answer: "47", Mode: MatchDigits},
			},
		},
		{
			ID: "inspect-sample", Type: "medbay", DisplayName: "Inspect Sample",
			Room:  shipmap.MedBay,
			Steps: []Step{{Prompt: "Select the anomalous sample", Answer: "anomaly", Mode: MatchSubstring}},
		},
		{
			ID: "unlock-manifolds", Type: "reactor", DisplayName: "Unlock Manifolds",
			Room:  shipmap.Reactor,
			Steps: []Step{{Prompt: "Enter 1 through 10 in order", Answer: "12345678910", Mode: MatchDigits}},
		},
		{
			ID: "align-engine", Type: "engine", DisplayName: "Align Engine Output",
			Room:  shipmap.LowerEngine,
			Steps: []Step{{Prompt: "Align the engine", Answer: "align", Mode: MatchSubstring}},
		},
		{
			ID: "reboot-comms", Type: "comms", DisplayName: "Reboot Communications",
			Room:  shipmap.Communications,
			Steps: []Step{{Prompt: "Restart the console", Answer: "reboot", Mode: MatchSubstring}},
		},
	}
}
