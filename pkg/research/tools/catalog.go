// Package tools provides the research tools offered to the oracle: web
// search and extraction through Tavily, and LLM-backed outline and section
// writers.
package tools

import (
	"github.com/randalmurphal/reportgraph/pkg/flowgraph/llm"
	"github.com/randalmurphal/reportgraph/pkg/research"
)

// Deps are the backends the tools need. A nil backend leaves its tools out.
type Deps struct {
	Tavily *TavilyClient
	Writer llm.Client
}

// Register adds the research tools and the review_proposal action to reg.
func Register(reg *research.Registry, deps Deps) error {
	var all []research.Tool
	if deps.Tavily != nil {
		all = append(all, NewSearch(deps.Tavily), NewExtract(deps.Tavily))
	}
	if deps.Writer != nil {
		all = append(all, NewOutlineWriter(deps.Writer), NewSectionWriter(deps.Writer))
	}
	for _, t := range all {
		if err := reg.Register(t); err != nil {
			return err
		}
	}
	return reg.RegisterAction(research.ReviewActionSpec())
}

// NewRegistry builds a registry with every tool deps allow.
func NewRegistry(deps Deps) (*research.Registry, error) {
	reg := research.NewRegistry()
	if err := Register(reg, deps); err != nil {
		return nil, err
	}
	return reg, nil
}
