package pipeline

import (
	"github.com/OFFIS-RIT/agentkg/pkg/common"
	"github.com/OFFIS-RIT/agentkg/pkg/graph"
	"github.com/OFFIS-RIT/agentkg/pkg/resolve"
)

// Path is the route a batch took through the pipeline.
type Path string

const (
	PathFull Path = "full"
	PathFast Path = "fast"
)

// Result summarises one batch. Partial success is always visible: counts of
// kept and rejected relations are reported side by side.
type Result struct {
	RunID             string `json:"run_id"`
	Path              Path   `json:"path"`
	RestartedFromFast bool   `json:"restarted_from_fast"`

	DocumentsProcessed     int `json:"documents_processed"`
	RelationsCount         int `json:"relations"`
	ViolationsCount        int `json:"violations_count"`
	RejectedRelationsCount int `json:"rejected_relations_count"`
	EntitiesMerged         int `json:"entities_merged"`

	QCFlagsCount int                `json:"qc_flags_count"`
	QCCoverage   map[string]float64 `json:"qc_coverage,omitempty"`

	ResolutionReport *resolve.Report `json:"resolution_report,omitempty"`
	OntologyVersion  int             `json:"ontology_version"`

	NodesExported int `json:"nodes_exported"`
	EdgesExported int `json:"edges_exported"`

	// Relations are the relations that passed validation.
	Relations *common.RelationSet `json:"-"`
	Nodes     []graph.Node        `json:"-"`
	Edges     []graph.Edge        `json:"-"`
}
