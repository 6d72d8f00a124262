package graph

import "github.com/OFFIS-RIT/agentkg/pkg/common"

// Mentions records one mention per participant of every relation in set:
// the name as extracted against the name after resolution. Mentions with the
// same id are kept once.
func Mentions(set *common.RelationSet) []common.Mention {
	if set == nil {
		return nil
	}
	seen := make(map[string]struct{})
	var out []common.Mention
	for _, rel := range set.Relations {
		for _, p := range rel.Roles.All() {
			e := set.Entities.Get(p.Ref)
			surface := e.SurfaceForm
			if surface == "" {
				surface = e.Name
			}
			m := common.NewMention(rel.Source.ChunkID, surface, e.Name, e.Label, p.Role)
			if _, ok := seen[m.ID]; ok {
				continue
			}
			seen[m.ID] = struct{}{}
			out = append(out, m)
		}
	}
	return out
}
