package parallel

// Team is a group of consecutive ranks. The lead is the lowest rank of the
// group.
type Team struct {
	w    *World
	rank int
	coll *collective
}

func newTeam(w *World, rank int) *Team {
	return &Team{w: w, rank: rank, coll: w.teams[rank/w.teamSize]}
}

func (t *Team) Size() int       { return t.w.teamSize }
func (t *Team) Color() int      { return t.rank / t.w.teamSize }
func (t *Team) NumTeams() int   { return t.w.size / t.w.teamSize }
func (t *Team) Lead() int       { return t.rank - t.rank%t.w.teamSize }
func (t *Team) RankInTeam() int { return t.rank - t.Lead() }
func (t *Team) IsLead() bool    { return t.rank == t.Lead() }

// Barrier synchronizes the members of this team only.
func (t *Team) Barrier() {
	t.coll.allReduce(t.RankInTeam(), nil, func([]any) any { return nil })
}
