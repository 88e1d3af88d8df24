package agents

// Goal is one rung of the curriculum ladder. WantItem is what the goal
// is satisfied by holding; Prereq lists what the usual path to it
// consumes, which the planner surfaces but never enforces.
type Goal struct {
	Name     string         `json:"name"`
	WantItem string         `json:"want_item"`
	Prereq   map[string]int `json:"prereq,omitempty"`
}

// curriculum orders goals from subsistence to prospecting. Agents walk
// it in order, wrapping at the end; an owner can pin any rung through
// the admin API.
var curriculum = []Goal{
	{Name: "gather_food", WantItem: "food"},
	{Name: "stockpile_wood", WantItem: "wood"},
	{Name: "quarry_stone", WantItem: "stone"},
	{Name: "craft_tool", WantItem: "tool", Prereq: map[string]int{"wood": 2, "stone": 1}},
	{Name: "mine_iron", WantItem: "iron_ore"},
	{Name: "gather_herbs", WantItem: "herb"},
	{Name: "brew_potion", WantItem: "potion", Prereq: map[string]int{"herb": 2, "food": 1}},
	{Name: "prospect_gems", WantItem: "gem"},
}

// GoalNames lists the curriculum in order, for the admin API.
func GoalNames() []string {
	out := make([]string, len(curriculum))
	for i, g := range curriculum {
		out[i] = g.Name
	}
	return out
}
