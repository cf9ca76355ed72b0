package article

// Author is an entry of the fixed author table.
type Author struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Role      string `json:"role"`
	Avatar    string `json:"avatar"`
	Bio       string `json:"bio"`
	Articles  int    `json:"articles"`
	Followers int    `json:"followers"`
}

// DefaultAuthorID is used when an unknown author id is supplied.
const DefaultAuthorID = "data-crusader"

var authors = map[string]Author{
	"data-crusader": {
		ID:        "data-crusader",
		Name:      "Data Crusader",
		Role:      "Head of Data Strategy",
		Avatar:    "🦸‍♂️",
		Bio:       "A seasoned data professional with over 10 years of experience in enterprise data architecture and information asymmetry strategies.",
		Articles:  16,
		Followers: 1247,
	},
	"cosmic-analyst": {
		ID:        "cosmic-analyst",
		Name:      "Cosmic Analyst",
		Role:      "Data Architecture Lead",
		Avatar:    "🌌",
		Bio:       "Specializing in building scalable data universes that connect disparate enterprise systems across organizational boundaries.",
		Articles:  13,
		Followers: 892,
	},
	"web-weaver": {
		ID:        "web-weaver",
		Name:      "Web Weaver",
		Role:      "Analytics Specialist",
		Avatar:    "🕷️",
		Bio:       "Expert in crafting compelling data narratives that transform complex information into actionable insights.",
		Articles:  19,
		Followers: 1156,
	},
}

// LookupAuthor returns the author for id, falling back to the default author.
func LookupAuthor(id string) Author {
	if a, ok := authors[id]; ok {
		return a
	}
	return authors[DefaultAuthorID]
}

// KnownAuthor reports whether id is in the author table.
func KnownAuthor(id string) bool {
	_, ok := authors[id]
	return ok
}
