package a2a

// CardPath is the well-known location of the agent card
const CardPath = "/.well-known/agent-card.json"

// TransportJSONRPC marks agents that prefer JSON-RPC 2.0 at their root URL
const TransportJSONRPC = "JSONRPC"

const (
	// AgentName is the published name of the forecast agent
	AgentName = "short_term_stock_agent"

	// SkillShortTermPredict is the agent's single skill and the action
	// name accepted by the /invoke fallback
	SkillShortTermPredict = "short_term_predict"

	// ActionShortTermPredictAlias is a legacy action name still accepted
	// by /invoke
	ActionShortTermPredictAlias = "short_term_prediction"
)

// AgentSkill describes one capability advertised on the agent card
type AgentSkill struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Examples    []string `json:"examples,omitempty"`
}

// AgentCapabilities lists optional protocol features
type AgentCapabilities struct {
	Streaming bool `json:"streaming"`
}

// AgentCard is the discovery document served at CardPath. Clients read it
// to pick a transport and to learn which method names the agent answers.
type AgentCard struct {
	Name               string            `json:"name"`
	Description        string            `json:"description,omitempty"`
	URL                string            `json:"url"`
	Version            string            `json:"version,omitempty"`
	PreferredTransport string            `json:"preferredTransport"`
	Capabilities       AgentCapabilities `json:"capabilities"`
	DefaultInputModes  []string          `json:"defaultInputModes,omitempty"`
	DefaultOutputModes []string          `json:"defaultOutputModes,omitempty"`
	Skills             []AgentSkill      `json:"skills"`
}

// NewCard builds the forecast agent's card
func NewCard(baseURL, version string) *AgentCard {
	return &AgentCard{
		Name:               AgentName,
		Description:        "Provides short-term stock price predictions.",
		URL:                baseURL + "/",
		Version:            version,
		PreferredTransport: TransportJSONRPC,
		Capabilities:       AgentCapabilities{Streaming: false},
		DefaultInputModes:  []string{"text"},
		DefaultOutputModes: []string{"text"},
		Skills: []AgentSkill{
			{
				ID:          SkillShortTermPredict,
				Name:        SkillShortTermPredict,
				Description: "Predict close prices for the next business days of a ticker.",
				Tags:        []string{"stocks", "forecast"},
				Examples:    []string{"predict AAPL", "forecast for MSFT"},
			},
		},
	}
}

// CandidateMethods returns the JSON-RPC method names a client should probe,
// in preference order: the generic root method, the agent name, then each
// skill name and id. Duplicates and blanks are dropped.
func (c *AgentCard) CandidateMethods() []string {
	candidates := []string{"model", c.Name}
	for _, s := range c.Skills {
		candidates = append(candidates, s.Name, s.ID)
	}

	seen := make(map[string]bool, len(candidates))
	methods := make([]string, 0, len(candidates))
	for _, m := range candidates {
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		methods = append(methods, m)
	}
	return methods
}
