package agent

// Persona is the identity an LLM-backed agent speaks with.
type Persona struct {
	Name         string  `json:"name" yaml:"name"`
	Role         string  `json:"role" yaml:"role"`
	SystemPrompt string  `json:"system_prompt" yaml:"system_prompt"`
	Model        string  `json:"model,omitempty" yaml:"model"`
	Temperature  float64 `json:"temperature,omitempty" yaml:"temperature"`
	MaxTokens    int     `json:"max_tokens,omitempty" yaml:"max_tokens"`
}

// StudentPersona brainstorms school improvement ideas.
func StudentPersona() Persona {
	return Persona{
		Name:         "student",
		Role:         "student",
		SystemPrompt: "You are a creative school student brainstorming improvement ideas.",
		MaxTokens:    256,
	}
}

// TeacherPersona reviews ideas for learning value only.
func TeacherPersona() Persona {
	return Persona{
		Name:         "teacher",
		Role:         "teacher",
		SystemPrompt: "You are a school teacher. Evaluate ideas ONLY for learning value.",
		MaxTokens:    128,
	}
}

// PrincipalPersona judges feasibility against policy, budget and practicality.
func PrincipalPersona() Persona {
	return Persona{
		Name: "principal",
		Role: "principal",
		SystemPrompt: "You are a school principal. Judge whether ideas are feasible considering " +
			"school policy, budget and practicality.",
		MaxTokens: 128,
	}
}

// WithProfile replaces the system prompt with profile text when present.
func (p Persona) WithProfile(profile string) Persona {
	if profile != "" {
		p.SystemPrompt = profile
	}
	return p
}
