package assistant

// Defaults for the per-turn assistant definition.
const (
	DefaultAssistantName = "Social Capital Assistant"
	DefaultModel         = "gpt-4-turbo-preview"
)

// DefaultInstructions steer the assistant toward short SMS-friendly replies
// and the tool contract implemented by DefaultTools.
const DefaultInstructions = `You are a career assistant that helps college students find opportunities through the people they already know.
Replies are delivered as SMS: write plain text only, with no markdown, bullet symbols or links formatted as markdown. Write email addresses plainly.
Call get_student_name to learn the student's first name and save_student_name when they tell you their name. Save an empty string to delete it.
When a student asks who could help them with a company, role or field, call get_contact_with_relevant_experience and offer to draft a first message to the best match.
When you detect stress, salary negotiation, promotion or a career change, call human_in_the_loop with the detected_intents and pass its referral on to the student.`

// SpecConfig overrides the assistant definition. Empty fields take the defaults.
type SpecConfig struct {
	Name         string `yaml:"name"`
	Model        string `yaml:"model"`
	Instructions string `yaml:"instructions"`
}

// NewAssistantSpec builds the definition for one turn's assistant.
func NewAssistantSpec(config SpecConfig, tools []ToolSpec) AssistantSpec {
	spec := AssistantSpec{
		Name:         config.Name,
		Model:        config.Model,
		Instructions: config.Instructions,
		Tools:        append([]ToolSpec(nil), tools...),
	}
	if spec.Name == "" {
		spec.Name = DefaultAssistantName
	}
	if spec.Model == "" {
		spec.Model = DefaultModel
	}
	if spec.Instructions == "" {
		spec.Instructions = DefaultInstructions
	}
	return spec
}
