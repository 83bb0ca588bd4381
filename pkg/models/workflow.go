package models

// Workflow describes one of the workflows the processing engine knows how to
// run. The set is closed; triggering anything outside it is rejected up front.
type Workflow struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
	Color       string `json:"color"`
}

// Workflows is the registry of runnable workflow definitions.
var Workflows = []Workflow{
	{
		ID:          "email-agent",
		Name:        "Email Agent",
		Description: "Email processing & automation",
		Icon:        "envelope",
		Color:       "blue",
	},
	{
		ID:          "pdf-agent",
		Name:        "PDF Agent",
		Description: "Document parsing & extraction",
		Icon:        "file-pdf",
		Color:       "red",
	},
	{
		ID:          "json-agent",
		Name:        "JSON Agent",
		Description: "Data transformation & validation",
		Icon:        "code",
		Color:       "green",
	},
	{
		ID:          "classifier-agent",
		Name:        "Classifier Agent",
		Description: "AI-powered classification",
		Icon:        "brain",
		Color:       "purple",
	},
}

// FindWorkflow looks up a workflow definition by ID.
func FindWorkflow(id string) (Workflow, bool) {
	for _, w := range Workflows {
		if w.ID == id {
			return w, true
		}
	}
	return Workflow{}, false
}
