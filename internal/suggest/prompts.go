// ABOUTME: Fixed model instructions and the JSON payloads sent alongside them
// ABOUTME: Both modes ask for new items under the "todos" key

package suggest

const (
	projectTodoCount = 5
	subtaskTodoCount = 2

	projectSystemPrompt = "I'm a project manager and I need help identifying missing to-do items. " +
		"I have a list of existing tasks in JSON format, containing objects with 'taskName' and 'description' properties. " +
		"I also have a good understanding of the project scope. " +
		"Can you help me identify 5 additional to-do items for the project with projectName that are not yet included in this list? " +
		"Please provide these missing items in a separate JSON array with the key 'todos' containing objects with 'taskName' and 'description' properties. " +
		"Ensure there are no duplicates between the existing list and the new suggestions."

	subtaskSystemPrompt = "I'm a project manager and I need help identifying missing sub tasks for a parent todo. " +
		"I have a list of existing sub tasks in JSON format, containing objects with 'taskName' and 'description' properties. " +
		"I also have a good understanding of the project scope. " +
		"Can you help me identify 2 additional sub tasks that are not yet included in this list? " +
		"Please provide these missing items in a separate JSON array with the key 'todos' containing objects with 'taskName' and 'description' properties. " +
		"Ensure there are no duplicates between the existing list and the new suggestions."
)

// existingItem is what the model sees of each current todo.
type existingItem struct {
	TaskName    string `json:"taskName"`
	Description string `json:"description"`
}

type projectPayload struct {
	Todos       []existingItem `json:"todos"`
	ProjectName string         `json:"projectName"`
}

type subtaskPayload struct {
	Todos       []existingItem `json:"todos"`
	ProjectName string         `json:"projectName"`
	ParentTodo  existingItem   `json:"parentTodo"`
}
