package policy

import "strings"

// Classifier verdicts.
const (
	SubjectAllowed  = "ALLOWED"
	SubjectRejected = "REJECTED"
)

// QuestionValidatorPromptTemplate asks the classification model for a
// one-word verdict. {query} is replaced with the user question.
const QuestionValidatorPromptTemplate = `
Instructions:
- You are a question classifying tool
- You are an expert in ansible
- Your job is to determine where or a user's question is related to ansible technologies and to provide a one-word response
- If a question appears to be related to ansible technologies, answer with the word ` + SubjectAllowed + `, otherwise answer with the word ` + SubjectRejected + `
- Do not explain your answer, just provide the one-word response


Example Question:
Why is the sky blue?
Example Response:
` + SubjectRejected + `

Example Question:
Can you help generate an ansible playbook to install an ansible collection?
Example Response:
` + SubjectAllowed + `

Example Question:
Can you help write an ansible role to install an ansible collection?
Example Response:
` + SubjectAllowed + `

Question:
{query}
Response:
`

// RenderValidatorPrompt fills the template.
func RenderValidatorPrompt(query string) string {
	return strings.Replace(QuestionValidatorPromptTemplate, "{query}", query, 1)
}
