package enrich

import (
	"fmt"
	"strings"
)

const systemPromptTemplate = `You write short retrieval contexts for chunks of a markdown document.

For the chunk given by the user, write one context paragraph that covers:
- how the chunk relates to the whole document
- the key terms a reader would search for
- what the chunk contains and its purpose (definition, example, instruction, list...)
- its format (paragraph, section, table, code block...)
- its main idea

Rules:
- Write the context in the same language as the document.
- Be concise and optimise for search retrieval.
- Do not copy the chunk text into the context.
- Answer with a JSON object of the form {"context": "<context>"} and nothing else.
%s
<document>
%s
</document>`

const userPromptTemplate = `<chunk>
%s
</chunk>`

// systemPrompt renders the instruction template with the whole document.
func systemPrompt(document, additionalInstructions string) string {
	extra := ""
	if s := strings.TrimSpace(additionalInstructions); s != "" {
		extra = "\nAdditional instructions:\n" + s + "\n"
	}
	return fmt.Sprintf(systemPromptTemplate, extra, document)
}

func userPrompt(chunkContent string) string {
	return fmt.Sprintf(userPromptTemplate, chunkContent)
}
