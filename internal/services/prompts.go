package services

import (
	"fmt"
	"strings"

	"lectern-backend/internal/models"
)

const socraticSystemInstruction = `You are a helpful AI assistant with a Socratic tutoring style.
Your goal is to guide users to their own conclusions rather than giving direct answers.
When a user asks a question, especially if context from a lecture slide is provided, ask probing questions that encourage them to think critically.
Keep your responses concise and conversational.
If the user's question is not related to the lecture context, you can answer it directly but maintain a helpful and encouraging tone.`

func buildScriptPrompt(req models.GenerateRequest) string {
	var b strings.Builder

	// Layer 1: role
	b.WriteString(fmt.Sprintf("You are an expert curriculum designer, adopting the persona of a %q. Generate a complete and detailed narration script for a lecture.\n", req.Persona))

	// Layer 2: parameters
	topic := req.Topic
	if strings.TrimSpace(topic) == "" {
		topic = "the provided file"
	}
	b.WriteString(fmt.Sprintf("- Topic: %s\n", topic))
	b.WriteString(fmt.Sprintf("- Target Audience: %s\n", req.Audience))
	if req.Duration != "" {
		b.WriteString(fmt.Sprintf("- Desired Length: %s\n", req.Duration))
	}

	// Layer 3: output rules
	b.WriteString("Your output MUST be ONLY the raw script text. Do not include any titles, headings, JSON formatting, markdown, or conversational text. Just the script itself.\n")

	return b.String()
}

func buildSlidesPrompt(script, theme string) string {
	var b strings.Builder

	b.WriteString("Based on the following narration script, generate a series of presentation slides.\n")
	if theme != "" {
		b.WriteString(fmt.Sprintf("- Visual Theme: %s\n", theme))
	}
	b.WriteString(`The output MUST be a single, valid JSON object with the structure: { "slides": [{ "title": "...", "content": ["..."], "speakerNotes": "..." }] }.
- The "content" array should contain the key bullet points for the slide.
- "speakerNotes" should be a concise summary for the presenter for that slide.
- Ensure all keys are in camelCase.
`)

	b.WriteString("Narration Script:\n---\n")
	b.WriteString(script)
	b.WriteString("\n---\n")

	return b.String()
}

func buildQuizResourcesPrompt(script string) string {
	var b strings.Builder

	b.WriteString("Based on the following narration script, generate a quiz and a list of further learning resources.\n")
	b.WriteString("Use Google Search to find relevant, up-to-date resources.\n")
	b.WriteString(`The output MUST be a single, valid JSON object with the structure: {
    "quiz": [{ "question": "...", "options": ["..."], "correctAnswer": "...", "explanation": "..." }],
    "resources": [{ "title": "...", "url": "...", "type": "article" | "video" | "course" }]
}.
- Provide at least 4 quiz questions.
- Provide at least 8 resources, with a mix of videos, articles, and courses.
- Ensure all keys are in camelCase.
`)

	b.WriteString("Narration Script:\n---\n")
	b.WriteString(script)
	b.WriteString("\n---\n")

	return b.String()
}

func buildMoreQuizPrompt(topic, script, persona string) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("Based on the lecture topic %q and script, generate 3 new, unique quiz questions in the style of a %q.\n", topic, persona))
	b.WriteString(`Your output MUST be a single, valid JSON array of question objects, with camelCase keys:
[{ "question": "...", "options": ["..."], "correctAnswer": "...", "explanation": "..." }]
`)

	b.WriteString("\n---SCRIPT---\n")
	b.WriteString(script)
	b.WriteString("\n---END---\n")

	return b.String()
}

func buildTranslatePrompt(payload, language string) string {
	return fmt.Sprintf(`You are an expert translator. Translate the text content in the following JSON object into %s, maintaining the original persona and tone.
Do NOT translate keys or change the JSON structure. Your output must be a single, valid JSON object with camelCase keys.
JSON to translate: %s`, language, payload)
}

func buildAssignmentPrompt(topic, script string) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("You are a university professor. Based on the lecture topic '%s', generate 3 distinct, open-ended assignment prompts that encourage critical thinking.\n", topic))
	b.WriteString(`Your output MUST be a valid JSON object: { "prompts": ["prompt1", "prompt2", "prompt3"] }. Use camelCase keys.`)

	if script != "" {
		b.WriteString("\n\n---SCRIPT---\n")
		b.WriteString(script)
		b.WriteString("\n---END---\n")
	}

	return b.String()
}

func buildGradingPrompt(assignmentPrompt string) string {
	return fmt.Sprintf(`You are a helpful teaching assistant. A student was given the prompt: '%s'.
Evaluate the submission based on the original lecture script for context.
Your evaluation should assess the following criteria:
1.  **Formatting & Neatness**: How well is the document formatted? Is it clean and easy to read?
2.  **Structure**: Does the submission have a logical flow (introduction, body, conclusion)? Is it well-organized?
3.  **Plagiarism**: Compare the submission against the provided lecture script. A low score (e.g., < 20) is good here.
4.  **Content Quality**: How well does it answer the prompt? Is the reasoning sound?

Provide a final score out of 10. Also provide separate scores for formatting, structure, and plagiarism, each out of 100.
Your output MUST be a valid JSON object with camelCase keys: {
  "score": number,
  "overall": "...",
  "strengths": ["..."],
  "improvements": ["..."],
  "formatting": number,
  "structure": number,
  "plagiarism": number
}.`, assignmentPrompt)
}

func submissionTextPrompt(submission, script, instructions string) string {
	return fmt.Sprintf("The student submitted the following text: '%s'. The original lecture script is:\n---\n%s\n---\n%s", submission, script, instructions)
}

func buildChatPrompt(message string, slide *models.Slide, slideIndex int) string {
	if slide == nil {
		return message
	}
	return fmt.Sprintf(`---
Current Lecture Context (Slide %d):
Title: %s
Content: %s
Speaker Notes: %s
---
Based on this context, guide me on my question: %q`,
		slideIndex+1, slide.Title, strings.Join(slide.Content, ", "), slide.SpeakerNotes, message)
}

// buildSpeechPrompt picks a delivery tone for the persona.
func buildSpeechPrompt(script, persona string) string {
	switch persona {
	case "Calm Teacher":
		return "Say in a calm, patient, and encouraging tone: " + script
	case "Funny Teacher":
		return "Say in a cheerful, humorous, and engaging tone, with energetic delivery: " + script
	case "IIT Professor":
		return "Say in a formal, knowledgeable, and precise tone, suitable for a university lecture: " + script
	case "CBSE Teacher":
		return "Say in a clear, structured, and slightly formal tone, as if explaining concepts for a board exam: " + script
	default:
		return "Please read the following text aloud: " + script
	}
}

// truncateRunes cuts s to at most n characters without splitting a rune.
func truncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
