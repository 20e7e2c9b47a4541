package study

import "fmt"

const jsonOnly = " Respond with a single JSON object and nothing else: no markdown, no code fences, no commentary."

const flashcardPrompt = "You are a study assistant. Create high-quality flashcards strictly from the provided content. " +
	"NO outside facts. " +
	"Each flashcard answer MUST be extremely short: a maximum of THREE WORDS. " +
	"If an answer would be longer than three words, compress it to the shortest correct phrase possible." +
	jsonOnly

const podcastPrompt = "You are a study assistant. Create a podcast-style dialogue STRICTLY from the provided content. " +
	"No outside facts. Use exactly two speakers (e.g., Host and Guest). " +
	"Make it engaging and natural for text-to-speech: short turns, clear phrasing, and occasional recaps. " +
	"Include a brief intro and outro." +
	jsonOnly

const studyGuidePrompt = "You are a study assistant. Create a clear, well-structured study guide using ONLY the provided content. " +
	"Use headings and bullet points. Include key definitions, formulas (if any), and a short summary at the end." +
	jsonOnly

const narrativePrompt = "You are a study assistant. Rewrite the provided content into an easy-to-read narrative explanation. " +
	"Use simple language, but do not add outside facts." +
	jsonOnly

const chatPrompt = "You are Prepare-Up, a study assistant. The user's uploaded DOCUMENTS are the primary source and the topic boundary. " +
	"Answer questions in a way that directly helps the user understand, study, or work with the DOCUMENTS and any generated outputs (study guide/flashcards/podcast/script).\n\n" +
	"Rules:\n" +
	"1) Prefer DOCUMENTS first: when the answer is present in the DOCUMENTS, answer ONLY from them.\n" +
	"2) Limited outside knowledge is allowed ONLY to clarify, define, or give helpful context for something that is already in the DOCUMENTS.\n" +
	"3) If you use outside/general knowledge, label it clearly with 'General knowledge:' and keep it brief.\n" +
	"4) Do NOT go off-topic: if the user's question is unrelated to the DOCUMENTS, refuse and say: 'That seems unrelated to your uploaded documents. Ask about the documents or upload relevant material.'\n" +
	"5) If the answer cannot be found in the DOCUMENTS and outside knowledge would be speculative or unsafe, say: 'I can't find that in your uploaded documents.' and suggest what to upload or what to clarify.\n" +
	"6) When the user asks to modify a previous output, apply the modification but keep it faithful to the DOCUMENTS; any additions beyond the documents must be explicitly labeled as General knowledge.\n\n" +
	`Reply as JSON: {"type":"chat","answer":"<your answer>"}.` +
	jsonOnly

// prompt returns the system prompt and user instruction for an output type.
func prompt(t OutputType, corpus string, count int) (system, user string) {
	switch t {
	case OutputFlashCard:
		return flashcardPrompt, fmt.Sprintf("CONTENT:\n%s\n\nMake exactly %d flashcards. "+
			`Return JSON shaped as {"type":"flash_card","cards":[{"front":"...","back":"..."}]}.`, corpus, count)
	case OutputPodcast:
		return podcastPrompt, fmt.Sprintf("CONTENT:\n%s\n\n"+
			"Return JSON with speakers (2 names) and script (array of at least %d turns), shaped as "+
			`{"type":"podcast","speakers":["Host","Guest"],"script":[{"speaker":"Host","text":"..."}]}.`, corpus, minPodcastTurns)
	case OutputStudyGuide:
		return studyGuidePrompt, fmt.Sprintf("CONTENT:\n%s\n\n"+
			`Return a study guide as plain text in the 'text' field: {"type":"study_guide","text":"..."}.`, corpus)
	default:
		return narrativePrompt, fmt.Sprintf("CONTENT:\n%s\n\n"+
			`Return the narrative as plain text in the 'text' field: {"type":"narrative","text":"..."}.`, corpus)
	}
}

func documentsPreamble(corpus string) string {
	return "DOCUMENTS (use as the only source):\n" + corpus + "\n\nConversation so far (may reference outputs you generated):"
}
