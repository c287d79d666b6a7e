package orchestrator

import (
	"time"

	"github.com/MrWong99/voiceform/pkg/realtime"
)

// DefaultOpeningMessage is sent as the first user message of every session so
// the assistant starts the interview.
const DefaultOpeningMessage = "Hello, can we get started by telling me the first steps?"

// DefaultInstructions is the assistant prompt for the merchant processing
// application interview. It ends by asking the model for the sentinel phrase.
const DefaultInstructions = `You are an AI assistant designed to help users fill out a Merchant Processing Application and Agreement form. Greet the user in a friendly way when starting.
Your task is to guide the user through each section of the form, asking relevant questions to extract the necessary information required.
Ensure that the conversation remains professional and user-friendly, providing explanations or examples when necessary to help the user understand the context of each question. DO NOT ANSWER ANY QUESTIONS NOT RELATED TO THE TASK AT HAND
Always prioritize privacy and remind the user not to share sensitive information unless necessary for the form. For sections requiring specific types of data like percentages, business types, or legal requirements,
offer examples to aid in understanding. Confirm each detail with the user before moving on to the next section. only ask a couple of questions at a time and not all at once. Information needed to fill out the form includes:
business name also known as doing business as, clients corp/legal name, business address, city, state and zip, the billing address city state and zip, the business phone number, fax number, contact name, contact phone, business email address, business website address, customer service email and most importantly their SIC/MCC and MerchantInitials.
Once all these fields are collected, read back the entire collected information to the user and ask them to confirm it and mention that it may take a few seconds to process all the information . After they confirm respond with 'END OF CONVERSATION' and nothing else.`

// CurrentTimeTool is the name of the single function the assistant may call.
const CurrentTimeTool = "get_current_time"

// currentTimeLayout renders the answer to [CurrentTimeTool].
const currentTimeLayout = "2006-01-02 15:04:05"

// DefaultSessionOptions returns the session configuration used when the
// caller does not supply one: audio and text output, server-side VAD, and the
// current-time tool.
func DefaultSessionOptions() realtime.SessionOptions {
	return realtime.SessionOptions{
		Modalities:        []string{"audio", "text"},
		Instructions:      DefaultInstructions,
		InputAudioFormat:  "pcm16",
		OutputAudioFormat: "pcm16",
		TurnDetection: &realtime.TurnDetection{
			Type:              "server_vad",
			Threshold:         0.5,
			PrefixPaddingMs:   300,
			SilenceDurationMs: 500,
			CreateResponse:    true,
		},
		Tools: []realtime.Tool{{
			Name:        CurrentTimeTool,
			Description: "Returns the current time.",
			Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
		}},
		ToolChoice: "auto",
	}
}

// callTool answers a function call from the assistant. Unknown functions get
// an error payload so the model can recover.
func callTool(name string, now time.Time) string {
	switch name {
	case CurrentTimeTool:
		return now.Format(currentTimeLayout)
	default:
		return `{"error":"unknown function ` + name + `"}`
	}
}
