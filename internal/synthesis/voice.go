package synthesis

import "strings"

// SelectVoice returns the assistant's voice when one is set, otherwise
// defaultVoice.
func SelectVoice(assistant *AssistantContext, defaultVoice string) string {
	if assistant != nil {
		if v := strings.TrimSpace(assistant.Voice); v != "" {
			return v
		}
	}
	return defaultVoice
}
