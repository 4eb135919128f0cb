package dataset

import (
	"fmt"
	"strings"
)

// Emotions lists the emotion classes in code order
var Emotions = []string{"anger", "disgust", "fear", "joy", "neutral", "sadness", "surprise"}

var emotionCodes = func() map[string]int {
	codes := make(map[string]int, len(Emotions))
	for i, name := range Emotions {
		codes[name] = i
	}
	return codes
}()

// EmotionCode maps an emotion name to its class code
func EmotionCode(name string) (int, error) {
	code, ok := emotionCodes[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, fmt.Errorf("unknown emotion %q", name)
	}
	return code, nil
}

// EmotionName maps a class code back to its name
func EmotionName(code int) string {
	if code < 0 || code >= len(Emotions) {
		return fmt.Sprintf("Unknown(%d)", code)
	}
	return Emotions[code]
}
