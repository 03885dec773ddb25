package helper

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// NewDocumentID creates a random document id.
func NewDocumentID() string {
	return uuid.NewString()
}

// NewConversationID creates a short conversation id, e.g. conv_a1b2c3d4e5f6.
func NewConversationID() string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "conv_" + hex[:12]
}

// pretty print
func PrettyPrint(v interface{}) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Warn().Msg("Error pretty printing")
	}
	fmt.Println(string(b))
}
