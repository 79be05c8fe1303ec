package imagecodec

import (
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog/log"
)

// sniff compares magic bytes against the extension-derived type. The
// extension stays authoritative; mismatches are only logged.
func sniff(data []byte, declared, ref string) string {
	detected := mimetype.Detect(data)
	actual := detected.String()
	switch {
	case !strings.HasPrefix(actual, "image/"):
		log.Warn().Str("ref", ref).Str("declared", declared).Str("detected", actual).Msg("image content does not look like an image")
	case !detected.Is(declared):
		log.Debug().Str("ref", ref).Str("declared", declared).Str("detected", actual).Msg("image extension disagrees with content")
	}
	return actual
}
