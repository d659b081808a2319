package testlog

import (
	"testing"

	"github.com/RobJellinghaus/Holofunk3-sub001/internal/logging"
	"github.com/rs/zerolog/log"
)

func Start(t *testing.T) {
	t.Helper()
	logging.ConfigureTests()
	log.Info().Msgf("test=%s", t.Name())
}
