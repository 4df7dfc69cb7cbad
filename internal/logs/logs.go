package logs

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// New tworzy logger piszący do pliku (append) i opcjonalnie na konsolę.
// Ustawia też globalny log.Logger.
func New(logFilePath string, withConsole bool) zerolog.Logger {
	logFile, err := os.OpenFile(logFilePath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o666)
	if err != nil {
		log.Fatal().Err(err).Str("path", logFilePath).Msg("cannot open log file")
	}
	return NewWriter(logFile, withConsole)
}

// NewWriter buduje logger na dowolnym io.Writer (testy, stdout w kontenerze).
func NewWriter(w io.Writer, withConsole bool) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	writer := w
	if withConsole {
		consoleWriter := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		writer = zerolog.MultiLevelWriter(w, consoleWriter)
	}

	logger := zerolog.New(writer).With().
		Timestamp().
		Caller().
		Logger()

	log.Logger = logger

	return logger
}

// SetLevel ustawia globalny poziom; nieznana nazwa -> info.
func SetLevel(name string) {
	lvl, err := zerolog.ParseLevel(name)
	if err != nil || name == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}
