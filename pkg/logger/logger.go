// Package logger настраивает глобальный zerolog.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup выставляет уровень и формат глобального логгера.
// Неизвестный уровень трактуется как info.
func Setup(level string, pretty bool) zerolog.Level {
	return SetupWriter(os.Stderr, level, pretty)
}

// SetupWriter - то же, что Setup, но с явным приёмником
func SetupWriter(out io.Writer, level string, pretty bool) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	if pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05.000"}
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
	return lvl
}
