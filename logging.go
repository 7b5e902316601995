package benchalot

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewRunLogger opens a per-run temporary log file and returns a logger
// that fans every event out to both it and the console, mirroring
// original_source/src/log.py's setup_benchmarker_logging: a console
// handler plus a file handler on the same "benchmarker" logger.
// Grounded on cedana-cedana's api/server.go, which builds a logger's
// output as io.MultiWriter(consoleWriter, fileWriter). The caller is
// responsible for closing the returned file; on abnormal exit it
// should be left in place and its path reported to the user, mirroring
// log.py's msg_log_file.
func NewRunLogger(verbose, debug bool) (zerolog.Logger, *os.File, error) {
	level := zerolog.WarnLevel
	if verbose {
		level = zerolog.InfoLevel
	}
	if debug {
		level = zerolog.DebugLevel
	}

	console := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.TimeOnly,
		NoColor:    !isTerminal(os.Stderr),
	}

	f, err := os.CreateTemp("", "benchalot-run-*.log")
	if err != nil {
		return zerolog.New(console).Level(level).With().Timestamp().Logger(), nil, &IOError{Path: "", Required: false, Err: err}
	}
	fileOutput := zerolog.ConsoleWriter{Out: f, TimeFormat: time.TimeOnly, NoColor: true}

	logger := zerolog.New(io.MultiWriter(console, fileOutput)).Level(level).With().Timestamp().Logger()
	return logger, f, nil
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
