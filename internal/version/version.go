// Package version хранит сведения о сборке, подставляемые через -ldflags:
//
//	go build -ldflags "-X github.com/vladislavdragonenkov/enrolcart/internal/version.version=v1.2.0"
package version

import (
	"fmt"

	log "github.com/sirupsen/logrus"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Build — сведения о текущей сборке сервиса корзин.
type Build struct {
	Version string
	Commit  string
	Date    string
}

// Current возвращает сведения о сборке, с которыми запущен процесс.
func Current() Build {
	return Build{Version: version, Commit: commit, Date: date}
}

func (b Build) String() string {
	return fmt.Sprintf("enrolcart version=%s commit=%s date=%s", b.Version, b.Commit, b.Date)
}

// LogFields — поля для стартового сообщения в логе.
func (b Build) LogFields() log.Fields {
	return log.Fields{
		"version": b.Version,
		"commit":  b.Commit,
		"built":   b.Date,
	}
}
