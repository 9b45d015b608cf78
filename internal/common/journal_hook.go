// Inspired by github.com/wercker/journalhook (MIT license)
package common

import (
	"fmt"
	"strings"

	"github.com/coreos/go-systemd/v22/journal"
	"github.com/sirupsen/logrus"
)

// JournalHook forwards logrus entries to the systemd journal. The on-image
// tools (healthcheck, maintenance) attach it so their results end up in the
// host journal instead of a container log.
type JournalHook struct{}

var severityMap = map[logrus.Level]journal.Priority{
	logrus.DebugLevel: journal.PriDebug,
	logrus.InfoLevel:  journal.PriInfo,
	logrus.WarnLevel:  journal.PriWarning,
	logrus.ErrorLevel: journal.PriErr,
	logrus.FatalLevel: journal.PriCrit,
	logrus.PanicLevel: journal.PriEmerg,
}

// The journal only accepts field names made of uppercase letters, digits and
// underscores, not starting with an underscore.
func journalKey(key string) string {
	key = strings.Map(func(r rune) rune {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		case r >= 'a' && r <= 'z':
			return r - 32
		default:
			return '_'
		}
	}, key)
	return strings.TrimPrefix(key, "_")
}

// Journal wants strings but logrus takes anything.
func journalFields(data map[string]interface{}) map[string]string {
	fields := make(map[string]string, len(data))
	for k, v := range data {
		fields[journalKey(k)] = fmt.Sprint(v)
	}
	return fields
}

func (hook *JournalHook) Fire(entry *logrus.Entry) error {
	return journal.Send(entry.Message, severityMap[entry.Level], journalFields(entry.Data))
}

func (hook *JournalHook) Levels() []logrus.Level {
	return logrus.AllLevels
}
