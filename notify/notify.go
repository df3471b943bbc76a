/*Package notify publishes the actor status keywords.

Log writes them to a logger, MQTT publishes them to a broker as retained
messages under a topic prefix, and Multi fans one update out to several
notifiers.  None of them block the caller on I/O.
*/
package notify

import (
	"github.com/sirupsen/logrus"

	"github.com/nasa-jpl/agcc/agcc"
)

// Log informs by logging key=value at Info level
type Log struct {
	Log logrus.FieldLogger
}

// Inform logs the update
func (l Log) Inform(key string, value interface{}) {
	log := l.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	log.WithField("key", key).Infof("%s=%v", key, value)
}

// Multi informs every notifier in order
type Multi []agcc.Notifier

// Inform passes the update to each notifier
func (m Multi) Inform(key string, value interface{}) {
	for _, n := range m {
		n.Inform(key, value)
	}
}
