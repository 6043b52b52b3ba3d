package mqtt

import (
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/flybeeper/drone-footprint/pkg/utils"
)

// pahoLog адаптер внутренних логгеров paho к logrus с фиксированным уровнем
type pahoLog struct {
	entry *logrus.Entry
	level logrus.Level
}

func (p pahoLog) Println(v ...interface{}) {
	p.entry.Logln(p.level, v...)
}

func (p pahoLog) Printf(format string, v ...interface{}) {
	p.entry.Logf(p.level, format, v...)
}

// routePahoLogs направляет ошибки и предупреждения paho в общий лог.
// Логгеры paho глобальные: последний созданный клиент переопределяет их.
func routePahoLogs(logger *utils.Logger) {
	entry := logger.WithField("source", "paho").Entry()
	paho.CRITICAL = pahoLog{entry: entry, level: logrus.ErrorLevel}
	paho.ERROR = pahoLog{entry: entry, level: logrus.ErrorLevel}
	paho.WARN = pahoLog{entry: entry, level: logrus.WarnLevel}
}
