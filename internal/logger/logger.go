package logger

import (
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

type Options struct {
	Level     string
	Format    string // json | text
	RedactPII bool
}

// New builds the process logger. Unknown levels fall back to info.
func New(opt Options) *logrus.Logger {
	return NewWithOutput(opt, os.Stdout)
}

func NewWithOutput(opt Options, out io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(out)
	lvl, err := logrus.ParseLevel(opt.Level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)
	if strings.EqualFold(opt.Format, "text") {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	} else {
		l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	}
	if opt.RedactPII {
		l.AddHook(RedactHook{})
	}
	return l
}

var emailRe = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)

// RedactEmail masks the local part: "john.doe@example.com" -> "jo***@example.com".
func RedactEmail(email string) string {
	at := strings.LastIndexByte(email, '@')
	if at < 0 {
		return "***@***"
	}
	name, domain := email[:at], email[at+1:]
	if len(name) > 2 {
		return name[:2] + "***@" + domain
	}
	return "***@" + domain
}

func redactString(s string) string {
	if !strings.Contains(s, "@") {
		return s
	}
	return emailRe.ReplaceAllStringFunc(s, RedactEmail)
}

// RedactHook masks email addresses in string fields and in the message.
type RedactHook struct{}

func (RedactHook) Levels() []logrus.Level { return logrus.AllLevels }

func (RedactHook) Fire(e *logrus.Entry) error {
	e.Message = redactString(e.Message)
	for k, v := range e.Data {
		switch x := v.(type) {
		case string:
			e.Data[k] = redactString(x)
		case error:
			e.Data[k] = redactString(x.Error())
		}
	}
	return nil
}
