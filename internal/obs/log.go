package obs

import (
	"encoding/json"
	stdlog "log"
	"os"
	"time"
)

var (
	base         = stdlog.New(os.Stdout, "", 0)
	debugEnabled bool
)

// EnableDebug globally enables debug logs.
func EnableDebug(v bool) { debugEnabled = v }

type Fields map[string]any

// Log is a component-scoped logger: every line it emits is a JSON object
// tagged with the owning component (tunnel, forward, client, ...), so the
// interleaved output of concurrent forwards stays attributable.
type Log struct {
	component string
}

// Component returns a logger scoped to name.
func Component(name string) Log {
	return Log{component: name}
}

func (l Log) write(level, msg string, f Fields) {
	if f == nil {
		f = Fields{}
	}
	f["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	f["level"] = level
	f["component"] = l.component
	f["msg"] = msg
	b, err := json.Marshal(f)
	if err != nil {
		base.Printf("{\"level\":\"error\",\"msg\":\"log marshal failure\",\"err\":%q}", err.Error())
		return
	}
	base.Println(string(b))
}

func (l Log) Info(msg string, f Fields)  { l.write("info", msg, f) }
func (l Log) Error(msg string, f Fields) { l.write("error", msg, f) }
func (l Log) Debug(msg string, f Fields) {
	if debugEnabled {
		l.write("debug", msg, f)
	}
}
