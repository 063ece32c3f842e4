package health

import (
	"regexp"

	"github.com/c360/confsync/errors"
)

// scrubbers rewrite error text before it lands in a status. Health
// output ends up in dashboards and probe logs with a wider audience
// than the daemon's own logs, so URLs, paths, addresses, and anything
// credential-shaped are replaced with placeholders. Order matters:
// URLs before paths, since a URL contains one.
var scrubbers = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile(`https?://[^\s]+`), "[URL]"},
	{regexp.MustCompile(`nats://[^\s]+`), "[URL]"},
	{regexp.MustCompile(`/[a-zA-Z0-9/_.-]+`), "[PATH]"},
	{regexp.MustCompile(`[A-Z]:\\[^:\s]+`), "[PATH]"},
	{regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`), "[IP]"},
	{regexp.MustCompile(`:\d{2,5}\b`), "[PORT]"},
	{regexp.MustCompile(`(?i)(password|token|key|secret|credential)[^a-zA-Z]*[:=][^,\s}]+`), "[REDACTED]"},
}

func scrub(msg string) string {
	for _, s := range scrubbers {
		msg = s.re.ReplaceAllString(msg, s.repl)
	}
	return msg
}

// FromError derives a status from a classified error. A nil error is
// healthy. A transient error is degraded, since the subsystem is
// expected to recover; everything else is unhealthy. The error text is
// scrubbed before it enters the status.
func FromError(component string, err error) Status {
	switch {
	case err == nil:
		return NewHealthy(component, "operating normally")
	case errors.IsTransient(err):
		return NewDegraded(component, scrub(err.Error()))
	default:
		return NewUnhealthy(component, scrub(err.Error()))
	}
}
