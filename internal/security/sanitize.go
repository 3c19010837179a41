package security

import (
	"regexp"
	"strings"

	"ctf-range/internal/store"
)

// SanitizeResult reports whether raw input is safe to pass downstream.
type SanitizeResult struct {
	Valid   bool   `json:"valid"`
	Cleaned string `json:"cleaned,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// blockedPattern pairs a compiled pattern with the category recorded in the
// audit log. The raw payload itself is never written to the log.
type blockedPattern struct {
	category string
	re       *regexp.Regexp
}

var blockedPatterns = []blockedPattern{
	{"command-substitution", regexp.MustCompile(`(?i)\$\(`)},
	{"command-substitution", regexp.MustCompile("(?i)`[^`]+`")},
	{"command-chaining", regexp.MustCompile(`(?i)(;|&&|\|\|)`)},
	{"path-traversal", regexp.MustCompile(`(?i)\.\./`)},
	{"path-traversal", regexp.MustCompile(`(?i)/etc/(passwd|shadow)`)},
	{"container-escape", regexp.MustCompile(`(?i)\b(docker|containerd|runc|ctr|kubectl)\b`)},
	{"container-escape", regexp.MustCompile(`(?i)\b(nsenter|unshare|chroot|mount)\b`)},
	{"container-escape", regexp.MustCompile(`(?i)/var/run/docker\.sock`)},
	{"privilege-escalation", regexp.MustCompile(`(?i)\b(sudo|doas|setuid)\b`)},
	{"destructive", regexp.MustCompile(`(?i)\brm\s+-[a-z]*f`)},
	{"destructive", regexp.MustCompile(`(?i)\b(mkfs|shred)\b`)},
	{"destructive", regexp.MustCompile(`(?i)\bdd\b.*\bof=`)},
	{"remote-shell", regexp.MustCompile(`(?i)\bnc\b.*-e`)},
	{"remote-shell", regexp.MustCompile(`(?i)/dev/tcp/`)},
	{"remote-shell", regexp.MustCompile(`(?i)\bbash\s+-i\b`)},
	{"remote-fetch", regexp.MustCompile(`(?i)\b(curl|wget)\b`)},
	{"remote-fetch", regexp.MustCompile(`(?i)https?://`)},
	{"code-execution", regexp.MustCompile(`(?i)\b(eval|exec)\b`)},
}

// Sanitizer validates raw user input before it reaches any execution path.
type Sanitizer struct {
	store *store.Store
}

// NewSanitizer builds a sanitizer that audits rejections.
func NewSanitizer(st *store.Store) *Sanitizer {
	return &Sanitizer{store: st}
}

// Sanitize checks raw input against the blocklist. Matching happens on the
// untrimmed string; only surrounding whitespace is stripped for Cleaned.
// Rejected input is never forwarded downstream.
func (s *Sanitizer) Sanitize(raw string) SanitizeResult {
	if strings.TrimSpace(raw) == "" {
		return SanitizeResult{Valid: false, Reason: "Empty input"}
	}

	for _, p := range blockedPatterns {
		if p.re.MatchString(raw) {
			if s.store != nil {
				s.store.Audit("BLOCKED_INPUT", "", "pattern category: "+p.category)
			}
			return SanitizeResult{Valid: false, Reason: "Invalid input detected"}
		}
	}

	return SanitizeResult{Valid: true, Cleaned: strings.TrimSpace(raw)}
}
