// Package send plans and executes outbound messages through the
// Messages app's automation interface.
package send

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// EscapeAppleScript escapes a string for embedding inside a
// double-quoted AppleScript literal. Backslashes must be escaped
// first; quotes, newlines, and tabs follow, so message text cannot
// break out of the generated command.
func EscapeAppleScript(s string) string {
	r := strings.NewReplacer(
		"\\", "\\\\",
		"\"", "\\\"",
		"\n", "\\n",
		"\r", "\\r",
		"\t", "\\t",
	)
	return r.Replace(s)
}

// buildSendScript generates the AppleScript that delivers body to
// recipient over the given channel's service.
func buildSendScript(channel Channel, recipient, body string) string {
	safeRecipient := EscapeAppleScript(recipient)
	safeBody := EscapeAppleScript(body)
	return fmt.Sprintf(`tell application "Messages"
	set targetService to 1st service whose service type = %s
	try
		set targetBuddy to participant "%s" of targetService
		send "%s" to targetBuddy
		return "success"
	on error errMsg
		try
			send "%s" to buddy "%s" of targetService
			return "success"
		on error errMsg2
			return "error:" & errMsg2
		end try
	end try
end tell`, channel, safeRecipient, safeBody, safeBody, safeRecipient)
}

// buildProbeScript generates the AppleScript that asks whether the
// iMessage service can address recipient.
func buildProbeScript(recipient string) string {
	safeRecipient := EscapeAppleScript(recipient)
	return fmt.Sprintf(`tell application "Messages"
	try
		set targetService to 1st service whose service type = iMessage
		set targetBuddy to participant "%s" of targetService
		return "available"
	on error
		return "unavailable"
	end try
end tell`, safeRecipient)
}

// Runner executes an automation script and returns its output. It is
// an interface so tests can stub the interpreter.
type Runner interface {
	Run(ctx context.Context, script string) (string, error)
}

// Osascript runs scripts through the system osascript interpreter.
type Osascript struct{}

// Run executes the script synchronously. The interpreter may take on
// the order of a second; callers bound it with ctx.
func (Osascript) Run(ctx context.Context, script string) (string, error) {
	cmd := exec.CommandContext(ctx, "osascript", "-e", script)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("osascript: %s", msg)
	}
	return strings.TrimSpace(stdout.String()), nil
}
