// Package notify sends desktop notifications when long runs finish.
// Extraction and classification runs take minutes to hours because of
// request pacing, so the CLI can ping the operator instead of being
// watched.
package notify

import (
	"fmt"
	"os/exec"
	"runtime"

	"postvault/pkg/logger"
)

// Sender delivers one notification to the host desktop.
type Sender interface {
	Send(title, message string) error
}

// linuxSender uses notify-send.
type linuxSender struct{}

func (linuxSender) Send(title, message string) error {
	return exec.Command("notify-send", title, message).Run()
}

// macSender uses osascript.
type macSender struct{}

func (macSender) Send(title, message string) error {
	script := fmt.Sprintf(`display notification %q with title %q`, message, title)
	return exec.Command("osascript", "-e", script).Run()
}

// windowsSender uses a PowerShell toast.
type windowsSender struct{}

func (windowsSender) Send(title, message string) error {
	script := fmt.Sprintf(`
		[Windows.UI.Notifications.ToastNotificationManager, Windows.UI.Notifications, ContentType = WindowsRuntime] | Out-Null
		[Windows.Data.Xml.Dom.XmlDocument, Windows.Data.Xml.Dom.XmlDocument, ContentType = WindowsRuntime] | Out-Null
		$xml = @"
<toast>
	<visual>
		<binding template="ToastText02">
			<text id="1">%s</text>
			<text id="2">%s</text>
		</binding>
	</visual>
</toast>
"@
		$doc = [Windows.Data.Xml.Dom.XmlDocument]::new()
		$doc.LoadXml($xml)
		$toast = [Windows.UI.Notifications.ToastNotification]::new($doc)
		[Windows.UI.Notifications.ToastNotificationManager]::CreateToastNotifier("postvault").Show($toast)
	`, title, message)
	return exec.Command("powershell", "-NoProfile", "-NonInteractive", "-Command", script).Run()
}

// Notifier delivers notifications through the platform sender. A nil
// sender (unsupported OS or notifications disabled) makes every call a
// logged no-op, so callers never need to branch.
type Notifier struct {
	sender Sender
	log    logger.Logger
}

// New picks the sender for the current OS.
func New(log logger.Logger) *Notifier {
	if log == nil {
		log = logger.NewNopLogger()
	}

	var sender Sender
	switch runtime.GOOS {
	case "linux":
		sender = linuxSender{}
	case "darwin":
		sender = macSender{}
	case "windows":
		sender = windowsSender{}
	}

	return &Notifier{sender: sender, log: log}
}

// Disabled returns a notifier that never sends.
func Disabled() *Notifier {
	return &Notifier{log: logger.NewNopLogger()}
}

// WithSender replaces the platform sender. Tests inject a recorder
// here.
func (n *Notifier) WithSender(s Sender) *Notifier {
	n.sender = s
	return n
}

// Send delivers one notification. Delivery failures are logged and
// swallowed; a missing desktop must never fail a finished run.
func (n *Notifier) Send(title, message string) {
	if n.sender == nil {
		return
	}
	if err := n.sender.Send(title, message); err != nil {
		n.log.DebugWithFields("desktop notification failed", map[string]interface{}{
			"title": title,
			"error": err.Error(),
		})
	}
}

// ExtractionDone announces a finished extraction run.
func (n *Notifier) ExtractionDone(platform string, processed, skipped, errors int) {
	n.Send("postvault: extraction finished",
		fmt.Sprintf("%s: %d new, %d skipped, %d errors", platform, processed, skipped, errors))
}

// ClassificationDone announces a finished classification run.
func (n *Notifier) ClassificationDone(classified, failed int) {
	n.Send("postvault: classification finished",
		fmt.Sprintf("%d labeled, %d failed", classified, failed))
}

// RunFailed announces a run that ended in a fatal error.
func (n *Notifier) RunFailed(what string, err error) {
	n.Send("postvault: "+what+" failed", err.Error())
}
