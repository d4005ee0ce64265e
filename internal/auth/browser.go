package auth

import (
	"os/exec"
	"runtime"
)

// openBrowser launches the platform's default browser at the given URL.
// The default openURL for browserCredential; tests replace it.
func openBrowser(u string) error {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", u).Start()
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", u).Start()
	default:
		return exec.Command("xdg-open", u).Start()
	}
}
