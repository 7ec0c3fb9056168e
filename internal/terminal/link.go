package terminal

import (
	"fmt"
	"strings"

	"github.com/abcdlsj/cr"
)

// Link renders text as an OSC 8 hyperlink, terminals without support show
// the underlined text only.
func Link(url, text string) string {
	return fmt.Sprintf("\033]8;;%s\033\\%s\033]8;;\033\\", url, cr.PWhiteUnderline(text))
}

// AdminLink points at the stats endpoint of an admin server on addr.
func AdminLink(addr string) string {
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	url := "http://" + addr + "/stats"
	return Link(url, url)
}
