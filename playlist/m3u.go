// Package playlist renders the channel lineup as an M3U playlist and the
// program guide as XMLTV, the two formats IPTV players actually consume.
package playlist

import (
	"fmt"
	"strings"

	"magioproxy/magio"
)

// M3U renders channels as an extended M3U playlist. serverURL is the base
// URL of the local proxy; stream and catchup links point back at it so the
// player never talks to the upstream directly.
func M3U(channels []magio.Channel, serverURL string) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")

	serverURL = strings.TrimRight(serverURL, "/")

	for _, ch := range channels {
		name := strings.ReplaceAll(ch.Name, " HD", "")

		fmt.Fprintf(&b, `#EXTINF:-1 tvg-id="%d" tvg-name="%s" group-title="%s"`,
			ch.ID, name, ch.Group)

		if ch.HasArchive && serverURL != "" {
			fmt.Fprintf(&b, ` catchup="default" catchup-source="%s/api/catchup/%d/${start}-${end}" catchup-days="7"`,
				serverURL, ch.ID)
		}
		if ch.Logo != "" {
			fmt.Fprintf(&b, ` tvg-logo="%s"`, ch.Logo)
		}

		fmt.Fprintf(&b, ",%s\n", name)

		if serverURL != "" {
			fmt.Fprintf(&b, "%s/api/stream/%d?redirect=1\n", serverURL, ch.ID)
		} else {
			b.WriteString("http://127.0.0.1/error.m3u8\n")
		}
	}

	return b.String()
}
