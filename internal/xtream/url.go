// Package xtream talks to Xtream Codes providers: stream URL construction,
// the player_api.php catalog client, and account probing.
package xtream

import (
	"strconv"
	"strings"
)

// escapeCred percent-encodes every byte outside the unreserved set. Stricter
// than url.PathEscape on purpose: Xtream panels parse the /live/user/pass/
// path naively, so reserved-but-path-legal characters in credentials
// (+ & = and friends) must not appear literally.
func escapeCred(s string) string {
	const unreserved = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-._~"
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if strings.IndexByte(unreserved, c) >= 0 {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		const hex = "0123456789ABCDEF"
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&0xF])
	}
	return b.String()
}

// StreamURL builds the provider playback URL for a live stream:
// {server}/live/{user}/{pass}/{stream_id}.ts with credentials escaped.
func StreamURL(serverURL, username, password string, streamID int) string {
	base := strings.TrimSuffix(strings.TrimSpace(serverURL), "/")
	return base + "/live/" + escapeCred(username) + "/" + escapeCred(password) + "/" +
		strconv.Itoa(streamID) + ".ts"
}
