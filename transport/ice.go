package transport

import (
	"strings"

	"github.com/pion/webrtc/v4"
)

// ICEServer is one STUN or TURN endpoint.
type ICEServer struct {
	URLs       []string
	Username   string
	Credential string
}

// ICEServersFromURLs builds one server per URL. TURN URLs get the given
// credentials; STUN URLs never carry them.
func ICEServersFromURLs(urls []string, username, credential string) []ICEServer {
	servers := make([]ICEServer, 0, len(urls))
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		s := ICEServer{URLs: []string{u}}
		if strings.HasPrefix(u, "turn:") || strings.HasPrefix(u, "turns:") {
			s.Username = username
			s.Credential = credential
		}
		servers = append(servers, s)
	}
	return servers
}

func toWebRTCServers(servers []ICEServer) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(servers))
	for _, s := range servers {
		ws := webrtc.ICEServer{URLs: append([]string(nil), s.URLs...), Username: s.Username}
		if s.Credential != "" {
			ws.Credential = s.Credential
		}
		out = append(out, ws)
	}
	return out
}
