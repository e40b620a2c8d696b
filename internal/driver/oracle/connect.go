package oracle

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	go_ora "github.com/sijms/go-ora/v2"
)

// DefaultPort is the listener port assumed when the connect string has none.
const DefaultPort = 1521

// ConnectInfo is a parsed EZConnect string: user/password@host[:port]/service.
type ConnectInfo struct {
	User     string
	Password string
	Host     string
	Port     int
	Service  string
}

// ParseConnect accepts EZConnect ("scott/tiger@db:1521/ORCLPDB1", optionally
// with "//" before the host) or a go-ora "oracle://" URL.
func ParseConnect(s string) (ConnectInfo, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "oracle://") {
		return parseURL(s)
	}
	at := strings.LastIndex(s, "@")
	if at < 0 {
		return ConnectInfo{}, fmt.Errorf("oracle connect string %q: missing @", s)
	}
	var ci ConnectInfo
	cred, addr := s[:at], strings.TrimPrefix(s[at+1:], "//")
	ci.User, ci.Password, _ = strings.Cut(cred, "/")
	hostport, service, ok := strings.Cut(addr, "/")
	if !ok || service == "" {
		return ConnectInfo{}, fmt.Errorf("oracle connect string %q: missing service", s)
	}
	ci.Service = service
	ci.Host, ci.Port = hostport, DefaultPort
	if h, p, ok := strings.Cut(hostport, ":"); ok {
		port, err := strconv.Atoi(p)
		if err != nil {
			return ConnectInfo{}, fmt.Errorf("oracle connect string %q: bad port: %w", s, err)
		}
		ci.Host, ci.Port = h, port
	}
	if ci.User == "" || ci.Host == "" {
		return ConnectInfo{}, fmt.Errorf("oracle connect string %q: missing user or host", s)
	}
	return ci, nil
}

func parseURL(s string) (ConnectInfo, error) {
	u, err := url.Parse(s)
	if err != nil {
		return ConnectInfo{}, fmt.Errorf("oracle url: %w", err)
	}
	ci := ConnectInfo{Host: u.Hostname(), Port: DefaultPort, Service: strings.TrimPrefix(u.Path, "/")}
	if p := u.Port(); p != "" {
		if ci.Port, err = strconv.Atoi(p); err != nil {
			return ConnectInfo{}, fmt.Errorf("oracle url: bad port: %w", err)
		}
	}
	if u.User != nil {
		ci.User = u.User.Username()
		ci.Password, _ = u.User.Password()
	}
	return ci, nil
}

// URL is the go-ora driver URL.
func (c ConnectInfo) URL() string {
	return go_ora.BuildUrl(c.Host, c.Port, c.Service, c.User, c.Password, nil)
}

// EZConnect is the form handed to the command-line client.
func (c ConnectInfo) EZConnect() string {
	return fmt.Sprintf("%s/%s@%s:%d/%s", c.User, c.Password, c.Host, c.Port, c.Service)
}
