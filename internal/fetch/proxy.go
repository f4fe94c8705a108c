package fetch

import (
	"net/http"
	"net/url"

	"golang.org/x/net/http/httpproxy"

	"github.com/GriffinCanCode/AgentOS/fetchbridge/internal/shared/types"
)

type proxyRule func(*url.URL) (*url.URL, error)

// proxyFunc builds a transport proxy function from the descriptor. Rules are
// tried in all, http, https order and the first one that applies to the
// request wins.
func proxyFunc(p *types.Proxy) (func(*http.Request) (*url.URL, error), error) {
	var rules []proxyRule

	add := func(entry *types.ProxyEntry, forHTTP, forHTTPS bool) error {
		if entry == nil {
			return nil
		}
		rule, err := newProxyRule(entry, forHTTP, forHTTPS)
		if err != nil {
			return err
		}
		rules = append(rules, rule)
		return nil
	}

	if err := add(p.All, true, true); err != nil {
		return nil, err
	}
	if err := add(p.HTTP, true, false); err != nil {
		return nil, err
	}
	if err := add(p.HTTPS, false, true); err != nil {
		return nil, err
	}

	return func(req *http.Request) (*url.URL, error) {
		for _, rule := range rules {
			proxy, err := rule(req.URL)
			if err != nil {
				return nil, err
			}
			if proxy != nil {
				return proxy, nil
			}
		}
		return nil, nil
	}, nil
}

func newProxyRule(entry *types.ProxyEntry, forHTTP, forHTTPS bool) (proxyRule, error) {
	proxyURL, err := parseProxyURL(entry)
	if err != nil {
		return nil, err
	}

	cfg := httpproxy.Config{NoProxy: entry.NoProxy}
	if forHTTP {
		cfg.HTTPProxy = proxyURL.String()
	}
	if forHTTPS {
		cfg.HTTPSProxy = proxyURL.String()
	}
	return cfg.ProxyFunc(), nil
}

func parseProxyURL(entry *types.ProxyEntry) (*url.URL, error) {
	const op = "proxy"

	u, err := url.Parse(entry.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		// Bare host:port means an HTTP proxy.
		u, err = url.Parse("http://" + entry.URL)
		if err != nil {
			return nil, newError(KindProxyConfig, op, err)
		}
	}

	switch u.Scheme {
	case "http", "https", "socks5", "socks5h":
	default:
		return nil, errorf(KindProxyConfig, op, "unsupported proxy scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, errorf(KindProxyConfig, op, "missing proxy host in %q", entry.URL)
	}

	if entry.BasicAuth != nil {
		u.User = url.UserPassword(entry.BasicAuth.Username, entry.BasicAuth.Password)
	}
	return u, nil
}
